package fsx

import (
	"context"
	"errors"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// gsFS serves gs://bucket/key URIs. Like s3, moves are copy+delete.
type gsFS struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
}

func newGSBackend(rest string, options map[string]string) (FS, string, error) {
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return nil, "", ioErrorf("open", rest, "gs URI is missing a bucket: gs://%s", rest)
	}

	var opts []option.ClientOption
	if credFile := options["credentials_file"]; credFile != "" {
		opts = append(opts, option.WithCredentialsFile(credFile))
	}
	if endpoint := options["endpoint"]; endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	client, err := storage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, "", ioError("open", rest, err)
	}

	return &gsFS{client: client, bucket: client.Bucket(bucket), name: bucket}, key, nil
}

func (f *gsFS) Protocol() string { return "gs" }

func (f *gsFS) AtomicMove() bool { return false }

func (f *gsFS) Exists(ctx context.Context, path string) (bool, error) {
	path = NormalizePath(path)
	_, err := f.bucket.Object(path).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, storage.ErrObjectNotExist) {
		return false, ioError("exists", path, err)
	}
	return f.hasPrefix(ctx, path)
}

func (f *gsFS) hasPrefix(ctx context.Context, path string) (bool, error) {
	it := f.bucket.Objects(ctx, &storage.Query{Prefix: path + "/"})
	_, err := it.Next()
	if err == nil {
		return true, nil
	}
	if errors.Is(err, iterator.Done) {
		return false, nil
	}
	return false, ioError("exists", path, err)
}

func (f *gsFS) IsDir(ctx context.Context, path string) (bool, error) {
	path = NormalizePath(path)
	_, err := f.bucket.Object(path).Attrs(ctx)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, storage.ErrObjectNotExist) {
		return false, ioError("is_dir", path, err)
	}
	return f.hasPrefix(ctx, path)
}

func (f *gsFS) List(ctx context.Context, path string) ([]string, error) {
	path = NormalizePath(path)
	prefix := ""
	if path != "" {
		prefix = path + "/"
	}
	it := f.bucket.Objects(ctx, &storage.Query{Prefix: prefix, Delimiter: "/"})
	seen := map[string]bool{}
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, ioError("list", path, err)
		}
		if attrs.Prefix != "" {
			seen[strings.TrimSuffix(strings.TrimPrefix(attrs.Prefix, prefix), "/")] = true
		} else {
			seen[strings.TrimPrefix(attrs.Name, prefix)] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		if name != "" {
			names = append(names, name)
		}
	}
	return sortedNames(names), nil
}

func (f *gsFS) Read(ctx context.Context, path string) ([]byte, error) {
	path = NormalizePath(path)
	r, err := f.bucket.Object(path).NewReader(ctx)
	if err != nil {
		return nil, ioError("read", path, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, ioError("read", path, err)
	}
	return data, nil
}

func (f *gsFS) Write(ctx context.Context, path string, data []byte, overwrite bool) error {
	path = NormalizePath(path)
	obj := f.bucket.Object(path)
	if !overwrite {
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	}
	w := obj.NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return ioError("write", path, err)
	}
	if err := w.Close(); err != nil {
		if !overwrite {
			return ioErrorf("write", path, "path already exists: %s", path).
				WithDetail("exists", true)
		}
		return ioError("write", path, err)
	}
	return nil
}

func (f *gsFS) Delete(ctx context.Context, path string, recursive bool) error {
	path = NormalizePath(path)
	if ok, err := f.Exists(ctx, path); err != nil {
		return err
	} else if !ok {
		return ioErrorf("delete", path, "no such path: %s", path)
	}
	if recursive {
		it := f.bucket.Objects(ctx, &storage.Query{Prefix: path + "/"})
		for {
			attrs, err := it.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				return ioError("delete", path, err)
			}
			if err := f.bucket.Object(attrs.Name).Delete(ctx); err != nil {
				return ioError("delete", attrs.Name, err)
			}
		}
	}
	if err := f.bucket.Object(path).Delete(ctx); err != nil {
		if recursive && errors.Is(err, storage.ErrObjectNotExist) {
			return nil
		}
		return ioError("delete", path, err)
	}
	return nil
}

func (f *gsFS) Move(ctx context.Context, src, dst string) error {
	src = NormalizePath(src)
	dst = NormalizePath(dst)
	copier := f.bucket.Object(dst).CopierFrom(f.bucket.Object(src))
	if _, err := copier.Run(ctx); err != nil {
		return ioError("move", src, err)
	}
	if err := f.bucket.Object(src).Delete(ctx); err != nil {
		return ioError("move", src, err)
	}
	return nil
}
