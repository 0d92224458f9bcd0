package fsx

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// s3FS serves s3://bucket/key URIs. Keys are the backend paths, with the
// bucket fixed per backend instance. Move is copy+delete and therefore
// not atomic; the journal decomposes replacements on this backend.
type s3FS struct {
	client *s3.Client
	bucket string
}

func newS3Backend(rest string, options map[string]string) (FS, string, error) {
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return nil, "", ioErrorf("open", rest, "s3 URI is missing a bucket: s3://%s", rest)
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if region := options["region"]; region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, "", ioError("open", rest, err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint := options["endpoint"]; endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &s3FS{client: client, bucket: bucket}, key, nil
}

func (f *s3FS) Protocol() string { return "s3" }

func (f *s3FS) AtomicMove() bool { return false }

func (f *s3FS) Exists(ctx context.Context, path string) (bool, error) {
	path = NormalizePath(path)
	_, err := f.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(path),
	})
	if err == nil {
		return true, nil
	}
	// Fall back to a prefix probe: a "directory" exists when any key
	// lives under it.
	return f.hasPrefix(ctx, path)
}

func (f *s3FS) hasPrefix(ctx context.Context, path string) (bool, error) {
	out, err := f.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(f.bucket),
		Prefix:  aws.String(path + "/"),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, ioError("exists", path, err)
	}
	return len(out.Contents) > 0 || len(out.CommonPrefixes) > 0, nil
}

func (f *s3FS) IsDir(ctx context.Context, path string) (bool, error) {
	path = NormalizePath(path)
	_, err := f.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(path),
	})
	if err == nil {
		return false, nil
	}
	return f.hasPrefix(ctx, path)
}

func (f *s3FS) List(ctx context.Context, path string) ([]string, error) {
	path = NormalizePath(path)
	prefix := ""
	if path != "" {
		prefix = path + "/"
	}
	seen := map[string]bool{}
	paginator := s3.NewListObjectsV2Paginator(f.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(f.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, ioError("list", path, err)
		}
		for _, obj := range page.Contents {
			seen[strings.TrimPrefix(aws.ToString(obj.Key), prefix)] = true
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimPrefix(aws.ToString(cp.Prefix), prefix)
			seen[strings.TrimSuffix(name, "/")] = true
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

func (f *s3FS) Read(ctx context.Context, path string) ([]byte, error) {
	path = NormalizePath(path)
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return nil, ioError("read", path, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, ioError("read", path, err)
	}
	return data, nil
}

func (f *s3FS) Write(ctx context.Context, path string, data []byte, overwrite bool) error {
	path = NormalizePath(path)
	input := &s3.PutObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(path),
		Body:   bytes.NewReader(data),
	}
	if !overwrite {
		// Conditional put makes create-if-absent a single operation.
		input.IfNoneMatch = aws.String("*")
	}
	if _, err := f.client.PutObject(ctx, input); err != nil {
		if !overwrite {
			return ioErrorf("write", path, "path already exists: %s", path).
				WithDetail("exists", true)
		}
		return ioError("write", path, err)
	}
	return nil
}

func (f *s3FS) Delete(ctx context.Context, path string, recursive bool) error {
	path = NormalizePath(path)
	if ok, err := f.Exists(ctx, path); err != nil {
		return err
	} else if !ok {
		return ioErrorf("delete", path, "no such path: %s", path)
	}
	if !recursive {
		if _, err := f.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(f.bucket),
			Key:    aws.String(path),
		}); err != nil {
			return ioError("delete", path, err)
		}
		return nil
	}
	paginator := s3.NewListObjectsV2Paginator(f.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(f.bucket),
		Prefix: aws.String(path + "/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return ioError("delete", path, err)
		}
		if len(page.Contents) == 0 {
			continue
		}
		objects := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			objects = append(objects, types.ObjectIdentifier{Key: obj.Key})
		}
		if _, err := f.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(f.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		}); err != nil {
			return ioError("delete", path, err)
		}
	}
	// The object itself, if present.
	if _, err := f.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(path),
	}); err != nil {
		return ioError("delete", path, err)
	}
	return nil
}

func (f *s3FS) Move(ctx context.Context, src, dst string) error {
	src = NormalizePath(src)
	dst = NormalizePath(dst)
	if _, err := f.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(f.bucket),
		CopySource: aws.String(f.bucket + "/" + src),
		Key:        aws.String(dst),
	}); err != nil {
		return ioError("move", src, err)
	}
	if _, err := f.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(src),
	}); err != nil {
		return ioError("move", src, err)
	}
	return nil
}
