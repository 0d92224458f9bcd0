package txn

import (
	"context"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tessera/pkg/errors"
	"github.com/ajitpratap0/tessera/pkg/fsx"
)

// Recover scans tempDir for transaction directories targeting the given
// cube and finishes them: committed transactions get their cleanup
// completed, uncommitted ones are rolled back. It reports whether any
// rollback ran, in which case the caller also removes the stale lock.
func Recover(ctx context.Context, tempDir, target *fsx.FileObj, log *zap.Logger) (bool, error) {
	ok, err := tempDir.Exists(ctx)
	if err != nil || !ok {
		return false, err
	}
	names, err := tempDir.List(ctx)
	if err != nil {
		return false, err
	}

	rolledBack := false
	for _, name := range names {
		if !IsTransactionDir(name) {
			continue
		}
		dir := tempDir.Join(name)
		manifest, err := loadManifest(ctx, dir)
		if err != nil {
			log.Warn("skipping unreadable transaction directory",
				zap.String("dir", dir.URI()), zap.Error(err))
			continue
		}
		if manifest == nil || manifest.TargetURI != target.URI() {
			continue
		}

		committed, err := IsCommitted(ctx, dir)
		if err != nil {
			return rolledBack, err
		}
		if committed {
			log.Info("completing cleanup of committed transaction",
				zap.String("id", manifest.ID))
			if err := dir.DeleteIfExists(ctx, true); err != nil {
				return rolledBack, err
			}
			continue
		}

		log.Warn("rolling back interrupted transaction",
			zap.String("id", manifest.ID), zap.String("kind", string(manifest.Kind)))
		if errs := rollbackDir(ctx, dir, target, manifest.Kind, log); len(errs) > 0 {
			return rolledBack, errors.AttachNotes(
				errors.Newf(errors.ErrorTypeTransaction,
					"rollback of transaction %s failed", manifest.ID),
				errorNotes(errs)...)
		}
		if err := dir.DeleteIfExists(ctx, true); err != nil {
			return rolledBack, err
		}
		rolledBack = true
	}
	return rolledBack, nil
}

// Discard removes every transaction directory targeting the given cube
// without applying it. Used by force_new after the cube itself has been
// destroyed, when journals have nothing left to restore.
func Discard(ctx context.Context, tempDir, target *fsx.FileObj, log *zap.Logger) error {
	ok, err := tempDir.Exists(ctx)
	if err != nil || !ok {
		return err
	}
	names, err := tempDir.List(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		if !IsTransactionDir(name) {
			continue
		}
		dir := tempDir.Join(name)
		manifest, err := loadManifest(ctx, dir)
		if err != nil || manifest == nil || manifest.TargetURI != target.URI() {
			continue
		}
		log.Warn("discarding transaction journal", zap.String("id", manifest.ID))
		if err := dir.DeleteIfExists(ctx, true); err != nil {
			return err
		}
	}
	return nil
}

func loadManifest(ctx context.Context, dir *fsx.FileObj) (*Manifest, error) {
	manifestFile := dir.Join(ManifestFile)
	ok, err := manifestFile.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	data, err := manifestFile.Read(ctx)
	if err != nil {
		return nil, err
	}
	var manifest Manifest
	if err := gojson.Unmarshal(data, &manifest); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTransaction, "corrupt manifest")
	}
	return &manifest, nil
}

// errorNotes renders collected rollback failures for error attachment.
func errorNotes(errs []error) []string {
	notes := make([]string, len(errs))
	for i, err := range errs {
		notes[i] = "rollback: " + err.Error()
	}
	return notes
}

// Notes exports errorNotes for callers that collect rollback failures
// themselves.
func Notes(errs []error) []string {
	return errorNotes(errs)
}
