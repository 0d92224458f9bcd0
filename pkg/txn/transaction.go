package txn

import (
	"context"
	"fmt"
	"sort"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tessera/pkg/errors"
	"github.com/ajitpratap0/tessera/pkg/fsx"
)

// Transaction journals mutations of one cube until commit or rollback.
type Transaction struct {
	id       string
	kind     Kind
	dir      *fsx.FileObj
	target   *fsx.FileObj
	log      *zap.Logger
	seq      int
	disabled bool
	done     bool
}

// Begin opens a new transaction directory under tempDir and writes its
// manifest. With journalling disabled the transaction records nothing
// and rollback becomes a no-op; failures then leave the cube in an
// undefined state, which is an explicit user opt-out.
func Begin(ctx context.Context, tempDir, target *fsx.FileObj, kind Kind,
	appendLengths map[string]int, disabled bool, log *zap.Logger) (*Transaction, error) {

	t := &Transaction{
		id:       newTransactionID(),
		kind:     kind,
		target:   target,
		log:      log,
		disabled: disabled,
	}
	t.dir = tempDir.Join(t.id)
	if disabled {
		t.log.Warn("rollback disabled; failures will leave the target undefined")
		return t, nil
	}

	manifest, err := gojson.MarshalIndent(Manifest{
		ID:            t.id,
		Kind:          kind,
		TargetURI:     target.URI(),
		AppendLengths: appendLengths,
	}, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "cannot encode manifest")
	}
	if err := t.dir.Join(ManifestFile).Write(ctx, manifest, false); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTransaction, "cannot open transaction")
	}
	t.log.Debug("transaction opened",
		zap.String("id", t.id), zap.String("kind", string(kind)))
	return t, nil
}

// ID returns the transaction identifier.
func (t *Transaction) ID() string { return t.id }

// Dir returns the transaction directory.
func (t *Transaction) Dir() *fsx.FileObj { return t.dir }

// record writes one action record.
func (t *Transaction) record(ctx context.Context, action Action) error {
	if t.disabled {
		return nil
	}
	t.seq++
	action.Seq = t.seq
	data, err := gojson.Marshal(action)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "cannot encode action record")
	}
	if err := t.dir.Join(ActionsDir, actionFileName(t.seq)).Write(ctx, data, false); err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransaction, "cannot journal action")
	}
	return nil
}

// saveBackup stores data as a numbered backup file and returns its name.
func (t *Transaction) saveBackup(ctx context.Context, data []byte) (string, error) {
	name := fmt.Sprintf("%08d.bak", t.seq+1)
	if err := t.dir.Join(BackupsDir, name).Write(ctx, data, false); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeTransaction, "cannot save backup")
	}
	return name, nil
}

// TrackAdd journals that obj will be created by this transaction. Call
// before writing the path.
func (t *Transaction) TrackAdd(ctx context.Context, obj *fsx.FileObj) error {
	return t.record(ctx, Action{Type: ActionAdded, Path: relativeTo(t.target, obj)})
}

// TrackReplace journals that obj's current content will be overwritten,
// saving a backup copy first. On backends without an atomic move the
// record decomposes into an ADDED/DELETED pair, which rolls back to the
// same state without requiring an atomic swap.
func (t *Transaction) TrackReplace(ctx context.Context, obj *fsx.FileObj) error {
	if t.disabled {
		return nil
	}
	original, err := obj.Read(ctx)
	if err != nil {
		return err
	}
	backup, err := t.saveBackup(ctx, original)
	if err != nil {
		return err
	}
	rel := relativeTo(t.target, obj)
	if !t.target.FS().AtomicMove() {
		if err := t.record(ctx, Action{Type: ActionDeleted, Path: rel, Backup: backup}); err != nil {
			return err
		}
		return t.record(ctx, Action{Type: ActionAdded, Path: rel})
	}
	return t.record(ctx, Action{Type: ActionReplaced, Path: rel, Backup: backup})
}

// TrackDelete journals that obj will be removed, saving a backup copy
// first. Call before deleting the path.
func (t *Transaction) TrackDelete(ctx context.Context, obj *fsx.FileObj) error {
	if t.disabled {
		return nil
	}
	original, err := obj.Read(ctx)
	if err != nil {
		return err
	}
	backup, err := t.saveBackup(ctx, original)
	if err != nil {
		return err
	}
	return t.record(ctx, Action{Type: ActionDeleted, Path: relativeTo(t.target, obj), Backup: backup})
}

// Commit writes the commit marker, then removes the transaction
// directory. Once the marker is durable the transaction has logically
// completed; a crash during cleanup is finished by the next run.
func (t *Transaction) Commit(ctx context.Context) error {
	if t.done {
		return errors.New(errors.ErrorTypeInternal, "transaction already finished")
	}
	t.done = true
	if t.disabled {
		return nil
	}
	if err := t.dir.Join(CommitMarker).Write(ctx, []byte(t.id), false); err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransaction, "cannot write commit marker")
	}
	t.log.Debug("transaction committed", zap.String("id", t.id))
	// Cleanup after the marker is best-effort.
	if err := t.dir.DeleteIfExists(ctx, true); err != nil {
		t.log.Warn("failed to clean up transaction directory",
			zap.String("dir", t.dir.URI()), zap.Error(err))
	}
	return nil
}

// Rollback restores the cube to its pre-transaction state and removes
// the transaction directory. It is safe to call on a transaction that
// journalled nothing, and safe to re-run. Failures are collected; the
// returned slice is empty on success.
func (t *Transaction) Rollback(ctx context.Context) []error {
	t.done = true
	if t.disabled {
		return nil
	}
	errs := rollbackDir(ctx, t.dir, t.target, t.kind, t.log)
	if err := t.dir.DeleteIfExists(ctx, true); err != nil {
		errs = append(errs, err)
	}
	return errs
}

// IsCommitted reports whether the commit marker exists for the
// transaction directory dir.
func IsCommitted(ctx context.Context, dir *fsx.FileObj) (bool, error) {
	return dir.Join(CommitMarker).Exists(ctx)
}

// rollbackDir applies a journal in reverse. CREATE transactions delete
// the whole target instead of replaying records.
func rollbackDir(ctx context.Context, dir, target *fsx.FileObj, kind Kind, log *zap.Logger) []error {
	var errs []error

	if kind == KindCreate {
		if err := target.DeleteIfExists(ctx, true); err != nil {
			errs = append(errs, err)
		}
		return errs
	}

	actions, err := loadActions(ctx, dir)
	if err != nil {
		return append(errs, err)
	}

	for i := len(actions) - 1; i >= 0; i-- {
		action := actions[i]
		log.Debug("rolling back",
			zap.String("action", string(action.Type)), zap.String("path", action.Path))
		obj := resolve(target, action.Path)
		switch action.Type {
		case ActionAdded:
			if err := obj.DeleteIfExists(ctx, true); err != nil {
				errs = append(errs, err)
			}
		case ActionReplaced, ActionDeleted:
			backup := dir.Join(BackupsDir, action.Backup)
			ok, err := backup.Exists(ctx)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if !ok {
				continue // already restored by an earlier rollback run
			}
			data, err := backup.Read(ctx)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if err := obj.Write(ctx, data, true); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errs
}

// loadActions reads the journalled actions of dir in sequence order. A
// directory with no actions yields an empty journal.
func loadActions(ctx context.Context, dir *fsx.FileObj) ([]Action, error) {
	actionsDir := dir.Join(ActionsDir)
	ok, err := actionsDir.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	names, err := actionsDir.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	actions := make([]Action, 0, len(names))
	for _, name := range names {
		data, err := actionsDir.Join(name).Read(ctx)
		if err != nil {
			return nil, err
		}
		var action Action
		if err := gojson.Unmarshal(data, &action); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeTransaction, "corrupt action record").
				WithDetail("record", name)
		}
		actions = append(actions, action)
	}
	return actions, nil
}
