// Package txn provides crash-safe transaction journalling for cube
// mutations. A transaction is a directory under the configured temp
// location holding a manifest, an ordered set of action records with
// inverse information, backup copies, and finally a commit marker.
//
// Until the commit marker exists, the journal suffices to restore the
// cube to its pre-transaction state; once the marker exists, rollback is
// forbidden and only cleanup remains. Rollback is idempotent: missing
// paths and already-restored backups are non-errors, so a rollback
// interrupted by a second crash can simply run again.
package txn

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/ajitpratap0/tessera/pkg/fsx"
)

// Kind discriminates what the transaction does to the cube.
type Kind string

const (
	// KindCreate materializes a new cube; rollback deletes it.
	KindCreate Kind = "CREATE"
	// KindAppend extends an existing cube; rollback restores the
	// journalled pre-state.
	KindAppend Kind = "APPEND"
)

// File names inside a transaction directory.
const (
	ManifestFile = "manifest.json"
	ActionsDir   = "actions"
	BackupsDir   = "backups"
	CommitMarker = "__committed__"
)

// Manifest records the transaction's intent and the cube's
// pre-transaction fingerprint.
type Manifest struct {
	ID        string `json:"id"`
	Kind      Kind   `json:"kind"`
	TargetURI string `json:"target_uri"`
	// AppendLengths is the pre-transaction append-axis length per
	// variable; empty for CREATE, which declares the cube absent.
	AppendLengths map[string]int `json:"append_lengths,omitempty"`
}

// ActionType classifies one journalled mutation.
type ActionType string

const (
	// ActionAdded records a path created by the transaction; the
	// inverse is deletion.
	ActionAdded ActionType = "ADDED"
	// ActionReplaced records an overwritten file with its backup; the
	// inverse restores the backup.
	ActionReplaced ActionType = "REPLACED"
	// ActionDeleted records a removed file with its backup; the inverse
	// restores the backup.
	ActionDeleted ActionType = "DELETED"
)

// Action is one journalled mutation with its inverse information. Path
// is relative to the target directory; Backup names a file in the
// transaction's backups directory.
type Action struct {
	Seq    int        `json:"seq"`
	Type   ActionType `json:"action"`
	Path   string     `json:"path"`
	Backup string     `json:"backup,omitempty"`
}

// actionFileName renders a sequence number as a sortable record name.
func actionFileName(seq int) string {
	return fmt.Sprintf("%08d.json", seq)
}

// newTransactionID returns a fresh transaction identifier.
func newTransactionID() string {
	return uuid.NewString()
}

// IsTransactionDir reports whether the directory entry under temp looks
// like a transaction directory (it parses as a UUID).
func IsTransactionDir(name string) bool {
	_, err := uuid.Parse(name)
	return err == nil
}

// relativeTo renders target-relative paths for journal records so that a
// recovery run in a different process can resolve them again.
func relativeTo(target *fsx.FileObj, obj *fsx.FileObj) string {
	targetPath := target.Path()
	objPath := obj.Path()
	if objPath == targetPath {
		return "."
	}
	prefix := targetPath + "/"
	if len(objPath) > len(prefix) && objPath[:len(prefix)] == prefix {
		return objPath[len(prefix):]
	}
	return objPath
}

// resolve maps a journalled path back to a file object under target.
func resolve(target *fsx.FileObj, rel string) *fsx.FileObj {
	if rel == "." {
		return target
	}
	return target.Join(rel)
}
