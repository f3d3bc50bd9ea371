// Package interfaces holds the narrow contracts the engine consumes from its
// external collaborators: the legacy revlog being imported and the key-value
// store backing the content-addressed blob store.
package interfaces

import (
	"context"

	"github.com/i5heu/revstream/pkg/types"
)

// EntryType is the closed set of manifest entry kinds. Trees and the file
// subtypes are dispatched over this, there is no open-ended polymorphism.
type EntryType int

const (
	EntryTree EntryType = iota
	EntryFile
	EntryExecutable
	EntrySymlink
)

func (t EntryType) String() string {
	switch t {
	case EntryTree:
		return "tree"
	case EntryFile:
		return "file"
	case EntryExecutable:
		return "executable"
	case EntrySymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// IsTree reports whether the entry is a subtree rather than a file revision.
func (t EntryType) IsTree() bool {
	return t == EntryTree
}

// RevlogChangeset is one changeset record as stored in the legacy log: the
// changeset-DAG parents plus the parsed content fields.
type RevlogChangeset struct {
	Node   types.Hash
	P1     types.Hash // NullHash if absent
	P2     types.Hash // NullHash if absent
	Fields *types.Changeset
}

// Manifest is one manifest revision as stored in the legacy log.
type Manifest struct {
	Node    types.Hash
	P1      types.Hash
	P2      types.Hash
	Content []byte
}

// RevlogEntry is one tree or file revision reachable from a manifest.
type RevlogEntry struct {
	Path    string
	Type    EntryType
	Node    types.Hash
	P1      types.Hash
	P2      types.Hash
	Content []byte
}

// RevlogRepo is everything the import pipeline needs from the legacy log. The
// log's on-disk layout is not this engine's concern.
type RevlogRepo interface {
	// Changesets enumerates all changeset identifiers in original source
	// order.
	Changesets(ctx context.Context) ([]types.Hash, error)
	GetChangeset(ctx context.Context, id types.Hash) (*RevlogChangeset, error)
	GetRootManifest(ctx context.Context, mfid types.Hash) (*Manifest, error)
	GetEntry(ctx context.Context, path string, node types.Hash) (*RevlogEntry, error)
}

// KeyValStore is the contract the blob store requires from its backing
// storage: hash-keyed put/get with read-your-own-writes. Durability is the
// implementation's concern.
type KeyValStore interface {
	Write(key, content []byte) error
	Read(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Close() error
}
