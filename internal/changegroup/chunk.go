// Package changegroup implements the wire grouping of changeset, manifest and
// file deltas exchanged between peers: the chunk framing, the packer that
// writes a stream and the decoder that turns a stream back into canonical
// objects.
package changegroup

import (
	"github.com/i5heu/revstream/pkg/delta"
	"github.com/i5heu/revstream/pkg/types"
)

// DeltaChunk is one wire unit. Base names the prior node the delta is encoded
// against, NullHash meaning "fulltext against empty input". Linknode is the
// changeset that introduced this revision; for a changeset chunk it must
// equal Node.
type DeltaChunk struct {
	Node     types.Hash
	P1       types.Hash
	P2       types.Hash
	Base     types.Hash
	Linknode types.Hash
	Delta    delta.Delta
}

// FulltextChunk encodes a canonical object as a standalone chunk: base is the
// null sentinel and linknode equals the node, which is the shape the outbound
// changegroup part emits.
func FulltextChunk(node types.Hash, blob *types.BlobNode) DeltaChunk {
	p1, p2 := types.NullHash, types.NullHash
	if blob.P1 != nil {
		p1 = *blob.P1
	}
	if blob.P2 != nil {
		p2 = *blob.P2
	}
	return DeltaChunk{
		Node:     node,
		P1:       p1,
		P2:       p2,
		Base:     types.NullHash,
		Linknode: node,
		Delta:    delta.NewFulltext(blob.Content),
	}
}

// Section identifies which part of a changegroup stream a chunk belongs to.
type Section int

const (
	SectionChangeset Section = iota
	SectionManifest
	SectionFilelog
)

func (s Section) String() string {
	switch s {
	case SectionChangeset:
		return "changeset"
	case SectionManifest:
		return "manifest"
	case SectionFilelog:
		return "filelog"
	default:
		return "unknown"
	}
}
