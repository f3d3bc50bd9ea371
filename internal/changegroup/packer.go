package changegroup

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/i5heu/revstream/pkg/delta"
)

// Wire framing: every element is a big-endian uint32 length covering the
// whole element including the length word itself, followed by the element
// body. A bare zero length word terminates the enclosing section. Delta
// chunks carry five node hashes (node, p1, p2, base, linknode) and then the
// delta fragments; filelog sections open with an element whose body is the
// file path.

const chunkHeaderSize = 4 + 5*20

// Packer serializes a changegroup stream.
type Packer struct {
	w io.Writer
}

func NewPacker(w io.Writer) *Packer {
	return &Packer{w: w}
}

func (p *Packer) WriteChunk(c *DeltaChunk) error {
	var payload bytes.Buffer
	if err := delta.Encode(&payload, c.Delta); err != nil {
		return fmt.Errorf("error encoding delta for %s: %w", c.Node, err)
	}

	var hdr [chunkHeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(chunkHeaderSize+payload.Len()))
	copy(hdr[4:24], c.Node.Bytes())
	copy(hdr[24:44], c.P1.Bytes())
	copy(hdr[44:64], c.P2.Bytes())
	copy(hdr[64:84], c.Base.Bytes())
	copy(hdr[84:104], c.Linknode.Bytes())

	if _, err := p.w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := p.w.Write(payload.Bytes())
	return err
}

// WriteFilename opens a filelog section for path.
func (p *Packer) WriteFilename(path string) error {
	if path == "" {
		return fmt.Errorf("filelog section path must not be empty")
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(4+len(path)))
	if _, err := p.w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := io.WriteString(p.w, path)
	return err
}

// WriteSectionEnd terminates the current section. The stream itself ends with
// a section end written where the next filelog section name would go.
func (p *Packer) WriteSectionEnd() error {
	var zero [4]byte
	_, err := p.w.Write(zero[:])
	return err
}
