// Package wirepack implements the tree-pack record stream: per path a
// history record and a data record, the data record carrying a fulltext delta
// of the path's content.
package wirepack

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/i5heu/revstream/pkg/delta"
	"github.com/i5heu/revstream/pkg/types"
)

// Record kind tags on the wire.
const (
	RecordEnd byte = iota
	RecordHistoryMeta
	RecordHistory
	RecordDataMeta
	RecordData
)

// HistoryEntry links one tree revision to its parents and the changeset that
// introduced it. Trees never carry copy metadata, so CopyFrom stays empty for
// them.
type HistoryEntry struct {
	Node     types.Hash
	P1       types.Hash
	P2       types.Hash
	Linknode types.Hash
	CopyFrom string
}

// DataEntry carries one revision's content as a delta. DeltaBase is the null
// sentinel for fulltexts.
type DataEntry struct {
	Node      types.Hash
	DeltaBase types.Hash
	Delta     delta.Delta
}

// Packer writes a tree-pack record stream.
type Packer struct {
	w io.Writer
}

func NewPacker(w io.Writer) *Packer {
	return &Packer{w: w}
}

func (p *Packer) writeMeta(kind byte, path string, entryCount uint32) error {
	if len(path) > 0xFFFF {
		return fmt.Errorf("tree pack path too long: %d bytes", len(path))
	}
	var buf bytes.Buffer
	buf.WriteByte(kind)
	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], uint16(len(path)))
	buf.Write(u16[:])
	buf.WriteString(path)
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], entryCount)
	buf.Write(u32[:])
	_, err := p.w.Write(buf.Bytes())
	return err
}

// WriteHistoryMeta opens the history records for path. Path "" is the root
// tree.
func (p *Packer) WriteHistoryMeta(path string, entryCount uint32) error {
	return p.writeMeta(RecordHistoryMeta, path, entryCount)
}

func (p *Packer) WriteHistory(e *HistoryEntry) error {
	if len(e.CopyFrom) > 0xFFFF {
		return fmt.Errorf("tree pack copy source too long: %d bytes", len(e.CopyFrom))
	}
	var buf bytes.Buffer
	buf.WriteByte(RecordHistory)
	buf.Write(e.Node.Bytes())
	buf.Write(e.P1.Bytes())
	buf.Write(e.P2.Bytes())
	buf.Write(e.Linknode.Bytes())
	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], uint16(len(e.CopyFrom)))
	buf.Write(u16[:])
	buf.WriteString(e.CopyFrom)
	_, err := p.w.Write(buf.Bytes())
	return err
}

func (p *Packer) WriteDataMeta(path string, entryCount uint32) error {
	return p.writeMeta(RecordDataMeta, path, entryCount)
}

func (p *Packer) WriteData(e *DataEntry) error {
	var payload bytes.Buffer
	if err := delta.Encode(&payload, e.Delta); err != nil {
		return fmt.Errorf("error encoding delta for %s: %w", e.Node, err)
	}

	var buf bytes.Buffer
	buf.WriteByte(RecordData)
	buf.Write(e.Node.Bytes())
	buf.Write(e.DeltaBase.Bytes())
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], uint32(payload.Len()))
	buf.Write(u32[:])
	buf.Write(payload.Bytes())
	_, err := p.w.Write(buf.Bytes())
	return err
}

// WriteEnd terminates the record stream.
func (p *Packer) WriteEnd() error {
	_, err := p.w.Write([]byte{RecordEnd})
	return err
}
