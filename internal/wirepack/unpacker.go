package wirepack

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/i5heu/revstream/pkg/delta"
	"github.com/i5heu/revstream/pkg/types"
)

// Record is one decoded tree-pack record. Exactly one of the optional fields
// is set, according to Kind; End has none.
type Record struct {
	Kind       byte
	Path       string
	EntryCount uint32
	History    *HistoryEntry
	Data       *DataEntry
}

// IsEnd reports whether this record terminates the stream.
func (r *Record) IsEnd() bool {
	return r.Kind == RecordEnd
}

// Unpacker reads a tree-pack record stream back.
type Unpacker struct {
	r io.Reader
}

func NewUnpacker(r io.Reader) *Unpacker {
	return &Unpacker{r: r}
}

// Next returns the next record. The End record is returned like any other;
// reading past it is an error in the caller.
func (u *Unpacker) Next() (*Record, error) {
	var kind [1]byte
	if _, err := io.ReadFull(u.r, kind[:]); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("tree pack truncated: missing end record")
		}
		return nil, err
	}

	switch kind[0] {
	case RecordEnd:
		return &Record{Kind: RecordEnd}, nil
	case RecordHistoryMeta, RecordDataMeta:
		path, count, err := u.readMeta()
		if err != nil {
			return nil, err
		}
		return &Record{Kind: kind[0], Path: path, EntryCount: count}, nil
	case RecordHistory:
		entry, err := u.readHistory()
		if err != nil {
			return nil, err
		}
		return &Record{Kind: RecordHistory, History: entry}, nil
	case RecordData:
		entry, err := u.readData()
		if err != nil {
			return nil, err
		}
		return &Record{Kind: RecordData, Data: entry}, nil
	default:
		return nil, fmt.Errorf("unknown tree pack record kind %d", kind[0])
	}
}

func (u *Unpacker) readMeta() (string, uint32, error) {
	var u16 [2]byte
	if _, err := io.ReadFull(u.r, u16[:]); err != nil {
		return "", 0, fmt.Errorf("tree pack meta truncated: %w", err)
	}
	path := make([]byte, binary.BigEndian.Uint16(u16[:]))
	if _, err := io.ReadFull(u.r, path); err != nil {
		return "", 0, fmt.Errorf("tree pack meta truncated: %w", err)
	}
	var u32 [4]byte
	if _, err := io.ReadFull(u.r, u32[:]); err != nil {
		return "", 0, fmt.Errorf("tree pack meta truncated: %w", err)
	}
	return string(path), binary.BigEndian.Uint32(u32[:]), nil
}

func (u *Unpacker) readHistory() (*HistoryEntry, error) {
	var body [4 * types.HashSize]byte
	if _, err := io.ReadFull(u.r, body[:]); err != nil {
		return nil, fmt.Errorf("tree pack history record truncated: %w", err)
	}

	var e HistoryEntry
	e.Node, _ = types.HashFromBytes(body[0:20])
	e.P1, _ = types.HashFromBytes(body[20:40])
	e.P2, _ = types.HashFromBytes(body[40:60])
	e.Linknode, _ = types.HashFromBytes(body[60:80])

	var u16 [2]byte
	if _, err := io.ReadFull(u.r, u16[:]); err != nil {
		return nil, fmt.Errorf("tree pack history record truncated: %w", err)
	}
	copyFrom := make([]byte, binary.BigEndian.Uint16(u16[:]))
	if _, err := io.ReadFull(u.r, copyFrom); err != nil {
		return nil, fmt.Errorf("tree pack history record truncated: %w", err)
	}
	e.CopyFrom = string(copyFrom)
	return &e, nil
}

func (u *Unpacker) readData() (*DataEntry, error) {
	var body [2 * types.HashSize]byte
	if _, err := io.ReadFull(u.r, body[:]); err != nil {
		return nil, fmt.Errorf("tree pack data record truncated: %w", err)
	}

	var e DataEntry
	e.Node, _ = types.HashFromBytes(body[0:20])
	e.DeltaBase, _ = types.HashFromBytes(body[20:40])

	var u32 [4]byte
	if _, err := io.ReadFull(u.r, u32[:]); err != nil {
		return nil, fmt.Errorf("tree pack data record truncated: %w", err)
	}
	payload := make([]byte, binary.BigEndian.Uint32(u32[:]))
	if _, err := io.ReadFull(u.r, payload); err != nil {
		return nil, fmt.Errorf("tree pack data record truncated: %w", err)
	}

	d, err := delta.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("error decoding delta for %s: %w", e.Node, err)
	}
	e.Delta = d
	return &e, nil
}
