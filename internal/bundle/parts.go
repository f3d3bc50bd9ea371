package bundle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/i5heu/revstream/internal/changegroup"
	"github.com/i5heu/revstream/internal/wirepack"
	"github.com/i5heu/revstream/pkg/delta"
	"github.com/i5heu/revstream/pkg/types"
)

// ErrListkeyGeneration marks failures while producing a listkeys payload.
var ErrListkeyGeneration = errors.New("error while generating listkey part")

// KeyValue is one listkeys item.
type KeyValue struct {
	Key   string
	Value string
}

// ListkeyPart builds a listkeys part for one namespace. The payload is one
// line per item, key and value separated by a tab, which is why neither may
// contain a tab or newline.
func ListkeyPart(namespace string, items []KeyValue) *PartBuilder {
	b := NewPartBuilder(PartListkeys).AddParam("namespace", namespace)
	b.SetPayload(func(w io.Writer) error {
		for _, item := range items {
			if strings.ContainsAny(item.Key, "\t\n") {
				return fmt.Errorf("%w: key %q contains a separator", ErrListkeyGeneration, item.Key)
			}
			if strings.ContainsAny(item.Value, "\t\n") {
				return fmt.Errorf("%w: value for %q contains a separator", ErrListkeyGeneration, item.Key)
			}
			if _, err := fmt.Fprintf(w, "%s\t%s\n", item.Key, item.Value); err != nil {
				return fmt.Errorf("%w: %v", ErrListkeyGeneration, err)
			}
		}
		return nil
	})
	return b
}

// ChangegroupPart builds a changegroup part whose chunks are all fulltexts.
// changesets feed the changeset section; the manifest section and the filelog
// name list are closed empty, so the receiver sees a complete stream.
func ChangegroupPart(changesets []changegroup.NodeEntry) *PartBuilder {
	b := NewPartBuilder(PartChangegroup).AddParam("version", "02")
	b.SetPayload(func(w io.Writer) error {
		p := changegroup.NewPacker(w)
		for i := range changesets {
			chunk := changegroup.FulltextChunk(changesets[i].Node, changesets[i].Blob)
			if err := p.WriteChunk(&chunk); err != nil {
				return err
			}
		}
		if err := p.WriteSectionEnd(); err != nil {
			return err
		}
		// Empty manifest section, then the end of the filelog name list.
		if err := p.WriteSectionEnd(); err != nil {
			return err
		}
		return p.WriteSectionEnd()
	})
	return b
}

// DefaultTreepackLookAhead bounds how many tree fetches run ahead of the
// writer.
const DefaultTreepackLookAhead = 10000

// TreepackEntry is one tree revision to be packed.
type TreepackEntry struct {
	Path     string
	Node     types.Hash
	P1       types.Hash
	P2       types.Hash
	Linknode types.Hash
	Content  []byte
}

// TreepackFetch produces one entry when the writer gets to it.
type TreepackFetch func(ctx context.Context) (*TreepackEntry, error)

// TreepackPart builds a tree-pack part. Fetches run concurrently up to
// lookAhead ahead of the writer, but records are written strictly in input
// order. lookAhead zero or negative means DefaultTreepackLookAhead.
func TreepackPart(ctx context.Context, fetches []TreepackFetch, lookAhead int) *PartBuilder {
	if lookAhead <= 0 {
		lookAhead = DefaultTreepackLookAhead
	}

	b := NewPartBuilder(PartTreepack).
		AddParam("version", "1").
		AddParam("cache", "True").
		AddParam("category", "manifests")
	b.SetPayload(func(w io.Writer) error {
		type fetched struct {
			entry *TreepackEntry
			err   error
		}

		pending := make(chan chan fetched, lookAhead)
		fctx, cancel := context.WithCancel(ctx)
		defer cancel()

		go func() {
			defer close(pending)
			for _, fetch := range fetches {
				fetch := fetch
				ch := make(chan fetched, 1)
				select {
				case pending <- ch:
				case <-fctx.Done():
					return
				}
				go func() {
					entry, err := fetch(fctx)
					ch <- fetched{entry: entry, err: err}
				}()
			}
		}()

		p := wirepack.NewPacker(w)
		for ch := range pending {
			f := <-ch
			if f.err != nil {
				return fmt.Errorf("error generating tree pack: %w", f.err)
			}
			if err := writeTreepackEntry(p, f.entry); err != nil {
				return err
			}
		}
		return p.WriteEnd()
	})
	return b
}

func writeTreepackEntry(p *wirepack.Packer, e *TreepackEntry) error {
	if err := p.WriteHistoryMeta(e.Path, 1); err != nil {
		return err
	}
	err := p.WriteHistory(&wirepack.HistoryEntry{
		Node:     e.Node,
		P1:       e.P1,
		P2:       e.P2,
		Linknode: e.Linknode,
	})
	if err != nil {
		return err
	}
	if err := p.WriteDataMeta(e.Path, 1); err != nil {
		return err
	}
	return p.WriteData(&wirepack.DataEntry{
		Node:      e.Node,
		DeltaBase: types.NullHash,
		Delta:     delta.NewFulltext(e.Content),
	})
}

// ChangegroupApplyResult reports the outcome of applying a pushed
// changegroup. HeadsNumDiff is how the number of heads changed.
type ChangegroupApplyResult struct {
	Success      bool
	HeadsNumDiff int64
}

// String renders the result the way peers expect it: "0" for failure,
// otherwise the heads delta shifted by one away from zero so success is never
// rendered as "0".
func (r ChangegroupApplyResult) String() string {
	if !r.Success {
		return "0"
	}
	if r.HeadsNumDiff >= 0 {
		return strconv.FormatInt(1+r.HeadsNumDiff, 10)
	}
	return strconv.FormatInt(-1+r.HeadsNumDiff, 10)
}

// ReplyChangegroupPart acknowledges an applied changegroup part.
func ReplyChangegroupPart(result ChangegroupApplyResult, inReplyTo uint32) *PartBuilder {
	return NewPartBuilder(PartReplyChangegroup).
		AddParam("return", result.String()).
		AddParam("in-reply-to", strconv.FormatUint(uint64(inReplyTo), 10))
}

// ReplyPushkeyPart acknowledges a pushkey part. Success is "1", failure "0".
func ReplyPushkeyPart(success bool, inReplyTo uint32) *PartBuilder {
	ret := "0"
	if success {
		ret = "1"
	}
	return NewPartBuilder(PartReplyPushkey).
		AddParam("return", ret).
		AddParam("in-reply-to", strconv.FormatUint(uint64(inReplyTo), 10))
}
