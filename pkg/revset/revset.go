// Package revset resolves small node selections against a store, the building
// block behind "give me these heads" style requests.
package revset

import (
	"context"
	"errors"
	"fmt"

	"github.com/i5heu/revstream/pkg/types"
)

// ErrNoSuchNode is returned when a requested changeset is not in the store.
var ErrNoSuchNode = errors.New("no such node in store")

// Checker answers existence queries for changeset nodes.
type Checker interface {
	HasChangeset(ctx context.Context, id types.Hash) (bool, error)
}

// NodeSet resolves to an ordered list of changeset nodes.
type NodeSet interface {
	Resolve(ctx context.Context, store Checker) ([]types.Hash, error)
}

// SingleNode selects exactly one changeset, which must exist.
type SingleNode struct {
	Node types.Hash
}

func (s SingleNode) Resolve(ctx context.Context, store Checker) ([]types.Hash, error) {
	ok, err := store.HasChangeset(ctx, s.Node)
	if err != nil {
		return nil, fmt.Errorf("error checking for %s: %w", s.Node, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchNode, s.Node)
	}
	return []types.Hash{s.Node}, nil
}

// Union concatenates its member sets in order, dropping nodes already
// produced by an earlier member.
type Union struct {
	Sets []NodeSet
}

func (u Union) Resolve(ctx context.Context, store Checker) ([]types.Hash, error) {
	var out []types.Hash
	seen := make(map[types.Hash]struct{})
	for _, set := range u.Sets {
		nodes, err := set.Resolve(ctx, store)
		if err != nil {
			return nil, err
		}
		for _, node := range nodes {
			if _, ok := seen[node]; ok {
				continue
			}
			seen[node] = struct{}{}
			out = append(out, node)
		}
	}
	return out, nil
}
