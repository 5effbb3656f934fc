// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connect Contributors

package graph

import (
	"bytes"
	"context"
	"slices"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// MemoryStore is an in-process Store. Update transactions are serialized
// and work on a private copy of the graph that replaces the shared one on
// commit, so a failed transaction leaves no trace.
type MemoryStore struct {
	mu     sync.RWMutex
	state  *memState
	closed bool
}

type memEdge struct {
	from    ulid.ULID
	to      ulid.ULID
	relType string
}

type memState struct {
	nodes map[ulid.ULID]Node
	edges []memEdge
}

func (s *memState) clone() *memState {
	out := &memState{
		nodes: make(map[ulid.ULID]Node, len(s.nodes)),
		edges: slices.Clone(s.edges),
	}
	for id, n := range s.nodes {
		n.Props = n.Props.Clone()
		out.nodes[id] = n
	}
	return out
}

// NewMemoryStore returns an empty in-memory graph.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{nodes: make(map[ulid.ULID]Node)}}
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, fn TxFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return oops.Code("GRAPH_STORE_CLOSED").Errorf("memory store is closed")
	}

	work := s.state.clone()
	if err := fn(ctx, &memTx{state: work, writable: true}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// View implements Store.
func (s *MemoryStore) View(ctx context.Context, fn TxFunc) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return oops.Code("GRAPH_STORE_CLOSED").Errorf("memory store is closed")
	}
	return fn(ctx, &memTx{state: s.state})
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type memTx struct {
	state    *memState
	writable bool
}

func (t *memTx) checkWrite(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("GRAPH_CANCELED").Wrap(err)
	}
	if !t.writable {
		return oops.Code("GRAPH_READ_ONLY").Errorf("write in read-only transaction")
	}
	return nil
}

func (t *memTx) Match(ctx context.Context, label string, match Props) ([]Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Code("GRAPH_CANCELED").Wrap(err)
	}
	want, err := Normalize(match)
	if err != nil {
		return nil, err
	}
	var out []Node
	for _, n := range t.state.nodes {
		if n.Label == label && n.Props.Contains(want) {
			out = append(out, copyNode(n))
		}
	}
	sortNodes(out)
	return out, nil
}

func (t *memTx) Related(ctx context.Context, id ulid.ULID, relType string, dir Direction) ([]Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Code("GRAPH_CANCELED").Wrap(err)
	}
	var out []Node
	for _, e := range t.state.edges {
		if e.relType != relType {
			continue
		}
		var other ulid.ULID
		switch {
		case dir == Outgoing && e.from == id:
			other = e.to
		case dir == Incoming && e.to == id:
			other = e.from
		default:
			continue
		}
		if n, ok := t.state.nodes[other]; ok {
			out = append(out, copyNode(n))
		}
	}
	sortNodes(out)
	return out, nil
}

func (t *memTx) CreateNode(ctx context.Context, label string, props Props) (Node, error) {
	if err := t.checkWrite(ctx); err != nil {
		return Node{}, err
	}
	p, err := Normalize(props)
	if err != nil {
		return Node{}, err
	}
	n := Node{ID: NewID(), Label: label, Props: p}
	t.state.nodes[n.ID] = n
	return copyNode(n), nil
}

func (t *memTx) Relate(ctx context.Context, from, to ulid.ULID, relType string) error {
	if err := t.checkWrite(ctx); err != nil {
		return err
	}
	for _, id := range []ulid.ULID{from, to} {
		if _, ok := t.state.nodes[id]; !ok {
			return oops.Code("GRAPH_NODE_NOT_FOUND").With("id", id.String()).Wrap(ErrNodeNotFound)
		}
	}
	t.state.edges = append(t.state.edges, memEdge{from: from, to: to, relType: relType})
	return nil
}

func (t *memTx) Set(ctx context.Context, label string, match, props Props) (int, error) {
	if err := t.checkWrite(ctx); err != nil {
		return 0, err
	}
	want, err := Normalize(match)
	if err != nil {
		return 0, err
	}
	update, err := Normalize(props)
	if err != nil {
		return 0, err
	}
	count := 0
	for id, n := range t.state.nodes {
		if n.Label != label || !n.Props.Contains(want) {
			continue
		}
		n.Props = n.Props.Merge(update)
		t.state.nodes[id] = n
		count++
	}
	return count, nil
}

func (t *memTx) DetachDelete(ctx context.Context, ids ...ulid.ULID) (int, error) {
	if err := t.checkWrite(ctx); err != nil {
		return 0, err
	}
	doomed := make(map[ulid.ULID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := t.state.nodes[id]; ok {
			doomed[id] = struct{}{}
			delete(t.state.nodes, id)
		}
	}
	if len(doomed) == 0 {
		return 0, nil
	}
	t.state.edges = slices.DeleteFunc(t.state.edges, func(e memEdge) bool {
		_, from := doomed[e.from]
		_, to := doomed[e.to]
		return from || to
	})
	return len(doomed), nil
}

// Lock is a no-op: update transactions already run one at a time.
func (t *memTx) Lock(ctx context.Context, _ string) error {
	return t.checkWrite(ctx)
}

func copyNode(n Node) Node {
	n.Props = n.Props.Clone()
	return n
}

func sortNodes(nodes []Node) {
	slices.SortFunc(nodes, func(a, b Node) int {
		return bytes.Compare(a.ID[:], b.ID[:])
	})
}

var _ Store = (*MemoryStore)(nil)
