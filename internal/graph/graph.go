// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connect Contributors

// Package graph defines the property-graph store used for identity data.
//
// A Store hands out transactions. Every primitive runs inside one, so a
// sequence such as match-then-delete observes a consistent view and either
// commits as a whole or not at all.
package graph

import (
	"context"
	"errors"

	"github.com/oklog/ulid/v2"
)

// Sentinel errors shared by all backends.
var (
	// ErrConstraintViolation is returned when a write breaches a uniqueness
	// constraint configured in the backing store. Stores without constraints
	// never return it.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrNodeNotFound is returned when a relationship references a node that
	// does not exist.
	ErrNodeNotFound = errors.New("node not found")
)

// Direction selects which side of a relationship Related follows.
type Direction int

const (
	// Outgoing follows relationships that start at the given node.
	Outgoing Direction = iota
	// Incoming follows relationships that end at the given node.
	Incoming
)

// String returns the direction name.
func (d Direction) String() string {
	if d == Incoming {
		return "incoming"
	}
	return "outgoing"
}

// Node is a labelled vertex with a property map.
type Node struct {
	ID    ulid.ULID
	Label string
	Props Props
}

// Tx exposes the graph primitives available inside a transaction.
type Tx interface {
	// Match returns every node with the label whose properties contain all
	// entries of match. An empty match returns every node with the label.
	Match(ctx context.Context, label string, match Props) ([]Node, error)

	// Related returns the nodes connected to id by relationships of relType,
	// following dir.
	Related(ctx context.Context, id ulid.ULID, relType string, dir Direction) ([]Node, error)

	// CreateNode inserts a node and returns it with its assigned ID.
	CreateNode(ctx context.Context, label string, props Props) (Node, error)

	// Relate creates a relType relationship from one node to another.
	Relate(ctx context.Context, from, to ulid.ULID, relType string) error

	// Set merges props into every node matching label and match and
	// returns the number of nodes updated.
	Set(ctx context.Context, label string, match, props Props) (int, error)

	// DetachDelete removes the nodes with all their relationships and
	// returns the number of nodes actually removed.
	DetachDelete(ctx context.Context, ids ...ulid.ULID) (int, error)

	// Lock blocks until the transaction holds the named lock. The lock is
	// released when the transaction ends.
	Lock(ctx context.Context, key string) error
}

// TxFunc is the body of a transaction.
type TxFunc func(ctx context.Context, tx Tx) error

// Store runs transactions against a graph.
type Store interface {
	// Update runs fn in a read-write transaction. The transaction commits
	// when fn returns nil and rolls back otherwise.
	Update(ctx context.Context, fn TxFunc) error

	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn TxFunc) error

	// Close releases the store's resources.
	Close() error
}
