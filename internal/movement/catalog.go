// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package movement

import (
	"fmt"
	"sort"

	"github.com/relabs-tech/emg_hand/internal/intensity"
)

// Entry is one registered movement and the index it selects.
type Entry struct {
	Movement Movement
	Index    int
}

// Catalog maps movements of one fixed length to an external index (the
// finger to toggle). It is filled at startup and only read afterwards.
type Catalog struct {
	length  int
	entries map[Movement]int
}

// NewCatalog returns an empty catalog for sequences of the given length.
func NewCatalog(length int) (*Catalog, error) {
	if length < 1 || length > MaxLength {
		return nil, fmt.Errorf("%w: sequence length %d not in 1..%d", ErrInvalidMovement, length, MaxLength)
	}
	return &Catalog{length: length, entries: make(map[Movement]int)}, nil
}

// SequenceLength is the number of ticks every registered movement has.
func (c *Catalog) SequenceLength() int { return c.length }

// Register adds m under index. A movement must start with activity (not
// NONE), match the catalog length, and not already be registered.
func (c *Catalog) Register(m Movement, index int) error {
	if m.Len() != c.length {
		return fmt.Errorf("%w: %v has length %d, catalog expects %d", ErrInvalidMovement, m, m.Len(), c.length)
	}
	if m.At(0) == intensity.None {
		return fmt.Errorf("%w: %v starts with NONE", ErrInvalidMovement, m)
	}
	if prev, ok := c.entries[m]; ok {
		return fmt.Errorf("%w: %v already selects index %d", ErrDuplicateMovement, m, prev)
	}
	c.entries[m] = index
	return nil
}

// Lookup returns the index registered for exactly m.
func (c *Catalog) Lookup(m Movement) (int, bool) {
	idx, ok := c.entries[m]
	return idx, ok
}

// Len is the number of registered movements.
func (c *Catalog) Len() int { return len(c.entries) }

// Entries lists the registered movements ordered by index.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, 0, len(c.entries))
	for m, idx := range c.entries {
		out = append(out, Entry{Movement: m, Index: idx})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
