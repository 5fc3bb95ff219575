// Package synth derives a requested clipboard format from another format that
// is already present, following a static conversion table.
package synth

import (
	"fmt"

	"go.klb.dev/clipcache/internal/format"
	"go.klb.dev/clipcache/internal/gdi"
	"go.klb.dev/clipcache/internal/locale"
	"go.klb.dev/clipcache/internal/native"
)

// Env carries the subsystems converters may consult.
type Env struct {
	Locale   locale.Locale
	Graphics gdi.Graphics
}

// Convert turns a borrowed source handle into a new handle owned by the
// caller. It returns false when the source cannot be converted; in that case
// it has released anything it created.
type Convert func(env Env, src native.Handle) (native.Handle, bool)

// Edge is one way to produce Target from Source.
type Edge struct {
	Target  format.ID
	Source  format.ID
	Convert Convert
}

// Table holds the ordered candidate edges of every synthesizable target.
type Table struct {
	candidates map[format.ID][]Edge
}

// NewTable validates edges and builds a table. Candidate order per target is
// the order edges appear in.
func NewTable(edges []Edge) (*Table, error) {
	t := &Table{candidates: make(map[format.ID][]Edge)}
	seen := make(map[[2]format.ID]bool)
	for i, e := range edges {
		switch {
		case e.Target == 0 || e.Source == 0:
			return nil, fmt.Errorf("synth: edge %d: zero format", i)
		case !format.Default.Known(e.Target) || !format.Default.Known(e.Source):
			return nil, fmt.Errorf("synth: edge %d: unknown format %s <- %s", i, e.Target, e.Source)
		case e.Target == e.Source:
			return nil, fmt.Errorf("synth: edge %d: %s converts to itself", i, e.Target)
		case e.Convert == nil:
			return nil, fmt.Errorf("synth: edge %d: %s <- %s has no converter", i, e.Target, e.Source)
		}
		key := [2]format.ID{e.Target, e.Source}
		if seen[key] {
			return nil, fmt.Errorf("synth: duplicate edge %s <- %s", e.Target, e.Source)
		}
		seen[key] = true
		t.candidates[e.Target] = append(t.candidates[e.Target], e)
	}
	if d := t.longestPath(); d > format.NumCategories {
		return nil, fmt.Errorf("synth: conversion chain of depth %d exceeds %d", d, format.NumCategories)
	}
	return t, nil
}

// MustNewTable is NewTable for static tables.
func MustNewTable(edges []Edge) *Table {
	t, err := NewTable(edges)
	if err != nil {
		panic(err)
	}
	return t
}

// Candidates returns the ordered edges that can produce target.
func (t *Table) Candidates(target format.ID) []Edge { return t.candidates[target] }

// Synthesizable reports whether target has at least one candidate.
func (t *Table) Synthesizable(target format.ID) bool { return len(t.candidates[target]) > 0 }

// Reachable reports whether target is present or can be derived from a present
// format without revisiting a format.
func (t *Table) Reachable(target format.ID, present func(format.ID) bool) bool {
	var walk func(f format.ID, path Path) bool
	walk = func(f format.ID, path Path) bool {
		if present(f) {
			return true
		}
		next, ok := path.Push(f)
		if !ok {
			return false
		}
		for _, e := range t.candidates[f] {
			if !next.Contains(e.Source) && walk(e.Source, next) {
				return true
			}
		}
		return false
	}
	return walk(target, Path{})
}

// longestPath is the edge count of the longest chain target <- source <- ...
// that never revisits a format.
func (t *Table) longestPath() int {
	var walk func(f format.ID, visiting map[format.ID]bool) int
	walk = func(f format.ID, visiting map[format.ID]bool) int {
		visiting[f] = true
		defer delete(visiting, f)
		best := 0
		for _, e := range t.candidates[f] {
			if visiting[e.Source] {
				continue
			}
			if d := 1 + walk(e.Source, visiting); d > best {
				best = d
			}
		}
		return best
	}
	best := 0
	for target := range t.candidates {
		if d := walk(target, make(map[format.ID]bool)); d > best {
			best = d
		}
	}
	return best
}

// Path is the chain of formats currently being synthesized, outermost first.
type Path struct {
	formats []format.ID
}

// Depth is the number of formats on the path.
func (p Path) Depth() int { return len(p.formats) }

// Contains reports whether f is already being synthesized.
func (p Path) Contains(f format.ID) bool {
	for _, g := range p.formats {
		if g == f {
			return true
		}
	}
	return false
}

// Push returns p extended with f. It fails once the path would exceed the
// recursion bound.
func (p Path) Push(f format.ID) (Path, bool) {
	if len(p.formats) >= format.NumCategories {
		return p, false
	}
	next := make([]format.ID, len(p.formats), len(p.formats)+1)
	copy(next, p.formats)
	return Path{formats: append(next, f)}, true
}

func (p Path) String() string { return fmt.Sprint(p.formats) }

// DefaultEdges is the built-in conversion table.
func DefaultEdges() []Edge {
	return []Edge{
		{format.Text, format.UnicodeText, unicodeToText(format.Text)},
		{format.Text, format.OEMText, textToText(format.OEMText, format.Text)},
		{format.OEMText, format.UnicodeText, unicodeToText(format.OEMText)},
		{format.OEMText, format.Text, textToText(format.Text, format.OEMText)},
		{format.UnicodeText, format.Text, textToUnicode(format.Text)},
		{format.UnicodeText, format.OEMText, textToUnicode(format.OEMText)},

		{format.Bitmap, format.DIB, dibToBitmap},
		{format.Bitmap, format.DIBV5, dibToBitmap},
		{format.DIB, format.Bitmap, bitmapToDIB(false)},
		{format.DIB, format.DIBV5, dibToDIB(false)},
		{format.DIBV5, format.Bitmap, bitmapToDIB(true)},
		{format.DIBV5, format.DIB, dibToDIB(true)},

		{format.MetafilePict, format.EnhMetafile, enhToMetafile},
		{format.EnhMetafile, format.MetafilePict, metafileToEnh},
	}
}

// Default is the built-in table.
var Default = MustNewTable(DefaultEdges())
