// Package format defines clipboard format identifiers and the processwide
// format registry.
//
// Well-known formats keep their classic numeric ids so that data exchanged
// with other clipboard implementations lines up. Custom formats are
// registered by name at runtime and receive ids in [FirstRegistered,
// LastRegistered]. Names are matched case-insensitively.
package format

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// ID identifies a clipboard format. Zero is never a valid format.
type ID uint32

// Well-known formats.
const (
	Text            ID = 1
	Bitmap          ID = 2
	MetafilePict    ID = 3
	SYLK            ID = 4
	DIF             ID = 5
	TIFF            ID = 6
	OEMText         ID = 7
	DIB             ID = 8
	Palette         ID = 9
	PenData         ID = 10
	RIFF            ID = 11
	Wave            ID = 12
	UnicodeText     ID = 13
	EnhMetafile     ID = 14
	HDrop           ID = 15
	Locale          ID = 16
	DIBV5           ID = 17
	OwnerDisplay    ID = 0x0080
	DspText         ID = 0x0081
	DspBitmap       ID = 0x0082
	DspMetafilePict ID = 0x0083
	DspEnhMetafile  ID = 0x008E
)

// Range of dynamically registered ids.
const (
	FirstRegistered ID = 0xC000
	LastRegistered  ID = 0xFFFF
)

// Category selects the marshaling rules for a format.
type Category int

const (
	CategoryMemory Category = iota
	CategoryText
	CategoryUnicodeText
	CategoryDIB
	CategoryBitmap
	CategoryPalette
	CategoryMetafile
	CategoryEnhMetafile

	numCategories
)

// NumCategories is the number of distinct categories. The synthesis engine
// uses it as its recursion bound.
const NumCategories = int(numCategories)

var categoryNames = [...]string{
	CategoryMemory:      "memory",
	CategoryText:        "text",
	CategoryUnicodeText: "unicode-text",
	CategoryDIB:         "dib",
	CategoryBitmap:      "bitmap",
	CategoryPalette:     "palette",
	CategoryMetafile:    "metafile",
	CategoryEnhMetafile: "enh-metafile",
}

func (c Category) String() string {
	if c < 0 || c >= numCategories {
		return "category(" + strconv.Itoa(int(c)) + ")"
	}
	return categoryNames[c]
}

// ResourceBacked reports whether the native form of the category is a handle
// to a graphics object rather than a flat byte buffer.
func (c Category) ResourceBacked() bool {
	switch c {
	case CategoryBitmap, CategoryPalette, CategoryMetafile, CategoryEnhMetafile:
		return true
	}
	return false
}

type builtin struct {
	id       ID
	name     string
	category Category
}

var builtins = []builtin{
	{Text, "CF_TEXT", CategoryText},
	{Bitmap, "CF_BITMAP", CategoryBitmap},
	{MetafilePict, "CF_METAFILEPICT", CategoryMetafile},
	{SYLK, "CF_SYLK", CategoryMemory},
	{DIF, "CF_DIF", CategoryMemory},
	{TIFF, "CF_TIFF", CategoryMemory},
	{OEMText, "CF_OEMTEXT", CategoryText},
	{DIB, "CF_DIB", CategoryDIB},
	{Palette, "CF_PALETTE", CategoryPalette},
	{PenData, "CF_PENDATA", CategoryMemory},
	{RIFF, "CF_RIFF", CategoryMemory},
	{Wave, "CF_WAVE", CategoryMemory},
	{UnicodeText, "CF_UNICODETEXT", CategoryUnicodeText},
	{EnhMetafile, "CF_ENHMETAFILE", CategoryEnhMetafile},
	{HDrop, "CF_HDROP", CategoryMemory},
	{Locale, "CF_LOCALE", CategoryMemory},
	{DIBV5, "CF_DIBV5", CategoryDIB},
	{OwnerDisplay, "CF_OWNERDISPLAY", CategoryMemory},
	{DspText, "CF_DSPTEXT", CategoryText},
	{DspBitmap, "CF_DSPBITMAP", CategoryBitmap},
	{DspMetafilePict, "CF_DSPMETAFILEPICT", CategoryMetafile},
	{DspEnhMetafile, "CF_DSPENHMETAFILE", CategoryEnhMetafile},
}

var builtinByID = func() map[ID]builtin {
	m := make(map[ID]builtin, len(builtins))
	for _, b := range builtins {
		m[b.id] = b
	}
	return m
}()

// Builtins returns the well-known format ids in ascending order.
func Builtins() []ID {
	out := make([]ID, len(builtins))
	for i, b := range builtins {
		out[i] = b.id
	}
	return out
}

// Registry holds the dynamically registered formats of a process.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]ID // lower-cased name → id
	names  map[ID]string
	next   ID
}

// NewRegistry returns a registry containing only the well-known formats.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]ID),
		names:  make(map[ID]string),
		next:   FirstRegistered,
	}
}

// Default is the processwide registry.
var Default = NewRegistry()

// Register returns the id for name, allocating one on first use.
func (r *Registry) Register(name string) (ID, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("format: empty name")
	}
	key := strings.ToLower(name)
	for _, b := range builtins {
		if strings.ToLower(b.name) == key {
			return b.id, nil
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byName[key]; ok {
		return id, nil
	}
	if r.next > LastRegistered {
		return 0, fmt.Errorf("format: registry full")
	}
	id := r.next
	r.next++
	r.byName[key] = id
	r.names[id] = name
	return id, nil
}

// Known reports whether id is a well-known or registered format.
func (r *Registry) Known(id ID) bool {
	if _, ok := builtinByID[id]; ok {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.names[id]
	return ok
}

// Name returns the display name of id. Unknown ids render as hex.
func (r *Registry) Name(id ID) string {
	if b, ok := builtinByID[id]; ok {
		return b.name
	}
	r.mu.RLock()
	name, ok := r.names[id]
	r.mu.RUnlock()
	if ok {
		return name
	}
	return fmt.Sprintf("0x%04x", uint32(id))
}

// Lookup resolves a format by name or number ("CF_TEXT", "text", "13",
// "0xC001"). Names without the CF_ prefix are accepted for built-ins.
func (r *Registry) Lookup(s string) (ID, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if n, err := strconv.ParseUint(s, 0, 32); err == nil {
		id := ID(n)
		return id, id != 0
	}
	key := strings.ToLower(s)
	for _, b := range builtins {
		lname := strings.ToLower(b.name)
		if lname == key || strings.TrimPrefix(lname, "cf_") == key {
			return b.id, true
		}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[key]
	return id, ok
}

// CategoryOf returns the marshaling category of id. Registered and unknown
// formats are opaque memory.
func CategoryOf(id ID) Category {
	if b, ok := builtinByID[id]; ok {
		return b.category
	}
	return CategoryMemory
}

// Describe lists every known format, one per line, sorted by id.
func (r *Registry) Describe() string {
	type row struct {
		id   ID
		name string
	}
	rows := make([]row, 0, len(builtins))
	for _, b := range builtins {
		rows = append(rows, row{b.id, b.name})
	}
	r.mu.RLock()
	for id, name := range r.names {
		rows = append(rows, row{id, name})
	}
	r.mu.RUnlock()
	sort.Slice(rows, func(i, j int) bool { return rows[i].id < rows[j].id })

	var sb strings.Builder
	for _, rw := range rows {
		c := CategoryOf(rw.id)
		kind := "simple"
		if c.ResourceBacked() {
			kind = "resource"
		}
		fmt.Fprintf(&sb, "0x%04x %-20s %-13s %s\n", uint32(rw.id), rw.name, c, kind)
	}
	return sb.String()
}

func (id ID) String() string { return Default.Name(id) }
