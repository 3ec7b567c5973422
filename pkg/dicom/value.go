package dicom

import (
	"strconv"
	"strings"
)

// ValueKind discriminates the variants an element value can take after
// decoding. One variant per value representation family keeps the accessors
// honest: a caller asking for the wrong shape gets "absent", never a panic.
type ValueKind int

const (
	// KindBytes carries an uninterpreted byte payload (OB, OW, UN).
	KindBytes ValueKind = iota
	// KindText carries character data, already split on the multi-value
	// backslash delimiter (UI, CS, DS, IS, DA, LO, SH, ST, UT, ...).
	KindText
	// KindShorts carries 16-bit unsigned binary values (US).
	KindShorts
	// KindLongs carries 32-bit unsigned binary values (UL).
	KindLongs
	// KindFloats carries 32-bit IEEE floats (FL).
	KindFloats
	// KindSequence carries nested data sets (SQ).
	KindSequence
	// KindFragments carries the encapsulated pixel-data fragments of a
	// compressed transfer syntax, basic offset table excluded.
	KindFragments
)

// Value is the tagged variant stored in an Element.
type Value struct {
	Kind      ValueKind
	Bytes     []byte
	Text      []string
	Shorts    []uint16
	Longs     []uint32
	Floats    []float32
	Items     []*DataSet
	Fragments [][]byte
}

// Element is a single decoded data element.
type Element struct {
	Tag   Tag
	VR    string
	Value Value
}

// DataSet is an ordered collection of elements, either a whole object or one
// sequence item.
type DataSet struct {
	elements map[Tag]*Element
	order    []Tag
}

// NewDataSet returns an empty data set.
func NewDataSet() *DataSet {
	return &DataSet{elements: make(map[Tag]*Element)}
}

// Put inserts or replaces an element.
func (ds *DataSet) Put(e *Element) {
	if _, seen := ds.elements[e.Tag]; !seen {
		ds.order = append(ds.order, e.Tag)
	}
	ds.elements[e.Tag] = e
}

// Get returns the element for tag, if present.
func (ds *DataSet) Get(tag Tag) (*Element, bool) {
	e, ok := ds.elements[tag]
	return e, ok
}

// Tags returns the element tags in insertion order.
func (ds *DataSet) Tags() []Tag {
	return ds.order
}

// String returns the first text value for tag, trimmed of padding.
func (ds *DataSet) String(tag Tag) (string, bool) {
	e, ok := ds.elements[tag]
	if !ok || e.Value.Kind != KindText || len(e.Value.Text) == 0 {
		return "", false
	}
	return e.Value.Text[0], true
}

// Strings returns all text values for tag.
func (ds *DataSet) Strings(tag Tag) ([]string, bool) {
	e, ok := ds.elements[tag]
	if !ok || e.Value.Kind != KindText {
		return nil, false
	}
	return e.Value.Text, true
}

// Uint16 returns the first US value for tag.
func (ds *DataSet) Uint16(tag Tag) (uint16, bool) {
	e, ok := ds.elements[tag]
	if !ok || e.Value.Kind != KindShorts || len(e.Value.Shorts) == 0 {
		return 0, false
	}
	return e.Value.Shorts[0], true
}

// Int returns the first integer value for tag, decoding either a binary US
// or an IS integer string. Malformed strings read as absent.
func (ds *DataSet) Int(tag Tag) (int, bool) {
	if v, ok := ds.Uint16(tag); ok {
		return int(v), true
	}
	s, ok := ds.String(tag)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return n, true
}

// Float returns the first DS decimal-string value for tag. Malformed strings
// read as absent.
func (ds *DataSet) Float(tag Tag) (float64, bool) {
	fs, ok := ds.Floats(tag)
	if !ok || len(fs) == 0 {
		return 0, false
	}
	return fs[0], true
}

// Floats decodes a multi-valued DS element. A parse failure in any component
// makes the whole element read as absent.
func (ds *DataSet) Floats(tag Tag) ([]float64, bool) {
	ss, ok := ds.Strings(tag)
	if !ok {
		return nil, false
	}
	out := make([]float64, 0, len(ss))
	for _, s := range ss {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, false
		}
		out = append(out, f)
	}
	return out, true
}

// Float32s returns the FL values for tag.
func (ds *DataSet) Float32s(tag Tag) ([]float32, bool) {
	e, ok := ds.elements[tag]
	if !ok || e.Value.Kind != KindFloats {
		return nil, false
	}
	return e.Value.Floats, true
}

// Items returns the sequence items for tag.
func (ds *DataSet) Items(tag Tag) ([]*DataSet, bool) {
	e, ok := ds.elements[tag]
	if !ok || e.Value.Kind != KindSequence {
		return nil, false
	}
	return e.Value.Items, true
}

// PixelBytes returns the raw pixel payload for an uncompressed object.
func (ds *DataSet) PixelBytes() ([]byte, bool) {
	e, ok := ds.elements[TagPixelData]
	if !ok || e.Value.Kind != KindBytes {
		return nil, false
	}
	return e.Value.Bytes, true
}

// PixelFragments returns the encapsulated fragments for a compressed object.
func (ds *DataSet) PixelFragments() ([][]byte, bool) {
	e, ok := ds.elements[TagPixelData]
	if !ok || e.Value.Kind != KindFragments {
		return nil, false
	}
	return e.Value.Fragments, true
}

// isTextVR reports whether a VR decodes to character data.
func isTextVR(vr string) bool {
	switch vr {
	case "AE", "AS", "CS", "DA", "DS", "DT", "IS", "LO", "LT", "PN", "SH", "ST", "TM", "UI", "UT":
		return true
	}
	return false
}

// splitText splits a character payload on the DICOM multi-value delimiter and
// strips the space/NUL padding vendors disagree about.
func splitText(raw []byte) []string {
	parts := strings.Split(string(raw), `\`)
	for i, p := range parts {
		parts[i] = strings.Trim(p, "\x00 ")
	}
	return parts
}
