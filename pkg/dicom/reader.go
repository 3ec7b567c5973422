// Package dicom decodes single-frame DICOM objects into the slice records the
// reconstruction pipeline consumes, and encodes the structured reports the
// annotation codec produces. Only the transfer syntaxes the pipeline accepts
// are implemented: Implicit VR Little Endian, Explicit VR Little Endian, and
// JPEG Baseline (Process 1).
package dicom

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Transfer syntax UIDs accepted by the reader.
const (
	ImplicitVRLittleEndian = "1.2.840.10008.1.2"
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"
	JPEGBaseline           = "1.2.840.10008.1.2.4.50"
)

// Error kinds surfaced by parsing. Wrapped detail carries the offending tag
// or value; messages never carry file paths or patient identifiers.
var (
	ErrMalformedHeader           = errors.New("dicom: malformed header")
	ErrMissingRequiredTag        = errors.New("dicom: missing required tag")
	ErrUnsupportedBitsAllocated  = errors.New("dicom: unsupported bits allocated")
	ErrUnsupportedTransferSyntax = errors.New("dicom: unsupported transfer syntax")
	ErrPixelDataAbsent           = errors.New("dicom: pixel data absent")
)

const preambleSize = 128

// decoder walks an in-memory element stream. Objects are parsed from whole
// byte buffers, so no reader pooling is needed here.
type decoder struct {
	buf      []byte
	pos      int
	implicit bool
}

func (d *decoder) remaining() int { return len(d.buf) - d.pos }

func (d *decoder) uint16() (uint16, error) {
	if d.remaining() < 2 {
		return 0, fmt.Errorf("%w: truncated at offset %d", ErrMalformedHeader, d.pos)
	}
	v := binary.LittleEndian.Uint16(d.buf[d.pos:])
	d.pos += 2
	return v, nil
}

func (d *decoder) uint32() (uint32, error) {
	if d.remaining() < 4 {
		return 0, fmt.Errorf("%w: truncated at offset %d", ErrMalformedHeader, d.pos)
	}
	v := binary.LittleEndian.Uint32(d.buf[d.pos:])
	d.pos += 4
	return v, nil
}

func (d *decoder) bytes(n int) ([]byte, error) {
	if n < 0 || d.remaining() < n {
		return nil, fmt.Errorf("%w: value length %d exceeds remaining %d bytes", ErrMalformedHeader, n, d.remaining())
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *decoder) readTag() (Tag, error) {
	group, err := d.uint16()
	if err != nil {
		return 0, err
	}
	elem, err := d.uint16()
	if err != nil {
		return 0, err
	}
	return Tag(uint32(group)<<16 | uint32(elem)), nil
}

// readHeader reads the tag, VR, and value length of the next element.
func (d *decoder) readHeader() (Tag, string, uint32, error) {
	tag, err := d.readTag()
	if err != nil {
		return 0, "", 0, err
	}
	// Delimitation items carry no VR in either encoding.
	if tag == tagItem || tag == tagItemDelim || tag == tagSequenceDelim {
		length, err := d.uint32()
		return tag, "", length, err
	}
	if d.implicit {
		length, err := d.uint32()
		return tag, lookupVR(tag), length, err
	}
	vrBytes, err := d.bytes(2)
	if err != nil {
		return 0, "", 0, err
	}
	vr := string(vrBytes)
	switch vr {
	case "OB", "OW", "OF", "SQ", "UT", "UN":
		if _, err := d.bytes(2); err != nil { // reserved
			return 0, "", 0, err
		}
		length, err := d.uint32()
		return tag, vr, length, err
	default:
		length, err := d.uint16()
		return tag, vr, uint32(length), err
	}
}

// readElement decodes one element, recursing into sequences.
func (d *decoder) readElement() (*Element, error) {
	tag, vr, length, err := d.readHeader()
	if err != nil {
		return nil, err
	}

	e := &Element{Tag: tag, VR: vr}

	switch {
	case tag == TagPixelData && length == 0xFFFFFFFF:
		frags, err := d.readFragments()
		if err != nil {
			return nil, err
		}
		e.Value = Value{Kind: KindFragments, Fragments: frags}
		return e, nil

	case vr == "SQ" || length == 0xFFFFFFFF:
		items, err := d.readSequence(length)
		if err != nil {
			return nil, err
		}
		e.VR = "SQ"
		e.Value = Value{Kind: KindSequence, Items: items}
		return e, nil
	}

	raw, err := d.bytes(int(length))
	if err != nil {
		return nil, fmt.Errorf("tag %s: %w", tag, err)
	}
	e.Value = decodeValue(vr, raw)
	return e, nil
}

// decodeValue interprets a primitive payload according to its VR.
func decodeValue(vr string, raw []byte) Value {
	switch {
	case isTextVR(vr):
		return Value{Kind: KindText, Text: splitText(raw)}
	case vr == "US":
		out := make([]uint16, 0, len(raw)/2)
		for i := 0; i+2 <= len(raw); i += 2 {
			out = append(out, binary.LittleEndian.Uint16(raw[i:]))
		}
		return Value{Kind: KindShorts, Shorts: out}
	case vr == "UL":
		out := make([]uint32, 0, len(raw)/4)
		for i := 0; i+4 <= len(raw); i += 4 {
			out = append(out, binary.LittleEndian.Uint32(raw[i:]))
		}
		return Value{Kind: KindLongs, Longs: out}
	case vr == "FL":
		out := make([]float32, 0, len(raw)/4)
		for i := 0; i+4 <= len(raw); i += 4 {
			out = append(out, math.Float32frombits(binary.LittleEndian.Uint32(raw[i:])))
		}
		return Value{Kind: KindFloats, Floats: out}
	default:
		owned := make([]byte, len(raw))
		copy(owned, raw)
		return Value{Kind: KindBytes, Bytes: owned}
	}
}

// readSequence decodes SQ items of either defined or undefined length.
func (d *decoder) readSequence(length uint32) ([]*DataSet, error) {
	var items []*DataSet
	end := -1
	if length != 0xFFFFFFFF {
		end = d.pos + int(length)
		if end > len(d.buf) {
			return nil, fmt.Errorf("%w: sequence length %d exceeds buffer", ErrMalformedHeader, length)
		}
	}

	for {
		if end >= 0 && d.pos >= end {
			return items, nil
		}
		tag, err := d.readTag()
		if err != nil {
			return nil, err
		}
		itemLen, err := d.uint32()
		if err != nil {
			return nil, err
		}
		switch tag {
		case tagSequenceDelim:
			return items, nil
		case tagItem:
			item, err := d.readItem(itemLen)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		default:
			return nil, fmt.Errorf("%w: unexpected tag %s inside sequence", ErrMalformedHeader, tag)
		}
	}
}

// readItem decodes the elements of a single sequence item.
func (d *decoder) readItem(length uint32) (*DataSet, error) {
	item := NewDataSet()
	if length != 0xFFFFFFFF {
		end := d.pos + int(length)
		if end > len(d.buf) {
			return nil, fmt.Errorf("%w: item length %d exceeds buffer", ErrMalformedHeader, length)
		}
		for d.pos < end {
			e, err := d.readElement()
			if err != nil {
				return nil, err
			}
			item.Put(e)
		}
		return item, nil
	}
	for {
		if d.remaining() >= 4 {
			peek := Tag(uint32(binary.LittleEndian.Uint16(d.buf[d.pos:]))<<16 |
				uint32(binary.LittleEndian.Uint16(d.buf[d.pos+2:])))
			if peek == tagItemDelim {
				d.pos += 4
				if _, err := d.uint32(); err != nil { // zero length
					return nil, err
				}
				return item, nil
			}
		}
		e, err := d.readElement()
		if err != nil {
			return nil, err
		}
		item.Put(e)
	}
}

// readFragments decodes an encapsulated pixel-data sequence. The first item
// is the basic offset table and is discarded.
func (d *decoder) readFragments() ([][]byte, error) {
	var frags [][]byte
	first := true
	for {
		tag, err := d.readTag()
		if err != nil {
			return nil, err
		}
		length, err := d.uint32()
		if err != nil {
			return nil, err
		}
		switch tag {
		case tagSequenceDelim:
			return frags, nil
		case tagItem:
			raw, err := d.bytes(int(length))
			if err != nil {
				return nil, err
			}
			if first {
				first = false
				continue
			}
			owned := make([]byte, len(raw))
			copy(owned, raw)
			frags = append(frags, owned)
		default:
			return nil, fmt.Errorf("%w: unexpected tag %s inside pixel fragments", ErrMalformedHeader, tag)
		}
	}
}

// ParseDataSet decodes a whole Part 10 object: preamble, file meta group,
// then the main data set under the declared transfer syntax. It returns the
// merged data set and the transfer syntax UID.
func ParseDataSet(buf []byte) (*DataSet, string, error) {
	if len(buf) < preambleSize+4 || string(buf[preambleSize:preambleSize+4]) != "DICM" {
		return nil, "", fmt.Errorf("%w: missing DICM marker", ErrMalformedHeader)
	}

	// File meta group: always explicit VR little endian.
	meta := &decoder{buf: buf, pos: preambleSize + 4}
	metaSet := NewDataSet()
	metaEnd := -1
	for {
		if metaEnd >= 0 && meta.pos >= metaEnd {
			break
		}
		if metaEnd < 0 && meta.remaining() >= 2 {
			if binary.LittleEndian.Uint16(meta.buf[meta.pos:]) != 0x0002 {
				break
			}
		}
		if meta.remaining() == 0 {
			break
		}
		e, err := meta.readElement()
		if err != nil {
			return nil, "", err
		}
		metaSet.Put(e)
		if e.Tag == TagFileMetaGroupLength && e.Value.Kind == KindLongs && len(e.Value.Longs) > 0 {
			metaEnd = meta.pos + int(e.Value.Longs[0])
		}
	}

	tsuid, ok := metaSet.String(TagTransferSyntaxUID)
	if !ok || tsuid == "" {
		tsuid = ExplicitVRLittleEndian
	}

	main := &decoder{buf: buf, pos: meta.pos}
	switch tsuid {
	case ImplicitVRLittleEndian:
		main.implicit = true
	case ExplicitVRLittleEndian, JPEGBaseline:
	default:
		return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedTransferSyntax, tsuid)
	}

	ds := NewDataSet()
	for _, t := range metaSet.Tags() {
		e, _ := metaSet.Get(t)
		ds.Put(e)
	}
	for main.remaining() > 0 {
		e, err := main.readElement()
		if err != nil {
			return nil, "", err
		}
		ds.Put(e)
	}
	return ds, tsuid, nil
}
