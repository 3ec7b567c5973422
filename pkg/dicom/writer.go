package dicom

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Encoder builds an explicit VR little endian element stream. It backs the
// structured-report exporter and the synthetic objects the tests parse; it is
// not a general-purpose DICOM writer.
type Encoder struct {
	b bytes.Buffer
}

// NewEncoder returns an empty encoder.
func NewEncoder() *Encoder { return &Encoder{} }

// Bytes returns the encoded stream.
func (e *Encoder) Bytes() []byte { return e.b.Bytes() }

// Len returns the number of bytes encoded so far.
func (e *Encoder) Len() int { return e.b.Len() }

func (e *Encoder) header(tag Tag, vr string, length int) {
	var hdr [8]byte
	binary.LittleEndian.PutUint16(hdr[0:], tag.Group())
	binary.LittleEndian.PutUint16(hdr[2:], tag.Element())
	switch vr {
	case "OB", "OW", "OF", "SQ", "UT", "UN":
		copy(hdr[4:6], vr)
		e.b.Write(hdr[:6])
		e.b.Write([]byte{0, 0})
		var l [4]byte
		binary.LittleEndian.PutUint32(l[:], uint32(length))
		e.b.Write(l[:])
	default:
		copy(hdr[4:6], vr)
		binary.LittleEndian.PutUint16(hdr[6:], uint16(length))
		e.b.Write(hdr[:8])
	}
}

// Raw appends an element with an arbitrary payload. Odd payloads are padded
// to even length with NUL.
func (e *Encoder) Raw(tag Tag, vr string, payload []byte) {
	padded := payload
	if len(payload)%2 == 1 {
		padded = append(append([]byte{}, payload...), 0)
	}
	e.header(tag, vr, len(padded))
	e.b.Write(padded)
}

// Text appends a character element; multiple values join with backslash.
// UI values pad with NUL, everything else with space.
func (e *Encoder) Text(tag Tag, vr string, values ...string) {
	joined := []byte(join(values))
	if len(joined)%2 == 1 {
		pad := byte(' ')
		if vr == "UI" {
			pad = 0
		}
		joined = append(joined, pad)
	}
	e.header(tag, vr, len(joined))
	e.b.Write(joined)
}

// Shorts appends a US element.
func (e *Encoder) Shorts(tag Tag, values ...uint16) {
	e.header(tag, "US", len(values)*2)
	for _, v := range values {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], v)
		e.b.Write(b[:])
	}
}

// Longs appends a UL element.
func (e *Encoder) Longs(tag Tag, values ...uint32) {
	e.header(tag, "UL", len(values)*4)
	for _, v := range values {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		e.b.Write(b[:])
	}
}

// Floats appends an FL element.
func (e *Encoder) Floats(tag Tag, values ...float32) {
	e.header(tag, "FL", len(values)*4)
	for _, v := range values {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
		e.b.Write(b[:])
	}
}

// Sequence appends an SQ element with defined length; each item is the
// encoded element stream of one nested data set.
func (e *Encoder) Sequence(tag Tag, items ...[]byte) {
	total := 0
	for _, it := range items {
		total += 8 + len(it)
	}
	e.header(tag, "SQ", total)
	for _, it := range items {
		var hdr [8]byte
		binary.LittleEndian.PutUint16(hdr[0:], tagItem.Group())
		binary.LittleEndian.PutUint16(hdr[2:], tagItem.Element())
		binary.LittleEndian.PutUint32(hdr[4:], uint32(len(it)))
		e.b.Write(hdr[:])
		e.b.Write(it)
	}
}

// Fragments appends an encapsulated pixel-data element: undefined length,
// an empty basic offset table, one item per fragment, then the sequence
// delimiter.
func (e *Encoder) Fragments(frags ...[]byte) {
	e.header(TagPixelData, "OB", 0)
	// Rewrite the length field to undefined.
	raw := e.b.Bytes()
	binary.LittleEndian.PutUint32(raw[len(raw)-4:], 0xFFFFFFFF)

	writeItem := func(payload []byte) {
		var hdr [8]byte
		binary.LittleEndian.PutUint16(hdr[0:], tagItem.Group())
		binary.LittleEndian.PutUint16(hdr[2:], tagItem.Element())
		binary.LittleEndian.PutUint32(hdr[4:], uint32(len(payload)))
		e.b.Write(hdr[:])
		e.b.Write(payload)
	}
	writeItem(nil) // basic offset table
	for _, f := range frags {
		padded := f
		if len(f)%2 == 1 {
			padded = append(append([]byte{}, f...), 0)
		}
		writeItem(padded)
	}
	var trailer [8]byte
	binary.LittleEndian.PutUint16(trailer[0:], tagSequenceDelim.Group())
	binary.LittleEndian.PutUint16(trailer[2:], tagSequenceDelim.Element())
	e.b.Write(trailer[:])
}

// EncodePart10 wraps an encoded data set in a Part 10 envelope: 128-byte
// preamble, DICM marker, and a file meta group declaring the transfer syntax
// and storage identity.
func EncodePart10(tsuid, sopClassUID, sopInstanceUID string, body []byte) []byte {
	metaBody := NewEncoder()
	metaBody.Raw(TagFileMetaVersion, "OB", []byte{0, 1})
	metaBody.Text(TagMediaStorageSOPClass, "UI", sopClassUID)
	metaBody.Text(TagMediaStorageSOPUID, "UI", sopInstanceUID)
	metaBody.Text(TagTransferSyntaxUID, "UI", tsuid)
	metaBody.Text(TagImplementationClass, "UI", "1.2.826.0.1.3680043.8.498.1")

	out := bytes.Buffer{}
	out.Write(make([]byte, preambleSize))
	out.WriteString("DICM")

	groupLen := NewEncoder()
	groupLen.Longs(TagFileMetaGroupLength, uint32(metaBody.Len()))
	out.Write(groupLen.Bytes())
	out.Write(metaBody.Bytes())
	out.Write(body)
	return out.Bytes()
}

func join(values []string) string {
	out := ""
	for i, v := range values {
		if i > 0 {
			out += `\`
		}
		out += v
	}
	return out
}
