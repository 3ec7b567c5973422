package dicom

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encodeTestSlice builds a minimal explicit VR little endian object with a
// 16-bit frame. opts may append elements before the pixel data and envelope
// are added; an appended element replaces an earlier one with the same tag.
func encodeTestSlice(t *testing.T, rows, cols int, opts func(*Encoder)) []byte {
	t.Helper()
	body := NewEncoder()
	body.Text(TagSOPClassUID, "UI", "1.2.840.10008.5.1.4.1.1.4")
	body.Text(TagSOPInstanceUID, "UI", "1.2.3.4.100")
	body.Text(TagStudyDate, "DA", "20240131")
	body.Text(TagModality, "CS", "MR")
	body.Text(TagPatientID, "LO", "P001")
	body.Text(TagStudyInstanceUID, "UI", "1.2.3.4.1")
	body.Text(TagSeriesInstanceUID, "UI", "1.2.3.4.2")
	body.Text(TagFrameOfReference, "UI", "1.2.3.4.3")
	body.Text(TagInstanceNumber, "IS", "7")
	body.Text(TagImagePosition, "DS", "-10.5", "20", "31.25")
	body.Text(TagImageOrientation, "DS", "1", "0", "0", "0", "1", "0")
	body.Text(TagSliceLocation, "DS", "31.25")
	body.Shorts(TagRows, uint16(rows))
	body.Shorts(TagColumns, uint16(cols))
	body.Text(TagPixelSpacing, "DS", "0.6", "0.5")
	body.Shorts(TagBitsAllocated, 16)
	body.Shorts(TagPixelRepresentation, 0)
	body.Text(TagWindowCenter, "DS", "40")
	body.Text(TagWindowWidth, "DS", "400")
	body.Text(TagRescaleIntercept, "DS", "-1024")
	body.Text(TagRescaleSlope, "DS", "1")
	if opts != nil {
		opts(body)
	}

	pixels := make([]byte, rows*cols*2)
	for i := 0; i < rows*cols; i++ {
		binary.LittleEndian.PutUint16(pixels[2*i:], uint16(i))
	}
	body.Raw(TagPixelData, "OW", pixels)

	return EncodePart10(ExplicitVRLittleEndian, "1.2.840.10008.5.1.4.1.1.4", "1.2.3.4.100", body.Bytes())
}

func TestReadSliceExplicitVR(t *testing.T) {
	buf := encodeTestSlice(t, 4, 6, nil)

	s, err := ReadSlice(buf)
	require.NoError(t, err)

	assert.Equal(t, 4, s.Rows)
	assert.Equal(t, 6, s.Columns)
	assert.Equal(t, 16, s.Bits)
	assert.False(t, s.Signed)
	assert.False(t, s.FromJPEG)
	assert.Equal(t, ExplicitVRLittleEndian, s.TransferSyntax)
	assert.Len(t, s.Samples, 4*6*2)
	assert.Equal(t, uint16(5), binary.LittleEndian.Uint16(s.Samples[10:]))

	assert.Equal(t, 1.0, s.Slope)
	assert.Equal(t, -1024.0, s.Intercept)
	require.NotNil(t, s.WindowCenter)
	assert.Equal(t, 40.0, *s.WindowCenter)
	require.NotNil(t, s.Position)
	assert.Equal(t, [3]float64{-10.5, 20, 31.25}, *s.Position)
	require.NotNil(t, s.Orientation)
	assert.Equal(t, [6]float64{1, 0, 0, 0, 1, 0}, *s.Orientation)
	require.NotNil(t, s.PixelSpacing)
	assert.Equal(t, [2]float64{0.6, 0.5}, *s.PixelSpacing)
	require.NotNil(t, s.InstanceNumber)
	assert.Equal(t, 7, *s.InstanceNumber)

	assert.Equal(t, "1.2.3.4.100", s.SOPInstanceUID)
	assert.Equal(t, "P001", s.PatientID)
	assert.Equal(t, "MR", s.Modality)
	assert.Equal(t, "20240131", s.StudyDate)
}

func TestReadSliceImplicitVR(t *testing.T) {
	// Implicit elements are tag + 32-bit length + payload; VRs come from
	// the dictionary.
	var body bytes.Buffer
	putImplicit := func(tag Tag, payload []byte) {
		var hdr [8]byte
		binary.LittleEndian.PutUint16(hdr[0:], tag.Group())
		binary.LittleEndian.PutUint16(hdr[2:], tag.Element())
		binary.LittleEndian.PutUint32(hdr[4:], uint32(len(payload)))
		body.Write(hdr[:])
		body.Write(payload)
	}
	us := func(v uint16) []byte {
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, v)
		return b
	}
	putImplicit(TagRows, us(2))
	putImplicit(TagColumns, us(2))
	putImplicit(TagBitsAllocated, us(8))
	putImplicit(TagPixelRepresentation, us(1))
	putImplicit(TagRescaleSlope, []byte("2."))
	putImplicit(TagPixelData, []byte{1, 2, 3, 4})

	buf := EncodePart10(ImplicitVRLittleEndian, "1.2.840.10008.5.1.4.1.1.4", "1.2.3.9", body.Bytes())

	s, err := ReadSlice(buf)
	require.NoError(t, err)
	assert.Equal(t, 8, s.Bits)
	assert.True(t, s.Signed)
	assert.Equal(t, 2.0, s.Slope)
	assert.Equal(t, []byte{1, 2, 3, 4}, s.Samples)
	assert.Equal(t, ImplicitVRLittleEndian, s.TransferSyntax)
}

func TestReadSliceJPEGBaseline(t *testing.T) {
	// Encode a real baseline frame so the decode path is exercised
	// end to end.
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetGray(x, y, color.Gray{Y: 200})
		}
	}
	var jp bytes.Buffer
	require.NoError(t, jpeg.Encode(&jp, img, &jpeg.Options{Quality: 95}))

	body := NewEncoder()
	body.Shorts(TagRows, 8)
	body.Shorts(TagColumns, 8)
	body.Shorts(TagBitsAllocated, 8)
	body.Fragments(jp.Bytes())

	buf := EncodePart10(JPEGBaseline, "1.2.840.10008.5.1.4.1.1.4", "1.2.3.9", body.Bytes())

	s, err := ReadSlice(buf)
	require.NoError(t, err)
	assert.True(t, s.FromJPEG)
	assert.Equal(t, 8, s.Bits)
	assert.Len(t, s.Samples, 64)
	// Baseline is lossy; a flat frame stays close to its input level.
	assert.InDelta(t, 200, float64(s.Samples[27]), 4)
}

func TestReadSliceMissingRequiredTag(t *testing.T) {
	body := NewEncoder()
	body.Shorts(TagColumns, 4)
	body.Shorts(TagBitsAllocated, 16)
	buf := EncodePart10(ExplicitVRLittleEndian, "1.2", "1.3", body.Bytes())

	_, err := ReadSlice(buf)
	require.ErrorIs(t, err, ErrMissingRequiredTag)
	assert.Contains(t, err.Error(), "(0028,0010)")
}

func TestReadSliceUnsupportedBits(t *testing.T) {
	body := NewEncoder()
	body.Shorts(TagRows, 4)
	body.Shorts(TagColumns, 4)
	body.Shorts(TagBitsAllocated, 32)
	buf := EncodePart10(ExplicitVRLittleEndian, "1.2", "1.3", body.Bytes())

	_, err := ReadSlice(buf)
	require.ErrorIs(t, err, ErrUnsupportedBitsAllocated)
}

func TestReadSliceUnsupportedTransferSyntax(t *testing.T) {
	body := NewEncoder()
	body.Shorts(TagRows, 4)
	buf := EncodePart10("1.2.840.10008.1.2.4.91", "1.2", "1.3", body.Bytes())

	_, err := ReadSlice(buf)
	require.ErrorIs(t, err, ErrUnsupportedTransferSyntax)
}

func TestReadSlicePixelDataAbsent(t *testing.T) {
	body := NewEncoder()
	body.Shorts(TagRows, 4)
	body.Shorts(TagColumns, 4)
	body.Shorts(TagBitsAllocated, 8)
	buf := EncodePart10(ExplicitVRLittleEndian, "1.2", "1.3", body.Bytes())

	_, err := ReadSlice(buf)
	require.ErrorIs(t, err, ErrPixelDataAbsent)
}

func TestReadSliceMalformedPreamble(t *testing.T) {
	_, err := ReadSlice([]byte("definitely not a dicom object"))
	require.ErrorIs(t, err, ErrMalformedHeader)
}

func TestMalformedDecimalStringReadsAsAbsent(t *testing.T) {
	buf := encodeTestSlice(t, 2, 2, func(e *Encoder) {
		e.Text(TagPixelSpacing, "DS", "abc", "0.5")
	})

	s, err := ReadSlice(buf)
	require.NoError(t, err)
	assert.Nil(t, s.PixelSpacing, "unparseable spacing must read as absent")
}
