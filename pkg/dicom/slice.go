package dicom

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"math"
)

// RawSlice is one parsed frame plus the tags the assembler and volume builder
// consume. Samples always holds an owned, contiguous copy of the frame in
// row-major order, little endian for 16-bit data; for JPEG Baseline objects
// the encapsulated bitstream has already been decoded into 8-bit grayscale
// and FromJPEG is set so calibration is skipped downstream.
type RawSlice struct {
	Rows    int
	Columns int
	Bits    int // 8 or 16
	Signed  bool

	TransferSyntax string
	Samples        []byte
	FromJPEG       bool

	Slope     float64 // defaults to 1
	Intercept float64 // defaults to 0

	WindowCenter *float64
	WindowWidth  *float64

	Position     *[3]float64 // Image Position (Patient)
	Orientation  *[6]float64 // Image Orientation (Patient): row then column
	PixelSpacing *[2]float64 // row spacing, column spacing (DICOM order)

	InstanceNumber *int
	SliceLocation  *float64

	SOPInstanceUID string
	SOPClassUID    string

	PatientID        string
	StudyUID         string
	SeriesUID        string
	FrameOfReference string
	Modality         string
	StudyDate        string
}

// ReadSlice parses a single DICOM object into a RawSlice.
func ReadSlice(buf []byte) (*RawSlice, error) {
	ds, tsuid, err := ParseDataSet(buf)
	if err != nil {
		return nil, err
	}

	s := &RawSlice{TransferSyntax: tsuid, Slope: 1, Intercept: 0}

	rows, ok := ds.Int(TagRows)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequiredTag, TagRows)
	}
	cols, ok := ds.Int(TagColumns)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequiredTag, TagColumns)
	}
	bits, ok := ds.Int(TagBitsAllocated)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequiredTag, TagBitsAllocated)
	}
	if bits != 8 && bits != 16 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedBitsAllocated, bits)
	}
	s.Rows, s.Columns, s.Bits = rows, cols, bits

	if rep, ok := ds.Int(TagPixelRepresentation); ok {
		s.Signed = rep == 1
	}
	if v, ok := ds.Float(TagRescaleSlope); ok {
		s.Slope = v
	}
	if v, ok := ds.Float(TagRescaleIntercept); ok {
		s.Intercept = v
	}
	if v, ok := ds.Float(TagWindowCenter); ok {
		s.WindowCenter = &v
	}
	if v, ok := ds.Float(TagWindowWidth); ok {
		s.WindowWidth = &v
	}
	if fs, ok := ds.Floats(TagImagePosition); ok && len(fs) >= 3 {
		s.Position = &[3]float64{fs[0], fs[1], fs[2]}
	}
	if fs, ok := ds.Floats(TagImageOrientation); ok && len(fs) >= 6 {
		s.Orientation = &[6]float64{fs[0], fs[1], fs[2], fs[3], fs[4], fs[5]}
	}
	if fs, ok := ds.Floats(TagPixelSpacing); ok && len(fs) >= 2 {
		s.PixelSpacing = &[2]float64{fs[0], fs[1]}
	}
	if n, ok := ds.Int(TagInstanceNumber); ok {
		s.InstanceNumber = &n
	}
	if v, ok := ds.Float(TagSliceLocation); ok {
		s.SliceLocation = &v
	}
	s.SOPInstanceUID, _ = ds.String(TagSOPInstanceUID)
	s.SOPClassUID, _ = ds.String(TagSOPClassUID)
	s.PatientID, _ = ds.String(TagPatientID)
	s.StudyUID, _ = ds.String(TagStudyInstanceUID)
	s.SeriesUID, _ = ds.String(TagSeriesInstanceUID)
	s.FrameOfReference, _ = ds.String(TagFrameOfReference)
	s.Modality, _ = ds.String(TagModality)
	s.StudyDate, _ = ds.String(TagStudyDate)

	switch tsuid {
	case JPEGBaseline:
		frags, ok := ds.PixelFragments()
		if !ok || len(frags) == 0 {
			return nil, ErrPixelDataAbsent
		}
		gray, err := decodeBaselineFragment(frags[0], rows, cols)
		if err != nil {
			return nil, err
		}
		s.Samples = gray
		s.FromJPEG = true
		s.Bits = 8
		s.Signed = false
	default:
		raw, ok := ds.PixelBytes()
		if !ok {
			return nil, ErrPixelDataAbsent
		}
		want := rows * cols * (bits / 8)
		if len(raw) < want {
			return nil, fmt.Errorf("%w: pixel payload %d bytes, frame needs %d", ErrMalformedHeader, len(raw), want)
		}
		owned := make([]byte, want)
		copy(owned, raw[:want])
		s.Samples = owned
	}

	return s, nil
}

// decodeBaselineFragment decodes the first encapsulated fragment of a JPEG
// Baseline object into rows*cols 8-bit grayscale samples. RGB output is
// reduced with the Rec.601 luminance weights, rounded to nearest.
func decodeBaselineFragment(frag []byte, rows, cols int) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(frag))
	if err != nil {
		return nil, fmt.Errorf("%w: baseline fragment: %v", ErrMalformedHeader, err)
	}
	b := img.Bounds()
	if b.Dx() != cols || b.Dy() != rows {
		return nil, fmt.Errorf("%w: decoded frame %dx%d, tags say %dx%d", ErrMalformedHeader, b.Dx(), b.Dy(), cols, rows)
	}

	out := make([]byte, rows*cols)
	if g, ok := img.(*image.Gray); ok {
		for y := 0; y < rows; y++ {
			copy(out[y*cols:(y+1)*cols], g.Pix[y*g.Stride:y*g.Stride+cols])
		}
		return out, nil
	}
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			lum := 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(bl>>8)
			out[y*cols+x] = uint8(math.Round(lum))
		}
	}
	return out, nil
}
