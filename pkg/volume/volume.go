// Package volume turns an assembled series into the calibrated scalar field
// the mesh extractor consumes, along with an 8-bit display stack for 2D
// preview and an automatic iso-value estimate.
package volume

import (
	"encoding/binary"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"dicom3d/pkg/dicom"
	"dicom3d/pkg/geometry"
	"dicom3d/pkg/series"
)

// Volume is the in-memory scalar field in modality units plus its display
// stack. The field is flattened with index(x,y,z) = z*w*h + y*w + x and is
// immutable once built.
type Volume struct {
	Width  int
	Height int
	Depth  int

	Spacing     [3]float64
	Origin      geometry.Vec3
	Orientation [9]float64

	Field []float32
	Min   float32
	Max   float32
	Mean  float64

	// AutoIso is the Otsu threshold over the whole field, in modality
	// units.
	AutoIso float32

	// Display holds one 8-bit grayscale frame per slice, row major.
	Display [][]byte

	// Uncalibrated marks fields built from JPEG-decoded frames, which
	// carry no rescale slope/intercept.
	Uncalibrated bool

	// Approximate mirrors the series flag: no orientation was present and
	// patient coordinates are nominal.
	Approximate bool

	PatientID string
	StudyUID  string
	SeriesUID string
	Modality  string
	StudyDate string
}

// Index flattens a voxel coordinate.
func (v *Volume) Index(x, y, z int) int {
	return z*v.Width*v.Height + y*v.Width + x
}

// At returns the scalar at a voxel coordinate.
func (v *Volume) At(x, y, z int) float32 {
	return v.Field[v.Index(x, y, z)]
}

// Mapper returns the coordinate mapper for this volume's geometry.
func (v *Volume) Mapper() *geometry.Mapper {
	return geometry.NewMapper(
		[3]int{v.Width, v.Height, v.Depth},
		v.Spacing,
		v.Origin,
		[6]float64{
			v.Orientation[0], v.Orientation[1], v.Orientation[2],
			v.Orientation[3], v.Orientation[4], v.Orientation[5],
		},
	)
}

// Build calibrates every slice of the series into the scalar field and
// produces the display stack. It never fails for numerically valid input;
// missing data is recorded as approximation flags instead.
func Build(s *series.Series) *Volume {
	w, h, d := s.Columns, s.Rows, s.Depth
	mapper := s.Mapper()

	v := &Volume{
		Width:       w,
		Height:      h,
		Depth:       d,
		Spacing:     s.Spacing,
		Origin:      s.Origin,
		Orientation: mapper.Matrix(),
		Field:       make([]float32, w*h*d),
		Display:     make([][]byte, d),
		Approximate: s.Approximate,
		PatientID:   s.PatientID,
		StudyUID:    s.StudyUID,
		SeriesUID:   s.SeriesUID,
		Modality:    s.Modality,
		StudyDate:   s.StudyDate,
	}

	scratch := make([]float64, w*h)
	meanSum := 0.0

	for z, sl := range s.Slices {
		calibrateSlice(sl, scratch)
		if sl.FromJPEG {
			v.Uncalibrated = true
		}

		base := z * w * h
		for i, val := range scratch {
			v.Field[base+i] = float32(val)
		}
		meanSum += stat.Mean(scratch, nil)

		v.Display[z] = displayFrame(sl, scratch)
	}

	v.Mean = meanSum / float64(d)

	min, max := v.Field[0], v.Field[0]
	for _, f := range v.Field {
		if f < min {
			min = f
		}
		if f > max {
			max = f
		}
	}
	v.Min, v.Max = min, max

	v.AutoIso = autoIso(v.Field, min, max)
	return v
}

// calibrateSlice decodes the raw samples of one slice into modality units.
// JPEG-decoded frames carry no calibration and are copied verbatim.
func calibrateSlice(sl *dicom.RawSlice, out []float64) {
	n := sl.Rows * sl.Columns
	switch {
	case sl.FromJPEG:
		for i := 0; i < n; i++ {
			out[i] = float64(sl.Samples[i])
		}
	case sl.Bits == 8 && sl.Signed:
		for i := 0; i < n; i++ {
			out[i] = float64(int8(sl.Samples[i]))*sl.Slope + sl.Intercept
		}
	case sl.Bits == 8:
		for i := 0; i < n; i++ {
			out[i] = float64(sl.Samples[i])*sl.Slope + sl.Intercept
		}
	case sl.Signed:
		for i := 0; i < n; i++ {
			raw := int16(binary.LittleEndian.Uint16(sl.Samples[2*i:]))
			out[i] = float64(raw)*sl.Slope + sl.Intercept
		}
	default:
		for i := 0; i < n; i++ {
			raw := binary.LittleEndian.Uint16(sl.Samples[2*i:])
			out[i] = float64(raw)*sl.Slope + sl.Intercept
		}
	}
}

// displayFrame renders one 8-bit preview frame from the calibrated values.
// 16-bit data is windowed (tag window if present, else the slice's own
// range); 8-bit signed data shifts by +128; everything else passes through.
func displayFrame(sl *dicom.RawSlice, values []float64) []byte {
	n := sl.Rows * sl.Columns
	frame := make([]byte, n)

	switch {
	case sl.FromJPEG:
		copy(frame, sl.Samples[:n])

	case sl.Bits == 8 && sl.Signed:
		for i := 0; i < n; i++ {
			frame[i] = byte(int(int8(sl.Samples[i])) + 128)
		}

	case sl.Bits == 8:
		copy(frame, sl.Samples[:n])

	default:
		var wc, ww float64
		if sl.WindowCenter != nil && sl.WindowWidth != nil {
			wc, ww = *sl.WindowCenter, *sl.WindowWidth
		} else {
			lo, hi := floats.Min(values), floats.Max(values)
			wc = (lo + hi) / 2
			ww = hi - lo
		}
		if ww <= 0 {
			ww = 1
		}
		lo := wc - ww/2
		for i, val := range values {
			t := (val - lo) / ww * 255
			switch {
			case t <= 0:
				frame[i] = 0
			case t >= 255:
				frame[i] = 255
			default:
				frame[i] = byte(math.Round(t))
			}
		}
	}
	return frame
}
