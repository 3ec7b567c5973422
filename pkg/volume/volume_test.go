package volume

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dicom3d/pkg/dicom"
	"dicom3d/pkg/series"
)

// slice16 builds an unsigned 16-bit slice from raw sample values.
func slice16(rows, cols int, samples []uint16, z float64) *dicom.RawSlice {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[2*i:], s)
	}
	return &dicom.RawSlice{
		Rows:        rows,
		Columns:     cols,
		Bits:        16,
		Samples:     buf,
		Slope:       1,
		Position:    &[3]float64{0, 0, z},
		Orientation: &[6]float64{1, 0, 0, 0, 1, 0},
	}
}

func mustSeries(t *testing.T, slices ...*dicom.RawSlice) *series.Series {
	t.Helper()
	s, err := series.Assemble(slices)
	require.NoError(t, err)
	return s
}

func TestBuildRescaleAndWindow(t *testing.T) {
	// 4x4 samples spanning 0..1000 with intercept -500 and an explicit
	// window of center 0, width 200.
	samples := make([]uint16, 16)
	for i := range samples {
		samples[i] = uint16(i * 1000 / 15)
	}
	sl := slice16(4, 4, samples, 0)
	sl.Intercept = -500
	wc, ww := 0.0, 200.0
	sl.WindowCenter, sl.WindowWidth = &wc, &ww

	v := Build(mustSeries(t, sl))

	require.Len(t, v.Field, 16)
	assert.Equal(t, float32(-500), v.Min)
	assert.Equal(t, float32(500), v.Max)
	for _, f := range v.Field {
		assert.GreaterOrEqual(t, f, float32(-500))
		assert.LessOrEqual(t, f, float32(500))
	}

	frame := v.Display[0]
	for i, f := range v.Field {
		switch {
		case f <= -100:
			assert.Equal(t, byte(0), frame[i], "sample %d (%f)", i, f)
		case f >= 100:
			assert.Equal(t, byte(255), frame[i], "sample %d (%f)", i, f)
		default:
			expect := (float64(f) + 100) / 200 * 255
			assert.InDelta(t, expect, float64(frame[i]), 1)
		}
	}
}

func TestBuildWindowFallbackUsesSliceRange(t *testing.T) {
	sl := slice16(2, 2, []uint16{0, 100, 200, 400}, 0)

	v := Build(mustSeries(t, sl))

	frame := v.Display[0]
	assert.Equal(t, byte(0), frame[0])
	assert.Equal(t, byte(255), frame[3])
}

func TestBuildSigned8BitDisplayShift(t *testing.T) {
	sl := &dicom.RawSlice{
		Rows: 1, Columns: 4, Bits: 8, Signed: true,
		Samples: []byte{0x80, 0xFF, 0x00, 0x7F}, // -128, -1, 0, 127
		Slope:   1,
	}

	v := Build(mustSeries(t, sl))

	assert.Equal(t, []byte{0, 127, 128, 255}, v.Display[0])
	assert.Equal(t, float32(-128), v.Min)
	assert.Equal(t, float32(127), v.Max)
}

func TestBuildJPEGPassThrough(t *testing.T) {
	sl := &dicom.RawSlice{
		Rows: 1, Columns: 4, Bits: 8,
		Samples:  []byte{10, 20, 30, 40},
		FromJPEG: true,
		Slope:    2, Intercept: 100, // must be ignored
	}

	v := Build(mustSeries(t, sl))

	assert.True(t, v.Uncalibrated)
	assert.Equal(t, float32(10), v.Field[0])
	assert.Equal(t, float32(40), v.Field[3])
	assert.Equal(t, []byte{10, 20, 30, 40}, v.Display[0])
}

func TestFieldLayoutAndRangeInvariant(t *testing.T) {
	a := slice16(2, 3, []uint16{1, 2, 3, 4, 5, 6}, 0)
	b := slice16(2, 3, []uint16{7, 8, 9, 10, 11, 12}, 1)

	v := Build(mustSeries(t, a, b))

	require.Len(t, v.Field, 2*3*2)
	// index(x,y,z) = z*w*h + y*w + x
	assert.Equal(t, float32(4), v.At(0, 1, 0))
	assert.Equal(t, float32(9), v.At(2, 0, 1))
	for _, f := range v.Field {
		assert.GreaterOrEqual(t, f, v.Min)
		assert.LessOrEqual(t, f, v.Max)
	}
}

func TestAutoIsoSeparatesTwoClasses(t *testing.T) {
	// Half the voxels at 0, half at 1000: the threshold lands between.
	samples := make([]uint16, 64)
	for i := 32; i < 64; i++ {
		samples[i] = 1000
	}
	v := Build(mustSeries(t, slice16(8, 8, samples, 0)))

	assert.Greater(t, v.AutoIso, float32(0))
	assert.Less(t, v.AutoIso, float32(1000))
}

func TestAutoIsoReproducible(t *testing.T) {
	samples := make([]uint16, 256)
	for i := range samples {
		samples[i] = uint16((i * 37) % 1024)
	}
	a := Build(mustSeries(t, slice16(16, 16, samples, 0)))
	b := Build(mustSeries(t, slice16(16, 16, samples, 0)))

	assert.Equal(t, a.AutoIso, b.AutoIso)
}

func TestAutoIsoDegenerateRange(t *testing.T) {
	samples := make([]uint16, 16)
	for i := range samples {
		samples[i] = 42
	}
	v := Build(mustSeries(t, slice16(4, 4, samples, 0)))

	assert.Equal(t, float32(42), v.AutoIso)
}

func TestExtractSectionAxes(t *testing.T) {
	a := slice16(2, 2, []uint16{0, 100, 200, 300}, 0)
	b := slice16(2, 2, []uint16{400, 500, 600, 700}, 1)
	v := Build(mustSeries(t, a, b))

	for _, axis := range []string{"x", "y", "z"} {
		img, err := v.ExtractSection(axis, 0)
		require.NoError(t, err)
		require.NotNil(t, img)
	}

	_, err := v.ExtractSection("w", 0)
	require.Error(t, err)
	_, err = v.ExtractSection("z", 5)
	require.Error(t, err)
}

func TestSaveDisplayStack(t *testing.T) {
	v := Build(mustSeries(t, slice16(2, 2, []uint16{0, 1, 2, 3}, 0)))

	dir := t.TempDir()
	require.NoError(t, v.SaveDisplayStack(dir, 90))

	matches, err := filepath.Glob(filepath.Join(dir, "slice_*.jpg"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}
