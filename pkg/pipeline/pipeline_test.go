package pipeline

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dicom3d/pkg/dicom"
	"dicom3d/pkg/mesh"
)

// writeSyntheticSeries encodes a small series of 16-bit slices containing a
// bright centered square, one file per slice.
func writeSyntheticSeries(t *testing.T, dir string, depth int) {
	t.Helper()
	const size = 12
	for z := 0; z < depth; z++ {
		body := dicom.NewEncoder()
		body.Text(dicom.TagSOPClassUID, "UI", "1.2.840.10008.5.1.4.1.1.4")
		body.Text(dicom.TagSOPInstanceUID, "UI", fmt.Sprintf("1.2.3.100.%d", z+1))
		body.Text(dicom.TagModality, "CS", "MR")
		body.Text(dicom.TagSeriesInstanceUID, "UI", "1.2.3.200")
		body.Text(dicom.TagStudyInstanceUID, "UI", "1.2.3.300")
		body.Text(dicom.TagInstanceNumber, "IS", fmt.Sprintf("%d", z+1))
		body.Text(dicom.TagImagePosition, "DS", "0", "0", fmt.Sprintf("%d", 2*z))
		body.Text(dicom.TagImageOrientation, "DS", "1", "0", "0", "0", "1", "0")
		body.Text(dicom.TagPixelSpacing, "DS", "1", "1")
		body.Shorts(dicom.TagRows, size)
		body.Shorts(dicom.TagColumns, size)
		body.Shorts(dicom.TagBitsAllocated, 16)
		body.Shorts(dicom.TagPixelRepresentation, 0)

		pixels := make([]byte, size*size*2)
		if z > 1 && z < depth-2 {
			for y := 3; y < size-3; y++ {
				for x := 3; x < size-3; x++ {
					binary.LittleEndian.PutUint16(pixels[2*(y*size+x):], 1000)
				}
			}
		}
		body.Raw(dicom.TagPixelData, "OW", pixels)

		buf := dicom.EncodePart10(dicom.ExplicitVRLittleEndian, "1.2.840.10008.5.1.4.1.1.4",
			fmt.Sprintf("1.2.3.100.%d", z+1), body.Bytes())
		path := filepath.Join(dir, fmt.Sprintf("IMG%03d.dcm", z+1))
		require.NoError(t, os.WriteFile(path, buf, 0644))
	}
}

func TestLoadDirectoryEmpty(t *testing.T) {
	_, err := LoadDirectory(t.TempDir())
	require.ErrorIs(t, err, ErrNoInput)
}

func TestLoadDirectoryIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	writeSyntheticSeries(t, dir, 3)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("notes"), 0644))

	slices, err := LoadDirectory(dir)
	require.NoError(t, err)
	assert.Len(t, slices, 3)
}

func TestRunFullPipeline(t *testing.T) {
	dir := t.TempDir()
	writeSyntheticSeries(t, dir, 8)

	var progress []float64
	res, err := Run(context.Background(), Params{
		InputDir:         dir,
		Iso:              500,
		SmoothIterations: mesh.DefaultSmoothIterations,
		Progress:         func(p float64) { progress = append(progress, p) },
	})
	require.NoError(t, err)

	assert.Equal(t, 8, res.Series.Depth)
	assert.Equal(t, [3]float64{1, 1, 2}, res.Volume.Spacing)
	assert.Equal(t, 500.0, res.Iso)

	require.NotNil(t, res.Mesh)
	assert.Greater(t, res.Mesh.VertexCount(), 0)
	for _, idx := range res.Mesh.Indices {
		assert.Less(t, int(idx), res.Mesh.VertexCount())
	}

	require.NotEmpty(t, progress)
	assert.Equal(t, 1.0, progress[len(progress)-1])
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i], progress[i-1])
	}
}

func TestRunAutoIso(t *testing.T) {
	dir := t.TempDir()
	writeSyntheticSeries(t, dir, 8)

	res, err := Run(context.Background(), Params{InputDir: dir, Iso: math.NaN()})
	require.NoError(t, err)
	assert.Equal(t, float64(res.Volume.AutoIso), res.Iso)
	require.NotNil(t, res.Mesh)
}

func TestGenerateMeshCancellation(t *testing.T) {
	dir := t.TempDir()
	writeSyntheticSeries(t, dir, 8)

	slices, err := LoadDirectory(dir)
	require.NoError(t, err)
	_, vol, err := BuildVolume(slices)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = GenerateMesh(ctx, vol, Params{Iso: 500})
	require.ErrorIs(t, err, mesh.ErrCancelled)
}
