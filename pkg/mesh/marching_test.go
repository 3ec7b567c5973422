package mesh

import (
	"context"
	"errors"
	"math"
	"testing"

	"dicom3d/pkg/geometry"
)

// unitMapper returns an identity-orientation mapper with unit spacing.
func unitMapper(dims [3]int) *geometry.Mapper {
	return geometry.NewMapper(dims, [3]float64{1, 1, 1}, geometry.Vec3{}, [6]float64{1, 0, 0, 0, 1, 0})
}

// cubeField builds the 16x16x16 test volume: 1 inside the centered cube of
// half-width 5, 0 outside.
func cubeField() []float32 {
	const size = 16
	data := make([]float32, size*size*size)
	for z := 0; z < size; z++ {
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				dx := math.Abs(float64(x) - 7.5)
				dy := math.Abs(float64(y) - 7.5)
				dz := math.Abs(float64(z) - 7.5)
				if math.Max(dx, math.Max(dy, dz)) <= 5 {
					data[z*size*size+y*size+x] = 1
				}
			}
		}
	}
	return data
}

func sphereField(size int) []float32 {
	data := make([]float32, size*size*size)
	radius := float64(size) / 4
	center := float64(size) / 2
	for z := 0; z < size; z++ {
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				dx := float64(x) - center
				dy := float64(y) - center
				dz := float64(z) - center
				if math.Sqrt(dx*dx+dy*dy+dz*dz) < radius {
					data[z*size*size+y*size+x] = 1
				}
			}
		}
	}
	return data
}

func TestExtractCubeVolume(t *testing.T) {
	dims := [3]int{16, 16, 16}
	m, err := Extract(context.Background(), cubeField(), dims, unitMapper(dims), Options{Iso: 0.5})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if m.VertexCount() <= 200 {
		t.Errorf("Expected more than 200 vertices for the cube surface, got %d", m.VertexCount())
	}
	if m.TriangleCount() == 0 {
		t.Fatal("No triangles generated")
	}
	for _, idx := range m.Indices {
		if int(idx) >= m.VertexCount() {
			t.Fatalf("Index %d out of range (V=%d)", idx, m.VertexCount())
		}
	}

	// The inside runs from voxel 3 to 12; crossings interpolate to 2.5
	// and 12.5 on every axis.
	for k := 0; k < 3; k++ {
		if m.BoundsMin[k] < 2 || m.BoundsMin[k] > 3 {
			t.Errorf("BoundsMin[%d] = %f, want within [2,3]", k, m.BoundsMin[k])
		}
		if m.BoundsMax[k] < 12 || m.BoundsMax[k] > 13 {
			t.Errorf("BoundsMax[%d] = %f, want within [12,13]", k, m.BoundsMax[k])
		}
		if m.BoundsMin[k] > m.BoundsMax[k] {
			t.Errorf("BoundsMin[%d] exceeds BoundsMax", k)
		}
	}
}

func TestExtractIsoOutOfRange(t *testing.T) {
	dims := [3]int{16, 16, 16}
	_, err := Extract(context.Background(), cubeField(), dims, unitMapper(dims), Options{Iso: 2.0})
	if !errors.Is(err, ErrIsoOutOfRange) {
		t.Fatalf("Expected ErrIsoOutOfRange, got %v", err)
	}
}

func TestExtractDimensionTooSmall(t *testing.T) {
	dims := [3]int{1, 4, 4}
	_, err := Extract(context.Background(), make([]float32, 16), dims, unitMapper(dims), Options{Iso: 0})
	if !errors.Is(err, ErrDimensionTooSmall) {
		t.Fatalf("Expected ErrDimensionTooSmall, got %v", err)
	}
}

func TestExtractNonFiniteIso(t *testing.T) {
	dims := [3]int{4, 4, 4}
	data := make([]float32, 64)
	for _, iso := range []float64{math.NaN(), math.Inf(1)} {
		_, err := Extract(context.Background(), data, dims, unitMapper(dims), Options{Iso: iso})
		if !errors.Is(err, ErrNonFiniteIso) {
			t.Fatalf("Expected ErrNonFiniteIso for iso=%v, got %v", iso, err)
		}
	}
}

func TestExtractFlatFieldAtIsoYieldsEmptyMesh(t *testing.T) {
	// A flat field has min == max == iso; every corner compares equal,
	// no cell crosses, and the extractor reports an empty mesh.
	dims := [3]int{4, 4, 4}
	data := make([]float32, 64)
	_, err := Extract(context.Background(), data, dims, unitMapper(dims), Options{Iso: 0})
	if !errors.Is(err, ErrEmptyMesh) {
		t.Fatalf("Expected ErrEmptyMesh, got %v", err)
	}
}

func TestExtractSphereNormalsPointOutward(t *testing.T) {
	// The inside of the surface is the region below the iso-value, and
	// normals point away from it. Invert the sphere field so the ball is
	// that region; outward then means away from the ball's center.
	size := 20
	dims := [3]int{size, size, size}
	field := sphereField(size)
	for i := range field {
		field[i] = 1 - field[i]
	}
	m, err := Extract(context.Background(), field, dims, unitMapper(dims), Options{Iso: 0.5})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	center := float32(size) / 2
	checked := 0
	for i := 0; i < m.VertexCount() && checked < 50; i++ {
		vx := m.Positions[3*i] - center
		vy := m.Positions[3*i+1] - center
		vz := m.Positions[3*i+2] - center
		mag := float32(math.Sqrt(float64(vx*vx + vy*vy + vz*vz)))
		if mag == 0 {
			continue
		}
		dot := (vx*m.Normals[3*i] + vy*m.Normals[3*i+1] + vz*m.Normals[3*i+2]) / mag
		if dot < -0.5 {
			t.Errorf("Vertex %d normal appears to point inward, dot product: %f", i, dot)
		}
		checked++
	}
}

func TestExtractNormalsAreUnitLength(t *testing.T) {
	size := 20
	dims := [3]int{size, size, size}
	m, err := Extract(context.Background(), sphereField(size), dims, unitMapper(dims), Options{Iso: 0.5})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	for i := 0; i < m.VertexCount(); i++ {
		nx := float64(m.Normals[3*i])
		ny := float64(m.Normals[3*i+1])
		nz := float64(m.Normals[3*i+2])
		l := math.Sqrt(nx*nx + ny*ny + nz*nz)
		if math.Abs(l-1) > 1e-3 {
			t.Fatalf("Normal %d has length %f", i, l)
		}
	}
}

func TestExtractSharesVerticesWithinChunk(t *testing.T) {
	size := 20
	dims := [3]int{size, size, size}
	m, err := Extract(context.Background(), sphereField(size), dims, unitMapper(dims), Options{Iso: 0.5})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	// Adjacent cells share edge vertices, so a closed surface carries far
	// fewer vertices than 3 per triangle.
	if m.VertexCount() >= 3*m.TriangleCount() {
		t.Errorf("No vertex sharing: V=%d, T=%d", m.VertexCount(), m.TriangleCount())
	}
}

func TestExtractProgressMonotoneAndComplete(t *testing.T) {
	size := 20
	dims := [3]int{size, size, size}
	var values []float64
	_, err := Extract(context.Background(), sphereField(size), dims, unitMapper(dims), Options{
		Iso:       0.5,
		ChunkSize: 8,
		Progress:  func(p float64) { values = append(values, p) },
	})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(values) < 2 {
		t.Fatalf("Expected multiple chunks with chunk size 8, got %d progress events", len(values))
	}
	for i := 1; i < len(values); i++ {
		if values[i] < values[i-1] {
			t.Fatalf("Progress regressed: %f -> %f", values[i-1], values[i])
		}
	}
	if values[len(values)-1] != 1.0 {
		t.Errorf("Final progress = %f, want 1.0", values[len(values)-1])
	}
}

func TestExtractChunkedMatchesUnchunkedTriangleScale(t *testing.T) {
	// Chunk seams duplicate one cell layer, so counts differ slightly,
	// but the surface must stay in the same place.
	size := 20
	dims := [3]int{size, size, size}
	whole, err := Extract(context.Background(), sphereField(size), dims, unitMapper(dims), Options{Iso: 0.5, ChunkSize: 64})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	chunked, err := Extract(context.Background(), sphereField(size), dims, unitMapper(dims), Options{Iso: 0.5, ChunkSize: 8})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	for k := 0; k < 3; k++ {
		if math.Abs(float64(whole.BoundsMin[k]-chunked.BoundsMin[k])) > 1e-4 {
			t.Errorf("BoundsMin[%d] differs between chunkings: %f vs %f", k, whole.BoundsMin[k], chunked.BoundsMin[k])
		}
		if math.Abs(float64(whole.BoundsMax[k]-chunked.BoundsMax[k])) > 1e-4 {
			t.Errorf("BoundsMax[%d] differs between chunkings: %f vs %f", k, whole.BoundsMax[k], chunked.BoundsMax[k])
		}
	}
	if chunked.TriangleCount() < whole.TriangleCount() {
		t.Errorf("Chunked run dropped triangles: %d vs %d", chunked.TriangleCount(), whole.TriangleCount())
	}
}

func TestExtractIsoMonotonicityOnGradient(t *testing.T) {
	// scalar = x: lower iso-values cut planes of identical area, so the
	// vertex count must not grow with the threshold.
	size := 16
	dims := [3]int{size, size, size}
	data := make([]float32, size*size*size)
	for z := 0; z < size; z++ {
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				data[z*size*size+y*size+x] = float32(x)
			}
		}
	}
	lo, err := Extract(context.Background(), data, dims, unitMapper(dims), Options{Iso: 3.3})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	hi, err := Extract(context.Background(), data, dims, unitMapper(dims), Options{Iso: 11.7})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if lo.VertexCount() < hi.VertexCount() {
		t.Errorf("Vertex count grew with iso: %d at 3.3 vs %d at 11.7", lo.VertexCount(), hi.VertexCount())
	}
}

func TestExtractCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dims := [3]int{16, 16, 16}
	_, err := Extract(ctx, cubeField(), dims, unitMapper(dims), Options{Iso: 0.5})
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("Expected ErrCancelled, got %v", err)
	}
}

func TestExtractAppliesSpacingAndOrigin(t *testing.T) {
	dims := [3]int{16, 16, 16}
	mapper := geometry.NewMapper(dims, [3]float64{2, 1, 0.5}, geometry.Vec3{100, 200, 300}, [6]float64{1, 0, 0, 0, 1, 0})
	m, err := Extract(context.Background(), cubeField(), dims, mapper, Options{Iso: 0.5})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	// Grid x in [2.5, 12.5] scales by 2 and shifts by 100.
	if m.BoundsMin[0] < 104 || m.BoundsMin[0] > 106 {
		t.Errorf("BoundsMin[0] = %f, want about 105", m.BoundsMin[0])
	}
	if m.BoundsMax[2] < 305.5 || m.BoundsMax[2] > 307 {
		t.Errorf("BoundsMax[2] = %f, want about 306.25", m.BoundsMax[2])
	}
}
