// Package mesh extracts an iso-surface from a scalar volume with chunked
// marching cubes and post-processes it with Taubin smoothing and area-weighted
// normal recomputation. Extraction is designed to run on a worker goroutine:
// the caller hands in the scalar field, observes progress at chunk
// boundaries, and receives an owned mesh back.
package mesh

import "errors"

// Extraction failure kinds.
var (
	// ErrDimensionTooSmall is returned when any volume dimension is below 2.
	ErrDimensionTooSmall = errors.New("mesh: volume dimension too small")
	// ErrNonFiniteIso is returned for NaN or infinite iso-values.
	ErrNonFiniteIso = errors.New("mesh: iso-value not finite")
	// ErrIsoOutOfRange is returned when the iso-value lies outside the
	// observed scalar range.
	ErrIsoOutOfRange = errors.New("mesh: iso-value outside scalar range")
	// ErrChunkBudgetExceeded is returned when one chunk would emit more
	// vertices than the per-chunk cap allows.
	ErrChunkBudgetExceeded = errors.New("mesh: chunk vertex budget exceeded")
	// ErrEmptyMesh is returned when the surface does not intersect the
	// volume and no geometry was emitted.
	ErrEmptyMesh = errors.New("mesh: empty mesh")
	// ErrCancelled is returned when extraction was cancelled between
	// chunks.
	ErrCancelled = errors.New("mesh: extraction cancelled")
)

// Mesh is an indexed triangle surface in patient coordinates. Positions and
// Normals hold three float32 per vertex, Indices three vertex ids per
// triangle. Every normal is unit length once published.
type Mesh struct {
	Positions []float32
	Normals   []float32
	Indices   []uint32

	BoundsMin [3]float32
	BoundsMax [3]float32
}

// VertexCount returns the number of vertices.
func (m *Mesh) VertexCount() int { return len(m.Positions) / 3 }

// TriangleCount returns the number of triangles.
func (m *Mesh) TriangleCount() int { return len(m.Indices) / 3 }

// accumulateBounds grows the bounding box to cover a vertex.
func (m *Mesh) accumulateBounds(x, y, z float32) {
	if m.VertexCount() == 0 {
		m.BoundsMin = [3]float32{x, y, z}
		m.BoundsMax = [3]float32{x, y, z}
		return
	}
	if x < m.BoundsMin[0] {
		m.BoundsMin[0] = x
	}
	if y < m.BoundsMin[1] {
		m.BoundsMin[1] = y
	}
	if z < m.BoundsMin[2] {
		m.BoundsMin[2] = z
	}
	if x > m.BoundsMax[0] {
		m.BoundsMax[0] = x
	}
	if y > m.BoundsMax[1] {
		m.BoundsMax[1] = y
	}
	if z > m.BoundsMax[2] {
		m.BoundsMax[2] = z
	}
}
