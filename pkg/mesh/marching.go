package mesh

import (
	"context"
	"fmt"
	"math"

	"dicom3d/pkg/geometry"
)

const (
	// DefaultChunkSize is the cube side, in voxels, of one extraction
	// chunk.
	DefaultChunkSize = 64

	// chunkOverlap keeps boundary cells on both sides of a chunk seam so
	// the concatenated surface stays C0-continuous without a global
	// vertex map.
	chunkOverlap = 2

	// chunkVertexBudget caps the vertices one chunk may emit.
	chunkVertexBudget = 4_000_000

	// quantScale converts grid coordinates into the integer dedup key.
	quantScale = 1e5

	// patientTolerance disambiguates quantization collisions.
	patientTolerance = 1e-4
)

// Options tunes one extraction run. Progress, when set, receives a monotone
// fraction in (0,1] after every chunk; it is the only point where
// cancellation is observed.
type Options struct {
	Iso       float64
	ChunkSize int
	Progress  func(float64)
}

// Extract runs chunked marching cubes over a flattened scalar field (index
// z*w*h + y*w + x) and returns the surface in patient coordinates. The field
// is only read; the returned mesh is owned by the caller.
func Extract(ctx context.Context, field []float32, dims [3]int, mapper *geometry.Mapper, opts Options) (*Mesh, error) {
	if dims[0] < 2 || dims[1] < 2 || dims[2] < 2 {
		return nil, fmt.Errorf("%w: %dx%dx%d", ErrDimensionTooSmall, dims[0], dims[1], dims[2])
	}
	if math.IsNaN(opts.Iso) || math.IsInf(opts.Iso, 0) {
		return nil, ErrNonFiniteIso
	}

	min, max := field[0], field[0]
	for _, f := range field {
		if f < min {
			min = f
		}
		if f > max {
			max = f
		}
	}
	if opts.Iso < float64(min) || opts.Iso > float64(max) {
		return nil, fmt.Errorf("%w: iso %g, observed [%g, %g]", ErrIsoOutOfRange, opts.Iso, min, max)
	}

	size := opts.ChunkSize
	if size < 4 {
		size = DefaultChunkSize
	}
	step := size - chunkOverlap

	starts := func(dim int) []int {
		var out []int
		for s := 0; ; s += step {
			out = append(out, s)
			if s+size >= dim {
				break
			}
		}
		return out
	}
	xs, ys, zs := starts(dims[0]), starts(dims[1]), starts(dims[2])
	total := len(xs) * len(ys) * len(zs)

	out := &Mesh{}
	processed := 0

	for _, cz := range zs {
		for _, cy := range ys {
			for _, cx := range xs {
				if ctx != nil {
					if err := ctx.Err(); err != nil {
						return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
					}
				}

				chunk, err := extractChunk(field, dims, mapper, opts.Iso, [3]int{cx, cy, cz}, size)
				if err != nil {
					return nil, err
				}
				appendChunk(out, chunk)

				processed++
				if opts.Progress != nil {
					opts.Progress(float64(processed) / float64(total))
				}
			}
		}
	}

	if out.VertexCount() == 0 {
		return nil, ErrEmptyMesh
	}
	out.Normals = make([]float32, len(out.Positions))
	RecomputeNormals(out)
	return out, nil
}

// chunkMesh carries one chunk's geometry before index rebasing.
type chunkMesh struct {
	positions []float32
	indices   []uint32
}

// vertexRef pairs a chunk-local vertex id with its patient-space position
// for collision checks on the quantized key.
type vertexRef struct {
	index   uint32
	patient geometry.Vec3
}

// extractChunk walks the cells of one chunk, deduplicating vertices through a
// map keyed by the quantized grid coordinate. Cross-chunk duplicates are left
// alone on purpose: the overlap plus the later normal recomputation keeps the
// rendered seam invisible while per-chunk state stays bounded.
func extractChunk(field []float32, dims [3]int, mapper *geometry.Mapper, iso float64, origin [3]int, size int) (*chunkMesh, error) {
	w, h := dims[0], dims[1]

	x1 := origin[0] + size
	if x1 > dims[0] {
		x1 = dims[0]
	}
	y1 := origin[1] + size
	if y1 > dims[1] {
		y1 = dims[1]
	}
	z1 := origin[2] + size
	if z1 > dims[2] {
		z1 = dims[2]
	}

	cm := &chunkMesh{}
	if x1-origin[0] < 2 || y1-origin[1] < 2 || z1-origin[2] < 2 {
		return cm, nil
	}

	verts := make(map[[3]int64][]vertexRef)

	addVertex := func(g geometry.Vec3) (uint32, error) {
		key := [3]int64{
			int64(math.Round(g[0] * quantScale)),
			int64(math.Round(g[1] * quantScale)),
			int64(math.Round(g[2] * quantScale)),
		}
		p := mapper.VoxelToPatient(g)
		for _, ref := range verts[key] {
			if math.Abs(ref.patient[0]-p[0]) <= patientTolerance &&
				math.Abs(ref.patient[1]-p[1]) <= patientTolerance &&
				math.Abs(ref.patient[2]-p[2]) <= patientTolerance {
				return ref.index, nil
			}
		}
		if len(cm.positions)/3 >= chunkVertexBudget {
			return 0, fmt.Errorf("%w: cap %d", ErrChunkBudgetExceeded, chunkVertexBudget)
		}
		idx := uint32(len(cm.positions) / 3)
		cm.positions = append(cm.positions, float32(p[0]), float32(p[1]), float32(p[2]))
		verts[key] = append(verts[key], vertexRef{index: idx, patient: p})
		return idx, nil
	}

	var vals [8]float64
	for z := origin[2]; z < z1-1; z++ {
		for y := origin[1]; y < y1-1; y++ {
			for x := origin[0]; x < x1-1; x++ {
				cubeIndex := 0
				for i, off := range cornerOffset {
					v := float64(field[(z+off[2])*w*h+(y+off[1])*w+(x+off[0])])
					vals[i] = v
					if v < iso {
						cubeIndex |= 1 << i
					}
				}

				edges := edgeTable[cubeIndex]
				if edges == 0 {
					continue
				}

				var edgeVertex [12]uint32
				for e := 0; e < 12; e++ {
					if edges&(1<<e) == 0 {
						continue
					}
					a, b := edgeCorners[e][0], edgeCorners[e][1]
					pa := geometry.Vec3{
						float64(x + cornerOffset[a][0]),
						float64(y + cornerOffset[a][1]),
						float64(z + cornerOffset[a][2]),
					}
					pb := geometry.Vec3{
						float64(x + cornerOffset[b][0]),
						float64(y + cornerOffset[b][1]),
						float64(z + cornerOffset[b][2]),
					}
					t := 0.5
					if diff := vals[b] - vals[a]; math.Abs(diff) >= 1e-8 {
						t = (iso - vals[a]) / diff
					}
					g := pa.Add(pb.Sub(pa).Scale(t))

					idx, err := addVertex(g)
					if err != nil {
						return nil, err
					}
					edgeVertex[e] = idx
				}

				row := triTable[cubeIndex]
				for i := 0; row[i] != -1; i += 3 {
					cm.indices = append(cm.indices,
						edgeVertex[row[i]],
						edgeVertex[row[i+1]],
						edgeVertex[row[i+2]],
					)
				}
			}
		}
	}

	return cm, nil
}

// appendChunk concatenates chunk geometry, rebasing indices by the running
// vertex offset and growing the bounding box.
func appendChunk(out *Mesh, chunk *chunkMesh) {
	base := uint32(out.VertexCount())
	for i := 0; i < len(chunk.positions); i += 3 {
		out.accumulateBounds(chunk.positions[i], chunk.positions[i+1], chunk.positions[i+2])
		out.Positions = append(out.Positions, chunk.positions[i], chunk.positions[i+1], chunk.positions[i+2])
	}
	for _, idx := range chunk.indices {
		out.Indices = append(out.Indices, base+idx)
	}
}
