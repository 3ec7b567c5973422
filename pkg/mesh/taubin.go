package mesh

import "math"

// Taubin smoothing parameters. The positive inward pass followed by the
// negative outward pass removes per-cube staircasing while keeping the
// enclosed volume close to its original size.
const (
	DefaultSmoothIterations = 2
	taubinLambda            = 0.4
	taubinMu                = -0.34
)

// Smooth runs Taubin lambda/mu smoothing in place and refreshes the bounding
// box. Normals are not touched; call RecomputeNormals afterwards.
func Smooth(m *Mesh, iterations int) {
	if iterations <= 0 || m.VertexCount() == 0 {
		return
	}
	for i := 0; i < iterations; i++ {
		laplacianPass(m, taubinLambda)
		laplacianPass(m, taubinMu)
	}
	recomputeBounds(m)
}

// laplacianPass moves every vertex toward (or away from, for negative
// weights) the average of its triangle neighbors. Neighbors are counted once
// per shared triangle edge, so vertices on many triangles weigh accordingly.
// Vertices without neighbors stay put.
func laplacianPass(m *Mesh, weight float64) {
	v := m.VertexCount()
	sum := make([]float64, 3*v)
	count := make([]int, v)

	accumulate := func(dst, src uint32) {
		sum[3*dst+0] += float64(m.Positions[3*src+0])
		sum[3*dst+1] += float64(m.Positions[3*src+1])
		sum[3*dst+2] += float64(m.Positions[3*src+2])
		count[dst]++
	}

	for i := 0; i+2 < len(m.Indices); i += 3 {
		a, b, c := m.Indices[i], m.Indices[i+1], m.Indices[i+2]
		if int(a) >= v || int(b) >= v || int(c) >= v {
			continue
		}
		accumulate(a, b)
		accumulate(a, c)
		accumulate(b, a)
		accumulate(b, c)
		accumulate(c, a)
		accumulate(c, b)
	}

	for i := 0; i < v; i++ {
		if count[i] == 0 {
			continue
		}
		inv := 1 / float64(count[i])
		for k := 0; k < 3; k++ {
			avg := sum[3*i+k] * inv
			p := float64(m.Positions[3*i+k])
			m.Positions[3*i+k] = float32(p + weight*(avg-p))
		}
	}
}

// RecomputeNormals rebuilds per-vertex normals by accumulating unnormalized
// face normals (area weighting falls out of the cross product) and then
// normalizing. Vertices whose accumulated normal is near zero default to
// (0,0,1).
func RecomputeNormals(m *Mesh) {
	v := m.VertexCount()
	if len(m.Normals) != len(m.Positions) {
		m.Normals = make([]float32, len(m.Positions))
	}
	for i := range m.Normals {
		m.Normals[i] = 0
	}

	acc := make([]float64, 3*v)
	for i := 0; i+2 < len(m.Indices); i += 3 {
		ia, ib, ic := m.Indices[i], m.Indices[i+1], m.Indices[i+2]
		if int(ia) >= v || int(ib) >= v || int(ic) >= v {
			continue
		}
		ax := float64(m.Positions[3*ia+0])
		ay := float64(m.Positions[3*ia+1])
		az := float64(m.Positions[3*ia+2])

		ux := float64(m.Positions[3*ib+0]) - ax
		uy := float64(m.Positions[3*ib+1]) - ay
		uz := float64(m.Positions[3*ib+2]) - az

		wx := float64(m.Positions[3*ic+0]) - ax
		wy := float64(m.Positions[3*ic+1]) - ay
		wz := float64(m.Positions[3*ic+2]) - az

		nx := uy*wz - uz*wy
		ny := uz*wx - ux*wz
		nz := ux*wy - uy*wx

		for _, idx := range []uint32{ia, ib, ic} {
			acc[3*idx+0] += nx
			acc[3*idx+1] += ny
			acc[3*idx+2] += nz
		}
	}

	for i := 0; i < v; i++ {
		nx, ny, nz := acc[3*i], acc[3*i+1], acc[3*i+2]
		length := math.Sqrt(nx*nx + ny*ny + nz*nz)
		if length < 1e-12 {
			m.Normals[3*i+0] = 0
			m.Normals[3*i+1] = 0
			m.Normals[3*i+2] = 1
			continue
		}
		m.Normals[3*i+0] = float32(nx / length)
		m.Normals[3*i+1] = float32(ny / length)
		m.Normals[3*i+2] = float32(nz / length)
	}
}

// recomputeBounds rebuilds the bounding box from scratch after vertices move.
func recomputeBounds(m *Mesh) {
	if m.VertexCount() == 0 {
		return
	}
	m.BoundsMin = [3]float32{m.Positions[0], m.Positions[1], m.Positions[2]}
	m.BoundsMax = m.BoundsMin
	for i := 3; i < len(m.Positions); i += 3 {
		for k := 0; k < 3; k++ {
			p := m.Positions[i+k]
			if p < m.BoundsMin[k] {
				m.BoundsMin[k] = p
			}
			if p > m.BoundsMax[k] {
				m.BoundsMax[k] = p
			}
		}
	}
}
