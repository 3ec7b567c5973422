package mesh

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// WriteSTL streams the mesh as binary STL: an 80-byte header, a uint32
// triangle count, then 50 bytes per triangle (facet normal, three vertices,
// attribute word). Facet normals are recomputed from the triangle plane; the
// per-vertex normals are a rendering surface and do not round-trip through
// STL.
func WriteSTL(w io.Writer, m *Mesh) error {
	bw := bufio.NewWriter(w)

	var header [80]byte
	copy(header[:], "dicom3d iso-surface")
	if _, err := bw.Write(header[:]); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(m.TriangleCount())); err != nil {
		return err
	}

	var record [50]byte
	for i := 0; i+2 < len(m.Indices); i += 3 {
		a, b, c := m.Indices[i], m.Indices[i+1], m.Indices[i+2]

		ax, ay, az := m.vertex(a)
		bx, by, bz := m.vertex(b)
		cx, cy, cz := m.vertex(c)

		nx, ny, nz := faceNormal(ax, ay, az, bx, by, bz, cx, cy, cz)

		put := func(off int, vals ...float32) {
			for k, v := range vals {
				binary.LittleEndian.PutUint32(record[off+4*k:], math.Float32bits(v))
			}
		}
		put(0, nx, ny, nz)
		put(12, ax, ay, az)
		put(24, bx, by, bz)
		put(36, cx, cy, cz)
		record[48], record[49] = 0, 0

		if _, err := bw.Write(record[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// SaveToSTL writes the mesh to a binary STL file.
func SaveToSTL(path string, m *Mesh) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create STL file: %w", err)
	}
	if err := WriteSTL(f, m); err != nil {
		f.Close()
		return fmt.Errorf("failed to write STL file: %w", err)
	}
	return f.Close()
}

func (m *Mesh) vertex(i uint32) (float32, float32, float32) {
	return m.Positions[3*i], m.Positions[3*i+1], m.Positions[3*i+2]
}

func faceNormal(ax, ay, az, bx, by, bz, cx, cy, cz float32) (float32, float32, float32) {
	ux, uy, uz := float64(bx-ax), float64(by-ay), float64(bz-az)
	wx, wy, wz := float64(cx-ax), float64(cy-ay), float64(cz-az)

	nx := uy*wz - uz*wy
	ny := uz*wx - ux*wz
	nz := ux*wy - uy*wx

	length := math.Sqrt(nx*nx + ny*ny + nz*nz)
	if length < 1e-12 {
		return 0, 0, 1
	}
	return float32(nx / length), float32(ny / length), float32(nz / length)
}
