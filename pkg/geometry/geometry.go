// Package geometry maps between the three coordinate systems used throughout
// the pipeline: normalized [0,1]^3 volume coordinates, integer voxel indices,
// and patient-space millimeters as defined by the DICOM image position and
// orientation tags. It is a pure library; every other component that needs to
// convert a coordinate goes through a Mapper so the conversions cannot drift
// apart.
package geometry

import (
	"errors"
	"fmt"
	"math"
)

// ErrSingularOrientation is returned when the orientation matrix cannot be
// inverted for a patient-to-voxel conversion.
var ErrSingularOrientation = errors.New("geometry: orientation matrix is singular")

// Vec3 is a 3-component vector in whatever space the caller is working in.
type Vec3 [3]float64

// Add returns v + w.
func (v Vec3) Add(w Vec3) Vec3 {
	return Vec3{v[0] + w[0], v[1] + w[1], v[2] + w[2]}
}

// Sub returns v - w.
func (v Vec3) Sub(w Vec3) Vec3 {
	return Vec3{v[0] - w[0], v[1] - w[1], v[2] - w[2]}
}

// Scale returns v scaled componentwise by s.
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{v[0] * s, v[1] * s, v[2] * s}
}

// Dot returns the dot product of v and w.
func (v Vec3) Dot(w Vec3) float64 {
	return v[0]*w[0] + v[1]*w[1] + v[2]*w[2]
}

// Cross returns the cross product v x w.
func (v Vec3) Cross(w Vec3) Vec3 {
	return Vec3{
		v[1]*w[2] - v[2]*w[1],
		v[2]*w[0] - v[0]*w[2],
		v[0]*w[1] - v[1]*w[0],
	}
}

// Norm returns the Euclidean length of v.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.Dot(v))
}

// Normalize returns v scaled to unit length. A zero vector is returned
// unchanged.
func (v Vec3) Normalize() Vec3 {
	n := v.Norm()
	if n == 0 {
		return v
	}
	return v.Scale(1 / n)
}

// Mapper converts coordinates for one volume. The orientation is stored as
// three direction vectors (row, column, slice normal); together with the
// voxel spacing and the patient-space origin they fully determine the affine
// relation between voxel indices and patient millimeters.
type Mapper struct {
	// Dims holds the voxel counts (columns, rows, slices).
	Dims [3]int

	// Spacing holds the voxel pitch in millimeters along each axis.
	Spacing [3]float64

	// Origin is the patient-space position of voxel (0,0,0), i.e. the
	// Image Position (Patient) of the first slice.
	Origin Vec3

	// Row, Col, Normal are the unit direction vectors of the image rows,
	// image columns, and the slice stacking axis. Normal is always the
	// normalized cross product Row x Col.
	Row, Col, Normal Vec3
}

// NewMapper builds a Mapper from the series geometry. orientation carries the
// six Image Orientation (Patient) cosines: row direction then column
// direction. The slice normal is derived, never read from the file.
func NewMapper(dims [3]int, spacing [3]float64, origin Vec3, orientation [6]float64) *Mapper {
	row := Vec3{orientation[0], orientation[1], orientation[2]}.Normalize()
	col := Vec3{orientation[3], orientation[4], orientation[5]}.Normalize()
	return &Mapper{
		Dims:    dims,
		Spacing: spacing,
		Origin:  origin,
		Row:     row,
		Col:     col,
		Normal:  row.Cross(col).Normalize(),
	}
}

// Matrix returns the 9-entry orientation matrix in row/col/slice order, the
// layout carried by volume metadata and annotation exports.
func (m *Mapper) Matrix() [9]float64 {
	return [9]float64{
		m.Row[0], m.Row[1], m.Row[2],
		m.Col[0], m.Col[1], m.Col[2],
		m.Normal[0], m.Normal[1], m.Normal[2],
	}
}

// NormalizedToVoxel maps a normalized [0,1]^3 coordinate onto the voxel grid.
func (m *Mapper) NormalizedToVoxel(p Vec3) Vec3 {
	return Vec3{
		p[0] * float64(m.Dims[0]-1),
		p[1] * float64(m.Dims[1]-1),
		p[2] * float64(m.Dims[2]-1),
	}
}

// VoxelToNormalized maps a voxel coordinate into [0,1]^3. Axes with a single
// voxel map to 0 rather than dividing by zero.
func (m *Mapper) VoxelToNormalized(v Vec3) Vec3 {
	var out Vec3
	for i := 0; i < 3; i++ {
		if m.Dims[i] <= 1 {
			out[i] = 0
			continue
		}
		out[i] = v[i] / float64(m.Dims[i]-1)
	}
	return out
}

// VoxelToPatient maps a (possibly fractional) voxel coordinate into patient
// millimeters: scale by the spacing, rotate through the orientation matrix,
// translate by the origin.
func (m *Mapper) VoxelToPatient(v Vec3) Vec3 {
	sx := v[0] * m.Spacing[0]
	sy := v[1] * m.Spacing[1]
	sz := v[2] * m.Spacing[2]
	return Vec3{
		m.Origin[0] + sx*m.Row[0] + sy*m.Col[0] + sz*m.Normal[0],
		m.Origin[1] + sx*m.Row[1] + sy*m.Col[1] + sz*m.Normal[1],
		m.Origin[2] + sx*m.Row[2] + sy*m.Col[2] + sz*m.Normal[2],
	}
}

// PatientToVoxel inverts VoxelToPatient. The 3x3 orientation matrix is
// inverted through its cofactors; ErrSingularOrientation is returned when the
// determinant magnitude falls below 1e-8.
func (m *Mapper) PatientToVoxel(p Vec3) (Vec3, error) {
	// Matrix columns are the direction vectors.
	a, b, c := m.Row, m.Col, m.Normal

	det := a[0]*(b[1]*c[2]-b[2]*c[1]) -
		b[0]*(a[1]*c[2]-a[2]*c[1]) +
		c[0]*(a[1]*b[2]-a[2]*b[1])
	if math.Abs(det) < 1e-8 {
		return Vec3{}, fmt.Errorf("%w: |det| = %g", ErrSingularOrientation, math.Abs(det))
	}

	d := p.Sub(m.Origin)

	// Rows of the inverse, scaled by 1/det (cofactor expansion of the
	// column matrix [a b c]).
	inv0 := Vec3{b[1]*c[2] - b[2]*c[1], b[2]*c[0] - b[0]*c[2], b[0]*c[1] - b[1]*c[0]}
	inv1 := Vec3{a[2]*c[1] - a[1]*c[2], a[0]*c[2] - a[2]*c[0], a[1]*c[0] - a[0]*c[1]}
	inv2 := Vec3{a[1]*b[2] - a[2]*b[1], a[2]*b[0] - a[0]*b[2], a[0]*b[1] - a[1]*b[0]}

	s := Vec3{inv0.Dot(d) / det, inv1.Dot(d) / det, inv2.Dot(d) / det}

	return Vec3{s[0] / m.Spacing[0], s[1] / m.Spacing[1], s[2] / m.Spacing[2]}, nil
}

// NormalizedToPatient is the composition used by the annotation exporters.
func (m *Mapper) NormalizedToPatient(p Vec3) Vec3 {
	return m.VoxelToPatient(m.NormalizedToVoxel(p))
}

// PatientToNormalized is the composition used by the annotation importers.
func (m *Mapper) PatientToNormalized(p Vec3) (Vec3, error) {
	v, err := m.PatientToVoxel(p)
	if err != nil {
		return Vec3{}, err
	}
	return m.VoxelToNormalized(v), nil
}

// Clamp01 clamps every component of p into [0,1].
func Clamp01(p Vec3) Vec3 {
	for i := range p {
		if p[i] < 0 {
			p[i] = 0
		} else if p[i] > 1 {
			p[i] = 1
		}
	}
	return p
}
