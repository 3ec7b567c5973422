// Package series orders parsed slices into a geometrically consistent stack
// and derives the study-level geometry the volume builder needs: origin,
// orientation, and voxel spacing in patient millimeters.
package series

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"dicom3d/pkg/dicom"
	"dicom3d/pkg/geometry"
)

var (
	// ErrEmptySeries is returned when no slices were supplied.
	ErrEmptySeries = errors.New("series: empty series")
	// ErrInconsistentSeries is returned when slices disagree on frame
	// shape, sample format, or orientation.
	ErrInconsistentSeries = errors.New("series: inconsistent series")
)

// Series is an ordered slice stack plus derived geometry. Approximate is set
// when no slice carried an orientation, in which case the identity
// orientation is assumed and exported patient coordinates are nominal only.
type Series struct {
	Slices []*dicom.RawSlice

	Origin      geometry.Vec3
	Orientation [6]float64
	Approximate bool

	// Spacing is (sx, sy, sz) in millimeters; sz is the inter-slice pitch
	// projected onto the slice normal.
	Spacing [3]float64

	Columns int
	Rows    int
	Depth   int

	PatientID        string
	StudyUID         string
	SeriesUID        string
	FrameOfReference string
	Modality         string
	StudyDate        string
}

// Assemble sorts and validates a batch of slices. Ordering is ascending by
// the z component of Image Position (Patient), ties broken by instance
// number; slices carrying neither signal keep their insertion order.
func Assemble(slices []*dicom.RawSlice) (*Series, error) {
	if len(slices) == 0 {
		return nil, ErrEmptySeries
	}

	ordered := make([]*dicom.RawSlice, len(slices))
	copy(ordered, slices)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Position != nil && b.Position != nil {
			az, bz := a.Position[2], b.Position[2]
			if az != bz {
				return az < bz
			}
		}
		if a.InstanceNumber != nil && b.InstanceNumber != nil {
			return *a.InstanceNumber < *b.InstanceNumber
		}
		return false
	})

	first := ordered[0]
	s := &Series{
		Slices:      ordered,
		Orientation: [6]float64{1, 0, 0, 0, 1, 0},
		Approximate: true,
		Columns:     first.Columns,
		Rows:        first.Rows,
		Depth:       len(ordered),
	}

	for _, sl := range ordered {
		if sl.Rows != first.Rows || sl.Columns != first.Columns {
			return nil, fmt.Errorf("%w: frame shape %dx%d vs %dx%d",
				ErrInconsistentSeries, sl.Columns, sl.Rows, first.Columns, first.Rows)
		}
		if sl.Bits != first.Bits || sl.Signed != first.Signed {
			return nil, fmt.Errorf("%w: sample format %d-bit signed=%v vs %d-bit signed=%v",
				ErrInconsistentSeries, sl.Bits, sl.Signed, first.Bits, first.Signed)
		}
	}

	// Orientation must agree across every slice that carries one.
	var ref *[6]float64
	for _, sl := range ordered {
		if sl.Orientation == nil {
			continue
		}
		if ref == nil {
			ref = sl.Orientation
			continue
		}
		for i := 0; i < 6; i++ {
			if math.Abs(sl.Orientation[i]-ref[i]) > 1e-6 {
				return nil, fmt.Errorf("%w: orientation cosine %d differs (%g vs %g)",
					ErrInconsistentSeries, i, sl.Orientation[i], ref[i])
			}
		}
	}
	if ref != nil {
		s.Orientation = *ref
		s.Approximate = false
	}

	if first.Position != nil {
		s.Origin = geometry.Vec3{first.Position[0], first.Position[1], first.Position[2]}
	}

	s.Spacing = deriveSpacing(ordered, s.Orientation)

	for _, sl := range ordered {
		if s.PatientID == "" {
			s.PatientID = sl.PatientID
		}
		if s.StudyUID == "" {
			s.StudyUID = sl.StudyUID
		}
		if s.SeriesUID == "" {
			s.SeriesUID = sl.SeriesUID
		}
		if s.FrameOfReference == "" {
			s.FrameOfReference = sl.FrameOfReference
		}
		if s.Modality == "" {
			s.Modality = sl.Modality
		}
		if s.StudyDate == "" {
			s.StudyDate = sl.StudyDate
		}
	}

	return s, nil
}

// deriveSpacing computes (sx, sy, sz). Pixel Spacing is stored (row, column)
// in the file; sx is the column pitch and sy the row pitch. The slice pitch
// is the inter-slice position delta projected onto the slice normal, falling
// back to the unprojected distance and finally to 1 mm.
func deriveSpacing(ordered []*dicom.RawSlice, orientation [6]float64) [3]float64 {
	sx, sy := 1.0, 1.0
	for _, sl := range ordered {
		if sl.PixelSpacing != nil {
			sy = sl.PixelSpacing[0]
			sx = sl.PixelSpacing[1]
			break
		}
	}

	sz := 1.0
	if len(ordered) >= 2 && ordered[0].Position != nil && ordered[1].Position != nil {
		p0 := geometry.Vec3{ordered[0].Position[0], ordered[0].Position[1], ordered[0].Position[2]}
		p1 := geometry.Vec3{ordered[1].Position[0], ordered[1].Position[1], ordered[1].Position[2]}
		delta := p1.Sub(p0)

		row := geometry.Vec3{orientation[0], orientation[1], orientation[2]}.Normalize()
		col := geometry.Vec3{orientation[3], orientation[4], orientation[5]}.Normalize()
		normal := row.Cross(col).Normalize()

		if proj := math.Abs(delta.Dot(normal)); proj > 1e-6 {
			sz = proj
		} else if dist := delta.Norm(); dist > 1e-6 {
			sz = dist
		}
	}

	return [3]float64{sx, sy, sz}
}

// Mapper returns the coordinate mapper for this series geometry.
func (s *Series) Mapper() *geometry.Mapper {
	return geometry.NewMapper(
		[3]int{s.Columns, s.Rows, s.Depth},
		s.Spacing,
		s.Origin,
		s.Orientation,
	)
}
