// Package annotation models the markers, arrows, and labels placed on a
// reconstructed volume, persists them as JSON, and round-trips them through a
// DICOM structured report in patient coordinates. Annotations live in
// normalized [0,1]^3 volume coordinates so they survive re-windowing and
// resampling; only the codecs convert to and from millimeters.
package annotation

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the annotation variants.
type Kind string

const (
	Marker Kind = "marker"
	Arrow  Kind = "arrow"
	Label  Kind = "label"
)

// Codec failure kinds.
var (
	// ErrNoVolumeLoaded is returned when an import runs without volume
	// geometry to map patient coordinates back through.
	ErrNoVolumeLoaded = errors.New("annotation: no volume loaded")
	// ErrMalformedReport is returned for undecodable report payloads.
	ErrMalformedReport = errors.New("annotation: malformed report")
	// ErrNoAnnotationsFound is returned when a report decodes cleanly but
	// carries no usable annotation content.
	ErrNoAnnotationsFound = errors.New("annotation: no annotations found")
)

// Annotation is one placed record. The flat structure with stable string ids
// mirrors the export format; links between annotations resolve by id lookup,
// never by pointer.
type Annotation struct {
	ID   string
	Kind Kind

	// Position is in normalized volume coordinates.
	Position [3]float64

	// ArrowTo is the arrow endpoint in the same space; nil unless Kind is
	// Arrow.
	ArrowTo *[3]float64

	// SliceIndex pins the annotation to a display frame when known.
	SliceIndex *int

	LabelText  string
	LinkedToID string

	CreatedAt time.Time
}

// New returns an annotation with a fresh id.
func New(kind Kind, position [3]float64) *Annotation {
	return &Annotation{
		ID:        uuid.NewString(),
		Kind:      kind,
		Position:  position,
		CreatedAt: time.Now().UTC(),
	}
}

// Validate checks the per-kind invariants. depth bounds the slice index; pass
// 0 to skip that check.
func (a *Annotation) Validate(depth int) error {
	switch a.Kind {
	case Marker:
	case Arrow:
		if a.ArrowTo == nil {
			return fmt.Errorf("annotation %s: arrow without endpoint", a.ID)
		}
	case Label:
		if a.LabelText == "" {
			return fmt.Errorf("annotation %s: label without text", a.ID)
		}
	default:
		return fmt.Errorf("annotation %s: unknown kind %q", a.ID, a.Kind)
	}
	if a.SliceIndex != nil && depth > 0 {
		if *a.SliceIndex < 0 || *a.SliceIndex >= depth {
			return fmt.Errorf("annotation %s: slice index %d outside [0,%d)", a.ID, *a.SliceIndex, depth)
		}
	}
	return nil
}

// Resolve returns the annotation another one links to, if any.
func Resolve(all []*Annotation, a *Annotation) *Annotation {
	if a.LinkedToID == "" {
		return nil
	}
	for _, other := range all {
		if other.ID == a.LinkedToID {
			return other
		}
	}
	return nil
}

// inferKind reconstructs the kind of records stored before kinds were
// explicit: a non-zero endpoint means arrow, text alone means label, anything
// else is a marker.
func inferKind(kind string, arrowTo *[3]float64, text string) Kind {
	switch Kind(kind) {
	case Marker, Arrow, Label:
		return Kind(kind)
	}
	if arrowTo != nil {
		d0 := arrowTo[0]*arrowTo[0] + arrowTo[1]*arrowTo[1] + arrowTo[2]*arrowTo[2]
		if d0 > 1e-6 {
			return Arrow
		}
	}
	if text != "" {
		return Label
	}
	return Marker
}
