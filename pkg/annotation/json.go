package annotation

import (
	"encoding/json"
	"fmt"
	"time"

	"dicom3d/pkg/volume"
)

// documentVersion tags the JSON export layout.
const documentVersion = "1.0"

// Record is the wire form of one annotation.
type Record struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	Position   [3]float64  `json:"position"`
	ArrowTo    *[3]float64 `json:"arrowTo,omitempty"`
	SliceIndex *int        `json:"sliceIndex,omitempty"`
	LabelText  string      `json:"labelText,omitempty"`
	LinkedToID string      `json:"linkedToId,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// StudyInfo carries the study identifiers of the exporting volume.
type StudyInfo struct {
	PatientID         string `json:"patientId,omitempty"`
	StudyInstanceUID  string `json:"studyInstanceUID,omitempty"`
	SeriesInstanceUID string `json:"seriesInstanceUID,omitempty"`
	Modality          string `json:"modality,omitempty"`
	StudyDate         string `json:"studyDate,omitempty"`
}

// VolumeInfo pins the geometry the normalized coordinates refer to.
type VolumeInfo struct {
	Dimensions  [3]int     `json:"dimensions"`
	Spacing     [3]float64 `json:"spacing"`
	Origin      [3]float64 `json:"origin"`
	Orientation [9]float64 `json:"orientation"`
}

// Document is the complete JSON export.
type Document struct {
	Version     string     `json:"version"`
	Study       StudyInfo  `json:"study"`
	Volume      VolumeInfo `json:"volume"`
	Annotations []Record   `json:"annotations"`
	ExportedAt  time.Time  `json:"exportedAt"`
}

// toRecord converts an annotation to its wire form.
func toRecord(a *Annotation) Record {
	return Record{
		ID:         a.ID,
		Type:       string(a.Kind),
		Position:   a.Position,
		ArrowTo:    a.ArrowTo,
		SliceIndex: a.SliceIndex,
		LabelText:  a.LabelText,
		LinkedToID: a.LinkedToID,
		CreatedAt:  a.CreatedAt,
	}
}

// fromRecord converts a wire record back, inferring the kind for records
// stored without one.
func fromRecord(r Record) *Annotation {
	return &Annotation{
		ID:         r.ID,
		Kind:       inferKind(r.Type, r.ArrowTo, r.LabelText),
		Position:   r.Position,
		ArrowTo:    r.ArrowTo,
		SliceIndex: r.SliceIndex,
		LabelText:  r.LabelText,
		LinkedToID: r.LinkedToID,
		CreatedAt:  r.CreatedAt,
	}
}

// ExportJSON serializes annotations with the study and geometry context of
// the volume they were placed on.
func ExportJSON(annotations []*Annotation, vol *volume.Volume) ([]byte, error) {
	if vol == nil {
		return nil, ErrNoVolumeLoaded
	}
	doc := Document{
		Version: documentVersion,
		Study: StudyInfo{
			PatientID:         vol.PatientID,
			StudyInstanceUID:  vol.StudyUID,
			SeriesInstanceUID: vol.SeriesUID,
			Modality:          vol.Modality,
			StudyDate:         vol.StudyDate,
		},
		Volume: VolumeInfo{
			Dimensions:  [3]int{vol.Width, vol.Height, vol.Depth},
			Spacing:     vol.Spacing,
			Origin:      [3]float64{vol.Origin[0], vol.Origin[1], vol.Origin[2]},
			Orientation: vol.Orientation,
		},
		Annotations: make([]Record, 0, len(annotations)),
		ExportedAt:  time.Now().UTC(),
	}
	for _, a := range annotations {
		if err := a.Validate(vol.Depth); err != nil {
			return nil, err
		}
		doc.Annotations = append(doc.Annotations, toRecord(a))
	}
	return json.MarshalIndent(doc, "", "  ")
}

// ImportJSON parses a document and returns its annotations. The existing
// annotation set is never touched until parsing has fully succeeded.
func ImportJSON(data []byte) (*Document, []*Annotation, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedReport, err)
	}
	out := make([]*Annotation, 0, len(doc.Annotations))
	for _, r := range doc.Annotations {
		a := fromRecord(r)
		if err := a.Validate(doc.Volume.Dimensions[2]); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrMalformedReport, err)
		}
		out = append(out, a)
	}
	if len(out) == 0 {
		return &doc, nil, ErrNoAnnotationsFound
	}
	return &doc, out, nil
}
