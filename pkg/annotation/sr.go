package annotation

import (
	"fmt"
	"math"
	"math/big"

	"github.com/google/uuid"

	"dicom3d/pkg/dicom"
	"dicom3d/pkg/geometry"
	"dicom3d/pkg/series"
	"dicom3d/pkg/volume"
)

// ComprehensiveSR3D is the SOP class of the exported report.
const ComprehensiveSR3D = "1.2.840.10008.5.1.4.1.1.88.34"

// codingScheme tags the private concept codes used by the report items.
const codingScheme = "99DCM3D"

// Concept codes for the content items.
const (
	codePointAnnotation = "A100"
	codeArrowAnnotation = "A101"
	codeAnnotationLabel = "A903"
	codeAnnotationSet   = "A000"
)

// newUID derives a DICOM UID in the 2.25 (UUID) root.
func newUID() string {
	id := uuid.New()
	n := new(big.Int).SetBytes(id[:])
	return "2.25." + n.String()
}

// conceptItem encodes one concept-name code sequence item.
func conceptItem(code, meaning string) []byte {
	e := dicom.NewEncoder()
	e.Text(dicom.TagCodeValue, "SH", code)
	e.Text(dicom.TagCodingScheme, "SH", codingScheme)
	e.Text(dicom.TagCodeMeaning, "LO", meaning)
	return e.Bytes()
}

// sopReferenceItem encodes a referenced-SOP sequence item for one slice.
func sopReferenceItem(classUID, instanceUID string) []byte {
	e := dicom.NewEncoder()
	e.Text(dicom.TagRefSOPClassUID, "UI", classUID)
	e.Text(dicom.TagRefSOPUID, "UI", instanceUID)
	return e.Bytes()
}

// sliceFor picks the referenced slice: the explicit index when present,
// otherwise the nearest depth bin of the normalized z component.
func sliceFor(a *Annotation, depth int) int {
	if a.SliceIndex != nil {
		return *a.SliceIndex
	}
	if depth <= 1 {
		return 0
	}
	idx := int(math.Round(a.Position[2] * float64(depth-1)))
	if idx < 0 {
		idx = 0
	} else if idx >= depth {
		idx = depth - 1
	}
	return idx
}

// scoordItem encodes one SCOORD3D content item in patient coordinates.
func scoordItem(a *Annotation, mapper *geometry.Mapper, ser *series.Series, depth int) []byte {
	e := dicom.NewEncoder()
	e.Text(dicom.TagRelationshipType, "CS", "CONTAINS")
	e.Text(dicom.TagValueType, "CS", "SCOORD3D")

	p := mapper.NormalizedToPatient(geometry.Vec3{a.Position[0], a.Position[1], a.Position[2]})
	if a.Kind == Arrow && a.ArrowTo != nil {
		q := mapper.NormalizedToPatient(geometry.Vec3{a.ArrowTo[0], a.ArrowTo[1], a.ArrowTo[2]})
		e.Sequence(dicom.TagConceptNameCodeSeq, conceptItem(codeArrowAnnotation, "arrow annotation"))
		e.Text(dicom.TagGraphicType, "CS", "POLYLINE")
		e.Floats(dicom.TagGraphicData,
			float32(p[0]), float32(p[1]), float32(p[2]),
			float32(q[0]), float32(q[1]), float32(q[2]))
	} else {
		e.Sequence(dicom.TagConceptNameCodeSeq, conceptItem(codePointAnnotation, "point annotation"))
		e.Text(dicom.TagGraphicType, "CS", "POINT")
		e.Floats(dicom.TagGraphicData, float32(p[0]), float32(p[1]), float32(p[2]))
	}

	if ser != nil && len(ser.Slices) > 0 {
		idx := sliceFor(a, depth)
		if idx < len(ser.Slices) {
			sl := ser.Slices[idx]
			if sl.SOPInstanceUID != "" {
				e.Sequence(dicom.TagReferencedSOPSeq, sopReferenceItem(sl.SOPClassUID, sl.SOPInstanceUID))
			}
		}
	}
	return e.Bytes()
}

// textItem encodes the label text that follows a geometric item.
func textItem(text string) []byte {
	e := dicom.NewEncoder()
	e.Text(dicom.TagRelationshipType, "CS", "CONTAINS")
	e.Text(dicom.TagValueType, "CS", "TEXT")
	e.Sequence(dicom.TagConceptNameCodeSeq, conceptItem(codeAnnotationLabel, "annotation label"))
	e.Text(dicom.TagTextValue, "UT", text)
	return e.Bytes()
}

// ExportSR renders the annotation set as a Comprehensive 3D SR object with
// PATIENT-relative coordinates. ser supplies the per-slice SOP references;
// it may be nil when the source series is gone.
func ExportSR(annotations []*Annotation, vol *volume.Volume, ser *series.Series) ([]byte, error) {
	if vol == nil {
		return nil, ErrNoVolumeLoaded
	}
	mapper := vol.Mapper()

	var items [][]byte
	for _, a := range annotations {
		if err := a.Validate(vol.Depth); err != nil {
			return nil, err
		}
		items = append(items, scoordItem(a, mapper, ser, vol.Depth))
		if a.LabelText != "" {
			items = append(items, textItem(a.LabelText))
		}
	}
	if len(items) == 0 {
		return nil, ErrNoAnnotationsFound
	}

	sopUID := newUID()
	body := dicom.NewEncoder()
	body.Text(dicom.TagSOPClassUID, "UI", ComprehensiveSR3D)
	body.Text(dicom.TagSOPInstanceUID, "UI", sopUID)
	if vol.StudyDate != "" {
		body.Text(dicom.TagStudyDate, "DA", vol.StudyDate)
	}
	body.Text(dicom.TagModality, "CS", "SR")
	if vol.PatientID != "" {
		body.Text(dicom.TagPatientID, "LO", vol.PatientID)
	}
	if vol.StudyUID != "" {
		body.Text(dicom.TagStudyInstanceUID, "UI", vol.StudyUID)
	}
	body.Text(dicom.TagSeriesInstanceUID, "UI", newUID())

	body.Text(dicom.TagValueType, "CS", "CONTAINER")
	body.Sequence(dicom.TagConceptNameCodeSeq, conceptItem(codeAnnotationSet, "volume annotations"))
	body.Text(dicom.TagContinuityOfContent, "CS", "SEPARATE")

	template := dicom.NewEncoder()
	template.Text(dicom.TagMappingResource, "CS", "DCMR")
	template.Text(dicom.TagTemplateIdentifier, "CS", "1500")
	body.Sequence(dicom.TagContentTemplateSeq, template.Bytes())

	body.Text(dicom.TagCompletionFlag, "CS", "COMPLETE")
	body.Text(dicom.TagVerificationFlag, "CS", "UNVERIFIED")

	body.Sequence(dicom.TagContentSequence, items...)

	return dicom.EncodePart10(dicom.ExplicitVRLittleEndian, ComprehensiveSR3D, sopUID, body.Bytes()), nil
}

// ImportSR parses a structured report back into annotations against the
// currently loaded volume. Content items with unrecognized value types are
// ignored; a TEXT item attaches to the most recent geometric item and
// upgrades it to a label. Nothing is returned unless the whole report parses.
func ImportSR(data []byte, vol *volume.Volume) ([]*Annotation, error) {
	if vol == nil || vol.Spacing[0] <= 0 || vol.Spacing[1] <= 0 || vol.Spacing[2] <= 0 {
		return nil, ErrNoVolumeLoaded
	}
	mapper := vol.Mapper()

	ds, _, err := dicom.ParseDataSet(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReport, err)
	}

	items, ok := ds.Items(dicom.TagContentSequence)
	if !ok || len(items) == 0 {
		return nil, ErrNoAnnotationsFound
	}

	toNormalized := func(x, y, z float32) ([3]float64, error) {
		n, err := mapper.PatientToNormalized(geometry.Vec3{float64(x), float64(y), float64(z)})
		if err != nil {
			return [3]float64{}, fmt.Errorf("%w: %v", ErrNoVolumeLoaded, err)
		}
		n = geometry.Clamp01(n)
		return [3]float64{n[0], n[1], n[2]}, nil
	}

	var out []*Annotation
	var last *Annotation
	for _, item := range items {
		valueType, _ := item.String(dicom.TagValueType)
		switch valueType {
		case "SCOORD3D":
			graphicType, _ := item.String(dicom.TagGraphicType)
			coords, okData := item.Float32s(dicom.TagGraphicData)
			switch {
			case graphicType == "POINT" && okData && len(coords) >= 3:
				pos, err := toNormalized(coords[0], coords[1], coords[2])
				if err != nil {
					return nil, err
				}
				a := New(Marker, pos)
				idx := sliceFor(a, vol.Depth)
				a.SliceIndex = &idx
				out = append(out, a)
				last = a
			case graphicType == "POLYLINE" && okData && len(coords) >= 6:
				pos, err := toNormalized(coords[0], coords[1], coords[2])
				if err != nil {
					return nil, err
				}
				tip, err := toNormalized(coords[3], coords[4], coords[5])
				if err != nil {
					return nil, err
				}
				a := New(Arrow, pos)
				a.ArrowTo = &tip
				idx := sliceFor(a, vol.Depth)
				a.SliceIndex = &idx
				out = append(out, a)
				last = a
			}
		case "TEXT":
			if last == nil {
				continue
			}
			if text, okText := item.String(dicom.TagTextValue); okText && text != "" {
				last.LabelText = text
				if last.Kind == Marker {
					last.Kind = Label
				}
			}
		}
	}

	if len(out) == 0 {
		return nil, ErrNoAnnotationsFound
	}
	return out, nil
}
