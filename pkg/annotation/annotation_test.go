package annotation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dicom3d/pkg/volume"
)

// testVolume returns a volume with nontrivial geometry for codec tests.
func testVolume() *volume.Volume {
	return &volume.Volume{
		Width: 16, Height: 16, Depth: 8,
		Spacing:     [3]float64{0.5, 0.75, 2.0},
		Origin:      [3]float64{10, 20, 30},
		Orientation: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
		PatientID:   "P001",
		StudyUID:    "1.2.3.4.1",
		SeriesUID:   "1.2.3.4.2",
		Modality:    "MR",
		StudyDate:   "20240131",
	}
}

func TestNewAssignsIDAndTimestamp(t *testing.T) {
	a := New(Marker, [3]float64{0.5, 0.5, 0.5})
	assert.NotEmpty(t, a.ID)
	assert.False(t, a.CreatedAt.IsZero())

	b := New(Marker, [3]float64{0.5, 0.5, 0.5})
	assert.NotEqual(t, a.ID, b.ID)
}

func TestValidate(t *testing.T) {
	arrow := New(Arrow, [3]float64{0, 0, 0})
	require.Error(t, arrow.Validate(0), "arrow without endpoint")
	arrow.ArrowTo = &[3]float64{1, 1, 1}
	require.NoError(t, arrow.Validate(0))

	label := New(Label, [3]float64{0, 0, 0})
	require.Error(t, label.Validate(0), "label without text")
	label.LabelText = "note"
	require.NoError(t, label.Validate(0))

	marker := New(Marker, [3]float64{0, 0, 0})
	idx := 9
	marker.SliceIndex = &idx
	require.Error(t, marker.Validate(8), "slice index outside stack")
	idx = 7
	require.NoError(t, marker.Validate(8))
}

func TestResolveLinks(t *testing.T) {
	m := New(Marker, [3]float64{0.1, 0.2, 0.3})
	a := New(Arrow, [3]float64{0.4, 0.5, 0.6})
	a.ArrowTo = &[3]float64{0.5, 0.5, 0.5}
	a.LinkedToID = m.ID

	all := []*Annotation{m, a}
	assert.Same(t, m, Resolve(all, a))
	assert.Nil(t, Resolve(all, m))

	a.LinkedToID = "missing"
	assert.Nil(t, Resolve(all, a))
}

func TestJSONRoundTrip(t *testing.T) {
	vol := testVolume()

	m := New(Label, [3]float64{0.25, 0.5, 0.75})
	m.LabelText = "lesion"
	idx := 6
	m.SliceIndex = &idx

	a := New(Arrow, [3]float64{0.1, 0.1, 0.5})
	a.ArrowTo = &[3]float64{0.4, 0.2, 0.5}
	a.LinkedToID = m.ID

	data, err := ExportJSON([]*Annotation{m, a}, vol)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"version": "1.0"`)

	doc, parsed, err := ImportJSON(data)
	require.NoError(t, err)
	require.Len(t, parsed, 2)

	assert.Equal(t, "P001", doc.Study.PatientID)
	assert.Equal(t, [3]int{16, 16, 8}, doc.Volume.Dimensions)
	assert.Equal(t, vol.Orientation, doc.Volume.Orientation)

	assert.Equal(t, Label, parsed[0].Kind)
	assert.Equal(t, "lesion", parsed[0].LabelText)
	assert.Equal(t, m.Position, parsed[0].Position)
	require.NotNil(t, parsed[0].SliceIndex)
	assert.Equal(t, 6, *parsed[0].SliceIndex)

	assert.Equal(t, Arrow, parsed[1].Kind)
	require.NotNil(t, parsed[1].ArrowTo)
	assert.Equal(t, *a.ArrowTo, *parsed[1].ArrowTo)
	assert.Equal(t, m.ID, parsed[1].LinkedToID)
}

func TestImportJSONKindInference(t *testing.T) {
	// Records saved before kinds were explicit carry no type.
	data := []byte(`{
	  "version": "1.0",
	  "volume": {"dimensions": [4, 4, 4], "spacing": [1, 1, 1], "origin": [0, 0, 0],
	             "orientation": [1, 0, 0, 0, 1, 0, 0, 0, 1]},
	  "annotations": [
	    {"id": "x1", "type": "", "position": [0.5, 0.5, 0.5], "arrowTo": [0.7, 0.5, 0.5],
	     "createdAt": "2024-01-31T12:00:00Z"},
	    {"id": "x2", "type": "", "position": [0.5, 0.5, 0.5], "labelText": "hi",
	     "createdAt": "2024-01-31T12:00:00Z"},
	    {"id": "x3", "type": "", "position": [0.5, 0.5, 0.5],
	     "createdAt": "2024-01-31T12:00:00Z"}
	  ]
	}`)

	_, parsed, err := ImportJSON(data)
	require.NoError(t, err)
	require.Len(t, parsed, 3)
	assert.Equal(t, Arrow, parsed[0].Kind)
	assert.Equal(t, Label, parsed[1].Kind)
	assert.Equal(t, Marker, parsed[2].Kind)
}

func TestImportJSONFailures(t *testing.T) {
	_, _, err := ImportJSON([]byte("{not json"))
	require.ErrorIs(t, err, ErrMalformedReport)

	_, _, err = ImportJSON([]byte(`{"version":"1.0","annotations":[]}`))
	require.ErrorIs(t, err, ErrNoAnnotationsFound)
}

func TestStoreRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())

	assert.Empty(t, store.Load("1.2.3"), "missing study loads empty")

	m := New(Marker, [3]float64{0.5, 0.5, 0.5})
	a := New(Arrow, [3]float64{0.1, 0.2, 0.3})
	a.ArrowTo = &[3]float64{0.2, 0.3, 0.4}

	require.NoError(t, store.Save("1.2.3", []*Annotation{m, a}))

	loaded := store.Load("1.2.3")
	require.Len(t, loaded, 2)
	assert.Equal(t, m.ID, loaded[0].ID)
	assert.Equal(t, Marker, loaded[0].Kind)
	assert.Equal(t, Arrow, loaded[1].Kind)

	assert.Equal(t, []string{"1.2.3"}, store.ListStudies())
	all := store.LoadAll()
	require.Len(t, all["1.2.3"], 2)
}

func TestStoreSanitizesStudyID(t *testing.T) {
	store := NewStore(t.TempDir())
	m := New(Marker, [3]float64{0, 0, 0})
	require.NoError(t, store.Save("a/b\\c", []*Annotation{m}))
	assert.Len(t, store.Load("a/b\\c"), 1)
	assert.Equal(t, []string{"a_b_c"}, store.ListStudies())
}
