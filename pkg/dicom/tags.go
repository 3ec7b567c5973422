package dicom

import "fmt"

// Tag identifies a data element as (group << 16) | element, the packed form
// used for dictionary lookups and map keys.
type Tag uint32

// Group returns the group number of the tag.
func (t Tag) Group() uint16 { return uint16(t >> 16) }

// Element returns the element number of the tag.
func (t Tag) Element() uint16 { return uint16(t & 0xFFFF) }

func (t Tag) String() string {
	return fmt.Sprintf("(%04X,%04X)", t.Group(), t.Element())
}

// Tags consumed or produced by the pipeline. The file meta group (0002) is
// always encoded explicit VR little endian regardless of the transfer syntax
// of the data set that follows.
const (
	TagFileMetaGroupLength  Tag = 0x00020000
	TagFileMetaVersion      Tag = 0x00020001
	TagMediaStorageSOPClass Tag = 0x00020002
	TagMediaStorageSOPUID   Tag = 0x00020003
	TagTransferSyntaxUID    Tag = 0x00020010
	TagImplementationClass  Tag = 0x00020012

	TagSOPClassUID    Tag = 0x00080016
	TagSOPInstanceUID Tag = 0x00080018
	TagStudyDate      Tag = 0x00080020
	TagModality       Tag = 0x00080060

	TagCodeValue        Tag = 0x00080100
	TagCodingScheme     Tag = 0x00080102
	TagCodeMeaning      Tag = 0x00080104
	TagMappingResource  Tag = 0x00080105
	TagReferencedSOPSeq Tag = 0x00081199
	TagRefSOPClassUID   Tag = 0x00081150
	TagRefSOPUID        Tag = 0x00081155

	TagPatientID Tag = 0x00100020

	TagStudyInstanceUID  Tag = 0x0020000D
	TagSeriesInstanceUID Tag = 0x0020000E
	TagInstanceNumber    Tag = 0x00200013
	TagImagePosition     Tag = 0x00200032
	TagImageOrientation  Tag = 0x00200037
	TagFrameOfReference  Tag = 0x00200052
	TagSliceLocation     Tag = 0x00201041

	TagRows                Tag = 0x00280010
	TagColumns             Tag = 0x00280011
	TagPixelSpacing        Tag = 0x00280030
	TagBitsAllocated       Tag = 0x00280100
	TagPixelRepresentation Tag = 0x00280103
	TagWindowCenter        Tag = 0x00281050
	TagWindowWidth         Tag = 0x00281051
	TagRescaleIntercept    Tag = 0x00281052
	TagRescaleSlope        Tag = 0x00281053

	TagRelationshipType    Tag = 0x0040A010
	TagValueType           Tag = 0x0040A040
	TagConceptNameCodeSeq  Tag = 0x0040A043
	TagContinuityOfContent Tag = 0x0040A050
	TagTextValue           Tag = 0x0040A160
	TagCompletionFlag      Tag = 0x0040A491
	TagVerificationFlag    Tag = 0x0040A493
	TagContentTemplateSeq  Tag = 0x0040A504
	TagContentSequence     Tag = 0x0040A730
	TagTemplateIdentifier  Tag = 0x0040DB00

	TagGraphicData Tag = 0x00700022
	TagGraphicType Tag = 0x00700023

	TagPixelData Tag = 0x7FE00010

	tagItem          Tag = 0xFFFEE000
	tagItemDelim     Tag = 0xFFFEE00D
	tagSequenceDelim Tag = 0xFFFEE0DD
)

// vrDictionary supplies value representations for the tags the pipeline
// touches, so implicit VR streams decode the same way explicit ones do.
// Unlisted tags fall back to UN and are carried as raw bytes.
var vrDictionary = map[Tag]string{
	TagFileMetaGroupLength:  "UL",
	TagFileMetaVersion:      "OB",
	TagMediaStorageSOPClass: "UI",
	TagMediaStorageSOPUID:   "UI",
	TagTransferSyntaxUID:    "UI",
	TagImplementationClass:  "UI",

	TagSOPClassUID:    "UI",
	TagSOPInstanceUID: "UI",
	TagStudyDate:      "DA",
	TagModality:       "CS",

	TagCodeValue:        "SH",
	TagCodingScheme:     "SH",
	TagCodeMeaning:      "LO",
	TagMappingResource:  "CS",
	TagReferencedSOPSeq: "SQ",
	TagRefSOPClassUID:   "UI",
	TagRefSOPUID:        "UI",

	TagPatientID: "LO",

	TagStudyInstanceUID:  "UI",
	TagSeriesInstanceUID: "UI",
	TagInstanceNumber:    "IS",
	TagImagePosition:     "DS",
	TagImageOrientation:  "DS",
	TagFrameOfReference:  "UI",
	TagSliceLocation:     "DS",

	TagRows:                "US",
	TagColumns:             "US",
	TagPixelSpacing:        "DS",
	TagBitsAllocated:       "US",
	TagPixelRepresentation: "US",
	TagWindowCenter:        "DS",
	TagWindowWidth:         "DS",
	TagRescaleIntercept:    "DS",
	TagRescaleSlope:        "DS",

	TagRelationshipType:    "CS",
	TagValueType:           "CS",
	TagConceptNameCodeSeq:  "SQ",
	TagContinuityOfContent: "CS",
	TagTextValue:           "UT",
	TagCompletionFlag:      "CS",
	TagVerificationFlag:    "CS",
	TagContentTemplateSeq:  "SQ",
	TagContentSequence:     "SQ",
	TagTemplateIdentifier:  "CS",

	TagGraphicData: "FL",
	TagGraphicType: "CS",

	TagPixelData: "OW",
}

// lookupVR returns the dictionary VR for a tag, or UN.
func lookupVR(t Tag) string {
	if vr, ok := vrDictionary[t]; ok {
		return vr
	}
	return "UN"
}
