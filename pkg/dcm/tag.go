package dcm

import "fmt"

// Tag identifies a data element as (group, element) packed into 32 bits.
type Tag uint32

// TagOf builds a Tag from its group and element numbers.
func TagOf(group, element uint16) Tag {
	return Tag(uint32(group)<<16 | uint32(element))
}

// Group returns the group number of the tag.
func (t Tag) Group() uint16 { return uint16(t >> 16) }

// Element returns the element number of the tag.
func (t Tag) Element() uint16 { return uint16(t) }

// IsFileMeta reports whether the tag belongs to the file meta information group.
func (t Tag) IsFileMeta() bool { return t.Group() == 0x0002 }

// IsPrivate reports whether the tag has an odd group number.
func (t Tag) IsPrivate() bool { return t.Group()%2 == 1 }

func (t Tag) String() string {
	return fmt.Sprintf("(%04X,%04X)", t.Group(), t.Element())
}

// File meta information tags.
const (
	TagFileMetaInformationGroupLength Tag = 0x00020000
	TagFileMetaInformationVersion     Tag = 0x00020001
	TagMediaStorageSOPClassUID        Tag = 0x00020002
	TagMediaStorageSOPInstanceUID     Tag = 0x00020003
	TagTransferSyntaxUID              Tag = 0x00020010
	TagImplementationClassUID         Tag = 0x00020012
	TagImplementationVersionName      Tag = 0x00020013
)

// Main dataset tags used by the forwarder.
const (
	TagSpecificCharacterSet Tag = 0x00080005
	TagImageType            Tag = 0x00080008
	TagSOPClassUID          Tag = 0x00080016
	TagSOPInstanceUID       Tag = 0x00080018
	TagStudyDate            Tag = 0x00080020
	TagAccessionNumber      Tag = 0x00080050
	TagModality             Tag = 0x00080060
	TagStationName          Tag = 0x00081010
	TagStudyDescription     Tag = 0x00081030

	TagPatientName      Tag = 0x00100010
	TagPatientID        Tag = 0x00100020
	TagPatientBirthDate Tag = 0x00100030
	TagPatientSex       Tag = 0x00100040

	TagStudyInstanceUID  Tag = 0x0020000D
	TagSeriesInstanceUID Tag = 0x0020000E
	TagStudyID           Tag = 0x00200010
	TagSeriesNumber      Tag = 0x00200011
	TagInstanceNumber    Tag = 0x00200013

	TagSamplesPerPixel           Tag = 0x00280002
	TagPhotometricInterpretation Tag = 0x00280004
	TagPlanarConfiguration       Tag = 0x00280006
	TagNumberOfFrames            Tag = 0x00280008
	TagRows                      Tag = 0x00280010
	TagColumns                   Tag = 0x00280011
	TagBitsAllocated             Tag = 0x00280100
	TagBitsStored                Tag = 0x00280101
	TagHighBit                   Tag = 0x00280102
	TagPixelRepresentation       Tag = 0x00280103

	TagRedPaletteColorLookupTableDescriptor   Tag = 0x00281101
	TagGreenPaletteColorLookupTableDescriptor Tag = 0x00281102
	TagBluePaletteColorLookupTableDescriptor  Tag = 0x00281103
	TagRedPaletteColorLookupTableData         Tag = 0x00281201
	TagGreenPaletteColorLookupTableData       Tag = 0x00281202
	TagBluePaletteColorLookupTableData        Tag = 0x00281203
	TagSegmentedRedPaletteColorLookupTable    Tag = 0x00281221
	TagSegmentedGreenPaletteColorLookupTable  Tag = 0x00281222
	TagSegmentedBluePaletteColorLookupTable   Tag = 0x00281223

	TagLossyImageCompression       Tag = 0x00282110
	TagLossyImageCompressionRatio  Tag = 0x00282112
	TagLossyImageCompressionMethod Tag = 0x00282114

	TagPixelData Tag = 0x7FE00010

	TagItem                  Tag = 0xFFFEE000
	TagItemDelimitation      Tag = 0xFFFEE00D
	TagSequenceDelimitation  Tag = 0xFFFEE0DD
)
