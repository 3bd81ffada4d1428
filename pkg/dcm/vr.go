package dcm

// Value representation codes from PS3.5 6.2.
const (
	VRAE = "AE"
	VRAS = "AS"
	VRAT = "AT"
	VRCS = "CS"
	VRDA = "DA"
	VRDS = "DS"
	VRDT = "DT"
	VRFL = "FL"
	VRFD = "FD"
	VRIS = "IS"
	VRLO = "LO"
	VRLT = "LT"
	VROB = "OB"
	VROD = "OD"
	VROF = "OF"
	VROL = "OL"
	VROW = "OW"
	VRPN = "PN"
	VRSH = "SH"
	VRSL = "SL"
	VRSQ = "SQ"
	VRSS = "SS"
	VRST = "ST"
	VRTM = "TM"
	VRUC = "UC"
	VRUI = "UI"
	VRUL = "UL"
	VRUN = "UN"
	VRUR = "UR"
	VRUS = "US"
	VRUT = "UT"
)

// longVRs holds the representations encoded with a 2-byte reserved field and
// a 4-byte length in explicit VR transfer syntaxes.
var longVRs = map[string]bool{
	VROB: true, VROD: true, VROF: true, VROL: true, VROW: true,
	VRSQ: true, VRUC: true, VRUN: true, VRUR: true, VRUT: true,
}

func isLongVR(vr string) bool { return longVRs[vr] }

// swapUnit returns the width of the fixed binary unit for byte-order
// conversion, or 1 when the value is order-independent.
func swapUnit(vr string) int {
	switch vr {
	case VRUS, VRSS, VROW, VRAT:
		return 2
	case VRUL, VRSL, VRFL, VROF, VROL:
		return 4
	case VRFD, VROD:
		return 8
	default:
		return 1
	}
}

// paddingByte returns the byte used to pad odd-length values.
func paddingByte(vr string) byte {
	switch vr {
	case VRUI, VROB, VRUN:
		return 0x00
	default:
		return ' '
	}
}

func isStringVR(vr string) bool {
	switch vr {
	case VRAE, VRAS, VRCS, VRDA, VRDS, VRDT, VRIS, VRLO, VRLT,
		VRPN, VRSH, VRST, VRTM, VRUC, VRUI, VRUR, VRUT:
		return true
	}
	return false
}

// dictVR maps the tags the forwarder cares about to their standard VR, for
// implicit VR parsing. Tags outside the dictionary parse as UN and survive
// round trips untouched.
var dictVR = map[Tag]string{
	TagFileMetaInformationGroupLength: VRUL,
	TagFileMetaInformationVersion:     VROB,
	TagMediaStorageSOPClassUID:        VRUI,
	TagMediaStorageSOPInstanceUID:     VRUI,
	TagTransferSyntaxUID:              VRUI,
	TagImplementationClassUID:         VRUI,
	TagImplementationVersionName:      VRSH,

	TagSpecificCharacterSet: VRCS,
	TagImageType:            VRCS,
	TagSOPClassUID:          VRUI,
	TagSOPInstanceUID:       VRUI,
	TagStudyDate:            VRDA,
	TagAccessionNumber:      VRSH,
	TagModality:             VRCS,
	TagStationName:          VRSH,
	TagStudyDescription:     VRLO,

	TagPatientName:      VRPN,
	TagPatientID:        VRLO,
	TagPatientBirthDate: VRDA,
	TagPatientSex:       VRCS,

	TagStudyInstanceUID:  VRUI,
	TagSeriesInstanceUID: VRUI,
	TagStudyID:           VRSH,
	TagSeriesNumber:      VRIS,
	TagInstanceNumber:    VRIS,

	TagSamplesPerPixel:           VRUS,
	TagPhotometricInterpretation: VRCS,
	TagPlanarConfiguration:       VRUS,
	TagNumberOfFrames:            VRIS,
	TagRows:                      VRUS,
	TagColumns:                   VRUS,
	TagBitsAllocated:             VRUS,
	TagBitsStored:                VRUS,
	TagHighBit:                   VRUS,
	TagPixelRepresentation:       VRUS,

	TagRedPaletteColorLookupTableDescriptor:   VRUS,
	TagGreenPaletteColorLookupTableDescriptor: VRUS,
	TagBluePaletteColorLookupTableDescriptor:  VRUS,
	TagRedPaletteColorLookupTableData:         VROW,
	TagGreenPaletteColorLookupTableData:       VROW,
	TagBluePaletteColorLookupTableData:        VROW,
	TagSegmentedRedPaletteColorLookupTable:    VROW,
	TagSegmentedGreenPaletteColorLookupTable:  VROW,
	TagSegmentedBluePaletteColorLookupTable:   VROW,

	TagLossyImageCompression:       VRCS,
	TagLossyImageCompressionRatio:  VRDS,
	TagLossyImageCompressionMethod: VRCS,

	TagPixelData: VROW,
}

// DictVR returns the dictionary VR for a tag, or UN when unknown.
func DictVR(tag Tag) string {
	if vr, ok := dictVR[tag]; ok {
		return vr
	}
	return VRUN
}
