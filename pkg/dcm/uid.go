package dcm

import (
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// Transfer syntax UIDs.
const (
	ImplicitVRLittleEndian         = "1.2.840.10008.1.2"
	ExplicitVRLittleEndian         = "1.2.840.10008.1.2.1"
	DeflatedExplicitVRLittleEndian = "1.2.840.10008.1.2.1.99"
	ExplicitVRBigEndian            = "1.2.840.10008.1.2.2"
	JPEGBaseline8Bit               = "1.2.840.10008.1.2.4.50"
	JPEGExtended12Bit              = "1.2.840.10008.1.2.4.51"
	JPEGLossless                   = "1.2.840.10008.1.2.4.57"
	JPEGLosslessSV1                = "1.2.840.10008.1.2.4.70"
	JPEGLSLossless                 = "1.2.840.10008.1.2.4.80"
	JPEGLSNearLossless             = "1.2.840.10008.1.2.4.81"
	JPEG2000Lossless               = "1.2.840.10008.1.2.4.90"
	JPEG2000                       = "1.2.840.10008.1.2.4.91"
	RLELossless                    = "1.2.840.10008.1.2.5"
	MPEG2MPML                      = "1.2.840.10008.1.2.4.100"
	MPEG2MPHL                      = "1.2.840.10008.1.2.4.101"
	MPEG4HP41                      = "1.2.840.10008.1.2.4.102"
	MPEG4HP41BD                    = "1.2.840.10008.1.2.4.103"
	MPEG4HP422D                    = "1.2.840.10008.1.2.4.104"
	MPEG4HP423D                    = "1.2.840.10008.1.2.4.105"
	MPEG4HP42STEREO                = "1.2.840.10008.1.2.4.106"
	HEVCMP51                       = "1.2.840.10008.1.2.4.107"
	HEVCM10P51                     = "1.2.840.10008.1.2.4.108"
)

// SOP class UIDs.
const (
	VerificationSOPClass         = "1.2.840.10008.1.1"
	MediaStorageDirectoryStorage = "1.2.840.10008.1.3.10"
	DICOMApplicationContext      = "1.2.840.10008.3.1.1.1"
	CTImageStorage               = "1.2.840.10008.5.1.4.1.1.2"
	MRImageStorage               = "1.2.840.10008.5.1.4.1.1.4"
	UltrasoundImageStorage       = "1.2.840.10008.5.1.4.1.1.6.1"
	SecondaryCaptureImageStorage = "1.2.840.10008.5.1.4.1.1.7"
	VLPhotographicImageStorage   = "1.2.840.10008.5.1.4.1.1.77.1.4"
	VideoPhotographicStorage     = "1.2.840.10008.5.1.4.1.1.77.1.4.1"
)

// TransferSyntax describes the encoding rules bound to a transfer syntax UID.
type TransferSyntax struct {
	UID          string
	Name         string
	Implicit     bool
	BigEndian    bool
	Encapsulated bool
	Lossy        bool
	Video        bool
}

var transferSyntaxes = map[string]TransferSyntax{
	ImplicitVRLittleEndian:         {UID: ImplicitVRLittleEndian, Name: "Implicit VR Little Endian", Implicit: true},
	ExplicitVRLittleEndian:         {UID: ExplicitVRLittleEndian, Name: "Explicit VR Little Endian"},
	DeflatedExplicitVRLittleEndian: {UID: DeflatedExplicitVRLittleEndian, Name: "Deflated Explicit VR Little Endian"},
	ExplicitVRBigEndian:            {UID: ExplicitVRBigEndian, Name: "Explicit VR Big Endian", BigEndian: true},
	JPEGBaseline8Bit:               {UID: JPEGBaseline8Bit, Name: "JPEG Baseline (Process 1)", Encapsulated: true, Lossy: true},
	JPEGExtended12Bit:              {UID: JPEGExtended12Bit, Name: "JPEG Extended (Process 2 & 4)", Encapsulated: true, Lossy: true},
	JPEGLossless:                   {UID: JPEGLossless, Name: "JPEG Lossless (Process 14)", Encapsulated: true},
	JPEGLosslessSV1:                {UID: JPEGLosslessSV1, Name: "JPEG Lossless SV1", Encapsulated: true},
	JPEGLSLossless:                 {UID: JPEGLSLossless, Name: "JPEG-LS Lossless", Encapsulated: true},
	JPEGLSNearLossless:             {UID: JPEGLSNearLossless, Name: "JPEG-LS Near-Lossless", Encapsulated: true, Lossy: true},
	JPEG2000Lossless:               {UID: JPEG2000Lossless, Name: "JPEG 2000 Lossless", Encapsulated: true},
	JPEG2000:                       {UID: JPEG2000, Name: "JPEG 2000", Encapsulated: true, Lossy: true},
	RLELossless:                    {UID: RLELossless, Name: "RLE Lossless", Encapsulated: true},
	MPEG2MPML:                      {UID: MPEG2MPML, Name: "MPEG2 Main Profile / Main Level", Encapsulated: true, Lossy: true, Video: true},
	MPEG2MPHL:                      {UID: MPEG2MPHL, Name: "MPEG2 Main Profile / High Level", Encapsulated: true, Lossy: true, Video: true},
	MPEG4HP41:                      {UID: MPEG4HP41, Name: "MPEG-4 AVC/H.264 High Profile 4.1", Encapsulated: true, Lossy: true, Video: true},
	MPEG4HP41BD:                    {UID: MPEG4HP41BD, Name: "MPEG-4 AVC/H.264 BD-compatible", Encapsulated: true, Lossy: true, Video: true},
	MPEG4HP422D:                    {UID: MPEG4HP422D, Name: "MPEG-4 AVC/H.264 High Profile 4.2 2D", Encapsulated: true, Lossy: true, Video: true},
	MPEG4HP423D:                    {UID: MPEG4HP423D, Name: "MPEG-4 AVC/H.264 High Profile 4.2 3D", Encapsulated: true, Lossy: true, Video: true},
	MPEG4HP42STEREO:                {UID: MPEG4HP42STEREO, Name: "MPEG-4 AVC/H.264 Stereo High Profile", Encapsulated: true, Lossy: true, Video: true},
	HEVCMP51:                       {UID: HEVCMP51, Name: "HEVC/H.265 Main Profile 5.1", Encapsulated: true, Lossy: true, Video: true},
	HEVCM10P51:                     {UID: HEVCM10P51, Name: "HEVC/H.265 Main 10 Profile 5.1", Encapsulated: true, Lossy: true, Video: true},
}

// LookupTransferSyntax returns the registry entry for a transfer syntax UID.
// Unknown UIDs are treated as encapsulated; private syntaxes forwarded through
// the gateway are always re-negotiated rather than decoded.
func LookupTransferSyntax(uid string) TransferSyntax {
	if ts, ok := transferSyntaxes[uid]; ok {
		return ts
	}
	return TransferSyntax{UID: uid, Name: "Unknown", Encapsulated: true}
}

// IsNative reports whether the transfer syntax stores pixel data uncompressed.
func IsNative(uid string) bool {
	return !LookupTransferSyntax(uid).Encapsulated
}

// IsVideo reports whether the transfer syntax carries a video bitstream.
func IsVideo(uid string) bool {
	return LookupTransferSyntax(uid).Video
}

// IsLossy reports whether the transfer syntax implies lossy compression.
func IsLossy(uid string) bool {
	return LookupTransferSyntax(uid).Lossy
}

// NewUID generates a unique DICOM UID in the 2.25 UUID-derived root.
func NewUID() string {
	u := uuid.New()
	var n big.Int
	n.SetBytes(u[:])
	return "2.25." + n.String()
}

// ValidUID reports whether s is a syntactically valid DICOM UID.
func ValidUID(s string) bool {
	if s == "" || len(s) > 64 {
		return false
	}
	for _, part := range strings.Split(s, ".") {
		if part == "" {
			return false
		}
		if len(part) > 1 && part[0] == '0' {
			return false
		}
		for _, c := range part {
			if c < '0' || c > '9' {
				return false
			}
		}
	}
	return true
}
