package forward

import (
	"bytes"
	"strconv"
	"strings"
	"testing"

	"github.com/nicolasvandooren/dicom-forwarder/internal/imaging"
	"github.com/nicolasvandooren/dicom-forwarder/pkg/dcm"
)

func testMask() *imaging.MaskArea {
	return &imaging.MaskArea{Rects: []imaging.Rect{{MinX: 0, MinY: 0, MaxX: 2, MaxY: 2}}}
}

func multiFrameInstance(frames int) *dcm.Dataset {
	ds := testInstance("1.2.840.99.20.1")
	ds.SetString(dcm.TagNumberOfFrames, dcm.VRIS, strconv.Itoa(frames))
	pixels := make([]byte, 64*frames)
	for i := range pixels {
		pixels[i] = byte(i)
	}
	ds.SetBytes(dcm.TagPixelData, dcm.VROB, pixels)
	return ds
}

func TestNewFrameSourceSkipsPassThroughCases(t *testing.T) {
	noPixels := testInstance("1.2.840.99.20.2")
	noPixels.Remove(dcm.TagPixelData)

	video := testInstance("1.2.840.99.20.3")
	video.SetFragments(dcm.TagPixelData, dcm.VROB, [][]byte{nil, {0x00, 0x00, 0x01, 0xB3}})

	tests := []struct {
		name     string
		ds       *dcm.Dataset
		original string
		chosen   string
		mask     *imaging.MaskArea
	}{
		{"no pixel data", noPixels, dcm.JPEGBaseline8Bit, dcm.ExplicitVRLittleEndian, testMask()},
		{"native unchanged without mask", testInstance("1.2.840.99.20.4"), dcm.ExplicitVRLittleEndian, dcm.ExplicitVRLittleEndian, nil},
		{"native to native recode", testInstance("1.2.840.99.20.5"), dcm.ImplicitVRLittleEndian, dcm.ExplicitVRLittleEndian, nil},
		{"mask on video", video, dcm.MPEG4HP41, dcm.MPEG4HP41, testMask()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := NewFrameSource(tt.ds, tt.original, tt.chosen, tt.mask)
			if err != nil {
				t.Fatalf("NewFrameSource failed: %v", err)
			}
			if src != nil {
				t.Error("expected no frame source")
			}
		})
	}
}

func TestNewFrameSourceTriggersOnMask(t *testing.T) {
	ds := testInstance("1.2.840.99.20.6")
	src, err := NewFrameSource(ds, dcm.ExplicitVRLittleEndian, dcm.ExplicitVRLittleEndian, testMask())
	if err != nil {
		t.Fatalf("NewFrameSource failed: %v", err)
	}
	if src == nil {
		t.Fatal("expected a frame source for a masked native image")
	}
	if src.TransferSyntax() != dcm.ExplicitVRLittleEndian {
		t.Errorf("TransferSyntax = %s", src.TransferSyntax())
	}
	desc := src.Descriptor()
	if desc.Rows != 8 || desc.Columns != 8 || desc.Frames != 1 {
		t.Errorf("descriptor = %+v", desc)
	}
}

func TestNewFrameSourceTriggersOnSyntaxChange(t *testing.T) {
	ds := jpegInstance(t, "1.2.840.99.20.7", 120)
	src, err := NewFrameSource(ds, dcm.JPEGBaseline8Bit, dcm.ExplicitVRLittleEndian, nil)
	if err != nil {
		t.Fatalf("NewFrameSource failed: %v", err)
	}
	if src == nil {
		t.Fatal("expected a frame source for an encapsulated syntax change")
	}
}

func TestFrameBytesNativeMultiFrame(t *testing.T) {
	ds := multiFrameInstance(2)
	src, err := NewFrameSource(ds, dcm.ExplicitVRLittleEndian, dcm.ExplicitVRLittleEndian, testMask())
	if err != nil || src == nil {
		t.Fatalf("NewFrameSource = %v, %v", src, err)
	}

	first, err := src.FrameBytes(0)
	if err != nil {
		t.Fatalf("FrameBytes(0) failed: %v", err)
	}
	second, err := src.FrameBytes(1)
	if err != nil {
		t.Fatalf("FrameBytes(1) failed: %v", err)
	}
	if len(first) != 64 || first[0] != 0 || first[63] != 63 {
		t.Errorf("frame 0 = %d bytes starting %d", len(first), first[0])
	}
	if len(second) != 64 || second[0] != 64 || second[63] != 127 {
		t.Errorf("frame 1 = %d bytes starting %d", len(second), second[0])
	}
	if _, err := src.FrameBytes(2); err == nil {
		t.Error("expected an error past the last frame")
	}
	if _, err := src.FrameBytes(-1); err == nil {
		t.Error("expected an error for a negative frame")
	}
}

func TestFrameBytesSingleFrameFragmentConcat(t *testing.T) {
	ds := testInstance("1.2.840.99.20.8")
	ds.SetString(dcm.TagNumberOfFrames, dcm.VRIS, "1")
	partA := []byte{0xFF, 0xD8, 0x01, 0x02}
	partB := []byte{0x03, 0x04, 0xFF, 0xD9}
	ds.SetFragments(dcm.TagPixelData, dcm.VROB, [][]byte{nil, partA, partB})

	src, err := NewFrameSource(ds, dcm.JPEGBaseline8Bit, dcm.ExplicitVRLittleEndian, nil)
	if err != nil || src == nil {
		t.Fatalf("NewFrameSource = %v, %v", src, err)
	}
	want := append(append([]byte(nil), partA...), partB...)
	for call := 0; call < 2; call++ {
		got, err := src.FrameBytes(0)
		if err != nil {
			t.Fatalf("FrameBytes failed on call %d: %v", call, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("frame = % x, want % x", got, want)
		}
	}
}

func TestFrameBytesRLEOneFragmentPerFrame(t *testing.T) {
	ds := multiFrameInstance(2)
	fragA := []byte{0x01, 0x00, 0x00, 0x00}
	fragB := []byte{0x02, 0x00, 0x00, 0x00}
	ds.SetFragments(dcm.TagPixelData, dcm.VROB, [][]byte{nil, fragA, fragB})

	src, err := NewFrameSource(ds, dcm.RLELossless, dcm.ExplicitVRLittleEndian, nil)
	if err != nil || src == nil {
		t.Fatalf("NewFrameSource = %v, %v", src, err)
	}
	got, err := src.FrameBytes(0)
	if err != nil || !bytes.Equal(got, fragA) {
		t.Errorf("frame 0 = % x, %v", got, err)
	}
	got, err = src.FrameBytes(1)
	if err != nil || !bytes.Equal(got, fragB) {
		t.Errorf("frame 1 = % x, %v", got, err)
	}
}

func TestFrameBytesJPEGFrameSpansFragments(t *testing.T) {
	ds := multiFrameInstance(2)
	openA := []byte{0xFF, 0xD8, 0x10}
	contA := []byte{0x11, 0x12}
	openB := []byte{0xFF, 0xD8, 0x20}
	ds.SetFragments(dcm.TagPixelData, dcm.VROB, [][]byte{nil, openA, contA, openB})

	src, err := NewFrameSource(ds, dcm.JPEGBaseline8Bit, dcm.ExplicitVRLittleEndian, nil)
	if err != nil || src == nil {
		t.Fatalf("NewFrameSource = %v, %v", src, err)
	}
	got, err := src.FrameBytes(0)
	if err != nil {
		t.Fatalf("FrameBytes(0) failed: %v", err)
	}
	want := append(append([]byte(nil), openA...), contA...)
	if !bytes.Equal(got, want) {
		t.Errorf("frame 0 = % x, want % x", got, want)
	}
	got, err = src.FrameBytes(1)
	if err != nil || !bytes.Equal(got, openB) {
		t.Errorf("frame 1 = % x, %v", got, err)
	}
}

func TestFrameBytesJPEGFragmentMismatch(t *testing.T) {
	ds := multiFrameInstance(2)
	// Two declared frames but only one codestream start.
	ds.SetFragments(dcm.TagPixelData, dcm.VROB, [][]byte{nil, {0xFF, 0xD8, 0x10}, {0x11, 0x12}})

	src, err := NewFrameSource(ds, dcm.JPEGBaseline8Bit, dcm.ExplicitVRLittleEndian, nil)
	if err != nil || src == nil {
		t.Fatalf("NewFrameSource = %v, %v", src, err)
	}
	if _, err := src.FrameBytes(0); err == nil || !strings.Contains(err.Error(), "cannot match all the fragments to all the frames") {
		t.Errorf("FrameBytes error = %v", err)
	}
}

func TestPaletteLUTCopiesLookupTables(t *testing.T) {
	ds := testInstance("1.2.840.99.20.9")
	ds.SetBytes(dcm.TagRedPaletteColorLookupTableDescriptor, dcm.VRUS, []byte{0x00, 0x01, 0x00, 0x00, 0x08, 0x00})
	ds.SetBytes(dcm.TagRedPaletteColorLookupTableData, dcm.VROW, []byte{0xAA, 0xBB})

	src, err := NewFrameSource(ds, dcm.ExplicitVRLittleEndian, dcm.ExplicitVRLittleEndian, testMask())
	if err != nil || src == nil {
		t.Fatalf("NewFrameSource = %v, %v", src, err)
	}
	lut := src.PaletteLUT()
	if lut.Len() != 2 {
		t.Fatalf("lut has %d elements, want 2", lut.Len())
	}
	el, ok := lut.Get(dcm.TagRedPaletteColorLookupTableData)
	if !ok {
		t.Fatal("lut misses the red table data")
	}
	el.Value[0] = 0x00
	orig, _ := ds.Get(dcm.TagRedPaletteColorLookupTableData)
	if orig.Value[0] != 0xAA {
		t.Error("lut shares backing bytes with the source dataset")
	}
}
