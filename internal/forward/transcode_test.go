package forward

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/nicolasvandooren/dicom-forwarder/internal/imaging"
	"github.com/nicolasvandooren/dicom-forwarder/pkg/dcm"
)

func native16Instance(iuid string, bitsStored uint16) *dcm.Dataset {
	ds := testInstance(iuid)
	ds.SetUint16(dcm.TagBitsAllocated, dcm.VRUS, 16)
	ds.SetUint16(dcm.TagBitsStored, dcm.VRUS, bitsStored)
	ds.SetUint16(dcm.TagHighBit, dcm.VRUS, bitsStored-1)
	pixels := make([]byte, 128)
	for i := 0; i < 64; i++ {
		binary.LittleEndian.PutUint16(pixels[2*i:], uint16(i*16))
	}
	ds.SetBytes(dcm.TagPixelData, dcm.VROW, pixels)
	return ds
}

func frameSourceFor(t *testing.T, ds *dcm.Dataset, original, chosen string, mask *imaging.MaskArea) BytesWithImageDescriptor {
	t.Helper()
	src, err := NewFrameSource(ds, original, chosen, mask)
	if err != nil {
		t.Fatalf("NewFrameSource failed: %v", err)
	}
	if src == nil {
		t.Fatal("expected a frame source")
	}
	return src
}

func TestOutputDataBurnsMask(t *testing.T) {
	ds := testInstance("1.2.840.99.40.1")
	mask := &imaging.MaskArea{Rects: []imaging.Rect{{MinX: 0, MinY: 0, MaxX: 4, MaxY: 8}}}
	src := frameSourceFor(t, ds, dcm.ExplicitVRLittleEndian, dcm.ExplicitVRLittleEndian, mask)

	out, err := NewDicomOutputData(src, dcm.ExplicitVRLittleEndian, mask)
	if err != nil {
		t.Fatalf("NewDicomOutputData failed: %v", err)
	}
	img := out.Frames()[0]
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			v := img.Pixels[y*8+x]
			if x < 4 && v != 0 {
				t.Fatalf("masked pixel (%d,%d) = %d", x, y, v)
			}
			if x >= 4 && v == 0 {
				t.Fatalf("unmasked pixel (%d,%d) was cleared", x, y)
			}
		}
	}
}

func TestOutputDataReducesToEightBitsForJPEG(t *testing.T) {
	ds := native16Instance("1.2.840.99.40.2", 12)
	src := frameSourceFor(t, ds, dcm.ExplicitVRLittleEndian, dcm.ExplicitVRLittleEndian, testMask())

	out, err := NewDicomOutputData(src, dcm.JPEGBaseline8Bit, testMask())
	if err != nil {
		t.Fatalf("NewDicomOutputData failed: %v", err)
	}
	img := out.Frames()[0]
	if img.BitsAllocated != 8 {
		t.Errorf("BitsAllocated = %d after reduction", img.BitsAllocated)
	}
	// 12 significant bits shift down by 4; sample 10 held 160.
	if img.Pixels[10] != 10 {
		t.Errorf("pixel 10 = %d, want 10", img.Pixels[10])
	}
}

func TestAdaptTagsNativeSixteenBit(t *testing.T) {
	ds := native16Instance("1.2.840.99.40.3", 16)
	src := frameSourceFor(t, ds, dcm.ExplicitVRLittleEndian, dcm.ExplicitVRLittleEndian, testMask())
	out, err := NewDicomOutputData(src, dcm.ExplicitVRLittleEndian, testMask())
	if err != nil {
		t.Fatalf("NewDicomOutputData failed: %v", err)
	}

	out.AdaptTags(ds)
	checks := []struct {
		tag  dcm.Tag
		want int
	}{
		{dcm.TagBitsAllocated, 16},
		{dcm.TagBitsStored, 16},
		{dcm.TagHighBit, 15},
		{dcm.TagSamplesPerPixel, 1},
		{dcm.TagPixelRepresentation, 0},
	}
	for _, c := range checks {
		if got, _ := ds.Int(c.tag); got != c.want {
			t.Errorf("%s = %d, want %d", c.tag, got, c.want)
		}
	}
	if got := ds.StringDefault(dcm.TagPhotometricInterpretation, ""); got != dcm.Monochrome2 {
		t.Errorf("photometric = %q", got)
	}
	if ds.Contains(dcm.TagPlanarConfiguration) {
		t.Error("planar configuration set on a single-sample image")
	}
	if ds.Contains(dcm.TagLossyImageCompression) {
		t.Error("lossy markers set on a lossless syntax")
	}
}

func TestAdaptTagsJPEGColor(t *testing.T) {
	frame := imaging.NewImage(8, 8, 3, 8)
	out := &DicomOutputData{frames: []*imaging.Image{frame}, tsuid: dcm.JPEGBaseline8Bit}

	ds := testInstance("1.2.840.99.40.4")
	out.AdaptTags(ds)

	if got, _ := ds.Int(dcm.TagSamplesPerPixel); got != 3 {
		t.Errorf("samples = %d", got)
	}
	if got := ds.StringDefault(dcm.TagPhotometricInterpretation, ""); got != dcm.YBRFull422 {
		t.Errorf("photometric = %q", got)
	}
	if got, _ := ds.Int(dcm.TagBitsAllocated); got != 8 {
		t.Errorf("bits allocated = %d", got)
	}
	if got, _ := ds.Int(dcm.TagPlanarConfiguration); got != 0 {
		t.Errorf("planar configuration = %d", got)
	}
	if got := ds.StringDefault(dcm.TagLossyImageCompression, ""); got != "01" {
		t.Errorf("lossy compression = %q", got)
	}
	if got := ds.StringDefault(dcm.TagLossyImageCompressionMethod, ""); got != "ISO_10918_1" {
		t.Errorf("lossy method = %q", got)
	}
}

func TestPixelElementNativePadsOddLength(t *testing.T) {
	frame := imaging.NewImage(3, 3, 1, 8)
	out := &DicomOutputData{frames: []*imaging.Image{frame}, tsuid: dcm.ExplicitVRLittleEndian}

	el, err := out.PixelElement()
	if err != nil {
		t.Fatalf("PixelElement failed: %v", err)
	}
	if el.VR != dcm.VROB {
		t.Errorf("VR = %s for 8 bit samples", el.VR)
	}
	if len(el.Value) != 10 {
		t.Errorf("value = %d bytes, want 9 padded to 10", len(el.Value))
	}
	if el.Value[9] != 0x00 {
		t.Errorf("padding byte = %#x", el.Value[9])
	}
}

func TestPixelElementEncapsulatedFragments(t *testing.T) {
	first := imaging.NewImage(8, 8, 1, 8)
	second := imaging.NewImage(8, 8, 1, 8)
	for i := range first.Pixels {
		first.Pixels[i] = 100
		second.Pixels[i] = 200
	}
	out := &DicomOutputData{frames: []*imaging.Image{first, second}, tsuid: dcm.JPEGBaseline8Bit}

	el, err := out.PixelElement()
	if err != nil {
		t.Fatalf("PixelElement failed: %v", err)
	}
	if !el.Encapsulated() {
		t.Fatal("element is not encapsulated")
	}
	if len(el.Fragments) != 3 {
		t.Fatalf("fragments = %d, want offset table plus one per frame", len(el.Fragments))
	}
	if el.Fragments[0] != nil {
		t.Error("basic offset table is not empty")
	}
	for i, frag := range el.Fragments[1:] {
		if len(frag)%2 == 1 {
			t.Errorf("fragment %d has odd length %d", i+1, len(frag))
		}
		if !imaging.HasSOIMarker(frag) {
			t.Errorf("fragment %d does not start a codestream", i+1)
		}
	}

	again, err := out.PixelElement()
	if err != nil || again != el {
		t.Error("rendered pixel element is not cached")
	}
}

func TestPixelElementRLERoundTrip(t *testing.T) {
	img := imaging.NewImage(8, 8, 1, 8)
	for i := range img.Pixels {
		img.Pixels[i] = uint16(i % 7)
	}
	desc := &dcm.ImageDescriptor{
		Rows: 8, Columns: 8, Samples: 1,
		BitsAllocated: 8, BitsStored: 8, HighBit: 7,
		Photometric: dcm.Monochrome2, Frames: 1,
	}
	out := &DicomOutputData{frames: []*imaging.Image{img}, desc: desc, tsuid: dcm.RLELossless}

	el, err := out.PixelElement()
	if err != nil {
		t.Fatalf("PixelElement failed: %v", err)
	}
	if len(el.Fragments) != 2 {
		t.Fatalf("fragments = %d", len(el.Fragments))
	}
	decoded, err := imaging.DecodeRLEFrame(el.Fragments[1], desc)
	if err != nil {
		t.Fatalf("DecodeRLEFrame failed: %v", err)
	}
	if !bytes.Equal(decoded, img.EncodeNative()) {
		t.Error("rle round trip changed the pixel bytes")
	}
}

func TestRenderDropsTrailingElements(t *testing.T) {
	ds := testInstance("1.2.840.99.40.5")
	trailing := dcm.TagOf(0xFFFC, 0xFFFC)
	ds.SetBytes(trailing, dcm.VROB, []byte{0x01, 0x02})

	mask := testMask()
	src := frameSourceFor(t, ds, dcm.ExplicitVRLittleEndian, dcm.ExplicitVRLittleEndian, mask)
	out, err := NewDicomOutputData(src, dcm.ExplicitVRLittleEndian, mask)
	if err != nil {
		t.Fatalf("NewDicomOutputData failed: %v", err)
	}

	var buf bytes.Buffer
	if err := out.Render(&buf, ds); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	got, err := dcm.ReadDatasetBytes(buf.Bytes(), dcm.ExplicitVRLittleEndian)
	if err != nil {
		t.Fatalf("failed to parse rendered stream: %v", err)
	}
	if got.Contains(trailing) {
		t.Error("trailing element survived the render")
	}
	if got.StringDefault(dcm.TagPatientName, "") != "DOE^JANE" {
		t.Error("header element lost in the render")
	}
	pixel, ok := got.Get(dcm.TagPixelData)
	if !ok {
		t.Fatal("rendered stream has no pixel data")
	}
	if len(pixel.Value) != 64 {
		t.Errorf("pixel data = %d bytes", len(pixel.Value))
	}
	if pixel.Value[0] != 0 || pixel.Value[7] == 0 {
		t.Error("mask not visible in the rendered pixel data")
	}
}
