package dcm

import (
	"bytes"
	"testing"
)

func sampleDataset() *Dataset {
	ds := NewDataset()
	ds.SetString(TagSOPClassUID, VRUI, CTImageStorage)
	ds.SetString(TagSOPInstanceUID, VRUI, "1.2.840.99.1.1")
	ds.SetString(TagModality, VRCS, "CT")
	ds.SetString(TagPatientName, VRPN, "DOE^JOHN")
	ds.SetUint16(TagRows, VRUS, 512)
	ds.SetUint16(TagColumns, VRUS, 512)
	ds.SetUint16(TagBitsAllocated, VRUS, 16)
	return ds
}

func TestDatasetRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		tsuid string
	}{
		{"explicit little endian", ExplicitVRLittleEndian},
		{"implicit little endian", ImplicitVRLittleEndian},
		{"explicit big endian", ExplicitVRBigEndian},
		{"deflated explicit little endian", DeflatedExplicitVRLittleEndian},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := sampleDataset()

			var buf bytes.Buffer
			if err := WriteDataset(&buf, ds, tt.tsuid); err != nil {
				t.Fatalf("WriteDataset failed: %v", err)
			}

			got, err := ReadDatasetBytes(buf.Bytes(), tt.tsuid)
			if err != nil {
				t.Fatalf("ReadDataset failed: %v", err)
			}

			if got.Len() != ds.Len() {
				t.Fatalf("Expected %d elements, got %d", ds.Len(), got.Len())
			}
			if v, _ := got.String(TagSOPInstanceUID); v != "1.2.840.99.1.1" {
				t.Errorf("SOPInstanceUID = %q, want %q", v, "1.2.840.99.1.1")
			}
			if v, _ := got.String(TagPatientName); v != "DOE^JOHN" {
				t.Errorf("PatientName = %q, want %q", v, "DOE^JOHN")
			}
			if v, _ := got.Int(TagRows); v != 512 {
				t.Errorf("Rows = %d, want 512", v)
			}
		})
	}
}

func TestBigEndianValueOrder(t *testing.T) {
	ds := NewDataset()
	ds.SetUint16(TagRows, VRUS, 0x0102)

	var buf bytes.Buffer
	if err := WriteDataset(&buf, ds, ExplicitVRBigEndian); err != nil {
		t.Fatalf("WriteDataset failed: %v", err)
	}

	// Tag, VR, length, then the value with its high byte first.
	b := buf.Bytes()
	if len(b) != 10 {
		t.Fatalf("Expected 10 bytes, got %d", len(b))
	}
	if b[8] != 0x01 || b[9] != 0x02 {
		t.Errorf("Value bytes = %02x %02x, want 01 02", b[8], b[9])
	}
}

func TestEncapsulatedRoundTrip(t *testing.T) {
	frame := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x02}
	ds := NewDataset()
	ds.SetString(TagSOPClassUID, VRUI, SecondaryCaptureImageStorage)
	ds.SetFragments(TagPixelData, VROB, [][]byte{{}, frame})

	var buf bytes.Buffer
	if err := WriteDataset(&buf, ds, JPEGBaseline8Bit); err != nil {
		t.Fatalf("WriteDataset failed: %v", err)
	}

	got, err := ReadDatasetBytes(buf.Bytes(), JPEGBaseline8Bit)
	if err != nil {
		t.Fatalf("ReadDataset failed: %v", err)
	}

	el, ok := got.Get(TagPixelData)
	if !ok {
		t.Fatal("Pixel data element missing after round trip")
	}
	if !el.Encapsulated() {
		t.Fatal("Pixel data element is not encapsulated")
	}
	if len(el.Fragments) != 2 {
		t.Fatalf("Expected 2 fragments, got %d", len(el.Fragments))
	}
	if len(el.Fragments[0]) != 0 {
		t.Errorf("Offset table fragment should be empty, got %d bytes", len(el.Fragments[0]))
	}
	if !bytes.Equal(el.Fragments[1], frame) {
		t.Errorf("Fragment = %x, want %x", el.Fragments[1], frame)
	}
}

func TestSequenceRoundTrip(t *testing.T) {
	item := NewDataset()
	item.SetString(TagSOPInstanceUID, VRUI, "1.2.3")

	ds := NewDataset()
	ds.Add(&Element{Tag: TagOf(0x0008, 0x1140), VR: VRSQ, Items: []*Dataset{item}})
	ds.SetString(TagModality, VRCS, "MR")

	for _, tsuid := range []string{ExplicitVRLittleEndian, ImplicitVRLittleEndian} {
		var buf bytes.Buffer
		if err := WriteDataset(&buf, ds, tsuid); err != nil {
			t.Fatalf("WriteDataset(%s) failed: %v", tsuid, err)
		}

		got, err := ReadDatasetBytes(buf.Bytes(), tsuid)
		if err != nil {
			t.Fatalf("ReadDataset(%s) failed: %v", tsuid, err)
		}

		el, ok := got.Get(TagOf(0x0008, 0x1140))
		if !ok || el.VR != VRSQ {
			t.Fatalf("Sequence element missing after %s round trip", tsuid)
		}
		if len(el.Items) != 1 {
			t.Fatalf("Expected 1 item, got %d", len(el.Items))
		}
		if v, _ := el.Items[0].String(TagSOPInstanceUID); v != "1.2.3" {
			t.Errorf("Item SOPInstanceUID = %q, want %q", v, "1.2.3")
		}
	}
}

func TestFileMetaRoundTrip(t *testing.T) {
	meta := NewFileMeta(CTImageStorage, "1.2.840.99.1.1", ExplicitVRLittleEndian)
	ds := sampleDataset()

	var buf bytes.Buffer
	if err := WriteFileMeta(&buf, meta); err != nil {
		t.Fatalf("WriteFileMeta failed: %v", err)
	}
	if err := WriteDataset(&buf, ds, ExplicitVRLittleEndian); err != nil {
		t.Fatalf("WriteDataset failed: %v", err)
	}

	gotMeta, gotDS, err := ReadFile(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	if v, _ := gotMeta.String(TagTransferSyntaxUID); v != ExplicitVRLittleEndian {
		t.Errorf("TransferSyntaxUID = %q, want %q", v, ExplicitVRLittleEndian)
	}
	if v, _ := gotMeta.String(TagMediaStorageSOPInstanceUID); v != "1.2.840.99.1.1" {
		t.Errorf("MediaStorageSOPInstanceUID = %q, want %q", v, "1.2.840.99.1.1")
	}
	if v, _ := gotDS.String(TagModality); v != "CT" {
		t.Errorf("Modality = %q, want CT", v)
	}
}

func TestTruncatedLongValueFails(t *testing.T) {
	// An OB element claiming far more data than the stream holds must error
	// out instead of allocating the declared length.
	b := []byte{
		0xE0, 0x7F, 0x10, 0x00, // (7FE0,0010)
		'O', 'B', 0x00, 0x00,
		0xF0, 0xFF, 0xFF, 0x7F, // declared length 0x7FFFFFF0
		0x01, 0x02, 0x03,
	}
	if _, err := ReadDatasetBytes(b, ExplicitVRLittleEndian); err == nil {
		t.Fatal("expected error for truncated value")
	}
}

func TestWriteDatasetUntilStopsBeforePixelData(t *testing.T) {
	ds := sampleDataset()
	ds.SetBytes(TagPixelData, VROW, make([]byte, 32))

	var buf bytes.Buffer
	if err := WriteDatasetUntil(&buf, ds, ExplicitVRLittleEndian, TagPixelData); err != nil {
		t.Fatalf("WriteDatasetUntil failed: %v", err)
	}

	got, err := ReadDatasetBytes(buf.Bytes(), ExplicitVRLittleEndian)
	if err != nil {
		t.Fatalf("ReadDataset failed: %v", err)
	}
	if got.Contains(TagPixelData) {
		t.Error("Pixel data should not be present in the header segment")
	}
	if !got.Contains(TagBitsAllocated) {
		t.Error("BitsAllocated should be present in the header segment")
	}
}
