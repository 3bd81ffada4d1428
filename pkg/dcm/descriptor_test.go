package dcm

import "testing"

func TestFrameLength(t *testing.T) {
	tests := []struct {
		name string
		desc ImageDescriptor
		want int
	}{
		{"mono 8 bit", ImageDescriptor{Rows: 64, Columns: 64, Samples: 1, Photometric: Monochrome2, BitsAllocated: 8}, 4096},
		{"mono 16 bit", ImageDescriptor{Rows: 512, Columns: 512, Samples: 1, Photometric: Monochrome2, BitsAllocated: 16}, 524288},
		{"rgb 8 bit", ImageDescriptor{Rows: 100, Columns: 100, Samples: 3, Photometric: RGB, BitsAllocated: 8}, 30000},
		{"ybr 422", ImageDescriptor{Rows: 100, Columns: 100, Samples: 3, Photometric: YBRFull422, BitsAllocated: 8}, 20000},
		{"single bit", ImageDescriptor{Rows: 9, Columns: 9, Samples: 1, Photometric: Monochrome2, BitsAllocated: 1}, 11},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.desc.FrameLength(); got != tt.want {
				t.Errorf("FrameLength = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	ds := NewDataset()
	ds.SetUint16(TagRows, VRUS, 256)
	ds.SetUint16(TagColumns, VRUS, 320)
	ds.SetUint16(TagSamplesPerPixel, VRUS, 3)
	ds.SetString(TagPhotometricInterpretation, VRCS, RGB)
	ds.SetUint16(TagBitsAllocated, VRUS, 8)
	ds.SetString(TagNumberOfFrames, VRIS, "5")

	desc, err := Describe(ds)
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if desc.Rows != 256 || desc.Columns != 320 {
		t.Errorf("Size = %dx%d, want 256x320", desc.Rows, desc.Columns)
	}
	if desc.Frames != 5 {
		t.Errorf("Frames = %d, want 5", desc.Frames)
	}
	if desc.BitsStored != 8 || desc.HighBit != 7 {
		t.Errorf("BitsStored/HighBit = %d/%d, want 8/7", desc.BitsStored, desc.HighBit)
	}

	ds.Remove(TagRows)
	if _, err := Describe(ds); err == nil {
		t.Error("Describe should fail without Rows")
	}
}
