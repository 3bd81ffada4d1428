// Package imaging holds the pixel-level codecs used when a forwarded object
// must be decompressed, masked or re-encoded.
package imaging

import (
	"fmt"

	"github.com/nicolasvandooren/dicom-forwarder/pkg/dcm"
)

// Image is a decoded frame with one uint16 entry per sample, interleaved
// in pixel-major order regardless of the planar configuration it was read
// from.
type Image struct {
	Rows          int
	Columns       int
	Samples       int
	BitsAllocated int
	Pixels        []uint16
}

// NewImage allocates a zeroed frame.
func NewImage(rows, cols, samples, bitsAllocated int) *Image {
	return &Image{
		Rows:          rows,
		Columns:       cols,
		Samples:       samples,
		BitsAllocated: bitsAllocated,
		Pixels:        make([]uint16, rows*cols*samples),
	}
}

// DecodeNative converts uncompressed little endian frame bytes into an Image.
func DecodeNative(data []byte, desc *dcm.ImageDescriptor) (*Image, error) {
	if desc.BitsAllocated != 8 && desc.BitsAllocated != 16 {
		return nil, fmt.Errorf("unsupported bits allocated: %d", desc.BitsAllocated)
	}
	n := desc.Rows * desc.Columns * desc.Samples
	bytesPerSample := desc.BitsAllocated / 8
	if len(data) < n*bytesPerSample {
		return nil, fmt.Errorf("frame has %d bytes, need %d", len(data), n*bytesPerSample)
	}

	img := NewImage(desc.Rows, desc.Columns, desc.Samples, desc.BitsAllocated)
	planar := desc.PlanarConfiguration == 1 && desc.Samples > 1
	plane := desc.Rows * desc.Columns
	for i := 0; i < n; i++ {
		src := i
		if planar {
			// Plane-major input: sample s of pixel p lives at s*plane+p.
			p, s := i/desc.Samples, i%desc.Samples
			src = s*plane + p
		}
		if bytesPerSample == 1 {
			img.Pixels[i] = uint16(data[src])
		} else {
			img.Pixels[i] = uint16(data[2*src]) | uint16(data[2*src+1])<<8
		}
	}
	return img, nil
}

// EncodeNative returns the frame as uncompressed little endian bytes with
// interleaved samples.
func (img *Image) EncodeNative() []byte {
	bytesPerSample := img.BitsAllocated / 8
	out := make([]byte, len(img.Pixels)*bytesPerSample)
	for i, v := range img.Pixels {
		if bytesPerSample == 1 {
			out[i] = byte(v)
		} else {
			out[2*i] = byte(v)
			out[2*i+1] = byte(v >> 8)
		}
	}
	return out
}

// At returns the sample values of the pixel at (x, y). The returned slice
// aliases the image buffer.
func (img *Image) At(x, y int) []uint16 {
	off := (y*img.Columns + x) * img.Samples
	return img.Pixels[off : off+img.Samples]
}
