package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/nicolasvandooren/dicom-forwarder/pkg/dcm"
)

// HasSOIMarker reports whether the fragment starts a new JPEG-family
// codestream. JPEG 2000 streams start with an SOC marker instead.
func HasSOIMarker(b []byte) bool {
	if len(b) < 2 {
		return false
	}
	if b[0] == 0xFF && b[1] == 0xD8 {
		return true
	}
	// JPEG 2000: raw SOC or the jp2 signature box.
	if b[0] == 0xFF && b[1] == 0x4F {
		return true
	}
	return len(b) >= 4 && b[0] == 0x00 && b[1] == 0x00 && b[2] == 0x00 && b[3] == 0x0C
}

// DecodeJPEGFrame decodes one baseline codestream into an Image.
func DecodeJPEGFrame(data []byte) (*Image, error) {
	src, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode jpeg frame: %w", err)
	}
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	if gray, ok := src.(*image.Gray); ok {
		img := NewImage(h, w, 1, 8)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.Pixels[y*w+x] = uint16(gray.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y)
			}
		}
		return img, nil
	}

	img := NewImage(h, w, 3, 8)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := src.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			off := (y*w + x) * 3
			img.Pixels[off] = uint16(r >> 8)
			img.Pixels[off+1] = uint16(g >> 8)
			img.Pixels[off+2] = uint16(b >> 8)
		}
	}
	return img, nil
}

// EncodeJPEGFrame encodes an Image as one baseline codestream. Frames with
// more than 8 bits per sample are reduced through the Gray16 color model.
func EncodeJPEGFrame(img *Image, quality int) ([]byte, error) {
	var src image.Image
	switch {
	case img.Samples == 1 && img.BitsAllocated > 8:
		g := image.NewGray16(image.Rect(0, 0, img.Columns, img.Rows))
		for y := 0; y < img.Rows; y++ {
			for x := 0; x < img.Columns; x++ {
				g.SetGray16(x, y, color.Gray16{Y: img.Pixels[y*img.Columns+x]})
			}
		}
		src = g
	case img.Samples == 1:
		g := image.NewGray(image.Rect(0, 0, img.Columns, img.Rows))
		for y := 0; y < img.Rows; y++ {
			for x := 0; x < img.Columns; x++ {
				g.SetGray(x, y, color.Gray{Y: byte(img.Pixels[y*img.Columns+x])})
			}
		}
		src = g
	case img.Samples == 3:
		rgba := image.NewRGBA(image.Rect(0, 0, img.Columns, img.Rows))
		for y := 0; y < img.Rows; y++ {
			for x := 0; x < img.Columns; x++ {
				off := (y*img.Columns + x) * 3
				rgba.SetRGBA(x, y, color.RGBA{
					R: byte(img.Pixels[off]),
					G: byte(img.Pixels[off+1]),
					B: byte(img.Pixels[off+2]),
					A: 0xFF,
				})
			}
		}
		src = rgba
	default:
		return nil, fmt.Errorf("cannot encode %d samples per pixel as jpeg", img.Samples)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg frame: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeFrame decodes one frame of the given transfer syntax into an Image.
func DecodeFrame(data []byte, tsuid string, desc *dcm.ImageDescriptor) (*Image, error) {
	switch {
	case dcm.IsNative(tsuid):
		return DecodeNative(data, desc)
	case tsuid == dcm.RLELossless:
		raw, err := DecodeRLEFrame(data, desc)
		if err != nil {
			return nil, err
		}
		return DecodeNative(raw, desc)
	case tsuid == dcm.JPEGBaseline8Bit || tsuid == dcm.JPEGExtended12Bit:
		return DecodeJPEGFrame(data)
	default:
		return nil, fmt.Errorf("no decoder for transfer syntax %s", tsuid)
	}
}
