package forward

import (
	"fmt"
	"io"

	"github.com/nicolasvandooren/dicom-forwarder/internal/imaging"
	"github.com/nicolasvandooren/dicom-forwarder/internal/metrics"
	"github.com/nicolasvandooren/dicom-forwarder/pkg/dcm"
)

// jpegQuality is the baseline encoder quality for re-encoded frames.
const jpegQuality = 90

// DicomOutputData holds the decoded, masked frames of one instance together
// with the syntax they will be re-encoded into. Decoding happens once; the
// rendered pixel element is cached so a payload can be rebuilt cheaply.
type DicomOutputData struct {
	frames []*imaging.Image
	desc   *dcm.ImageDescriptor
	tsuid  string

	pixel *dcm.Element
}

// NewDicomOutputData decodes every frame of the source, burns in the mask
// when one is set and prepares re-encoding into the output transfer syntax.
func NewDicomOutputData(src BytesWithImageDescriptor, outTsuid string, mask *imaging.MaskArea) (*DicomOutputData, error) {
	desc := src.Descriptor()
	frames := make([]*imaging.Image, 0, desc.Frames)
	for i := 0; i < desc.Frames; i++ {
		data, err := src.FrameBytes(i)
		if err != nil {
			return nil, err
		}
		img, err := imaging.DecodeFrame(data, src.TransferSyntax(), desc)
		if err != nil {
			return nil, fmt.Errorf("failed to decode frame %d: %w", i, err)
		}
		if !mask.Empty() {
			mask.Apply(img)
		}
		frames = append(frames, img)
	}
	metrics.TranscodedFrames.WithLabelValues(outTsuid).Add(float64(len(frames)))
	out := &DicomOutputData{frames: frames, desc: desc, tsuid: outTsuid}
	if !dcm.IsNative(outTsuid) {
		out.reduceForJPEG()
	}
	return out, nil
}

// reduceForJPEG shifts frames down to 8 significant bits, which is all the
// baseline encoder carries.
func (o *DicomOutputData) reduceForJPEG() {
	shift := o.desc.BitsStored - 8
	if shift <= 0 {
		return
	}
	for _, img := range o.frames {
		if img.BitsAllocated <= 8 {
			continue
		}
		for i, v := range img.Pixels {
			img.Pixels[i] = v >> shift
		}
		img.BitsAllocated = 8
	}
}

// TransferSyntax returns the output transfer syntax.
func (o *DicomOutputData) TransferSyntax() string { return o.tsuid }

// Frames returns the decoded frames.
func (o *DicomOutputData) Frames() []*imaging.Image { return o.frames }

// AdaptTags rewrites the pixel module attributes of the header to describe
// the re-encoded stream instead of the one that was decoded.
func (o *DicomOutputData) AdaptTags(ds *dcm.Dataset) {
	if len(o.frames) == 0 {
		return
	}
	first := o.frames[0]

	bits := first.BitsAllocated
	photometric := dcm.Monochrome2
	if first.Samples == 3 {
		photometric = dcm.RGB
	}
	if !dcm.IsNative(o.tsuid) {
		bits = 8
		if first.Samples == 3 {
			// The baseline encoder emits an interleaved YCbCr codestream.
			photometric = dcm.YBRFull422
		}
	}

	ds.SetUint16(dcm.TagSamplesPerPixel, dcm.VRUS, uint16(first.Samples))
	ds.SetString(dcm.TagPhotometricInterpretation, dcm.VRCS, photometric)
	ds.SetUint16(dcm.TagRows, dcm.VRUS, uint16(first.Rows))
	ds.SetUint16(dcm.TagColumns, dcm.VRUS, uint16(first.Columns))
	ds.SetUint16(dcm.TagBitsAllocated, dcm.VRUS, uint16(bits))
	ds.SetUint16(dcm.TagBitsStored, dcm.VRUS, uint16(bits))
	ds.SetUint16(dcm.TagHighBit, dcm.VRUS, uint16(bits-1))
	ds.SetUint16(dcm.TagPixelRepresentation, dcm.VRUS, 0)
	if first.Samples > 1 {
		ds.SetUint16(dcm.TagPlanarConfiguration, dcm.VRUS, 0)
	} else {
		ds.Remove(dcm.TagPlanarConfiguration)
	}
	if len(o.frames) > 1 || ds.Contains(dcm.TagNumberOfFrames) {
		ds.SetString(dcm.TagNumberOfFrames, dcm.VRIS, fmt.Sprintf("%d", len(o.frames)))
	}
	if dcm.IsLossy(o.tsuid) {
		ds.SetString(dcm.TagLossyImageCompression, dcm.VRCS, "01")
		ds.SetString(dcm.TagLossyImageCompressionMethod, dcm.VRCS, "ISO_10918_1")
	}
}

// PixelElement renders the frames into a pixel data element for the output
// syntax: a contiguous native buffer, or encapsulated fragments led by an
// empty basic offset table.
func (o *DicomOutputData) PixelElement() (*dcm.Element, error) {
	if o.pixel != nil {
		return o.pixel, nil
	}

	if dcm.IsNative(o.tsuid) {
		var buf []byte
		for _, img := range o.frames {
			buf = append(buf, img.EncodeNative()...)
		}
		if len(buf)%2 == 1 {
			buf = append(buf, 0x00)
		}
		vr := dcm.VROW
		if len(o.frames) > 0 && o.frames[0].BitsAllocated <= 8 {
			vr = dcm.VROB
		}
		o.pixel = &dcm.Element{Tag: dcm.TagPixelData, VR: vr, Value: buf}
		return o.pixel, nil
	}

	fragments := make([][]byte, 0, len(o.frames)+1)
	fragments = append(fragments, nil) // empty basic offset table
	for i, img := range o.frames {
		encoded, err := o.encodeFrame(img)
		if err != nil {
			return nil, fmt.Errorf("failed to encode frame %d: %w", i, err)
		}
		if len(encoded)%2 == 1 {
			encoded = append(encoded, 0x00)
		}
		fragments = append(fragments, encoded)
	}
	o.pixel = &dcm.Element{Tag: dcm.TagPixelData, VR: dcm.VROB, Fragments: fragments}
	return o.pixel, nil
}

func (o *DicomOutputData) encodeFrame(img *imaging.Image) ([]byte, error) {
	switch o.tsuid {
	case dcm.JPEGBaseline8Bit:
		return imaging.EncodeJPEGFrame(img, jpegQuality)
	case dcm.RLELossless:
		return imaging.EncodeRLEFrame(img.EncodeNative(), o.desc)
	default:
		return nil, fmt.Errorf("no encoder for transfer syntax %s", o.tsuid)
	}
}

// Render writes the instance with its rebuilt pixel data: the elements ahead
// of pixel data with adapted tags, then the new pixel element, all under the
// output syntax. Elements following pixel data are dropped.
func (o *DicomOutputData) Render(w io.Writer, data *dcm.Dataset) error {
	header := dcm.NewDataset()
	for _, el := range data.Elements() {
		if el.Tag >= dcm.TagPixelData {
			break
		}
		header.Add(el.Copy())
	}
	o.AdaptTags(header)
	pixel, err := o.PixelElement()
	if err != nil {
		return err
	}
	header.Add(pixel)
	return dcm.WriteDataset(w, header, o.tsuid)
}
