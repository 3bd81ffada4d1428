package dcm

import "fmt"

// Photometric interpretation values.
const (
	Monochrome1   = "MONOCHROME1"
	Monochrome2   = "MONOCHROME2"
	PaletteColor  = "PALETTE COLOR"
	RGB           = "RGB"
	YBRFull       = "YBR_FULL"
	YBRFull422    = "YBR_FULL_422"
	YBRPartial420 = "YBR_PARTIAL_420"
)

// ImageDescriptor captures the pixel module attributes needed to slice and
// re-encode frames.
type ImageDescriptor struct {
	Rows                int
	Columns             int
	Samples             int
	Photometric         string
	BitsAllocated       int
	BitsStored          int
	HighBit             int
	PixelRepresentation int
	PlanarConfiguration int
	Frames              int
}

// Describe extracts the image descriptor from a dataset.
func Describe(ds *Dataset) (*ImageDescriptor, error) {
	rows, ok := ds.Int(TagRows)
	if !ok {
		return nil, fmt.Errorf("dataset has no Rows attribute")
	}
	cols, ok := ds.Int(TagColumns)
	if !ok {
		return nil, fmt.Errorf("dataset has no Columns attribute")
	}
	bitsAllocated := ds.IntDefault(TagBitsAllocated, 8)
	desc := &ImageDescriptor{
		Rows:                rows,
		Columns:             cols,
		Samples:             ds.IntDefault(TagSamplesPerPixel, 1),
		Photometric:         ds.StringDefault(TagPhotometricInterpretation, Monochrome2),
		BitsAllocated:       bitsAllocated,
		BitsStored:          ds.IntDefault(TagBitsStored, bitsAllocated),
		HighBit:             ds.IntDefault(TagHighBit, bitsAllocated-1),
		PixelRepresentation: ds.IntDefault(TagPixelRepresentation, 0),
		PlanarConfiguration: ds.IntDefault(TagPlanarConfiguration, 0),
		Frames:              ds.IntDefault(TagNumberOfFrames, 1),
	}
	if desc.Frames < 1 {
		desc.Frames = 1
	}
	return desc, nil
}

// FrameLength returns the uncompressed byte length of a single frame. The
// chroma-subsampled interpretations pack two pixels into four samples.
func (d *ImageDescriptor) FrameLength() int {
	switch d.Photometric {
	case YBRFull422:
		return d.Rows * d.Columns * d.BitsAllocated / 4
	case YBRPartial420:
		return d.Rows * d.Columns * d.BitsAllocated * 3 / 16
	}
	if d.BitsAllocated == 1 {
		return (d.Rows*d.Columns*d.Samples + 7) / 8
	}
	return d.Rows * d.Columns * d.Samples * d.BitsAllocated / 8
}

// Monochrome reports whether the image is single-sample grayscale.
func (d *ImageDescriptor) Monochrome() bool {
	return d.Photometric == Monochrome1 || d.Photometric == Monochrome2
}

// HasPalette reports whether pixel values index a palette color lookup table.
func (d *ImageDescriptor) HasPalette() bool {
	return d.Photometric == PaletteColor
}

// PaletteTags lists the palette color lookup table attributes copied along
// with extracted frames.
var PaletteTags = []Tag{
	TagRedPaletteColorLookupTableDescriptor,
	TagGreenPaletteColorLookupTableDescriptor,
	TagBluePaletteColorLookupTableDescriptor,
	TagRedPaletteColorLookupTableData,
	TagGreenPaletteColorLookupTableData,
	TagBluePaletteColorLookupTableData,
	TagSegmentedRedPaletteColorLookupTable,
	TagSegmentedGreenPaletteColorLookupTable,
	TagSegmentedBluePaletteColorLookupTable,
}
