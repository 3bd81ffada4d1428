package forward

import (
	"fmt"

	"github.com/nicolasvandooren/dicom-forwarder/internal/imaging"
	"github.com/nicolasvandooren/dicom-forwarder/pkg/dcm"
)

// BytesWithImageDescriptor gives the transcoder lazy access to the frames
// of a parsed instance. Frame bytes are computed on demand; fragment scan
// results are kept for subsequent frames.
type BytesWithImageDescriptor interface {
	Descriptor() *dcm.ImageDescriptor
	TransferSyntax() string
	FrameBytes(frame int) ([]byte, error)
	PaletteLUT() *dcm.Dataset
}

// NewFrameSource decides whether an instance needs its pixel data rebuilt
// and returns the frame accessor when it does. Transcoding happens when a
// mask must be burned into a non-video image, or when the chosen outbound
// syntax differs from an encapsulated inbound one. A nil source means the
// pixel data travels unchanged.
func NewFrameSource(ds *dcm.Dataset, original, chosen string, mask *imaging.MaskArea) (BytesWithImageDescriptor, error) {
	el, ok := ds.Get(dcm.TagPixelData)
	if !ok {
		return nil, nil
	}
	maskTriggers := !mask.Empty() && !dcm.IsVideo(original)
	syntaxTriggers := chosen != original && dcm.LookupTransferSyntax(original).Encapsulated
	if !maskTriggers && !syntaxTriggers {
		return nil, nil
	}
	desc, err := dcm.Describe(ds)
	if err != nil {
		return nil, err
	}
	return &frameSource{ds: ds, pixel: el, desc: desc, tsuid: original}, nil
}

// frameSource indexes frames inside native or encapsulated pixel data.
type frameSource struct {
	ds    *dcm.Dataset
	pixel *dcm.Element
	desc  *dcm.ImageDescriptor
	tsuid string

	// starts holds the fragment index opening each frame for the JPEG
	// family; single caches the one-frame fragment concatenation.
	starts []int
	single []byte
}

func (s *frameSource) Descriptor() *dcm.ImageDescriptor { return s.desc }

func (s *frameSource) TransferSyntax() string { return s.tsuid }

func (s *frameSource) FrameBytes(frame int) ([]byte, error) {
	if frame < 0 || frame >= s.desc.Frames {
		return nil, fmt.Errorf("frame %d out of the stream limit", frame)
	}

	if !s.pixel.Encapsulated() {
		length := s.desc.FrameLength()
		start := frame * length
		if start+length > len(s.pixel.Value) {
			return nil, fmt.Errorf("frame %d out of the stream limit", frame)
		}
		return s.pixel.Value[start : start+length], nil
	}

	// Fragment 0 is the basic offset table.
	fragments := s.pixel.Fragments
	if len(fragments) < 2 {
		return nil, fmt.Errorf("encapsulated pixel data has no fragments")
	}

	if s.desc.Frames == 1 {
		if s.single == nil {
			if len(fragments) == 2 {
				s.single = fragments[1]
			} else {
				var buf []byte
				for _, f := range fragments[1:] {
					buf = append(buf, f...)
				}
				s.single = buf
			}
		}
		return s.single, nil
	}

	if s.tsuid == dcm.RLELossless {
		// One fragment per frame.
		idx := frame + 1
		if idx >= len(fragments) {
			return nil, fmt.Errorf("frame %d out of the stream limit", frame)
		}
		return fragments[idx], nil
	}

	// JPEG family: fragments opening with an SOI marker start a frame;
	// a frame spans from its start up to the next one.
	if s.starts == nil {
		var starts []int
		for i := 1; i < len(fragments); i++ {
			if imaging.HasSOIMarker(fragments[i]) {
				starts = append(starts, i)
			}
		}
		if len(starts) != s.desc.Frames {
			return nil, fmt.Errorf("cannot match all the fragments to all the frames")
		}
		s.starts = starts
	}

	start := s.starts[frame]
	end := len(fragments)
	if frame+1 < len(s.starts) {
		end = s.starts[frame+1]
	}
	if end == start+1 {
		return fragments[start], nil
	}
	var buf []byte
	for i := start; i < end; i++ {
		buf = append(buf, fragments[i]...)
	}
	return buf, nil
}

// PaletteLUT copies the palette lookup table tags into a fresh dataset.
func (s *frameSource) PaletteLUT() *dcm.Dataset {
	lut := dcm.NewDataset()
	for _, tag := range dcm.PaletteTags {
		if el, ok := s.ds.Get(tag); ok {
			lut.Add(el.Copy())
		}
	}
	return lut
}
