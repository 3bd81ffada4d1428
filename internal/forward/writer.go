package forward

import (
	"io"

	"github.com/nicolasvandooren/dicom-forwarder/internal/imaging"
	"github.com/nicolasvandooren/dicom-forwarder/pkg/dcm"
	"github.com/nicolasvandooren/dicom-forwarder/pkg/dimse"
	"github.com/nicolasvandooren/dicom-forwarder/pkg/stow"
)

// passthroughWriter copies the inbound stream to the peer untouched. Only
// valid while the stream is unconsumed, so only for the first destination.
func passthroughWriter(p *Params) dimse.DataWriter {
	return func(w io.Writer, tsuid string) error {
		_, err := io.Copy(w, p.Data)
		return err
	}
}

// BuildDataWriter returns the writer streaming one parsed instance to a
// DICOM peer. With no frame source the dataset is written whole under the
// negotiated syntax; with one, the transcoder renders the header with
// adapted tags followed by the rebuilt pixel data.
func BuildDataWriter(data *dcm.Dataset, outTsuid string, mask *imaging.MaskArea, src BytesWithImageDescriptor) (dimse.DataWriter, error) {
	if src == nil {
		return func(w io.Writer, tsuid string) error {
			return dcm.WriteDataset(w, data, tsuid)
		}, nil
	}
	out, err := NewDicomOutputData(src, outTsuid, mask)
	if err != nil {
		return nil, err
	}
	return func(w io.Writer, tsuid string) error {
		return out.Render(w, data)
	}, nil
}

// PreparePayload builds the STOW-RS part for a transcoded instance. Frames
// are decoded and masked once up front; every reader rebuild re-renders the
// file meta group and the re-encoded dataset, so the upload can be retried.
func PreparePayload(data *dcm.Dataset, outTsuid string, mask *imaging.MaskArea, src BytesWithImageDescriptor) (stow.Payload, error) {
	out, err := NewDicomOutputData(src, outTsuid, mask)
	if err != nil {
		return nil, err
	}
	cuid := data.StringDefault(dcm.TagSOPClassUID, "")
	iuid := data.StringDefault(dcm.TagSOPInstanceUID, "")
	return stow.WriterPayload(func(w io.Writer) error {
		if err := dcm.WriteFileMeta(w, dcm.NewFileMeta(cuid, iuid, outTsuid)); err != nil {
			return err
		}
		return out.Render(w, data)
	}), nil
}
