// Package stow uploads composite instances to a DICOMweb STOW-RS service.
package stow

import (
	"bytes"
	"fmt"
	"io"

	"github.com/nicolasvandooren/dicom-forwarder/pkg/dcm"
)

// Payload is one application/dicom part of a STOW-RS request. NewReader must
// return a fresh stream over the complete Part 10 object on every call so a
// request can be retried.
type Payload interface {
	// Size returns the part length in bytes, or -1 when it is only known
	// after rendering.
	Size() int64
	NewReader() (io.ReadCloser, error)
}

type bytesPayload struct {
	data []byte
}

// BytesPayload wraps an in-memory Part 10 object.
func BytesPayload(data []byte) Payload {
	return &bytesPayload{data: data}
}

func (p *bytesPayload) Size() int64 { return int64(len(p.data)) }

func (p *bytesPayload) NewReader() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(p.data)), nil
}

type writerPayload struct {
	render func(w io.Writer) error
}

// WriterPayload renders the object through a callback on every read, so the
// part carries whatever the producer currently holds without buffering it.
func WriterPayload(render func(w io.Writer) error) Payload {
	return &writerPayload{render: render}
}

func (p *writerPayload) Size() int64 { return -1 }

func (p *writerPayload) NewReader() (io.ReadCloser, error) {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(p.render(pw))
	}()
	return pr, nil
}

type streamPayload struct {
	meta *dcm.Dataset
	r    io.Reader
	used bool
}

// StreamPayload prefixes a one-shot dataset stream with its file meta group.
// The reader can be produced only once, so the part cannot be retried.
func StreamPayload(meta *dcm.Dataset, r io.Reader) Payload {
	return &streamPayload{meta: meta, r: r}
}

func (p *streamPayload) Size() int64 { return -1 }

func (p *streamPayload) NewReader() (io.ReadCloser, error) {
	if p.used {
		return nil, fmt.Errorf("inbound stream already consumed")
	}
	p.used = true
	pr, pw := io.Pipe()
	go func() {
		if err := dcm.WriteFileMeta(pw, p.meta); err != nil {
			pw.CloseWithError(err)
			return
		}
		_, err := io.Copy(pw, p.r)
		pw.CloseWithError(err)
	}()
	return pr, nil
}

// DatasetPayload renders a file meta group and dataset as a Part 10 stream in
// the given transfer syntax.
func DatasetPayload(meta, ds *dcm.Dataset, tsuid string) Payload {
	return WriterPayload(func(w io.Writer) error {
		if err := dcm.WriteFileMeta(w, meta); err != nil {
			return err
		}
		return dcm.WriteDataset(w, ds, tsuid)
	})
}
