package dcm

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"fmt"
	"io"
)

// ImplementationClassUID identifies this implementation in file meta groups
// and association user information.
const ImplementationClassUID = "2.25.84621383950319227016294227946616011717"

// ImplementationVersionName is the version name advertised with the
// implementation class UID.
const ImplementationVersionName = "FORWARDER_1_0"

// datasetWriter encodes data elements under one transfer syntax.
type datasetWriter struct {
	w         io.Writer
	implicit  bool
	bigEndian bool
}

// WriteDataset encodes a bare dataset with the given transfer syntax.
func WriteDataset(w io.Writer, ds *Dataset, tsuid string) error {
	ts := LookupTransferSyntax(tsuid)
	if tsuid == DeflatedExplicitVRLittleEndian {
		fw, err := flate.NewWriter(w, flate.DefaultCompression)
		if err != nil {
			return err
		}
		dw := &datasetWriter{w: fw}
		if err := dw.writeElements(ds.Elements()); err != nil {
			return err
		}
		return fw.Close()
	}
	dw := &datasetWriter{w: w, implicit: ts.Implicit, bigEndian: ts.BigEndian}
	return dw.writeElements(ds.Elements())
}

// WriteDatasetUntil encodes the elements whose tag sorts before stop. The
// forwarder uses it to emit everything ahead of pixel data before writing
// re-encoded frames itself.
func WriteDatasetUntil(w io.Writer, ds *Dataset, tsuid string, stop Tag) error {
	ts := LookupTransferSyntax(tsuid)
	dw := &datasetWriter{w: w, implicit: ts.Implicit, bigEndian: ts.BigEndian}
	for _, el := range ds.Elements() {
		if el.Tag >= stop {
			break
		}
		if err := dw.writeElement(el); err != nil {
			return err
		}
	}
	return nil
}

// NewFileMeta builds a file meta group for the given SOP instance and
// transfer syntax.
func NewFileMeta(cuid, iuid, tsuid string) *Dataset {
	meta := NewDataset()
	meta.SetBytes(TagFileMetaInformationVersion, VROB, []byte{0x00, 0x01})
	meta.SetString(TagMediaStorageSOPClassUID, VRUI, cuid)
	meta.SetString(TagMediaStorageSOPInstanceUID, VRUI, iuid)
	meta.SetString(TagTransferSyntaxUID, VRUI, tsuid)
	meta.SetString(TagImplementationClassUID, VRUI, ImplementationClassUID)
	meta.SetString(TagImplementationVersionName, VRSH, ImplementationVersionName)
	return meta
}

// WriteFileMeta writes the part 10 preamble, magic and file meta group. The
// group length element is computed here; any present in meta is ignored.
func WriteFileMeta(w io.Writer, meta *Dataset) error {
	var buf bytes.Buffer
	dw := &datasetWriter{w: &buf}
	for _, el := range meta.Elements() {
		if el.Tag == TagFileMetaInformationGroupLength {
			continue
		}
		if !el.Tag.IsFileMeta() {
			return fmt.Errorf("element %s does not belong to the file meta group", el.Tag)
		}
		if err := dw.writeElement(el); err != nil {
			return err
		}
	}

	preamble := make([]byte, 132)
	copy(preamble[128:], "DICM")
	if _, err := w.Write(preamble); err != nil {
		return fmt.Errorf("failed to write preamble: %w", err)
	}
	head := &datasetWriter{w: w}
	if err := head.writeElement(newUint32Element(TagFileMetaInformationGroupLength, VRUL, uint32(buf.Len()))); err != nil {
		return err
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write file meta group: %w", err)
	}
	return nil
}

func (dw *datasetWriter) writeElements(elements []*Element) error {
	for _, el := range elements {
		if err := dw.writeElement(el); err != nil {
			return fmt.Errorf("failed to write element %s: %w", el.Tag, err)
		}
	}
	return nil
}

func (dw *datasetWriter) writeElement(el *Element) error {
	switch {
	case el.Encapsulated():
		if err := dw.writeHeader(el.Tag, VROB, undefinedLength); err != nil {
			return err
		}
		return dw.writeFragments(el.Fragments)
	case el.VR == VRSQ:
		if err := dw.writeHeader(el.Tag, VRSQ, undefinedLength); err != nil {
			return err
		}
		return dw.writeItems(el.Items)
	default:
		value := el.Value
		if dw.bigEndian {
			value = swapBytes(el.VR, value)
		}
		if err := dw.writeHeader(el.Tag, el.VR, uint32(len(value))); err != nil {
			return err
		}
		_, err := dw.w.Write(value)
		return err
	}
}

// writeHeader emits tag, VR and length per the active transfer syntax.
func (dw *datasetWriter) writeHeader(tag Tag, vr string, length uint32) error {
	if err := dw.writeTag(tag); err != nil {
		return err
	}
	if dw.implicit {
		return dw.writeUint32(length)
	}
	if _, err := io.WriteString(dw.w, vr); err != nil {
		return err
	}
	if isLongVR(vr) {
		if _, err := dw.w.Write([]byte{0x00, 0x00}); err != nil {
			return err
		}
		return dw.writeUint32(length)
	}
	if length > 0xFFFF {
		return fmt.Errorf("value length %d overflows short form of VR %s", length, vr)
	}
	return dw.writeUint16(uint16(length))
}

func (dw *datasetWriter) writeItems(items []*Dataset) error {
	for _, item := range items {
		if err := dw.writeDelimiter(TagItem, undefinedLength); err != nil {
			return err
		}
		if err := dw.writeElements(item.Elements()); err != nil {
			return err
		}
		if err := dw.writeDelimiter(TagItemDelimitation, 0); err != nil {
			return err
		}
	}
	return dw.writeDelimiter(TagSequenceDelimitation, 0)
}

func (dw *datasetWriter) writeFragments(fragments [][]byte) error {
	for _, frag := range fragments {
		if err := dw.writeDelimiter(TagItem, uint32(len(frag))); err != nil {
			return err
		}
		if _, err := dw.w.Write(frag); err != nil {
			return err
		}
	}
	return dw.writeDelimiter(TagSequenceDelimitation, 0)
}

func (dw *datasetWriter) writeDelimiter(tag Tag, length uint32) error {
	if err := dw.writeTag(tag); err != nil {
		return err
	}
	return dw.writeUint32(length)
}

func (dw *datasetWriter) writeTag(tag Tag) error {
	b := make([]byte, 4)
	if dw.bigEndian {
		binary.BigEndian.PutUint16(b, tag.Group())
		binary.BigEndian.PutUint16(b[2:], tag.Element())
	} else {
		binary.LittleEndian.PutUint16(b, tag.Group())
		binary.LittleEndian.PutUint16(b[2:], tag.Element())
	}
	_, err := dw.w.Write(b)
	return err
}

func (dw *datasetWriter) writeUint16(v uint16) error {
	b := make([]byte, 2)
	if dw.bigEndian {
		binary.BigEndian.PutUint16(b, v)
	} else {
		binary.LittleEndian.PutUint16(b, v)
	}
	_, err := dw.w.Write(b)
	return err
}

func (dw *datasetWriter) writeUint32(v uint32) error {
	b := make([]byte, 4)
	if dw.bigEndian {
		binary.BigEndian.PutUint32(b, v)
	} else {
		binary.LittleEndian.PutUint32(b, v)
	}
	_, err := dw.w.Write(b)
	return err
}
