package dcm

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"fmt"
	"io"
)

const undefinedLength = 0xFFFFFFFF

// datasetReader decodes a stream of data elements under one transfer syntax.
type datasetReader struct {
	r         io.Reader
	pos       int64
	implicit  bool
	bigEndian bool
}

func newDatasetReader(r io.Reader, tsuid string) *datasetReader {
	ts := LookupTransferSyntax(tsuid)
	if tsuid == DeflatedExplicitVRLittleEndian {
		r = flate.NewReader(r)
	}
	return &datasetReader{r: r, implicit: ts.Implicit, bigEndian: ts.BigEndian}
}

// ReadDataset parses a bare dataset encoded with the given transfer syntax,
// as carried on an association or after the file meta group.
func ReadDataset(r io.Reader, tsuid string) (*Dataset, error) {
	dr := newDatasetReader(r, tsuid)
	ds := NewDataset()
	for {
		tag, err := dr.readTag()
		if err == io.EOF {
			return ds, nil
		}
		if err != nil {
			return nil, err
		}
		el, err := dr.readElementBody(tag)
		if err != nil {
			return nil, fmt.Errorf("failed to read element %s: %w", tag, err)
		}
		ds.Add(el)
	}
}

// ReadDatasetBytes parses a dataset held in memory.
func ReadDatasetBytes(b []byte, tsuid string) (*Dataset, error) {
	return ReadDataset(bytes.NewReader(b), tsuid)
}

// ReadFile parses a DICOM part 10 stream: preamble, file meta group, then
// the dataset in the transfer syntax the meta group names.
func ReadFile(r io.Reader) (meta, ds *Dataset, err error) {
	header := make([]byte, 132)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, nil, fmt.Errorf("failed to read preamble: %w", err)
	}
	if string(header[128:]) != "DICM" {
		return nil, nil, fmt.Errorf("not a DICOM part 10 stream")
	}
	meta, err = readFileMeta(r)
	if err != nil {
		return nil, nil, err
	}
	tsuid, ok := meta.String(TagTransferSyntaxUID)
	if !ok {
		return nil, nil, fmt.Errorf("file meta group has no transfer syntax UID")
	}
	ds, err = ReadDataset(r, tsuid)
	if err != nil {
		return nil, nil, err
	}
	return meta, ds, nil
}

// readFileMeta parses the group 0002 elements, which are always explicit VR
// little endian and bounded by the group length element.
func readFileMeta(r io.Reader) (*Dataset, error) {
	dr := &datasetReader{r: r}
	tag, err := dr.readTag()
	if err != nil {
		return nil, fmt.Errorf("failed to read file meta group: %w", err)
	}
	if tag != TagFileMetaInformationGroupLength {
		return nil, fmt.Errorf("file meta group does not start with group length, got %s", tag)
	}
	el, err := dr.readElementBody(tag)
	if err != nil {
		return nil, err
	}
	groupLen, ok := el.IntValue()
	if !ok {
		return nil, fmt.Errorf("invalid file meta group length")
	}
	meta := NewDataset()
	meta.Add(el)
	end := dr.pos + int64(groupLen)
	for dr.pos < end {
		tag, err := dr.readTag()
		if err != nil {
			return nil, fmt.Errorf("failed to read file meta element: %w", err)
		}
		el, err := dr.readElementBody(tag)
		if err != nil {
			return nil, fmt.Errorf("failed to read file meta element %s: %w", tag, err)
		}
		meta.Add(el)
	}
	return meta, nil
}

func (dr *datasetReader) readFull(b []byte) error {
	n, err := io.ReadFull(dr.r, b)
	dr.pos += int64(n)
	return err
}

func (dr *datasetReader) readTag() (Tag, error) {
	b := make([]byte, 4)
	if err := dr.readFull(b); err != nil {
		if err == io.EOF {
			return 0, io.EOF
		}
		return 0, fmt.Errorf("failed to read tag: %w", err)
	}
	if dr.bigEndian {
		return TagOf(binary.BigEndian.Uint16(b), binary.BigEndian.Uint16(b[2:])), nil
	}
	return TagOf(binary.LittleEndian.Uint16(b), binary.LittleEndian.Uint16(b[2:])), nil
}

func (dr *datasetReader) readUint16() (uint16, error) {
	b := make([]byte, 2)
	if err := dr.readFull(b); err != nil {
		return 0, err
	}
	if dr.bigEndian {
		return binary.BigEndian.Uint16(b), nil
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (dr *datasetReader) readUint32() (uint32, error) {
	b := make([]byte, 4)
	if err := dr.readFull(b); err != nil {
		return 0, err
	}
	if dr.bigEndian {
		return binary.BigEndian.Uint32(b), nil
	}
	return binary.LittleEndian.Uint32(b), nil
}

// readElementBody reads VR, length and value for a tag whose 4 tag bytes
// have already been consumed.
func (dr *datasetReader) readElementBody(tag Tag) (*Element, error) {
	var vr string
	var length uint32
	var err error
	if dr.implicit {
		if length, err = dr.readUint32(); err != nil {
			return nil, err
		}
		vr = DictVR(tag)
	} else {
		vrb := make([]byte, 2)
		if err := dr.readFull(vrb); err != nil {
			return nil, err
		}
		vr = string(vrb)
		if isLongVR(vr) {
			if err := dr.skip(2); err != nil {
				return nil, err
			}
			if length, err = dr.readUint32(); err != nil {
				return nil, err
			}
		} else {
			l16, err := dr.readUint16()
			if err != nil {
				return nil, err
			}
			length = uint32(l16)
		}
	}

	switch {
	case tag == TagPixelData && length == undefinedLength:
		fragments, err := dr.readFragments()
		if err != nil {
			return nil, err
		}
		return &Element{Tag: tag, VR: VROB, Fragments: fragments}, nil
	case vr == VRSQ || (length == undefinedLength && (vr == VRUN || dr.implicit)):
		items, err := dr.readSequence(length)
		if err != nil {
			return nil, err
		}
		return &Element{Tag: tag, VR: VRSQ, Items: items}, nil
	case length == undefinedLength:
		return nil, fmt.Errorf("undefined length on non-sequence element")
	default:
		value, err := dr.readValue(length)
		if err != nil {
			return nil, err
		}
		if dr.bigEndian {
			value = swapBytes(vr, value)
		}
		return &Element{Tag: tag, VR: vr, Value: value}, nil
	}
}

// readValue reads a value of the declared length. Long values grow a buffer
// as bytes actually arrive, so a lying length from the wire cannot force a
// giant allocation up front.
func (dr *datasetReader) readValue(length uint32) ([]byte, error) {
	const direct = 1 << 20
	if length <= direct {
		b := make([]byte, length)
		if err := dr.readFull(b); err != nil {
			return nil, err
		}
		return b, nil
	}
	var buf bytes.Buffer
	n, err := io.CopyN(&buf, dr.r, int64(length))
	dr.pos += n
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf.Bytes(), nil
}

func (dr *datasetReader) skip(n int64) error {
	m, err := io.CopyN(io.Discard, dr.r, n)
	dr.pos += m
	return err
}

// readFragments consumes the item sequence of an encapsulated pixel data
// element, returning every item including the basic offset table.
func (dr *datasetReader) readFragments() ([][]byte, error) {
	fragments := make([][]byte, 0, 2)
	for {
		tag, err := dr.readTag()
		if err != nil {
			return nil, fmt.Errorf("failed to read fragment item: %w", err)
		}
		length, err := dr.readUint32()
		if err != nil {
			return nil, err
		}
		if tag == TagSequenceDelimitation {
			return fragments, nil
		}
		if tag != TagItem {
			return nil, fmt.Errorf("unexpected tag %s in pixel data fragments", tag)
		}
		frag, err := dr.readValue(length)
		if err != nil {
			return nil, err
		}
		fragments = append(fragments, frag)
	}
}

// readSequence consumes sequence items, with either a defined byte length or
// an item/sequence delimitation structure.
func (dr *datasetReader) readSequence(length uint32) ([]*Dataset, error) {
	var items []*Dataset
	end := int64(-1)
	if length != undefinedLength {
		end = dr.pos + int64(length)
	}
	for {
		if end >= 0 && dr.pos >= end {
			return items, nil
		}
		tag, err := dr.readTag()
		if err != nil {
			return nil, fmt.Errorf("failed to read sequence item: %w", err)
		}
		itemLen, err := dr.readUint32()
		if err != nil {
			return nil, err
		}
		switch tag {
		case TagSequenceDelimitation:
			return items, nil
		case TagItem:
			item, err := dr.readItem(itemLen)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		default:
			return nil, fmt.Errorf("unexpected tag %s in sequence", tag)
		}
	}
}

func (dr *datasetReader) readItem(length uint32) (*Dataset, error) {
	ds := NewDataset()
	end := int64(-1)
	if length != undefinedLength {
		end = dr.pos + int64(length)
	}
	for {
		if end >= 0 && dr.pos >= end {
			return ds, nil
		}
		tag, err := dr.readTag()
		if err != nil {
			return nil, fmt.Errorf("failed to read item element: %w", err)
		}
		if tag == TagItemDelimitation {
			if err := dr.skip(4); err != nil {
				return nil, err
			}
			return ds, nil
		}
		el, err := dr.readElementBody(tag)
		if err != nil {
			return nil, fmt.Errorf("failed to read item element %s: %w", tag, err)
		}
		ds.Add(el)
	}
}
