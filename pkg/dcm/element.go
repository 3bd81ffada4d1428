package dcm

import (
	"encoding/binary"
	"strconv"
	"strings"
)

// Element is a single data element. Binary values are kept in little endian
// order regardless of the transfer syntax they were read from; byte order is
// applied on write. Sequence elements carry nested datasets in Items, and an
// encapsulated pixel data element carries its fragments (offset table first)
// in Fragments with a nil Value.
type Element struct {
	Tag       Tag
	VR        string
	Value     []byte
	Items     []*Dataset
	Fragments [][]byte
}

// Encapsulated reports whether the element holds fragmented pixel data.
func (e *Element) Encapsulated() bool { return e.Fragments != nil }

// StringValue returns the element value as a trimmed string.
func (e *Element) StringValue() string {
	return strings.TrimRight(string(e.Value), " \x00")
}

// IntValue returns the element value as an int. Binary US/UL/SS/SL values
// read their first item; numeric strings are parsed.
func (e *Element) IntValue() (int, bool) {
	switch e.VR {
	case VRUS:
		if len(e.Value) < 2 {
			return 0, false
		}
		return int(binary.LittleEndian.Uint16(e.Value)), true
	case VRSS:
		if len(e.Value) < 2 {
			return 0, false
		}
		return int(int16(binary.LittleEndian.Uint16(e.Value))), true
	case VRUL:
		if len(e.Value) < 4 {
			return 0, false
		}
		return int(binary.LittleEndian.Uint32(e.Value)), true
	case VRSL:
		if len(e.Value) < 4 {
			return 0, false
		}
		return int(int32(binary.LittleEndian.Uint32(e.Value))), true
	default:
		n, err := strconv.Atoi(strings.TrimSpace(e.StringValue()))
		if err != nil {
			return 0, false
		}
		return n, true
	}
}

// Copy returns a deep copy of the element.
func (e *Element) Copy() *Element {
	c := &Element{Tag: e.Tag, VR: e.VR}
	if e.Value != nil {
		c.Value = append([]byte(nil), e.Value...)
	}
	if e.Items != nil {
		c.Items = make([]*Dataset, len(e.Items))
		for i, item := range e.Items {
			c.Items[i] = item.Copy()
		}
	}
	if e.Fragments != nil {
		c.Fragments = make([][]byte, len(e.Fragments))
		for i, frag := range e.Fragments {
			c.Fragments[i] = append([]byte(nil), frag...)
		}
	}
	return c
}

// padded returns the value padded to even length with the VR padding byte.
func padded(vr string, value []byte) []byte {
	if len(value)%2 == 0 {
		return value
	}
	return append(value, paddingByte(vr))
}

// swapBytes converts value between little and big endian in place-safe copy
// for the element's binary unit size. Unit 1 values are returned unchanged.
func swapBytes(vr string, value []byte) []byte {
	unit := swapUnit(vr)
	if unit == 1 || len(value) < unit {
		return value
	}
	out := make([]byte, len(value))
	for i := 0; i+unit <= len(value); i += unit {
		for j := 0; j < unit; j++ {
			out[i+j] = value[i+unit-1-j]
		}
	}
	// Trailing partial unit, if any, copies through.
	copy(out[len(value)-len(value)%unit:], value[len(value)-len(value)%unit:])
	return out
}

func newStringElement(tag Tag, vr, value string) *Element {
	return &Element{Tag: tag, VR: vr, Value: padded(vr, []byte(value))}
}

func newUint16Element(tag Tag, vr string, v uint16) *Element {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return &Element{Tag: tag, VR: vr, Value: b}
}

func newUint32Element(tag Tag, vr string, v uint32) *Element {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return &Element{Tag: tag, VR: vr, Value: b}
}
