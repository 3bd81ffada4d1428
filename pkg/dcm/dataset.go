package dcm

import "sort"

// Dataset is an ordered collection of data elements keyed by tag.
type Dataset struct {
	elements []*Element
	index    map[Tag]int
}

// NewDataset returns an empty dataset.
func NewDataset() *Dataset {
	return &Dataset{index: make(map[Tag]int)}
}

// Len returns the number of elements.
func (d *Dataset) Len() int { return len(d.elements) }

// Empty reports whether the dataset has no elements.
func (d *Dataset) Empty() bool { return len(d.elements) == 0 }

// Elements returns the elements in tag order. The slice is shared; callers
// must not modify it.
func (d *Dataset) Elements() []*Element { return d.elements }

// Get returns the element for a tag.
func (d *Dataset) Get(tag Tag) (*Element, bool) {
	i, ok := d.index[tag]
	if !ok {
		return nil, false
	}
	return d.elements[i], true
}

// Contains reports whether the dataset holds the tag.
func (d *Dataset) Contains(tag Tag) bool {
	_, ok := d.index[tag]
	return ok
}

// String returns the trimmed string value of a tag.
func (d *Dataset) String(tag Tag) (string, bool) {
	el, ok := d.Get(tag)
	if !ok {
		return "", false
	}
	return el.StringValue(), true
}

// StringDefault returns the trimmed string value of a tag, or def when the
// tag is absent or empty.
func (d *Dataset) StringDefault(tag Tag, def string) string {
	if s, ok := d.String(tag); ok && s != "" {
		return s
	}
	return def
}

// Int returns the integer value of a tag.
func (d *Dataset) Int(tag Tag) (int, bool) {
	el, ok := d.Get(tag)
	if !ok {
		return 0, false
	}
	return el.IntValue()
}

// IntDefault returns the integer value of a tag, or def when absent.
func (d *Dataset) IntDefault(tag Tag, def int) int {
	if v, ok := d.Int(tag); ok {
		return v
	}
	return def
}

// Add inserts or replaces an element, keeping tag order.
func (d *Dataset) Add(el *Element) {
	if i, ok := d.index[el.Tag]; ok {
		d.elements[i] = el
		return
	}
	pos := sort.Search(len(d.elements), func(i int) bool {
		return d.elements[i].Tag >= el.Tag
	})
	d.elements = append(d.elements, nil)
	copy(d.elements[pos+1:], d.elements[pos:])
	d.elements[pos] = el
	if d.index == nil {
		d.index = make(map[Tag]int)
	}
	for i := pos; i < len(d.elements); i++ {
		d.index[d.elements[i].Tag] = i
	}
}

// SetString sets a string-valued element, padding to even length.
func (d *Dataset) SetString(tag Tag, vr, value string) {
	d.Add(newStringElement(tag, vr, value))
}

// SetUint16 sets a binary 16-bit element.
func (d *Dataset) SetUint16(tag Tag, vr string, v uint16) {
	d.Add(newUint16Element(tag, vr, v))
}

// SetBytes sets a raw bulk element.
func (d *Dataset) SetBytes(tag Tag, vr string, value []byte) {
	d.Add(&Element{Tag: tag, VR: vr, Value: padded(vr, value)})
}

// SetFragments sets an encapsulated pixel data element. Fragments include
// the basic offset table at index zero.
func (d *Dataset) SetFragments(tag Tag, vr string, fragments [][]byte) {
	d.Add(&Element{Tag: tag, VR: vr, Fragments: fragments})
}

// Remove deletes a tag from the dataset.
func (d *Dataset) Remove(tag Tag) bool {
	i, ok := d.index[tag]
	if !ok {
		return false
	}
	d.elements = append(d.elements[:i], d.elements[i+1:]...)
	delete(d.index, tag)
	for j := i; j < len(d.elements); j++ {
		d.index[d.elements[j].Tag] = j
	}
	return true
}

// Copy returns a deep copy of the dataset.
func (d *Dataset) Copy() *Dataset {
	c := &Dataset{
		elements: make([]*Element, len(d.elements)),
		index:    make(map[Tag]int, len(d.index)),
	}
	for i, el := range d.elements {
		c.elements[i] = el.Copy()
		c.index[el.Tag] = i
	}
	return c
}

// CopyInto replaces the contents of dst with a deep copy of d.
func (d *Dataset) CopyInto(dst *Dataset) {
	c := d.Copy()
	dst.elements = c.elements
	dst.index = c.index
}
