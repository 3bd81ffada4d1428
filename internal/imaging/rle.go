package imaging

import (
	"encoding/binary"
	"fmt"

	"github.com/nicolasvandooren/dicom-forwarder/pkg/dcm"
)

// DICOM RLE (PS3.5 annex G): a 64 byte header of segment offsets followed by
// PackBits-compressed byte segments, one per byte plane of the composite
// pixel code, most significant byte first.

const rleHeaderSize = 64

// DecodeRLEFrame expands one RLE frame into uncompressed little endian
// interleaved bytes.
func DecodeRLEFrame(data []byte, desc *dcm.ImageDescriptor) ([]byte, error) {
	if len(data) < rleHeaderSize {
		return nil, fmt.Errorf("rle frame shorter than header: %d bytes", len(data))
	}
	numSegments := int(binary.LittleEndian.Uint32(data))
	if numSegments < 1 || numSegments > 15 {
		return nil, fmt.Errorf("rle frame has invalid segment count %d", numSegments)
	}
	bytesPerSample := desc.BitsAllocated / 8
	if bytesPerSample == 0 {
		bytesPerSample = 1
	}
	if numSegments != desc.Samples*bytesPerSample {
		return nil, fmt.Errorf("rle frame has %d segments, expected %d", numSegments, desc.Samples*bytesPerSample)
	}

	plane := desc.Rows * desc.Columns
	offsets := make([]int, numSegments+1)
	for i := 0; i < numSegments; i++ {
		offsets[i] = int(binary.LittleEndian.Uint32(data[4*(i+1):]))
		if offsets[i] < rleHeaderSize || offsets[i] > len(data) {
			return nil, fmt.Errorf("rle segment %d offset %d out of range", i, offsets[i])
		}
		if i > 0 && offsets[i] < offsets[i-1] {
			return nil, fmt.Errorf("rle segment %d offset %d before previous segment", i, offsets[i])
		}
	}
	offsets[numSegments] = len(data)

	out := make([]byte, plane*numSegments)
	for s := 0; s < numSegments; s++ {
		segment, err := packBitsDecode(data[offsets[s]:offsets[s+1]], plane)
		if err != nil {
			return nil, fmt.Errorf("rle segment %d: %w", s, err)
		}
		// Segment s covers sample s/bytesPerSample, byte plane s%bytesPerSample
		// counted from the most significant byte.
		sample := s / bytesPerSample
		b := bytesPerSample - 1 - s%bytesPerSample
		for i := 0; i < plane; i++ {
			out[(i*desc.Samples+sample)*bytesPerSample+b] = segment[i]
		}
	}
	return out, nil
}

// EncodeRLEFrame compresses uncompressed little endian interleaved frame
// bytes into one RLE frame.
func EncodeRLEFrame(data []byte, desc *dcm.ImageDescriptor) ([]byte, error) {
	bytesPerSample := desc.BitsAllocated / 8
	if bytesPerSample == 0 {
		bytesPerSample = 1
	}
	numSegments := desc.Samples * bytesPerSample
	if numSegments > 15 {
		return nil, fmt.Errorf("cannot encode %d rle segments", numSegments)
	}
	plane := desc.Rows * desc.Columns
	if len(data) < plane*numSegments {
		return nil, fmt.Errorf("frame has %d bytes, need %d", len(data), plane*numSegments)
	}

	header := make([]byte, rleHeaderSize)
	binary.LittleEndian.PutUint32(header, uint32(numSegments))
	body := make([]byte, 0, len(data)/2)
	segment := make([]byte, plane)
	for s := 0; s < numSegments; s++ {
		sample := s / bytesPerSample
		b := bytesPerSample - 1 - s%bytesPerSample
		for i := 0; i < plane; i++ {
			segment[i] = data[(i*desc.Samples+sample)*bytesPerSample+b]
		}
		binary.LittleEndian.PutUint32(header[4*(s+1):], uint32(rleHeaderSize+len(body)))
		encoded := packBitsEncode(segment)
		if len(encoded)%2 == 1 {
			encoded = append(encoded, 0x00)
		}
		body = append(body, encoded...)
	}
	return append(header, body...), nil
}

// packBitsDecode expands a PackBits stream to exactly want bytes.
func packBitsDecode(data []byte, want int) ([]byte, error) {
	out := make([]byte, 0, want)
	i := 0
	for len(out) < want && i < len(data) {
		n := int8(data[i])
		i++
		switch {
		case n >= 0:
			count := int(n) + 1
			if i+count > len(data) {
				return nil, fmt.Errorf("truncated literal run")
			}
			out = append(out, data[i:i+count]...)
			i += count
		case n == -128:
			// Noop control byte.
		default:
			if i >= len(data) {
				return nil, fmt.Errorf("truncated replicate run")
			}
			count := 1 - int(n)
			for j := 0; j < count; j++ {
				out = append(out, data[i])
			}
			i++
		}
	}
	if len(out) < want {
		return nil, fmt.Errorf("decoded %d bytes, want %d", len(out), want)
	}
	return out[:want], nil
}

// packBitsEncode compresses a byte segment, emitting replicate runs for
// repeats of three or more.
func packBitsEncode(data []byte) []byte {
	var out []byte
	i := 0
	for i < len(data) {
		run := 1
		for i+run < len(data) && run < 128 && data[i+run] == data[i] {
			run++
		}
		if run >= 3 {
			out = append(out, byte(int8(1-run)), data[i])
			i += run
			continue
		}
		// Literal run up to the next repeat of three.
		start := i
		i += run
		for i < len(data) && i-start < 128 {
			run = 1
			for i+run < len(data) && run < 3 && data[i+run] == data[i] {
				run++
			}
			if run >= 3 {
				break
			}
			i++
		}
		if i-start > 128 {
			i = start + 128
		}
		out = append(out, byte(i-start-1))
		out = append(out, data[start:i]...)
	}
	return out
}
