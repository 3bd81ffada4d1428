package dimse

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Command field values.
const (
	CStoreRQ  = 0x0001
	CStoreRSP = 0x8001
	CEchoRQ   = 0x0030
	CEchoRSP  = 0x8030
)

// DIMSE status codes.
const (
	StatusSuccess              = 0x0000
	StatusOutOfResources       = 0xA700
	StatusSOPClassNotSupported = 0x0122
	StatusProcessingFailure    = 0x0110
	StatusCancel               = 0xFE00
)

// Command data set type values for (0000,0800).
const (
	dataSetPresent = 0x0000
	dataSetNull    = 0x0101
)

// StatusError is a C-STORE response carrying a non-success status. The
// association itself stayed healthy and can carry further operations.
type StatusError struct {
	Status uint16
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("C-STORE failed with status 0x%04X", e.Status)
}

// Command element tags, group 0000.
const (
	tagCommandGroupLength      = 0x00000000
	tagAffectedSOPClassUID     = 0x00000002
	tagCommandField            = 0x00000100
	tagMessageID               = 0x00000110
	tagMessageIDBeingResponded = 0x00000120
	tagPriority                = 0x00000700
	tagCommandDataSetType      = 0x00000800
	tagStatus                  = 0x00000900
	tagAffectedSOPInstanceUID  = 0x00001000
)

// Command is a decoded DIMSE command set.
type Command struct {
	Field          uint16
	MessageID      uint16
	RespondedID    uint16
	Status         uint16
	DataSetType    uint16
	SOPClassUID    string
	SOPInstanceUID string
}

// HasDataSet reports whether a data set follows the command.
func (c *Command) HasDataSet() bool { return c.DataSetType != dataSetNull }

// encodeCommand serialises a command set in implicit VR little endian with
// the group length element first.
func encodeCommand(c *Command) []byte {
	var body bytes.Buffer
	appendUIElement(&body, tagAffectedSOPClassUID, c.SOPClassUID)
	appendUSElement(&body, tagCommandField, c.Field)
	if c.Field&0x8000 != 0 {
		appendUSElement(&body, tagMessageIDBeingResponded, c.RespondedID)
	} else {
		appendUSElement(&body, tagMessageID, c.MessageID)
		appendUSElement(&body, tagPriority, 0)
	}
	appendUSElement(&body, tagCommandDataSetType, c.DataSetType)
	if c.Field&0x8000 != 0 {
		appendUSElement(&body, tagStatus, c.Status)
	}
	appendUIElement(&body, tagAffectedSOPInstanceUID, c.SOPInstanceUID)

	var out bytes.Buffer
	appendULElement(&out, tagCommandGroupLength, uint32(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes()
}

// decodeCommand parses an implicit VR little endian command set.
func decodeCommand(data []byte) (*Command, error) {
	c := &Command{DataSetType: dataSetNull}
	for len(data) >= 8 {
		tag := binary.LittleEndian.Uint32(data)
		tag = tag<<16 | tag>>16 // group and element arrive as two 16 bit words
		length := int(binary.LittleEndian.Uint32(data[4:]))
		if len(data) < 8+length {
			return nil, fmt.Errorf("truncated command element %08X", tag)
		}
		value := data[8 : 8+length]
		switch tag {
		case tagCommandField:
			c.Field = binary.LittleEndian.Uint16(value)
		case tagMessageID:
			c.MessageID = binary.LittleEndian.Uint16(value)
		case tagMessageIDBeingResponded:
			c.RespondedID = binary.LittleEndian.Uint16(value)
		case tagStatus:
			c.Status = binary.LittleEndian.Uint16(value)
		case tagCommandDataSetType:
			c.DataSetType = binary.LittleEndian.Uint16(value)
		case tagAffectedSOPClassUID:
			c.SOPClassUID = trimUID(value)
		case tagAffectedSOPInstanceUID:
			c.SOPInstanceUID = trimUID(value)
		}
		data = data[8+length:]
	}
	if c.Field == 0 {
		return nil, fmt.Errorf("command set has no command field")
	}
	return c, nil
}

func trimUID(b []byte) string {
	return string(bytes.TrimRight(b, "\x00 "))
}

func appendElementHeader(buf *bytes.Buffer, tag uint32, length uint32) {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint16(b, uint16(tag>>16))
	binary.LittleEndian.PutUint16(b[2:], uint16(tag))
	binary.LittleEndian.PutUint32(b[4:], length)
	buf.Write(b)
}

func appendUSElement(buf *bytes.Buffer, tag uint32, v uint16) {
	appendElementHeader(buf, tag, 2)
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	buf.Write(b)
}

func appendULElement(buf *bytes.Buffer, tag uint32, v uint32) {
	appendElementHeader(buf, tag, 4)
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	buf.Write(b)
}

func appendUIElement(buf *bytes.Buffer, tag uint32, uid string) {
	if uid == "" {
		return
	}
	b := []byte(uid)
	if len(b)%2 == 1 {
		b = append(b, 0x00)
	}
	appendElementHeader(buf, tag, uint32(len(b)))
	buf.Write(b)
}
