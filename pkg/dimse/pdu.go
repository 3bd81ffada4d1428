package dimse

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/nicolasvandooren/dicom-forwarder/pkg/dcm"
)

// PDU types from PS3.8 9.3.
const (
	pduAssociateRQ = 0x01
	pduAssociateAC = 0x02
	pduAssociateRJ = 0x03
	pduPDataTF     = 0x04
	pduReleaseRQ   = 0x05
	pduReleaseRP   = 0x06
	pduAbort       = 0x07
)

// Item types used inside associate PDUs.
const (
	itemApplicationContext    = 0x10
	itemPresentationContextRQ = 0x20
	itemPresentationContextAC = 0x21
	itemAbstractSyntax        = 0x30
	itemTransferSyntax        = 0x40
	itemUserInformation       = 0x50
	itemMaxLength             = 0x51
	itemImplementationClass   = 0x52
	itemImplementationVersion = 0x55
)

// Presentation context negotiation results.
const (
	ResultAcceptance           = 0
	ResultUserRejection        = 1
	ResultNoReason             = 2
	ResultAbstractNotSupported = 3
	ResultTransferNotSupported = 4
)

const defaultMaxPDU = 16384

// ProposedContext is one presentation context offered in an A-ASSOCIATE-RQ.
type ProposedContext struct {
	ID               byte
	AbstractSyntax   string
	TransferSyntaxes []string
}

// AcceptedContext is the negotiation outcome for one presentation context.
type AcceptedContext struct {
	ID             byte
	Result         byte
	TransferSyntax string
}

// Accepted reports whether the context can carry messages.
func (c AcceptedContext) Accepted() bool { return c.Result == ResultAcceptance }

// associateInfo holds the fields shared by A-ASSOCIATE-RQ and -AC PDUs.
type associateInfo struct {
	calledAET  string
	callingAET string
	maxPDU     uint32
	proposed   []ProposedContext
	accepted   []AcceptedContext
}

// writePDU emits one PDU with its 6 byte header.
func writePDU(w io.Writer, pduType byte, body []byte) error {
	header := []byte{pduType, 0x00, 0x00, 0x00, 0x00, 0x00}
	binary.BigEndian.PutUint32(header[2:], uint32(len(body)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// readPDU reads one PDU, rejecting bodies above limit.
func readPDU(r io.Reader, limit uint32) (pduType byte, body []byte, err error) {
	header := make([]byte, 6)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	length := binary.BigEndian.Uint32(header[2:])
	if length > limit {
		return 0, nil, fmt.Errorf("PDU length %d exceeds limit %d", length, limit)
	}
	body = make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	return header[0], body, nil
}

// padAET pads an AE title to 16 bytes with spaces.
func padAET(aet string) []byte {
	result := make([]byte, 16)
	copy(result, aet)
	for i := len(aet); i < 16; i++ {
		result[i] = ' '
	}
	return result
}

func appendItem(dst []byte, itemType byte, body []byte) []byte {
	dst = append(dst, itemType, 0x00)
	dst = append(dst, byte(len(body)>>8), byte(len(body)))
	return append(dst, body...)
}

func appendUIDItem(dst []byte, itemType byte, uid string) []byte {
	return appendItem(dst, itemType, []byte(uid))
}

// buildAssociateRQ encodes an A-ASSOCIATE-RQ body.
func buildAssociateRQ(info associateInfo) []byte {
	body := []byte{0x00, 0x01, 0x00, 0x00} // Protocol version 1, reserved
	body = append(body, padAET(info.calledAET)...)
	body = append(body, padAET(info.callingAET)...)
	body = append(body, make([]byte, 32)...)

	body = appendUIDItem(body, itemApplicationContext, dcm.DICOMApplicationContext)

	for _, pc := range info.proposed {
		item := []byte{pc.ID, 0x00, 0x00, 0x00}
		item = appendUIDItem(item, itemAbstractSyntax, pc.AbstractSyntax)
		for _, ts := range pc.TransferSyntaxes {
			item = appendUIDItem(item, itemTransferSyntax, ts)
		}
		body = appendItem(body, itemPresentationContextRQ, item)
	}

	body = appendItem(body, itemUserInformation, buildUserInformation(info.maxPDU))
	return body
}

// buildAssociateAC encodes an A-ASSOCIATE-AC body answering the given RQ.
func buildAssociateAC(info associateInfo) []byte {
	body := []byte{0x00, 0x01, 0x00, 0x00}
	body = append(body, padAET(info.calledAET)...)
	body = append(body, padAET(info.callingAET)...)
	body = append(body, make([]byte, 32)...)

	body = appendUIDItem(body, itemApplicationContext, dcm.DICOMApplicationContext)

	for _, pc := range info.accepted {
		item := []byte{pc.ID, 0x00, pc.Result, 0x00}
		item = appendUIDItem(item, itemTransferSyntax, pc.TransferSyntax)
		body = appendItem(body, itemPresentationContextAC, item)
	}

	body = appendItem(body, itemUserInformation, buildUserInformation(info.maxPDU))
	return body
}

func buildUserInformation(maxPDU uint32) []byte {
	if maxPDU == 0 {
		maxPDU = defaultMaxPDU
	}
	var info []byte
	maxLen := make([]byte, 4)
	binary.BigEndian.PutUint32(maxLen, maxPDU)
	info = appendItem(info, itemMaxLength, maxLen)
	info = appendUIDItem(info, itemImplementationClass, dcm.ImplementationClassUID)
	info = appendItem(info, itemImplementationVersion, []byte(dcm.ImplementationVersionName))
	return info
}

// parseAssociate decodes an A-ASSOCIATE-RQ or -AC body.
func parseAssociate(body []byte) (associateInfo, error) {
	var info associateInfo
	if len(body) < 68 {
		return info, fmt.Errorf("associate PDU too short: %d bytes", len(body))
	}
	info.calledAET = strings.TrimRight(string(body[4:20]), " ")
	info.callingAET = strings.TrimRight(string(body[20:36]), " ")
	info.maxPDU = defaultMaxPDU

	rest := body[68:]
	for len(rest) > 0 {
		if len(rest) < 4 {
			return info, fmt.Errorf("truncated item header")
		}
		itemType := rest[0]
		length := int(binary.BigEndian.Uint16(rest[2:4]))
		if len(rest) < 4+length {
			return info, fmt.Errorf("truncated item body for type 0x%02x", itemType)
		}
		item := rest[4 : 4+length]
		rest = rest[4+length:]

		switch itemType {
		case itemApplicationContext:
			// The UID is fixed; nothing to record.
		case itemPresentationContextRQ:
			pc, err := parsePresentationContextRQ(item)
			if err != nil {
				return info, err
			}
			info.proposed = append(info.proposed, pc)
		case itemPresentationContextAC:
			pc, err := parsePresentationContextAC(item)
			if err != nil {
				return info, err
			}
			info.accepted = append(info.accepted, pc)
		case itemUserInformation:
			if max, ok := parseMaxLength(item); ok {
				info.maxPDU = max
			}
		}
	}
	return info, nil
}

func parsePresentationContextRQ(item []byte) (ProposedContext, error) {
	var pc ProposedContext
	if len(item) < 4 {
		return pc, fmt.Errorf("presentation context item too short")
	}
	pc.ID = item[0]
	rest := item[4:]
	for len(rest) >= 4 {
		subType := rest[0]
		length := int(binary.BigEndian.Uint16(rest[2:4]))
		if len(rest) < 4+length {
			return pc, fmt.Errorf("truncated presentation context sub-item")
		}
		// Some peers pad UIDs to even length with a trailing NUL.
		uid := strings.TrimRight(string(rest[4:4+length]), "\x00 ")
		switch subType {
		case itemAbstractSyntax:
			pc.AbstractSyntax = uid
		case itemTransferSyntax:
			pc.TransferSyntaxes = append(pc.TransferSyntaxes, uid)
		}
		rest = rest[4+length:]
	}
	return pc, nil
}

func parsePresentationContextAC(item []byte) (AcceptedContext, error) {
	var pc AcceptedContext
	if len(item) < 4 {
		return pc, fmt.Errorf("presentation context item too short")
	}
	pc.ID = item[0]
	pc.Result = item[2]
	rest := item[4:]
	if len(rest) >= 4 && rest[0] == itemTransferSyntax {
		length := int(binary.BigEndian.Uint16(rest[2:4]))
		if len(rest) < 4+length {
			return pc, fmt.Errorf("truncated transfer syntax sub-item")
		}
		pc.TransferSyntax = strings.TrimRight(string(rest[4:4+length]), "\x00 ")
	}
	return pc, nil
}

func parseMaxLength(item []byte) (uint32, bool) {
	for len(item) >= 4 {
		subType := item[0]
		length := int(binary.BigEndian.Uint16(item[2:4]))
		if len(item) < 4+length {
			return 0, false
		}
		if subType == itemMaxLength && length == 4 {
			return binary.BigEndian.Uint32(item[4:8]), true
		}
		item = item[4+length:]
	}
	return 0, false
}

// buildAbort encodes an A-ABORT body.
func buildAbort(source, reason byte) []byte {
	return []byte{0x00, 0x00, source, reason}
}
