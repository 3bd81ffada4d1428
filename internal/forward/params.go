// Package forward relays DICOM composite instances from an inbound
// association to one or more downstream destinations, editing attributes and
// transcoding pixel data on the way when a destination requires it.
package forward

import (
	"io"
)

// InboundAssociation is the handle the store SCP hands over with each
// instance. A connection-level abort releases it mid-association.
type InboundAssociation interface {
	CallingAET() string
	CalledAET() string
	Release() error
}

// SourceNode identifies the forwarding rule an instance matched on.
type SourceNode struct {
	AETitle string
}

// Params carries one inbound instance through a forwarding invocation.
// Data streams the bare dataset in TransferSyntax and may be consumed at
// most once; fan-out re-materializes from the parsed copy.
type Params struct {
	SOPInstanceUID string
	SOPClassUID    string
	TransferSyntax string
	ContextID      byte
	Data           io.Reader
	Inbound        InboundAssociation
}
