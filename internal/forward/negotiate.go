package forward

import (
	"context"
	"sync"

	"github.com/nicolasvandooren/dicom-forwarder/internal/metrics"
	"github.com/nicolasvandooren/dicom-forwarder/pkg/dcm"
	"github.com/nicolasvandooren/dicom-forwarder/pkg/dimse"
)

// prepareMu serializes association reconfiguration across every destination.
// A reopen renegotiates peer state, so preparation must never overlap, not
// even for distinct destinations.
var prepareMu sync.Mutex

// OutputTransferSyntax maps an inbound transfer syntax to the one proposed
// to a DICOM peer. Implicit VR, the retired big endian encoding and RLE are
// promoted to Explicit VR Little Endian.
func OutputTransferSyntax(tsuid string) string {
	switch tsuid {
	case dcm.ImplicitVRLittleEndian, dcm.ExplicitVRBigEndian, dcm.RLELossless:
		return dcm.ExplicitVRLittleEndian
	}
	return tsuid
}

// WebOutputTransferSyntax maps an inbound transfer syntax to the STOW-RS
// upload encoding. A non-empty requested syntax overrides the inbound one
// before the substitutions apply. RLE always falls back to Explicit VR
// Little Endian since there is no RLE writer.
func WebOutputTransferSyntax(tsuid, requested string) string {
	out := tsuid
	if requested != "" {
		out = requested
	}
	switch out {
	case dcm.ImplicitVRLittleEndian, dcm.ExplicitVRBigEndian, dcm.RLELossless:
		return dcm.ExplicitVRLittleEndian
	}
	return out
}

// PrepareTransfer makes sure the destination association can carry the SOP
// class. It registers the needed presentation contexts and reopens the
// association when the current negotiation does not cover them yet.
func PrepareTransfer(ctx context.Context, dest *DicomDestination, cuid, tsuid string) error {
	prepareMu.Lock()
	defer prepareMu.Unlock()

	scu := dest.SCU()
	out := OutputTransferSyntax(tsuid)
	syntaxes := []string{out}
	if out != dcm.ExplicitVRLittleEndian {
		syntaxes = append(syntaxes, dcm.ExplicitVRLittleEndian)
	}

	if !scu.IsOpen() {
		scu.AddPresentationContext(cuid, syntaxes...)
		return scu.Open(ctx)
	}

	// The association is open; a SOP class it has never negotiated needs a
	// fresh handshake carrying the extended context set.
	missing := !scu.HasProposedContext(cuid, out)
	scu.AddPresentationContext(cuid, syntaxes...)
	if missing {
		metrics.AssociationReopens.Inc()
		scu.Close(true)
		return scu.Open(ctx)
	}
	return nil
}

// SelectTransferSyntax picks the outbound presentation context for an
// instance. Preference order: the inbound context id when the peer accepted
// it with the inbound syntax, any context for the SOP class accepted with
// the inbound syntax, then any accepted as Explicit VR Little Endian. ok is
// false when nothing matches and the transfer must fail.
func SelectTransferSyntax(assoc *dimse.Association, p *Params) (pcid byte, tsuid string, ok bool) {
	if ts, accepted := assoc.TransferSyntax(p.ContextID); accepted && ts == p.TransferSyntax {
		return p.ContextID, ts, true
	}
	ids := assoc.ContextIDsFor(p.SOPClassUID)
	for _, id := range ids {
		if ts, accepted := assoc.TransferSyntax(id); accepted && ts == p.TransferSyntax {
			return id, ts, true
		}
	}
	for _, id := range ids {
		if ts, accepted := assoc.TransferSyntax(id); accepted && ts == dcm.ExplicitVRLittleEndian {
			return id, ts, true
		}
	}
	return 0, "", false
}
