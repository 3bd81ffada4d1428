package dimse

import (
	"context"
	"fmt"
	"time"

	"github.com/nicolasvandooren/dicom-forwarder/pkg/dcm"
)

// CEcho performs a C-ECHO on an open association.
func (a *Association) CEcho() error {
	pcid, ok := a.ContextFor(dcm.VerificationSOPClass, dcm.ImplicitVRLittleEndian)
	if !ok {
		if pcid, ok = a.ContextFor(dcm.VerificationSOPClass, dcm.ExplicitVRLittleEndian); !ok {
			return fmt.Errorf("no accepted presentation context for verification")
		}
	}

	a.sendMu.Lock()
	defer a.sendMu.Unlock()

	a.mu.Lock()
	msgID := a.nextMsgID
	a.nextMsgID++
	a.lastUsed = time.Now()
	a.mu.Unlock()

	cmd := encodeCommand(&Command{
		Field:       CEchoRQ,
		MessageID:   msgID,
		DataSetType: dataSetNull,
		SOPClassUID: dcm.VerificationSOPClass,
	})
	if err := a.sendPDV(pcid, cmd, true, true); err != nil {
		return fmt.Errorf("failed to send C-ECHO request: %w", err)
	}

	rsp, err := a.receiveCommand()
	if err != nil {
		return fmt.Errorf("failed to receive C-ECHO response: %w", err)
	}
	if rsp.Status != StatusSuccess {
		return fmt.Errorf("C-ECHO failed with status 0x%04X", rsp.Status)
	}
	return nil
}

// Echo opens a short-lived association, verifies the peer with C-ECHO and
// releases. It is the connection test used for DICOM destinations.
func Echo(ctx context.Context, config AssociationConfig) error {
	proposed := []ProposedContext{{
		ID:               1,
		AbstractSyntax:   dcm.VerificationSOPClass,
		TransferSyntaxes: []string{dcm.ImplicitVRLittleEndian, dcm.ExplicitVRLittleEndian},
	}}
	assoc, err := Connect(ctx, config, proposed)
	if err != nil {
		return err
	}
	defer assoc.Release()
	return assoc.CEcho()
}
