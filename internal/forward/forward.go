package forward

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/nicolasvandooren/dicom-forwarder/internal/metrics"
	"github.com/nicolasvandooren/dicom-forwarder/pkg/dcm"
	"github.com/nicolasvandooren/dicom-forwarder/pkg/stow"
)

// ErrNoDestination reports a forwarding rule without a usable destination.
var ErrNoDestination = errors.New("no destination configured")

// StoreOneDestination forwards one instance to a single destination,
// negotiating the outbound association first when the peer speaks DIMSE.
func StoreOneDestination(ctx context.Context, source SourceNode, dest Destination, p *Params) error {
	if d, ok := dest.(*DicomDestination); ok {
		if err := PrepareTransfer(ctx, d, p.SOPClassUID, p.TransferSyntax); err != nil {
			return fmt.Errorf("failed to connect to %s: %w", describeDestination(dest), err)
		}
	}
	return transferFirst(ctx, source, dest, nil, p)
}

// StoreMultipleDestination fans one instance out to every destination of a
// forwarding rule. The inbound stream is consumed at most once: the first
// destination keeps a pristine copy of the parsed dataset and the remaining
// ones re-encode from that copy. Destinations that cannot be reached are
// dropped up front; only a connection-level abort interrupts the fan-out.
func StoreMultipleDestination(ctx context.Context, source SourceNode, dests []Destination, p *Params) error {
	if len(dests) == 0 {
		return fmt.Errorf("%w for %s", ErrNoDestination, source.AETitle)
	}
	// DICOMDIR is never forwarded.
	if p.SOPClassUID == dcm.MediaStorageDirectoryStorage {
		log.Warn().Str("iuid", p.SOPInstanceUID).Msg("Cannot send DICOMDIR")
		return nil
	}
	if len(dests) == 1 {
		return StoreOneDestination(ctx, source, dests[0], p)
	}

	connected := make([]Destination, 0, len(dests))
	for _, dest := range dests {
		if d, ok := dest.(*DicomDestination); ok {
			if err := PrepareTransfer(ctx, d, p.SOPClassUID, p.TransferSyntax); err != nil {
				log.Error().Err(err).
					Str("destination", describeDestination(dest)).
					Msg("Cannot connect to the final destination")
				continue
			}
		}
		connected = append(connected, dest)
	}
	switch len(connected) {
	case 0:
		return nil
	case 1:
		return StoreOneDestination(ctx, source, connected[0], p)
	}

	shared := dcm.NewDataset()
	if err := transferFirst(ctx, source, connected[0], shared, p); err != nil {
		return err
	}
	if shared.Empty() {
		// The first transfer never reached a parsed dataset, nothing
		// left to replicate.
		return nil
	}
	for _, dest := range connected[1:] {
		var err error
		switch d := dest.(type) {
		case *DicomDestination:
			err = transferOther(ctx, source, d, shared, p)
		case *WebDestination:
			err = transferWebOther(ctx, source, d, shared, p)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func transferFirst(ctx context.Context, source SourceNode, dest Destination, copyOut *dcm.Dataset, p *Params) error {
	switch d := dest.(type) {
	case *DicomDestination:
		return transfer(ctx, source, d, copyOut, p)
	case *WebDestination:
		return transferWeb(ctx, source, d, copyOut, p)
	default:
		return fmt.Errorf("unsupported destination type %T", dest)
	}
}

// transfer sends the inbound instance to a DICOM peer. When copyOut is
// non-nil the parsed dataset is copied into it before any editor runs, so
// further destinations start from the untouched instance.
func transfer(ctx context.Context, source SourceNode, dest *DicomDestination, copyOut *dcm.Dataset, p *Params) error {
	scu := dest.SCU()
	defer scu.TriggerCloseExecutor()

	cuid, iuid := p.SOPClassUID, p.SOPInstanceUID
	err := func() error {
		assoc := scu.Association()
		if assoc == nil {
			return fmt.Errorf("association not ready for transfer")
		}
		_, supported, ok := SelectTransferSyntax(assoc, p)
		if !ok {
			return fmt.Errorf("no matching presentation context on %s", dest.Target())
		}

		if copyOut == nil && len(dest.Editors()) == 0 && supported == p.TransferSyntax && dest.Mask().Empty() {
			return scu.Store(ctx, cuid, iuid, supported, passthroughWriter(p))
		}
		data, err := dcm.ReadDataset(p.Data, p.TransferSyntax)
		if err != nil {
			return fmt.Errorf("failed to parse inbound dataset: %w", err)
		}
		if copyOut != nil {
			data.CopyInto(copyOut)
		}
		return sendEdited(ctx, source, dest, data, p, supported, &cuid, &iuid)
	}()
	return finishTransfer(ctx, dest, iuid, cuid, err)
}

// transferOther replays the shared dataset copy to one more DICOM peer. The
// copy itself stays pristine, each destination edits its own duplicate.
func transferOther(ctx context.Context, source SourceNode, dest *DicomDestination, shared *dcm.Dataset, p *Params) error {
	scu := dest.SCU()
	defer scu.TriggerCloseExecutor()

	cuid, iuid := p.SOPClassUID, p.SOPInstanceUID
	err := func() error {
		assoc := scu.Association()
		if assoc == nil {
			return fmt.Errorf("association not ready for transfer")
		}
		_, supported, ok := SelectTransferSyntax(assoc, p)
		if !ok {
			return fmt.Errorf("no matching presentation context on %s", dest.Target())
		}
		return sendEdited(ctx, source, dest, shared.Copy(), p, supported, &cuid, &iuid)
	}()
	return finishTransfer(ctx, dest, iuid, cuid, err)
}

// sendEdited runs the destination's editor chain over data and writes it to
// the peer, transcoding the pixel data when the mask or the negotiated
// syntax requires it.
func sendEdited(ctx context.Context, source SourceNode, dest *DicomDestination, data *dcm.Dataset, p *Params, supported string, cuid, iuid *string) error {
	ectx := &EditorContext{SourceAET: source.AETitle, TargetAET: dest.Target(), Mask: dest.Mask()}
	applyEditors(dest.Editors(), data, ectx, cuid, iuid)
	if err := checkAbort(ectx, p); err != nil {
		return err
	}
	src, err := NewFrameSource(data, p.TransferSyntax, supported, ectx.Mask)
	if err != nil {
		return err
	}
	writer, err := BuildDataWriter(data, supported, ectx.Mask, src)
	if err != nil {
		return err
	}
	return dest.SCU().Store(ctx, *cuid, *iuid, supported, writer)
}

// transferWeb uploads the inbound instance over STOW-RS, mirroring transfer
// for web destinations.
func transferWeb(ctx context.Context, source SourceNode, dest *WebDestination, copyOut *dcm.Dataset, p *Params) error {
	cuid, iuid := p.SOPClassUID, p.SOPInstanceUID
	err := func() error {
		outTsuid := WebOutputTransferSyntax(p.TransferSyntax, dest.transferSyntax)
		if copyOut == nil && len(dest.Editors()) == 0 && outTsuid == p.TransferSyntax && dest.Mask().Empty() {
			meta := dcm.NewFileMeta(cuid, iuid, outTsuid)
			return uploadPayload(ctx, dest, stow.StreamPayload(meta, p.Data))
		}
		data, err := dcm.ReadDataset(p.Data, p.TransferSyntax)
		if err != nil {
			return fmt.Errorf("failed to parse inbound dataset: %w", err)
		}
		if copyOut != nil {
			data.CopyInto(copyOut)
		}
		return uploadEdited(ctx, source, dest, data, p, outTsuid, &cuid, &iuid)
	}()
	return finishTransfer(ctx, dest, iuid, cuid, err)
}

func transferWebOther(ctx context.Context, source SourceNode, dest *WebDestination, shared *dcm.Dataset, p *Params) error {
	cuid, iuid := p.SOPClassUID, p.SOPInstanceUID
	outTsuid := WebOutputTransferSyntax(p.TransferSyntax, dest.transferSyntax)
	err := uploadEdited(ctx, source, dest, shared.Copy(), p, outTsuid, &cuid, &iuid)
	return finishTransfer(ctx, dest, iuid, cuid, err)
}

func uploadEdited(ctx context.Context, source SourceNode, dest *WebDestination, data *dcm.Dataset, p *Params, outTsuid string, cuid, iuid *string) error {
	ectx := &EditorContext{SourceAET: source.AETitle, TargetAET: dest.Target(), Mask: dest.Mask()}
	applyEditors(dest.Editors(), data, ectx, cuid, iuid)
	if err := checkAbort(ectx, p); err != nil {
		return err
	}
	src, err := NewFrameSource(data, p.TransferSyntax, outTsuid, ectx.Mask)
	if err != nil {
		return err
	}
	if src == nil {
		meta := dcm.NewFileMeta(*cuid, *iuid, outTsuid)
		return uploadPayload(ctx, dest, stow.DatasetPayload(meta, data, outTsuid))
	}
	payload, err := PreparePayload(data, outTsuid, ectx.Mask, src)
	if err != nil {
		return err
	}
	return uploadPayload(ctx, dest, payload)
}

func uploadPayload(ctx context.Context, dest *WebDestination, parts ...stow.Payload) error {
	err := dest.Client().Upload(ctx, parts...)
	status := "success"
	if err != nil {
		status = "failure"
	}
	metrics.StowUploads.WithLabelValues(status).Inc()
	return err
}

// checkAbort maps an editor-requested abort onto the transfer outcome. A
// connection abort releases the inbound association before surfacing.
func checkAbort(ectx *EditorContext, p *Params) error {
	switch ectx.Abort {
	case AbortFile:
		return &AbortError{Level: AbortFile, Message: ectx.AbortMessage}
	case AbortConnection:
		if p.Inbound != nil {
			p.Inbound.Release()
		}
		return &AbortError{Level: AbortConnection, Message: ectx.AbortMessage}
	}
	return nil
}

// finishTransfer reports the outcome exactly once per destination and
// contains the failure: only connection-level aborts surface to the caller
// and halt the fan-out.
func finishTransfer(ctx context.Context, dest Destination, iuid, cuid string, err error) error {
	if err == nil {
		progressNotify(ctx, dest, iuid, cuid, nil, 0)
		return nil
	}
	progressNotify(ctx, dest, iuid, cuid, err, 0)
	var abort *AbortError
	if errors.As(err, &abort) {
		if abort.Level == AbortConnection {
			return err
		}
		return nil
	}
	log.Error().Err(err).
		Str("destination", describeDestination(dest)).
		Str("iuid", iuid).
		Msg("Error when forwarding to the final destination")
	return nil
}
