package forward

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/nicolasvandooren/dicom-forwarder/pkg/dimse"
)

// ProgressState mirrors the two terminal states a transfer reports.
type ProgressState string

const (
	ProgressCompleted ProgressState = "COMPLETED"
	ProgressFailed    ProgressState = "FAILED"
)

// ProgressEvent is emitted exactly once per destination and instance.
type ProgressEvent struct {
	DestinationID  string
	SOPInstanceUID string
	SOPClassUID    string
	Status         uint16
	State          ProgressState
	Remaining      int
	// Err is the transfer failure, nil on success.
	Err error
}

// ProgressHandler receives transfer outcomes, for audit trails and metrics.
// The context is the one the transfer ran under, so handlers can reach
// request-scoped values set by the caller.
type ProgressHandler func(ctx context.Context, event ProgressEvent)

func progressNotify(ctx context.Context, dest Destination, iuid, cuid string, err error, remaining int) {
	event := ProgressEvent{
		DestinationID:  dest.ID(),
		SOPInstanceUID: iuid,
		SOPClassUID:    cuid,
		Status:         dimse.StatusSuccess,
		State:          ProgressCompleted,
		Remaining:      remaining,
	}
	if err != nil {
		event.Status = dimse.StatusProcessingFailure
		event.State = ProgressFailed
		event.Err = err
	}
	log.Debug().
		Str("destination", dest.ID()).
		Str("iuid", iuid).
		Str("state", string(event.State)).
		Msg("Transfer finished")
	if handler := dest.Progress(); handler != nil {
		handler(ctx, event)
	}
}
