package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nicolasvandooren/dicom-forwarder/internal/cache"
	"github.com/nicolasvandooren/dicom-forwarder/internal/config"
	"github.com/nicolasvandooren/dicom-forwarder/internal/forward"
	"github.com/nicolasvandooren/dicom-forwarder/internal/metrics"
	"github.com/nicolasvandooren/dicom-forwarder/internal/models"
	"github.com/nicolasvandooren/dicom-forwarder/internal/repository"
	"github.com/nicolasvandooren/dicom-forwarder/pkg/dimse"
)

// Gateway is the store SCP. It receives instances from modalities, resolves
// the destinations routed from the called AE title and hands each instance
// to the forwarding engine. Every transfer outcome is written to the audit
// trail.
type Gateway struct {
	dicom        config.DICOMConfig
	destinations *DestinationService
	auditRepo    *repository.AuditRepository
	cache        cache.Cache
	server       *dimse.Server

	mu   sync.Mutex
	live map[uuid.UUID]*liveDestination
}

// liveDestination keeps the runtime destination across instances so the
// outbound association stays open until the idle timeout. It is rebuilt when
// the configuration row changes.
type liveDestination struct {
	dest      forward.Destination
	updatedAt time.Time
}

// forwardState carries the request-scoped fields the progress handler needs
// for the audit record.
type forwardState struct {
	start          time.Time
	duplicate      bool
	callingAET     string
	calledAET      string
	transferSyntax string
}

type forwardStateKey struct{}

// NewGateway creates the store SCP around the destination service.
func NewGateway(dicom config.DICOMConfig, destinations *DestinationService, auditRepo *repository.AuditRepository, cacheImpl cache.Cache) *Gateway {
	g := &Gateway{
		dicom:        dicom,
		destinations: destinations,
		auditRepo:    auditRepo,
		cache:        cacheImpl,
		live:         make(map[uuid.UUID]*liveDestination),
	}
	g.server = dimse.NewServer(dimse.ServerConfig{
		AETitle:     dicom.AETitle,
		IdleTimeout: dicom.IdleTimeout,
	}, g.handleStore)
	return g
}

// Run accepts inbound associations until the context is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", g.dicom.Host, g.dicom.Port)
	return g.server.ListenAndServe(ctx, addr)
}

// Close releases every live outbound destination.
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, live := range g.live {
		closeDestination(live.dest)
		delete(g.live, id)
	}
}

// handleStore forwards one received instance to the destinations routed from
// the called AE title.
func (g *Gateway) handleStore(ctx context.Context, req *dimse.StoreRequest) error {
	state := &forwardState{
		start:          time.Now(),
		duplicate:      g.markSeen(ctx, req.SOPInstanceUID),
		callingAET:     req.CallingAET,
		calledAET:      req.CalledAET,
		transferSyntax: req.TransferSyntax,
	}
	ctx = context.WithValue(ctx, forwardStateKey{}, state)

	configs, err := g.destinations.ForwardAET(ctx, req.CalledAET)
	if err != nil {
		return fmt.Errorf("failed to resolve destinations for %s: %w", req.CalledAET, err)
	}

	dests := make([]forward.Destination, 0, len(configs))
	for i := range configs {
		dest, err := g.runtime(&configs[i])
		if err != nil {
			log.Error().Err(err).Str("destination", configs[i].Name).Msg("Skipping misconfigured destination")
			continue
		}
		dests = append(dests, dest)
	}

	source := forward.SourceNode{AETitle: req.CallingAET}
	p := &forward.Params{
		SOPInstanceUID: req.SOPInstanceUID,
		SOPClassUID:    req.SOPClassUID,
		TransferSyntax: req.TransferSyntax,
		ContextID:      req.ContextID,
		Data:           req.Data,
		Inbound:        req.Assoc,
	}
	return forward.StoreMultipleDestination(ctx, source, dests, p)
}

// markSeen remembers the instance UID for the duplicate window and reports
// whether it was already there. Duplicates are forwarded anyway, only the
// audit record flags them.
func (g *Gateway) markSeen(ctx context.Context, sopInstanceUID string) bool {
	key := cache.SeenInstanceKey(sopInstanceUID)
	seen, err := g.cache.Exists(ctx, key)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to check duplicate window")
		return false
	}
	if !seen {
		if err := g.cache.Set(ctx, key, []byte("1"), g.dicom.DuplicateTTL); err != nil {
			log.Warn().Err(err).Msg("Failed to record duplicate window")
		}
	}
	return seen
}

// runtime returns the live destination for a configuration, rebuilding it
// when the row changed since it was assembled.
func (g *Gateway) runtime(config *models.DestinationConfig) (forward.Destination, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if live, ok := g.live[config.ID]; ok && live.updatedAt.Equal(config.UpdatedAt) {
		return live.dest, nil
	}

	dest, err := g.destinations.Runtime(config, g.progressFor(*config))
	if err != nil {
		return nil, err
	}
	if live, ok := g.live[config.ID]; ok {
		closeDestination(live.dest)
	}
	g.live[config.ID] = &liveDestination{dest: dest, updatedAt: config.UpdatedAt}
	return dest, nil
}

// progressFor builds the transfer outcome handler for one destination. It
// writes the audit row and counts the transfer in the metrics.
func (g *Gateway) progressFor(config models.DestinationConfig) forward.ProgressHandler {
	return func(ctx context.Context, event forward.ProgressEvent) {
		status := "success"
		if event.Err != nil {
			status = "failure"
		}
		metrics.ForwardedObjects.WithLabelValues(config.Name, status).Inc()

		state, ok := ctx.Value(forwardStateKey{}).(*forwardState)
		if !ok {
			return
		}
		metrics.ForwardDuration.WithLabelValues(config.Name).Observe(time.Since(state.start).Seconds())

		audit := &models.ForwardAudit{
			SourceAET:            state.callingAET,
			ForwardAET:           state.calledAET,
			DestinationID:        config.ID,
			DestinationName:      config.Name,
			SOPInstanceUID:       event.SOPInstanceUID,
			SOPClassUID:          event.SOPClassUID,
			TransferSyntax:       state.transferSyntax,
			OutputTransferSyntax: outputSyntaxFor(&config, state.transferSyntax),
			Status:               status,
			Duplicate:            state.duplicate,
			Duration:             time.Since(state.start).Milliseconds(),
		}
		if event.Err != nil {
			audit.ErrorMessage = event.Err.Error()
		}
		if err := g.auditRepo.Create(ctx, audit); err != nil {
			log.Warn().Err(err).Str("destination", config.Name).Msg("Failed to record forward audit")
		}
	}
}

// outputSyntaxFor reports the transfer syntax the instance leaves with, after
// the substitution rules.
func outputSyntaxFor(config *models.DestinationConfig, transferSyntax string) string {
	if config.Type == models.DestinationTypeStow {
		return forward.WebOutputTransferSyntax(transferSyntax, config.TransferSyntax)
	}
	return forward.OutputTransferSyntax(transferSyntax)
}

func closeDestination(dest forward.Destination) {
	if closer, ok := dest.(interface{ Close() }); ok {
		closer.Close()
	}
}
