package dimse

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// StoreSCU is a long-lived C-STORE client for one destination. Presentation
// contexts accumulate across the life of the SCU; reopening the association
// renegotiates the whole set. An idle timer releases the association when no
// store has run for the configured idle timeout.
type StoreSCU struct {
	config      AssociationConfig
	idleTimeout time.Duration

	mu         sync.Mutex
	contexts   []ProposedContext
	nextID     byte
	assoc      *Association
	inflight   int
	closeTimer *time.Timer
}

// NewStoreSCU creates a store SCU for a destination.
func NewStoreSCU(config AssociationConfig, idleTimeout time.Duration) *StoreSCU {
	if idleTimeout == 0 {
		idleTimeout = 15 * time.Second
	}
	return &StoreSCU{
		config:      config,
		idleTimeout: idleTimeout,
		nextID:      1,
	}
}

// CalledAET returns the destination AE title.
func (s *StoreSCU) CalledAET() string { return s.config.CalledAET }

// AddPresentationContext registers a presentation context for the SOP class
// with the given transfer syntaxes. Registering an identical context again
// is a no-op; a new transfer syntax set gets a fresh context ID.
func (s *StoreSCU) AddPresentationContext(cuid string, tsuids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pc := range s.contexts {
		if pc.AbstractSyntax == cuid && sameSyntaxes(pc.TransferSyntaxes, tsuids) {
			return
		}
	}
	if s.nextID > 253 {
		log.Warn().Str("called_aet", s.config.CalledAET).Msg("Presentation context IDs exhausted")
		return
	}
	s.contexts = append(s.contexts, ProposedContext{
		ID:               s.nextID,
		AbstractSyntax:   cuid,
		TransferSyntaxes: append([]string(nil), tsuids...),
	})
	s.nextID += 2
}

func sameSyntaxes(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Open negotiates an association covering every registered context. Opening
// an already open SCU is a no-op.
func (s *StoreSCU) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.assoc != nil && !s.assoc.Closed() {
		return nil
	}
	if len(s.contexts) == 0 {
		return fmt.Errorf("no presentation contexts registered")
	}
	proposed := make([]ProposedContext, len(s.contexts))
	copy(proposed, s.contexts)
	assoc, err := Connect(ctx, s.config, proposed)
	if err != nil {
		return err
	}
	s.assoc = assoc
	log.Debug().
		Str("called_aet", s.config.CalledAET).
		Int("contexts", len(proposed)).
		Msg("Association opened")
	return nil
}

// IsOpen reports whether the association is currently negotiated and alive.
func (s *StoreSCU) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assoc != nil && !s.assoc.Closed()
}

// Association returns the open association, or nil.
func (s *StoreSCU) Association() *Association {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assoc
}

// HasProposedContext reports whether the registered contexts already carry
// the SOP class with the given transfer syntax.
func (s *StoreSCU) HasProposedContext(cuid, tsuid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pc := range s.contexts {
		if pc.AbstractSyntax != cuid {
			continue
		}
		for _, ts := range pc.TransferSyntaxes {
			if ts == tsuid {
				return true
			}
		}
	}
	return false
}

// HasAcceptedContext reports whether the open association accepted the SOP
// class with the given transfer syntax.
func (s *StoreSCU) HasAcceptedContext(cuid, tsuid string) bool {
	s.mu.Lock()
	assoc := s.assoc
	s.mu.Unlock()
	if assoc == nil {
		return false
	}
	_, ok := assoc.ContextFor(cuid, tsuid)
	return ok
}

// Store sends one instance, opening the association first when needed. A
// pending idle close is cancelled for the duration of the transfer. When the
// transfer kills the association the SCU forgets it, so the next store
// reconnects instead of reusing a dead socket.
func (s *StoreSCU) Store(ctx context.Context, cuid, iuid, tsuid string, writer DataWriter) error {
	if err := s.Open(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closeTimer != nil {
		s.closeTimer.Stop()
	}
	s.inflight++
	assoc := s.assoc
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inflight--
		s.mu.Unlock()
	}()

	err := assoc.CStore(cuid, iuid, tsuid, writer)
	if err != nil && assoc.Closed() {
		s.mu.Lock()
		if s.assoc == assoc {
			s.assoc = nil
		}
		s.mu.Unlock()
	}
	return err
}

// Close releases the association. The registered presentation contexts are
// kept, so a later Open renegotiates them; reopen marks an immediate reopen
// and leaves the idle timer untouched.
func (s *StoreSCU) Close(reopen bool) {
	s.mu.Lock()
	assoc := s.assoc
	s.assoc = nil
	if !reopen && s.closeTimer != nil {
		s.closeTimer.Stop()
		s.closeTimer = nil
	}
	s.mu.Unlock()

	if assoc != nil {
		if err := assoc.Release(); err != nil {
			log.Warn().Err(err).Str("called_aet", s.config.CalledAET).Msg("Failed to release association")
		}
	}
}

// TriggerCloseExecutor arms the idle timer. When it fires with no store in
// flight the association is released; the next store cancels a pending close
// and reuses or reopens the association.
func (s *StoreSCU) TriggerCloseExecutor() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeTimer != nil {
		s.closeTimer.Stop()
	}
	s.closeTimer = time.AfterFunc(s.idleTimeout, s.idleClose)
}

func (s *StoreSCU) idleClose() {
	s.mu.Lock()
	if s.inflight > 0 || s.assoc == nil {
		s.mu.Unlock()
		return
	}
	if time.Since(s.assoc.LastUsed()) < s.idleTimeout {
		// A store slipped in before we took the lock; the rearmed timer
		// owns the close.
		s.mu.Unlock()
		return
	}
	assoc := s.assoc
	s.assoc = nil
	s.mu.Unlock()

	log.Debug().Str("called_aet", s.config.CalledAET).Msg("Closing idle association")
	if err := assoc.Release(); err != nil {
		log.Warn().Err(err).Str("called_aet", s.config.CalledAET).Msg("Failed to release idle association")
	}
}
