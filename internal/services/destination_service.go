package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nicolasvandooren/dicom-forwarder/internal/cache"
	"github.com/nicolasvandooren/dicom-forwarder/internal/config"
	"github.com/nicolasvandooren/dicom-forwarder/internal/forward"
	"github.com/nicolasvandooren/dicom-forwarder/internal/imaging"
	"github.com/nicolasvandooren/dicom-forwarder/internal/models"
	"github.com/nicolasvandooren/dicom-forwarder/internal/repository"
	"github.com/nicolasvandooren/dicom-forwarder/pkg/dimse"
	"github.com/nicolasvandooren/dicom-forwarder/pkg/stow"
)

// statusTTL is how long a probe result is cached.
const statusTTL = time.Minute

// DestinationService handles destination configuration and probing
type DestinationService struct {
	repo  *repository.DestinationRepository
	cache cache.Cache
	dicom config.DICOMConfig
}

// NewDestinationService creates a new destination service
func NewDestinationService(repo *repository.DestinationRepository, cacheImpl cache.Cache, dicom config.DICOMConfig) *DestinationService {
	return &DestinationService{
		repo:  repo,
		cache: cacheImpl,
		dicom: dicom,
	}
}

// Create validates and stores a new destination configuration
func (s *DestinationService) Create(ctx context.Context, req *models.DestinationRequest) (*models.DestinationConfig, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	config := &models.DestinationConfig{
		Name:               req.Name,
		Type:               req.Type,
		ForwardAET:         req.ForwardAET,
		Host:               req.Host,
		Port:               req.Port,
		AETitle:            req.AETitle,
		URL:                req.URL,
		Username:           req.Username,
		Password:           req.Password,
		APIKey:             req.APIKey,
		TransferSyntax:     req.TransferSyntax,
		Deidentify:         req.Deidentify,
		RejectedSOPClasses: req.RejectedSOPClasses,
		MaskRect:           req.MaskRect,
		IsActive:           true,
	}
	if req.IsActive != nil {
		config.IsActive = *req.IsActive
	}

	if err := s.repo.Create(ctx, config); err != nil {
		return nil, fmt.Errorf("failed to create destination: %w", err)
	}

	return config, nil
}

// Update validates and applies changes to a destination configuration. The
// gateway rebuilds its live state for the destination on the next received
// instance, keyed on the row's UpdatedAt.
func (s *DestinationService) Update(ctx context.Context, id uuid.UUID, req *models.DestinationRequest) (*models.DestinationConfig, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	config, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	config.Name = req.Name
	config.Type = req.Type
	config.ForwardAET = req.ForwardAET
	config.Host = req.Host
	config.Port = req.Port
	config.AETitle = req.AETitle
	config.URL = req.URL
	config.Username = req.Username
	config.Password = req.Password
	config.APIKey = req.APIKey
	config.TransferSyntax = req.TransferSyntax
	config.Deidentify = req.Deidentify
	config.RejectedSOPClasses = req.RejectedSOPClasses
	config.MaskRect = req.MaskRect
	if req.IsActive != nil {
		config.IsActive = *req.IsActive
	}

	if err := s.repo.Update(ctx, config); err != nil {
		return nil, fmt.Errorf("failed to update destination: %w", err)
	}

	return config, nil
}

// List retrieves every destination configuration
func (s *DestinationService) List(ctx context.Context) ([]models.DestinationConfig, error) {
	return s.repo.GetAll(ctx)
}

// Get retrieves a destination configuration by ID
func (s *DestinationService) Get(ctx context.Context, id uuid.UUID) (*models.DestinationConfig, error) {
	return s.repo.GetByID(ctx, id)
}

// Delete removes a destination configuration
func (s *DestinationService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// ForwardAET lists the active destinations routed from a forward AE title.
func (s *DestinationService) ForwardAET(ctx context.Context, aet string) ([]models.DestinationConfig, error) {
	return s.repo.GetByForwardAET(ctx, aet)
}

// TestConnection probes a destination: C-ECHO for DICOM peers, an
// authenticated HTTP request for STOW-RS endpoints. The outcome is recorded
// on the configuration row and cached.
func (s *DestinationService) TestConnection(ctx context.Context, id uuid.UUID) (*models.ConnectionStatus, error) {
	config, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	status := s.probe(ctx, config)

	if err := s.repo.UpdateConnectionStatus(ctx, id, status); err != nil {
		log.Warn().Err(err).Str("destination", config.Name).Msg("Failed to record connection status")
	}
	value := []byte("down")
	if status.IsConnected {
		value = []byte("up")
	}
	if err := s.cache.Set(ctx, cache.DestinationStatusKey(id.String()), value, statusTTL); err != nil {
		log.Warn().Err(err).Msg("Failed to cache connection status")
	}

	return status, nil
}

func (s *DestinationService) probe(ctx context.Context, config *models.DestinationConfig) *models.ConnectionStatus {
	start := time.Now()

	var err error
	switch config.Type {
	case models.DestinationTypeDicom:
		err = dimse.Echo(ctx, dimse.AssociationConfig{
			Host:       config.Host,
			Port:       config.Port,
			CallingAET: s.dicom.CallingAET,
			CalledAET:  config.AETitle,
			Timeout:    s.dicom.ConnectTimeout,
		})
	case models.DestinationTypeStow:
		client := stow.NewClient(stow.Config{
			URL:      config.URL,
			Username: config.Username,
			Password: config.Password,
			APIKey:   config.APIKey,
			Timeout:  s.dicom.ConnectTimeout,
		})
		defer client.Close()
		err = client.TestConnection(ctx)
	default:
		err = fmt.Errorf("unknown destination type: %s", config.Type)
	}

	status := &models.ConnectionStatus{
		IsConnected:  err == nil,
		LastChecked:  time.Now().UTC(),
		ResponseTime: time.Since(start).Milliseconds(),
	}
	if err != nil {
		status.ErrorMessage = err.Error()
	}
	return status
}

// Runtime assembles the forwarding destination for a configuration: the
// transport, the editor chain and the burn-in mask.
func (s *DestinationService) Runtime(config *models.DestinationConfig, progress forward.ProgressHandler) (forward.Destination, error) {
	mask, err := ParseMaskRect(config.MaskRect)
	if err != nil {
		return nil, fmt.Errorf("destination %s: %w", config.Name, err)
	}
	editors := s.buildEditors(config)

	switch config.Type {
	case models.DestinationTypeDicom:
		return forward.NewDicomDestination(forward.DicomDestinationConfig{
			ID: config.ID.String(),
			Association: dimse.AssociationConfig{
				Host:       config.Host,
				Port:       config.Port,
				CallingAET: s.dicom.CallingAET,
				CalledAET:  config.AETitle,
				Timeout:    s.dicom.ConnectTimeout,
			},
			IdleTimeout: s.dicom.IdleTimeout,
			Editors:     editors,
			Mask:        mask,
			Progress:    progress,
		}), nil
	case models.DestinationTypeStow:
		return forward.NewWebDestination(forward.WebDestinationConfig{
			ID: config.ID.String(),
			Stow: stow.Config{
				URL:      config.URL,
				Username: config.Username,
				Password: config.Password,
				APIKey:   config.APIKey,
			},
			TransferSyntax: config.TransferSyntax,
			Editors:        editors,
			Mask:           mask,
			Progress:       progress,
		}), nil
	default:
		return nil, fmt.Errorf("unknown destination type: %s", config.Type)
	}
}

func (s *DestinationService) buildEditors(config *models.DestinationConfig) []forward.AttributeEditor {
	var editors []forward.AttributeEditor
	if len(config.RejectedSOPClasses) > 0 {
		editors = append(editors, &forward.SOPClassFilter{Rejected: config.RejectedSOPClasses})
	}
	if config.Deidentify {
		editors = append(editors, &forward.UIDRemapper{Cache: s.cache})
	}
	return editors
}

// ParseMaskRect parses "x,y,width,height" into a single-rectangle mask. An
// empty string means no mask.
func ParseMaskRect(spec string) (*imaging.MaskArea, error) {
	if spec == "" {
		return nil, nil
	}
	parts := strings.Split(spec, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("invalid mask rect %q, want x,y,width,height", spec)
	}
	values := make([]int, 4)
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid mask rect %q: %w", spec, err)
		}
		values[i] = n
	}
	x, y, w, h := values[0], values[1], values[2], values[3]
	if x < 0 || y < 0 || w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid mask rect %q: negative origin or empty size", spec)
	}
	return &imaging.MaskArea{
		Rects: []imaging.Rect{{MinX: x, MinY: y, MaxX: x + w, MaxY: y + h}},
	}, nil
}

func validateRequest(req *models.DestinationRequest) error {
	if req.Name == "" {
		return fmt.Errorf("name is required")
	}
	if req.ForwardAET == "" {
		return fmt.Errorf("forward_aet is required")
	}
	switch req.Type {
	case models.DestinationTypeDicom:
		if req.Host == "" || req.AETitle == "" {
			return fmt.Errorf("host and ae_title are required for DICOM destinations")
		}
		if req.Port < 1 || req.Port > 65535 {
			return fmt.Errorf("port out of range: %d", req.Port)
		}
	case models.DestinationTypeStow:
		if req.URL == "" {
			return fmt.Errorf("url is required for STOW-RS destinations")
		}
	default:
		return fmt.Errorf("unknown destination type: %q", req.Type)
	}
	if _, err := ParseMaskRect(req.MaskRect); err != nil {
		return err
	}
	return nil
}
