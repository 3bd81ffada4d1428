package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nicolasvandooren/dicom-forwarder/internal/database"
	"github.com/nicolasvandooren/dicom-forwarder/internal/models"
)

// AuditRepository handles forward audit database operations
type AuditRepository struct{}

// NewAuditRepository creates a new audit repository
func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

// AuditFilter narrows an audit listing. Zero values are ignored.
type AuditFilter struct {
	SourceAET      string
	DestinationID  uuid.UUID
	SOPInstanceUID string
	Status         string
	Limit          int
	Offset         int
}

// Create creates a new forward audit entry
func (r *AuditRepository) Create(ctx context.Context, audit *models.ForwardAudit) error {
	if err := database.DB.WithContext(ctx).Create(audit).Error; err != nil {
		return fmt.Errorf("failed to create forward audit: %w", err)
	}
	return nil
}

// List retrieves forward audit entries, newest first
func (r *AuditRepository) List(ctx context.Context, filter AuditFilter) ([]models.ForwardAudit, error) {
	query := database.DB.WithContext(ctx).Order("created_at DESC")

	if filter.SourceAET != "" {
		query = query.Where("source_aet = ?", filter.SourceAET)
	}
	if filter.DestinationID != uuid.Nil {
		query = query.Where("destination_id = ?", filter.DestinationID)
	}
	if filter.SOPInstanceUID != "" {
		query = query.Where("sop_instance_uid = ?", filter.SOPInstanceUID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var audits []models.ForwardAudit
	if err := query.Find(&audits).Error; err != nil {
		return nil, fmt.Errorf("failed to list forward audits: %w", err)
	}
	return audits, nil
}

// GetBySOPInstanceUID retrieves the audit trail of one instance
func (r *AuditRepository) GetBySOPInstanceUID(ctx context.Context, iuid string) ([]models.ForwardAudit, error) {
	var audits []models.ForwardAudit
	if err := database.DB.WithContext(ctx).
		Where("sop_instance_uid = ?", iuid).
		Order("created_at DESC").
		Find(&audits).Error; err != nil {
		return nil, fmt.Errorf("failed to get forward audits: %w", err)
	}
	return audits, nil
}
