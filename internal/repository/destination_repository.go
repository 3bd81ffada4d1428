package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nicolasvandooren/dicom-forwarder/internal/database"
	"github.com/nicolasvandooren/dicom-forwarder/internal/models"
)

// DestinationRepository handles destination configuration database operations
type DestinationRepository struct{}

// NewDestinationRepository creates a new destination repository
func NewDestinationRepository() *DestinationRepository {
	return &DestinationRepository{}
}

// Create creates a new destination configuration
func (r *DestinationRepository) Create(ctx context.Context, config *models.DestinationConfig) error {
	if err := database.DB.WithContext(ctx).Create(config).Error; err != nil {
		return fmt.Errorf("failed to create destination config: %w", err)
	}
	return nil
}

// GetByID retrieves a destination configuration by ID
func (r *DestinationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.DestinationConfig, error) {
	var config models.DestinationConfig
	if err := database.DB.WithContext(ctx).Where("id = ?", id).First(&config).Error; err != nil {
		return nil, fmt.Errorf("failed to get destination config: %w", err)
	}
	return &config, nil
}

// GetByForwardAET retrieves the active destinations routed from a forward AE
// title, oldest first so fan-out order is stable.
func (r *DestinationRepository) GetByForwardAET(ctx context.Context, forwardAET string) ([]models.DestinationConfig, error) {
	var configs []models.DestinationConfig
	if err := database.DB.WithContext(ctx).
		Where("forward_aet = ? AND is_active = ?", forwardAET, true).
		Order("created_at ASC").
		Find(&configs).Error; err != nil {
		return nil, fmt.Errorf("failed to get destination configs: %w", err)
	}
	return configs, nil
}

// GetAll retrieves every destination configuration
func (r *DestinationRepository) GetAll(ctx context.Context) ([]models.DestinationConfig, error) {
	var configs []models.DestinationConfig
	if err := database.DB.WithContext(ctx).
		Order("created_at ASC").
		Find(&configs).Error; err != nil {
		return nil, fmt.Errorf("failed to get destination configs: %w", err)
	}
	return configs, nil
}

// Update updates a destination configuration
func (r *DestinationRepository) Update(ctx context.Context, config *models.DestinationConfig) error {
	if err := database.DB.WithContext(ctx).Save(config).Error; err != nil {
		return fmt.Errorf("failed to update destination config: %w", err)
	}
	return nil
}

// Delete soft deletes a destination configuration
func (r *DestinationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if err := database.DB.WithContext(ctx).Delete(&models.DestinationConfig{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete destination config: %w", err)
	}
	return nil
}

// UpdateConnectionStatus records the outcome of a connection test
func (r *DestinationRepository) UpdateConnectionStatus(ctx context.Context, id uuid.UUID, status *models.ConnectionStatus) error {
	updates := map[string]interface{}{
		"last_connection_test":   status.LastChecked,
		"last_connection_status": status.IsConnected,
		"last_error":             status.ErrorMessage,
	}

	if err := database.DB.WithContext(ctx).
		Model(&models.DestinationConfig{}).
		Where("id = ?", id).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update connection status: %w", err)
	}

	return nil
}
