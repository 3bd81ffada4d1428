package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DestinationType says how a destination is reached.
type DestinationType string

const (
	// DestinationTypeDicom forwards over a C-STORE association.
	DestinationTypeDicom DestinationType = "dicom"
	// DestinationTypeStow forwards over DICOMweb STOW-RS.
	DestinationTypeStow DestinationType = "stow"
)

// DestinationConfig is one forwarding target. Every instance received on
// the forward AE title is relayed to all active destinations configured for
// that title.
type DestinationConfig struct {
	ID         uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Name       string          `gorm:"type:varchar(255);not null" json:"name"`
	Type       DestinationType `gorm:"type:varchar(50);not null" json:"type"`
	ForwardAET string          `gorm:"type:varchar(50);not null;index" json:"forward_aet"`

	// DICOM peer settings
	Host    string `gorm:"type:varchar(500)" json:"host,omitempty"`
	Port    int    `json:"port,omitempty"`
	AETitle string `gorm:"type:varchar(50)" json:"ae_title,omitempty"`

	// STOW-RS endpoint settings
	URL      string `gorm:"type:varchar(500)" json:"url,omitempty"`
	Username string `gorm:"type:varchar(255)" json:"username,omitempty"`
	Password string `gorm:"type:text" json:"-"`
	APIKey   string `gorm:"type:text" json:"-"`
	// TransferSyntax optionally forces the upload encoding for STOW-RS.
	TransferSyntax string `gorm:"type:varchar(64)" json:"transfer_syntax,omitempty"`

	// Attribute editing applied before the instance leaves
	Deidentify         bool     `gorm:"default:false" json:"deidentify"`
	RejectedSOPClasses []string `gorm:"type:text[];default:'{}'" json:"rejected_sop_classes"`
	// MaskRect is "x,y,width,height" in pixels; when set the region is
	// blanked in the pixel data.
	MaskRect string `gorm:"type:varchar(100)" json:"mask_rect,omitempty"`

	IsActive bool `gorm:"default:true" json:"is_active"`

	// Connection status tracking
	LastConnectionTest   time.Time `gorm:"index" json:"last_connection_test,omitempty"`
	LastConnectionStatus bool      `json:"last_connection_status,omitempty"`
	LastError            string    `gorm:"type:text" json:"last_error,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName overrides the table name
func (DestinationConfig) TableName() string {
	return "destination_configs"
}

// BeforeCreate hook
func (d *DestinationConfig) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// ConnectionStatus is the result of probing a destination.
type ConnectionStatus struct {
	IsConnected  bool      `json:"is_connected"`
	LastChecked  time.Time `json:"last_checked"`
	ResponseTime int64     `json:"response_time_ms"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// DestinationRequest creates or updates a destination.
type DestinationRequest struct {
	Name               string          `json:"name"`
	Type               DestinationType `json:"type"`
	ForwardAET         string          `json:"forward_aet"`
	Host               string          `json:"host,omitempty"`
	Port               int             `json:"port,omitempty"`
	AETitle            string          `json:"ae_title,omitempty"`
	URL                string          `json:"url,omitempty"`
	Username           string          `json:"username,omitempty"`
	Password           string          `json:"password,omitempty"`
	APIKey             string          `json:"api_key,omitempty"`
	TransferSyntax     string          `json:"transfer_syntax,omitempty"`
	Deidentify         bool            `json:"deidentify"`
	RejectedSOPClasses []string        `json:"rejected_sop_classes,omitempty"`
	MaskRect           string          `json:"mask_rect,omitempty"`
	// IsActive left unset keeps the current state; new destinations
	// default to active.
	IsActive *bool `json:"is_active,omitempty"`
}
