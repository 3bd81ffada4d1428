package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ForwardAudit records one forwarding attempt of one instance to one
// destination.
type ForwardAudit struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	SourceAET       string    `gorm:"type:varchar(50);index" json:"source_aet"`
	ForwardAET      string    `gorm:"type:varchar(50);index" json:"forward_aet"`
	DestinationID   uuid.UUID `gorm:"type:uuid;index" json:"destination_id"`
	DestinationName string    `gorm:"type:varchar(255)" json:"destination_name"`
	SOPInstanceUID  string    `gorm:"type:varchar(255);index" json:"sop_instance_uid"`
	SOPClassUID     string    `gorm:"type:varchar(255)" json:"sop_class_uid"`
	// TransferSyntax is the inbound encoding, OutputTransferSyntax the one
	// negotiated or substituted on the way out.
	TransferSyntax       string `gorm:"type:varchar(64)" json:"transfer_syntax"`
	OutputTransferSyntax string `gorm:"type:varchar(64)" json:"output_transfer_syntax"`
	Status               string `gorm:"type:varchar(20);index" json:"status"` // success, failure
	ErrorMessage         string `gorm:"type:text" json:"error_message,omitempty"`
	// Duplicate marks an instance whose SOP instance UID was already seen
	// recently; it is forwarded regardless.
	Duplicate bool      `gorm:"default:false" json:"duplicate"`
	Duration  int64     `json:"duration_ms"`
	CreatedAt time.Time `gorm:"index" json:"timestamp"`
}

// TableName overrides the table name
func (ForwardAudit) TableName() string {
	return "forward_audits"
}

// BeforeCreate hook
func (a *ForwardAudit) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
