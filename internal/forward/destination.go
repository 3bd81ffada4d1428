package forward

import (
	"fmt"
	"time"

	"github.com/nicolasvandooren/dicom-forwarder/internal/imaging"
	"github.com/nicolasvandooren/dicom-forwarder/pkg/dimse"
	"github.com/nicolasvandooren/dicom-forwarder/pkg/stow"
)

// Destination is one downstream receiver, either a DICOM peer reached with
// C-STORE or a DICOMweb endpoint reached with STOW-RS.
type Destination interface {
	ID() string
	// Target names the peer for logs and editor context, the called AE
	// title for DICOM peers or the URL for web endpoints.
	Target() string
	Editors() []AttributeEditor
	Mask() *imaging.MaskArea
	Progress() ProgressHandler
}

// DicomDestinationConfig assembles a C-STORE destination.
type DicomDestinationConfig struct {
	ID          string
	Association dimse.AssociationConfig
	IdleTimeout time.Duration
	Editors     []AttributeEditor
	Mask        *imaging.MaskArea
	Progress    ProgressHandler
}

// DicomDestination forwards over a long-lived outbound association. The
// association survives across instances and closes after idle.
type DicomDestination struct {
	id       string
	scu      *dimse.StoreSCU
	editors  []AttributeEditor
	mask     *imaging.MaskArea
	progress ProgressHandler
}

// NewDicomDestination creates a DICOM peer destination.
func NewDicomDestination(config DicomDestinationConfig) *DicomDestination {
	return &DicomDestination{
		id:       config.ID,
		scu:      dimse.NewStoreSCU(config.Association, config.IdleTimeout),
		editors:  config.Editors,
		mask:     config.Mask,
		progress: config.Progress,
	}
}

func (d *DicomDestination) ID() string                { return d.id }
func (d *DicomDestination) Target() string            { return d.scu.CalledAET() }
func (d *DicomDestination) Editors() []AttributeEditor { return d.editors }
func (d *DicomDestination) Mask() *imaging.MaskArea   { return d.mask }
func (d *DicomDestination) Progress() ProgressHandler { return d.progress }

// SCU exposes the outbound association for negotiation and shutdown.
func (d *DicomDestination) SCU() *dimse.StoreSCU { return d.scu }

// Close releases the outbound association.
func (d *DicomDestination) Close() {
	d.scu.Close(false)
}

// WebDestinationConfig assembles a STOW-RS destination.
type WebDestinationConfig struct {
	ID   string
	Stow stow.Config
	// TransferSyntax optionally forces the upload encoding; empty keeps
	// the inbound syntax subject to the substitution rules.
	TransferSyntax string
	Editors        []AttributeEditor
	Mask           *imaging.MaskArea
	Progress       ProgressHandler
}

// WebDestination forwards with single-instance STOW-RS uploads.
type WebDestination struct {
	id             string
	client         *stow.Client
	transferSyntax string
	editors        []AttributeEditor
	mask           *imaging.MaskArea
	progress       ProgressHandler
}

// NewWebDestination creates a STOW-RS destination.
func NewWebDestination(config WebDestinationConfig) *WebDestination {
	return &WebDestination{
		id:             config.ID,
		client:         stow.NewClient(config.Stow),
		transferSyntax: config.TransferSyntax,
		editors:        config.Editors,
		mask:           config.Mask,
		progress:       config.Progress,
	}
}

func (d *WebDestination) ID() string                 { return d.id }
func (d *WebDestination) Target() string             { return d.client.URL() }
func (d *WebDestination) Editors() []AttributeEditor { return d.editors }
func (d *WebDestination) Mask() *imaging.MaskArea    { return d.mask }
func (d *WebDestination) Progress() ProgressHandler  { return d.progress }

// Client exposes the STOW-RS client, for connection tests.
func (d *WebDestination) Client() *stow.Client { return d.client }

// Close releases idle HTTP connections.
func (d *WebDestination) Close() {
	d.client.Close()
}

func describeDestination(dest Destination) string {
	return fmt.Sprintf("%s (%s)", dest.ID(), dest.Target())
}
