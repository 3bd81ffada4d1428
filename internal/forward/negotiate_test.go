package forward

import (
	"context"
	"testing"

	"github.com/nicolasvandooren/dicom-forwarder/pkg/dcm"
)

func TestOutputTransferSyntax(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"implicit promoted", dcm.ImplicitVRLittleEndian, dcm.ExplicitVRLittleEndian},
		{"big endian promoted", dcm.ExplicitVRBigEndian, dcm.ExplicitVRLittleEndian},
		{"rle promoted", dcm.RLELossless, dcm.ExplicitVRLittleEndian},
		{"explicit kept", dcm.ExplicitVRLittleEndian, dcm.ExplicitVRLittleEndian},
		{"jpeg baseline kept", dcm.JPEGBaseline8Bit, dcm.JPEGBaseline8Bit},
		{"jpeg lossless kept", dcm.JPEGLosslessSV1, dcm.JPEGLosslessSV1},
		{"video kept", dcm.MPEG4HP41, dcm.MPEG4HP41},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OutputTransferSyntax(tt.in); got != tt.want {
				t.Errorf("OutputTransferSyntax(%s) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestWebOutputTransferSyntax(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		requested string
		want      string
	}{
		{"no request keeps inbound", dcm.JPEGBaseline8Bit, "", dcm.JPEGBaseline8Bit},
		{"no request promotes implicit", dcm.ImplicitVRLittleEndian, "", dcm.ExplicitVRLittleEndian},
		{"no request promotes rle", dcm.RLELossless, "", dcm.ExplicitVRLittleEndian},
		{"request overrides inbound", dcm.ExplicitVRLittleEndian, dcm.JPEGBaseline8Bit, dcm.JPEGBaseline8Bit},
		{"requested implicit promoted", dcm.JPEGBaseline8Bit, dcm.ImplicitVRLittleEndian, dcm.ExplicitVRLittleEndian},
		{"requested big endian promoted", dcm.ExplicitVRLittleEndian, dcm.ExplicitVRBigEndian, dcm.ExplicitVRLittleEndian},
		{"requested rle promoted", dcm.JPEGBaseline8Bit, dcm.RLELossless, dcm.ExplicitVRLittleEndian},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WebOutputTransferSyntax(tt.in, tt.requested); got != tt.want {
				t.Errorf("WebOutputTransferSyntax(%s, %s) = %s, want %s", tt.in, tt.requested, got, tt.want)
			}
		})
	}
}

func TestPrepareTransferOpensAssociation(t *testing.T) {
	config, _ := startSCP(t, "DEST-A")
	dest := newDicomDest(t, "dest-a", config, nil, nil, nil)

	err := PrepareTransfer(context.Background(), dest, dcm.CTImageStorage, dcm.ExplicitVRLittleEndian)
	if err != nil {
		t.Fatalf("PrepareTransfer failed: %v", err)
	}
	if !dest.SCU().IsOpen() {
		t.Fatal("association not open after prepare")
	}
	if !dest.SCU().HasAcceptedContext(dcm.CTImageStorage, dcm.ExplicitVRLittleEndian) {
		t.Error("CT context not accepted")
	}
}

func TestPrepareTransferProposesExplicitFallback(t *testing.T) {
	// The peer speaks only Explicit VR Little Endian; the JPEG inbound
	// syntax needs the fallback context to get through.
	config, _ := startSCP(t, "DEST-A", dcm.ExplicitVRLittleEndian)
	dest := newDicomDest(t, "dest-a", config, nil, nil, nil)

	err := PrepareTransfer(context.Background(), dest, dcm.CTImageStorage, dcm.JPEGBaseline8Bit)
	if err != nil {
		t.Fatalf("PrepareTransfer failed: %v", err)
	}
	if dest.SCU().HasAcceptedContext(dcm.CTImageStorage, dcm.JPEGBaseline8Bit) {
		t.Error("peer unexpectedly accepted JPEG baseline")
	}
	if !dest.SCU().HasAcceptedContext(dcm.CTImageStorage, dcm.ExplicitVRLittleEndian) {
		t.Error("fallback context not accepted")
	}
}

func TestPrepareTransferReopensForNewSOPClass(t *testing.T) {
	config, _ := startSCP(t, "DEST-A")
	dest := newDicomDest(t, "dest-a", config, nil, nil, nil)

	if err := PrepareTransfer(context.Background(), dest, dcm.CTImageStorage, dcm.ExplicitVRLittleEndian); err != nil {
		t.Fatalf("first prepare failed: %v", err)
	}
	if err := PrepareTransfer(context.Background(), dest, dcm.MRImageStorage, dcm.ExplicitVRLittleEndian); err != nil {
		t.Fatalf("second prepare failed: %v", err)
	}
	if !dest.SCU().HasAcceptedContext(dcm.CTImageStorage, dcm.ExplicitVRLittleEndian) {
		t.Error("CT context lost after renegotiation")
	}
	if !dest.SCU().HasAcceptedContext(dcm.MRImageStorage, dcm.ExplicitVRLittleEndian) {
		t.Error("MR context not accepted after renegotiation")
	}
}

func TestPrepareTransferKeepsAssociationForKnownContext(t *testing.T) {
	config, _ := startSCP(t, "DEST-A")
	dest := newDicomDest(t, "dest-a", config, nil, nil, nil)

	if err := PrepareTransfer(context.Background(), dest, dcm.CTImageStorage, dcm.ExplicitVRLittleEndian); err != nil {
		t.Fatalf("first prepare failed: %v", err)
	}
	first := dest.SCU().Association()
	if err := PrepareTransfer(context.Background(), dest, dcm.CTImageStorage, dcm.ExplicitVRLittleEndian); err != nil {
		t.Fatalf("second prepare failed: %v", err)
	}
	if dest.SCU().Association() != first {
		t.Error("association was reopened for an already negotiated context")
	}
}

func TestSelectTransferSyntax(t *testing.T) {
	config, _ := startSCP(t, "DEST-A")
	dest := newDicomDest(t, "dest-a", config, nil, nil, nil)

	if err := PrepareTransfer(context.Background(), dest, dcm.CTImageStorage, dcm.ExplicitVRLittleEndian); err != nil {
		t.Fatalf("PrepareTransfer failed: %v", err)
	}
	assoc := dest.SCU().Association()

	t.Run("inbound context id preferred", func(t *testing.T) {
		p := &Params{SOPClassUID: dcm.CTImageStorage, TransferSyntax: dcm.ExplicitVRLittleEndian, ContextID: 1}
		pcid, tsuid, ok := SelectTransferSyntax(assoc, p)
		if !ok || pcid != 1 || tsuid != dcm.ExplicitVRLittleEndian {
			t.Errorf("got pcid=%d tsuid=%s ok=%v", pcid, tsuid, ok)
		}
	})

	t.Run("falls back to any context for the class", func(t *testing.T) {
		// The inbound id does not exist on this association.
		p := &Params{SOPClassUID: dcm.CTImageStorage, TransferSyntax: dcm.ExplicitVRLittleEndian, ContextID: 99}
		pcid, tsuid, ok := SelectTransferSyntax(assoc, p)
		if !ok || pcid != 1 || tsuid != dcm.ExplicitVRLittleEndian {
			t.Errorf("got pcid=%d tsuid=%s ok=%v", pcid, tsuid, ok)
		}
	})

	t.Run("explicit little endian fallback", func(t *testing.T) {
		// No context carries the inbound syntax itself.
		p := &Params{SOPClassUID: dcm.CTImageStorage, TransferSyntax: dcm.JPEGBaseline8Bit, ContextID: 1}
		pcid, tsuid, ok := SelectTransferSyntax(assoc, p)
		if !ok || pcid != 1 || tsuid != dcm.ExplicitVRLittleEndian {
			t.Errorf("got pcid=%d tsuid=%s ok=%v", pcid, tsuid, ok)
		}
	})

	t.Run("unknown sop class fails", func(t *testing.T) {
		p := &Params{SOPClassUID: dcm.MRImageStorage, TransferSyntax: dcm.ExplicitVRLittleEndian, ContextID: 1}
		if _, _, ok := SelectTransferSyntax(assoc, p); ok {
			t.Error("expected no match for an unnegotiated SOP class")
		}
	})
}
