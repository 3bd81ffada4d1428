package dimse

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nicolasvandooren/dicom-forwarder/pkg/dcm"
)

type receivedStore struct {
	CallingAET     string
	TransferSyntax string
	SOPClassUID    string
	SOPInstanceUID string
	Data           []byte
}

type storeRecorder struct {
	mu     sync.Mutex
	stores []receivedStore
}

func (r *storeRecorder) handle(ctx context.Context, req *StoreRequest) error {
	data, err := io.ReadAll(req.Data)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores = append(r.stores, receivedStore{
		CallingAET:     req.CallingAET,
		TransferSyntax: req.TransferSyntax,
		SOPClassUID:    req.SOPClassUID,
		SOPInstanceUID: req.SOPInstanceUID,
		Data:           data,
	})
	return nil
}

func (r *storeRecorder) all() []receivedStore {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]receivedStore(nil), r.stores...)
}

func startTestSCP(t *testing.T, config ServerConfig, handler StoreHandler) AssociationConfig {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(config, handler)
	go srv.Serve(ctx, lis)
	t.Cleanup(cancel)

	addr := lis.Addr().(*net.TCPAddr)
	return AssociationConfig{
		Host:       "127.0.0.1",
		Port:       addr.Port,
		CallingAET: "FORWARD-SCU",
		CalledAET:  config.AETitle,
		Timeout:    5 * time.Second,
	}
}

func TestAssociationNegotiation(t *testing.T) {
	rec := &storeRecorder{}
	config := startTestSCP(t, ServerConfig{AETitle: "STORE-SCP"}, rec.handle)

	proposed := []ProposedContext{
		{ID: 1, AbstractSyntax: dcm.CTImageStorage, TransferSyntaxes: []string{
			dcm.ExplicitVRLittleEndian,
			dcm.ImplicitVRLittleEndian,
		}},
		{ID: 3, AbstractSyntax: dcm.MRImageStorage, TransferSyntaxes: []string{
			dcm.MPEG2MPML,
		}},
	}
	assoc, err := Connect(context.Background(), config, proposed)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer assoc.Release()

	if pcid, ok := assoc.ContextFor(dcm.CTImageStorage, dcm.ExplicitVRLittleEndian); !ok || pcid != 1 {
		t.Errorf("expected CT context accepted on pcid 1, got pcid=%d ok=%v", pcid, ok)
	}
	if _, ok := assoc.ContextFor(dcm.MRImageStorage, dcm.MPEG2MPML); ok {
		t.Error("expected MPEG2 context to be rejected")
	}
	syntaxes := assoc.AcceptedTransferSyntaxes(dcm.CTImageStorage)
	if len(syntaxes) != 1 || syntaxes[0] != dcm.ExplicitVRLittleEndian {
		t.Errorf("unexpected accepted syntaxes: %v", syntaxes)
	}
}

func TestCalledAETMismatchRejected(t *testing.T) {
	rec := &storeRecorder{}
	config := startTestSCP(t, ServerConfig{AETitle: "STORE-SCP"}, rec.handle)
	config.CalledAET = "WRONG-AET"

	proposed := []ProposedContext{
		{ID: 1, AbstractSyntax: dcm.CTImageStorage, TransferSyntaxes: []string{dcm.ExplicitVRLittleEndian}},
	}
	if _, err := Connect(context.Background(), config, proposed); err == nil {
		t.Fatal("expected association to be rejected for unknown called AET")
	}
}

func TestCStoreRoundTrip(t *testing.T) {
	rec := &storeRecorder{}
	config := startTestSCP(t, ServerConfig{AETitle: "STORE-SCP"}, rec.handle)

	proposed := []ProposedContext{
		{ID: 1, AbstractSyntax: dcm.CTImageStorage, TransferSyntaxes: []string{dcm.ExplicitVRLittleEndian}},
	}
	assoc, err := Connect(context.Background(), config, proposed)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer assoc.Release()

	payload := bytes.Repeat([]byte{0xCA, 0xFE}, 200)
	writer := func(w io.Writer, tsuid string) error {
		if tsuid != dcm.ExplicitVRLittleEndian {
			t.Errorf("writer called with transfer syntax %s", tsuid)
		}
		_, err := w.Write(payload)
		return err
	}
	err = assoc.CStore(dcm.CTImageStorage, "1.2.3.4", dcm.ExplicitVRLittleEndian, writer)
	if err != nil {
		t.Fatalf("C-STORE failed: %v", err)
	}

	stores := rec.all()
	if len(stores) != 1 {
		t.Fatalf("expected 1 stored instance, got %d", len(stores))
	}
	got := stores[0]
	if got.SOPClassUID != dcm.CTImageStorage {
		t.Errorf("SOP class = %s, want %s", got.SOPClassUID, dcm.CTImageStorage)
	}
	if got.SOPInstanceUID != "1.2.3.4" {
		t.Errorf("SOP instance = %s, want 1.2.3.4", got.SOPInstanceUID)
	}
	if got.TransferSyntax != dcm.ExplicitVRLittleEndian {
		t.Errorf("transfer syntax = %s", got.TransferSyntax)
	}
	if got.CallingAET != "FORWARD-SCU" {
		t.Errorf("calling AET = %s", got.CallingAET)
	}
	if !bytes.Equal(got.Data, payload) {
		t.Errorf("dataset mismatch: got %d bytes, want %d", len(got.Data), len(payload))
	}
}

func TestCStoreChunksLargeDataset(t *testing.T) {
	rec := &storeRecorder{}
	config := startTestSCP(t, ServerConfig{AETitle: "STORE-SCP", MaxPDULength: 4096}, rec.handle)

	proposed := []ProposedContext{
		{ID: 1, AbstractSyntax: dcm.CTImageStorage, TransferSyntaxes: []string{dcm.ExplicitVRLittleEndian}},
	}
	assoc, err := Connect(context.Background(), config, proposed)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer assoc.Release()

	// Larger than the accepted max PDU, forcing the writer to split PDVs.
	payload := make([]byte, 100000)
	for i := range payload {
		payload[i] = byte(i)
	}
	writer := func(w io.Writer, tsuid string) error {
		// Uneven writes should not disturb the chunking.
		for off := 0; off < len(payload); off += 7001 {
			end := off + 7001
			if end > len(payload) {
				end = len(payload)
			}
			if _, err := w.Write(payload[off:end]); err != nil {
				return err
			}
		}
		return nil
	}
	if err := assoc.CStore(dcm.CTImageStorage, "1.2.3.4.5", dcm.ExplicitVRLittleEndian, writer); err != nil {
		t.Fatalf("C-STORE failed: %v", err)
	}

	stores := rec.all()
	if len(stores) != 1 {
		t.Fatalf("expected 1 stored instance, got %d", len(stores))
	}
	if !bytes.Equal(stores[0].Data, payload) {
		t.Fatalf("dataset mismatch after chunked transfer: got %d bytes, want %d", len(stores[0].Data), len(payload))
	}
}

func TestCStoreWithoutAcceptedContext(t *testing.T) {
	rec := &storeRecorder{}
	config := startTestSCP(t, ServerConfig{AETitle: "STORE-SCP"}, rec.handle)

	proposed := []ProposedContext{
		{ID: 1, AbstractSyntax: dcm.CTImageStorage, TransferSyntaxes: []string{dcm.ExplicitVRLittleEndian}},
	}
	assoc, err := Connect(context.Background(), config, proposed)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer assoc.Release()

	writer := func(w io.Writer, tsuid string) error { return nil }
	err = assoc.CStore(dcm.MRImageStorage, "1.2.3", dcm.ExplicitVRLittleEndian, writer)
	if err == nil {
		t.Fatal("expected error for unnegotiated SOP class")
	}
	if !strings.Contains(err.Error(), "no accepted presentation context") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestHandlerFailureReportedInStatus(t *testing.T) {
	handler := func(ctx context.Context, req *StoreRequest) error {
		io.Copy(io.Discard, req.Data)
		return io.ErrUnexpectedEOF
	}
	config := startTestSCP(t, ServerConfig{AETitle: "STORE-SCP"}, handler)

	proposed := []ProposedContext{
		{ID: 1, AbstractSyntax: dcm.CTImageStorage, TransferSyntaxes: []string{dcm.ExplicitVRLittleEndian}},
	}
	assoc, err := Connect(context.Background(), config, proposed)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer assoc.Release()

	writer := func(w io.Writer, tsuid string) error {
		_, err := w.Write([]byte{0x00, 0x01})
		return err
	}
	err = assoc.CStore(dcm.CTImageStorage, "1.2.3", dcm.ExplicitVRLittleEndian, writer)
	if err == nil {
		t.Fatal("expected C-STORE to report the processing failure status")
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != StatusProcessingFailure {
		t.Errorf("expected processing failure status error, got: %v", err)
	}
	if !strings.Contains(err.Error(), "0x0110") {
		t.Errorf("expected processing failure status in error, got: %v", err)
	}
	if assoc.Closed() {
		t.Error("association should stay open after a status failure")
	}
}

func TestEcho(t *testing.T) {
	rec := &storeRecorder{}
	config := startTestSCP(t, ServerConfig{AETitle: "STORE-SCP"}, rec.handle)

	if err := Echo(context.Background(), config); err != nil {
		t.Fatalf("echo failed: %v", err)
	}
}

func TestStoreSCUReopenAddsContexts(t *testing.T) {
	rec := &storeRecorder{}
	config := startTestSCP(t, ServerConfig{AETitle: "STORE-SCP"}, rec.handle)

	scu := NewStoreSCU(config, time.Minute)
	defer scu.Close(false)

	scu.AddPresentationContext(dcm.CTImageStorage, dcm.ExplicitVRLittleEndian)
	if err := scu.Open(context.Background()); err != nil {
		t.Fatalf("failed to open: %v", err)
	}
	if !scu.HasAcceptedContext(dcm.CTImageStorage, dcm.ExplicitVRLittleEndian) {
		t.Fatal("CT context not accepted after first open")
	}
	if scu.HasAcceptedContext(dcm.MRImageStorage, dcm.ExplicitVRLittleEndian) {
		t.Fatal("MR context should not be accepted yet")
	}

	// Registering a new SOP class requires a fresh negotiation.
	scu.Close(true)
	scu.AddPresentationContext(dcm.MRImageStorage, dcm.ExplicitVRLittleEndian, dcm.ImplicitVRLittleEndian)
	if err := scu.Open(context.Background()); err != nil {
		t.Fatalf("failed to reopen: %v", err)
	}
	if !scu.HasAcceptedContext(dcm.CTImageStorage, dcm.ExplicitVRLittleEndian) {
		t.Error("CT context lost after reopen")
	}
	if !scu.HasAcceptedContext(dcm.MRImageStorage, dcm.ExplicitVRLittleEndian) {
		t.Error("MR context not accepted after reopen")
	}

	writer := func(w io.Writer, tsuid string) error {
		_, err := w.Write([]byte{0x10, 0x20, 0x30, 0x40})
		return err
	}
	if err := scu.Store(context.Background(), dcm.MRImageStorage, "1.2.3.4", dcm.ExplicitVRLittleEndian, writer); err != nil {
		t.Fatalf("store after reopen failed: %v", err)
	}
	if got := rec.all(); len(got) != 1 || got[0].SOPClassUID != dcm.MRImageStorage {
		t.Fatalf("unexpected stores after reopen: %+v", got)
	}
}

func TestStoreSCUReconnectsAfterAbort(t *testing.T) {
	rec := &storeRecorder{}
	config := startTestSCP(t, ServerConfig{AETitle: "STORE-SCP"}, rec.handle)

	scu := NewStoreSCU(config, time.Minute)
	defer scu.Close(false)
	scu.AddPresentationContext(dcm.CTImageStorage, dcm.ExplicitVRLittleEndian)

	writer := func(w io.Writer, tsuid string) error {
		_, err := w.Write([]byte{0x01, 0x02})
		return err
	}
	if err := scu.Store(context.Background(), dcm.CTImageStorage, dcm.NewUID(), dcm.ExplicitVRLittleEndian, writer); err != nil {
		t.Fatalf("first store failed: %v", err)
	}

	// The connection dies under the SCU.
	scu.Association().Abort()
	if scu.IsOpen() {
		t.Fatal("aborted association still reported open")
	}

	if err := scu.Store(context.Background(), dcm.CTImageStorage, dcm.NewUID(), dcm.ExplicitVRLittleEndian, writer); err != nil {
		t.Fatalf("store after abort failed: %v", err)
	}
	if got := rec.all(); len(got) != 2 {
		t.Fatalf("expected 2 stored instances, got %d", len(got))
	}
}

func TestStoreSCUMultipleStoresOneAssociation(t *testing.T) {
	rec := &storeRecorder{}
	config := startTestSCP(t, ServerConfig{AETitle: "STORE-SCP"}, rec.handle)

	scu := NewStoreSCU(config, time.Minute)
	defer scu.Close(false)
	scu.AddPresentationContext(dcm.CTImageStorage, dcm.ExplicitVRLittleEndian)

	for i := 0; i < 3; i++ {
		payload := []byte{byte(i), 0xAA}
		writer := func(w io.Writer, tsuid string) error {
			_, err := w.Write(payload)
			return err
		}
		if err := scu.Store(context.Background(), dcm.CTImageStorage, dcm.NewUID(), dcm.ExplicitVRLittleEndian, writer); err != nil {
			t.Fatalf("store %d failed: %v", i, err)
		}
	}
	if got := rec.all(); len(got) != 3 {
		t.Fatalf("expected 3 stored instances, got %d", len(got))
	}
}

func TestCommandEncodeDecode(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
	}{
		{
			name: "store request",
			cmd: Command{
				Field:          CStoreRQ,
				MessageID:      7,
				DataSetType:    dataSetPresent,
				SOPClassUID:    dcm.CTImageStorage,
				SOPInstanceUID: "1.2.840.99.1",
			},
		},
		{
			name: "store response",
			cmd: Command{
				Field:          CStoreRSP,
				RespondedID:    7,
				Status:         StatusSuccess,
				DataSetType:    dataSetNull,
				SOPClassUID:    dcm.CTImageStorage,
				SOPInstanceUID: "1.2.840.99.1",
			},
		},
		{
			name: "echo request",
			cmd: Command{
				Field:       CEchoRQ,
				MessageID:   1,
				DataSetType: dataSetNull,
				SOPClassUID: dcm.VerificationSOPClass,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := encodeCommand(&tt.cmd)
			decoded, err := decodeCommand(encoded)
			if err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if decoded.Field != tt.cmd.Field {
				t.Errorf("field = 0x%04X, want 0x%04X", decoded.Field, tt.cmd.Field)
			}
			if decoded.MessageID != tt.cmd.MessageID {
				t.Errorf("message id = %d, want %d", decoded.MessageID, tt.cmd.MessageID)
			}
			if decoded.RespondedID != tt.cmd.RespondedID {
				t.Errorf("responded id = %d, want %d", decoded.RespondedID, tt.cmd.RespondedID)
			}
			if decoded.Status != tt.cmd.Status {
				t.Errorf("status = 0x%04X, want 0x%04X", decoded.Status, tt.cmd.Status)
			}
			if decoded.SOPClassUID != tt.cmd.SOPClassUID {
				t.Errorf("sop class = %q, want %q", decoded.SOPClassUID, tt.cmd.SOPClassUID)
			}
			if decoded.SOPInstanceUID != tt.cmd.SOPInstanceUID {
				t.Errorf("sop instance = %q, want %q", decoded.SOPInstanceUID, tt.cmd.SOPInstanceUID)
			}
			if decoded.HasDataSet() != tt.cmd.HasDataSet() {
				t.Errorf("has dataset = %v, want %v", decoded.HasDataSet(), tt.cmd.HasDataSet())
			}
		})
	}
}

func TestAssociateBodyParsing(t *testing.T) {
	info := associateInfo{
		calledAET:  "CALLED",
		callingAET: "CALLING",
		maxPDU:     32768,
		proposed: []ProposedContext{
			{ID: 1, AbstractSyntax: dcm.CTImageStorage, TransferSyntaxes: []string{
				dcm.ExplicitVRLittleEndian,
				dcm.ImplicitVRLittleEndian,
			}},
			{ID: 3, AbstractSyntax: dcm.VerificationSOPClass, TransferSyntaxes: []string{
				dcm.ImplicitVRLittleEndian,
			}},
		},
	}
	parsed, err := parseAssociate(buildAssociateRQ(info))
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if parsed.calledAET != "CALLED" || parsed.callingAET != "CALLING" {
		t.Errorf("AETs = %q/%q", parsed.calledAET, parsed.callingAET)
	}
	if parsed.maxPDU != 32768 {
		t.Errorf("max PDU = %d, want 32768", parsed.maxPDU)
	}
	if len(parsed.proposed) != 2 {
		t.Fatalf("expected 2 proposed contexts, got %d", len(parsed.proposed))
	}
	pc := parsed.proposed[0]
	if pc.ID != 1 || pc.AbstractSyntax != dcm.CTImageStorage || len(pc.TransferSyntaxes) != 2 {
		t.Errorf("unexpected first context: %+v", pc)
	}

	acInfo := associateInfo{
		calledAET:  "CALLED",
		callingAET: "CALLING",
		maxPDU:     16384,
		accepted: []AcceptedContext{
			{ID: 1, Result: ResultAcceptance, TransferSyntax: dcm.ExplicitVRLittleEndian},
			{ID: 3, Result: ResultAbstractNotSupported},
		},
	}
	parsedAC, err := parseAssociate(buildAssociateAC(acInfo))
	if err != nil {
		t.Fatalf("failed to parse AC: %v", err)
	}
	if len(parsedAC.accepted) != 2 {
		t.Fatalf("expected 2 accepted contexts, got %d", len(parsedAC.accepted))
	}
	if !parsedAC.accepted[0].Accepted() || parsedAC.accepted[0].TransferSyntax != dcm.ExplicitVRLittleEndian {
		t.Errorf("unexpected first AC context: %+v", parsedAC.accepted[0])
	}
	if parsedAC.accepted[1].Accepted() {
		t.Error("rejected context reported as accepted")
	}
}
