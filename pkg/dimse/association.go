package dimse

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// DataWriter streams a dataset onto an association in the transfer syntax
// the presentation context was accepted with.
type DataWriter func(w io.Writer, tsuid string) error

// AssociationConfig holds the parameters for opening an association.
type AssociationConfig struct {
	Host         string
	Port         int
	CallingAET   string
	CalledAET    string
	Timeout      time.Duration
	MaxPDULength uint32
}

// Association is a negotiated DICOM association acting as SCU.
type Association struct {
	conn       net.Conn
	callingAET string
	calledAET  string
	timeout    time.Duration
	localMax   uint32
	peerMax    uint32
	proposed   []ProposedContext
	accepted   map[byte]AcceptedContext

	// sendMu serializes DIMSE exchanges: the PDVs of one message must
	// never interleave with another on the wire.
	sendMu sync.Mutex

	mu        sync.Mutex
	nextMsgID uint16
	lastUsed  time.Time
	closed    bool
}

// Connect dials the peer and negotiates the proposed presentation contexts.
func Connect(ctx context.Context, config AssociationConfig, proposed []ProposedContext) (*Association, error) {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxPDULength == 0 {
		config.MaxPDULength = defaultMaxPDU
	}

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	dialer := &net.Dialer{Timeout: config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	a := &Association{
		conn:       conn,
		callingAET: config.CallingAET,
		calledAET:  config.CalledAET,
		timeout:    config.Timeout,
		localMax:   config.MaxPDULength,
		peerMax:    defaultMaxPDU,
		proposed:   proposed,
		accepted:   make(map[byte]AcceptedContext),
		nextMsgID:  1,
		lastUsed:   time.Now(),
	}
	if err := a.negotiate(); err != nil {
		conn.Close()
		return nil, err
	}
	return a, nil
}

func (a *Association) negotiate() error {
	rq := buildAssociateRQ(associateInfo{
		calledAET:  a.calledAET,
		callingAET: a.callingAET,
		maxPDU:     a.localMax,
		proposed:   a.proposed,
	})
	if err := a.conn.SetWriteDeadline(time.Now().Add(a.timeout)); err != nil {
		return err
	}
	if err := writePDU(a.conn, pduAssociateRQ, rq); err != nil {
		return fmt.Errorf("failed to send associate request: %w", err)
	}

	if err := a.conn.SetReadDeadline(time.Now().Add(a.timeout)); err != nil {
		return err
	}
	pduType, body, err := readPDU(a.conn, 1<<20)
	if err != nil {
		return fmt.Errorf("failed to receive associate response: %w", err)
	}
	switch pduType {
	case pduAssociateAC:
	case pduAssociateRJ:
		if len(body) >= 4 {
			return fmt.Errorf("association rejected: result %d source %d reason %d", body[1], body[2], body[3])
		}
		return fmt.Errorf("association rejected")
	case pduAbort:
		return fmt.Errorf("association aborted during negotiation")
	default:
		return fmt.Errorf("unexpected PDU type 0x%02x during negotiation", pduType)
	}

	info, err := parseAssociate(body)
	if err != nil {
		return fmt.Errorf("failed to parse associate accept: %w", err)
	}
	if info.maxPDU > 0 {
		a.peerMax = info.maxPDU
	}
	for _, pc := range info.accepted {
		a.accepted[pc.ID] = pc
	}
	return nil
}

// ContextFor returns an accepted presentation context carrying the SOP class
// with the given transfer syntax.
func (a *Association) ContextFor(cuid, tsuid string) (byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, pc := range a.proposed {
		if pc.AbstractSyntax != cuid {
			continue
		}
		ac, ok := a.accepted[pc.ID]
		if ok && ac.Accepted() && ac.TransferSyntax == tsuid {
			return pc.ID, true
		}
	}
	return 0, false
}

// TransferSyntax returns the accepted transfer syntax of a presentation
// context, or false when the context was not accepted.
func (a *Association) TransferSyntax(pcid byte) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ac, ok := a.accepted[pcid]
	if !ok || !ac.Accepted() {
		return "", false
	}
	return ac.TransferSyntax, true
}

// ContextIDsFor lists the presentation context ids proposed for a SOP class,
// in proposal order.
func (a *Association) ContextIDsFor(cuid string) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	var ids []byte
	for _, pc := range a.proposed {
		if pc.AbstractSyntax == cuid {
			ids = append(ids, pc.ID)
		}
	}
	return ids
}

// AcceptedTransferSyntaxes lists the transfer syntaxes accepted for a SOP
// class across all presentation contexts.
func (a *Association) AcceptedTransferSyntaxes(cuid string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, pc := range a.proposed {
		if pc.AbstractSyntax != cuid {
			continue
		}
		if ac, ok := a.accepted[pc.ID]; ok && ac.Accepted() {
			out = append(out, ac.TransferSyntax)
		}
	}
	return out
}

// CStore sends one composite instance through an accepted presentation
// context, streaming the dataset from the writer. A wire-level failure
// aborts the association; a non-success response leaves it usable and
// returns a StatusError.
func (a *Association) CStore(cuid, iuid, tsuid string, writer DataWriter) error {
	pcid, ok := a.ContextFor(cuid, tsuid)
	if !ok {
		return fmt.Errorf("no accepted presentation context for %s with %s", cuid, tsuid)
	}

	a.sendMu.Lock()
	defer a.sendMu.Unlock()

	a.mu.Lock()
	msgID := a.nextMsgID
	a.nextMsgID++
	a.lastUsed = time.Now()
	a.mu.Unlock()

	cmd := encodeCommand(&Command{
		Field:          CStoreRQ,
		MessageID:      msgID,
		DataSetType:    dataSetPresent,
		SOPClassUID:    cuid,
		SOPInstanceUID: iuid,
	})
	if err := a.sendPDV(pcid, cmd, true, true); err != nil {
		a.Abort()
		return fmt.Errorf("failed to send C-STORE command: %w", err)
	}

	pw := &pdataWriter{assoc: a, pcid: pcid}
	if err := writer(pw, tsuid); err != nil {
		a.Abort()
		return fmt.Errorf("failed to stream dataset: %w", err)
	}
	if err := pw.Close(); err != nil {
		a.Abort()
		return fmt.Errorf("failed to finish dataset: %w", err)
	}

	rsp, err := a.receiveCommand()
	if err != nil {
		a.Abort()
		return fmt.Errorf("failed to receive C-STORE response: %w", err)
	}
	if rsp.Field != CStoreRSP {
		a.Abort()
		return fmt.Errorf("unexpected response command 0x%04x", rsp.Field)
	}
	if rsp.Status != StatusSuccess {
		return &StatusError{Status: rsp.Status}
	}
	return nil
}

// sendPDV writes one PDV in its own P-DATA-TF PDU.
func (a *Association) sendPDV(pcid byte, data []byte, command, last bool) error {
	var control byte
	if command {
		control |= 0x01
	}
	if last {
		control |= 0x02
	}
	body := make([]byte, 6, 6+len(data))
	length := uint32(len(data) + 2)
	body[0] = byte(length >> 24)
	body[1] = byte(length >> 16)
	body[2] = byte(length >> 8)
	body[3] = byte(length)
	body[4] = pcid
	body[5] = control
	body = append(body, data...)
	if err := a.conn.SetWriteDeadline(time.Now().Add(a.timeout)); err != nil {
		return err
	}
	return writePDU(a.conn, pduPDataTF, body)
}

// receiveCommand reads P-DATA PDUs until a complete command set arrives.
func (a *Association) receiveCommand() (*Command, error) {
	if err := a.conn.SetReadDeadline(time.Now().Add(a.timeout)); err != nil {
		return nil, err
	}
	var cmdBuf []byte
	for {
		pduType, body, err := readPDU(a.conn, a.localMax+1024)
		if err != nil {
			return nil, err
		}
		switch pduType {
		case pduPDataTF:
			done, err := collectCommandPDVs(body, &cmdBuf)
			if err != nil {
				return nil, err
			}
			if done {
				return decodeCommand(cmdBuf)
			}
		case pduAbort:
			return nil, fmt.Errorf("association aborted by peer")
		case pduReleaseRQ:
			return nil, fmt.Errorf("peer released the association mid-operation")
		default:
			return nil, fmt.Errorf("unexpected PDU type 0x%02x", pduType)
		}
	}
}

// collectCommandPDVs appends command fragments from one P-DATA body and
// reports whether the final fragment was seen.
func collectCommandPDVs(body []byte, cmdBuf *[]byte) (bool, error) {
	for len(body) > 0 {
		if len(body) < 6 {
			return false, fmt.Errorf("truncated PDV header")
		}
		length := int(uint32(body[0])<<24 | uint32(body[1])<<16 | uint32(body[2])<<8 | uint32(body[3]))
		if length < 2 || len(body) < 4+length {
			return false, fmt.Errorf("invalid PDV length %d", length)
		}
		control := body[5]
		data := body[6 : 4+length]
		if control&0x01 != 0 {
			*cmdBuf = append(*cmdBuf, data...)
			if control&0x02 != 0 {
				return true, nil
			}
		}
		body = body[4+length:]
	}
	return false, nil
}

// Release performs a graceful release handshake and closes the connection,
// waiting for an in-flight exchange to finish first. Releasing an already
// closed association is a no-op.
func (a *Association) Release() error {
	a.sendMu.Lock()
	defer a.sendMu.Unlock()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	defer a.conn.Close()
	if err := a.conn.SetWriteDeadline(time.Now().Add(a.timeout)); err != nil {
		return err
	}
	if err := writePDU(a.conn, pduReleaseRQ, make([]byte, 4)); err != nil {
		return fmt.Errorf("failed to send release request: %w", err)
	}
	if err := a.conn.SetReadDeadline(time.Now().Add(a.timeout)); err != nil {
		return err
	}
	for {
		pduType, _, err := readPDU(a.conn, 1<<20)
		if err != nil {
			// The peer may close without a release response.
			return nil
		}
		if pduType == pduReleaseRP || pduType == pduAbort {
			return nil
		}
	}
}

// Abort sends an A-ABORT and closes the connection.
func (a *Association) Abort() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()

	a.conn.SetWriteDeadline(time.Now().Add(a.timeout))
	writePDU(a.conn, pduAbort, buildAbort(0, 0))
	a.conn.Close()
}

// Closed reports whether the association was released or aborted.
func (a *Association) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// LastUsed returns the time of the last store on this association.
func (a *Association) LastUsed() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastUsed
}

// pdataWriter chunks a dataset stream into data PDVs sized to the peer's
// maximum PDU length.
type pdataWriter struct {
	assoc *Association
	pcid  byte
	buf   []byte
	n     int
}

func (p *pdataWriter) Write(b []byte) (int, error) {
	if p.buf == nil {
		capacity := int(p.assoc.peerMax) - 6
		if capacity < 1024 {
			capacity = 1024
		}
		p.buf = make([]byte, capacity)
	}
	written := 0
	for len(b) > 0 {
		n := copy(p.buf[p.n:], b)
		p.n += n
		b = b[n:]
		written += n
		if p.n == len(p.buf) {
			if err := p.flush(false); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

func (p *pdataWriter) flush(last bool) error {
	err := p.assoc.sendPDV(p.pcid, p.buf[:p.n], false, last)
	p.n = 0
	return err
}

// Close flushes the remaining bytes with the last-fragment flag set.
func (p *pdataWriter) Close() error {
	if p.buf == nil {
		p.buf = make([]byte, 1024)
	}
	return p.flush(true)
}
