package dimse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/nicolasvandooren/dicom-forwarder/pkg/dcm"
	"github.com/rs/zerolog/log"
)

// StoreRequest is one composite instance arriving on an inbound association.
// Data streams the bare dataset in the negotiated transfer syntax and is
// only valid until the handler returns.
type StoreRequest struct {
	CallingAET     string
	CalledAET      string
	ContextID      byte
	TransferSyntax string
	SOPClassUID    string
	SOPInstanceUID string
	Data           io.Reader
	Assoc          *ServerAssociation
}

// StoreHandler consumes a received instance. A returned error is answered
// with a processing failure status unless the handler released the
// association itself.
type StoreHandler func(ctx context.Context, req *StoreRequest) error

// ServerConfig configures the C-STORE SCP listener.
type ServerConfig struct {
	AETitle          string
	MaxPDULength     uint32
	IdleTimeout      time.Duration
	TransferSyntaxes []string
}

// Server accepts inbound associations and hands every stored instance to the
// configured handler.
type Server struct {
	config  ServerConfig
	handler StoreHandler
}

// NewServer creates a store SCP around a handler.
func NewServer(config ServerConfig, handler StoreHandler) *Server {
	if config.MaxPDULength == 0 {
		config.MaxPDULength = defaultMaxPDU
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = 60 * time.Second
	}
	if len(config.TransferSyntaxes) == 0 {
		config.TransferSyntaxes = []string{
			dcm.ExplicitVRLittleEndian,
			dcm.ImplicitVRLittleEndian,
			dcm.ExplicitVRBigEndian,
			dcm.JPEGBaseline8Bit,
			dcm.JPEGLosslessSV1,
			dcm.JPEGLSLossless,
			dcm.JPEG2000Lossless,
			dcm.JPEG2000,
			dcm.RLELossless,
		}
	}
	return &Server{config: config, handler: handler}
}

// ListenAndServe listens on addr until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve accepts associations on the listener until the context is cancelled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	log.Info().Str("aet", s.config.AETitle).Str("addr", lis.Addr().String()).Msg("Store SCP listening")
	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	sc := &serverConn{conn: conn, maxPDU: s.config.MaxPDULength, timeout: s.config.IdleTimeout}

	assoc, contexts, err := s.acceptAssociation(sc)
	if err != nil {
		log.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("Association setup failed")
		return
	}
	log.Info().
		Str("calling_aet", assoc.callingAET).
		Str("remote", conn.RemoteAddr().String()).
		Msg("Association accepted")

	for {
		if assoc.ReleasedLocally() {
			return
		}
		cmd, pcid, err := sc.readCommand()
		if err != nil {
			if errors.Is(err, errPeerReleased) {
				sc.writePDU(pduReleaseRP, make([]byte, 4))
				log.Info().Str("calling_aet", assoc.callingAET).Msg("Association released")
				return
			}
			if !errors.Is(err, io.EOF) && !assoc.ReleasedLocally() {
				log.Warn().Err(err).Str("calling_aet", assoc.callingAET).Msg("Association ended abnormally")
				assoc.Abort()
			}
			return
		}

		switch cmd.Field {
		case CEchoRQ:
			rsp := encodeCommand(&Command{
				Field:       CEchoRSP,
				RespondedID: cmd.MessageID,
				DataSetType: dataSetNull,
				Status:      StatusSuccess,
				SOPClassUID: cmd.SOPClassUID,
			})
			if err := sc.sendPDV(pcid, rsp, true, true); err != nil {
				return
			}
		case CStoreRQ:
			if err := s.handleStore(ctx, sc, assoc, contexts, cmd, pcid); err != nil {
				if !assoc.ReleasedLocally() {
					log.Warn().Err(err).Str("calling_aet", assoc.callingAET).Msg("Store message failed")
					assoc.Abort()
				}
				return
			}
		default:
			log.Warn().Uint16("field", cmd.Field).Msg("Unsupported DIMSE command")
			assoc.Abort()
			return
		}
	}
}

func (s *Server) handleStore(ctx context.Context, sc *serverConn, assoc *ServerAssociation, contexts map[byte]AcceptedContext, cmd *Command, pcid byte) error {
	pc, ok := contexts[pcid]
	if !ok || !pc.Accepted() {
		return fmt.Errorf("store on unaccepted presentation context %d", pcid)
	}
	if !cmd.HasDataSet() {
		return fmt.Errorf("C-STORE-RQ without dataset")
	}

	reader := &pdvDataReader{conn: sc, pcid: pcid}
	req := &StoreRequest{
		CallingAET:     assoc.callingAET,
		CalledAET:      assoc.calledAET,
		ContextID:      pcid,
		TransferSyntax: pc.TransferSyntax,
		SOPClassUID:    cmd.SOPClassUID,
		SOPInstanceUID: cmd.SOPInstanceUID,
		Data:           reader,
		Assoc:          assoc,
	}

	status := uint16(StatusSuccess)
	if err := s.handler(ctx, req); err != nil {
		status = StatusProcessingFailure
		log.Error().Err(err).
			Str("iuid", cmd.SOPInstanceUID).
			Str("calling_aet", assoc.callingAET).
			Msg("Store handler failed")
	}

	if assoc.ReleasedLocally() {
		return fmt.Errorf("association released by handler")
	}
	if err := reader.drain(); err != nil {
		return err
	}

	rsp := encodeCommand(&Command{
		Field:          CStoreRSP,
		RespondedID:    cmd.MessageID,
		DataSetType:    dataSetNull,
		Status:         status,
		SOPClassUID:    cmd.SOPClassUID,
		SOPInstanceUID: cmd.SOPInstanceUID,
	})
	return sc.sendPDV(pcid, rsp, true, true)
}

// acceptAssociation answers the A-ASSOCIATE-RQ, accepting every proposed
// storage context whose transfer syntax list intersects the configured set.
func (s *Server) acceptAssociation(sc *serverConn) (*ServerAssociation, map[byte]AcceptedContext, error) {
	pduType, body, err := sc.readPDU()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read associate request: %w", err)
	}
	if pduType != pduAssociateRQ {
		return nil, nil, fmt.Errorf("expected A-ASSOCIATE-RQ, got 0x%02x", pduType)
	}
	info, err := parseAssociate(body)
	if err != nil {
		return nil, nil, err
	}
	if s.config.AETitle != "" && info.calledAET != s.config.AETitle {
		// Result rejected-permanent, source service-user, reason called AE
		// title not recognized.
		sc.writePDU(pduAssociateRJ, []byte{0x00, 0x01, 0x01, 0x07})
		return nil, nil, fmt.Errorf("called AET %q not served", info.calledAET)
	}
	if info.maxPDU > 0 {
		sc.peerMax = info.maxPDU
	}

	contexts := make(map[byte]AcceptedContext, len(info.proposed))
	accepted := make([]AcceptedContext, 0, len(info.proposed))
	for _, pc := range info.proposed {
		ac := AcceptedContext{ID: pc.ID, Result: ResultTransferNotSupported}
		for _, offered := range pc.TransferSyntaxes {
			if s.supports(offered) {
				ac = AcceptedContext{ID: pc.ID, Result: ResultAcceptance, TransferSyntax: offered}
				break
			}
		}
		contexts[pc.ID] = ac
		accepted = append(accepted, ac)
	}

	ac := buildAssociateAC(associateInfo{
		calledAET:  info.calledAET,
		callingAET: info.callingAET,
		maxPDU:     s.config.MaxPDULength,
		accepted:   accepted,
	})
	if err := sc.writePDU(pduAssociateAC, ac); err != nil {
		return nil, nil, fmt.Errorf("failed to send associate accept: %w", err)
	}

	return &ServerAssociation{
		conn:       sc.conn,
		callingAET: info.callingAET,
		calledAET:  info.calledAET,
	}, contexts, nil
}

func (s *Server) supports(tsuid string) bool {
	for _, ts := range s.config.TransferSyntaxes {
		if ts == tsuid {
			return true
		}
	}
	return false
}

// ServerAssociation is the inbound side handed to store handlers so an
// editor-requested connection abort can release it mid-association.
type ServerAssociation struct {
	conn       net.Conn
	callingAET string
	calledAET  string
	mu         sync.Mutex
	released   bool
}

// CallingAET returns the peer AE title.
func (sa *ServerAssociation) CallingAET() string { return sa.callingAET }

// CalledAET returns the local AE title the peer addressed.
func (sa *ServerAssociation) CalledAET() string { return sa.calledAET }

// Release initiates a release from the acceptor side and closes the socket.
func (sa *ServerAssociation) Release() error {
	sa.mu.Lock()
	if sa.released {
		sa.mu.Unlock()
		return nil
	}
	sa.released = true
	sa.mu.Unlock()

	writePDU(sa.conn, pduReleaseRQ, make([]byte, 4))
	return sa.conn.Close()
}

// Abort sends an A-ABORT and closes the socket.
func (sa *ServerAssociation) Abort() error {
	sa.mu.Lock()
	if sa.released {
		sa.mu.Unlock()
		return nil
	}
	sa.released = true
	sa.mu.Unlock()

	writePDU(sa.conn, pduAbort, buildAbort(2, 0))
	return sa.conn.Close()
}

// ReleasedLocally reports whether this side already released or aborted.
func (sa *ServerAssociation) ReleasedLocally() bool {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	return sa.released
}

var errPeerReleased = errors.New("peer requested release")

// serverConn reads and demultiplexes PDUs on an accepted connection.
type serverConn struct {
	conn    net.Conn
	maxPDU  uint32
	peerMax uint32
	timeout time.Duration
	pending []pdv
}

type pdv struct {
	pcid    byte
	command bool
	last    bool
	data    []byte
}

func (sc *serverConn) readPDU() (byte, []byte, error) {
	if sc.timeout > 0 {
		if err := sc.conn.SetReadDeadline(time.Now().Add(sc.timeout)); err != nil {
			return 0, nil, err
		}
	}
	return readPDU(sc.conn, sc.maxPDU+1024)
}

func (sc *serverConn) writePDU(pduType byte, body []byte) error {
	if sc.timeout > 0 {
		if err := sc.conn.SetWriteDeadline(time.Now().Add(sc.timeout)); err != nil {
			return err
		}
	}
	return writePDU(sc.conn, pduType, body)
}

func (sc *serverConn) sendPDV(pcid byte, data []byte, command, last bool) error {
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
	return sc.writePDU(pduPDataTF, body)
}

// nextPDV pops a buffered PDV or reads further PDUs until one arrives.
func (sc *serverConn) nextPDV() (pdv, error) {
	for len(sc.pending) == 0 {
		pduType, body, err := sc.readPDU()
		if err != nil {
			return pdv{}, err
		}
		switch pduType {
		case pduPDataTF:
			if err := sc.splitPDVs(body); err != nil {
				return pdv{}, err
			}
		case pduReleaseRQ:
			return pdv{}, errPeerReleased
		case pduAbort:
			return pdv{}, fmt.Errorf("association aborted by peer")
		default:
			return pdv{}, fmt.Errorf("unexpected PDU type 0x%02x", pduType)
		}
	}
	next := sc.pending[0]
	sc.pending = sc.pending[1:]
	return next, nil
}

func (sc *serverConn) splitPDVs(body []byte) error {
	for len(body) > 0 {
		if len(body) < 6 {
			return fmt.Errorf("truncated PDV header")
		}
		length := int(uint32(body[0])<<24 | uint32(body[1])<<16 | uint32(body[2])<<8 | uint32(body[3]))
		if length < 2 || len(body) < 4+length {
			return fmt.Errorf("invalid PDV length %d", length)
		}
		control := body[5]
		sc.pending = append(sc.pending, pdv{
			pcid:    body[4],
			command: control&0x01 != 0,
			last:    control&0x02 != 0,
			data:    body[6 : 4+length],
		})
		body = body[4+length:]
	}
	return nil
}

// readCommand assembles the next complete command set.
func (sc *serverConn) readCommand() (*Command, byte, error) {
	var buf []byte
	var pcid byte
	for {
		p, err := sc.nextPDV()
		if err != nil {
			return nil, 0, err
		}
		if !p.command {
			// Data PDV with no command in progress; a leftover from an
			// aborted transfer. Skip it.
			continue
		}
		pcid = p.pcid
		buf = append(buf, p.data...)
		if p.last {
			cmd, err := decodeCommand(buf)
			return cmd, pcid, err
		}
	}
}

// pdvDataReader streams the data PDVs of one C-STORE message.
type pdvDataReader struct {
	conn *serverConn
	pcid byte
	buf  []byte
	done bool
	err  error
}

func (r *pdvDataReader) Read(b []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	for len(r.buf) == 0 {
		if r.done {
			r.err = io.EOF
			return 0, io.EOF
		}
		p, err := r.conn.nextPDV()
		if err != nil {
			r.err = err
			return 0, err
		}
		if p.command {
			r.err = fmt.Errorf("command PDV while reading dataset")
			return 0, r.err
		}
		r.buf = p.data
		r.done = p.last
	}
	n := copy(b, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// drain consumes dataset bytes the handler left unread.
func (r *pdvDataReader) drain() error {
	if r.err == io.EOF {
		return nil
	}
	_, err := io.Copy(io.Discard, r)
	if err != nil && err != io.EOF {
		return err
	}
	return nil
}
