package modbus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/SparkyLarks/ISA95-bottling-simulator/internal/ports"
)

// ErrBind tags listen failures so the CLI can map them onto its exit code.
var ErrBind = errors.New("modbus bind failed")

// Function codes and exception codes of the served subset.
const (
	fcReadCoils            = 0x01
	fcReadDiscreteInputs   = 0x02
	fcReadHoldingRegisters = 0x03
	fcReadInputRegisters   = 0x04

	excIllegalFunction    = 0x01
	excIllegalDataAddress = 0x02
	excIllegalDataValue   = 0x03

	maxReadQuantity = 125
	maxFrameLength  = 260
	mbapHeaderLen   = 7
)

type Config struct {
	Host         string
	Port         int
	FallbackPort int
	UnitID       uint8
	IdleTimeout  time.Duration
}

// Server is a minimal Modbus TCP server for holding-register polling.
// Function code 3 is served from the register bank snapshot; 4 is aliased
// to the same registers; everything else (including writes) answers with
// exception 01. Each connection is an independent session; a malformed
// request closes only that session.
type Server struct {
	cfg  Config
	regs ports.RegisterReader
	obs  ports.Observability

	ln       net.Listener
	port     int
	shutdown chan struct{}
	wg       sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

func NewServer(cfg Config, regs ports.RegisterReader, obs ports.Observability) *Server {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Second
	}
	return &Server{
		cfg:      cfg,
		regs:     regs,
		obs:      obs,
		shutdown: make(chan struct{}),
		conns:    make(map[net.Conn]struct{}),
	}
}

// Start binds the configured port, falling back once, and begins accepting
// sessions in the background.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil && s.cfg.FallbackPort > 0 && s.cfg.FallbackPort != s.cfg.Port {
		s.obs.LogError("modbus_bind_fallback", err,
			ports.Field{Key: "port", Value: s.cfg.Port},
			ports.Field{Key: "fallback", Value: s.cfg.FallbackPort})
		addr = fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.FallbackPort)
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBind, err)
	}

	s.ln = ln
	s.port = ln.Addr().(*net.TCPAddr).Port
	s.obs.LogInfo("modbus_listening", ports.Field{Key: "addr", Value: ln.Addr().String()})

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Port is the bound port, available after Start.
func (s *Server) Port() int { return s.port }

// Stop closes the listener, then waits for in-flight sessions until ctx
// expires, after which they are forcibly closed.
func (s *Server) Stop(ctx context.Context) error {
	close(s.shutdown)
	if s.ln != nil {
		_ = s.ln.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		for c := range s.conns {
			_ = c.Close()
		}
		s.mu.Unlock()
		<-done
		return ctx.Err()
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
			}
			s.obs.LogError("modbus_accept", err)
			return
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		select {
		case <-s.shutdown:
			return
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))

		var header [mbapHeaderLen]byte
		if _, err := io.ReadFull(conn, header[:]); err != nil {
			if !errors.Is(err, io.EOF) {
				s.obs.LogError("modbus_read_header", err,
					ports.Field{Key: "remote", Value: conn.RemoteAddr().String()})
			}
			return
		}

		txID := binary.BigEndian.Uint16(header[0:2])
		protoID := binary.BigEndian.Uint16(header[2:4])
		length := binary.BigEndian.Uint16(header[4:6])
		unitID := header[6]

		if protoID != 0 || length < 2 || length > maxFrameLength {
			s.obs.LogError("modbus_bad_frame", fmt.Errorf("proto=%d length=%d", protoID, length),
				ports.Field{Key: "remote", Value: conn.RemoteAddr().String()})
			return
		}

		pdu := make([]byte, length-1)
		if _, err := io.ReadFull(conn, pdu); err != nil {
			s.obs.LogError("modbus_read_pdu", err,
				ports.Field{Key: "remote", Value: conn.RemoteAddr().String()})
			return
		}

		start := time.Now()
		resp, ok := s.process(pdu)
		if !ok {
			var fc byte
			if len(pdu) > 0 {
				fc = pdu[0]
			}
			s.obs.LogError("modbus_malformed_pdu", fmt.Errorf("fc=0x%02x len=%d", fc, len(pdu)),
				ports.Field{Key: "remote", Value: conn.RemoteAddr().String()})
			return
		}
		s.obs.IncCounter("bottlesim_modbus_requests_total", 1)
		s.obs.ObserveLatency("bottlesim_modbus_request_seconds", time.Since(start).Seconds())

		out := make([]byte, mbapHeaderLen+len(resp))
		binary.BigEndian.PutUint16(out[0:2], txID)
		binary.BigEndian.PutUint16(out[2:4], 0)
		binary.BigEndian.PutUint16(out[4:6], uint16(len(resp)+1))
		out[6] = unitID
		copy(out[mbapHeaderLen:], resp)

		if _, err := conn.Write(out); err != nil {
			s.obs.LogError("modbus_write", err,
				ports.Field{Key: "remote", Value: conn.RemoteAddr().String()})
			return
		}
	}
}

// process services one PDU. The bool result is false for frames too
// malformed to answer; those close the session.
func (s *Server) process(pdu []byte) ([]byte, bool) {
	if len(pdu) == 0 {
		return nil, false
	}
	fc := pdu[0]

	switch fc {
	case fcReadHoldingRegisters, fcReadInputRegisters:
		if len(pdu) < 5 {
			return nil, false
		}
		start := binary.BigEndian.Uint16(pdu[1:3])
		qty := binary.BigEndian.Uint16(pdu[3:5])

		if qty == 0 || qty > maxReadQuantity {
			return exception(fc, excIllegalDataValue), true
		}
		if int(start)+int(qty) > s.regs.Size() {
			return exception(fc, excIllegalDataAddress), true
		}

		values, err := s.regs.Snapshot(int(start), int(qty))
		if err != nil {
			return exception(fc, excIllegalDataAddress), true
		}
		resp := make([]byte, 2+len(values)*2)
		resp[0] = fc
		resp[1] = byte(len(values) * 2)
		for i, v := range values {
			binary.BigEndian.PutUint16(resp[2+i*2:], v)
		}
		return resp, true

	default:
		// Coils, discrete inputs, and all write functions.
		return exception(fc, excIllegalFunction), true
	}
}

func exception(fc, code byte) []byte {
	return []byte{fc | 0x80, code}
}
