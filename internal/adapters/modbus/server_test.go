package modbus

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/SparkyLarks/ISA95-bottling-simulator/internal/ports"
	"github.com/SparkyLarks/ISA95-bottling-simulator/internal/sim"
)

type nopObs struct{}

func (nopObs) LogInfo(string, ...ports.Field)            {}
func (nopObs) LogError(string, error, ...ports.Field)    {}
func (nopObs) LogCritical(string, error, ...ports.Field) {}
func (nopObs) IncCounter(string, float64)                {}
func (nopObs) ObserveLatency(string, float64)            {}
func (nopObs) SetGauge(string, float64)                  {}

func startTestServer(t *testing.T, bank *sim.Bank) (*Server, net.Conn) {
	t.Helper()
	srv := NewServer(Config{Host: "127.0.0.1", Port: 0, UnitID: 1, IdleTimeout: 2 * time.Second}, bank, nopObs{})
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})

	conn, err := net.Dial("tcp", srv.ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return srv, conn
}

func request(t *testing.T, conn net.Conn, txID uint16, pdu []byte) []byte {
	t.Helper()
	frame := make([]byte, 7+len(pdu))
	binary.BigEndian.PutUint16(frame[0:2], txID)
	binary.BigEndian.PutUint16(frame[2:4], 0)
	binary.BigEndian.PutUint16(frame[4:6], uint16(len(pdu)+1))
	frame[6] = 1
	copy(frame[7:], pdu)
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var header [7]byte
	if _, err := io.ReadFull(conn, header[:]); err != nil {
		t.Fatalf("read header: %v", err)
	}
	if got := binary.BigEndian.Uint16(header[0:2]); got != txID {
		t.Fatalf("transaction id %d, want %d", got, txID)
	}
	length := binary.BigEndian.Uint16(header[4:6])
	body := make([]byte, length-1)
	if _, err := io.ReadFull(conn, body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return body
}

func readPDU(start, qty uint16) []byte {
	pdu := make([]byte, 5)
	pdu[0] = 0x03
	binary.BigEndian.PutUint16(pdu[1:3], start)
	binary.BigEndian.PutUint16(pdu[3:5], qty)
	return pdu
}

func TestReadHoldingRegisters(t *testing.T) {
	bank := sim.NewBank()
	bank.SetUint16(sim.RLineState, 1)
	bank.SetUint32(sim.RGoodCount, 0x0001_F00D)
	bank.SetFloat32(sim.RLineSpeed, 98.5)
	bank.Commit()

	_, conn := startTestServer(t, bank)

	body := request(t, conn, 7, readPDU(0, 8))
	if body[0] != 0x03 {
		t.Fatalf("function code %#x", body[0])
	}
	if body[1] != 16 {
		t.Fatalf("byte count %d, want 16", body[1])
	}
	regs := make([]uint16, 8)
	for i := range regs {
		regs[i] = binary.BigEndian.Uint16(body[2+i*2:])
	}
	if regs[sim.RLineState] != 1 {
		t.Fatalf("line_state = %d", regs[sim.RLineState])
	}
	if got := sim.UnpackUint32(regs[sim.RGoodCount], regs[sim.RGoodCount+1]); got != 0x0001_F00D {
		t.Fatalf("good_count = %#x", got)
	}
	speed := sim.UnpackFloat32(regs[sim.RLineSpeed], regs[sim.RLineSpeed+1])
	if speed < 98.49 || speed > 98.51 {
		t.Fatalf("line_speed = %v", speed)
	}
}

func TestInputRegistersAliasHoldingRegisters(t *testing.T) {
	bank := sim.NewBank()
	bank.SetUint16(sim.RLineState, 4)
	bank.Commit()

	_, conn := startTestServer(t, bank)

	pdu := readPDU(0, 1)
	pdu[0] = 0x04
	body := request(t, conn, 9, pdu)
	if body[0] != 0x04 || body[1] != 2 {
		t.Fatalf("unexpected response %v", body)
	}
	if binary.BigEndian.Uint16(body[2:4]) != 4 {
		t.Fatalf("aliased read returned %d", binary.BigEndian.Uint16(body[2:4]))
	}
}

func TestExceptionResponses(t *testing.T) {
	bank := sim.NewBank()
	bank.Commit()
	_, conn := startTestServer(t, bank)

	cases := []struct {
		name string
		pdu  []byte
		want [2]byte
	}{
		{"write single register", []byte{0x06, 0, 0, 0, 1}, [2]byte{0x86, excIllegalFunction}},
		{"read coils", []byte{0x01, 0, 0, 0, 1}, [2]byte{0x81, excIllegalFunction}},
		{"quantity zero", readPDU(0, 0), [2]byte{0x83, excIllegalDataValue}},
		{"quantity above 125", readPDU(0, 126), [2]byte{0x83, excIllegalDataValue}},
		{"out of range", readPDU(uint16(sim.TotalRegisters)-1, 2), [2]byte{0x83, excIllegalDataAddress}},
	}

	for i, tc := range cases {
		body := request(t, conn, uint16(100+i), tc.pdu)
		if len(body) != 2 || body[0] != tc.want[0] || body[1] != tc.want[1] {
			t.Fatalf("%s: response % x, want % x", tc.name, body, tc.want)
		}
	}
}

func TestMalformedRequestClosesOnlyThatSession(t *testing.T) {
	bank := sim.NewBank()
	bank.Commit()
	srv, bad := startTestServer(t, bank)

	good, err := net.Dial("tcp", srv.ln.Addr().String())
	if err != nil {
		t.Fatalf("dial second session: %v", err)
	}
	defer good.Close()

	// Non-zero protocol id is a malformed frame.
	frame := []byte{0, 1, 0xFF, 0xFF, 0, 6, 1, 0x03, 0, 0, 0, 1}
	if _, err := bad.Write(frame); err != nil {
		t.Fatalf("write malformed: %v", err)
	}
	_ = bad.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := bad.Read(make([]byte, 1)); err == nil {
		t.Fatalf("malformed session should have been closed")
	}

	// The healthy session keeps working.
	body := request(t, good, 55, readPDU(0, 1))
	if body[0] != 0x03 {
		t.Fatalf("healthy session broken after peer closed: %v", body)
	}
}

func TestConcurrentReadsSeeNoTornValues(t *testing.T) {
	bank := sim.NewBank()
	bank.SetUint32(sim.RGoodCount, 0xFFFE)
	bank.Commit()

	srv, _ := startTestServer(t, bank)

	valid := map[uint32]bool{}
	for v := uint32(0xFFFE); v <= 0x1_0010; v++ {
		valid[v] = true
	}

	done := make(chan struct{})
	errCh := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() {
			conn, err := net.Dial("tcp", srv.ln.Addr().String())
			if err != nil {
				errCh <- err
				return
			}
			defer conn.Close()
			for {
				select {
				case <-done:
					errCh <- nil
					return
				default:
				}
				body := requestRaw(conn, readPDU(sim.RGoodCount, 2))
				if body == nil {
					errCh <- nil
					return
				}
				v := sim.UnpackUint32(
					binary.BigEndian.Uint16(body[2:4]),
					binary.BigEndian.Uint16(body[4:6]))
				if !valid[v] {
					t.Errorf("torn read over modbus: %#x", v)
					errCh <- nil
					return
				}
			}
		}()
	}

	for v := uint32(0xFFFE); v <= 0x1_0010; v++ {
		bank.SetUint32(sim.RGoodCount, v)
		bank.Commit()
		time.Sleep(100 * time.Microsecond)
	}
	close(done)
	for i := 0; i < 4; i++ {
		if err := <-errCh; err != nil {
			t.Fatalf("reader: %v", err)
		}
	}
}

func requestRaw(conn net.Conn, pdu []byte) []byte {
	frame := make([]byte, 7+len(pdu))
	binary.BigEndian.PutUint16(frame[0:2], 1)
	binary.BigEndian.PutUint16(frame[4:6], uint16(len(pdu)+1))
	frame[6] = 1
	copy(frame[7:], pdu)
	if _, err := conn.Write(frame); err != nil {
		return nil
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var header [7]byte
	if _, err := io.ReadFull(conn, header[:]); err != nil {
		return nil
	}
	body := make([]byte, binary.BigEndian.Uint16(header[4:6])-1)
	if _, err := io.ReadFull(conn, body); err != nil {
		return nil
	}
	return body
}
