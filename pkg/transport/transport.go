// Package transport maintains the live link to the Nikobus PC-Link / Feedback
// Module, either over a serial line or a transparent TCP bridge, and performs
// the fixed wake-up handshake described in spec §4.1.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/encoding/charmap"

	bugst "go.bug.st/serial"
	"github.com/tarm/serial"
)

// ErrTransportLost is surfaced to the Scheduler/Listener when the link goes
// away mid-session (§7).
var ErrTransportLost = errors.New("transport: connection lost")

// ErrTransportUnavailable is returned while (re)connecting.
var ErrTransportUnavailable = errors.New("transport: unavailable")

const (
	handshakeSettleDelay = 200 * time.Millisecond
	readTimeout          = 5 * time.Second
	minBackoff           = 500 * time.Millisecond
	maxBackoff           = 60 * time.Second
)

// handshakeFrames are sent, in order, immediately after the link opens.
var handshakeFrames = []string{
	"++++\r",
	"ATH0\r",
	"ATZ\r",
	"$10110000B8CF9D\r",
}

// Config selects either a serial device or a TCP bridge. When Network and
// Address are both set, TCP is used; otherwise Device/Baud select the serial
// port.
type Config struct {
	Device  string
	Baud    int
	Network string // e.g. "tcp"
	Address string // host:port
}

func (c Config) useTCP() bool {
	return c.Network != "" && c.Address != ""
}

// EventKind is emitted on the Events channel as the link state changes.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
)

type rawConn interface {
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	Close() error
}

// Transport owns the physical link. The Scheduler is the only writer; the
// Listener is the only reader (§5).
type Transport struct {
	cfg    Config
	mu     sync.Mutex
	conn   rawConn
	reader *bufio.Reader

	Events chan EventKind

	closed bool
}

// New opens the configured link and runs the handshake. It does not start a
// background reconnect loop by itself; callers drive Reconnect on read/write
// failure.
func New(cfg Config) (*Transport, error) {
	t := &Transport{
		cfg:    cfg,
		Events: make(chan EventKind, 8),
	}
	if err := t.open(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Transport) open() error {
	conn, err := dial(t.cfg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	t.mu.Lock()
	t.conn = conn
	t.reader = bufio.NewReader(conn)
	t.closed = false
	t.mu.Unlock()

	if err := t.handshake(); err != nil {
		_ = conn.Close()
		return err
	}
	select {
	case t.Events <- EventConnected:
	default:
	}
	return nil
}

func dial(cfg Config) (rawConn, error) {
	if cfg.useTCP() {
		return dialTCP(cfg.Network, cfg.Address)
	}
	return dialSerial(cfg.Device, cfg.Baud)
}

func dialSerial(device string, baud int) (rawConn, error) {
	if err := clearUARTAttributes(device); err != nil {
		return nil, fmt.Errorf("failed to clear UART attributes: %v", err)
	}
	mode := &bugst.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	}
	port, err := bugst.Open(device, mode)
	if err != nil {
		return nil, err
	}
	return port, nil
}

// clearUARTAttributes opens the port once at a neutral baud rate via
// github.com/tarm/serial and closes it immediately, settling line state
// before the real open — adapted from the teacher's own
// pkg/usock.clearUARTAttributes.
func clearUARTAttributes(device string) error {
	cfg := &serial.Config{
		Name:        device,
		Baud:        9600,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 0,
	}
	port, err := serial.OpenPort(cfg)
	if err != nil {
		return err
	}
	if err := port.Close(); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	return nil
}

// handshake sends the four fixed wake-up frames, pausing briefly between
// each for the bus to settle. No correlated response is required.
func (t *Transport) handshake() error {
	for _, frame := range handshakeFrames {
		if err := t.writeRaw([]byte(frame)); err != nil {
			return fmt.Errorf("handshake write failed: %w", err)
		}
		time.Sleep(handshakeSettleDelay)
	}
	return nil
}

func (t *Transport) writeRaw(b []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrTransportUnavailable
	}
	_, err := conn.Write(b)
	return err
}

// Send writes raw bytes to the link. Only the Command Scheduler is expected
// to call this.
func (t *Transport) Send(_ context.Context, b []byte) error {
	if err := t.writeRaw(b); err != nil {
		t.signalLost()
		return fmt.Errorf("%w: %v", ErrTransportLost, err)
	}
	return nil
}

// ReadLine reads one CR-terminated line, decodes it from Windows-1252 and
// strips surrounding whitespace. If no CR arrives within the read timeout
// the Transport considers the link dead and signals Disconnected.
func (t *Transport) ReadLine(ctx context.Context) (string, error) {
	t.mu.Lock()
	reader := t.reader
	t.mu.Unlock()
	if reader == nil {
		return "", ErrTransportUnavailable
	}

	type result struct {
		line string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		raw, err := reader.ReadString('\r')
		done <- result{raw, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		if r.err != nil {
			t.signalLost()
			return "", fmt.Errorf("%w: %v", ErrTransportLost, r.err)
		}
		decoded, err := decodeWindows1252(r.line)
		if err != nil {
			decoded = r.line
		}
		return strings.TrimSpace(decoded), nil
	case <-time.After(readTimeout):
		t.signalLost()
		return "", fmt.Errorf("%w: read timeout", ErrTransportLost)
	}
}

func decodeWindows1252(s string) (string, error) {
	dec := charmap.Windows1252.NewDecoder()
	return dec.String(s)
}

func (t *Transport) signalLost() {
	t.mu.Lock()
	wasClosed := t.closed
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
		t.reader = nil
	}
	t.mu.Unlock()
	if !wasClosed {
		select {
		case t.Events <- EventDisconnected:
		default:
		}
	}
}

// Close tears down the link without reconnecting.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	conn := t.conn
	t.conn = nil
	t.reader = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Reconnect retries opening the link with exponential backoff capped at
// maxBackoff, replaying the handshake on success. It returns once connected
// or when ctx is cancelled.
func (t *Transport) Reconnect(ctx context.Context) error {
	backoff := minBackoff
	for {
		if err := t.open(); err == nil {
			return nil
		} else {
			log.Printf("transport: reconnect attempt failed: %v (retrying in %s)", err, backoff)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
