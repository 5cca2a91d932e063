// Package capture receives auto-refractor records sent over a serial line
// when the operator presses the instrument's print/send key.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	parser "github.com/ojos-clinic/go-autoref-parser"
	"github.com/ojos-clinic/go-autoref-parser/internal/logger"
)

const (
	DefaultBaudRate    = 9600
	DefaultIdleTimeout = 1500 * time.Millisecond
	DefaultMaxBytes    = 64 << 10

	// pollInterval read timeout of one Read call; bounds how late cancellation is seen.
	pollInterval = 100 * time.Millisecond

	stx = 0x02
	etx = 0x03
	nul = 0x00
)

// ErrNoData capture ended before the instrument sent anything.
var ErrNoData = errors.New("capture: no data received")

// Config serial line settings.
type Config struct {
	PortName    string        `json:"portName"`
	BaudRate    int           `json:"baudRate,omitempty"`
	IdleTimeout time.Duration `json:"idleTimeout,omitempty"`
	MaxBytes    int           `json:"maxBytes,omitempty"`
}

func (c Config) withDefaults() Config {
	if c.BaudRate <= 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = DefaultMaxBytes
	}
	return c
}

// Port the part of a serial port the reader needs.
type Port interface {
	io.ReadCloser
	SetReadTimeout(t time.Duration) error
}

// Opener opens a port. SerialOpener is the real one.
type Opener func(name string, baud int) (Port, error)

// SerialOpener opens name as 8N1 at baud.
func SerialOpener(name string, baud int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", name, err)
	}
	return p, nil
}

// Reader captures one transmission per Capture call.
type Reader struct {
	cfg  Config
	open Opener
	log  logger.Logger
}

// Option configures a Reader.
type Option func(*Reader)

// WithOpener replaces the serial opener.
func WithOpener(o Opener) Option { return func(r *Reader) { r.open = o } }

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option { return func(r *Reader) { r.log = l } }

// NewReader returns a Reader for cfg with defaults filled in.
func NewReader(cfg Config, opts ...Option) *Reader {
	r := &Reader{cfg: cfg.withDefaults(), open: SerialOpener, log: logger.Nop{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the effective settings.
func (r *Reader) Config() Config { return r.cfg }

// Capture waits for the instrument to send a record and returns it as text.
// Reading stops once data has arrived and the line has been idle for
// IdleTimeout, when MaxBytes is reached, or at end of stream. If ctx ends
// first, whatever arrived is returned; with nothing received the error is
// ctx.Err().
func (r *Reader) Capture(ctx context.Context) (string, error) {
	if r.cfg.PortName == "" {
		return "", errors.New("capture: no serial port configured")
	}
	port, err := r.open(r.cfg.PortName, r.cfg.BaudRate)
	if err != nil {
		return "", err
	}
	defer port.Close()

	if err := port.SetReadTimeout(pollInterval); err != nil {
		return "", fmt.Errorf("set read timeout on %s: %w", r.cfg.PortName, err)
	}
	r.log.Info("waiting for data on %s at %d baud", r.cfg.PortName, r.cfg.BaudRate)

	var (
		raw      bytes.Buffer
		buf      = make([]byte, 512)
		lastRead time.Time
	)
	for {
		if ctx.Err() != nil {
			if raw.Len() == 0 {
				return "", ctx.Err()
			}
			r.log.Warn("capture on %s cancelled after %d bytes", r.cfg.PortName, raw.Len())
			break
		}

		n, err := port.Read(buf)
		if n > 0 {
			room := r.cfg.MaxBytes - raw.Len()
			if n > room {
				n = room
			}
			raw.Write(buf[:n])
			lastRead = time.Now()
			if raw.Len() >= r.cfg.MaxBytes {
				r.log.Warn("capture on %s hit the %d byte limit", r.cfg.PortName, r.cfg.MaxBytes)
				break
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", fmt.Errorf("read %s: %w", r.cfg.PortName, err)
		}
		if n == 0 && raw.Len() > 0 && time.Since(lastRead) >= r.cfg.IdleTimeout {
			break
		}
	}

	if raw.Len() == 0 {
		return "", ErrNoData
	}
	r.log.Debug("received %d bytes from %s", raw.Len(), r.cfg.PortName)
	return parser.DecodeInstrumentText(StripControl(raw.Bytes())), nil
}

// CaptureRecord captures and parses one record with p, or the default parser when p is nil.
func (r *Reader) CaptureRecord(ctx context.Context, p *parser.Parser) (*parser.AutoRefraction, string, error) {
	text, err := r.Capture(ctx)
	if err != nil {
		return nil, "", err
	}
	if p == nil {
		p = parser.NewParser()
	}
	return p.Parse(text), text, nil
}

// StripControl removes STX, ETX and NUL framing bytes.
func StripControl(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		switch c {
		case stx, etx, nul:
			continue
		}
		out = append(out, c)
	}
	return out
}

// PortInfo one serial port found on the machine.
type PortInfo struct {
	Name    string `json:"name" yaml:"name"`
	USB     bool   `json:"usb" yaml:"usb"`
	VID     string `json:"vid,omitempty" yaml:"vid,omitempty"`
	PID     string `json:"pid,omitempty" yaml:"pid,omitempty"`
	Product string `json:"product,omitempty" yaml:"product,omitempty"`
}

// ListPorts lists serial ports, with USB details where the platform reports them.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err == nil {
		ports := make([]PortInfo, 0, len(details))
		for _, d := range details {
			ports = append(ports, PortInfo{Name: d.Name, USB: d.IsUSB, VID: d.VID, PID: d.PID, Product: d.Product})
		}
		return ports, nil
	}

	names, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	ports := make([]PortInfo, 0, len(names))
	for _, n := range names {
		ports = append(ports, PortInfo{Name: n})
	}
	return ports, nil
}
