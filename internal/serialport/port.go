package serialport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/lowaak/grapple-monitor/internal/go_func_utils"

	"go.bug.st/serial"
)

// DefaultBaudRate is the rate the device firmware writes at. Framing is
// always 8 data bits, no parity, one stop bit, no flow control.
const DefaultBaudRate = 115200

// PicoVendorID is the USB vendor id of Raspberry Pi RP2040 boards.
const PicoVendorID = "2E8A"

var (
	ErrUnsupportedEnvironment = errors.New("serial ports are not supported in this environment")
	ErrNoDevice               = errors.New("no serial device found")
	ErrCancelled              = errors.New("port selection cancelled")
	ErrReaderLocked           = errors.New("port already has an active reader")
	ErrReaderReleased         = errors.New("reader has been released")
	ErrReadPending            = errors.New("reader has a read in progress")
	ErrPortNotOpen            = errors.New("port is not open")
	ErrPortAlreadyOpen        = errors.New("port is already open")
)

// closeTimeout bounds how long Close waits for the pump goroutine after the
// underlying stream has been closed.
const closeTimeout = 2 * time.Second

const readBufferSize = 4096

type Mode struct {
	BaudRate int
}

type PortInfo struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"isUsb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serialNumber,omitempty"`
	Product      string `json:"product,omitempty"`
}

func (p PortInfo) String() string {
	if !p.IsUSB {
		return p.Name
	}
	label := p.Product
	if label == "" {
		label = "USB"
	}
	return fmt.Sprintf("%s (%s %s:%s)", p.Name, label, p.VID, p.PID)
}

// Provider finds and hands out ports.
type Provider interface {
	// Supported reports whether serial ports can be used at all here.
	Supported() bool
	ListPorts() ([]PortInfo, error)
	// RequestPort selects a port by name, or picks one when name is empty.
	// A done ctx means the user backed out: the result is ErrCancelled.
	RequestPort(ctx context.Context, name string) (Port, error)
}

// Port is a byte stream that is opened once and read by at most one Reader
// at a time.
type Port interface {
	Info() PortInfo
	Open(mode Mode) error
	// Reader takes the read lock. It fails with ErrReaderLocked while another
	// Reader has not been released.
	Reader() (*Reader, error)
	Close() error
}

type chunk struct {
	data []byte
}

type openFunc func(mode Mode) (io.ReadCloser, error)

// Verify streamPort implements Port
var _ Port = (*streamPort)(nil)

// streamPort adapts any io.ReadCloser source to Port. A pump goroutine owns
// the source and feeds chunks to whichever Reader currently holds the lock;
// data read while no Reader is attached waits in the channel.
type streamPort struct {
	info   PortInfo
	open   openFunc
	logger *log.Logger

	mu       sync.Mutex
	stream   io.ReadCloser
	chunks   chan chunk
	pumpDone chan struct{}
	closing  chan struct{}
	pumpErr  error
	reader   *Reader
}

func newStreamPort(logger *log.Logger, info PortInfo, open openFunc) *streamPort {
	if logger == nil {
		panic("streamPort: logger cannot be nil")
	}
	if open == nil {
		panic("streamPort: open cannot be nil")
	}
	return &streamPort{
		info:   info,
		open:   open,
		logger: logger,
	}
}

func (p *streamPort) Info() PortInfo {
	return p.info
}

func (p *streamPort) Open(mode Mode) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream != nil {
		return ErrPortAlreadyOpen
	}
	if mode.BaudRate <= 0 {
		mode.BaudRate = DefaultBaudRate
	}

	stream, err := p.open(mode)
	if err != nil {
		return fmt.Errorf("open %s: %w", p.info.Name, err)
	}

	p.stream = stream
	p.chunks = make(chan chunk, 16)
	p.pumpDone = make(chan struct{})
	p.closing = make(chan struct{})
	p.pumpErr = nil

	chunks, done, closing := p.chunks, p.pumpDone, p.closing
	go_func_utils.SafeGo(p.logger, func() {
		p.pump(stream, chunks, done, closing)
	})

	p.logger.Printf("serialport: opened %s at %d baud", p.info.Name, mode.BaudRate)
	return nil
}

func (p *streamPort) pump(stream io.Reader, chunks chan<- chunk, done chan<- struct{}, closing <-chan struct{}) {
	defer close(done)
	defer close(chunks)

	for {
		buf := make([]byte, readBufferSize)
		n, err := stream.Read(buf)
		if n > 0 {
			select {
			case chunks <- chunk{data: buf[:n]}:
			case <-closing:
				return
			}
		}
		if err != nil {
			if !isEndOfStream(err) {
				p.mu.Lock()
				p.pumpErr = err
				p.mu.Unlock()
			}
			return
		}
	}
}

func (p *streamPort) Reader() (*Reader, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return nil, ErrPortNotOpen
	}
	if p.reader != nil && !p.reader.isReleased() {
		return nil, ErrReaderLocked
	}
	p.reader = newReader(p, p.chunks)
	return p.reader, nil
}

// streamErr returns the error that stopped the pump, or nil for a clean end.
func (p *streamPort) streamErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pumpErr
}

// Close closes the stream and waits for the pump to stop. A Reader still
// holding the lock is released. Closing a port that is not open is a no-op.
func (p *streamPort) Close() error {
	p.mu.Lock()
	stream, done, closing, reader := p.stream, p.pumpDone, p.closing, p.reader
	p.stream = nil
	p.reader = nil
	p.mu.Unlock()

	if stream == nil {
		return nil
	}
	if reader != nil {
		reader.Cancel()
		reader.forceRelease()
	}

	close(closing)
	err := stream.Close()

	select {
	case <-done:
	case <-time.After(closeTimeout):
		p.logger.Printf("serialport: %s pump did not stop within %v", p.info.Name, closeTimeout)
	}

	if err != nil && !isEndOfStream(err) {
		return fmt.Errorf("close %s: %w", p.info.Name, err)
	}
	p.logger.Printf("serialport: closed %s", p.info.Name)
	return nil
}

// isEndOfStream reports errors that mean the stream ended rather than failed.
func isEndOfStream(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var portErr *serial.PortError
	return errors.As(err, &portErr) && portErr.Code() == serial.PortClosed
}
