package monitor

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lowaak/grapple-monitor/internal/go_func_utils"
	"github.com/lowaak/grapple-monitor/internal/serialport"
	"github.com/lowaak/grapple-monitor/internal/telemetry"
)

// ConnectionHandler owns the single serial connection: it opens the port,
// runs the read loop that feeds the SessionModel and tears everything down
// again, whether asked to or because the device went away.
type ConnectionHandler struct {
	model    *SessionModel
	provider serialport.Provider
	logger   *log.Logger
	clock    func() time.Time
	newID    func() string

	mu           sync.Mutex
	state        ConnectionState
	port         serialport.Port
	reader       *serialport.Reader
	sessionID    string
	loopDone     chan struct{}
	teardownDone chan struct{}

	wg sync.WaitGroup
}

// NewConnectionHandlerArg holds the arguments of NewConnectionHandler
type NewConnectionHandlerArg struct {
	Model    *SessionModel
	Provider serialport.Provider
	Logger   *log.Logger
	// Clock stamps sessions and samples. Defaults to time.Now.
	Clock func() time.Time
}

func NewConnectionHandler(arg NewConnectionHandlerArg) *ConnectionHandler {
	if arg.Model == nil {
		panic("ConnectionHandler: model cannot be nil")
	}
	if arg.Provider == nil {
		panic("ConnectionHandler: provider cannot be nil")
	}
	if arg.Logger == nil {
		panic("ConnectionHandler: logger cannot be nil")
	}
	clock := arg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &ConnectionHandler{
		model:    arg.Model,
		provider: arg.Provider,
		logger:   arg.Logger,
		clock:    clock,
		newID:    uuid.NewString,
		state:    Disconnected,
	}
}

// teardown is what a Disconnect has to give back.
type teardown struct {
	port     serialport.Port
	reader   *serialport.Reader
	loopDone chan struct{}
}

func (h *ConnectionHandler) State() ConnectionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Supported reports whether this host can use serial ports at all.
func (h *ConnectionHandler) Supported() bool {
	return h.provider.Supported()
}

// ListPorts enumerates the ports the provider can see and publishes them to
// the model.
func (h *ConnectionHandler) ListPorts() ([]serialport.PortInfo, error) {
	ports, err := h.provider.ListPorts()
	if err != nil {
		return nil, err
	}
	h.model.SetPorts(ports)
	return ports, nil
}

// Connect opens portName (or an auto-selected port when empty) and starts
// streaming samples into the model. A done ctx during selection reports
// serialport.ErrCancelled. On failure everything acquired so far is released
// and the returned error is also written to the model's error slot.
func (h *ConnectionHandler) Connect(ctx context.Context, portName string) error {
	if !h.provider.Supported() {
		err := &ConnectionError{Op: "select", Port: portName, Err: serialport.ErrUnsupportedEnvironment}
		h.logger.Printf("ConnectionHandler: %v", err)
		h.model.ReportError(err)
		return err
	}

	h.mu.Lock()
	if h.state != Disconnected {
		state := h.state
		h.mu.Unlock()
		h.logger.Printf("ConnectionHandler: connect ignored, state is %s", state)
		return ErrAlreadyConnected
	}
	h.state = Connecting
	h.mu.Unlock()
	h.model.SetConnectionStatus(ConnectionStatus{State: Connecting, Port: serialport.PortInfo{Name: portName}})

	port, err := h.provider.RequestPort(ctx, portName)
	if err != nil {
		return h.abortConnect(nil, &ConnectionError{Op: "select", Port: portName, Err: err})
	}
	info := port.Info()
	h.logger.Printf("ConnectionHandler: opening %s at %d baud", info, serialport.DefaultBaudRate)

	if err := port.Open(serialport.Mode{BaudRate: serialport.DefaultBaudRate}); err != nil {
		return h.abortConnect(nil, &ConnectionError{Op: "open", Port: info.Name, Err: err})
	}
	reader, err := port.Reader()
	if err != nil {
		return h.abortConnect(port, &ConnectionError{Op: "open", Port: info.Name, Err: err})
	}

	session := h.model.BeginSession(h.newID(), info, h.clock())
	loopDone := make(chan struct{})

	h.mu.Lock()
	h.state = Connected
	h.port = port
	h.reader = reader
	h.sessionID = session.ID
	h.loopDone = loopDone
	h.mu.Unlock()

	h.model.ClearError()
	h.model.SetConnectionStatus(ConnectionStatus{State: Connected, Port: info, SessionID: session.ID})
	h.logger.Printf("ConnectionHandler: connected to %s, session %s", info.Name, session.ID)

	go_func_utils.SafeGoTracked(h.logger, &h.wg, func() { h.readLoop(info, reader, loopDone) })
	return nil
}

func (h *ConnectionHandler) abortConnect(port serialport.Port, err *ConnectionError) error {
	h.logger.Printf("ConnectionHandler: %v", err)
	if port != nil {
		if closeErr := port.Close(); closeErr != nil {
			h.logger.Printf("ConnectionHandler: closing %s after failed connect: %v", err.Port, closeErr)
		}
	}

	h.mu.Lock()
	h.state = Disconnected
	h.mu.Unlock()

	h.model.ReportError(err)
	h.model.SetConnectionStatus(ConnectionStatus{State: Disconnected})
	return err
}

// readLoop is the only user of the decoders it creates.
func (h *ConnectionHandler) readLoop(info serialport.PortInfo, reader *serialport.Reader, done chan struct{}) {
	defer close(done)

	text := telemetry.NewTextDecoder()
	framer := telemetry.NewLineFramer()
	frames := telemetry.NewFrameDecoder(h.clock)
	count := 0

	for {
		chunk, err := reader.Read()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr := &ConnectionError{Op: "read", Port: info.Name, Err: err}
				h.logger.Printf("ConnectionHandler: %v", readErr)
				h.model.ReportError(readErr)
			}
			break
		}
		count += h.consume(text.Decode(chunk), framer, frames)
	}

	count += h.consume(text.Flush(), framer, frames)
	if rest := framer.Pending(); strings.TrimSpace(rest) != "" {
		h.logger.Printf("ConnectionHandler: discarding %d bytes of unterminated frame", len(rest))
	}
	h.logger.Printf("ConnectionHandler: read loop for %s finished after %d samples", info.Name, count)

	h.streamEnded(reader)
}

// consume runs decoded text through framing and decoding and returns the
// number of samples it produced.
func (h *ConnectionHandler) consume(text string, framer *telemetry.LineFramer, frames *telemetry.FrameDecoder) int {
	if text == "" {
		return 0
	}
	h.model.AppendRaw(text)

	n := 0
	for _, line := range framer.Push(text) {
		sample, err := frames.Decode(line)
		if err != nil {
			h.logger.Printf("ConnectionHandler: %v", err)
			h.model.ReportError(err)
			continue
		}
		h.model.AppendSample(sample)
		n++
	}
	return n
}

// streamEnded tears the connection down when the stream ended on its own.
// If a Disconnect already claimed the teardown it does nothing.
func (h *ConnectionHandler) streamEnded(reader *serialport.Reader) {
	h.mu.Lock()
	if h.state != Connected || h.reader != reader {
		h.mu.Unlock()
		return
	}
	t := h.beginTeardownLocked()
	h.mu.Unlock()

	h.logger.Printf("ConnectionHandler: stream ended, device disconnected")
	h.publishDisconnecting(t)
	h.finishTeardown(t)
}

// Disconnect cancels the read loop and releases the reader and the port.
// It never fails: with nothing held it does nothing, and a teardown already
// in progress is waited for.
func (h *ConnectionHandler) Disconnect() {
	h.mu.Lock()
	switch h.state {
	case Connected:
	case Disconnecting:
		done := h.teardownDone
		h.mu.Unlock()
		<-done
		return
	default:
		state := h.state
		h.mu.Unlock()
		h.logger.Printf("ConnectionHandler: disconnect with state %s, nothing to release", state)
		return
	}
	t := h.beginTeardownLocked()
	h.mu.Unlock()

	h.logger.Printf("ConnectionHandler: disconnecting")
	h.publishDisconnecting(t)
	t.reader.Cancel()
	<-t.loopDone
	h.finishTeardown(t)
}

// beginTeardownLocked must be called with mu held
func (h *ConnectionHandler) beginTeardownLocked() teardown {
	h.state = Disconnecting
	h.teardownDone = make(chan struct{})
	return teardown{port: h.port, reader: h.reader, loopDone: h.loopDone}
}

func (h *ConnectionHandler) publishDisconnecting(t teardown) {
	h.mu.Lock()
	id := h.sessionID
	h.mu.Unlock()
	h.model.SetConnectionStatus(ConnectionStatus{State: Disconnecting, Port: t.port.Info(), SessionID: id})
}

// finishTeardown releases the reader, then closes the port even when the
// release failed. Failures are reported but the state always ends up
// Disconnected.
func (h *ConnectionHandler) finishTeardown(t teardown) {
	if err := t.reader.Release(); err != nil {
		h.reportTeardown(&TeardownError{Op: "release", Err: err})
	}
	if err := t.port.Close(); err != nil {
		h.reportTeardown(&TeardownError{Op: "close", Err: err})
	}
	h.model.EndSession(h.clock())

	h.mu.Lock()
	h.state = Disconnected
	h.port = nil
	h.reader = nil
	h.sessionID = ""
	h.loopDone = nil
	done := h.teardownDone
	h.teardownDone = nil
	h.mu.Unlock()

	h.model.SetConnectionStatus(ConnectionStatus{State: Disconnected, Port: t.port.Info()})
	h.logger.Printf("ConnectionHandler: disconnected from %s", t.port.Info().Name)
	close(done)
}

func (h *ConnectionHandler) reportTeardown(err *TeardownError) {
	h.logger.Printf("ConnectionHandler: %v", err)
	h.model.ReportError(err)
}

// Shutdown disconnects and waits for the read loop goroutine.
func (h *ConnectionHandler) Shutdown() {
	h.logger.Println("ConnectionHandler: Shutting down")
	h.Disconnect()
	h.wg.Wait()
	h.logger.Println("ConnectionHandler: Shutdown complete")
}
