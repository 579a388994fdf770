package serialport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/lowaak/grapple-monitor/internal/go_func_utils"
)

// MockFrame is one telemetry frame as the device firmware writes it.
type MockFrame struct {
	Duration     float64 `json:"duracao"`
	HeartRateMax int     `json:"bpm_max"`
	HeartRateMin int     `json:"bpm_min"`
	HeartRateAvg int     `json:"bpm_medio"`
	MaxForce     float64 `json:"forca_maxima"`
	ScoreA       int     `json:"pontuacao_a"`
	ScoreB       int     `json:"pontuacao_b"`
}

// MockDeviceState is what the control page shows.
type MockDeviceState struct {
	Name       string    `json:"name"`
	Connected  bool      `json:"connected"`
	HeartRate  int       `json:"heartRate"`
	Force      float64   `json:"force"`
	FramesSent int       `json:"framesSent"`
	LastFrame  MockFrame `json:"lastFrame"`
}

// MockDeviceConfig holds configuration for creating a mock device
type MockDeviceConfig struct {
	Name string
	// ControlAddr is the listen address of the control page; empty disables it.
	ControlAddr string
	// Interval between frames; zero means frames are only written explicitly.
	Interval time.Duration
	// SplitWrites cuts each frame at a random byte offset into two writes.
	SplitWrites bool
	Seed        int64
}

// MockDevice simulates the training board behind a serial port so the
// monitor can be run and tested without hardware.
type MockDevice struct {
	logger *log.Logger
	cfg    MockDeviceConfig
	info   PortInfo

	mu         sync.Mutex
	conn       *mockConn
	rng        *rand.Rand
	heartRate  int
	force      float64
	scoreA     int
	scoreB     int
	stats      heartRateStats
	framesSent int
	lastFrame  MockFrame

	server *http.Server
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type heartRateStats struct {
	started time.Time
	count   int
	sum     int
	min     int
	max     int
}

type mockConn struct {
	r    *io.PipeReader
	w    *io.PipeWriter
	stop chan struct{}
	once sync.Once
}

func (c *mockConn) shutdown() {
	c.once.Do(func() {
		close(c.stop)
	})
}

func NewMockDevice(logger *log.Logger, cfg MockDeviceConfig) *MockDevice {
	if logger == nil {
		panic("MockDevice: logger cannot be nil")
	}
	if cfg.Name == "" {
		cfg.Name = "/dev/ttyMOCK0"
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &MockDevice{
		logger: logger,
		cfg:    cfg,
		info: PortInfo{
			Name:         cfg.Name,
			IsUSB:        true,
			VID:          PicoVendorID,
			PID:          "0005",
			SerialNumber: "MOCK0001",
			Product:      "Mock Pico",
		},
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		heartRate: 90,
		force:     20,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (m *MockDevice) Info() PortInfo {
	return m.info
}

// Start starts the control page when an address was configured.
func (m *MockDevice) Start() error {
	if m.cfg.ControlAddr == "" {
		return nil
	}
	m.server = &http.Server{
		Addr:    m.cfg.ControlAddr,
		Handler: m.Handler(),
	}
	go_func_utils.SafeGoTracked(m.logger, &m.wg, func() {
		m.logger.Printf("MockDevice: control page on http://%s", m.cfg.ControlAddr)
		if err := m.server.ListenAndServe(); err != http.ErrServerClosed {
			m.logger.Printf("MockDevice: control server error: %v", err)
		}
	})
	return nil
}

// Shutdown hangs up any open connection and stops the control page.
func (m *MockDevice) Shutdown() {
	m.logger.Printf("MockDevice: shutting down")
	m.Hangup()
	m.cancel()

	if m.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.server.Shutdown(ctx); err != nil {
			m.logger.Printf("MockDevice: error shutting down control server: %v", err)
		}
	}
	m.wg.Wait()
	m.logger.Printf("MockDevice: shutdown complete")
}

// open is the port side of the device: it returns the byte stream the host
// reads from. Only one host may be attached at a time.
func (m *MockDevice) open(mode Mode) (io.ReadCloser, error) {
	if mode.BaudRate != DefaultBaudRate {
		m.logger.Printf("MockDevice: opened at %d baud, firmware writes at %d", mode.BaudRate, DefaultBaudRate)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != nil {
		return nil, fmt.Errorf("%s is busy", m.cfg.Name)
	}
	r, w := io.Pipe()
	conn := &mockConn{r: r, w: w, stop: make(chan struct{})}
	m.conn = conn
	m.stats = heartRateStats{started: time.Now()}
	m.logger.Printf("MockDevice: host attached to %s", m.cfg.Name)

	if m.cfg.Interval > 0 {
		go_func_utils.SafeGoTracked(m.logger, &m.wg, func() {
			m.emitLoop(conn)
		})
	}
	return &mockStream{dev: m, conn: conn}, nil
}

func (m *MockDevice) detach(conn *mockConn) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
	conn.shutdown()
}

// Connected reports whether a host has the port open.
func (m *MockDevice) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// Write sends raw bytes to the attached host. It blocks until the host has
// taken them.
func (m *MockDevice) Write(p []byte) (int, error) {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		return 0, ErrPortNotOpen
	}
	return conn.w.Write(p)
}

// WriteFrame encodes frame as one line and writes it, split in two at a
// random offset when the device is configured to do so.
func (m *MockDevice) WriteFrame(frame MockFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	m.mu.Lock()
	cut := len(data)
	if m.cfg.SplitWrites {
		cut = m.rng.Intn(len(data) + 1)
	}
	m.mu.Unlock()

	for _, part := range [][]byte{data[:cut], data[cut:]} {
		if len(part) == 0 {
			continue
		}
		if _, err := m.Write(part); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.framesSent++
	m.lastFrame = frame
	m.mu.Unlock()
	return nil
}

// Hangup simulates the cable being pulled: the host sees end-of-stream.
func (m *MockDevice) Hangup() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn == nil {
		return
	}
	m.logger.Printf("MockDevice: %s unplugged", m.cfg.Name)
	conn.shutdown()
	conn.w.Close()
}

// SetValues changes the baseline the simulation wanders around.
func (m *MockDevice) SetValues(heartRate int, force float64, scoreA, scoreB int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartRate = heartRate
	m.force = force
	m.scoreA = scoreA
	m.scoreB = scoreB
}

func (m *MockDevice) State() MockDeviceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MockDeviceState{
		Name:       m.cfg.Name,
		Connected:  m.conn != nil,
		HeartRate:  m.heartRate,
		Force:      m.force,
		FramesSent: m.framesSent,
		LastFrame:  m.lastFrame,
	}
}

func (m *MockDevice) emitLoop(conn *mockConn) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-conn.stop:
			return
		case <-ticker.C:
			if err := m.WriteFrame(m.nextFrame()); err != nil {
				m.logger.Printf("MockDevice: stopped writing frames: %v", err)
				return
			}
		}
	}
}

// nextFrame advances the simulation by one reading.
func (m *MockDevice) nextFrame() MockFrame {
	m.mu.Lock()
	defer m.mu.Unlock()

	bpm := m.heartRate + m.rng.Intn(11) - 5
	if bpm < 0 {
		bpm = 0
	}
	s := &m.stats
	if s.count == 0 || bpm < s.min {
		s.min = bpm
	}
	if bpm > s.max {
		s.max = bpm
	}
	s.count++
	s.sum += bpm

	force := m.force + m.rng.Float64()*4 - 2
	if force < 0 {
		force = 0
	}

	return MockFrame{
		Duration:     float64(time.Since(s.started).Round(100*time.Millisecond)) / float64(time.Second),
		HeartRateMax: s.max,
		HeartRateMin: s.min,
		HeartRateAvg: s.sum / s.count,
		MaxForce:     float64(int(force*10)) / 10,
		ScoreA:       m.scoreA,
		ScoreB:       m.scoreB,
	}
}

type mockStream struct {
	dev  *MockDevice
	conn *mockConn
}

func (s *mockStream) Read(p []byte) (int, error) {
	return s.conn.r.Read(p)
}

func (s *mockStream) Close() error {
	s.dev.detach(s.conn)
	return s.conn.r.Close()
}

// --- control page ---

// Handler serves the control page and its API.
func (m *MockDevice) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", m.handleIndex)
	mux.HandleFunc("/api/state", m.handleGetState)
	mux.HandleFunc("/api/set", m.handleSetValues)
	mux.HandleFunc("/api/inject", m.handleInject)
	mux.HandleFunc("/api/unplug", m.handleUnplug)
	return mux
}

func (m *MockDevice) handleGetState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m.State())
}

func (m *MockDevice) handleSetValues(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state := m.State()
	m.mu.Lock()
	scoreA, scoreB := m.scoreA, m.scoreB
	m.mu.Unlock()

	q := r.URL.Query()
	heartRate, force := state.HeartRate, state.Force
	var err error
	if v := q.Get("heartRate"); v != "" {
		if heartRate, err = strconv.Atoi(v); err != nil {
			http.Error(w, "heartRate must be an integer", http.StatusBadRequest)
			return
		}
	}
	if v := q.Get("force"); v != "" {
		if force, err = strconv.ParseFloat(v, 64); err != nil {
			http.Error(w, "force must be a number", http.StatusBadRequest)
			return
		}
	}
	if v := q.Get("scoreA"); v != "" {
		if scoreA, err = strconv.Atoi(v); err != nil {
			http.Error(w, "scoreA must be an integer", http.StatusBadRequest)
			return
		}
	}
	if v := q.Get("scoreB"); v != "" {
		if scoreB, err = strconv.Atoi(v); err != nil {
			http.Error(w, "scoreB must be an integer", http.StatusBadRequest)
			return
		}
	}

	m.SetValues(heartRate, force, scoreA, scoreB)
	w.WriteHeader(http.StatusOK)
}

// handleInject writes the request body to the host verbatim, which is how
// malformed frames are produced.
func (m *MockDevice) handleInject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := m.Write(body); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (m *MockDevice) handleUnplug(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	m.Hangup()
	w.WriteHeader(http.StatusOK)
}

func (m *MockDevice) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(mockControlPage))
}

const mockControlPage = `<!DOCTYPE html>
<html>
<head>
    <title>Mock Pico Control</title>
    <style>
        body { font-family: Arial, sans-serif; max-width: 800px; margin: 0 auto; padding: 20px; }
        .section { margin: 20px 0; padding: 15px; border: 1px solid #ccc; border-radius: 5px; }
        label { display: inline-block; width: 120px; }
        input[type="number"] { width: 100px; padding: 5px; }
        textarea { width: 100%; height: 60px; font-family: monospace; }
        button { padding: 10px 20px; margin: 5px; cursor: pointer; }
        .status { padding: 10px; background: #e0e0e0; border-radius: 5px; margin: 10px 0; font-family: monospace; }
    </style>
</head>
<body>
    <h1>Mock Pico Control</h1>

    <div class="section">
        <h2>Current State</h2>
        <div id="state" class="status">Loading...</div>
    </div>

    <div class="section">
        <h2>Set Values</h2>
        <div><label>Heart Rate:</label><input type="number" id="heartRate" min="0" max="240" value="90"> bpm</div>
        <div><label>Force:</label><input type="number" id="force" min="0" step="0.1" value="20"></div>
        <div><label>Score A:</label><input type="number" id="scoreA" value="0"></div>
        <div><label>Score B:</label><input type="number" id="scoreB" value="0"></div>
        <button onclick="setValues()">Set Values</button>
    </div>

    <div class="section">
        <h2>Inject Raw Text</h2>
        <textarea id="raw">{"bpm_max": oops}&#10;</textarea>
        <button onclick="inject()">Send</button>
        <button onclick="unplug()">Unplug</button>
    </div>

    <script>
        function refreshState() {
            fetch('/api/state')
                .then(r => r.json())
                .then(data => {
                    document.getElementById('state').innerText =
                        data.name + (data.connected ? ' (host attached)' : ' (idle)') + '\n' +
                        'frames sent: ' + data.framesSent + '\n' +
                        'last frame: ' + JSON.stringify(data.lastFrame);
                });
        }

        function setValues() {
            const params = new URLSearchParams({
                heartRate: document.getElementById('heartRate').value,
                force: document.getElementById('force').value,
                scoreA: document.getElementById('scoreA').value,
                scoreB: document.getElementById('scoreB').value
            });
            fetch('/api/set?' + params, {method: 'POST'}).then(refreshState);
        }

        function inject() {
            fetch('/api/inject', {method: 'POST', body: document.getElementById('raw').value}).then(refreshState);
        }

        function unplug() {
            fetch('/api/unplug', {method: 'POST'}).then(refreshState);
        }

        refreshState();
        setInterval(refreshState, 1000);
    </script>
</body>
</html>`
