package monitor

import (
	"context"
	"log"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/lowaak/grapple-monitor/internal/events"
	"github.com/lowaak/grapple-monitor/internal/go_func_utils"
	"github.com/lowaak/grapple-monitor/internal/serialport"
	"github.com/lowaak/grapple-monitor/internal/telemetry"
)

// UIState holds the current state of the UI that views need to render
type UIState struct {
	Mode UIMode
}

// ConnectionStatus is what presentation needs to know about the connection.
type ConnectionStatus struct {
	State     ConnectionState     `json:"state"`
	Port      serialport.PortInfo `json:"port"`
	SessionID string              `json:"sessionId,omitempty"`
}

// Session is one connection lifetime. Its samples are
// History()[FirstSample : FirstSample+SampleCount].
type Session struct {
	ID          string              `json:"id"`
	Port        serialport.PortInfo `json:"port"`
	StartedAt   time.Time           `json:"startedAt"`
	EndedAt     *time.Time          `json:"endedAt,omitempty"`
	FirstSample int                 `json:"firstSample"`
	SampleCount int                 `json:"sampleCount"`
}

func (s Session) Active() bool {
	return s.EndedAt == nil
}

// Snapshot is a consistent copy of the read models.
type Snapshot struct {
	Status   ConnectionStatus           `json:"status"`
	Current  *telemetry.TrainingSample  `json:"current"`
	History  []telemetry.TrainingSample `json:"history"`
	Sessions []Session                  `json:"sessions"`
	Error    string                     `json:"error"`
	// Seq is the Seq of the last sample in History, 0 when empty
	Seq      int                        `json:"seq"`
}

// SequencedSample is a sample with its 1-based position in history.
type SequencedSample struct {
	Seq    int
	Sample telemetry.TrainingSample
}

// SessionModelOptions holds the tunables of a SessionModel
type SessionModelOptions struct {
	ChartPoints  int
	RawTailBytes int
}

// SessionModel receives everything the pipeline produces and exposes it as
// read models plus change events. History is append-only for the lifetime
// of the model; reconnecting starts a new Session but keeps earlier samples.
type SessionModel struct {
	uiStateEvent          *events.ChannelEvent[UIState]
	uiState               UIState
	statusEvent           *events.ChannelEvent[ConnectionStatus]
	status                ConnectionStatus
	sampleEvent           *events.ChannelEvent[telemetry.TrainingSample]
	sampleCallbacks       *events.CallbackEvent[SequencedSample]
	current               telemetry.TrainingSample
	hasCurrent            bool
	history               []telemetry.TrainingSample
	sessionsEvent         *events.ChannelEvent[[]Session]
	sessions              []Session
	errorEvent            *events.ChannelEvent[string]
	errorCallbacks        *events.CallbackEvent[string]
	lastError             string
	rawEvent              *events.ChannelEvent[string]
	raw                   string
	rawTailBytes          int
	portsEvent            *events.ChannelEvent[[]serialport.PortInfo]
	ports                 []serialport.PortInfo
	chartPointsEvent      *events.ChannelEvent[int]
	chartPoints           int
	closeApplicationEvent *events.ChannelEvent[struct{}]
	logEvent              *events.ChannelEvent[string]
	logLines              []string
	logMu                 sync.RWMutex
	mu                    sync.RWMutex
	ctx                   context.Context
	cancel                context.CancelFunc
	wg                    sync.WaitGroup
	logger                *log.Logger
}

func NewSessionModel(logger *log.Logger, uiLogChan <-chan string, opts SessionModelOptions) *SessionModel {
	if logger == nil {
		panic("SessionModel: logger cannot be nil")
	}
	if uiLogChan == nil {
		panic("SessionModel: uiLogChan cannot be nil")
	}
	if opts.ChartPoints <= 0 {
		opts.ChartPoints = DefaultChartPoints
	}
	if opts.RawTailBytes <= 0 {
		opts.RawTailBytes = DefaultRawTailBytes
	}

	ctx, cancel := context.WithCancel(context.Background())
	model := &SessionModel{
		uiStateEvent:          events.NewChannelEvent[UIState](true),
		uiState:               UIState{Mode: UIModeDashboard},
		statusEvent:           events.NewChannelEvent[ConnectionStatus](true),
		sampleEvent:           events.NewChannelEvent[telemetry.TrainingSample](false),
		sampleCallbacks:       events.NewCallbackEvent[SequencedSample](false),
		history:               make([]telemetry.TrainingSample, 0, 256),
		sessionsEvent:         events.NewChannelEvent[[]Session](true),
		errorEvent:            events.NewChannelEvent[string](true),
		errorCallbacks:        events.NewCallbackEvent[string](false),
		rawEvent:              events.NewChannelEvent[string](false),
		rawTailBytes:          opts.RawTailBytes,
		portsEvent:            events.NewChannelEvent[[]serialport.PortInfo](true),
		chartPointsEvent:      events.NewChannelEvent[int](true),
		chartPoints:           opts.ChartPoints,
		closeApplicationEvent: events.NewChannelEvent[struct{}](true),
		logEvent:              events.NewChannelEvent[string](false),
		logLines:              make([]string, 0, maxLogLines),
		ctx:                   ctx,
		cancel:                cancel,
		logger:                logger,
	}

	// Seed the replaying events so late listeners start from the initial state
	model.uiStateEvent.Notify(model.uiState)
	model.statusEvent.Notify(model.status)
	model.chartPointsEvent.Notify(model.chartPoints)

	// Read from the UI log channel and populate logLines
	go_func_utils.SafeGoTracked(model.logger, &model.wg, func() { model.readFromLogChannel(ctx, uiLogChan) })

	return model
}

// Shutdown stops all goroutines and waits for them to finish
func (m *SessionModel) Shutdown() {
	m.logger.Println("SessionModel: Shutting down")
	m.cancel()
	m.wg.Wait()
	m.logger.Println("SessionModel: Shutdown complete")
}

// --- samples ---

// AppendSample makes sample the current one and appends it to history.
func (m *SessionModel) AppendSample(sample telemetry.TrainingSample) {
	m.mu.Lock()
	m.current = sample
	m.hasCurrent = true
	m.history = append(m.history, sample)
	seq := len(m.history)
	if n := len(m.sessions); n > 0 && m.sessions[n-1].Active() {
		m.sessions[n-1].SampleCount++
	}
	m.mu.Unlock()

	m.sampleEvent.Notify(sample)
	m.sampleCallbacks.Notify(SequencedSample{Seq: seq, Sample: sample})
}

// Current returns the most recent sample, if any has arrived.
func (m *SessionModel) Current() (telemetry.TrainingSample, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current, m.hasCurrent
}

// History returns a copy of every sample in arrival order.
func (m *SessionModel) History() []telemetry.TrainingSample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]telemetry.TrainingSample, len(m.history))
	copy(result, m.history)
	return result
}

// HistoryTail returns the last n samples.
func (m *SessionModel) HistoryTail(n int) []telemetry.TrainingSample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n <= 0 {
		return []telemetry.TrainingSample{}
	}
	if n > len(m.history) {
		n = len(m.history)
	}
	result := make([]telemetry.TrainingSample, n)
	copy(result, m.history[len(m.history)-n:])
	return result
}

// ListenToSamples registers a channel to receive each new sample.
// Returns a deregistration function that can be called to remove the listener
func (m *SessionModel) ListenToSamples(ch chan<- telemetry.TrainingSample) func() {
	return m.sampleEvent.Listen(ch)
}

// OnSample registers a callback run synchronously for every sample. Unlike
// channel listeners it never drops a sample, so fn must return quickly.
func (m *SessionModel) OnSample(fn func(telemetry.TrainingSample)) func() {
	return m.sampleCallbacks.Listen(func(s SequencedSample) { fn(s.Sample) })
}

// OnSequencedSample is OnSample with the sample's position in history, so a
// consumer that started from a Snapshot can skip samples it already has.
func (m *SessionModel) OnSequencedSample(fn func(SequencedSample)) func() {
	return m.sampleCallbacks.Listen(fn)
}

// --- sessions ---

// BeginSession starts a new Session whose samples begin at the current end
// of history. An active session is ended first.
func (m *SessionModel) BeginSession(id string, port serialport.PortInfo, startedAt time.Time) Session {
	m.mu.Lock()
	m.endActiveLocked(startedAt)
	session := Session{
		ID:          id,
		Port:        port,
		StartedAt:   startedAt,
		FirstSample: len(m.history),
	}
	m.sessions = append(m.sessions, session)
	snapshot := m.sessionsLocked()
	m.mu.Unlock()

	m.sessionsEvent.Notify(snapshot)
	return session
}

// EndSession stamps the active session as ended. Without one it does nothing.
func (m *SessionModel) EndSession(endedAt time.Time) {
	m.mu.Lock()
	if !m.endActiveLocked(endedAt) {
		m.mu.Unlock()
		return
	}
	snapshot := m.sessionsLocked()
	m.mu.Unlock()

	m.sessionsEvent.Notify(snapshot)
}

// endActiveLocked must be called with mu held
func (m *SessionModel) endActiveLocked(at time.Time) bool {
	n := len(m.sessions)
	if n == 0 || !m.sessions[n-1].Active() {
		return false
	}
	m.sessions[n-1].EndedAt = &at
	return true
}

// sessionsLocked must be called with mu held
func (m *SessionModel) sessionsLocked() []Session {
	result := make([]Session, len(m.sessions))
	for i, s := range m.sessions {
		if s.EndedAt != nil {
			ended := *s.EndedAt
			s.EndedAt = &ended
		}
		result[i] = s
	}
	return result
}

func (m *SessionModel) Sessions() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessionsLocked()
}

// ListenToSessions registers a channel to receive the session list on change
// Returns a deregistration function that can be called to remove the listener
func (m *SessionModel) ListenToSessions(ch chan<- []Session) func() {
	return m.sessionsEvent.Listen(ch)
}

// --- connection status ---

func (m *SessionModel) SetConnectionStatus(status ConnectionStatus) {
	m.mu.Lock()
	if m.status == status {
		m.mu.Unlock()
		return
	}
	m.status = status
	m.mu.Unlock()

	m.statusEvent.Notify(status)
}

func (m *SessionModel) ConnectionStatus() ConnectionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// ListenToConnectionStatus registers a channel to receive status changes
// Returns a deregistration function that can be called to remove the listener
func (m *SessionModel) ListenToConnectionStatus(ch chan<- ConnectionStatus) func() {
	return m.statusEvent.Listen(ch)
}

// --- error slot ---

// ReportError overwrites the error slot with err's text.
func (m *SessionModel) ReportError(err error) {
	if err == nil {
		return
	}
	m.setError(err.Error())
}

// ClearError empties the error slot.
func (m *SessionModel) ClearError() {
	m.setError("")
}

func (m *SessionModel) setError(msg string) {
	m.mu.Lock()
	if m.lastError == msg && msg == "" {
		m.mu.Unlock()
		return
	}
	m.lastError = msg
	m.mu.Unlock()

	m.errorEvent.Notify(msg)
	m.errorCallbacks.Notify(msg)
}

// LastError returns the most recent error text, or "" when cleared.
func (m *SessionModel) LastError() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// ListenToError registers a channel to receive the error slot on change
// Returns a deregistration function that can be called to remove the listener
func (m *SessionModel) ListenToError(ch chan<- string) func() {
	return m.errorEvent.Listen(ch)
}

// OnError registers a callback run synchronously whenever the slot changes.
func (m *SessionModel) OnError(fn func(string)) func() {
	return m.errorCallbacks.Listen(fn)
}

// --- raw debug feed ---

// AppendRaw adds decoded text to the raw tail, dropping the oldest text
// beyond the configured size.
func (m *SessionModel) AppendRaw(text string) {
	if text == "" {
		return
	}
	m.mu.Lock()
	m.raw += text
	if excess := len(m.raw) - m.rawTailBytes; excess > 0 {
		cut := excess
		for cut < len(m.raw) && !utf8.RuneStart(m.raw[cut]) {
			cut++
		}
		m.raw = m.raw[cut:]
	}
	m.mu.Unlock()

	m.rawEvent.Notify(text)
}

func (m *SessionModel) RawTail() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.raw
}

// ListenToRaw registers a channel to receive each decoded chunk
// Returns a deregistration function that can be called to remove the listener
func (m *SessionModel) ListenToRaw(ch chan<- string) func() {
	return m.rawEvent.Listen(ch)
}

// --- ports ---

func (m *SessionModel) SetPorts(ports []serialport.PortInfo) {
	m.mu.Lock()
	m.ports = append([]serialport.PortInfo(nil), ports...)
	snapshot := append([]serialport.PortInfo(nil), m.ports...)
	m.mu.Unlock()

	m.portsEvent.Notify(snapshot)
}

func (m *SessionModel) Ports() []serialport.PortInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]serialport.PortInfo(nil), m.ports...)
}

// ListenToPorts registers a channel to receive the port list on change
// Returns a deregistration function that can be called to remove the listener
func (m *SessionModel) ListenToPorts(ch chan<- []serialport.PortInfo) func() {
	return m.portsEvent.Listen(ch)
}

// --- chart ---

func (m *SessionModel) SetChartPoints(n int) {
	if n <= 0 {
		n = DefaultChartPoints
	}
	m.mu.Lock()
	if m.chartPoints == n {
		m.mu.Unlock()
		return
	}
	m.chartPoints = n
	m.mu.Unlock()

	m.chartPointsEvent.Notify(n)
}

func (m *SessionModel) ChartPoints() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.chartPoints
}

// ListenToChartPoints registers a channel to receive chart size changes
// Returns a deregistration function that can be called to remove the listener
func (m *SessionModel) ListenToChartPoints(ch chan<- int) func() {
	return m.chartPointsEvent.Listen(ch)
}

// --- UI state ---

// ListenToUIState registers a channel to receive UI state changes
// Returns a deregistration function that can be called to remove the listener
func (m *SessionModel) ListenToUIState(ch chan<- UIState) func() {
	return m.uiStateEvent.Listen(ch)
}

// GetUIState returns the current UI state
func (m *SessionModel) GetUIState() UIState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.uiState
}

// SetMode updates the current UI mode and notifies listeners
func (m *SessionModel) SetMode(mode UIMode) {
	m.mu.Lock()
	if m.uiState.Mode == mode {
		m.mu.Unlock()
		return
	}
	m.uiState.Mode = mode
	state := m.uiState
	m.mu.Unlock()

	m.uiStateEvent.Notify(state)
}

// ListenToCloseApplication registers a channel to receive close application signals
// Returns a deregistration function that can be called to remove the listener
func (m *SessionModel) ListenToCloseApplication(ch chan<- struct{}) func() {
	return m.closeApplicationEvent.Listen(ch)
}

// RequestCloseApplication signals that the application should close
func (m *SessionModel) RequestCloseApplication() {
	m.closeApplicationEvent.Notify(struct{}{})
}

// --- snapshot ---

func (m *SessionModel) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		Status:   m.status,
		History:  make([]telemetry.TrainingSample, len(m.history)),
		Sessions: m.sessionsLocked(),
		Error:    m.lastError,
		Seq:      len(m.history),
	}
	copy(snap.History, m.history)
	if m.hasCurrent {
		current := m.current
		snap.Current = &current
	}
	return snap
}

// --- log tail ---

// ListenToLog registers a channel to receive log messages
// Returns a deregistration function that can be called to remove the listener
func (m *SessionModel) ListenToLog(ch chan<- string) func() {
	return m.logEvent.Listen(ch)
}

// readFromLogChannel reads log lines from the channel and populates logLines
func (m *SessionModel) readFromLogChannel(ctx context.Context, logChan <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-logChan:
			if !ok {
				return
			}

			m.logMu.Lock()
			m.logLines = append(m.logLines, line)
			if len(m.logLines) > maxLogLines {
				m.logLines = m.logLines[len(m.logLines)-maxLogLines:]
			}
			m.logMu.Unlock()

			m.logEvent.Notify(line)
		}
	}
}

// GetLogTail returns the last n lines of logs
func (m *SessionModel) GetLogTail(n int) []string {
	m.logMu.RLock()
	defer m.logMu.RUnlock()

	if n <= 0 {
		return []string{}
	}
	if n > len(m.logLines) {
		n = len(m.logLines)
	}
	result := make([]string, n)
	copy(result, m.logLines[len(m.logLines)-n:])
	return result
}
