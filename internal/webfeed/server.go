package webfeed

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lowaak/grapple-monitor/internal/go_func_utils"
	"github.com/lowaak/grapple-monitor/internal/monitor"
	"github.com/lowaak/grapple-monitor/internal/telemetry"
)

//go:embed static/index.html
var indexPage []byte

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	clientSendSize = 64
)

// Event types sent over /ws
const (
	EventSnapshot = "snapshot"
	EventSample   = "sample"
	EventState    = "state"
	EventError    = "error"
)

// Event is one message on the browser stream. Exactly one payload field is
// set, matching Type.
type Event struct {
	Type     string                    `json:"type"`
	Snapshot *monitor.Snapshot         `json:"snapshot,omitempty"`
	Sample   *telemetry.TrainingSample `json:"sample,omitempty"`
	Status   *monitor.ConnectionStatus `json:"status,omitempty"`
	Error    *string                   `json:"error,omitempty"`
	// Seq is the sample's position in history; see monitor.Snapshot.Seq
	Seq      int                       `json:"seq,omitempty"`
}

// Server is a read-only browser view of a SessionModel.
type Server struct {
	model    *monitor.SessionModel
	logger   *log.Logger
	addr     string
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}

	httpServer *http.Server
	listener   net.Listener

	unregister []func()
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewServerArg holds the arguments for creating a new Server
type NewServerArg struct {
	Model  *monitor.SessionModel
	Logger *log.Logger
	// Addr is the listen address used by Start, e.g. "127.0.0.1:8090".
	Addr string
}

func NewServer(arg NewServerArg) *Server {
	if arg.Model == nil {
		panic("webfeed.Server: model cannot be nil")
	}
	if arg.Logger == nil {
		panic("webfeed.Server: logger cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		model:   arg.Model,
		logger:  arg.Logger,
		addr:    arg.Addr,
		clients: make(map[*client]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
	}

	// Samples and errors are pushed from the pipeline so none are missed
	s.unregister = append(s.unregister,
		s.model.OnSequencedSample(func(ss monitor.SequencedSample) {
			s.broadcast(Event{Type: EventSample, Sample: &ss.Sample, Seq: ss.Seq})
		}),
		s.model.OnError(func(text string) {
			s.broadcast(Event{Type: EventError, Error: &text})
		}),
	)

	statusChan := make(chan monitor.ConnectionStatus, 4)
	statusUnregister := s.model.ListenToConnectionStatus(statusChan)
	go_func_utils.SafeGoTracked(s.logger, &s.wg, func() {
		defer statusUnregister()
		for {
			select {
			case <-s.ctx.Done():
				return
			case status := <-statusChan:
				s.broadcast(Event{Type: EventState, Status: &status})
			}
		}
	})

	return s
}

// Handler serves the page, the snapshot API and the event stream.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/session", s.handleSession)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go_func_utils.SafeGoTracked(s.logger, &s.wg, func() {
		s.logger.Printf("webfeed: serving on http://%s", listener.Addr())
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("webfeed: server error: %v", err)
		}
	})
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Shutdown disconnects every browser and stops the HTTP server.
func (s *Server) Shutdown() {
	s.logger.Println("webfeed: Shutting down")
	for _, fn := range s.unregister {
		fn()
	}
	s.cancel()

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Printf("webfeed: error shutting down server: %v", err)
		}
	}

	s.mu.Lock()
	for c := range s.clients {
		c.close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Println("webfeed: Shutdown complete")
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexPage)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.model.Snapshot()); err != nil {
		s.logger.Printf("webfeed: encoding snapshot: %v", err)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("webfeed: upgrade failed: %v", err)
		return
	}

	c := newClient(conn)

	// Register and queue the snapshot under one lock so no broadcast can
	// overtake it
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		conn.Close()
		return
	}
	snapshot := s.model.Snapshot()
	c.seq = snapshot.Seq
	c.enqueue(mustEncode(Event{Type: EventSnapshot, Snapshot: &snapshot}))
	s.clients[c] = struct{}{}
	count := len(s.clients)
	s.mu.Unlock()

	s.logger.Printf("webfeed: browser connected from %s (%d open)", r.RemoteAddr, count)

	go_func_utils.SafeGoTracked(s.logger, &s.wg, func() { s.writePump(c) })
	go_func_utils.SafeGoTracked(s.logger, &s.wg, func() { s.readPump(c) })
}

func (s *Server) broadcast(ev Event) {
	data := mustEncode(ev)

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		// the snapshot already held this sample
		if ev.Type == EventSample && ev.Seq <= c.seq {
			continue
		}
		if !c.enqueue(data) {
			s.logger.Printf("webfeed: dropping slow browser %s", c.conn.RemoteAddr())
			s.removeLocked(c)
		}
	}
}

// removeLocked must be called with mu held
func (s *Server) removeLocked(c *client) {
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	c.close()
}

func (s *Server) remove(c *client) {
	s.mu.Lock()
	s.removeLocked(c)
	s.mu.Unlock()
}

// readPump discards whatever the browser sends; it exists to notice the
// connection going away and to process pongs.
func (s *Server) readPump(c *client) {
	defer s.remove(c)

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.remove(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.remove(c)
				return
			}
		}
	}
}

func mustEncode(ev Event) []byte {
	data, err := json.Marshal(ev)
	if err != nil {
		panic("webfeed: encoding event: " + err.Error())
	}
	return data
}
