package monitor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lowaak/grapple-monitor/internal/go_func_utils"
	"github.com/lowaak/grapple-monitor/internal/serialport"
	"github.com/lowaak/grapple-monitor/internal/telemetry"
)

// DashboardFields are the labels of the values passed to UpdateCurrent
var DashboardFields = []string{
	"Duration",
	"Max BPM",
	"Min BPM",
	"Avg BPM",
	"Max Force",
	"Score A",
	"Score B",
	"Captured",
}

// BaseView contains the logic shared by all UI implementations: it turns
// model events into ViewImpl calls. Each listener re-reads the model rather
// than trusting the event payload, so a dropped event only delays a redraw.
type BaseView struct {
	viewImpl   ViewImpl
	model      *SessionModel
	controller *Controller
	context    context.Context
	cancelFunc context.CancelFunc
	waitGroup  sync.WaitGroup
	logger     *log.Logger
}

// NewBaseViewArg holds the arguments for creating a new BaseView
type NewBaseViewArg struct {
	ViewImpl   ViewImpl
	Model      *SessionModel
	Controller *Controller
	Logger     *log.Logger
}

// NewBaseView creates a new BaseView with the given implementation
func NewBaseView(args NewBaseViewArg) *BaseView {
	if args.Logger == nil {
		panic("BaseView: logger cannot be nil")
	}
	if args.ViewImpl == nil {
		panic("BaseView: ViewImpl cannot be nil")
	}
	if args.Model == nil {
		panic("BaseView: Model cannot be nil")
	}
	if args.Controller == nil {
		panic("BaseView: Controller cannot be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())

	base := &BaseView{
		viewImpl:   args.ViewImpl,
		model:      args.Model,
		controller: args.Controller,
		context:    ctx,
		cancelFunc: cancel,
		logger:     args.Logger,
	}

	// Initialize framework-specific widgets
	args.ViewImpl.Initialize(args.Controller)

	// Set up keyboard handlers
	args.ViewImpl.SetupKeyboardHandlers(args.Controller)

	args.ViewImpl.SetMode(args.Model.GetUIState().Mode)

	// Set up periodic resize check and initial display
	go_func_utils.SafeGoTracked(base.logger, &base.waitGroup, func() { base.monitorLogResize() })
	base.updateLogDisplay()
	base.updateStatus()
	base.updateSamples()
	base.updatePorts()

	base.setupEventListeners()

	return base
}

// watch runs onEvent for every value delivered on a fresh listener channel
// until the view shuts down.
func watch[T any](base *BaseView, listen func(chan<- T) func(), onEvent func(T)) {
	ch := make(chan T, 1)
	unregister := listen(ch)
	go_func_utils.SafeGoTracked(base.logger, &base.waitGroup, func() {
		defer unregister()
		for {
			select {
			case <-base.context.Done():
				return
			case v, ok := <-ch:
				if !ok {
					return
				}
				onEvent(v)
			}
		}
	})
}

func (base *BaseView) setupEventListeners() {
	// When a new log arrives, update the display to show the tail
	watch(base, base.model.ListenToLog, func(string) {
		base.updateLogDisplay()
	})

	watch(base, base.model.ListenToConnectionStatus, func(ConnectionStatus) {
		base.updateStatus()
		base.draw()
	})

	watch(base, base.model.ListenToError, func(string) {
		base.updateStatus()
		base.draw()
	})

	watch(base, base.model.ListenToSamples, func(telemetry.TrainingSample) {
		base.updateSamples()
		base.draw()
	})

	// Session boundaries change the history labels
	watch(base, base.model.ListenToSessions, func([]Session) {
		base.updateSamples()
		base.draw()
	})

	watch(base, base.model.ListenToChartPoints, func(int) {
		base.updateChart()
		base.draw()
	})

	watch(base, base.model.ListenToPorts, func([]serialport.PortInfo) {
		base.updatePorts()
		base.draw()
	})

	watch(base, base.model.ListenToRaw, func(string) {
		base.viewImpl.SetRawText(base.model.RawTail())
		base.draw()
	})

	watch(base, base.model.ListenToUIState, func(state UIState) {
		base.viewImpl.SetMode(state.Mode)
		base.draw()
	})

	// Listen to close application event from model
	closeChan := make(chan struct{}, 1)
	closeUnregister := base.model.ListenToCloseApplication(closeChan)
	go_func_utils.SafeGoTracked(base.logger, &base.waitGroup, func() {
		defer closeUnregister()
		select {
		case <-base.context.Done():
			return
		case _, ok := <-closeChan:
			if !ok {
				return
			}
			base.viewImpl.Stop()
		}
	})
}

func (base *BaseView) draw() {
	if err := base.viewImpl.Draw(); err != nil {
		base.logger.Printf("BaseView: Error drawing: %v", err)
	}
}

func (base *BaseView) updateStatus() {
	base.viewImpl.UpdateStatus(base.model.ConnectionStatus(), base.model.LastError())
}

func (base *BaseView) updateSamples() {
	if current, ok := base.model.Current(); ok {
		base.viewImpl.UpdateCurrent(formatCurrent(current))
	}
	base.viewImpl.SetHistory(formatHistoryRows(base.model.History(), base.model.Sessions()))
	base.updateChart()
}

func (base *BaseView) updateChart() {
	base.viewImpl.UpdateChart(chartPoints(base.model.HistoryTail(base.model.ChartPoints())))
}

func (base *BaseView) updatePorts() {
	ports := base.model.Ports()
	items := make([]string, 0, len(ports))
	for _, p := range ports {
		items = append(items, p.String())
	}
	base.viewImpl.SetPortList(items)
}

func (base *BaseView) updateLogDisplay() {
	// Get the visible height of the log view
	height := base.viewImpl.GetLogViewHeight()
	if height <= 0 {
		return
	}

	// Get the tail of logs that fit in the visible area
	logLines := base.model.GetLogTail(height)

	// Clear and update the log view
	base.viewImpl.ClearLogView()
	for _, line := range logLines {
		if err := base.viewImpl.WriteLogLine(line); err != nil {
			base.logger.Printf("BaseView: Error writing to log view: %v", err)
		}
	}
}

func (base *BaseView) monitorLogResize() {
	var lastHeight int
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-base.context.Done():
			return
		case <-ticker.C:
			height := base.viewImpl.GetLogViewHeight()
			if height != lastHeight && height > 0 {
				lastHeight = height
				base.updateLogDisplay()
				base.draw()
			}
		}
	}
}

// Shutdown stops all goroutines and waits for them to finish
func (base *BaseView) Shutdown() {
	base.logger.Println("BaseView: Shutting down")
	base.cancelFunc()
	base.waitGroup.Wait()
	base.logger.Println("BaseView: Shutdown complete")
}

// Run starts the UI and blocks until it exits
func (base *BaseView) Run() error {
	return base.viewImpl.Run()
}

func formatCurrent(s telemetry.TrainingSample) []string {
	return []string{
		formatSeconds(s.Duration),
		s.HeartRateMax.String(),
		s.HeartRateMin.String(),
		s.HeartRateAvg.String(),
		s.MaxForce.String(),
		s.ScoreA.String(),
		s.ScoreB.String(),
		s.CapturedAt.Format("15:04:05"),
	}
}

func formatSeconds(m telemetry.Metric[float64]) string {
	if !m.Present() {
		return m.String()
	}
	return m.String() + "s"
}

// formatHistoryRows renders one row per sample, numbered within the session
// it arrived in.
func formatHistoryRows(history []telemetry.TrainingSample, sessions []Session) []string {
	rows := make([]string, 0, len(history))
	for i, s := range history {
		label := fmt.Sprintf("Sample %d", i+1)
		for n, sess := range sessions {
			if i >= sess.FirstSample && i < sess.FirstSample+sess.SampleCount {
				label = fmt.Sprintf("Session %d #%d", n+1, i-sess.FirstSample+1)
				break
			}
		}
		rows = append(rows, fmt.Sprintf("%s - %s | Duration: %s | Avg BPM: %s | Force: %s | A: %s | B: %s",
			label,
			s.CapturedAt.Format("15:04:05"),
			formatSeconds(s.Duration),
			s.HeartRateAvg.String(),
			s.MaxForce.String(),
			s.ScoreA.String(),
			s.ScoreB.String(),
		))
	}
	return rows
}

func chartPoints(samples []telemetry.TrainingSample) []int64 {
	points := make([]int64, len(samples))
	for i, s := range samples {
		points[i] = s.HeartRateAvg.Or(-1)
	}
	return points
}
