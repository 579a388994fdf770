package monitor

// ViewImpl defines the interface for framework-specific UI implementations
type ViewImpl interface {
	// Initialize is called after construction to set up framework-specific widgets
	// controller is used to handle UI events
	Initialize(controller *Controller)

	// SetupKeyboardHandlers sets up keyboard event handlers
	// controller is used to handle keyboard events
	SetupKeyboardHandlers(controller *Controller)

	// Run starts the UI framework and blocks until it exits
	Run() error

	// Stop stops the UI framework
	Stop()

	// Draw refreshes/redraws the UI
	Draw() error

	// --- Mode Management ---

	// SetMode switches the UI to the specified mode
	SetMode(mode UIMode)

	// GetCurrentMode returns the currently active UI mode
	GetCurrentMode() UIMode

	// --- Log View (shared across modes) ---

	// GetLogViewHeight returns the visible height of the log view
	GetLogViewHeight() int

	// ClearLogView clears the log view
	ClearLogView()

	// WriteLogLine writes a line to the log view
	WriteLogLine(line string) error

	// --- Status bar (shared across modes) ---

	// UpdateStatus shows the connection state and the error slot
	UpdateStatus(status ConnectionStatus, errText string)

	// --- Dashboard Mode ---

	// UpdateCurrent shows the latest sample as formatted fields, in the
	// order of DashboardFields
	UpdateCurrent(fields []string)

	// UpdateChart renders average heart rate, oldest first. Absent values
	// are negative.
	UpdateChart(points []int64)

	// --- History Mode ---

	// SetHistory replaces the history rows, oldest first
	SetHistory(rows []string)

	// --- Ports Mode ---

	// SetPortList replaces the selectable port rows
	SetPortList(items []string)

	// --- Debug Mode ---

	// SetRawText replaces the raw feed text
	SetRawText(text string)
}
