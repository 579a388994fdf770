package monitor

import (
	"fmt"
	"log"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Page names for tview.Pages
const (
	pageDashboard = "dashboard"
	pageHistory   = "history"
	pagePorts     = "ports"
	pageDebug     = "debug"
)

var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

// CursesViewImpl implements ViewImpl using tview (curses-based terminal UI)
type CursesViewImpl struct {
	logger      *log.Logger
	app         *tview.Application
	currentMode UIMode

	// Root container that holds all pages
	pages *tview.Pages

	// Shared components (visible in all modes)
	statusBar *tview.TextView
	logView   *tview.TextView
	mainFlex  *tview.Flex

	// Dashboard mode components
	dashboardFlex       *tview.Flex
	dashboardTabWidgets []*tview.Box
	vitalsPanel         *tview.TextView
	chartPanel          *tview.TextView

	// History mode components
	historyList *tview.List

	// Ports mode components
	portsFlex       *tview.Flex
	portsTabWidgets []*tview.Box
	portList        *tview.List

	// Debug mode components
	rawView *tview.TextView
}

func NewCursesView(logger *log.Logger, app *tview.Application) *CursesViewImpl {
	return &CursesViewImpl{
		logger:      logger,
		app:         app,
		currentMode: UIModeDashboard,
	}
}

var _ ViewImpl = (*CursesViewImpl)(nil)

// Initialize sets up the tview widgets
func (ui *CursesViewImpl) Initialize(controller *Controller) {
	// Don't use SetChangedFunc with app.Draw(): it can hang during shutdown.
	// BaseView calls Draw() after updating content.
	ui.logView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)
	ui.logView.SetBorder(true).SetTitle(" Logs ")

	ui.statusBar = tview.NewTextView().
		SetDynamicColors(true)
	ui.UpdateStatus(ConnectionStatus{State: Disconnected}, "")

	ui.pages = tview.NewPages()

	ui.initDashboardMode()
	ui.initHistoryMode()
	ui.initPortsMode(controller)
	ui.initDebugMode()

	ui.pages.AddPage(pageDashboard, ui.dashboardFlex, true, true)
	ui.pages.AddPage(pageHistory, ui.historyList, true, false)
	ui.pages.AddPage(pagePorts, ui.portsFlex, true, false)
	ui.pages.AddPage(pageDebug, ui.rawView, true, false)

	// Mode content on the left, logs on the right, status along the bottom
	body := tview.NewFlex().
		AddItem(ui.pages, 0, 2, true).
		AddItem(ui.logView, 0, 1, false)
	ui.mainFlex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(body, 0, 1, true).
		AddItem(ui.statusBar, 2, 0, false)

	ui.setFocusForCurrentMode()
}

func (ui *CursesViewImpl) initDashboardMode() {
	ui.vitalsPanel = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	ui.vitalsPanel.SetBorder(true).SetTitle(" Vitals ")
	ui.UpdateCurrent(nil)

	ui.chartPanel = tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	ui.chartPanel.SetBorder(true).SetTitle(" Avg Heart Rate ")
	ui.UpdateChart(nil)

	ui.dashboardTabWidgets = append(ui.dashboardTabWidgets, ui.vitalsPanel.Box, ui.chartPanel.Box)

	ui.dashboardFlex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(ui.vitalsPanel, 0, 3, true).
		AddItem(ui.chartPanel, 0, 2, false)
}

func (ui *CursesViewImpl) initHistoryMode() {
	ui.historyList = tview.NewList().
		ShowSecondaryText(false).
		SetHighlightFullLine(true)
	ui.historyList.SetBorder(true).SetTitle(" History ")
}

func (ui *CursesViewImpl) initPortsMode(controller *Controller) {
	instructionsText := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	instructionsText.SetText("[yellow]Enter[white] Connect  |  [yellow]A[white] Auto-select  |  [yellow]D[white] Disconnect  |  [yellow]R[white] Refresh\n[yellow]1[white] Dashboard  |  [yellow]2[white] History  |  [yellow]3[white] Ports  |  [yellow]4[white] Debug")

	ui.portList = tview.NewList().
		ShowSecondaryText(false).
		SetSelectedFunc(func(index int, mainText, secondaryText string, shortcut rune) {
			ui.logger.Printf("UI: Port selected: index=%d, text=%s", index, mainText)
			controller.ConnectSelected(index)
		})
	ui.portList.SetBorder(true).SetTitle(" Serial Ports ")

	ui.portsTabWidgets = append(ui.portsTabWidgets, ui.portList.Box)

	ui.portsFlex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(instructionsText, 2, 0, false).
		AddItem(ui.portList, 0, 1, true)
}

func (ui *CursesViewImpl) initDebugMode() {
	ui.rawView = tview.NewTextView().
		SetScrollable(true).
		SetWrap(true)
	ui.rawView.SetBorder(true).SetTitle(" Raw Serial ")
}

// SetMode switches the UI to the specified mode
func (ui *CursesViewImpl) SetMode(mode UIMode) {
	if ui.currentMode == mode {
		return
	}

	ui.currentMode = mode

	switch mode {
	case UIModeDashboard:
		ui.pages.SwitchToPage(pageDashboard)
	case UIModeHistory:
		ui.pages.SwitchToPage(pageHistory)
	case UIModePorts:
		ui.pages.SwitchToPage(pagePorts)
	case UIModeDebug:
		ui.pages.SwitchToPage(pageDebug)
	}

	ui.setFocusForCurrentMode()
	ui.app.Draw()
}

// GetCurrentMode returns the currently active UI mode
func (ui *CursesViewImpl) GetCurrentMode() UIMode {
	return ui.currentMode
}

// getTabWidgetsForCurrentMode returns the tab widgets for the current mode
func (ui *CursesViewImpl) getTabWidgetsForCurrentMode() []*tview.Box {
	switch ui.currentMode {
	case UIModeDashboard:
		return ui.dashboardTabWidgets
	case UIModeHistory:
		return []*tview.Box{ui.historyList.Box}
	case UIModePorts:
		return ui.portsTabWidgets
	case UIModeDebug:
		return []*tview.Box{ui.rawView.Box}
	default:
		return nil
	}
}

// setFocusForCurrentMode sets focus to the first widget in the current mode
func (ui *CursesViewImpl) setFocusForCurrentMode() {
	if widgets := ui.getTabWidgetsForCurrentMode(); len(widgets) > 0 {
		ui.app.SetFocus(widgets[0])
	}
}

// SetupKeyboardHandlers sets up keyboard event handlers
func (ui *CursesViewImpl) SetupKeyboardHandlers(controller *Controller) {
	ui.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyRune {
			if mode, ok := GetUIModeByKey(event.Rune()); ok {
				// Delegate to controller - it will update the model, which will notify us
				controller.OnModeChange(mode)
				return nil
			}
		}

		// Tab to switch focus between widgets in current mode
		if event.Key() == tcell.KeyTab {
			widgets := ui.getTabWidgetsForCurrentMode()
			for i, w := range widgets {
				if w.HasFocus() {
					ui.app.SetFocus(widgets[(i+1)%len(widgets)])
					break
				}
			}
			return nil
		}

		// Escape to quit
		if event.Key() == tcell.KeyEscape {
			controller.OnEscapeKey()
			return nil
		}

		if event.Key() != tcell.KeyRune {
			return event
		}

		switch event.Rune() {
		case 'c':
			controller.ToggleConnection()
			return nil
		case 'd':
			controller.Disconnect()
			return nil
		}

		if ui.currentMode == UIModePorts {
			switch event.Rune() {
			case 'a':
				controller.Connect("")
				return nil
			case 'r':
				controller.RefreshPorts()
				return nil
			}
		}

		return event
	})
}

// GetLogViewHeight returns the visible height of the log view
func (ui *CursesViewImpl) GetLogViewHeight() int {
	_, _, _, height := ui.logView.GetInnerRect()
	return height
}

// ClearLogView clears the log view
func (ui *CursesViewImpl) ClearLogView() {
	ui.logView.Clear()
}

// WriteLogLine writes a line to the log view
func (ui *CursesViewImpl) WriteLogLine(line string) error {
	_, err := fmt.Fprint(ui.logView, tview.Escape(line))
	return err
}

// UpdateStatus shows connection state and the error slot in the status bar
func (ui *CursesViewImpl) UpdateStatus(status ConnectionStatus, errText string) {
	var color string
	switch status.State {
	case Connected:
		color = "green"
	case Connecting, Disconnecting:
		color = "yellow"
	default:
		color = "gray"
	}

	text := fmt.Sprintf(" [%s]●[white] %s", color, status.State)
	if status.Port.Name != "" && status.State != Disconnected {
		text += "  " + tview.Escape(status.Port.String())
	}
	text += "  |  [yellow]c[white] Connect/Disconnect  [yellow]Esc[white] Quit"
	if errText != "" {
		text += fmt.Sprintf("\n [red]%s[white]", tview.Escape(errText))
	}
	ui.statusBar.SetText(text)
}

// UpdateCurrent shows the latest sample in the vitals panel
func (ui *CursesViewImpl) UpdateCurrent(fields []string) {
	if ui.vitalsPanel == nil {
		return
	}

	if len(fields) == 0 {
		ui.vitalsPanel.SetText("\n\n  [yellow]Grapple Monitor[white]\n\n  Press [yellow]c[white] to connect, or pick a port in Ports mode (press 3).")
		return
	}

	var b strings.Builder
	b.WriteString("\n")
	for i, label := range DashboardFields {
		if i >= len(fields) {
			break
		}
		fmt.Fprintf(&b, "  [gray]%-10s[white] [yellow]%s[white]\n\n", label+":", fields[i])
	}
	ui.vitalsPanel.SetText(b.String())
}

// UpdateChart draws a sparkline of the points scaled to their own range
func (ui *CursesViewImpl) UpdateChart(points []int64) {
	if ui.chartPanel == nil {
		return
	}
	if len(points) == 0 {
		ui.chartPanel.SetText("\n  [gray]Waiting for data...[white]")
		return
	}
	ui.chartPanel.SetText(renderSparkline(points))
}

func renderSparkline(points []int64) string {
	lo, hi := int64(-1), int64(-1)
	for _, p := range points {
		if p < 0 {
			continue
		}
		if lo < 0 || p < lo {
			lo = p
		}
		if p > hi {
			hi = p
		}
	}

	var b strings.Builder
	b.WriteString("\n  ")
	for _, p := range points {
		switch {
		case p < 0:
			b.WriteRune(' ')
		case hi == lo:
			b.WriteRune(sparkBlocks[len(sparkBlocks)/2])
		default:
			idx := int((p - lo) * int64(len(sparkBlocks)-1) / (hi - lo))
			b.WriteRune(sparkBlocks[idx])
		}
	}
	if hi >= 0 {
		fmt.Fprintf(&b, "\n\n  [gray]min[white] %d  [gray]max[white] %d  [gray]last[white] %d bpm", lo, hi, points[len(points)-1])
	}
	return b.String()
}

// SetHistory replaces the history list, keeping the newest row selected
func (ui *CursesViewImpl) SetHistory(rows []string) {
	ui.historyList.Clear()
	for _, row := range rows {
		ui.historyList.AddItem(row, "", 0, nil)
	}
	if len(rows) > 0 {
		ui.historyList.SetCurrentItem(len(rows) - 1)
	}
}

// SetPortList updates the port list, keeping the selection when the port
// is still present
func (ui *CursesViewImpl) SetPortList(items []string) {
	currentSelectionIndex := ui.portList.GetCurrentItem()

	var currentSelectionText *string
	if currentSelectionIndex < ui.portList.GetItemCount() {
		main, _ := ui.portList.GetItemText(currentSelectionIndex)
		currentSelectionText = &main
	}

	ui.portList.Clear()

	selectedIdx := -1
	for i, item := range items {
		if currentSelectionText != nil && *currentSelectionText == item {
			selectedIdx = i
		}
		ui.portList.AddItem(item, "", 0, nil)
	}
	if selectedIdx > -1 {
		ui.portList.SetCurrentItem(selectedIdx)
	}
}

// SetRawText replaces the raw feed and scrolls to the end
func (ui *CursesViewImpl) SetRawText(text string) {
	ui.rawView.SetText(text)
	ui.rawView.ScrollToEnd()
}

// Draw refreshes/redraws the UI
func (ui *CursesViewImpl) Draw() error {
	ui.app.Draw()
	return nil
}

// Run starts the UI and blocks until it exits
func (ui *CursesViewImpl) Run() error {
	// SetRoot must be called before setting focus, otherwise focus may be reset
	ui.app.SetRoot(ui.mainFlex, true)
	ui.setFocusForCurrentMode()
	return ui.app.Run()
}

// Stop stops the UI framework
func (ui *CursesViewImpl) Stop() {
	ui.app.Stop()
}
