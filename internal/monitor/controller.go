package monitor

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/lowaak/grapple-monitor/internal/go_func_utils"
)

// Controller handles UI events and coordinates the ConnectionHandler with
// the SessionModel. Slow work runs off the UI goroutine.
type Controller struct {
	model         *SessionModel
	handler       *ConnectionHandler
	persistence   *ModelPersistence
	preferredPort string
	logger        *log.Logger
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// NewControllerArg holds the arguments for creating a new Controller
type NewControllerArg struct {
	Model       *SessionModel
	Handler     *ConnectionHandler
	Persistence *ModelPersistence
	Logger      *log.Logger
	// PreferredPort is used by ToggleConnection instead of the remembered
	// port when set.
	PreferredPort string
}

func NewController(arg NewControllerArg) *Controller {
	if arg.Model == nil {
		panic("Controller: model cannot be nil")
	}
	if arg.Handler == nil {
		panic("Controller: handler cannot be nil")
	}
	if arg.Persistence == nil {
		panic("Controller: persistence cannot be nil")
	}
	if arg.Logger == nil {
		panic("Controller: logger cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		model:         arg.Model,
		handler:       arg.Handler,
		persistence:   arg.Persistence,
		preferredPort: arg.PreferredPort,
		logger:        arg.Logger,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Connect starts connecting to portName in the background. An empty name
// auto-selects a port.
func (c *Controller) Connect(portName string) {
	go_func_utils.SafeGoTracked(c.logger, &c.wg, func() {
		err := c.handler.Connect(c.ctx, portName)
		if errors.Is(err, ErrAlreadyConnected) {
			c.logger.Printf("Already connected - press 'd' to disconnect first")
			return
		}
		if err != nil {
			c.logger.Printf("Connection failed: %v", err)
			return
		}
		c.persistence.SetLastPort(c.model.ConnectionStatus().Port.Name)
	})
}

// ConnectSelected connects to the port at index in the model's port list
func (c *Controller) ConnectSelected(index int) {
	ports := c.model.Ports()
	if index < 0 || index >= len(ports) {
		c.logger.Printf("Invalid port index: %d", index)
		return
	}
	c.Connect(ports[index].Name)
}

// Disconnect tears the connection down in the background
func (c *Controller) Disconnect() {
	go_func_utils.SafeGoTracked(c.logger, &c.wg, func() { c.handler.Disconnect() })
}

// ToggleConnection connects to the preferred port when disconnected and
// disconnects otherwise
func (c *Controller) ToggleConnection() {
	switch c.handler.State() {
	case Disconnected:
		c.Connect(c.connectTarget())
	case Connected:
		c.Disconnect()
	default:
		c.logger.Printf("Connection is %s, try again shortly", c.handler.State())
	}
}

// connectTarget is the configured port, else the remembered one if it is
// still present, else "" for auto-selection.
func (c *Controller) connectTarget() string {
	if c.preferredPort != "" {
		return c.preferredPort
	}
	last := c.persistence.LastPort()
	if last == "" {
		return ""
	}
	for _, p := range c.model.Ports() {
		if p.Name == last {
			return last
		}
	}
	return ""
}

// RefreshPorts re-enumerates serial ports into the model
func (c *Controller) RefreshPorts() {
	if !c.handler.Supported() {
		c.logger.Printf("Serial ports are not supported on this host")
		return
	}
	ports, err := c.handler.ListPorts()
	if err != nil {
		c.logger.Printf("Listing ports failed: %v", err)
		c.model.ReportError(err)
		return
	}
	c.logger.Printf("Found %d serial ports", len(ports))
}

// OnModeChange handles when the user requests a mode change
func (c *Controller) OnModeChange(mode UIMode) {
	if info, ok := GetUIModeInfo(mode); ok {
		c.logger.Printf("Switching to %s mode", info.DisplayName)
	}
	if mode == UIModePorts {
		c.RefreshPorts()
	}
	c.model.SetMode(mode)
}

// OnEscapeKey handles when the Escape key is pressed
func (c *Controller) OnEscapeKey() {
	c.model.RequestCloseApplication()
}

// Shutdown abandons pending connects, then disconnects and waits for the
// connection handler
func (c *Controller) Shutdown() {
	c.cancel()
	c.wg.Wait()
	c.handler.Shutdown()
}
