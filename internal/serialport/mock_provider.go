package serialport

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// Verify MockProvider implements Provider
var _ Provider = (*MockProvider)(nil)

// MockProvider offers mock devices in place of host ports.
type MockProvider struct {
	logger  *log.Logger
	devices []*MockDevice

	mu          sync.Mutex
	unsupported bool
}

func NewMockProvider(logger *log.Logger, devices ...*MockDevice) *MockProvider {
	if logger == nil {
		panic("MockProvider: logger cannot be nil")
	}
	return &MockProvider{
		logger:  logger,
		devices: devices,
	}
}

// SetSupported lets tests simulate a host without serial support.
func (p *MockProvider) SetSupported(supported bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unsupported = !supported
}

func (p *MockProvider) Supported() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.unsupported
}

func (p *MockProvider) ListPorts() ([]PortInfo, error) {
	if !p.Supported() {
		return nil, ErrUnsupportedEnvironment
	}
	ports := make([]PortInfo, 0, len(p.devices))
	for _, d := range p.devices {
		ports = append(ports, d.Info())
	}
	return ports, nil
}

func (p *MockProvider) RequestPort(ctx context.Context, name string) (Port, error) {
	if !p.Supported() {
		return nil, ErrUnsupportedEnvironment
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
	}

	ports, err := p.ListPorts()
	if err != nil {
		return nil, err
	}
	info, err := SelectPort(ports, name)
	if err != nil {
		return nil, err
	}
	for _, d := range p.devices {
		if d.Info().Name == info.Name {
			p.logger.Printf("MockProvider: selected %s", info)
			return newStreamPort(p.logger, info, d.open), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoDevice, name)
}

// Devices returns the mock devices for direct access
func (p *MockProvider) Devices() []*MockDevice {
	return p.devices
}

// Shutdown shuts down every mock device.
func (p *MockProvider) Shutdown() {
	for _, d := range p.devices {
		d.Shutdown()
	}
}
