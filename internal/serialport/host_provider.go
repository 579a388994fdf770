package serialport

import (
	"context"
	"fmt"
	"io"
	"log"
	"runtime"
	"sort"
	"strings"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// Verify HostProvider implements Provider
var _ Provider = (*HostProvider)(nil)

// HostProvider hands out the serial ports of this machine.
type HostProvider struct {
	logger *log.Logger
	goos   string
	list   func() ([]*enumerator.PortDetails, error)
	open   func(name string, mode *serial.Mode) (serial.Port, error)
}

func NewHostProvider(logger *log.Logger) *HostProvider {
	if logger == nil {
		panic("HostProvider: logger cannot be nil")
	}
	return &HostProvider{
		logger: logger,
		goos:   runtime.GOOS,
		list:   enumerator.GetDetailedPortsList,
		open:   serial.Open,
	}
}

func (h *HostProvider) Supported() bool {
	switch h.goos {
	case "linux", "darwin", "windows", "freebsd", "openbsd":
		return true
	default:
		return false
	}
}

func (h *HostProvider) ListPorts() ([]PortInfo, error) {
	if !h.Supported() {
		return nil, ErrUnsupportedEnvironment
	}
	details, err := h.list()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          strings.ToUpper(d.VID),
			PID:          strings.ToUpper(d.PID),
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })
	return ports, nil
}

func (h *HostProvider) RequestPort(ctx context.Context, name string) (Port, error) {
	if !h.Supported() {
		return nil, ErrUnsupportedEnvironment
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
	}

	ports, err := h.ListPorts()
	if err != nil {
		return nil, err
	}
	info, err := SelectPort(ports, name)
	if err != nil {
		return nil, err
	}
	h.logger.Printf("HostProvider: selected %s", info)

	return newStreamPort(h.logger, info, func(mode Mode) (io.ReadCloser, error) {
		return h.open(info.Name, &serial.Mode{
			BaudRate: mode.BaudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		})
	}), nil
}

// SelectPort picks the port to use. A non-empty name is used as given, even
// when enumeration did not report it (pseudo terminals are not listed).
// Without a name the first Pico is preferred, then the first USB port.
func SelectPort(ports []PortInfo, name string) (PortInfo, error) {
	if name != "" {
		for _, p := range ports {
			if p.Name == name {
				return p, nil
			}
		}
		return PortInfo{Name: name}, nil
	}

	for _, p := range ports {
		if p.IsUSB && strings.EqualFold(p.VID, PicoVendorID) {
			return p, nil
		}
	}
	for _, p := range ports {
		if p.IsUSB {
			return p, nil
		}
	}
	return PortInfo{}, ErrNoDevice
}
