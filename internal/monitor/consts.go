package monitor

import (
	"fmt"
	"strings"
)

// UIMode represents the current UI mode/screen
type UIMode int

const (
	UIModeDashboard UIMode = iota // Live vitals and heart-rate chart
	UIModeHistory                 // Every sample received since start
	UIModePorts                   // Port selection and connection
	UIModeDebug                   // Raw text as read from the port
)

// UIModeInfo contains display information for a UI mode
type UIModeInfo struct {
	Mode        UIMode
	DisplayName string
	KeyBinding  rune
}

// AllUIModes defines all available UI modes in order
var AllUIModes = []UIModeInfo{
	{Mode: UIModeDashboard, DisplayName: "Dashboard", KeyBinding: '1'},
	{Mode: UIModeHistory, DisplayName: "History", KeyBinding: '2'},
	{Mode: UIModePorts, DisplayName: "Ports", KeyBinding: '3'},
	{Mode: UIModeDebug, DisplayName: "Debug", KeyBinding: '4'},
}

// GetUIModeByKey returns the mode for a given key binding
func GetUIModeByKey(key rune) (UIMode, bool) {
	for _, info := range AllUIModes {
		if info.KeyBinding == key {
			return info.Mode, true
		}
	}
	return 0, false
}

// GetUIModeInfo returns the info for a given mode
func GetUIModeInfo(mode UIMode) (UIModeInfo, bool) {
	for _, info := range AllUIModes {
		if info.Mode == mode {
			return info, true
		}
	}
	return UIModeInfo{}, false
}

// ConnectionState is the lifecycle state of the single serial connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Disconnecting
)

var connectionStateNames = []string{"disconnected", "connecting", "connected", "disconnecting"}

func (s ConnectionState) String() string {
	if int(s) < 0 || int(s) >= len(connectionStateNames) {
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
	return connectionStateNames[s]
}

func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ConnectionState) UnmarshalText(text []byte) error {
	for i, name := range connectionStateNames {
		if strings.EqualFold(name, string(text)) {
			*s = ConnectionState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown connection state %q", text)
}

const (
	DefaultChartPoints  = 60
	DefaultRawTailBytes = 8 * 1024
	maxLogLines         = 1000
)
