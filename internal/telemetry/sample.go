package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Metric is a numeric reading that a frame may or may not carry.
// The zero value is an absent reading, which is not the same as a reading of 0.
type Metric[T int64 | float64] struct {
	value T
	valid bool
}

// Some returns a present reading.
func Some[T int64 | float64](v T) Metric[T] {
	return Metric[T]{value: v, valid: true}
}

// Get returns the reading and whether it was present.
func (m Metric[T]) Get() (T, bool) {
	return m.value, m.valid
}

func (m Metric[T]) Present() bool {
	return m.valid
}

// Or returns the reading, or fallback when absent.
func (m Metric[T]) Or(fallback T) T {
	if !m.valid {
		return fallback
	}
	return m.value
}

// String renders the reading for display; absent readings render as "-".
func (m Metric[T]) String() string {
	if !m.valid {
		return "-"
	}
	return strconv.FormatFloat(float64(m.value), 'f', -1, 64)
}

func (m Metric[T]) MarshalJSON() ([]byte, error) {
	if !m.valid {
		return []byte("null"), nil
	}
	return json.Marshal(m.value)
}

// UnmarshalJSON accepts a JSON number or null. Integer metrics reject
// fractional values; strings and booleans are rejected for every metric.
func (m *Metric[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if string(data) == "null" {
		*m = Metric[T]{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		return fmt.Errorf("expected a number, got string %s", data)
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected a number, got %s", data)
	}
	v, err := parseNumber[T](n)
	if err != nil {
		return err
	}
	*m = Some(v)
	return nil
}

func parseNumber[T int64 | float64](n json.Number) (T, error) {
	f, err := n.Float64()
	if err != nil {
		return 0, fmt.Errorf("invalid number %s: %w", n, err)
	}
	var zero T
	if _, isInt := any(zero).(int64); isInt {
		if f != math.Trunc(f) {
			return 0, fmt.Errorf("%s is not an integer", n)
		}
		if i, err := n.Int64(); err == nil {
			return T(i), nil
		}
	}
	return T(f), nil
}

// TrainingSample is one decoded telemetry frame. It is a plain value: copies
// share no state, so a sample stored in history cannot change afterwards.
type TrainingSample struct {
	Duration     Metric[float64] `json:"duration"`     // seconds elapsed in the device session
	HeartRateMax Metric[int64]   `json:"heartRateMax"` // bpm
	HeartRateMin Metric[int64]   `json:"heartRateMin"` // bpm
	HeartRateAvg Metric[int64]   `json:"heartRateAvg"` // bpm
	MaxForce     Metric[float64] `json:"maxForce"`     // device units
	ScoreA       Metric[float64] `json:"scoreA"`
	ScoreB       Metric[float64] `json:"scoreB"`

	// CapturedAt is the receiver clock at decode time, not device time.
	CapturedAt time.Time `json:"capturedAt"`
}

// Wire keys as emitted by the device firmware.
const (
	keyDuration     = "duracao"
	keyHeartRateMax = "bpm_max"
	keyHeartRateMin = "bpm_min"
	keyHeartRateAvg = "bpm_medio"
	keyMaxForce     = "forca_maxima"
	keyScoreA       = "pontuacao_a"
	keyScoreB       = "pontuacao_b"
)
