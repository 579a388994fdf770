package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

var (
	ErrInvalidJSON = errors.New("invalid JSON")
	ErrNotObject   = errors.New("frame is not a JSON object")
	ErrNegative    = errors.New("value must not be negative")
)

// DecodeError reports one line that could not be turned into a sample.
// It is never fatal to the stream.
type DecodeError struct {
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed frame %q: %v", truncate(e.Line, 80), e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// FieldError names the wire key whose value was rejected.
type FieldError struct {
	Key string
	Err error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %v", e.Key, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// FrameDecoder parses single lines into samples. It is not safe for
// concurrent use; the read loop owns it.
type FrameDecoder struct {
	now  func() time.Time
	last time.Time
}

// NewFrameDecoder returns a decoder stamping samples with now, or with
// time.Now when now is nil.
func NewFrameDecoder(now func() time.Time) *FrameDecoder {
	if now == nil {
		now = time.Now
	}
	return &FrameDecoder{now: now}
}

// Decode parses one line. Keys the sample does not know are ignored and
// missing keys stay absent. capturedAt never goes backwards across calls,
// even if the clock does.
func (d *FrameDecoder) Decode(line string) (TrainingSample, error) {
	raw := bytes.TrimSpace([]byte(line))
	if len(raw) == 0 || raw[0] != '{' {
		if len(raw) > 0 && !json.Valid(raw) {
			return TrainingSample{}, &DecodeError{Line: line, Err: ErrInvalidJSON}
		}
		return TrainingSample{}, &DecodeError{Line: line, Err: ErrNotObject}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return TrainingSample{}, &DecodeError{Line: line, Err: fmt.Errorf("%w: %v", ErrInvalidJSON, err)}
	}

	var s TrainingSample
	specs := []struct {
		key         string
		dst         json.Unmarshaler
		nonNegative func() bool
	}{
		{keyDuration, &s.Duration, func() bool { return s.Duration.Or(0) >= 0 }},
		{keyHeartRateMax, &s.HeartRateMax, func() bool { return s.HeartRateMax.Or(0) >= 0 }},
		{keyHeartRateMin, &s.HeartRateMin, func() bool { return s.HeartRateMin.Or(0) >= 0 }},
		{keyHeartRateAvg, &s.HeartRateAvg, func() bool { return s.HeartRateAvg.Or(0) >= 0 }},
		{keyMaxForce, &s.MaxForce, func() bool { return s.MaxForce.Or(0) >= 0 }},
		{keyScoreA, &s.ScoreA, nil},
		{keyScoreB, &s.ScoreB, nil},
	}
	for _, spec := range specs {
		value, ok := fields[spec.key]
		if !ok {
			continue
		}
		if err := spec.dst.UnmarshalJSON(value); err != nil {
			return TrainingSample{}, &DecodeError{Line: line, Err: &FieldError{Key: spec.key, Err: err}}
		}
		if spec.nonNegative != nil && !spec.nonNegative() {
			return TrainingSample{}, &DecodeError{Line: line, Err: &FieldError{Key: spec.key, Err: ErrNegative}}
		}
	}

	s.CapturedAt = d.stamp()
	return s, nil
}

func (d *FrameDecoder) stamp() time.Time {
	t := d.now()
	if t.Before(d.last) {
		t = d.last
	}
	d.last = t
	return t
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
