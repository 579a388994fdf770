package telemetry

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const deviceFrame = `{"duracao": 12.5, "bpm_max": 150, "bpm_min": 80, "bpm_medio": 120, "forca_maxima": 34.2, "pontuacao_a": 3, "pontuacao_b": 1}`

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestFrameDecoder_DeviceFrame(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  TrainingSample
	}{
		{
			name:  "firmware sample",
			frame: deviceFrame,
			want: TrainingSample{
				Duration:     Some(12.5),
				HeartRateMax: Some[int64](150),
				HeartRateMin: Some[int64](80),
				HeartRateAvg: Some[int64](120),
				MaxForce:     Some(34.2),
				ScoreA:       Some(3.0),
				ScoreB:       Some(1.0),
			},
		},
		{
			name:  "round numbers",
			frame: `{"duracao":10,"bpm_max":150,"bpm_min":90,"bpm_medio":120,"forca_maxima":55,"pontuacao_a":8,"pontuacao_b":6}`,
			want: TrainingSample{
				Duration:     Some(10.0),
				HeartRateMax: Some[int64](150),
				HeartRateMin: Some[int64](90),
				HeartRateAvg: Some[int64](120),
				MaxForce:     Some(55.0),
				ScoreA:       Some(8.0),
				ScoreB:       Some(6.0),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessionStart := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
			d := NewFrameDecoder(fixedClock(sessionStart.Add(time.Second)))

			s, err := d.Decode(tt.frame)
			require.NoError(t, err)

			assert.True(t, s.CapturedAt.After(sessionStart))
			tt.want.CapturedAt = s.CapturedAt
			assert.Equal(t, tt.want, s)
		})
	}
}

func TestFrameDecoder_MissingFieldsStayAbsent(t *testing.T) {
	d := NewFrameDecoder(nil)

	s, err := d.Decode(`{"bpm_medio": 0}`)
	require.NoError(t, err)

	avg, ok := s.HeartRateAvg.Get()
	assert.True(t, ok)
	assert.Zero(t, avg)

	assert.False(t, s.HeartRateMax.Present())
	assert.False(t, s.Duration.Present())
	assert.False(t, s.ScoreA.Present())
	assert.Equal(t, "-", s.MaxForce.String())
}

func TestFrameDecoder_NullIsAbsent(t *testing.T) {
	d := NewFrameDecoder(nil)
	s, err := d.Decode(`{"bpm_max": null, "bpm_min": 70}`)
	require.NoError(t, err)
	assert.False(t, s.HeartRateMax.Present())
	assert.Equal(t, int64(70), s.HeartRateMin.Or(-1))
}

func TestFrameDecoder_ExtraFieldsIgnored(t *testing.T) {
	d := NewFrameDecoder(nil)
	s, err := d.Decode(`{"bpm_max": 150, "firmware": "1.2", "nested": {"x": [1,2]}}`)
	require.NoError(t, err)
	assert.Equal(t, int64(150), s.HeartRateMax.Or(0))
}

func TestFrameDecoder_IntegralFloatHeartRate(t *testing.T) {
	d := NewFrameDecoder(nil)
	s, err := d.Decode(`{"bpm_max": 150.0}`)
	require.NoError(t, err)
	assert.Equal(t, int64(150), s.HeartRateMax.Or(0))
}

func TestFrameDecoder_Rejects(t *testing.T) {
	tests := []struct {
		name string
		line string
		want error
		key  string
	}{
		{name: "garbage", line: `not json`, want: ErrInvalidJSON},
		{name: "truncated object", line: `{"bpm_max": 15`, want: ErrInvalidJSON},
		{name: "trailing data", line: `{"bpm_max": 150} {}`, want: ErrInvalidJSON},
		{name: "array", line: `[1, 2, 3]`, want: ErrNotObject},
		{name: "number", line: `42`, want: ErrNotObject},
		{name: "null", line: `null`, want: ErrNotObject},
		{name: "string heart rate", line: `{"bpm_max": "150"}`, key: keyHeartRateMax},
		{name: "bool force", line: `{"forca_maxima": true}`, key: keyMaxForce},
		{name: "fractional heart rate", line: `{"bpm_medio": 120.5}`, key: keyHeartRateAvg},
		{name: "negative duration", line: `{"duracao": -1}`, want: ErrNegative, key: keyDuration},
		{name: "negative heart rate", line: `{"bpm_min": -60}`, want: ErrNegative, key: keyHeartRateMin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewFrameDecoder(nil)
			_, err := d.Decode(tt.line)
			require.Error(t, err)

			var decodeErr *DecodeError
			require.True(t, errors.As(err, &decodeErr))
			assert.Equal(t, tt.line, decodeErr.Line)

			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
			if tt.key != "" {
				var fieldErr *FieldError
				require.True(t, errors.As(err, &fieldErr))
				assert.Equal(t, tt.key, fieldErr.Key)
			}
		})
	}
}

func TestFrameDecoder_NegativeScoresAllowed(t *testing.T) {
	d := NewFrameDecoder(nil)
	s, err := d.Decode(`{"pontuacao_a": -2}`)
	require.NoError(t, err)
	assert.Equal(t, -2.0, s.ScoreA.Or(0))
}

// One bad line yields exactly one error and the decoder keeps going.
func TestFrameDecoder_ContinuesAfterError(t *testing.T) {
	d := NewFrameDecoder(nil)
	lines := []string{`{"bpm_max": 100}`, `{"bpm_max": oops}`, `{"bpm_max": 101}`}

	var samples []TrainingSample
	var errs []error
	for _, line := range lines {
		s, err := d.Decode(line)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		samples = append(samples, s)
	}

	require.Len(t, errs, 1)
	require.Len(t, samples, 2)
	assert.Equal(t, int64(100), samples[0].HeartRateMax.Or(0))
	assert.Equal(t, int64(101), samples[1].HeartRateMax.Or(0))
}

func TestFrameDecoder_CapturedAtNeverGoesBackwards(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	times := []time.Time{base, base.Add(2 * time.Second), base.Add(time.Second), base.Add(3 * time.Second)}
	i := 0
	d := NewFrameDecoder(func() time.Time {
		t := times[i]
		i++
		return t
	})

	var stamps []time.Time
	for range times {
		s, err := d.Decode(`{}`)
		require.NoError(t, err)
		stamps = append(stamps, s.CapturedAt)
	}

	assert.Equal(t, base.Add(2*time.Second), stamps[2])
	for j := 1; j < len(stamps); j++ {
		assert.False(t, stamps[j].Before(stamps[j-1]))
	}
}

func TestDecodeError_TruncatesLongLines(t *testing.T) {
	long := `{"x":"` + strings.Repeat("a", 200) + `"`
	err := &DecodeError{Line: long, Err: ErrInvalidJSON}
	assert.Less(t, len(err.Error()), len(long))
	assert.Contains(t, err.Error(), "invalid JSON")
}

func TestTrainingSample_MarshalJSON(t *testing.T) {
	s := TrainingSample{
		HeartRateAvg: Some[int64](120),
		CapturedAt:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(s)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, 120.0, out["heartRateAvg"])
	assert.Nil(t, out["heartRateMax"])
	assert.Contains(t, out, "heartRateMax")
}

// A frame that arrives in two reads, cut anywhere including inside a token,
// decodes to the same sample as the frame read in one piece.
func TestPipeline_SplitPayloadDecodesIdentically(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	payload := []byte(deviceFrame + "\n")

	whole, err := NewFrameDecoder(fixedClock(at)).Decode(deviceFrame)
	require.NoError(t, err)

	rapid.Check(t, func(t *rapid.T) {
		cut := rapid.IntRange(0, len(payload)).Draw(t, "cut")

		text := NewTextDecoder()
		framer := NewLineFramer()
		frames := NewFrameDecoder(fixedClock(at))

		var samples []TrainingSample
		for _, chunk := range [][]byte{payload[:cut], payload[cut:]} {
			for _, line := range framer.Push(text.Decode(chunk)) {
				s, err := frames.Decode(line)
				require.NoError(t, err)
				samples = append(samples, s)
			}
		}

		require.Len(t, samples, 1)
		require.Equal(t, whole, samples[0])
	})
}
