package monitor

import (
	"errors"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/lowaak/grapple-monitor/internal/serialport"
	"github.com/lowaak/grapple-monitor/internal/telemetry"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestModel(t *testing.T) *SessionModel {
	t.Helper()
	m := NewSessionModel(testLogger(), make(chan string), SessionModelOptions{})
	t.Cleanup(m.Shutdown)
	return m
}

func sampleWithAvg(avg int64) telemetry.TrainingSample {
	return telemetry.TrainingSample{HeartRateAvg: telemetry.Some(avg)}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		var zero T
		return zero
	}
}

func TestNewSessionModel_NilArgsPanic(t *testing.T) {
	assert.PanicsWithValue(t, "SessionModel: logger cannot be nil", func() {
		NewSessionModel(nil, make(chan string), SessionModelOptions{})
	})
	assert.PanicsWithValue(t, "SessionModel: uiLogChan cannot be nil", func() {
		NewSessionModel(testLogger(), nil, SessionModelOptions{})
	})
}

func TestSessionModel_NoCurrentBeforeFirstSample(t *testing.T) {
	m := newTestModel(t)

	_, ok := m.Current()
	assert.False(t, ok)
	assert.Empty(t, m.History())
	assert.Nil(t, m.Snapshot().Current)
}

func TestSessionModel_HistoryKeepsArrivalOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := NewSessionModel(testLogger(), make(chan string), SessionModelOptions{})
		defer m.Shutdown()

		values := rapid.SliceOfN(rapid.Int64Range(0, 250), 1, 50).Draw(t, "values")
		for _, v := range values {
			m.AppendSample(sampleWithAvg(v))
		}

		history := m.History()
		require.Len(t, history, len(values))
		for i, v := range values {
			assert.Equal(t, v, history[i].HeartRateAvg.Or(-1))
		}
		current, ok := m.Current()
		require.True(t, ok)
		assert.Equal(t, values[len(values)-1], current.HeartRateAvg.Or(-1))
	})
}

func TestSessionModel_HistoryIsACopy(t *testing.T) {
	m := newTestModel(t)
	m.AppendSample(sampleWithAvg(100))

	history := m.History()
	history[0] = sampleWithAvg(1)

	assert.Equal(t, int64(100), m.History()[0].HeartRateAvg.Or(-1))
}

func TestSessionModel_HistoryTail(t *testing.T) {
	m := newTestModel(t)
	for i := int64(1); i <= 5; i++ {
		m.AppendSample(sampleWithAvg(i))
	}

	tail := m.HistoryTail(2)
	require.Len(t, tail, 2)
	assert.Equal(t, int64(4), tail[0].HeartRateAvg.Or(-1))
	assert.Equal(t, int64(5), tail[1].HeartRateAvg.Or(-1))

	assert.Len(t, m.HistoryTail(50), 5)
	assert.Empty(t, m.HistoryTail(0))
}

func TestSessionModel_SessionsSurviveReconnect(t *testing.T) {
	m := newTestModel(t)
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	port := serialport.PortInfo{Name: "/dev/ttyACM0"}

	m.BeginSession("first", port, start)
	m.AppendSample(sampleWithAvg(100))
	m.AppendSample(sampleWithAvg(101))
	m.EndSession(start.Add(time.Minute))

	// Samples arriving outside a session still land in history
	m.AppendSample(sampleWithAvg(50))

	m.BeginSession("second", port, start.Add(2*time.Minute))
	m.AppendSample(sampleWithAvg(102))

	sessions := m.Sessions()
	require.Len(t, sessions, 2)

	assert.Equal(t, "first", sessions[0].ID)
	assert.False(t, sessions[0].Active())
	assert.Equal(t, 0, sessions[0].FirstSample)
	assert.Equal(t, 2, sessions[0].SampleCount)

	assert.Equal(t, "second", sessions[1].ID)
	assert.True(t, sessions[1].Active())
	assert.Equal(t, 3, sessions[1].FirstSample)
	assert.Equal(t, 1, sessions[1].SampleCount)

	assert.Len(t, m.History(), 4)
}

func TestSessionModel_BeginSessionEndsActiveOne(t *testing.T) {
	m := newTestModel(t)
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	m.BeginSession("a", serialport.PortInfo{}, start)
	m.BeginSession("b", serialport.PortInfo{}, start.Add(time.Second))

	sessions := m.Sessions()
	require.Len(t, sessions, 2)
	require.NotNil(t, sessions[0].EndedAt)
	assert.Equal(t, start.Add(time.Second), *sessions[0].EndedAt)
}

func TestSessionModel_EndSessionWithoutActiveIsNoop(t *testing.T) {
	m := newTestModel(t)
	ch := make(chan []Session, 1)
	defer m.ListenToSessions(ch)()

	m.EndSession(time.Now())

	select {
	case <-ch:
		t.Fatal("unexpected sessions event")
	default:
	}
}

func TestSessionModel_SessionsSnapshotIsIndependent(t *testing.T) {
	m := newTestModel(t)
	end := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m.BeginSession("a", serialport.PortInfo{}, end.Add(-time.Minute))
	m.EndSession(end)

	sessions := m.Sessions()
	*sessions[0].EndedAt = time.Time{}

	assert.Equal(t, end, *m.Sessions()[0].EndedAt)
}

func TestSessionModel_ErrorSlotIsOverwritten(t *testing.T) {
	m := newTestModel(t)
	ch := make(chan string, 4)
	defer m.ListenToError(ch)()

	m.ReportError(errors.New("first"))
	m.ReportError(errors.New("second"))
	assert.Equal(t, "second", m.LastError())

	m.ReportError(nil)
	assert.Equal(t, "second", m.LastError())

	m.ClearError()
	assert.Equal(t, "", m.LastError())

	assert.Equal(t, "first", receive(t, ch))
	assert.Equal(t, "second", receive(t, ch))
	assert.Equal(t, "", receive(t, ch))
}

func TestSessionModel_OnErrorSeesEveryReport(t *testing.T) {
	m := newTestModel(t)
	var got []string
	defer m.OnError(func(s string) { got = append(got, s) })()

	m.ReportError(errors.New("bad frame"))
	m.ReportError(errors.New("bad frame"))

	assert.Equal(t, []string{"bad frame", "bad frame"}, got)
}

func TestSessionModel_OnSampleIsSynchronous(t *testing.T) {
	m := newTestModel(t)
	var got []int64
	unregister := m.OnSample(func(s telemetry.TrainingSample) { got = append(got, s.HeartRateAvg.Or(-1)) })

	for i := int64(0); i < 100; i++ {
		m.AppendSample(sampleWithAvg(i))
	}
	unregister()
	m.AppendSample(sampleWithAvg(999))

	require.Len(t, got, 100)
	assert.Equal(t, int64(99), got[99])
}

func TestSessionModel_SequencedSamplesLineUpWithSnapshot(t *testing.T) {
	m := newTestModel(t)
	assert.Equal(t, 0, m.Snapshot().Seq)

	m.AppendSample(sampleWithAvg(1))
	m.AppendSample(sampleWithAvg(2))
	snap := m.Snapshot()
	assert.Equal(t, 2, snap.Seq)
	assert.Len(t, snap.History, snap.Seq)

	var got []SequencedSample
	defer m.OnSequencedSample(func(s SequencedSample) { got = append(got, s) })()
	m.AppendSample(sampleWithAvg(3))

	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].Seq)
	assert.Equal(t, int64(3), got[0].Sample.HeartRateAvg.Or(-1))
	assert.Equal(t, m.History()[got[0].Seq-1], got[0].Sample)
}

func TestSessionModel_ConnectionStatusReplays(t *testing.T) {
	m := newTestModel(t)
	status := ConnectionStatus{State: Connected, Port: serialport.PortInfo{Name: "/dev/ttyACM0"}, SessionID: "s1"}
	m.SetConnectionStatus(status)

	ch := make(chan ConnectionStatus, 1)
	defer m.ListenToConnectionStatus(ch)()

	assert.Equal(t, status, receive(t, ch))
	assert.Equal(t, status, m.ConnectionStatus())
}

func TestSessionModel_RawTailIsBounded(t *testing.T) {
	m := NewSessionModel(testLogger(), make(chan string), SessionModelOptions{RawTailBytes: 10})
	defer m.Shutdown()

	m.AppendRaw("0123456789")
	m.AppendRaw("abc")
	assert.Equal(t, "3456789abc", m.RawTail())

	// The cut never lands inside a multi-byte rune
	m.AppendRaw("çççç")
	tail := m.RawTail()
	assert.LessOrEqual(t, len(tail), 10)
	assert.True(t, strings.HasSuffix(tail, "çççç"))
	assert.True(t, strings.ToValidUTF8(tail, "?") == tail)
}

func TestSessionModel_ChartPoints(t *testing.T) {
	m := newTestModel(t)
	assert.Equal(t, DefaultChartPoints, m.ChartPoints())

	ch := make(chan int, 2)
	defer m.ListenToChartPoints(ch)()
	assert.Equal(t, DefaultChartPoints, receive(t, ch))

	m.SetChartPoints(120)
	assert.Equal(t, 120, receive(t, ch))

	m.SetChartPoints(-5)
	assert.Equal(t, DefaultChartPoints, m.ChartPoints())
}

func TestSessionModel_Ports(t *testing.T) {
	m := newTestModel(t)
	ports := []serialport.PortInfo{{Name: "/dev/ttyACM0"}, {Name: "/dev/ttyUSB0"}}
	m.SetPorts(ports)
	ports[0].Name = "changed"

	assert.Equal(t, "/dev/ttyACM0", m.Ports()[0].Name)
}

func TestSessionModel_SetMode(t *testing.T) {
	m := newTestModel(t)
	assert.Equal(t, UIModeDashboard, m.GetUIState().Mode)

	ch := make(chan UIState, 2)
	defer m.ListenToUIState(ch)()
	receive(t, ch)

	m.SetMode(UIModeDebug)
	assert.Equal(t, UIModeDebug, receive(t, ch).Mode)
}

func TestSessionModel_LogTail(t *testing.T) {
	logChan := make(chan string, 4)
	m := NewSessionModel(testLogger(), logChan, SessionModelOptions{})
	defer m.Shutdown()

	logChan <- "one\n"
	logChan <- "two\n"
	logChan <- "three\n"

	require.Eventually(t, func() bool { return len(m.GetLogTail(10)) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"two\n", "three\n"}, m.GetLogTail(2))
	assert.Empty(t, m.GetLogTail(0))
}

func TestSessionModel_Snapshot(t *testing.T) {
	m := newTestModel(t)
	m.BeginSession("s1", serialport.PortInfo{Name: "/dev/ttyACM0"}, time.Now())
	m.SetConnectionStatus(ConnectionStatus{State: Connected, SessionID: "s1"})
	m.AppendSample(sampleWithAvg(120))
	m.ReportError(errors.New("boom"))

	snap := m.Snapshot()
	assert.Equal(t, Connected, snap.Status.State)
	require.NotNil(t, snap.Current)
	assert.Equal(t, int64(120), snap.Current.HeartRateAvg.Or(-1))
	assert.Len(t, snap.History, 1)
	assert.Len(t, snap.Sessions, 1)
	assert.Equal(t, "boom", snap.Error)
}
