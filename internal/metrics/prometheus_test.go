package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"schoolbell/pkg/logx"
)

func gather(t *testing.T, reg *prometheus.Registry, name string) []*dto.Metric {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf.GetMetric()
		}
	}
	return nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, p := range m.GetLabel() {
		if p.GetName() == name {
			return p.GetValue()
		}
	}
	return ""
}

func TestPrometheusSinkRecords(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	s := NewPrometheusSink(reg, logx.Nop())

	s.TickCompleted(2 * time.Millisecond)
	s.TickCompleted(time.Millisecond)
	s.BellFired(false)
	s.BellFired(true)
	s.BellFired(true)
	s.PlaybackSkipped(SkipNoAudio)
	s.PlaybackFailed()
	s.PlaybackActive(true)
	s.SchedulesLoaded(8, 6)

	if got := gather(t, reg, "schoolbell_engine_ticks_total"); len(got) != 1 || got[0].GetCounter().GetValue() != 2 {
		t.Fatalf("ticks = %v", got)
	}
	fired := map[string]float64{}
	for _, m := range gather(t, reg, "schoolbell_bells_fired_total") {
		fired[labelValue(m, "kind")] = m.GetCounter().GetValue()
	}
	if fired["base"] != 1 || fired["repeat"] != 2 {
		t.Fatalf("fired = %v", fired)
	}
	if got := gather(t, reg, "schoolbell_playback_skipped_total"); len(got) != 1 || labelValue(got[0], "reason") != SkipNoAudio {
		t.Fatalf("skipped = %v", got)
	}
	if got := gather(t, reg, "schoolbell_playback_active"); got[0].GetGauge().GetValue() != 1 {
		t.Fatal("active gauge not set")
	}
	if got := gather(t, reg, "schoolbell_schedules_enabled"); got[0].GetGauge().GetValue() != 6 {
		t.Fatal("enabled gauge not set")
	}
}

func TestDuplicateRegistrationDoesNotPanic(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	_ = NewPrometheusSink(reg, logx.Nop())
	s := NewPrometheusSink(reg, logx.Nop())
	s.PlaybackFailed()
}

func TestNoopSinkSatisfiesInterface(t *testing.T) {
	t.Parallel()
	var s Sink = NewNoopSink()
	s.TickCompleted(time.Second)
	s.PlaybackActive(false)
}
