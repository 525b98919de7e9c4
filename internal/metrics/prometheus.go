package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"schoolbell/pkg/logx"
)

var _ Sink = (*PrometheusSink)(nil)

// PrometheusSink implements Sink with client_golang collectors. A collector
// that fails to register is logged and keeps working unregistered.
type PrometheusSink struct {
	log logx.Logger

	ticksTotal     prometheus.Counter
	tickDuration   prometheus.Histogram
	tickDrift      prometheus.Histogram
	bellsFired     *prometheus.CounterVec
	playStarted    *prometheus.CounterVec
	playSkipped    *prometheus.CounterVec
	playFailed     prometheus.Counter
	playActive     prometheus.Gauge
	schedulesTotal prometheus.Gauge
	schedulesOn    prometheus.Gauge
}

func NewPrometheusSink(reg prometheus.Registerer, log logx.Logger) *PrometheusSink {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &PrometheusSink{log: log.With(logx.String("comp", "metrics"))}

	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "schoolbell_engine_ticks_total",
		Help: "Engine ticks processed.",
	})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "schoolbell_engine_tick_duration_seconds",
		Help:    "Time spent evaluating one tick.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	})
	s.tickDrift = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "schoolbell_engine_tick_drift_seconds",
		Help:    "Distance of each tick from the whole second.",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5},
	})
	s.bellsFired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "schoolbell_bells_fired_total",
		Help: "Schedule triggers fired, by kind.",
	}, []string{"kind"})
	s.playStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "schoolbell_playback_started_total",
		Help: "Playbacks started, by lane.",
	}, []string{"lane"})
	s.playSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "schoolbell_playback_skipped_total",
		Help: "Triggers that produced no sound, by reason.",
	}, []string{"reason"})
	s.playFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "schoolbell_playback_errors_total",
		Help: "Playbacks that failed to start or ended with an error.",
	})
	s.playActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "schoolbell_playback_active",
		Help: "1 while audio is playing.",
	})
	s.schedulesTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "schoolbell_schedules",
		Help: "Schedules known to the engine.",
	})
	s.schedulesOn = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "schoolbell_schedules_enabled",
		Help: "Enabled schedules.",
	})

	for name, c := range map[string]prometheus.Collector{
		"schoolbell_engine_ticks_total":           s.ticksTotal,
		"schoolbell_engine_tick_duration_seconds": s.tickDuration,
		"schoolbell_engine_tick_drift_seconds":    s.tickDrift,
		"schoolbell_bells_fired_total":            s.bellsFired,
		"schoolbell_playback_started_total":       s.playStarted,
		"schoolbell_playback_skipped_total":       s.playSkipped,
		"schoolbell_playback_errors_total":        s.playFailed,
		"schoolbell_playback_active":              s.playActive,
		"schoolbell_schedules":                    s.schedulesTotal,
		"schoolbell_schedules_enabled":            s.schedulesOn,
	} {
		s.register(reg, c, name)
	}
	return s
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.log.Warn("metric not registered", logx.String("metric", name), logx.Err(err))
	}
}

func (s *PrometheusSink) TickCompleted(d time.Duration) {
	s.ticksTotal.Inc()
	s.tickDuration.Observe(d.Seconds())
}

func (s *PrometheusSink) TickDrift(drift time.Duration) {
	if drift < 0 {
		drift = -drift
	}
	s.tickDrift.Observe(drift.Seconds())
}

func (s *PrometheusSink) BellFired(repeat bool) {
	kind := "base"
	if repeat {
		kind = "repeat"
	}
	s.bellsFired.WithLabelValues(kind).Inc()
}

func (s *PrometheusSink) PlaybackStarted(lane string) { s.playStarted.WithLabelValues(lane).Inc() }

func (s *PrometheusSink) PlaybackSkipped(reason string) {
	s.playSkipped.WithLabelValues(reason).Inc()
}

func (s *PrometheusSink) PlaybackFailed() { s.playFailed.Inc() }

func (s *PrometheusSink) PlaybackActive(active bool) {
	if active {
		s.playActive.Set(1)
		return
	}
	s.playActive.Set(0)
}

func (s *PrometheusSink) SchedulesLoaded(total, enabled int) {
	s.schedulesTotal.Set(float64(total))
	s.schedulesOn.Set(float64(enabled))
}
