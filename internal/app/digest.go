package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"schoolbell/internal/bell"
	"schoolbell/internal/config"
	"schoolbell/pkg/logx"
)

// digest sends the day's bell plan on a cron spec.
type digest struct {
	log   logx.Logger
	loc   *time.Location
	c     *cron.Cron
	build func(now time.Time) string
	send  func(ctx context.Context, text string) error

	mu    sync.Mutex
	entry cron.EntryID
	spec  string
}

func newDigest(loc *time.Location, log logx.Logger, build func(time.Time) string, send func(context.Context, string) error) *digest {
	return &digest{
		log:   log,
		loc:   loc,
		c:     cron.New(cron.WithLocation(loc), cron.WithLogger(cronLogger{log})),
		build: build,
		send:  send,
	}
}

// Apply installs, replaces or removes the job.
func (d *digest) Apply(cfg config.DigestConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	spec := strings.TrimSpace(cfg.Spec)
	if !cfg.Enabled {
		spec = ""
	}
	if spec == d.spec {
		return nil
	}
	if d.entry != 0 {
		d.c.Remove(d.entry)
		d.entry = 0
	}
	d.spec = ""
	if spec == "" {
		d.log.Info("digest disabled")
		return nil
	}
	id, err := d.c.AddFunc(spec, d.run)
	if err != nil {
		return fmt.Errorf("digest.spec: %w", err)
	}
	d.entry, d.spec = id, spec
	d.log.Info("digest scheduled", logx.String("spec", spec), logx.Time("next", d.c.Entry(id).Schedule.Next(time.Now().In(d.loc))))
	return nil
}

func (d *digest) Start() { d.c.Start() }

// Stop waits for a running job up to ctx.
func (d *digest) Stop(ctx context.Context) error {
	select {
	case <-d.c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *digest) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	text := d.build(time.Now().In(d.loc))
	if err := d.send(ctx, text); err != nil {
		d.log.Warn("digest send failed", logx.Err(err))
		return
	}
	d.log.Debug("digest sent")
}

// buildDigest lists the bells active on now's date with the total number of
// rings, repeats included.
func buildDigest(now time.Time, schedules []bell.Schedule, clipNames map[string]string, muted bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Bells for %s\n", now.Format("Monday 2 Jan"))
	if muted {
		b.WriteString("Device is not activated; bells are muted.\n")
	}

	var today []bell.Schedule
	for _, s := range bell.Ordered(schedules) {
		if s.ActiveOn(now) {
			today = append(today, s)
		}
	}
	if len(today) == 0 {
		b.WriteString("No bells today.")
		return b.String()
	}

	silent := 0
	for _, s := range today {
		fmt.Fprintf(&b, "%s %s", s.Time, s.Label)
		if s.Repeats() {
			fmt.Fprintf(&b, ", every %d min", s.RepeatInterval)
		}
		if !s.HasAudio() {
			b.WriteString(" (silent)")
			silent++
		} else if name := clipNames[s.AudioID]; name != "" {
			fmt.Fprintf(&b, " [%s]", name)
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "%d rings in total", countRings(now, today))
	if silent > 0 {
		fmt.Fprintf(&b, ", %d bell(s) without audio", silent)
	}
	return b.String()
}

// countRings evaluates every minute of now's date.
func countRings(now time.Time, schedules []bell.Schedule) int {
	y, m, d := now.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	n := 0
	for t := start; t.Day() == d; t = t.Add(time.Minute) {
		n += len(bell.Evaluate(t, schedules))
	}
	return n
}

// cronLogger routes robfig/cron's logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Warn("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
