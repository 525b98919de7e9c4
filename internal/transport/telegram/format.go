package telegram

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"schoolbell/internal/bell"
	"schoolbell/internal/engine"
	"schoolbell/internal/eventbus"
	"schoolbell/internal/playback"
	"schoolbell/internal/storage"
)

const textLimit = 4000

// statusView collects what /status prints.
type statusView struct {
	Now       time.Time
	Engine    engine.State
	Playback  playback.Status
	DeviceID  string
	Activated bool
	Required  bool
	Labels    map[string]string
}

func formatStatus(v statusView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Now: %s\n", v.Now.Format("Mon 15:04:05"))

	if n := v.Engine.Next; n != nil {
		fmt.Fprintf(&b, "Next: %s at %s (%s)\n", n.Label(), n.FireTime.Format("15:04"), humanize.RelTime(v.Now, n.FireTime, "from now", "ago"))
	} else {
		b.WriteString("Next: no more bells today\n")
	}
	if f := v.Engine.LastFired; f != nil {
		fmt.Fprintf(&b, "Last rang: %s at %s\n", f.Schedule.Label, f.At.Format("15:04"))
	}

	switch {
	case v.Playback.Playing:
		fmt.Fprintf(&b, "Playing: %s (%s, %s)\n", labelOf(v.Labels, v.Playback.ScheduleID), v.Playback.Lane,
			humanize.RelTime(v.Playback.StartedAt, v.Now, "ago", "from now"))
	default:
		b.WriteString("Playing: nothing\n")
	}
	if v.Playback.LastPlayedID != "" {
		fmt.Fprintf(&b, "Last played: %s\n", labelOf(v.Labels, v.Playback.LastPlayedID))
	}

	if v.Required {
		state := "not activated, bells are muted"
		if v.Activated {
			state = "activated"
		}
		fmt.Fprintf(&b, "Device %s: %s\n", v.DeviceID, state)
	}
	fmt.Fprintf(&b, "Ticks: %s", humanize.Comma(int64(v.Engine.Ticks)))
	return b.String()
}

func labelOf(labels map[string]string, id string) string {
	if l, ok := labels[id]; ok && l != "" {
		return l
	}
	return id
}

// formatBells renders the ordered schedule list. lastPlayed gets a marker.
func formatBells(list []bell.Schedule, clipNames map[string]string, lastPlayed string) string {
	if len(list) == 0 {
		return "No bells configured."
	}
	var b strings.Builder
	for i, s := range list {
		if i > 0 {
			b.WriteByte('\n')
		}
		mark := "[ ]"
		if s.Enabled {
			mark = "[x]"
		}
		fmt.Fprintf(&b, "%s %s %s  (%s)", mark, s.Time, s.Label, s.ID)
		if s.ID == lastPlayed {
			b.WriteString(" <- last played")
		}
		b.WriteString("\n    ")
		b.WriteString(s.Days.String())
		if s.Repeats() {
			fmt.Fprintf(&b, ", every %d min", s.RepeatInterval)
		}
		if s.HasAudio() {
			name := clipNames[s.AudioID]
			if name == "" {
				name = s.AudioID
			}
			fmt.Fprintf(&b, ", audio: %s", name)
		} else {
			b.WriteString(", silent")
		}
	}
	return b.String()
}

func formatClips(clips []bell.AudioClip, now time.Time) string {
	if len(clips) == 0 {
		return "No audio clips. Send an audio file to upload one."
	}
	var b strings.Builder
	for i, c := range clips {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s  %s, added %s", c.ID, c.Name, humanize.RelTime(c.CreatedAt, now, "ago", "from now"))
	}
	return b.String()
}

func formatUploaded(c bell.AudioClip, size int) string {
	return fmt.Sprintf("Saved %s (%s)\nid: %s\nUse /assign <bell> %s", c.Name, humanize.Bytes(uint64(size)), c.ID, c.ID)
}

func formatSaved(s bell.Schedule) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Saved %s: %s %s", s.Label, s.Time, s.Days)
	if s.Repeats() {
		fmt.Fprintf(&b, ", every %d min", s.RepeatInterval)
	}
	if !s.Enabled {
		b.WriteString(", disabled")
	}
	fmt.Fprintf(&b, "\nid: %s", s.ID)
	return b.String()
}

func formatAudit(entries []storage.AuditEntry, now time.Time) string {
	if len(entries) == 0 {
		return "No operator actions recorded."
	}
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		res := "ok"
		if !e.OK {
			res = "failed: " + e.Error
		}
		fmt.Fprintf(&b, "%s  %s %s %s (%s)", humanize.RelTime(e.At, now, "ago", "from now"), e.Actor, e.Action, e.Target, res)
	}
	return b.String()
}

func formatFired(ev eventbus.BellFired) string {
	label := ev.Label
	if ev.Repeat {
		label += " (repeat)"
	}
	s := fmt.Sprintf("Bell: %s at %s", label, ev.At.Format("15:04"))
	if !ev.HasAudio {
		s += " (no audio assigned)"
	}
	return s
}

func formatPlaybackError(ev eventbus.PlaybackError) string {
	return fmt.Sprintf("Playback failed for %s: %s", ev.ScheduleID, ev.Error)
}

// splitText cuts s into chunks of at most limit runes, preferring newlines.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	var out []string
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start+limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
