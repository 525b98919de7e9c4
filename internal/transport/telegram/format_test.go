package telegram

import (
	"strings"
	"testing"
	"time"

	"schoolbell/internal/bell"
	"schoolbell/internal/storage"
)

func TestFormatBells(t *testing.T) {
	t.Parallel()
	list := []bell.Schedule{
		{ID: "entry", Time: bell.TimeOfDay{Hour: 7, Minute: 20}, Label: "School entry", Enabled: true, Days: bell.Weekdays(), AudioID: "c1"},
		{ID: "hour-8", Time: bell.TimeOfDay{Hour: 8}, Label: "Period 1", Days: bell.NewDaySet(time.Monday), RepeatInterval: 15},
	}
	out := formatBells(list, map[string]string{"c1": "ding.mp3"}, "entry")
	want := "[x] 07:20 School entry  (entry) <- last played\n" +
		"    Mon,Tue,Wed,Thu,Fri,Sat, audio: ding.mp3\n" +
		"[ ] 08:00 Period 1  (hour-8)\n" +
		"    Mon, every 15 min, silent"
	if out != want {
		t.Fatalf("got:\n%s\nwant:\n%s", out, want)
	}
	if formatBells(nil, nil, "") != "No bells configured." {
		t.Fatal("empty list text")
	}
}

func TestFormatAuditAndClips(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	entries := []storage.AuditEntry{
		{At: now.Add(-2 * time.Hour), Actor: "tg:1", Action: "upload", Target: "a.mp3", OK: true},
		{At: now.Add(-3 * time.Minute), Actor: "cli", Action: "rmaudio", Target: "c9", Error: "unknown audio clip"},
	}
	out := formatAudit(entries, now)
	if !strings.Contains(out, "2 hours ago  tg:1 upload a.mp3 (ok)") ||
		!strings.Contains(out, "3 minutes ago  cli rmaudio c9 (failed: unknown audio clip)") {
		t.Fatalf("audit:\n%s", out)
	}

	clips := []bell.AudioClip{{ID: "c1", Name: "ding.mp3", CreatedAt: now.Add(-48 * time.Hour)}}
	if got := formatClips(clips, now); got != "c1  ding.mp3, added 2 days ago" {
		t.Fatalf("clips = %q", got)
	}
}

func TestSplitText(t *testing.T) {
	t.Parallel()
	if got := splitText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short = %q", got)
	}
	text := strings.Repeat("line\n", 10)
	chunks := splitText(text, 12)
	var joined []string
	for _, c := range chunks {
		if len([]rune(c)) > 12 {
			t.Fatalf("chunk too long: %q", c)
		}
		joined = append(joined, c)
	}
	if strings.Count(strings.Join(joined, "\n"), "line") != 10 {
		t.Fatalf("lost text: %q", chunks)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	if truncate("abcdef", 4) != "abc…" || truncate("abc", 4) != "abc" {
		t.Fatal("truncate")
	}
}
