package main

import (
	"bytes"
	"strings"
	"testing"

	"schoolbell/internal/bell"
)

func TestPrintBells(t *testing.T) {
	t.Parallel()
	list := []bell.Schedule{
		{ID: "entry", Time: bell.TimeOfDay{Hour: 7, Minute: 20}, Label: "School entry", Enabled: true, Days: bell.Weekdays(), AudioID: "c1"},
		{ID: "hour-8", Time: bell.TimeOfDay{Hour: 8}, Label: "Period 1", Days: bell.Weekdays(), RepeatInterval: 15},
	}
	var buf bytes.Buffer
	if err := printBells(&buf, list, map[string]string{"c1": "chime.ogg"}); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	if f := strings.Fields(lines[1]); f[0] != "entry" || f[1] != "07:20" || f[len(f)-2] != "chime.ogg" || f[len(f)-1] != "yes" {
		t.Fatalf("entry row = %q", lines[1])
	}
	if f := strings.Fields(lines[2]); f[len(f)-3] != "15m" || f[len(f)-2] != "-" || f[len(f)-1] != "no" {
		t.Fatalf("hour-8 row = %q", lines[2])
	}
}

func TestAudioMIME(t *testing.T) {
	t.Parallel()
	if got := audioMIME("bell.mp3", []byte("ID3\x04\x00\x00")); got != "audio/mpeg" {
		t.Fatalf("mp3 = %q", got)
	}
	if got := audioMIME("clip", []byte("OggS\x00\x02")); got != "application/ogg" {
		t.Fatalf("sniffed ogg = %q", got)
	}
	if got := audioMIME("notes", []byte("hello world")); strings.HasPrefix(got, "audio/") {
		t.Fatalf("text sniffed as audio: %q", got)
	}
}
