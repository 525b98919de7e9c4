package activation

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"schoolbell/internal/storage"
	"schoolbell/pkg/logx"
)

func TestCodeFor(t *testing.T) {
	t.Parallel()
	tests := []struct{ id, suffix, want string }{
		{"AB12CD34", "HL", "43DC21BAHL"},
		{"ab12cd34", "HL", "43DC21BAHL"},
		{"X", "ZZ", "XZZ"},
	}
	for _, tt := range tests {
		if got := CodeFor(tt.id, tt.suffix); got != tt.want {
			t.Errorf("CodeFor(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestNewDeviceIDShape(t *testing.T) {
	t.Parallel()
	re := regexp.MustCompile(`^[0-9A-F]{8}$`)
	for i := 0; i < 20; i++ {
		if id := NewDeviceID(); !re.MatchString(id) {
			t.Fatalf("device id %q", id)
		}
	}
}

func TestActivateFlow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	_ = st.PutSetting(ctx, storage.KeyDeviceID, "AB12CD34")

	g := New(st, "", logx.Nop())
	if err := g.Init(ctx); err != nil {
		t.Fatal(err)
	}
	if g.Activated() {
		t.Fatal("fresh device reported activated")
	}
	if err := g.Activate(ctx, "wrong"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("err = %v", err)
	}
	if err := g.Activate(ctx, "  43dc21bahl "); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if !g.Activated() {
		t.Fatal("not activated")
	}

	// The flag survives a restart.
	g2 := New(st, "", logx.Nop())
	if err := g2.Init(ctx); err != nil {
		t.Fatal(err)
	}
	if !g2.Activated() || g2.DeviceID() != "AB12CD34" {
		t.Fatalf("reloaded gate: id=%s activated=%v", g2.DeviceID(), g2.Activated())
	}
}

func TestInitCreatesAndKeepsDeviceID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	g := New(st, "HL", logx.Nop())
	if err := g.Init(ctx); err != nil {
		t.Fatal(err)
	}
	first := g.DeviceID()
	if first == "" {
		t.Fatal("no device id")
	}
	g2 := New(st, "HL", logx.Nop())
	_ = g2.Init(ctx)
	if g2.DeviceID() != first {
		t.Fatalf("device id changed across restarts: %s -> %s", first, g2.DeviceID())
	}
}

func TestSuffixChange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	_ = st.PutSetting(ctx, storage.KeyDeviceID, "AAAABBBB")
	g := New(st, "hl", logx.Nop())
	_ = g.Init(ctx)
	if !g.Valid("BBBBAAAAHL") {
		t.Fatal("lowercase suffix should be normalized")
	}
	g.SetSuffix("xy")
	if g.Valid("BBBBAAAAHL") || !g.Valid("BBBBAAAAXY") {
		t.Fatal("suffix change not applied")
	}
}
