package playback

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"schoolbell/internal/bell"
	"schoolbell/pkg/logx"
)

// FilePlaceholder in a command argument is replaced by the clip's temp path.
const FilePlaceholder = "{file}"

// ExecPlayer plays a clip by writing it to a temp file and running an
// external command such as ["mpv", "--no-video", "{file}"]. When no argument
// contains the placeholder the path is appended.
type ExecPlayer struct {
	Command []string
	TempDir string
	Log     logx.Logger
}

func (p *ExecPlayer) Play(ctx context.Context, clip bell.AudioClip) (Handle, error) {
	if len(p.Command) == 0 || strings.TrimSpace(p.Command[0]) == "" {
		return nil, errors.New("player command is empty")
	}
	path, err := writeTemp(p.TempDir, clip)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, p.Command[0], expandArgs(p.Command[1:], path)...)
	if err := cmd.Start(); err != nil {
		cancel()
		_ = os.Remove(path)
		return nil, fmt.Errorf("start %s: %w", p.Command[0], err)
	}

	h := &procHandle{done: make(chan struct{}), cancel: cancel}
	go func() {
		err := cmd.Wait()
		if rmErr := os.Remove(path); rmErr != nil && !p.Log.IsZero() {
			p.Log.Debug("temp clip not removed", logx.String("path", path), logx.Err(rmErr))
		}
		h.finish(err)
	}()
	return h, nil
}

func expandArgs(args []string, path string) []string {
	out := make([]string, 0, len(args)+1)
	replaced := false
	for _, a := range args {
		if strings.Contains(a, FilePlaceholder) {
			a = strings.ReplaceAll(a, FilePlaceholder, path)
			replaced = true
		}
		out = append(out, a)
	}
	if !replaced {
		out = append(out, path)
	}
	return out
}

func writeTemp(dir string, clip bell.AudioClip) (string, error) {
	f, err := os.CreateTemp(dir, "schoolbell-*"+clipExt(clip))
	if err != nil {
		return "", err
	}
	if _, err := f.Write(clip.Data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// clipExt keeps the original extension so players can sniff the format.
func clipExt(c bell.AudioClip) string {
	if ext := filepath.Ext(c.Name); ext != "" && len(ext) <= 6 {
		return ext
	}
	if c.MIME != "" {
		if exts, _ := mime.ExtensionsByType(c.MIME); len(exts) > 0 {
			return exts[0]
		}
	}
	return ".audio"
}

type procHandle struct {
	done   chan struct{}
	cancel context.CancelFunc

	mu      sync.Mutex
	err     error
	stopped bool
}

func (h *procHandle) finish(err error) {
	h.mu.Lock()
	if !h.stopped {
		h.err = err
	}
	h.mu.Unlock()
	close(h.done)
}

func (h *procHandle) Done() <-chan struct{} { return h.done }

func (h *procHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Stop kills the process and waits until the temp file is gone.
func (h *procHandle) Stop() error {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
	h.cancel()
	<-h.done
	return nil
}
