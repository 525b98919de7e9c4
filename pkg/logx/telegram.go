package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Notifier delivers a plain-text message to a chat.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

const (
	tgQueueSize   = 256
	tgMaxMessage  = 3500
	tgMaxValue    = 600
	tgSendTimeout = 10 * time.Second
)

type telegramSink struct {
	mu       sync.Mutex
	notifier Notifier
	chatID   int64
	minLevel zerolog.Level
	limiter  *rate.Limiter

	queue     chan string
	startOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func newTelegramSink() *telegramSink {
	return &telegramSink{
		queue:    make(chan string, tgQueueSize),
		minLevel: LevelWarn,
		limiter:  rate.NewLimiter(1, 1),
	}
}

func (t *telegramSink) attach(n Notifier, chatID int64) {
	t.mu.Lock()
	t.notifier = n
	t.chatID = chatID
	t.mu.Unlock()
	if n != nil {
		t.start()
	}
}

func (t *telegramSink) configure(min zerolog.Level, perSec int) {
	if perSec < 1 {
		perSec = 1
	}
	t.mu.Lock()
	t.minLevel = min
	t.limiter = rate.NewLimiter(rate.Limit(perSec), perSec)
	t.mu.Unlock()
}

func (t *telegramSink) start() {
	t.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		t.mu.Lock()
		t.cancel = cancel
		t.mu.Unlock()
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.run(ctx)
		}()
	})
}

func (t *telegramSink) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-t.queue:
			t.mu.Lock()
			n, chatID := t.notifier, t.chatID
			t.mu.Unlock()
			if n == nil || chatID == 0 {
				continue
			}
			sendCtx, cancel := context.WithTimeout(ctx, tgSendTimeout)
			_ = n.Notify(sendCtx, chatID, msg)
			cancel()
		}
	}
}

func (t *telegramSink) close() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
		t.wg.Wait()
	}
}

func (t *telegramSink) Write(p []byte) (int, error) {
	return t.WriteLevel(LevelInfo, p)
}

// WriteLevel never blocks: lines below the min level, over the rate limit, or
// arriving with a full queue are dropped.
func (t *telegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	t.mu.Lock()
	ready := t.notifier != nil && t.chatID != 0
	min, lim := t.minLevel, t.limiter
	t.mu.Unlock()

	if !ready || level < min || !lim.Allow() {
		return len(p), nil
	}
	msg := formatTelegramLine(p)
	if msg == "" {
		return len(p), nil
	}
	select {
	case t.queue <- msg:
	default:
	}
	return len(p), nil
}

// formatTelegramLine renders one zerolog JSON line as "[LEVEL] message" plus
// one "- key=value" line per field, keys sorted.
func formatTelegramLine(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return truncate(raw, tgMaxMessage)
	}

	var b strings.Builder
	if lvl, _ := m["level"].(string); lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	msg, _ := m[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, truncate(fmt.Sprint(m[k]), tgMaxValue))
	}
	return truncate(b.String(), tgMaxMessage)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
