// Package telegram is the operator UI: a telebot long-poll bot restricted to
// configured owners, plus bell and log notifications to a chat.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"schoolbell/internal/bell"
	"schoolbell/internal/eventbus"
	"schoolbell/pkg/logx"
)

const (
	// Bot API getFile refuses anything larger.
	maxUploadBytes = 20 << 20
	commandTimeout = 30 * time.Second
	sendTimeout    = 10 * time.Second
)

type Config struct {
	Token        string
	Owners       []int64
	NotifyChatID int64
	NotifyBells  bool
	PollTimeout  time.Duration
	// CommandRate caps commands per second per user; <= 0 disables the limit.
	CommandRate int
	// RequireActivation refuses bell commands until the device is activated.
	RequireActivation bool
}

func (c Config) isOwner(id int64) bool {
	for _, o := range c.Owners {
		if o == id {
			return true
		}
	}
	return false
}

// Deps are the services the bot operates on. Activation and Audit may be nil.
type Deps struct {
	Schedules  Schedules
	Player     Player
	Engine     StateSource
	Activation Activation
	Audit      Audit
	Bus        eventbus.Bus
	Now        func() time.Time
}

// sender is the part of *tele.Bot used for outgoing messages.
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type Bot struct {
	deps Deps
	log  logx.Logger
	tb   *tele.Bot
	out  sender

	mu       sync.RWMutex
	cfg      Config
	limiters map[int64]*rate.Limiter
}

// New connects to the Bot API (getMe) and registers handlers. Polling starts
// with Run.
func New(cfg Config, deps Deps, log logx.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	tb, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
		OnError: func(err error, c tele.Context) {
			log.Warn("telebot error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	b := newBot(cfg, deps, log, tb)
	b.tb = tb
	b.register(tb)
	return b, nil
}

func newBot(cfg Config, deps Deps, log logx.Logger, out sender) *Bot {
	if log.IsZero() {
		log = logx.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Bot{
		deps:     deps,
		log:      log,
		out:      out,
		cfg:      cfg,
		limiters: map[int64]*rate.Limiter{},
	}
}

// Apply swaps the hot-reloadable settings. Token and poll timeout need a new
// bot and are ignored here.
func (b *Bot) Apply(cfg Config) {
	b.mu.Lock()
	cfg.Token = b.cfg.Token
	cfg.PollTimeout = b.cfg.PollTimeout
	if cfg.CommandRate != b.cfg.CommandRate {
		b.limiters = map[int64]*rate.Limiter{}
	}
	b.cfg = cfg
	b.mu.Unlock()
}

func (b *Bot) config() Config {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg
}

func (b *Bot) now() time.Time { return b.deps.Now() }

// Run polls until ctx is cancelled. It returns an error if the poller exits
// on its own so a restart loop can bring it back.
func (b *Bot) Run(ctx context.Context) error {
	if b.tb == nil {
		return errors.New("telegram: bot not connected")
	}
	stopped := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			b.tb.Stop()
		case <-stopped:
		}
	}()
	b.log.Info("polling started", logx.Int("owners", len(b.config().Owners)))
	b.tb.Start()
	close(stopped)
	b.log.Info("polling stopped")
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errors.New("telegram poller exited")
}

// Notify sends text to chatID. It implements logx.Notifier.
func (b *Bot) Notify(ctx context.Context, chatID int64, text string) error {
	if chatID == 0 {
		return errors.New("telegram: no chat id")
	}
	to := &tele.Chat{ID: chatID}
	for _, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := b.out.Send(to, chunk, &tele.SendOptions{DisableWebPagePreview: true}); err != nil {
			return err
		}
	}
	return nil
}

// RunNotifications forwards bell and playback-error events to the notify
// chat until ctx is cancelled.
func (b *Bot) RunNotifications(ctx context.Context) error {
	if b.deps.Bus == nil {
		<-ctx.Done()
		return nil
	}
	ch, unsubscribe := b.deps.Bus.Subscribe(32, eventbus.TypeBellFired, eventbus.TypePlaybackError)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			b.notifyEvent(ctx, ev)
		}
	}
}

func (b *Bot) notifyEvent(ctx context.Context, ev eventbus.Event) {
	cfg := b.config()
	if !cfg.NotifyBells || cfg.NotifyChatID == 0 {
		return
	}
	var text string
	switch d := ev.Data.(type) {
	case eventbus.BellFired:
		text = formatFired(d)
	case eventbus.PlaybackError:
		text = formatPlaybackError(d)
	default:
		return
	}
	sctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := b.Notify(sctx, cfg.NotifyChatID, text); err != nil {
		b.log.Warn("notification failed", logx.String("event", ev.Type), logx.Err(err))
	}
}

// dispatch runs one command through the access checks. An empty reply means
// the request is ignored.
func (b *Bot) dispatch(ctx context.Context, c command, req *Request) string {
	cfg := b.config()
	log := b.log.With(logx.String("cmd", c.name), logx.Int64("from_id", req.FromID))
	if !cfg.isOwner(req.FromID) {
		log.Debug("ignored non-owner")
		return ""
	}
	if !b.allow(req.FromID) {
		log.Debug("rate limited")
		return "Too many commands, slow down."
	}
	if cfg.RequireActivation && !c.open && b.deps.Activation != nil && !b.deps.Activation.Activated() {
		return "This device is not activated. See /device and /activate <code>."
	}

	h := chain(c.handle, recoverMW(log), logMW(log))
	reply, err := h(ctx, req)
	if err != nil {
		return replyForError(c, err)
	}
	return reply
}

func (b *Bot) allow(userID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cfg.CommandRate <= 0 {
		return true
	}
	l := b.limiters[userID]
	if l == nil {
		l = rate.NewLimiter(rate.Limit(b.cfg.CommandRate), b.cfg.CommandRate*2)
		b.limiters[userID] = l
	}
	return l.Allow()
}

type middleware func(handlerFunc) handlerFunc

func chain(h handlerFunc, m ...middleware) handlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func recoverMW(log logx.Logger) middleware {
	return func(next handlerFunc) handlerFunc {
		return func(ctx context.Context, req *Request) (reply string, err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic recovered", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
					err = fmt.Errorf("internal error")
				}
			}()
			return next(ctx, req)
		}
	}
}

func logMW(log logx.Logger) middleware {
	return func(next handlerFunc) handlerFunc {
		return func(ctx context.Context, req *Request) (string, error) {
			start := time.Now()
			reply, err := next(ctx, req)
			fields := []logx.Field{logx.Strings("args", req.Args), logx.Duration("dur", time.Since(start))}
			if err != nil && !errors.Is(err, errUsage) {
				log.Warn("command failed", append(fields, logx.Err(err))...)
			} else {
				log.Debug("command ok", fields...)
			}
			return reply, err
		}
	}
}

var (
	btnRing   = tele.Btn{Unique: "ring"}
	btnToggle = tele.Btn{Unique: "toggle"}
)

func (b *Bot) register(tb *tele.Bot) {
	byName := map[string]command{}
	for _, c := range b.commands() {
		byName[c.name] = c
		tb.Handle("/"+c.name, b.bindCommand(c))
	}
	upload := command{name: "upload", handle: b.cmdUpload}
	tb.Handle(tele.OnAudio, b.bindUpload(upload))
	tb.Handle(tele.OnDocument, b.bindUpload(upload))
	tb.Handle(tele.OnVoice, b.bindUpload(upload))
	tb.Handle(&btnRing, b.bindButton(byName["ring"]))
	tb.Handle(&btnToggle, b.bindButton(byName["toggle"]))
}

func senderID(tc tele.Context) int64 {
	if u := tc.Sender(); u != nil {
		return u.ID
	}
	return 0
}

func chatID(tc tele.Context) int64 {
	if c := tc.Chat(); c != nil {
		return c.ID
	}
	return 0
}

func (b *Bot) bindCommand(c command) tele.HandlerFunc {
	return func(tc tele.Context) error {
		req := &Request{FromID: senderID(tc), ChatID: chatID(tc), Command: c.name, Args: tc.Args()}
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		reply := b.dispatch(ctx, c, req)
		if reply == "" {
			return nil
		}
		var markup *tele.ReplyMarkup
		if c.name == "bells" {
			markup = bellsMarkup(b.deps.Schedules.Ordered())
		}
		return sendChunks(tc, reply, markup)
	}
}

func (b *Bot) bindButton(c command) tele.HandlerFunc {
	return func(tc tele.Context) error {
		req := &Request{FromID: senderID(tc), ChatID: chatID(tc), Command: c.name, Args: []string{tc.Data()}}
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		reply := b.dispatch(ctx, c, req)
		if reply == "" {
			return tc.Respond()
		}
		_ = tc.Respond(&tele.CallbackResponse{Text: truncate(reply, 190)})
		return tc.Send(reply)
	}
}

func (b *Bot) bindUpload(c command) tele.HandlerFunc {
	return func(tc tele.Context) error {
		from := senderID(tc)
		if !b.config().isOwner(from) {
			return nil
		}
		file, name, mime := uploadOf(tc.Message())
		if file == nil {
			return nil
		}
		if !isAudio(name, mime) {
			return tc.Send("That does not look like an audio file.")
		}
		if file.FileSize > maxUploadBytes {
			return tc.Send("File too large, the limit is 20 MB.")
		}

		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		data, err := b.download(file)
		if err != nil {
			b.log.Warn("download failed", logx.String("file_id", file.FileID), logx.Err(err))
			return tc.Send("Download failed, try again.")
		}
		req := &Request{FromID: from, ChatID: chatID(tc), Command: c.name,
			Upload: &Upload{Name: name, MIME: mime, Data: data}}
		if reply := b.dispatch(ctx, c, req); reply != "" {
			return tc.Send(reply)
		}
		return nil
	}
}

func (b *Bot) download(f *tele.File) ([]byte, error) {
	rc, err := b.tb.File(f)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxUploadBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxUploadBytes {
		return nil, errors.New("file exceeds upload limit")
	}
	return data, nil
}

func uploadOf(m *tele.Message) (file *tele.File, name, mime string) {
	switch {
	case m == nil:
		return nil, "", ""
	case m.Audio != nil:
		name = m.Audio.FileName
		if name == "" {
			name = strings.TrimSpace(m.Audio.Performer + " " + m.Audio.Title)
		}
		return &m.Audio.File, name, m.Audio.MIME
	case m.Document != nil:
		return &m.Document.File, m.Document.FileName, m.Document.MIME
	case m.Voice != nil:
		return &m.Voice.File, "voice-" + time.Unix(m.Unixtime, 0).Format("20060102-150405") + ".ogg", m.Voice.MIME
	}
	return nil, "", ""
}

var audioExts = map[string]bool{
	".mp3": true, ".ogg": true, ".oga": true, ".opus": true, ".wav": true,
	".m4a": true, ".aac": true, ".flac": true,
}

func isAudio(name, mime string) bool {
	mime = strings.ToLower(mime)
	if strings.HasPrefix(mime, "audio/") || mime == "application/ogg" {
		return true
	}
	return audioExts[strings.ToLower(path.Ext(name))]
}

func bellsMarkup(list []bell.Schedule) *tele.ReplyMarkup {
	if len(list) == 0 {
		return nil
	}
	m := &tele.ReplyMarkup{}
	rows := make([]tele.Row, 0, len(list))
	for _, s := range list {
		toggle := "Disable"
		if !s.Enabled {
			toggle = "Enable"
		}
		rows = append(rows, m.Row(
			m.Data("Ring "+s.Time.String()+" "+truncate(s.Label, 20), btnRing.Unique, s.ID),
			m.Data(toggle, btnToggle.Unique, s.ID),
		))
	}
	m.Inline(rows...)
	return m
}

func sendChunks(tc tele.Context, text string, markup *tele.ReplyMarkup) error {
	chunks := splitText(text, textLimit)
	for i, chunk := range chunks {
		opts := &tele.SendOptions{DisableWebPagePreview: true}
		if i == len(chunks)-1 && markup != nil {
			opts.ReplyMarkup = markup
		}
		if err := tc.Send(chunk, opts); err != nil {
			return err
		}
	}
	return nil
}

func truncate(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n-1]) + "…"
}
