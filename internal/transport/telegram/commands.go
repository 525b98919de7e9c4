package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"schoolbell/internal/activation"
	"schoolbell/internal/bell"
	"schoolbell/internal/engine"
	"schoolbell/internal/playback"
	"schoolbell/internal/registry"
	"schoolbell/internal/storage"
	"schoolbell/pkg/logx"
)

// Schedules is the registry surface the bot drives.
type Schedules interface {
	Ordered() []bell.Schedule
	Get(id string) (bell.Schedule, bool)
	Save(ctx context.Context, s bell.Schedule) (bell.Schedule, error)
	Delete(ctx context.Context, id string) error
	Toggle(ctx context.Context, id string) (bell.Schedule, error)
	Assign(ctx context.Context, id, clipID string) (bell.Schedule, error)
	Clips() []bell.AudioClip
	AddClip(ctx context.Context, name, mime string, data []byte) (bell.AudioClip, error)
	DeleteClip(ctx context.Context, id string) ([]string, error)
}

type Player interface {
	Manual(ctx context.Context, s bell.Schedule) (playback.ManualState, error)
	Stop()
	Snapshot() playback.Status
}

type Activation interface {
	DeviceID() string
	Activated() bool
	Activate(ctx context.Context, code string) error
}

type StateSource interface {
	State() engine.State
}

type Audit interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
	ListAudit(ctx context.Context, limit int) ([]storage.AuditEntry, error)
}

// Upload is an audio file received from the operator.
type Upload struct {
	Name string
	MIME string
	Data []byte
}

// Request is one operator command, detached from telebot.
type Request struct {
	FromID  int64
	ChatID  int64
	Command string
	Args    []string
	Upload  *Upload
}

func (r *Request) actor() string { return "tg:" + strconv.FormatInt(r.FromID, 10) }

type handlerFunc func(ctx context.Context, req *Request) (string, error)

type command struct {
	name        string
	usage       string
	description string
	// open commands work before the device is activated.
	open   bool
	handle handlerFunc
}

// errUsage marks a malformed command; the reply is the usage line.
var errUsage = errors.New("usage")

func (b *Bot) commands() []command {
	return []command{
		{name: "start", description: "show help", open: true, handle: b.cmdHelp},
		{name: "help", description: "show help", open: true, handle: b.cmdHelp},
		{name: "status", description: "current time, next bell and playback", handle: b.cmdStatus},
		{name: "bells", description: "list bells", handle: b.cmdBells},
		{name: "ring", usage: "/ring <bell>", description: "play a bell now, again to stop", handle: b.cmdRing},
		{name: "stop", description: "stop playback", handle: b.cmdStop},
		{name: "set", usage: "/set <bell|new> HH:MM [days|-] [repeat|-] [label]", description: "add or edit a bell", handle: b.cmdSet},
		{name: "rm", usage: "/rm <bell>", description: "delete a bell", handle: b.cmdRemove},
		{name: "toggle", usage: "/toggle <bell>", description: "enable or disable a bell", handle: b.cmdToggle},
		{name: "audio", description: "list audio clips", handle: b.cmdAudio},
		{name: "assign", usage: "/assign <bell> <clip|none>", description: "set a bell's audio", handle: b.cmdAssign},
		{name: "rmaudio", usage: "/rmaudio <clip>", description: "delete a clip", handle: b.cmdRemoveAudio},
		{name: "device", description: "device id and activation state", open: true, handle: b.cmdDevice},
		{name: "activate", usage: "/activate <code>", description: "activate this device", open: true, handle: b.cmdActivate},
		{name: "audit", usage: "/audit [n]", description: "recent operator actions", open: true, handle: b.cmdAudit},
	}
}

func (b *Bot) cmdHelp(context.Context, *Request) (string, error) {
	var sb strings.Builder
	sb.WriteString("School bell commands:\n")
	for _, c := range b.commands() {
		if c.name == "start" {
			continue
		}
		u := c.usage
		if u == "" {
			u = "/" + c.name
		}
		fmt.Fprintf(&sb, "%s  %s\n", u, c.description)
	}
	sb.WriteString("Send an audio file or document to upload a clip.")
	return sb.String(), nil
}

func (b *Bot) cmdStatus(context.Context, *Request) (string, error) {
	labels := map[string]string{}
	for _, s := range b.deps.Schedules.Ordered() {
		labels[s.ID] = s.Label
	}
	v := statusView{
		Now:      b.now(),
		Engine:   b.deps.Engine.State(),
		Playback: b.deps.Player.Snapshot(),
		Required: b.config().RequireActivation,
		Labels:   labels,
	}
	if b.deps.Activation != nil {
		v.DeviceID = b.deps.Activation.DeviceID()
		v.Activated = b.deps.Activation.Activated()
	}
	return formatStatus(v), nil
}

func (b *Bot) cmdBells(context.Context, *Request) (string, error) {
	names := map[string]string{}
	for _, c := range b.deps.Schedules.Clips() {
		names[c.ID] = c.Name
	}
	return formatBells(b.deps.Schedules.Ordered(), names, b.deps.Player.Snapshot().LastPlayedID), nil
}

func (b *Bot) cmdRing(ctx context.Context, req *Request) (string, error) {
	if len(req.Args) != 1 {
		return "", errUsage
	}
	s, ok := b.deps.Schedules.Get(req.Args[0])
	if !ok {
		return "", fmt.Errorf("%w: %s", registry.ErrUnknownSchedule, req.Args[0])
	}
	st, err := b.deps.Player.Manual(ctx, s)
	b.audit(ctx, req, "ring", s.ID, err)
	if errors.Is(err, playback.ErrNoAudio) {
		return fmt.Sprintf("%s has no audio assigned. Use /assign %s <clip>.", s.Label, s.ID), nil
	}
	if err != nil {
		return "", err
	}
	if st.Playing {
		return "Playing " + s.Label + ". Send /ring " + s.ID + " again to stop.", nil
	}
	return "Stopped " + s.Label + ".", nil
}

func (b *Bot) cmdStop(ctx context.Context, req *Request) (string, error) {
	b.deps.Player.Stop()
	b.audit(ctx, req, "stop", "", nil)
	return "Stopped.", nil
}

// cmdSet starts from the stored bell, or from an enabled Monday to Saturday
// bell for "new". "-" keeps a positional field as it is.
func (b *Bot) cmdSet(ctx context.Context, req *Request) (string, error) {
	if len(req.Args) < 2 {
		return "", errUsage
	}
	s := bell.Schedule{Enabled: true, Days: bell.Weekdays()}
	if id := req.Args[0]; !strings.EqualFold(id, "new") {
		cur, ok := b.deps.Schedules.Get(id)
		if !ok {
			return "", fmt.Errorf("%w: %s", registry.ErrUnknownSchedule, id)
		}
		s = cur
	}
	t, err := bell.ParseTimeOfDay(req.Args[1])
	if err != nil {
		return "", err
	}
	s.Time = t

	rest := req.Args[2:]
	if len(rest) > 0 {
		if rest[0] != "-" {
			if s.Days, err = bell.ParseDays(rest[0]); err != nil {
				return "", err
			}
		}
		rest = rest[1:]
	}
	if len(rest) > 0 {
		if rest[0] != "-" {
			n, err := strconv.Atoi(rest[0])
			if err != nil || n < 0 {
				return "", &bell.ConfigurationError{Field: "repeat_interval", Reason: fmt.Sprintf("%q is not a number of minutes", rest[0])}
			}
			s.RepeatInterval = n
		}
		rest = rest[1:]
	}
	if len(rest) > 0 {
		s.Label = strings.Join(rest, " ")
	}
	if strings.TrimSpace(s.Label) == "" {
		s.Label = "Bell " + s.Time.String()
	}

	saved, err := b.deps.Schedules.Save(ctx, s)
	target := saved.ID
	if err != nil {
		target = req.Args[0]
	}
	b.audit(ctx, req, "set", target, err)
	if err != nil {
		return "", err
	}
	return formatSaved(saved), nil
}

func (b *Bot) cmdRemove(ctx context.Context, req *Request) (string, error) {
	if len(req.Args) != 1 {
		return "", errUsage
	}
	s, ok := b.deps.Schedules.Get(req.Args[0])
	if !ok {
		return "", fmt.Errorf("%w: %s", registry.ErrUnknownSchedule, req.Args[0])
	}
	err := b.deps.Schedules.Delete(ctx, s.ID)
	b.audit(ctx, req, "rm", s.ID, err)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Deleted %s (%s).", s.Label, s.Time), nil
}

func (b *Bot) cmdToggle(ctx context.Context, req *Request) (string, error) {
	if len(req.Args) != 1 {
		return "", errUsage
	}
	s, err := b.deps.Schedules.Toggle(ctx, req.Args[0])
	b.audit(ctx, req, "toggle", req.Args[0], err)
	if err != nil {
		return "", err
	}
	state := "disabled"
	if s.Enabled {
		state = "enabled"
	}
	return fmt.Sprintf("%s (%s) is now %s.", s.Label, s.Time, state), nil
}

func (b *Bot) cmdAudio(context.Context, *Request) (string, error) {
	return formatClips(b.deps.Schedules.Clips(), b.now()), nil
}

func (b *Bot) cmdAssign(ctx context.Context, req *Request) (string, error) {
	if len(req.Args) != 2 {
		return "", errUsage
	}
	clipID := req.Args[1]
	if strings.EqualFold(clipID, "none") {
		clipID = ""
	}
	s, err := b.deps.Schedules.Assign(ctx, req.Args[0], clipID)
	b.audit(ctx, req, "assign", req.Args[0]+"="+clipID, err)
	if err != nil {
		return "", err
	}
	if !s.HasAudio() {
		return s.Label + " is now silent.", nil
	}
	return fmt.Sprintf("%s now plays %s.", s.Label, s.AudioID), nil
}

func (b *Bot) cmdRemoveAudio(ctx context.Context, req *Request) (string, error) {
	if len(req.Args) != 1 {
		return "", errUsage
	}
	cleared, err := b.deps.Schedules.DeleteClip(ctx, req.Args[0])
	b.audit(ctx, req, "rmaudio", req.Args[0], err)
	if err != nil {
		return "", err
	}
	if len(cleared) == 0 {
		return "Deleted clip " + req.Args[0] + ".", nil
	}
	return fmt.Sprintf("Deleted clip %s. Now silent: %s.", req.Args[0], strings.Join(cleared, ", ")), nil
}

func (b *Bot) cmdUpload(ctx context.Context, req *Request) (string, error) {
	up := req.Upload
	if up == nil || len(up.Data) == 0 {
		return "", errors.New("empty upload")
	}
	name := strings.TrimSpace(up.Name)
	if name == "" {
		name = "clip"
	}
	c, err := b.deps.Schedules.AddClip(ctx, name, up.MIME, up.Data)
	b.audit(ctx, req, "upload", name, err)
	if err != nil {
		return "", err
	}
	return formatUploaded(c, len(up.Data)), nil
}

func (b *Bot) cmdDevice(context.Context, *Request) (string, error) {
	if b.deps.Activation == nil {
		return "Activation is not configured.", nil
	}
	state := "not activated"
	if b.deps.Activation.Activated() {
		state = "activated"
	}
	return fmt.Sprintf("Device id: %s\nState: %s", b.deps.Activation.DeviceID(), state), nil
}

func (b *Bot) cmdActivate(ctx context.Context, req *Request) (string, error) {
	if len(req.Args) != 1 {
		return "", errUsage
	}
	if b.deps.Activation == nil {
		return "Activation is not configured.", nil
	}
	err := b.deps.Activation.Activate(ctx, req.Args[0])
	b.audit(ctx, req, "activate", b.deps.Activation.DeviceID(), err)
	if errors.Is(err, activation.ErrInvalidCode) {
		return "That code does not match this device.", nil
	}
	if err != nil {
		return "", err
	}
	return "Device activated. Bells will ring on schedule.", nil
}

func (b *Bot) cmdAudit(ctx context.Context, req *Request) (string, error) {
	if b.deps.Audit == nil {
		return "Audit log is not available.", nil
	}
	n := 10
	if len(req.Args) == 1 {
		v, err := strconv.Atoi(req.Args[0])
		if err != nil || v <= 0 {
			return "", errUsage
		}
		n = min(v, 50)
	}
	entries, err := b.deps.Audit.ListAudit(ctx, n)
	if err != nil {
		return "", err
	}
	return formatAudit(entries, b.now()), nil
}

func (b *Bot) audit(ctx context.Context, req *Request, action, target string, err error) {
	if b.deps.Audit == nil {
		return
	}
	e := storage.AuditEntry{At: b.now(), Actor: req.actor(), Action: action, Target: target, OK: err == nil}
	if err != nil {
		e.Error = err.Error()
	}
	if aerr := b.deps.Audit.AppendAudit(ctx, e); aerr != nil {
		b.log.Warn("audit append failed", logx.Err(aerr))
	}
}

// replyForError turns a handler error into operator-facing text.
func replyForError(c command, err error) string {
	var ce *bell.ConfigurationError
	switch {
	case errors.Is(err, errUsage):
		return "Usage: " + c.usage
	case errors.Is(err, registry.ErrUnknownSchedule):
		return "No such bell. See /bells."
	case errors.Is(err, registry.ErrUnknownClip):
		return "No such clip. See /audio."
	case errors.As(err, &ce):
		return ce.Error()
	default:
		return "Failed: " + err.Error()
	}
}
