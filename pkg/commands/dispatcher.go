// Package commands runs the proxy's local commands: messages that start with
// the configured command prefix are answered by the proxy itself instead of
// being forwarded to the targets.
package commands

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Loping151/BotShepherd-sub000/pkg/onebot"
	bsshare "github.com/Loping151/BotShepherd-sub000/share"
)

// Level is a sender's permission level; higher levels include lower ones
type Level int

const (
	LevelUnknown Level = iota
	LevelMember
	LevelAdmin
	LevelSuperuser
)

var levelNames = [...]string{"未知用户", "普通成员", "管理员", "超级用户"}

func (l Level) String() string {
	if l < LevelUnknown || l > LevelSuperuser {
		return levelNames[LevelUnknown]
	}
	return levelNames[l]
}

// Context is handed to a running command
type Context struct {
	Event  *onebot.MessageEvent
	Name   string
	Args   []string
	Level  Level
	Prefix string
	Policy bsshare.Policy

	// Counter is nil when no message store is configured
	Counter MessageCounter

	dispatcher *Dispatcher
}

// Commands returns the commands available at the caller's level
func (c *Context) Commands() []*Command {
	return c.dispatcher.Available(c.Level)
}

// Handler runs a command and returns the reply text. An empty reply sends
// nothing.
type Handler func(ctx context.Context, c *Context) (string, error)

// Command is one registered command
type Command struct {
	Name    string
	Aliases []string
	Help    string
	Level   Level

	// GroupOnly rejects the command in private chats
	GroupOnly bool

	Run Handler
}

// Stats counts what the dispatcher did
type Stats struct {
	Executed int64
	Failed   int64
	Denied   int64
	Unknown  int64
}

// MessageCounter reports how many messages an account handled since a time
type MessageCounter interface {
	CountMessages(ctx context.Context, selfID onebot.ID, direction bsshare.Direction, since time.Time) (int64, error)
}

// Options configures NewDispatcher
type Options struct {
	// Counter, if set, adds stored message totals to the status command
	Counter MessageCounter
}

// Dispatcher implements bsshare.Dispatcher over a set of registered commands
type Dispatcher struct {
	bsshare.Logger
	policy  bsshare.Policy
	counter MessageCounter

	lock     sync.RWMutex
	commands []*Command
	byName   map[string]*Command

	executed atomic.Int64
	failed   atomic.Int64
	denied   atomic.Int64
	unknown  atomic.Int64
}

// NewDispatcher creates a dispatcher with the built-in commands registered
func NewDispatcher(logger bsshare.Logger, policy bsshare.Policy, opts Options) *Dispatcher {
	d := &Dispatcher{
		Logger:  logger.Fork("commands"),
		policy:  policy,
		counter: opts.Counter,
		byName:  map[string]*Command{},
	}
	for _, c := range builtins() {
		if err := d.Register(c); err != nil {
			d.Panicf("%s", err)
		}
	}
	return d
}

// Register adds a command. Names and aliases must be unique.
func (d *Dispatcher) Register(c *Command) error {
	if c.Name == "" || c.Run == nil {
		return fmt.Errorf("command needs a name and a handler")
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	names := append([]string{c.Name}, c.Aliases...)
	for _, n := range names {
		if _, ok := d.byName[n]; ok {
			return fmt.Errorf("command name \"%s\" already registered", n)
		}
	}
	for _, n := range names {
		d.byName[n] = c
	}
	d.commands = append(d.commands, c)
	return nil
}

// Lookup finds a command by name or alias
func (d *Dispatcher) Lookup(name string) (*Command, bool) {
	d.lock.RLock()
	defer d.lock.RUnlock()
	c, ok := d.byName[name]
	return c, ok
}

// Available returns the commands a sender at level may run, sorted by name
func (d *Dispatcher) Available(level Level) []*Command {
	d.lock.RLock()
	var out []*Command
	for _, c := range d.commands {
		if c.Level <= level {
			out = append(out, c)
		}
	}
	d.lock.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stats returns the dispatcher's counters
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Executed: d.executed.Load(),
		Failed:   d.failed.Load(),
		Denied:   d.denied.Load(),
		Unknown:  d.unknown.Load(),
	}
}

// LevelOf returns the sender's permission level
func (d *Dispatcher) LevelOf(ev *onebot.MessageEvent) Level {
	if d.policy.IsSuperuser(ev.UserID) {
		return LevelSuperuser
	}
	if ev.IsPrivate() {
		return LevelMember
	}
	switch ev.Sender.Role {
	case onebot.RoleOwner, onebot.RoleAdmin:
		return LevelAdmin
	case onebot.RoleMember:
		return LevelMember
	}
	return LevelUnknown
}

// mentionsOther returns true if the message mentions anybody but selfID
func mentionsOther(msg onebot.Message, selfID onebot.ID) bool {
	for _, seg := range msg {
		if seg.Type != onebot.SegmentAt {
			continue
		}
		if id, err := onebot.ParseID(seg.Get("qq")); err != nil || id != selfID {
			return true
		}
	}
	return false
}

// TryHandle implements bsshare.Dispatcher
func (d *Dispatcher) TryHandle(ctx context.Context, ev *onebot.MessageEvent) *onebot.ActionRequest {
	gp := d.policy.GlobalPolicy()
	if gp.CommandIgnoreAtOther && mentionsOther(ev.Message, ev.SelfID) {
		d.DLogf("Ignoring command from %s addressed to somebody else", ev.UserID)
		return nil
	}
	name, args, ok := ev.Message.ParseCommand(gp.CommandPrefix)
	if !ok {
		return nil
	}
	text := d.run(ctx, ev, gp.CommandPrefix, name, args)
	if text == "" {
		return nil
	}
	return Reply(ev, text)
}

func (d *Dispatcher) run(ctx context.Context, ev *onebot.MessageEvent, prefix, name string, args []string) (reply string) {
	cmd, ok := d.Lookup(name)
	if !ok {
		d.unknown.Add(1)
		return fmt.Sprintf("未找到指令: %s\n使用 %s帮助 查看可用指令", name, prefix)
	}
	if cmd.GroupOnly && !ev.IsGroup() {
		return fmt.Sprintf("指令 %s 只能在群聊中使用", cmd.Name)
	}
	level := d.LevelOf(ev)
	if level < cmd.Level {
		d.denied.Add(1)
		d.ILogf("Denied %s to %s (%s)", cmd.Name, ev.UserID, level)
		return fmt.Sprintf("权限不足，需要 %s 权限，当前权限: %s", cmd.Level, level)
	}

	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			d.ELogf("Command %s panicked: %v", cmd.Name, r)
			reply = fmt.Sprintf("指令执行出错: %v", r)
		}
	}()
	d.executed.Add(1)
	d.DLogf("Running %s %v for %s", cmd.Name, args, ev.UserID)
	text, err := cmd.Run(ctx, &Context{
		Event:      ev,
		Name:       name,
		Args:       args,
		Level:      level,
		Prefix:     prefix,
		Policy:     d.policy,
		Counter:    d.counter,
		dispatcher: d,
	})
	if err != nil {
		d.failed.Add(1)
		d.WLogf("Command %s failed: %s", cmd.Name, err)
		return fmt.Sprintf("指令执行出错: %s", err)
	}
	return text
}

// Reply builds the action that answers ev with text. Group replies quote
// the original message.
func Reply(ev *onebot.MessageEvent, text string) *onebot.ActionRequest {
	if ev.IsGroup() {
		var msg onebot.Message
		if ev.MessageID != 0 {
			msg = append(msg, onebot.ReplySegment(strconv.FormatInt(ev.MessageID, 10)))
		}
		msg = append(msg, onebot.TextSegment(text))
		return onebot.NewSendGroupMsg(ev.GroupID, msg)
	}
	return onebot.NewSendPrivateMsg(ev.UserID, onebot.Message{onebot.TextSegment(text)})
}

// usage formats the help line of one command
func usage(prefix string, c *Command) string {
	line := prefix + c.Name
	if len(c.Aliases) > 0 {
		line += " (" + strings.Join(c.Aliases, "/") + ")"
	}
	if c.Help != "" {
		line += ": " + c.Help
	}
	return line
}
