// Package dispatch routes inbound chat events through the query filter
// chain. Each filter either passes the message on, handles it with a
// reply, or aborts the whole dispatch; evaluation is short-circuited and
// stops at the first filter that does not pass.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"railbot/internal/admin"
	"railbot/internal/category"
	"railbot/internal/chat"
	"railbot/internal/config"
	"railbot/internal/extract"
	"railbot/internal/flight"
	"railbot/internal/gateway"
	"railbot/internal/kb"
	"railbot/internal/state"
	"railbot/internal/storage"
	"railbot/internal/track"
	"railbot/internal/train12306"
)

// Outcome is a filter's verdict on a message or identifier.
type Outcome int

const (
	// Pass hands the message to the next filter in the chain.
	Pass Outcome = iota
	// Handled means the filter replied; later filters are skipped but
	// the remaining identifiers of the message are still processed.
	Handled
	// Abort stops the whole dispatch, identifiers included.
	Abort
)

// WikiSearcher finds an encyclopedia article for a query term.
type WikiSearcher interface {
	Search(ctx context.Context, term string) (string, bool)
}

// TrainLookup resolves a passenger train code to its timetable facts.
type TrainLookup interface {
	InfoByTrainCode(ctx context.Context, trainCode string) (*train12306.Info, error)
}

// FlightLookup describes the most recent flight for an ident.
type FlightLookup interface {
	Status(ctx context.Context, ident string) (string, bool, error)
}

// AircraftRegistry lists civil aircraft records for a registration.
type AircraftRegistry interface {
	Lookup(ctx context.Context, registration string) ([]flight.Aircraft, error)
}

// QRResolver resolves an EMU unit QR code to a description.
type QRResolver interface {
	Query(ctx context.Context, code string) (string, error)
}

// FreightTracker is the freight car tracking gateway.
type FreightTracker interface {
	LoadCaptcha(ctx context.Context) ([]byte, error)
	FillCaptcha(answer string)
	TrackCar(ctx context.Context, carNo string) (kb.Trace, error)
	TrackContainer(ctx context.Context, containerNo string) (kb.Trace, error)
}

// Engine wires the filter chain to its collaborators. Optional services
// may be left nil; their filters then pass everything through.
type Engine struct {
	Config     *config.Config
	State      *state.Runtime
	KB         *kb.KB
	Classifier *category.Classifier
	Gateway    gateway.Gateway
	Admin      *admin.Commands
	Store      storage.Store

	Wiki     WikiSearcher
	Trains   TrainLookup
	Flight   FlightLookup
	Registry AircraftRegistry
	Shanghai QRResolver
	Beijing  QRResolver
	Tracker  FreightTracker
	Solver   track.CaptchaSolver

	// Intn picks reply variants; defaults to math/rand.
	Intn func(n int) int

	Logger *log.Logger
}

// msgContext carries the per-dispatch state of one group message. The
// message text is mutable: the abuse filter strips the bot's names and
// surrounding junk before later filters see it.
type msgContext struct {
	ev      *chat.Event
	message string
	ids     *extract.Identifiers
	title   string

	captchaSolved bool
	outcome       string
	replies       []string
}

func (e *Engine) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

func (e *Engine) intn(n int) int {
	if e.Intn != nil {
		return e.Intn(n)
	}
	return rand.Intn(n)
}

// note records the first non-pass verdict for the query log.
func (c *msgContext) note(outcome string) {
	if c.outcome == "" {
		c.outcome = outcome
	}
}

func (e *Engine) send(ctx context.Context, c *msgContext, text string) {
	if text == "" {
		return
	}
	if err := e.Gateway.Send(ctx, c.ev, text); err != nil {
		e.logf("send reply: %v", err)
	}
	c.replies = append(c.replies, text)
}

func userOf(ev *chat.Event) int64 {
	if ev.Sender.UserID != 0 {
		return int64(ev.Sender.UserID)
	}
	return int64(ev.UserID)
}

// Handle consumes one inbound event: notices and friend requests get
// their fixed responses, private messages the administrator escapes,
// and group messages the full filter chain.
func (e *Engine) Handle(ctx context.Context, ev *chat.Event) {
	switch ev.PostType {
	case "notice":
		e.handleNotice(ctx, ev)
		return
	case "request":
		e.handleRequest(ctx, ev)
		return
	}

	ev.Normalize()
	user := userOf(ev)

	if ev.IsPrivate() && e.Admin != nil && e.Admin.Loopback(ctx, ev) {
		return
	}
	if e.Config.IsAdmin(user) && e.Admin != nil {
		if reply, ok := e.Admin.ParseShell(ctx, ev, ev.Message); ok {
			if err := e.Gateway.Send(ctx, ev, reply); err != nil {
				e.logf("send shell reply: %v", err)
			}
			return
		}
		if ev.IsPrivate() {
			// Echo so the administrator can inspect raw markup.
			if err := e.Gateway.Send(ctx, ev, ev.RawMessage); err != nil {
				e.logf("send echo: %v", err)
			}
			return
		}
	}
	if !ev.IsGroup() {
		return
	}

	c := e.newContext(ev)
	e.run(ctx, c)
	e.logQuery(ctx, c)
}

func (e *Engine) newContext(ev *chat.Event) *msgContext {
	title := ev.Sender.Title
	if title == "" {
		title = e.Config.Title(userOf(ev))
	}
	return &msgContext{
		ev:      ev,
		message: ev.Message,
		ids:     extract.Match(ev.Message),
		title:   title,
	}
}

// run drives the chain over one group message.
func (e *Engine) run(ctx context.Context, c *msgContext) {
	addressed := c.ev.Mentioned() || e.Config.SelfRe().MatchString(c.ev.RawMessage)
	if !addressed {
		return
	}
	if e.greetingFilter(ctx, c) != Pass {
		return
	}
	if e.abuseFilter(ctx, c) != Pass {
		return
	}
	if e.speedFilter(ctx, c) != Pass {
		return
	}

	keys := c.ids.Keys()
	unknown := make([]bool, len(keys))
	for i, key := range keys {
		unknown[i] = e.identifierChain(ctx, c, key) == Pass
	}
	if len(keys) == 0 {
		return
	}

	// A message whose identifiers all fell through may still be
	// understandable as a whole, unless it is nothing but the bare
	// identifier itself.
	if allTrue(unknown) && !c.ids.IsWholeMessage(c.message) {
		if e.wikiFilter(ctx, c, c.message) == Handled {
			return
		}
	}

	var leftovers []string
	for i, key := range keys {
		if !unknown[i] {
			continue
		}
		if e.wikiFilter(ctx, c, c.ids.Surface(key)) == Handled {
			continue
		}
		if e.wildcardTrainFilter(ctx, c, key) == Handled {
			continue
		}
		if e.wildcardModelFilter(ctx, c, key) == Handled {
			continue
		}
		leftovers = append(leftovers, c.ids.Surface(key))
	}
	if len(leftovers) > 0 {
		c.note("unknown")
		e.send(ctx, c, fmt.Sprintf("%s 是什么哦，没见过呢", strings.Join(leftovers, "、")))
	}
}

func allTrue(flags []bool) bool {
	for _, f := range flags {
		if !f {
			return false
		}
	}
	return true
}

// handleNotice reacts to file uploads and new group members.
func (e *Engine) handleNotice(ctx context.Context, ev *chat.Event) {
	var reply string
	switch {
	case ev.NoticeType == "group_upload" && ev.File != nil && ev.File.Name == "base.apk":
		reply = "怎么又双叒叕是 base.apk [CQ:face,id=39]"
	case ev.NoticeType == "group_increase":
		reply = "群地位-1"
	default:
		return
	}
	ev.MessageType = "group"
	if err := e.Gateway.Send(ctx, ev, reply); err != nil {
		e.logf("send notice reply: %v", err)
	}
}

// handleRequest accepts friend requests from administrators.
func (e *Engine) handleRequest(ctx context.Context, ev *chat.Event) {
	if ev.RequestType != "friend" || !e.Config.IsAdmin(int64(ev.UserID)) {
		return
	}
	if err := e.Gateway.ApproveFriend(ctx, ev.Flag); err != nil {
		e.logf("approve friend: %v", err)
	}
}

func (e *Engine) logQuery(ctx context.Context, c *msgContext) {
	if e.Store == nil {
		return
	}
	err := e.Store.Log(ctx, storage.Entry{
		Timestamp:   time.Now(),
		MessageType: c.ev.MessageType,
		GroupID:     int64(c.ev.GroupID),
		UserID:      userOf(c.ev),
		Message:     c.ev.Message,
		Identifiers: c.ids.Keys(),
		Outcome:     c.outcome,
		Reply:       strings.Join(c.replies, "\n"),
	})
	if err != nil {
		e.logf("log query: %v", err)
	}
}
