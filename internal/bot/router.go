// Package bot is the command-handling surface: /start plus the inline
// subscribe / unsubscribe / upcoming buttons. It shares the subscriber store
// with the scheduler and never touches the scheduler's state directly.
package bot

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"cfbot/internal/source"
	"cfbot/internal/store"
	kit "cfbot/internal/transport"
	logx "cfbot/pkg/logx"
)

// upcomingLimit caps the contest listing shown to a user.
const upcomingLimit = 5

const (
	cbSubscribe   = "subscribe"
	cbUnsubscribe = "unsubscribe"
	cbUpcoming    = "upcoming"
	cbJoinPrefix  = "join_"
)

const genericErrText = "Something went wrong. Please try again later."

// ContestSource is the read-only listing dependency of the upcoming button.
type ContestSource interface {
	FetchUpcoming(ctx context.Context) ([]source.Contest, error)
}

type Router struct {
	adapter kit.Adapter
	store   store.Store
	src     ContestSource
	log     logx.Logger
}

func NewRouter(adapter kit.Adapter, st store.Store, src ContestSource, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{adapter: adapter, store: st, src: src, log: log.With(logx.String("comp", "bot"))}
}

// Run consumes updates until ctx is done. Each interaction is isolated: a
// failing handler is logged and answered generically, never propagated.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-updates:
			if !ok {
				return
			}
			r.handle(ctx, up)
		}
	}
}

func (r *Router) handle(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message == nil {
			return
		}
		if cmd := strings.Fields(up.Message.Text); len(cmd) > 0 && strings.HasPrefix(cmd[0], "/start") {
			if err := r.sendMenu(ctx, up.Message.ChatID); err != nil {
				r.log.Warn("start menu failed", logx.Int64("chat_id", up.Message.ChatID), logx.Err(err))
			}
		}
	case kit.UpdateCallback:
		if up.Callback == nil {
			return
		}
		if err := r.handleCallback(ctx, up.Callback); err != nil {
			r.log.Warn("callback failed",
				logx.Int64("user_id", up.Callback.FromID),
				logx.String("data", up.Callback.Data),
				logx.Err(err),
			)
			// Report generically; internals never reach the user.
			_ = r.adapter.AnswerCallback(ctx, up.Callback.ID, genericErrText)
		}
	}
}

func (r *Router) sendMenu(ctx context.Context, chatID int64) error {
	markup := &tele.ReplyMarkup{InlineKeyboard: [][]tele.InlineButton{
		{{Text: "\U0001F4EC Subscribe", Data: cbSubscribe}},
		{{Text: "\U0001F4EA Unsubscribe", Data: cbUnsubscribe}},
		{{Text: "\U0001F4C5 Upcoming contests", Data: cbUpcoming}},
	}}
	_, err := r.adapter.SendText(ctx, kit.ChatTarget{ChatID: chatID}, "Choose an action:", &kit.SendOptions{
		ReplyMarkupAdapter: markup,
	})
	return err
}

func (r *Router) handleCallback(ctx context.Context, cb *kit.Callback) error {
	ref := kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}

	switch {
	case cb.Data == cbSubscribe:
		if err := r.store.AddSubscriber(ctx, cb.FromID); err != nil {
			return fmt.Errorf("add subscriber: %w", err)
		}
		r.log.Info("subscribed", logx.Int64("user_id", cb.FromID))
		if err := r.adapter.EditText(ctx, ref, "✅ Subscribed to new contest announcements.", nil); err != nil {
			return err
		}
		return r.adapter.AnswerCallback(ctx, cb.ID, "")

	case cb.Data == cbUnsubscribe:
		if err := r.store.RemoveSubscriber(ctx, cb.FromID); err != nil {
			return fmt.Errorf("remove subscriber: %w", err)
		}
		r.log.Info("unsubscribed", logx.Int64("user_id", cb.FromID))
		if err := r.adapter.EditText(ctx, ref, "❌ Subscription cancelled.", nil); err != nil {
			return err
		}
		return r.adapter.AnswerCallback(ctx, cb.ID, "")

	case cb.Data == cbUpcoming:
		return r.sendUpcoming(ctx, cb)

	case strings.HasPrefix(cb.Data, cbJoinPrefix):
		cid, err := strconv.ParseInt(strings.TrimPrefix(cb.Data, cbJoinPrefix), 10, 64)
		if err != nil {
			return fmt.Errorf("bad join payload %q: %w", cb.Data, err)
		}
		if err := r.store.AddParticipant(ctx, cid, cb.FromID); err != nil {
			return fmt.Errorf("add participant: %w", err)
		}
		r.log.Info("participant registered", logx.Int64("user_id", cb.FromID), logx.Int64("contest_id", cid))
		if err := r.adapter.EditText(ctx, ref, "\U0001F3AF You will get reminders for this contest.", nil); err != nil {
			return err
		}
		return r.adapter.AnswerCallback(ctx, cb.ID, "")
	}

	// Unknown buttons come from stale keyboards after an upgrade; ack quietly.
	return r.adapter.AnswerCallback(ctx, cb.ID, "")
}

func (r *Router) sendUpcoming(ctx context.Context, cb *kit.Callback) error {
	contests, err := r.src.FetchUpcoming(ctx)
	if err != nil {
		return fmt.Errorf("list upcoming: %w", err)
	}
	if len(contests) == 0 {
		if err := r.adapter.EditText(ctx, kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}, "No upcoming contests right now.", nil); err != nil {
			return err
		}
		return r.adapter.AnswerCallback(ctx, cb.ID, "")
	}
	// Soonest first; the API does not guarantee order.
	sort.Slice(contests, func(i, j int) bool { return contests[i].Start.Before(contests[j].Start) })
	if len(contests) > upcomingLimit {
		contests = contests[:upcomingLimit]
	}

	for _, c := range contests {
		markup := &tele.ReplyMarkup{InlineKeyboard: [][]tele.InlineButton{
			{{Text: "Join", Data: cbJoinPrefix + strconv.FormatInt(c.ID, 10)}},
		}}
		text := fmt.Sprintf("<b>%s</b>\n\U0001F552 Starts: %s", escapeHTML(c.Name), c.Start.Local().Format("2006-01-02 15:04"))
		_, err := r.adapter.SendText(ctx, kit.ChatTarget{ChatID: cb.ChatID}, text, &kit.SendOptions{
			ParseMode:          "HTML",
			ReplyMarkupAdapter: markup,
		})
		if err != nil {
			return fmt.Errorf("send contest %d: %w", c.ID, err)
		}
	}
	return r.adapter.AnswerCallback(ctx, cb.ID, "")
}

func escapeHTML(s string) string {
	rep := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return rep.Replace(s)
}
