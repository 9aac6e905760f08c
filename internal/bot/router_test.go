package bot

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"cfbot/internal/source"
	"cfbot/internal/store"
	kit "cfbot/internal/transport"
	logx "cfbot/pkg/logx"
)

type sentMsg struct {
	chatID int64
	text   string
	opt    *kit.SendOptions
}

type editMsg struct {
	ref  kit.MessageRef
	text string
}

type fakeAdapter struct {
	sends   []sentMsg
	edits   []editMsg
	answers []string
	sendErr error
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if f.sendErr != nil {
		return kit.MessageRef{}, f.sendErr
	}
	f.sends = append(f.sends, sentMsg{chatID: to.ChatID, text: text, opt: opt})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sends)}, nil
}

func (f *fakeAdapter) EditText(_ context.Context, ref kit.MessageRef, text string, _ *kit.SendOptions) error {
	f.edits = append(f.edits, editMsg{ref: ref, text: text})
	return nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, _ string, text string) error {
	f.answers = append(f.answers, text)
	return nil
}

type fakeSource struct {
	contests []source.Contest
	err      error
}

func (f *fakeSource) FetchUpcoming(context.Context) ([]source.Contest, error) {
	return f.contests, f.err
}

func newTestRouter(t *testing.T, adapter *fakeAdapter, src ContestSource) (*Router, store.Store) {
	t.Helper()
	st, err := store.Open(store.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "users.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return NewRouter(adapter, st, src, logx.Nop()), st
}

func callback(data string) kit.Update {
	return kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
		ID:        "cb1",
		FromID:    100,
		ChatID:    100,
		MessageID: 7,
		Data:      data,
	}}
}

func TestStartShowsMenu(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	r, _ := newTestRouter(t, ad, &fakeSource{})

	r.handle(context.Background(), kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ChatID: 100, FromID: 100, Text: "/start",
	}})

	if len(ad.sends) != 1 {
		t.Fatalf("sends = %d, want 1", len(ad.sends))
	}
	if ad.sends[0].opt == nil || ad.sends[0].opt.ReplyMarkupAdapter == nil {
		t.Fatal("menu sent without inline keyboard")
	}
	markup, ok := ad.sends[0].opt.ReplyMarkupAdapter.(*tele.ReplyMarkup)
	if !ok {
		t.Fatalf("markup type %T", ad.sends[0].opt.ReplyMarkupAdapter)
	}
	if len(markup.InlineKeyboard) != 3 {
		t.Fatalf("menu rows = %d, want 3", len(markup.InlineKeyboard))
	}
}

func TestSubscribeUnsubscribeFlow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ad := &fakeAdapter{}
	r, st := newTestRouter(t, ad, &fakeSource{})

	r.handle(ctx, callback("subscribe"))
	subs, _ := st.Subscribers(ctx)
	if len(subs) != 1 || subs[0] != 100 {
		t.Fatalf("subscribers = %v", subs)
	}
	if len(ad.edits) != 1 || !strings.Contains(ad.edits[0].text, "Subscribed") {
		t.Fatalf("edits = %+v", ad.edits)
	}

	r.handle(ctx, callback("unsubscribe"))
	subs, _ = st.Subscribers(ctx)
	if len(subs) != 0 {
		t.Fatalf("subscribers after unsubscribe = %v", subs)
	}
	if len(ad.answers) != 2 {
		t.Fatalf("answers = %d, want 2", len(ad.answers))
	}
}

func TestJoinRegistersParticipant(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ad := &fakeAdapter{}
	r, st := newTestRouter(t, ad, &fakeSource{})

	r.handle(ctx, callback("join_42"))
	parts, _ := st.Participants(ctx, 42)
	if len(parts) != 1 || parts[0] != 100 {
		t.Fatalf("participants = %v", parts)
	}
	if len(ad.edits) != 1 || !strings.Contains(ad.edits[0].text, "reminders") {
		t.Fatalf("edits = %+v", ad.edits)
	}

	// A mangled payload must not register anything; the user gets the
	// generic answer.
	r.handle(ctx, callback("join_notanumber"))
	parts, _ = st.Participants(ctx, 42)
	if len(parts) != 1 {
		t.Fatalf("participants after bad join = %v", parts)
	}
	if last := ad.answers[len(ad.answers)-1]; last != genericErrText {
		t.Fatalf("last answer = %q", last)
	}
}

func TestUpcomingListCappedAndLinked(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Now()

	// Listed out of order: the 5 soonest must win, soonest first.
	src := &fakeSource{}
	for i := int64(7); i >= 1; i-- {
		src.contests = append(src.contests, source.Contest{
			ID:    i,
			Name:  "Round <#" + string(rune('0'+i)) + ">",
			Start: now.Add(time.Duration(i) * time.Hour),
		})
	}
	ad := &fakeAdapter{}
	r, _ := newTestRouter(t, ad, src)

	r.handle(ctx, callback("upcoming"))

	if len(ad.sends) != upcomingLimit {
		t.Fatalf("sends = %d, want %d", len(ad.sends), upcomingLimit)
	}
	for i, s := range ad.sends {
		want := "join_" + string(rune('1'+i))
		markup := s.opt.ReplyMarkupAdapter.(*tele.ReplyMarkup)
		if got := markup.InlineKeyboard[0][0].Data; got != want {
			t.Fatalf("send %d join payload = %q, want %q", i, got, want)
		}
	}
	first := ad.sends[0]
	if first.opt == nil || first.opt.ParseMode != "HTML" {
		t.Fatalf("opt = %+v", first.opt)
	}
	if !strings.Contains(first.text, "&lt;#1&gt;") {
		t.Fatalf("name not escaped: %q", first.text)
	}
}

func TestUpcomingEmptyList(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	r, _ := newTestRouter(t, ad, &fakeSource{})

	r.handle(context.Background(), callback("upcoming"))

	if len(ad.sends) != 0 {
		t.Fatalf("sends = %d, want 0", len(ad.sends))
	}
	if len(ad.edits) != 1 || !strings.Contains(ad.edits[0].text, "No upcoming contests") {
		t.Fatalf("edits = %+v", ad.edits)
	}
}

func TestUpcomingSourceFailureAnswersGenerically(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	r, _ := newTestRouter(t, ad, &fakeSource{err: errors.New("api down")})

	r.handle(context.Background(), callback("upcoming"))

	if len(ad.sends) != 0 || len(ad.edits) != 0 {
		t.Fatalf("unexpected output: sends=%d edits=%d", len(ad.sends), len(ad.edits))
	}
	if len(ad.answers) != 1 || ad.answers[0] != genericErrText {
		t.Fatalf("answers = %v", ad.answers)
	}
}

func TestUnknownCallbackAckedQuietly(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	r, _ := newTestRouter(t, ad, &fakeSource{})

	r.handle(context.Background(), callback("legacy_button"))

	if len(ad.answers) != 1 || ad.answers[0] != "" {
		t.Fatalf("answers = %v", ad.answers)
	}
}
