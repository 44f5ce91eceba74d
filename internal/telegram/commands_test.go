package telegram_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/notifier-service/internal/notify"
	"jobmate/notifier-service/internal/scheduler"
	"jobmate/notifier-service/internal/store"
	"jobmate/notifier-service/internal/subscriber"
	"jobmate/notifier-service/internal/telegram"
)

const (
	chat     int64 = 42
	operator int64 = 7
	feed           = "https://www.upwork.com/ab/feed/jobs/rss?q=golang"
)

type env struct {
	st     *store.Memory
	sched  *scheduler.Scheduler
	cmds   *telegram.Commands
	runErr error
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{st: store.NewMemory()}
	e.sched = scheduler.New(scheduler.RunnerFunc(func(context.Context, int64) error { return e.runErr }), 10*time.Minute, nil)
	svc := subscriber.NewService(e.st, e.sched, []int64{operator})
	e.cmds = telegram.NewCommands(svc, 10*time.Minute, nil)
	return e
}

func (e *env) say(command, args string) string {
	replies := e.cmds.Handle(context.Background(), chat, command, args)
	texts := make([]string, len(replies))
	for i, r := range replies {
		texts[i] = r.Text
	}
	return strings.Join(texts, "\n")
}

func TestCommands_StartAndHelp(t *testing.T) {
	e := newEnv(t)
	replies := e.cmds.Handle(context.Background(), chat, "start", "")
	require.Len(t, replies, 1)
	assert.True(t, replies[0].HTML)
	assert.Contains(t, replies[0].Text, "/add_rss")
	assert.Contains(t, replies[0].Text, "every 10 minutes")

	_, err := e.st.GetSubscriber(context.Background(), chat)
	assert.NoError(t, err, "/start creates the subscriber")

	assert.Contains(t, e.say("help", ""), "/add_filter")
}

func TestCommands_ID(t *testing.T) {
	assert.Equal(t, "Your ID: 42", newEnv(t).say("id", ""))
}

func TestCommands_RSSLifecycle(t *testing.T) {
	e := newEnv(t)

	assert.Equal(t, "No RSS feed to show, use /add_rss to add some first!", e.say("list_rss", ""))
	assert.Equal(t, "Added RSS feed Go jobs!", e.say("add_rss", feed+" Go jobs"))
	assert.Equal(t, scheduler.StateActive, e.sched.State(chat))
	assert.Equal(t, "[Go jobs]: "+feed, e.say("list_rss", ""))

	assert.Equal(t, "Deleted Go jobs RSS", e.say("delete_rss", "Go   jobs"))
	assert.Equal(t, "No RSS feed named Go jobs", e.say("delete_rss", "Go jobs"))
}

func TestCommands_RSSBadInput(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, "Invalid input, please use /add_rss <rss_url> <rss_name>", e.say("add_rss", feed))
	assert.Contains(t, e.say("add_rss", "ftp://x y"), "is not an http(s) feed address")
	assert.Equal(t, "Invalid input, please use /delete_rss <rss_name>", e.say("delete_rss", ""))
}

func TestCommands_Settings(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, "No settings are set yet, please use /set <key_word> <value>", e.say("settings", ""))
	assert.Equal(t, "Successfully set timezone = Asia/Tokyo!", e.say("set", "timezone Asia/Tokyo"))
	assert.Equal(t, "Successfully set show_summary = yes!", e.say("set", "show_summary on"))
	assert.Equal(t, "[SETTINGS]\ntimezone = Asia/Tokyo\nshow_summary = yes", e.say("settings", ""))

	assert.Contains(t, e.say("set", "timezone"), "Invalid input")
	assert.Contains(t, e.say("set", "color blue"), "unknown setting")
}

func TestCommands_Filters(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, "No filters are set yet, use /add_filter <key_word> <value>", e.say("filters", ""))
	assert.Equal(t, "Successfully set filter exclude_countries = [India, Pakistan]",
		e.say("add_filter", "exclude_countries India, Pakistan"))
	assert.Equal(t, "Successfully set filter minimum_budget = 1500", e.say("add_filter", "minimum_budget $1,500"))
	assert.Equal(t, "[FILTERS]\nexclude_countries = [India, Pakistan]\nminimum_budget = 1500", e.say("filters", ""))

	assert.Contains(t, e.say("add_filter", "minimum_budget lots"), "must be a number")
	assert.Equal(t, "Successfully cleared filter exclude_countries", e.say("clear_filter", "exclude_countries"))
	assert.Equal(t, "[FILTERS]\nminimum_budget = 1500", e.say("filters", ""))
	assert.Contains(t, e.say("clear_filter", ""), "Invalid input")
}

func TestCommands_PauseResume(t *testing.T) {
	e := newEnv(t)
	assert.Contains(t, e.say("pause", ""), "Paused updates")
	assert.Equal(t, 0, e.sched.ActiveCount())
	assert.Contains(t, e.say("resume", ""), "Resumed updates")
	assert.Equal(t, 1, e.sched.ActiveCount())
}

func TestCommands_GetJobs(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, "Update completed", e.say("get_jobs", ""))

	e.runErr = errors.New("feed down")
	assert.Equal(t, "Update completed, some feeds could not be read", e.say("get_jobs", ""))

	e.runErr = store.ErrUnavailable
	assert.Equal(t, "Something went wrong, please try again later", e.say("get_jobs", ""))
}

func TestCommands_JobsOperatorsOnly(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, "NOT AUTHORIZED", e.say("jobs", ""))

	e.say("add_rss", feed+" go")
	replies := e.cmds.Handle(context.Background(), operator, "jobs", "")
	require.Len(t, replies, 1)
	assert.Equal(t, "job_42: ACTIVE NEXT: -", replies[0].Text)
}

func TestCommands_StoreOutage(t *testing.T) {
	e := newEnv(t)
	e.st.SetFailure(errors.New("down"))
	assert.Equal(t, "Something went wrong, please try again later", e.say("list_rss", ""))
}

func TestCommands_Unknown(t *testing.T) {
	assert.Equal(t, "Sorry, I didn't understand that command!", newEnv(t).say("dance", ""))
}

// ── Bot ────────────────────────────────────────────────────────────────────

type fakeSender struct {
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, m)
	}
	return tgbotapi.Message{}, f.err
}

func TestBot_DeliverUsesHTML(t *testing.T) {
	s := &fakeSender{}
	b := telegram.NewBotWithSender(s, nil, nil, nil)

	b.Deliver(context.Background(), chat, "[go]\n\n<b>Job</b>")
	require.Len(t, s.sent, 1)
	assert.Equal(t, chat, s.sent[0].ChatID)
	assert.Equal(t, tgbotapi.ModeHTML, s.sent[0].ParseMode)
	assert.Equal(t, "[go]\n\n<b>Job</b>", s.sent[0].Text)
}

func TestBot_DeliverFailureIsSwallowed(t *testing.T) {
	s := &fakeSender{err: errors.New("blocked by user")}
	b := telegram.NewBotWithSender(s, nil, nil, nil)
	assert.NotPanics(t, func() { b.Deliver(context.Background(), chat, "x") })
}

func TestBot_AlertGoesToOperators(t *testing.T) {
	s := &fakeSender{}
	b := telegram.NewBotWithSender(s, nil, []int64{1, 2}, nil)

	b.Alert(context.Background(), notify.Alert{Type: notify.EventTickFailed, SubscriberID: 9, RunID: "r1", Error: "db <down>"})
	require.Len(t, s.sent, 2)
	assert.Equal(t, int64(1), s.sent[0].ChatID)
	assert.Equal(t, int64(2), s.sent[1].ChatID)
	assert.Contains(t, s.sent[0].Text, "db &lt;down&gt;")
}

func TestBot_HandleMessageSendsReplies(t *testing.T) {
	e := newEnv(t)
	s := &fakeSender{}
	b := telegram.NewBotWithSender(s, e.cmds, nil, nil)

	b.HandleMessage(context.Background(), chat, "help", "")
	require.Len(t, s.sent, 1)
	assert.Equal(t, tgbotapi.ModeHTML, s.sent[0].ParseMode)

	b.HandleMessage(context.Background(), chat, "id", "")
	require.Len(t, s.sent, 2)
	assert.Empty(t, s.sent[1].ParseMode)
}
