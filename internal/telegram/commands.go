package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"jobmate/notifier-service/internal/filter"
	"jobmate/notifier-service/internal/model"
	"jobmate/notifier-service/internal/store"
	"jobmate/notifier-service/internal/subscriber"
)

// Reply is one message sent back to the chat that issued a command.
type Reply struct {
	Text string
	HTML bool
}

func plain(format string, args ...any) []Reply {
	return []Reply{{Text: fmt.Sprintf(format, args...)}}
}

// Commands maps slash commands onto the subscriber service.
type Commands struct {
	svc    *subscriber.Service
	period time.Duration
	logger *slog.Logger
}

// NewCommands returns the command router. period is only used in help text.
func NewCommands(svc *subscriber.Service, period time.Duration, logger *slog.Logger) *Commands {
	if logger == nil {
		logger = slog.Default()
	}
	return &Commands{svc: svc, period: period, logger: logger.With("component", "commands")}
}

// Handle runs command (without the leading slash) for chatID and returns the
// replies to send.
func (c *Commands) Handle(ctx context.Context, chatID int64, command, args string) []Reply {
	args = strings.TrimSpace(args)
	switch strings.ToLower(command) {
	case "start":
		if _, err := c.svc.Subscriber(ctx, chatID); err != nil {
			return c.failure(chatID, command, err)
		}
		return []Reply{{Text: c.helpText(), HTML: true}}
	case "help":
		return []Reply{{Text: c.helpText(), HTML: true}}
	case "id":
		return plain("Your ID: %d", chatID)

	case "add_rss":
		return c.addRSS(ctx, chatID, args)
	case "list_rss":
		return c.listRSS(ctx, chatID)
	case "delete_rss":
		return c.deleteRSS(ctx, chatID, args)

	case "set":
		return c.set(ctx, chatID, args)
	case "settings":
		return c.settings(ctx, chatID)
	case "add_filter":
		return c.addFilter(ctx, chatID, args)
	case "clear_filter":
		return c.clearFilter(ctx, chatID, args)
	case "filters":
		return c.filters(ctx, chatID)

	case "pause":
		if err := c.svc.Pause(ctx, chatID); err != nil {
			return c.failure(chatID, command, err)
		}
		return plain("Paused updates, use /resume to start getting updates again")
	case "resume":
		if err := c.svc.Resume(ctx, chatID); err != nil {
			return c.failure(chatID, command, err)
		}
		return plain("Resumed updates, use /pause to pause updates when needed")
	case "get_jobs":
		if err := c.svc.RunNow(ctx, chatID); err != nil {
			c.logger.Warn("manual run finished with errors", "subscriber_id", chatID, "err", err)
			if errors.Is(err, store.ErrUnavailable) {
				return plain("Something went wrong, please try again later")
			}
			return plain("Update completed, some feeds could not be read")
		}
		return plain("Update completed")
	case "jobs":
		return c.jobs(chatID)
	}
	return plain("Sorry, I didn't understand that command!")
}

// ─── Sources ─────────────────────────────────────────────────────────────────

func (c *Commands) addRSS(ctx context.Context, chatID int64, args string) []Reply {
	url, name, _ := strings.Cut(args, " ")
	if url == "" || strings.TrimSpace(name) == "" {
		return plain("Invalid input, please use /add_rss <rss_url> <rss_name>")
	}
	src, err := c.svc.AddSource(ctx, chatID, url, name)
	if err != nil {
		return c.failure(chatID, "add_rss", err)
	}
	return plain("Added RSS feed %s!", src.Name)
}

func (c *Commands) listRSS(ctx context.Context, chatID int64) []Reply {
	sources, err := c.svc.Sources(ctx, chatID)
	if err != nil {
		return c.failure(chatID, "list_rss", err)
	}
	if len(sources) == 0 {
		return plain("No RSS feed to show, use /add_rss to add some first!")
	}
	lines := make([]string, len(sources))
	for i, s := range sources {
		lines[i] = fmt.Sprintf("[%s]: %s", s.Name, s.URL)
	}
	return plain("%s", strings.Join(lines, "\n"))
}

func (c *Commands) deleteRSS(ctx context.Context, chatID int64, args string) []Reply {
	if args == "" {
		return plain("Invalid input, please use /delete_rss <rss_name>")
	}
	name := strings.Join(strings.Fields(args), " ")
	err := c.svc.RemoveSource(ctx, chatID, name)
	if errors.Is(err, store.ErrNotFound) {
		return plain("No RSS feed named %s", name)
	}
	if err != nil {
		return c.failure(chatID, "delete_rss", err)
	}
	return plain("Deleted %s RSS", name)
}

// ─── Settings & filters ──────────────────────────────────────────────────────

func (c *Commands) set(ctx context.Context, chatID int64, args string) []Reply {
	key, value, _ := strings.Cut(args, " ")
	if key == "" || strings.TrimSpace(value) == "" {
		return plain("Invalid input, please use /set <key_word> <value>\nAllowed keywords are: [%s]",
			strings.Join(model.SettingKeys, ", "))
	}
	stored, err := c.svc.SetSetting(ctx, chatID, key, value)
	if err != nil {
		return c.failure(chatID, "set", err)
	}
	return plain("Successfully set %s = %s!", strings.ToLower(key), stored)
}

func (c *Commands) settings(ctx context.Context, chatID int64) []Reply {
	settings, err := c.svc.Settings(ctx, chatID)
	if err != nil {
		return c.failure(chatID, "settings", err)
	}
	if len(settings) == 0 {
		return plain("No settings are set yet, please use /set <key_word> <value>")
	}
	lines := []string{"[SETTINGS]"}
	for _, k := range model.SettingKeys {
		if v, ok := settings[k]; ok {
			lines = append(lines, k+" = "+v)
		}
	}
	return plain("%s", strings.Join(lines, "\n"))
}

func (c *Commands) addFilter(ctx context.Context, chatID int64, args string) []Reply {
	key, value, _ := strings.Cut(args, " ")
	if key == "" || strings.TrimSpace(value) == "" {
		return plain("Invalid input, please use /add_filter <key_word> <value>\nAllowed keywords are: [%s]", filterKeys())
	}
	v, err := c.svc.SetFilter(ctx, chatID, key, value)
	if err != nil {
		return c.failure(chatID, "add_filter", err)
	}
	return plain("Successfully set filter %s = %s", v.Key, v)
}

func (c *Commands) clearFilter(ctx context.Context, chatID int64, args string) []Reply {
	if args == "" {
		return plain("Invalid input, please use /clear_filter <key_word>\nAllowed keywords are: [%s]", filterKeys())
	}
	k, err := c.svc.ClearFilter(ctx, chatID, args)
	if err != nil {
		return c.failure(chatID, "clear_filter", err)
	}
	return plain("Successfully cleared filter %s", k)
}

func (c *Commands) filters(ctx context.Context, chatID int64) []Reply {
	f, err := c.svc.Filters(ctx, chatID)
	if err != nil {
		return c.failure(chatID, "filters", err)
	}
	values := f.Values()
	if len(values) == 0 {
		return plain("No filters are set yet, use /add_filter <key_word> <value>")
	}
	lines := []string{"[FILTERS]"}
	for _, v := range values {
		lines = append(lines, fmt.Sprintf("%s = %s", v.Key, v))
	}
	return plain("%s", strings.Join(lines, "\n"))
}

// ─── Operators ───────────────────────────────────────────────────────────────

func (c *Commands) jobs(chatID int64) []Reply {
	jobs, err := c.svc.Jobs(chatID)
	if errors.Is(err, subscriber.ErrNotAuthorized) {
		return plain("NOT AUTHORIZED")
	}
	if len(jobs) == 0 {
		return plain("No jobs scheduled")
	}
	lines := make([]string, len(jobs))
	for i, j := range jobs {
		next := "-"
		if !j.Next.IsZero() {
			next = j.Next.UTC().Format(time.RFC3339)
		}
		lines[i] = fmt.Sprintf("job_%d: %s NEXT: %s", j.SubscriberID, j.State, next)
	}
	return plain("%s", strings.Join(lines, "\n"))
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// failure turns a service error into a reply. Validation messages are shown
// as is; anything else is logged and replaced by a generic message.
func (c *Commands) failure(chatID int64, command string, err error) []Reply {
	var ve *filter.ValidationError
	if errors.As(err, &ve) {
		return plain("%s", ve.Msg)
	}
	c.logger.Error("command failed", "command", command, "subscriber_id", chatID, "err", err)
	return plain("Something went wrong, please try again later")
}

func filterKeys() string {
	keys := make([]string, len(model.FilterKeys))
	for i, k := range model.FilterKeys {
		keys[i] = string(k)
	}
	return strings.Join(keys, ", ")
}

func (c *Commands) helpText() string {
	return fmt.Sprintf(`Hey! Get your Upwork feed delivered and customized to your needs while focusing on work/learning!

Commands available:

- RSS Feeds:
<b>/add_rss</b> &lt;rss_url&gt; &lt;rss_name&gt;: adds a new RSS feed
<b>/list_rss</b>: lists your saved RSS feeds
<b>/delete_rss</b> &lt;rss_name&gt;: removes an RSS feed

- Settings:
<b>/set</b> &lt;key&gt; &lt;value&gt;: keys are %s
<b>/settings</b>: displays your current settings

- Filters:
Available filters: %s
for <b>exclude_countries</b> and <b>keywords</b> input is comma separated for multiple inputs
<b>/add_filter</b> &lt;filter&gt; &lt;value&gt;: sets a filter's value
<b>/clear_filter</b> &lt;filter&gt;: removes a filter
<b>/filters</b>: displays your current filters

- Updates:
<b>/pause</b> and <b>/resume</b>: stop and restart notifications
<b>/get_jobs</b>: look for new jobs right now

Notifications are sent out every %s!`,
		strings.Join(model.SettingKeys, ", "), filterKeys(), humanPeriod(c.period))
}

func humanPeriod(d time.Duration) string {
	if d <= 0 {
		return "few minutes"
	}
	if d%time.Hour == 0 {
		if h := int(d / time.Hour); h != 1 {
			return fmt.Sprintf("%d hours", h)
		}
		return "hour"
	}
	if m := int(d / time.Minute); m > 1 {
		return fmt.Sprintf("%d minutes", m)
	}
	return d.String()
}
