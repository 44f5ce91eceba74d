// Package notion mirrors delivered items into a Notion database.
package notion

import (
	"context"
	"fmt"
	"strings"

	gnt "github.com/dstotijn/go-notion"

	"jobmate/notifier-service/internal/model"
	"jobmate/notifier-service/internal/notify"
)

// Database property names.
const (
	propTitle     = "Title"
	propText      = "Text"
	propKeyword   = "Keyword"
	propCountry   = "Country"
	propType      = "Type"
	propStart     = "Start"
	propPublished = "Published"
	propLink      = "Link"
)

// Notion rejects longer rich text runs and option names.
const (
	maxTextLen   = 2000
	maxOptionLen = 100
)

var _ notify.RecordSink = (*Client)(nil)

type Client struct {
	api        *gnt.Client
	databaseID string
}

// New returns a record sink writing to databaseID.
func New(token, databaseID string, opts ...gnt.ClientOption) *Client {
	return &Client{
		api:        gnt.NewClient(token, opts...),
		databaseID: databaseID,
	}
}

// Ping runs a one-row query to check the token and database id.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.api.QueryDatabase(ctx, c.databaseID, &gnt.DatabaseQuery{PageSize: 1})
	if err != nil {
		return fmt.Errorf("notion ping: %w", err)
	}
	return nil
}

// Upsert writes item, keyed by its link. An existing page with the same Link
// is updated in place.
func (c *Client) Upsert(ctx context.Context, item model.Item) error {
	props := buildProperties(item)

	pageID, err := c.findByLink(ctx, item.URL())
	if err != nil {
		return err
	}
	if pageID != "" {
		if _, err := c.api.UpdatePage(ctx, pageID, gnt.UpdatePageParams{DatabasePageProperties: props}); err != nil {
			return fmt.Errorf("notion update page %s: %w", pageID, err)
		}
		return nil
	}

	_, err = c.api.CreatePage(ctx, gnt.CreatePageParams{
		ParentType:             gnt.ParentTypeDatabase,
		ParentID:               c.databaseID,
		DatabasePageProperties: &props,
	})
	if err != nil {
		return fmt.Errorf("notion create page: %w", err)
	}
	return nil
}

func (c *Client) findByLink(ctx context.Context, link string) (string, error) {
	resp, err := c.api.QueryDatabase(ctx, c.databaseID, &gnt.DatabaseQuery{
		Filter: &gnt.DatabaseQueryFilter{
			Property: propLink,
			DatabaseQueryPropertyFilter: gnt.DatabaseQueryPropertyFilter{
				URL: &gnt.TextPropertyFilter{Equals: link},
			},
		},
		PageSize: 1,
	})
	if err != nil {
		return "", fmt.Errorf("notion query %s: %w", link, err)
	}
	if len(resp.Results) == 0 {
		return "", nil
	}
	return resp.Results[0].ID, nil
}

// ─── Properties ──────────────────────────────────────────────────────────────

func richText(s string) []gnt.RichText {
	if s == "" {
		return nil
	}
	return []gnt.RichText{{Text: &gnt.Text{Content: truncate(s, maxTextLen)}}}
}

// option cleans a select option name: commas are not allowed in Notion.
func option(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", " "))
	return truncate(s, maxOptionLen)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func buildProperties(item model.Item) gnt.DatabasePageProperties {
	props := gnt.DatabasePageProperties{
		propTitle: gnt.DatabasePageProperty{Title: richText(item.Title)},
		propType:  gnt.DatabasePageProperty{Select: &gnt.SelectOptions{Name: item.Budget.Type()}},
	}

	link := item.URL()
	props[propLink] = gnt.DatabasePageProperty{URL: &link}

	if item.Summary != "" {
		props[propText] = gnt.DatabasePageProperty{RichText: richText(item.Summary)}
	}

	if len(item.Skills) > 0 {
		opts := make([]gnt.SelectOptions, 0, len(item.Skills))
		seen := make(map[string]bool, len(item.Skills))
		for _, s := range item.Skills {
			name := option(s)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			opts = append(opts, gnt.SelectOptions{Name: name})
		}
		props[propKeyword] = gnt.DatabasePageProperty{MultiSelect: opts}
	}

	if c := option(item.Country); c != "" && c != model.NotAvailable {
		props[propCountry] = gnt.DatabasePageProperty{Select: &gnt.SelectOptions{Name: c}}
	}

	if item.Budget.Amount != nil {
		amount := *item.Budget.Amount
		props[propStart] = gnt.DatabasePageProperty{Number: &amount}
	}

	if !item.PublishedAt.IsZero() {
		props[propPublished] = gnt.DatabasePageProperty{
			Date: &gnt.Date{Start: gnt.NewDateTime(item.PublishedAt, true)},
		}
	}
	return props
}
