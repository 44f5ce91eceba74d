// Package extract turns the loosely formatted HTML body of a feed entry into
// structured fields. Every extractor is total: a missing or malformed marker
// yields the model.NotAvailable sentinel instead of an error. The only hard
// failure is an unparseable publication timestamp (see Published).
package extract

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"jobmate/notifier-service/internal/model"
)

// TimeLayout is the wire format of entry timestamps.
const TimeLayout = "Mon, 02 Jan 2006 15:04:05 -0700"

var (
	hourlyMarker = "<b>Hourly Range</b>"

	hourlyRe  = regexp.MustCompile(`<b>Hourly Range</b>:([^\n]+)`)
	budgetRe  = regexp.MustCompile(`<b>Budget</b>:\s*\$(\d[0-9,.]*)`)
	countryRe = regexp.MustCompile(`<b>Country</b>:([^\n]+)`)
	skillsRe  = regexp.MustCompile(`<b>Skills</b>:([^\n]+)`)

	// Two consecutive line breaks directly in front of a field tag mark the end
	// of the free-text lead paragraph.
	summaryEndRe = regexp.MustCompile(`(?i)(?:<br\s*/?>\s*){2}<b>`)

	tagRe         = regexp.MustCompile(`<[^>]*>`)
	leadIntRe     = regexp.MustCompile(`^\d+`)
	currencyStrip = strings.NewReplacer("$", "", "€", "", "£", "", ",", "")
)

// ParseError is returned when an entry timestamp is not in TimeLayout.
type ParseError struct {
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("published %q: %v", e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Entry builds the structured item for raw. loc is the subscriber's timezone
// (nil means UTC) and now the reference point for the relative publish time.
func Entry(raw model.RawEntry, loc *time.Location, now time.Time) (model.Item, error) {
	publishedAt, published, err := Published(raw.Published, loc, now)
	if err != nil {
		return model.Item{}, err
	}
	return model.Item{
		ID:          raw.ID,
		Title:       strings.TrimSpace(raw.Title),
		Link:        raw.Link,
		Summary:     Summary(raw.Body),
		Budget:      Budget(raw.Body),
		Country:     Country(raw.Body),
		Skills:      Skills(raw.Body),
		PublishedAt: publishedAt,
		Published:   published,
	}, nil
}

// Budget extracts the price of an entry. Hourly ranges win over fixed budgets;
// the numeric amount of a range is its lower bound.
func Budget(body string) model.Budget {
	if strings.Contains(body, hourlyMarker) {
		if m := hourlyRe.FindStringSubmatch(body); m != nil {
			display := StripTags(m[1])
			if display != "" {
				b := model.Budget{Display: display, Hourly: true}
				lower := strings.TrimSpace(strings.SplitN(currencyStrip.Replace(display), "-", 2)[0])
				if v, err := strconv.ParseFloat(lower, 64); err == nil {
					b.Amount = &v
				}
				return b
			}
		}
	}

	m := budgetRe.FindStringSubmatch(body)
	if m == nil {
		return model.Budget{Display: model.NotAvailable}
	}
	b := model.Budget{Display: "$" + StripTags(m[1])}
	if digits := leadIntRe.FindString(currencyStrip.Replace(m[1])); digits != "" {
		if v, err := strconv.ParseFloat(digits, 64); err == nil {
			b.Amount = &v
		}
	}
	return b
}

// Country extracts the client country.
func Country(body string) string {
	m := countryRe.FindStringSubmatch(body)
	if m == nil {
		return model.NotAvailable
	}
	if c := StripTags(m[1]); c != "" {
		return c
	}
	return model.NotAvailable
}

// Skills extracts the comma separated skill list.
func Skills(body string) []string {
	m := skillsRe.FindStringSubmatch(body)
	if m == nil {
		return []string{model.NotAvailable}
	}
	var skills []string
	for _, s := range strings.Split(StripTags(m[1]), ",") {
		if s = strings.TrimSpace(s); s != "" {
			skills = append(skills, s)
		}
	}
	if len(skills) == 0 {
		return []string{model.NotAvailable}
	}
	return skills
}

// Summary returns the lead paragraph of body as plain text, or "" when the
// boundary to the structured fields cannot be found.
func Summary(body string) string {
	loc := summaryEndRe.FindStringIndex(body)
	if loc == nil {
		return ""
	}
	return StripTags(body[:loc[0]])
}

// Published parses raw, converts it to loc and renders it relative to now.
func Published(raw string, loc *time.Location, now time.Time) (time.Time, string, error) {
	t, err := time.Parse(TimeLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, "", &ParseError{Value: raw, Err: err}
	}
	if loc == nil {
		loc = time.UTC
	}
	t = t.UTC().In(loc)
	return t, humanize.RelTime(t, now.In(loc), "ago", "from now"), nil
}

// StripTags removes markup, decodes HTML entities and trims the result.
func StripTags(s string) string {
	return strings.TrimSpace(html.UnescapeString(tagRe.ReplaceAllString(s, "")))
}
