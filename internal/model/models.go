// Package model defines shared data structures for the notifier service.
package model

import (
	"strconv"
	"strings"
	"time"
)

// NotAvailable is the sentinel shown when a field cannot be extracted.
const NotAvailable = "N/A"

// ─── Subscriber ───────────────────────────────────────────────────────────────

// Subscriber is one chat that receives notifications. It is created lazily on
// first contact with empty sources, settings and filters.
type Subscriber struct {
	ID       int64    `json:"id"`
	Sources  []Source `json:"sources"`
	Settings Settings `json:"settings"`
	Filters  Filters  `json:"filters"`
	Paused   bool     `json:"paused"`
	Version  int64    `json:"version"`
}

// NewSubscriber returns an empty subscriber document for id.
func NewSubscriber(id int64) *Subscriber {
	return &Subscriber{
		ID:       id,
		Sources:  []Source{},
		Settings: Settings{},
	}
}

// Clone returns a deep copy so callers can never mutate a stored document.
func (s *Subscriber) Clone() *Subscriber {
	c := *s
	c.Sources = append([]Source{}, s.Sources...)
	c.Settings = make(Settings, len(s.Settings))
	for k, v := range s.Settings {
		c.Settings[k] = v
	}
	c.Filters = s.Filters.Clone()
	return &c
}

// RemoveSource drops the first source named name and reports whether one was found.
func (s *Subscriber) RemoveSource(name string) bool {
	for i, src := range s.Sources {
		if src.Name == name {
			s.Sources = append(s.Sources[:i:i], s.Sources[i+1:]...)
			return true
		}
	}
	return false
}

// Source is one named feed address a subscriber watches. Names are not unique.
type Source struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ─── Settings ────────────────────────────────────────────────────────────────

// Recognized settings keys.
const (
	SettingTimezone    = "timezone"
	SettingShowSummary = "show_summary"
)

// SettingKeys lists every recognized settings key in display order.
var SettingKeys = []string{SettingTimezone, SettingShowSummary}

// Settings holds display preferences as validated key → value pairs.
type Settings map[string]string

// Location returns the configured timezone, falling back to UTC when the
// value is missing or no longer loadable.
func (s Settings) Location() *time.Location {
	name := s[SettingTimezone]
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ShowSummary reports whether the lead paragraph should be rendered.
func (s Settings) ShowSummary() bool {
	return s[SettingShowSummary] == "yes"
}

// ─── Filters ─────────────────────────────────────────────────────────────────

// FilterKey names one recognized filter rule.
type FilterKey string

const (
	FilterExcludeCountries FilterKey = "exclude_countries"
	FilterMinimumBudget    FilterKey = "minimum_budget"
	FilterKeywords         FilterKey = "keywords"
)

// FilterKeys lists every recognized filter key in display order.
var FilterKeys = []FilterKey{FilterExcludeCountries, FilterMinimumBudget, FilterKeywords}

// IsList reports whether the key carries a list of strings rather than a number.
func (k FilterKey) IsList() bool {
	return k == FilterExcludeCountries || k == FilterKeywords
}

// FilterValue is one validated filter update. List is used by list keys,
// Number by minimum_budget.
type FilterValue struct {
	Key    FilterKey
	List   []string
	Number float64
}

// Raw returns the value in the shape it is persisted with.
func (v FilterValue) Raw() any {
	if v.Key.IsList() {
		return v.List
	}
	return v.Number
}

func (v FilterValue) String() string {
	if v.Key.IsList() {
		return "[" + strings.Join(v.List, ", ") + "]"
	}
	return strconv.FormatFloat(v.Number, 'f', -1, 64)
}

// Filters holds a subscriber's rules, one typed field per recognized key.
// Nil / empty fields mean the rule is not configured.
type Filters struct {
	ExcludeCountries []string `json:"exclude_countries,omitempty"`
	MinimumBudget    *float64 `json:"minimum_budget,omitempty"`
	Keywords         []string `json:"keywords,omitempty"`
}

// Apply stores v, replacing any previous value for the same key.
func (f *Filters) Apply(v FilterValue) {
	switch v.Key {
	case FilterExcludeCountries:
		f.ExcludeCountries = append([]string{}, v.List...)
	case FilterKeywords:
		f.Keywords = append([]string{}, v.List...)
	case FilterMinimumBudget:
		n := v.Number
		f.MinimumBudget = &n
	}
}

// Clear removes the rule for key.
func (f *Filters) Clear(key FilterKey) {
	switch key {
	case FilterExcludeCountries:
		f.ExcludeCountries = nil
	case FilterKeywords:
		f.Keywords = nil
	case FilterMinimumBudget:
		f.MinimumBudget = nil
	}
}

// Values returns the configured rules in display order.
func (f Filters) Values() []FilterValue {
	var out []FilterValue
	if len(f.ExcludeCountries) > 0 {
		out = append(out, FilterValue{Key: FilterExcludeCountries, List: f.ExcludeCountries})
	}
	if f.MinimumBudget != nil {
		out = append(out, FilterValue{Key: FilterMinimumBudget, Number: *f.MinimumBudget})
	}
	if len(f.Keywords) > 0 {
		out = append(out, FilterValue{Key: FilterKeywords, List: f.Keywords})
	}
	return out
}

// IsEmpty reports whether no rule is configured.
func (f Filters) IsEmpty() bool { return len(f.Values()) == 0 }

// Clone returns a deep copy.
func (f Filters) Clone() Filters {
	c := Filters{}
	if f.ExcludeCountries != nil {
		c.ExcludeCountries = append([]string{}, f.ExcludeCountries...)
	}
	if f.Keywords != nil {
		c.Keywords = append([]string{}, f.Keywords...)
	}
	if f.MinimumBudget != nil {
		n := *f.MinimumBudget
		c.MinimumBudget = &n
	}
	return c
}

// ─── Feed entries ─────────────────────────────────────────────────────────────

// RawEntry is one item as fetched from a source.
type RawEntry struct {
	ID        string
	Title     string
	Body      string
	Published string // wire format, e.g. "Sat, 24 Oct 2020 03:06:03 +0000"
	Link      string
}

// Budget is the extracted price information of an entry.
type Budget struct {
	Display string   `json:"display"`
	Amount  *float64 `json:"amount,omitempty"` // nil when it could not be parsed
	Hourly  bool     `json:"hourly"`
}

// Type returns the human label of the contract type.
func (b Budget) Type() string {
	if b.Hourly {
		return "Hourly"
	}
	return "Fixed-price"
}

// Item is the structured form of a RawEntry. It is immutable once built.
type Item struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Summary     string    `json:"summary,omitempty"`
	Budget      Budget    `json:"budget"`
	Country     string    `json:"country"`
	Skills      []string  `json:"skills"`
	PublishedAt time.Time `json:"publishedAt"`
	Published   string    `json:"published"` // relative, e.g. "3 hours ago"
	Source      string    `json:"source"`
}

// URL returns the address shown to the subscriber.
func (i Item) URL() string {
	if i.Link != "" {
		return i.Link
	}
	return i.ID
}
