// Package filter decides whether an extracted item matches a subscriber's
// rules and validates rule values before they are persisted.
package filter

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"jobmate/notifier-service/internal/model"
)

// Passes returns true when item satisfies every configured rule. Rules that
// are not configured always pass, so an empty Filters passes everything.
//
// Called by the feed processor after an entry has been marked seen; a false
// result means the item is silently dropped.
func Passes(item model.Item, f model.Filters) bool {
	if len(f.ExcludeCountries) > 0 {
		country := Fold(item.Country)
		for _, c := range f.ExcludeCountries {
			if Fold(c) == country {
				return false
			}
		}
	}

	// Items whose amount could not be parsed are never excluded by budget.
	if f.MinimumBudget != nil && item.Budget.Amount != nil {
		if *item.Budget.Amount < *f.MinimumBudget {
			return false
		}
	}

	if len(f.Keywords) > 0 {
		title := Fold(item.Title)
		matched := false
		for _, kw := range f.Keywords {
			if kw = Fold(kw); kw != "" && strings.Contains(title, kw) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	return true
}

// Fold normalizes s for comparison: trimmed, Unicode case folded and with
// combining marks removed ("Côte d'Ivoire" and "cote d'ivoire" fold equal).
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, strings.TrimSpace(s))
	if err != nil {
		stripped = strings.TrimSpace(s)
	}
	return cases.Fold().String(stripped)
}
