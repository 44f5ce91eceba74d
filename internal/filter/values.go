package filter

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"jobmate/notifier-service/internal/model"
)

// ErrInvalidValue is matched by every ValidationError.
var ErrInvalidValue = errors.New("invalid value")

// ValidationError is returned for a filter or setting value that can never be
// stored. The message is safe to show to the subscriber.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidValue }

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ParseFilter validates raw for key. List keys take a comma separated list;
// minimum_budget takes a non-negative number, optionally with "$" and
// thousands separators.
func ParseFilter(key, raw string) (model.FilterValue, error) {
	k := model.FilterKey(strings.ToLower(strings.TrimSpace(key)))
	switch k {
	case model.FilterExcludeCountries, model.FilterKeywords:
		list := splitList(raw)
		if len(list) == 0 {
			return model.FilterValue{}, invalid("%s needs at least one comma separated value", k)
		}
		return model.FilterValue{Key: k, List: list}, nil

	case model.FilterMinimumBudget:
		s := strings.NewReplacer("$", "", ",", "").Replace(strings.TrimSpace(raw))
		n, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return model.FilterValue{}, invalid("%s must be a number, got %q", k, raw)
		}
		if n < 0 {
			return model.FilterValue{}, invalid("%s must not be negative", k)
		}
		return model.FilterValue{Key: k, Number: n}, nil
	}
	return model.FilterValue{}, invalid("unknown filter %q, allowed: %s", key, allowedFilters())
}

// ParseFilterKey validates a bare key, as used when clearing a rule.
func ParseFilterKey(key string) (model.FilterKey, error) {
	k := model.FilterKey(strings.ToLower(strings.TrimSpace(key)))
	for _, known := range model.FilterKeys {
		if k == known {
			return k, nil
		}
	}
	return "", invalid("unknown filter %q, allowed: %s", key, allowedFilters())
}

// ParseSetting validates raw for key and returns the value to persist.
func ParseSetting(key, raw string) (string, error) {
	k := strings.ToLower(strings.TrimSpace(key))
	v := strings.TrimSpace(raw)
	switch k {
	case model.SettingTimezone:
		if v == "" {
			return "", invalid("timezone must not be empty")
		}
		loc, err := time.LoadLocation(v)
		if err != nil {
			return "", invalid("unknown timezone %q", raw)
		}
		return loc.String(), nil

	case model.SettingShowSummary:
		switch strings.ToLower(v) {
		case "yes", "true", "on", "1":
			return "yes", nil
		case "no", "false", "off", "0":
			return "no", nil
		}
		return "", invalid("show_summary must be yes or no, got %q", raw)
	}
	return "", invalid("unknown setting %q, allowed: %s", key, strings.Join(model.SettingKeys, ", "))
}

// ParseSource validates a feed address and its display name. Names may
// contain spaces and need not be unique.
func ParseSource(rawURL, name string) (model.Source, error) {
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.ParseRequestURI(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return model.Source{}, invalid("%q is not an http(s) feed address", rawURL)
	}
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return model.Source{}, invalid("source name must not be empty")
	}
	return model.Source{Name: name, URL: u.String()}, nil
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func allowedFilters() string {
	keys := make([]string, len(model.FilterKeys))
	for i, k := range model.FilterKeys {
		keys[i] = string(k)
	}
	return strings.Join(keys, ", ")
}
