// Package notify defines where delivered items and operator alerts go, and
// how an item is rendered for a chat message.
package notify

import (
	"context"
	"time"

	"jobmate/notifier-service/internal/model"
)

// Sink delivers a rendered message to one subscriber. Delivery is fire and
// forget: implementations log their own failures.
type Sink interface {
	Deliver(ctx context.Context, subscriberID int64, text string)
}

// RecordSink stores a structured copy of every delivered item.
type RecordSink interface {
	Upsert(ctx context.Context, item model.Item) error
}

// Event types.
const (
	EventTickFailed = "EVENT_TICK_FAILED"
)

// Alert is an operator-facing event raised when a tick could not run.
type Alert struct {
	Type         string    `json:"type"`
	SubscriberID int64     `json:"subscriberId"`
	RunID        string    `json:"runId"`
	Error        string    `json:"error"`
	At           time.Time `json:"at"`
}

// Alerter forwards alerts to operators. Like Sink it never fails the caller.
type Alerter interface {
	Alert(ctx context.Context, a Alert)
}

// Alerters fans an alert out to every member.
type Alerters []Alerter

func (as Alerters) Alert(ctx context.Context, a Alert) {
	for _, al := range as {
		if al != nil {
			al.Alert(ctx, a)
		}
	}
}
