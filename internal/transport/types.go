package transport

import (
	"context"
	"strings"
	"time"
)

// Message is a fired notification on its way to the user.
type Message struct {
	ID       string // notification id
	Kind     string // "event_reminder" | "daily_reminder" | ...
	Trigger  string // "once" | "daily"
	Channel  string // notification channel id, "" if none
	Title    string
	Body     string
	Sound    string
	Data     map[string]string
	Priority int // 0 low.. 10 high
	At       time.Time
}

// Text renders the message as plain text.
func (m Message) Text() string {
	title := strings.TrimSpace(m.Title)
	body := strings.TrimSpace(m.Body)
	switch {
	case title == "":
		return body
	case body == "":
		return title
	default:
		return title + "\n" + body
	}
}

// Sink delivers a message to one destination (log, chat, push gateway).
type Sink interface {
	Name() string
	Send(ctx context.Context, m Message) error
}

// Stopper is implemented by sinks that hold resources.
type Stopper interface {
	Stop(ctx context.Context) error
}
