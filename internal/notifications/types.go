package notifications

import (
	"context"
	"errors"
	"time"
)

var (
	ErrPermissionDenied    = errors.New("notification permission not granted")
	ErrPlatform            = errors.New("notification platform call failed")
	ErrInvalidTime         = errors.New("invalid time of day, expected HH:MM")
	ErrInvalidNotification = errors.New("invalid notification")

	// ErrNotPermitted is what platforms wrap when they refuse a schedule
	// call for missing permission.
	ErrNotPermitted = errors.New("notifications not permitted")
)

// PermissionStatus mirrors the platform's permission answer.
type PermissionStatus string

const (
	PermissionUndetermined PermissionStatus = "undetermined"
	PermissionGranted      PermissionStatus = "granted"
	PermissionDenied       PermissionStatus = "denied"
)

// Kind tags what a scheduled notification is for. The values double as the
// "type" entry of the notification payload.
type Kind string

const (
	KindEventReminder Kind = "event_reminder"
	KindDailyReminder Kind = "daily_reminder"
)

// Content is what the platform shows when a notification fires.
type Content struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Sound string            `json:"sound,omitempty"`
	Data  map[string]string `json:"data,omitempty"`
}

// Importance is the channel importance level on platforms with channels.
type Importance int

const (
	ImportanceDefault Importance = 3
	ImportanceHigh    Importance = 4
	ImportanceMax     Importance = 5
)

// ChannelSpec describes a notification channel (Android family only).
type ChannelSpec struct {
	Name             string          `json:"name"`
	Importance       Importance      `json:"importance"`
	VibrationPattern []time.Duration `json:"vibration_pattern"`
	LightColor       string          `json:"light_color"`
}

// Platform is the OS-level notification service.
type Platform interface {
	PermissionStatus(ctx context.Context) (PermissionStatus, error)
	RequestPermission(ctx context.Context) (PermissionStatus, error)
	ScheduleAt(ctx context.Context, c Content, at time.Time) (string, error)
	ScheduleDaily(ctx context.Context, c Content, hour, minute int) (string, error)
	Cancel(ctx context.Context, id string) error
	CancelAll(ctx context.Context) error
}

// ChannelConfigurer is implemented by platforms that group notifications
// into channels.
type ChannelConfigurer interface {
	ConfigureChannel(ctx context.Context, id string, spec ChannelSpec) error
}

// PendingLister is implemented by platforms that can enumerate the ids of
// notifications that have not fired (or been canceled) yet.
type PendingLister interface {
	Pending(ctx context.Context) ([]string, error)
}

// EventNotification is a one-off reminder for a calendar event.
type EventNotification struct {
	Title   string
	Body    string
	Date    time.Time
	EventID string
	// HighPriority marks reminders for events today or tomorrow.
	HighPriority bool
}

// Record is the local bookkeeping entry for a scheduled notification.
type Record struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	EventID   string    `json:"event_id,omitempty"`
	Title     string    `json:"title,omitempty"`
	Date      time.Time `json:"date,omitempty"`
	Time      string    `json:"time,omitempty"` // HH:MM for daily reminders
	CreatedAt time.Time `json:"created_at"`
}
