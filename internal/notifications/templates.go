package notifications

import (
	"fmt"
	"time"
)

const (
	dailyReminderTitle = "Daily Love Tasks 💕"
	dailyReminderBody  = "Time to complete your daily romantic tasks!"
	defaultSound       = "default"
)

// DefaultChannelID is the channel provisioned after permission is granted.
const DefaultChannelID = "default"

// DefaultChannel is the channel provisioned on platforms with channels.
func DefaultChannel() ChannelSpec {
	return ChannelSpec{
		Name:             DefaultChannelID,
		Importance:       ImportanceMax,
		VibrationPattern: []time.Duration{0, 250 * time.Millisecond, 250 * time.Millisecond, 250 * time.Millisecond},
		LightColor:       "#FF69B4",
	}
}

// EventReminderText returns the wording for an upcoming event reminder.
// highPriority is set for events today or tomorrow.
func EventReminderText(name string, daysUntil int, date string) (title, body string, highPriority bool) {
	switch {
	case daysUntil <= 0:
		title = fmt.Sprintf("🎉 Today: %s", name)
		body = fmt.Sprintf("Don't forget! %s is today!", name)
	case daysUntil == 1:
		title = fmt.Sprintf("📅 Tomorrow: %s", name)
		body = fmt.Sprintf("%s is tomorrow! Time to prepare!", name)
	case daysUntil <= 3:
		title = fmt.Sprintf("⏰ %s in %d days", name, daysUntil)
		body = fmt.Sprintf("Coming up soon: %s", name)
	default:
		title = fmt.Sprintf("📆 %s in %d days", name, daysUntil)
		body = fmt.Sprintf("Mark your calendar: %s on %s", name, date)
	}
	return title, body, daysUntil <= 1
}

func eventContent(n EventNotification) Content {
	c := Content{
		Title: n.Title,
		Body:  n.Body,
		Sound: defaultSound,
		Data: map[string]string{
			"eventId": n.EventID,
			"type":    string(KindEventReminder),
		},
	}
	if n.HighPriority {
		c.Data["priority"] = "high"
	}
	return c
}

func dailyContent() Content {
	return Content{
		Title: dailyReminderTitle,
		Body:  dailyReminderBody,
		Sound: defaultSound,
		Data:  map[string]string{"type": string(KindDailyReminder)},
	}
}
