package desktop

import (
	"context"
	"time"

	"pookie/internal/eventbus"
	"pookie/internal/feedback"
	logx "pookie/pkg/logx"
)

// EventPulse is published for every haptic pulse LogHaptics receives.
const EventPulse = "haptics.pulse"

// Pulse is the Data payload of EventPulse.
type Pulse struct {
	Primitive string `json:"primitive"` // "impact" | "notification"
	Style     string `json:"style"`
}

// LogHaptics records haptic pulses instead of driving a motor.
type LogHaptics struct {
	log logx.Logger
	bus eventbus.Bus
}

func NewLogHaptics(log logx.Logger, bus eventbus.Bus) *LogHaptics {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogHaptics{log: log, bus: bus}
}

func (h *LogHaptics) Impact(ctx context.Context, style feedback.ImpactStyle) error {
	return h.pulse(ctx, "impact", string(style))
}

func (h *LogHaptics) Notify(ctx context.Context, style feedback.NotificationStyle) error {
	return h.pulse(ctx, "notification", string(style))
}

func (h *LogHaptics) pulse(ctx context.Context, primitive, style string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.log.Debug("haptic pulse", logx.String("primitive", primitive), logx.String("style", style))
	if h.bus != nil {
		h.bus.Publish(eventbus.Event{Type: EventPulse, Time: time.Now(), Data: Pulse{Primitive: primitive, Style: style}})
	}
	return nil
}
