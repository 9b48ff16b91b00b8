package desktop

import (
	"context"

	"pookie/internal/feedback"
)

// NoopHaptics accepts every pulse and does nothing.
type NoopHaptics struct{}

func (NoopHaptics) Impact(context.Context, feedback.ImpactStyle) error       { return nil }
func (NoopHaptics) Notify(context.Context, feedback.NotificationStyle) error { return nil }

// NoopAudio reports no output device, so the feedback manager skips sounds.
type NoopAudio struct{}

func (NoopAudio) ConfigureMode(context.Context, feedback.AudioMode) error { return nil }
func (NoopAudio) Status(context.Context) (feedback.AudioStatus, error) {
	return feedback.AudioStatus{}, nil
}
func (NoopAudio) Load(context.Context, feedback.SoundKind, string) (feedback.Sound, error) {
	return noopSound{}, nil
}

type noopSound struct{}

func (noopSound) Play(context.Context) error { return nil }
func (noopSound) Close() error               { return nil }
