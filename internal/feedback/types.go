package feedback

import (
	"context"
	"errors"
)

var (
	ErrUnknownHaptic = errors.New("unknown haptic kind")
	ErrHaptics       = errors.New("haptics platform call failed")
	ErrAudio         = errors.New("audio platform call failed")
)

// HapticKind is the semantic pulse requested by the UI.
type HapticKind string

const (
	HapticLight   HapticKind = "light"
	HapticMedium  HapticKind = "medium"
	HapticHeavy   HapticKind = "heavy"
	HapticSuccess HapticKind = "success"
	HapticWarning HapticKind = "warning"
	HapticError   HapticKind = "error"
)

// SoundKind names a registered sound. The empty SoundKind means "no sound".
type SoundKind string

const (
	SoundNone         SoundKind = ""
	SoundTaskComplete SoundKind = "task_complete"
	SoundLevelUp      SoundKind = "level_up"
	SoundAchievement  SoundKind = "achievement"
	SoundNotification SoundKind = "notification"
	SoundError        SoundKind = "error"
)

// ImpactStyle is the platform's impact primitive.
type ImpactStyle string

const (
	ImpactLight  ImpactStyle = "light"
	ImpactMedium ImpactStyle = "medium"
	ImpactHeavy  ImpactStyle = "heavy"
)

// NotificationStyle is the platform's notification-feedback primitive.
type NotificationStyle string

const (
	NotifySuccess NotificationStyle = "success"
	NotifyWarning NotificationStyle = "warning"
	NotifyError   NotificationStyle = "error"
)

// Haptics is the platform haptics service.
type Haptics interface {
	Impact(ctx context.Context, style ImpactStyle) error
	Notify(ctx context.Context, style NotificationStyle) error
}

// AudioMode is the audio session policy applied once at construction.
type AudioMode struct {
	AllowsRecording         bool `json:"allows_recording"`
	StaysActiveInBackground bool `json:"stays_active_in_background"`
	PlaysInSilentMode       bool `json:"plays_in_silent_mode"`
	DuckOthers              bool `json:"duck_others"`
	PlayThroughEarpiece     bool `json:"play_through_earpiece"`
}

// DefaultAudioMode never records, never plays in the background or in
// silent mode, ducks other audio and never routes through the earpiece.
var DefaultAudioMode = AudioMode{
	AllowsRecording:         false,
	StaysActiveInBackground: false,
	PlaysInSilentMode:       false,
	DuckOthers:              true,
	PlayThroughEarpiece:     false,
}

// AudioStatus is what the audio service reports before playback.
type AudioStatus struct {
	Available bool
	Silent    bool
}

// Sound is a loaded audio handle.
type Sound interface {
	Play(ctx context.Context) error
	Close() error
}

// Audio is the platform audio service.
type Audio interface {
	ConfigureMode(ctx context.Context, mode AudioMode) error
	Status(ctx context.Context) (AudioStatus, error)
	Load(ctx context.Context, kind SoundKind, path string) (Sound, error)
}
