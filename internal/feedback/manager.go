package feedback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"pookie/internal/eventbus"
	logx "pookie/pkg/logx"
)

// Event types published on the bus.
const (
	EventHaptic = "feedback.haptic"
	EventSound  = "feedback.sound"
)

// TriggerEvent is the Data payload of the bus events above.
type TriggerEvent struct {
	Haptic HapticKind `json:"haptic,omitempty"`
	Sound  SoundKind  `json:"sound,omitempty"`
	Error  string     `json:"error,omitempty"`
}

type Option func(*Manager)

// WithSounds registers asset paths per sound kind. Handles are loaded on
// first play and kept until Close.
func WithSounds(paths map[SoundKind]string) Option {
	return func(m *Manager) {
		for k, v := range paths {
			m.registry[k] = &soundSlot{path: v}
		}
	}
}

// WithAudioMode overrides DefaultAudioMode.
func WithAudioMode(mode AudioMode) Option {
	return func(m *Manager) { m.mode = mode }
}

// WithBus publishes a bus event per haptic/sound trigger.
func WithBus(bus eventbus.Bus) Option {
	return func(m *Manager) { m.bus = bus }
}

// WithSetupTimeout bounds the audio mode setup done by New.
func WithSetupTimeout(d time.Duration) Option {
	return func(m *Manager) { m.setupTimeout = d }
}

var errReleased = errors.New("sound released")

// soundSlot caches a loaded handle. Failed loads are not cached.
type soundSlot struct {
	path string

	mu       sync.Mutex
	sound    Sound
	released bool
}

// Manager plays haptic and sound feedback for user actions.
//
// The two toggles gate haptics and sound independently. Platform failures
// are logged and returned; they never panic.
type Manager struct {
	haptics Haptics
	audio   Audio
	log     logx.Logger
	bus     eventbus.Bus
	mode    AudioMode

	setupTimeout time.Duration

	soundEnabled   atomic.Bool
	hapticsEnabled atomic.Bool

	registry map[SoundKind]*soundSlot
}

// New builds a manager and configures the audio session once. A failed
// audio setup is logged; haptics keep working.
func New(haptics Haptics, audio Audio, log logx.Logger, opts ...Option) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Manager{
		haptics:      haptics,
		audio:        audio,
		log:          log,
		mode:         DefaultAudioMode,
		setupTimeout: 5 * time.Second,
		registry:     map[SoundKind]*soundSlot{},
	}
	m.soundEnabled.Store(true)
	m.hapticsEnabled.Store(true)
	for _, o := range opts {
		o(m)
	}

	if m.audio != nil {
		ctx, cancel := context.WithTimeout(context.Background(), m.setupTimeout)
		if err := m.audio.ConfigureMode(ctx, m.mode); err != nil {
			m.log.Warn("audio setup failed", logx.Err(err))
		}
		cancel()
	}
	return m
}

func (m *Manager) SetSoundEnabled(enabled bool)   { m.soundEnabled.Store(enabled) }
func (m *Manager) SetHapticsEnabled(enabled bool) { m.hapticsEnabled.Store(enabled) }
func (m *Manager) SoundEnabled() bool             { return m.soundEnabled.Load() }
func (m *Manager) HapticsEnabled() bool           { return m.hapticsEnabled.Load() }

// PlayHaptic fires the platform primitive for kind. It is a no-op while
// haptics are disabled.
func (m *Manager) PlayHaptic(ctx context.Context, kind HapticKind) error {
	if !m.HapticsEnabled() || m.haptics == nil {
		return nil
	}

	var err error
	switch kind {
	case HapticLight:
		err = m.haptics.Impact(ctx, ImpactLight)
	case HapticMedium:
		err = m.haptics.Impact(ctx, ImpactMedium)
	case HapticHeavy:
		err = m.haptics.Impact(ctx, ImpactHeavy)
	case HapticSuccess:
		err = m.haptics.Notify(ctx, NotifySuccess)
	case HapticWarning:
		err = m.haptics.Notify(ctx, NotifyWarning)
	case HapticError:
		err = m.haptics.Notify(ctx, NotifyError)
	default:
		m.log.Warn("unknown haptic kind", logx.String("kind", string(kind)))
		return fmt.Errorf("%w: %q", ErrUnknownHaptic, kind)
	}

	if err != nil {
		m.log.Warn("haptics not available", logx.String("kind", string(kind)), logx.Err(err))
		m.publish(EventHaptic, TriggerEvent{Haptic: kind, Error: err.Error()})
		return fmt.Errorf("%w: %w", ErrHaptics, err)
	}
	m.publish(EventHaptic, TriggerEvent{Haptic: kind})
	return nil
}

// PlaySound plays the registered sound for kind. It is a no-op while sound
// is disabled, when the device is silenced and the audio mode does not play
// in silent mode, or when no asset is registered for kind.
func (m *Manager) PlaySound(ctx context.Context, kind SoundKind) error {
	if kind == SoundNone || !m.SoundEnabled() || m.audio == nil {
		return nil
	}

	st, err := m.audio.Status(ctx)
	if err != nil {
		m.log.Warn("sound playback failed", logx.String("kind", string(kind)), logx.Err(err))
		m.publish(EventSound, TriggerEvent{Sound: kind, Error: err.Error()})
		return fmt.Errorf("%w: status: %w", ErrAudio, err)
	}
	if !st.Available || (st.Silent && !m.mode.PlaysInSilentMode) {
		m.log.Debug("sound skipped", logx.String("kind", string(kind)), logx.Bool("available", st.Available), logx.Bool("silent", st.Silent))
		return nil
	}

	slot, ok := m.registry[kind]
	if !ok {
		m.log.Debug("sound not registered", logx.String("kind", string(kind)))
		return nil
	}
	snd, err := m.load(ctx, kind, slot)
	if err == nil {
		err = snd.Play(ctx)
	}
	if err != nil {
		m.log.Warn("sound playback failed", logx.String("kind", string(kind)), logx.Err(err))
		m.publish(EventSound, TriggerEvent{Sound: kind, Error: err.Error()})
		return fmt.Errorf("%w: play %s: %w", ErrAudio, kind, err)
	}
	m.publish(EventSound, TriggerEvent{Sound: kind})
	return nil
}

func (m *Manager) load(ctx context.Context, kind SoundKind, slot *soundSlot) (Sound, error) {
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.released {
		return nil, errReleased
	}
	if slot.sound != nil {
		return slot.sound, nil
	}
	snd, err := m.audio.Load(ctx, kind, slot.path)
	if err != nil {
		return nil, err
	}
	slot.sound = snd
	m.log.Debug("sound loaded", logx.String("kind", string(kind)), logx.String("path", slot.path))
	return snd, nil
}

// PlayFeedback fires the haptic and waits for it before starting the sound,
// so sound loading never delays the haptic. A haptic failure does not
// suppress the sound.
func (m *Manager) PlayFeedback(ctx context.Context, haptic HapticKind, sound SoundKind) error {
	herr := m.PlayHaptic(ctx, haptic)
	var serr error
	if sound != SoundNone {
		serr = m.PlaySound(ctx, sound)
	}
	return errors.Join(herr, serr)
}

func (m *Manager) ButtonPress(ctx context.Context) error { return m.PlayHaptic(ctx, HapticLight) }

func (m *Manager) TaskComplete(ctx context.Context) error {
	return m.PlayFeedback(ctx, HapticSuccess, SoundTaskComplete)
}

func (m *Manager) LevelUp(ctx context.Context) error {
	return m.PlayFeedback(ctx, HapticHeavy, SoundLevelUp)
}

func (m *Manager) Achievement(ctx context.Context) error {
	return m.PlayFeedback(ctx, HapticSuccess, SoundAchievement)
}

func (m *Manager) Error(ctx context.Context) error {
	return m.PlayFeedback(ctx, HapticError, SoundError)
}

func (m *Manager) Warning(ctx context.Context) error {
	return m.PlayFeedback(ctx, HapticWarning, SoundNone)
}

// Close releases every loaded sound handle.
func (m *Manager) Close() error {
	var errs []error
	for kind, slot := range m.registry {
		slot.mu.Lock()
		if slot.sound != nil {
			if err := slot.sound.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", kind, err))
			}
		}
		slot.sound = nil
		slot.released = true
		slot.mu.Unlock()
	}
	return errors.Join(errs...)
}

func (m *Manager) publish(typ string, data TriggerEvent) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
