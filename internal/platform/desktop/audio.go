package desktop

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"pookie/internal/feedback"
	logx "pookie/pkg/logx"
)

var (
	ErrNoPlayer      = errors.New("no audio player available")
	ErrRecording     = errors.New("recording is not supported")
	ErrSoundReleased = errors.New("sound released")
)

// lookPath is swapped in tests.
var lookPath = exec.LookPath

// AudioConfig selects the player command.
type AudioConfig struct {
	// Player is a command name or path. Empty means autodetect.
	Player string
	// Args are passed before the asset path.
	Args []string
	// Silent reports the host as muted.
	Silent bool
	// BaseDir resolves relative asset paths.
	BaseDir string
}

// CommandAudio implements feedback.Audio with an external player process.
type CommandAudio struct {
	log    logx.Logger
	player string
	args   []string
	base   string
	silent atomic.Bool

	mu   sync.Mutex
	mode feedback.AudioMode
}

func NewCommandAudio(cfg AudioConfig, log logx.Logger) *CommandAudio {
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &CommandAudio{log: log, args: append([]string(nil), cfg.Args...), base: cfg.BaseDir}
	a.player = resolvePlayer(cfg.Player)
	a.silent.Store(cfg.Silent)
	if a.player == "" {
		log.Warn("no audio player found, sounds disabled", logx.String("configured", cfg.Player))
	} else {
		log.Debug("audio player resolved", logx.String("player", a.player))
	}
	return a
}

// SetSilent flips the reported mute state (config reload).
func (a *CommandAudio) SetSilent(silent bool) { a.silent.Store(silent) }

// Player returns the resolved player command, "" if none.
func (a *CommandAudio) Player() string { return a.player }

func (a *CommandAudio) ConfigureMode(_ context.Context, mode feedback.AudioMode) error {
	if mode.AllowsRecording {
		return ErrRecording
	}
	a.mu.Lock()
	a.mode = mode
	a.mu.Unlock()
	a.log.Debug("audio mode configured",
		logx.Bool("silent_mode", mode.PlaysInSilentMode),
		logx.Bool("duck_others", mode.DuckOthers))
	return nil
}

func (a *CommandAudio) Status(context.Context) (feedback.AudioStatus, error) {
	return feedback.AudioStatus{Available: a.player != "", Silent: a.silent.Load()}, nil
}

// Load checks that the asset exists and returns a handle bound to it.
func (a *CommandAudio) Load(_ context.Context, kind feedback.SoundKind, path string) (feedback.Sound, error) {
	if a.player == "" {
		return nil, ErrNoPlayer
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sound %s: empty path", kind)
	}
	if !filepath.IsAbs(path) && a.base != "" {
		path = filepath.Join(a.base, path)
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("sound %s: %w", kind, err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("sound %s: %s is a directory", kind, path)
	}
	return &commandSound{player: a.player, args: a.args, path: path}, nil
}

type commandSound struct {
	player string
	args   []string
	path   string
	closed atomic.Bool
}

func (s *commandSound) Play(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSoundReleased
	}
	args := append(append([]string(nil), s.args...), s.path)
	out, err := exec.CommandContext(ctx, s.player, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %w, output: %s", filepath.Base(s.player), err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (s *commandSound) Close() error {
	s.closed.Store(true)
	return nil
}

func resolvePlayer(configured string) string {
	configured = strings.TrimSpace(configured)
	if configured != "" {
		if p, err := lookPath(configured); err == nil {
			return p
		}
		return ""
	}
	candidates := []string{"paplay", "aplay", "ffplay"}
	if runtime.GOOS == "darwin" {
		candidates = []string{"afplay"}
	}
	for _, c := range candidates {
		if p, err := lookPath(c); err == nil {
			return p
		}
	}
	return ""
}
