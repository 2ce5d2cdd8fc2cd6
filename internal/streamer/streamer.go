// Package streamer supervises the video capture pipeline process.
//
// The streamer owns the hardware power rails, resolves the capture
// device from its USB bind on every launch, and keeps the pipeline
// process alive until an operator stops it. A pipeline exit is never
// terminal; the supervisor waits a short cooldown and relaunches.
package streamer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Usage errors returned by Start and Stop.
var (
	ErrAlreadyRunning = errors.New("streamer is already running")
	ErrNotRunning     = errors.New("streamer is not running")
)

// defaultRestartCooldown is the pause before relaunching after a failure.
const defaultRestartCooldown = time.Second

// PinWriter drives a single power rail line.
type PinWriter interface {
	Write(high bool) error
}

// DeviceLocator resolves the capture device node from its USB bind.
type DeviceLocator interface {
	LocateByBind(ctx context.Context, bind string) (string, error)
}

// Logger defines the logging interface for the streamer.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Hooks are optional callbacks fired on supervisor events.
// They are invoked from the supervisor goroutine and must not block.
type Hooks struct {
	// ProcessStarted fires after the pipeline process has been spawned.
	ProcessStarted func(pid int, device string)

	// ProcessExited fires when a pipeline cycle ends for any reason
	// other than an operator stop.
	ProcessExited func(err error)

	// DeviceMissing fires when the configured bind resolves to no
	// attached device.
	DeviceMissing func(bind string)

	// Restarting fires just before the cooldown preceding a relaunch.
	Restarting func()
}

// Config holds the immutable streamer configuration.
type Config struct {
	// CapPin powers the capture board. Nil means the capture stage
	// has no power control.
	CapPin PinWriter

	// ConvPin powers the HDMI converter. Nil means the converter
	// stage has no power control.
	ConvPin PinWriter

	// Bind is the USB interface system name of the capture device.
	// Empty means the command carries a static device path and no
	// resolution is performed.
	Bind string

	// Locator resolves Bind to a device node. Required when Bind is set.
	Locator DeviceLocator

	// SyncDelay is the pause between the capture and converter rails
	// during power-on.
	SyncDelay time.Duration

	// InitDelay is the pause after full power-on before the device is
	// considered usable.
	InitDelay time.Duration

	// Width and Height are substituted into the command template.
	Width  int
	Height int

	// Command is the pipeline command template. Arguments may contain
	// the placeholders {width}, {height} and {device}.
	Command []string

	// RestartCooldown is the pause before relaunching after a failure.
	// Zero means one second.
	RestartCooldown time.Duration

	// Hooks are optional event callbacks.
	Hooks Hooks
}

// status is the facade lifecycle state. An explicit tag, rather than
// inferring liveness from the task handle, keeps concurrent Start and
// Stop calls unambiguous.
type status int

const (
	statusStopped status = iota
	statusStarting
	statusRunning
	statusStopping
)

// Streamer is the externally visible lifecycle object for the capture
// pipeline. Start and Stop may be called from any goroutine.
type Streamer struct {
	cfg    Config
	logger Logger

	mu     sync.Mutex
	status status
	cancel context.CancelFunc
	done   chan struct{}

	statsMu   sync.Mutex
	pid       int
	device    string
	restarts  int
	lastErr   error
	startedAt time.Time
}

// New validates the configuration and returns a Streamer.
//
// The command template is checked up front: an unknown placeholder, or
// {device} without a configured bind, is a configuration error.
func New(cfg Config) (*Streamer, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("streamer command must not be empty")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid resolution %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Bind != "" && cfg.Locator == nil {
		return nil, errors.New("device locator is required when a bind is configured")
	}
	if err := validateTemplate(cfg.Command, cfg.Bind != ""); err != nil {
		return nil, err
	}
	if cfg.RestartCooldown <= 0 {
		cfg.RestartCooldown = defaultRestartCooldown
	}

	return &Streamer{
		cfg:    cfg,
		logger: noopLogger{},
	}, nil
}

// SetLogger sets the logger for the streamer.
func (s *Streamer) SetLogger(logger Logger) {
	s.logger = logger
}

// Start powers on the hardware and launches the supervisor loop.
// It returns once the loop is scheduled; it does not wait for the
// first frame. Returns ErrAlreadyRunning if the streamer is active.
//
// The context bounds the power-on delays only; the supervisor's
// lifetime is owned by Stop.
func (s *Streamer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status != statusStopped {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.status = statusStarting
	s.mu.Unlock()

	s.logger.Info("starting streamer",
		"bind", s.cfg.Bind,
		"width", s.cfg.Width,
		"height", s.cfg.Height,
	)

	if err := s.setHWEnabled(ctx, true); err != nil {
		// Best effort: do not leave one rail powered on a failed start.
		if offErr := s.setHWEnabled(ctx, false); offErr != nil {
			s.logger.Warn("power-off after failed start", "error", offErr)
		}
		s.mu.Lock()
		s.status = statusStopped
		s.mu.Unlock()
		return fmt.Errorf("powering on streamer hardware: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.status = statusRunning
	s.mu.Unlock()

	s.statsMu.Lock()
	s.startedAt = time.Now()
	s.statsMu.Unlock()

	go s.supervise(loopCtx, done)

	return nil
}

// Stop cancels the supervisor loop, waits for it to fully finish, then
// powers off the hardware. Any live pipeline process is killed before
// Stop returns. Returns ErrNotRunning if the streamer is not active.
func (s *Streamer) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.status != statusRunning {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.status = statusStopping
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	s.logger.Info("stopping streamer")
	cancel()
	<-done

	err := s.setHWEnabled(ctx, false)

	s.mu.Lock()
	s.status = statusStopped
	s.mu.Unlock()

	s.statsMu.Lock()
	s.startedAt = time.Time{}
	s.statsMu.Unlock()

	if err != nil {
		return fmt.Errorf("powering off streamer hardware: %w", err)
	}

	s.logger.Info("streamer stopped")
	return nil
}

// IsRunning reports whether the supervisor loop is active.
func (s *Streamer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == statusRunning
}

// Cleanup stops the streamer if it is running. Safe to call at any
// time; used for shutdown and error-path teardown.
func (s *Streamer) Cleanup(ctx context.Context) error {
	err := s.Stop(ctx)
	if errors.Is(err, ErrNotRunning) {
		return nil
	}
	return err
}

// Resolution is the configured capture size.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// State is the externally visible streamer state snapshot.
type State struct {
	IsRunning bool       `json:"is_running"`
	Size      Resolution `json:"size"`
}

// State returns the current state. It is a pure read with no side effects.
func (s *Streamer) State() State {
	return State{
		IsRunning: s.IsRunning(),
		Size:      Resolution{Width: s.cfg.Width, Height: s.cfg.Height},
	}
}

// Stats is a diagnostic snapshot of the supervisor.
type Stats struct {
	IsRunning     bool       `json:"is_running"`
	PID           int        `json:"pid,omitempty"`
	Device        string     `json:"device,omitempty"`
	Restarts      int        `json:"restarts"`
	LastError     string     `json:"last_error,omitempty"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	Size          Resolution `json:"size"`
}

// Stats returns current supervisor statistics.
func (s *Streamer) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	stats := Stats{
		IsRunning: s.IsRunning(),
		PID:       s.pid,
		Device:    s.device,
		Restarts:  s.restarts,
		Size:      Resolution{Width: s.cfg.Width, Height: s.cfg.Height},
	}
	if s.lastErr != nil {
		stats.LastError = s.lastErr.Error()
	}
	if !s.startedAt.IsZero() {
		stats.UptimeSeconds = int64(time.Since(s.startedAt).Seconds())
	}
	return stats
}
