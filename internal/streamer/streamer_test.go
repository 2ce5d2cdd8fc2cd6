package streamer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// pinRecorder records rail writes across multiple pins so tests can
// assert ordering and timing.
type pinRecorder struct {
	mu     sync.Mutex
	writes []pinWrite
}

type pinWrite struct {
	name string
	high bool
	at   time.Time
}

func (r *pinRecorder) pin(name string) *recordedPin {
	return &recordedPin{name: name, rec: r}
}

func (r *pinRecorder) all() []pinWrite {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]pinWrite, len(r.writes))
	copy(out, r.writes)
	return out
}

type recordedPin struct {
	name string
	rec  *pinRecorder
	err  error
}

func (p *recordedPin) Write(high bool) error {
	if p.err != nil {
		return p.err
	}
	p.rec.mu.Lock()
	defer p.rec.mu.Unlock()
	p.rec.writes = append(p.rec.writes, pinWrite{name: p.name, high: high, at: time.Now()})
	return nil
}

// staticLocator resolves every bind to a fixed path.
type staticLocator struct {
	path string
	err  error
}

func (l *staticLocator) LocateByBind(_ context.Context, _ string) (string, error) {
	return l.path, l.err
}

// testConfig returns a minimal valid config running /bin/true.
func testConfig() Config {
	return Config{
		Width:           1280,
		Height:          720,
		Command:         []string{"/bin/true"},
		RestartCooldown: 10 * time.Millisecond,
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "empty command",
			mutate:  func(c *Config) { c.Command = nil },
			wantErr: "command must not be empty",
		},
		{
			name:    "zero resolution",
			mutate:  func(c *Config) { c.Width = 0 },
			wantErr: "invalid resolution",
		},
		{
			name:    "unknown placeholder",
			mutate:  func(c *Config) { c.Command = []string{"ustreamer", "--fps={fps}"} },
			wantErr: "unknown placeholder",
		},
		{
			name:    "uppercase placeholder",
			mutate:  func(c *Config) { c.Command = []string{"ustreamer", "--fps={FPS}"} },
			wantErr: "unknown placeholder",
		},
		{
			name:    "placeholder with digits",
			mutate:  func(c *Config) { c.Command = []string{"ustreamer", "--device={device2}"} },
			wantErr: "unknown placeholder",
		},
		{
			name:    "mixed case placeholder",
			mutate:  func(c *Config) { c.Command = []string{"ustreamer", "--width={Width}"} },
			wantErr: "unknown placeholder",
		},
		{
			name:    "device placeholder without bind",
			mutate:  func(c *Config) { c.Command = []string{"ustreamer", "--device={device}"} },
			wantErr: "requires a configured bind",
		},
		{
			name: "bind without locator",
			mutate: func(c *Config) {
				c.Bind = "1-1.4:1.0"
				c.Locator = nil
			},
			wantErr: "locator is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)

			_, err := New(cfg)
			if err == nil {
				t.Fatal("New() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("New() error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestNew_DefaultsCooldown(t *testing.T) {
	cfg := testConfig()
	cfg.RestartCooldown = 0

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if s.cfg.RestartCooldown != time.Second {
		t.Errorf("RestartCooldown = %v, want 1s", s.cfg.RestartCooldown)
	}
}

func TestRenderCommand(t *testing.T) {
	tests := []struct {
		name   string
		tmpl   []string
		device string
		want   []string
	}{
		{
			name:   "all placeholders",
			tmpl:   []string{"ustreamer", "--device={device}", "--resolution={width}x{height}"},
			device: "/dev/video2",
			want:   []string{"ustreamer", "--device=/dev/video2", "--resolution=1920x1080"},
		},
		{
			name: "no placeholders",
			tmpl: []string{"ustreamer", "--port=8081"},
			want: []string{"ustreamer", "--port=8081"},
		},
		{
			name: "repeated placeholder in one argument",
			tmpl: []string{"--map={width}:{width}"},
			want: []string{"--map=1920:1920"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := renderCommand(tt.tmpl, 1920, 1080, tt.device)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d args, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("arg[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestPowerOn_OrderAndDelays(t *testing.T) {
	rec := &pinRecorder{}
	cfg := testConfig()
	cfg.CapPin = rec.pin("cap")
	cfg.ConvPin = rec.pin("conv")
	cfg.SyncDelay = 30 * time.Millisecond
	cfg.InitDelay = 10 * time.Millisecond

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	start := time.Now()
	if err := s.setHWEnabled(context.Background(), true); err != nil {
		t.Fatalf("setHWEnabled(true) error = %v", err)
	}
	elapsed := time.Since(start)

	writes := rec.all()
	if len(writes) != 2 {
		t.Fatalf("got %d writes, want 2", len(writes))
	}
	if writes[0].name != "cap" || !writes[0].high {
		t.Errorf("first write = %+v, want cap high", writes[0])
	}
	if writes[1].name != "conv" || !writes[1].high {
		t.Errorf("second write = %+v, want conv high", writes[1])
	}
	if gap := writes[1].at.Sub(writes[0].at); gap < cfg.SyncDelay {
		t.Errorf("inter-rail gap = %v, want >= %v", gap, cfg.SyncDelay)
	}
	if want := cfg.SyncDelay + cfg.InitDelay; elapsed < want {
		t.Errorf("power-on took %v, want >= %v", elapsed, want)
	}
}

func TestPowerOff_ImmediateNoDelays(t *testing.T) {
	rec := &pinRecorder{}
	cfg := testConfig()
	cfg.CapPin = rec.pin("cap")
	cfg.ConvPin = rec.pin("conv")
	cfg.SyncDelay = time.Second
	cfg.InitDelay = time.Second

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	start := time.Now()
	if err := s.setHWEnabled(context.Background(), false); err != nil {
		t.Fatalf("setHWEnabled(false) error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("power-off took %v, want immediate", elapsed)
	}

	writes := rec.all()
	if len(writes) != 2 {
		t.Fatalf("got %d writes, want 2", len(writes))
	}
	if writes[0].name != "cap" || writes[0].high {
		t.Errorf("first write = %+v, want cap low", writes[0])
	}
	if writes[1].name != "conv" || writes[1].high {
		t.Errorf("second write = %+v, want conv low", writes[1])
	}
}

func TestPower_UnsetPinsSkipped(t *testing.T) {
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := s.setHWEnabled(context.Background(), true); err != nil {
		t.Errorf("setHWEnabled(true) with no pins: %v", err)
	}
	if err := s.setHWEnabled(context.Background(), false); err != nil {
		t.Errorf("setHWEnabled(false) with no pins: %v", err)
	}
}

func TestPowerOn_CancelledDuringSyncDelay(t *testing.T) {
	rec := &pinRecorder{}
	cfg := testConfig()
	cfg.CapPin = rec.pin("cap")
	cfg.ConvPin = rec.pin("conv")
	cfg.SyncDelay = time.Minute

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := s.setHWEnabled(ctx, true); err == nil {
		t.Fatal("expected context error")
	}

	for _, w := range rec.all() {
		if w.name == "conv" {
			t.Error("converter rail written after cancellation")
		}
	}
}

func TestStartStop_UsageErrors(t *testing.T) {
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	if err := s.Stop(ctx); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop() before Start = %v, want ErrNotRunning", err)
	}

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Cleanup(ctx) //nolint:errcheck // test cleanup

	if err := s.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() = %v, want ErrAlreadyRunning", err)
	}

	if !s.IsRunning() {
		t.Error("IsRunning() = false while started")
	}

	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
	if err := s.Stop(ctx); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second Stop() = %v, want ErrNotRunning", err)
	}
}

func TestCleanup_Idempotent(t *testing.T) {
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	if err := s.Cleanup(ctx); err != nil {
		t.Errorf("Cleanup() while stopped = %v, want nil", err)
	}

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Cleanup(ctx); err != nil {
		t.Errorf("Cleanup() while running = %v, want nil", err)
	}
	if s.IsRunning() {
		t.Error("IsRunning() = true after Cleanup")
	}
}

func TestSupervisor_RestartsAfterCleanExit(t *testing.T) {
	exits := make(chan error, 16)
	cfg := testConfig()
	cfg.Hooks.ProcessExited = func(err error) {
		select {
		case exits <- err:
		default:
		}
	}

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Cleanup(ctx) //nolint:errcheck // test cleanup

	// /bin/true exits cleanly; the supervisor must still treat that as
	// unexpected and relaunch after the cooldown.
	for i := 0; i < 2; i++ {
		select {
		case exitErr := <-exits:
			if exitErr == nil {
				t.Error("ProcessExited hook received nil error")
			} else if !strings.Contains(exitErr.Error(), "unexpectedly") {
				t.Errorf("exit error = %v, want unexpected-exit", exitErr)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for exit %d", i+1)
		}
	}

	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	stats := s.Stats()
	if stats.Restarts < 2 {
		t.Errorf("Restarts = %d, want >= 2", stats.Restarts)
	}
}

func TestStop_KillsTermIgnoringProcess(t *testing.T) {
	started := make(chan int, 1)
	cfg := testConfig()
	// The child ignores SIGTERM, forcing the SIGKILL escalation.
	cfg.Command = []string{"/bin/sh", "-c", `trap "" TERM; while :; do sleep 1; done`}
	cfg.RestartCooldown = time.Minute
	cfg.Hooks.ProcessStarted = func(pid int, _ string) {
		select {
		case started <- pid:
		default:
		}
	}

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for process start")
	}

	stopDone := make(chan error, 1)
	go func() { stopDone <- s.Stop(ctx) }()

	select {
	case err := <-stopDone:
		if err != nil {
			t.Fatalf("Stop() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Stop() did not return; kill escalation failed")
	}
}

func TestRunner_StallDetection(t *testing.T) {
	exits := make(chan error, 4)
	cfg := testConfig()
	// Emit well over maxEmptyReads blank lines, then hang.
	cfg.Command = []string{"/bin/sh", "-c", `i=0; while [ $i -lt 200 ]; do echo; i=$((i+1)); done; sleep 60`}
	cfg.RestartCooldown = time.Minute
	cfg.Hooks.ProcessExited = func(err error) {
		select {
		case exits <- err:
		default:
		}
	}

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Cleanup(ctx) //nolint:errcheck // test cleanup

	select {
	case exitErr := <-exits:
		if !errors.Is(exitErr, errStreamStalled) {
			t.Errorf("exit error = %v, want stalled stream", exitErr)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for stall detection")
	}
}

func TestRunner_RestartsWhenStreamClosesWithLiveProcess(t *testing.T) {
	exits := make(chan error, 4)
	cfg := testConfig()
	// Close both output streams but keep the process alive.
	cfg.Command = []string{"/bin/sh", "-c", `exec >&- 2>&-; sleep 30`}
	cfg.RestartCooldown = time.Minute
	cfg.Hooks.ProcessExited = func(err error) {
		select {
		case exits <- err:
		default:
		}
	}

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Cleanup(ctx) //nolint:errcheck // test cleanup

	select {
	case exitErr := <-exits:
		if !errors.Is(exitErr, errStreamStalled) {
			t.Errorf("exit error = %v, want stalled stream", exitErr)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for closed-stream detection")
	}
}

func TestSupervisor_DeviceMissingRetries(t *testing.T) {
	missing := make(chan string, 8)
	cfg := testConfig()
	cfg.Bind = "1-1.4:1.0"
	cfg.Locator = &staticLocator{path: ""}
	cfg.Command = []string{"ustreamer", "--device={device}"}
	cfg.Hooks.DeviceMissing = func(bind string) {
		select {
		case missing <- bind:
		default:
		}
	}

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Cleanup(ctx) //nolint:errcheck // test cleanup

	// The missing device routes to cooldown and retries; it is never fatal.
	for i := 0; i < 2; i++ {
		select {
		case bind := <-missing:
			if bind != cfg.Bind {
				t.Errorf("DeviceMissing bind = %q, want %q", bind, cfg.Bind)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for device-missing %d", i+1)
		}
	}

	stats := s.Stats()
	if stats.PID != 0 {
		t.Errorf("PID = %d, want 0 (no process spawned without a device)", stats.PID)
	}
}

func TestState_Snapshot(t *testing.T) {
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	state := s.State()
	if state.IsRunning {
		t.Error("IsRunning = true before Start")
	}
	if state.Size.Width != 1280 || state.Size.Height != 720 {
		t.Errorf("Size = %+v, want 1280x720", state.Size)
	}

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Cleanup(ctx) //nolint:errcheck // test cleanup

	if !s.State().IsRunning {
		t.Error("IsRunning = false after Start")
	}
}
