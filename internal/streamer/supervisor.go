package streamer

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// supervise is the always-on control loop: resolve the device, launch
// the pipeline, supervise it until it dies, cool down, repeat. It
// never terminates on its own; only cancellation ends it.
func (s *Streamer) supervise(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.logger.Info("streamer supervisor started")

	for {
		err := s.cycle(ctx)
		if errors.Is(err, context.Canceled) {
			s.logger.Info("streamer supervisor stopped")
			return
		}

		s.logger.Error("streamer cycle failed, will retry",
			"error", err,
			"cooldown", s.cfg.RestartCooldown,
		)

		s.statsMu.Lock()
		s.lastErr = err
		s.restarts++
		s.statsMu.Unlock()

		if s.cfg.Hooks.ProcessExited != nil {
			s.cfg.Hooks.ProcessExited(err)
		}
		if s.cfg.Hooks.Restarting != nil {
			s.cfg.Hooks.Restarting()
		}

		select {
		case <-ctx.Done():
			s.logger.Info("streamer supervisor stopped")
			return
		case <-time.After(s.cfg.RestartCooldown):
		}
	}
}

// cycle performs one resolve-and-run iteration. It returns the
// context error on cancellation and a descriptive error otherwise.
func (s *Streamer) cycle(ctx context.Context) error {
	device := ""
	if s.cfg.Bind != "" {
		path, err := s.locateDevice(ctx)
		if err != nil {
			return err
		}
		if path == "" {
			if s.cfg.Hooks.DeviceMissing != nil {
				s.cfg.Hooks.DeviceMissing(s.cfg.Bind)
			}
			return fmt.Errorf("no video device bound to %q", s.cfg.Bind)
		}
		device = path
	}

	s.statsMu.Lock()
	s.device = device
	s.statsMu.Unlock()

	argv := renderCommand(s.cfg.Command, s.cfg.Width, s.cfg.Height, device)
	return s.runOnce(ctx, argv)
}

// locateDevice runs the device lookup on its own goroutine so a slow
// sysfs walk cannot stall cancellation handling.
func (s *Streamer) locateDevice(ctx context.Context) (string, error) {
	type result struct {
		path string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		path, err := s.cfg.Locator.LocateByBind(ctx, s.cfg.Bind)
		ch <- result{path: path, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.err != nil {
			if errors.Is(r.err, context.Canceled) {
				return "", r.err
			}
			return "", fmt.Errorf("locating device for bind %q: %w", s.cfg.Bind, r.err)
		}
		return r.path, nil
	}
}
