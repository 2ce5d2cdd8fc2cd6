package streamer

import (
	"context"
	"fmt"
	"time"
)

// setHWEnabled drives the power rails in their required order.
//
// Power-on: capture rail first, then after SyncDelay the converter
// rail, then InitDelay to let the hardware settle. Power-off: both
// rails immediately, no delays. A nil pin means that stage has no
// power control and is skipped. The sequence is order-sensitive and
// must not be parallelised.
func (s *Streamer) setHWEnabled(ctx context.Context, enabled bool) error {
	if s.cfg.CapPin != nil {
		if err := s.cfg.CapPin.Write(enabled); err != nil {
			return fmt.Errorf("writing capture power rail: %w", err)
		}
		s.logger.Debug("capture power rail set", "enabled", enabled)
	}

	if s.cfg.ConvPin != nil {
		if enabled {
			if err := sleepCtx(ctx, s.cfg.SyncDelay); err != nil {
				return err
			}
		}
		if err := s.cfg.ConvPin.Write(enabled); err != nil {
			return fmt.Errorf("writing converter power rail: %w", err)
		}
		s.logger.Debug("converter power rail set", "enabled", enabled)
	}

	if enabled {
		if err := sleepCtx(ctx, s.cfg.InitDelay); err != nil {
			return err
		}
	}

	return nil
}

// sleepCtx sleeps for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
