// Package gpio drives the power rail lines on the GPIO character device.
//
// It wraps github.com/mkch/gpio with the small surface the streamer
// supervisor needs: request a line as an output, write it, release it.
package gpio

import (
	"fmt"
	"sync"

	"github.com/mkch/gpio"
)

// consumerLabel is reported to the kernel as the line consumer.
const consumerLabel = "relaykvm"

// Pin is an output line on a GPIO chip.
//
// Thread Safety:
//   - Write and Close are safe for concurrent use.
type Pin struct {
	mu     sync.Mutex
	line   *gpio.Line
	chip   string
	offset uint32
}

// RequestOutput opens the given line on the chip as an output, initially low.
//
// The chip handle is released immediately; the kernel keeps the line
// claimed until Close is called.
func RequestOutput(chipPath string, offset int) (*Pin, error) {
	if offset < 0 {
		return nil, fmt.Errorf("gpio line offset must not be negative: %d", offset)
	}

	chip, err := gpio.OpenChip(chipPath)
	if err != nil {
		return nil, fmt.Errorf("opening gpio chip %s: %w", chipPath, err)
	}
	defer chip.Close() //nolint:errcheck // Line stays claimed after chip handle closes

	line, err := chip.OpenLine(uint32(offset), 0, gpio.Output, consumerLabel)
	if err != nil {
		return nil, fmt.Errorf("requesting gpio line %d on %s: %w", offset, chipPath, err)
	}

	return &Pin{
		line:   line,
		chip:   chipPath,
		offset: uint32(offset),
	}, nil
}

// Write sets the line high or low.
func (p *Pin) Write(high bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.line == nil {
		return fmt.Errorf("gpio line %d on %s is closed", p.offset, p.chip)
	}

	var value byte
	if high {
		value = 1
	}

	if err := p.line.SetValue(value); err != nil {
		return fmt.Errorf("writing gpio line %d on %s: %w", p.offset, p.chip, err)
	}
	return nil
}

// Close releases the line back to the kernel. Safe to call twice.
func (p *Pin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.line == nil {
		return nil
	}
	err := p.line.Close()
	p.line = nil
	if err != nil {
		return fmt.Errorf("closing gpio line %d on %s: %w", p.offset, p.chip, err)
	}
	return nil
}

// String identifies the pin in logs.
func (p *Pin) String() string {
	return fmt.Sprintf("%s:%d", p.chip, p.offset)
}
