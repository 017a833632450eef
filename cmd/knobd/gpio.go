//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// ============================================================================
// GPIO input - sysfs edge-triggered A/B sampling
// ============================================================================
// Raw encoders wired straight to GPIO pins are read through the legacy sysfs
// interface: export both pins, set direction "in" and edge "both", then poll
// the value files with POLLPRI. Every edge on either channel triggers one
// synchronous sample of BOTH channels, which is exactly the input shape the
// quadrature decoder wants.
// ============================================================================

const gpioBase = "/sys/class/gpio"

// gpioPollTimeoutMS bounds each poll so the loop can notice ctx cancellation.
const gpioPollTimeoutMS = 500

// gpioPin is one exported sysfs GPIO pin opened for edge-polled reads.
type gpioPin struct {
	number int
	value  *os.File
}

// exportGPIOPin exports a pin through sysfs. An already-exported pin (EBUSY)
// is fine; anything else is not.
func exportGPIOPin(number int) error {
	err := os.WriteFile(filepath.Join(gpioBase, "export"), []byte(strconv.Itoa(number)), 0644)
	if err == nil {
		// udev needs a moment to apply group/permissions to the new node.
		time.Sleep(50 * time.Millisecond)
		return nil
	}
	if errors.Is(err, syscall.EBUSY) {
		return nil
	}
	return fmt.Errorf("export gpio %d: %w", number, err)
}

// openGPIOPin configures a pin for edge-interrupt input and opens its value
// file.
func openGPIOPin(number int) (*gpioPin, error) {
	if err := exportGPIOPin(number); err != nil {
		return nil, err
	}

	dir := filepath.Join(gpioBase, fmt.Sprintf("gpio%d", number))
	if err := os.WriteFile(filepath.Join(dir, "direction"), []byte("in"), 0644); err != nil {
		return nil, fmt.Errorf("set gpio %d direction: %w", number, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "edge"), []byte("both"), 0644); err != nil {
		return nil, fmt.Errorf("set gpio %d edge: %w", number, err)
	}

	f, err := os.Open(filepath.Join(dir, "value"))
	if err != nil {
		return nil, fmt.Errorf("open gpio %d value: %w", number, err)
	}

	return &gpioPin{number: number, value: f}, nil
}

// read returns the pin's current level. sysfs value files must be re-read
// from offset 0 each time.
func (p *gpioPin) read() (bool, error) {
	if _, err := p.value.Seek(0, 0); err != nil {
		return false, fmt.Errorf("seek gpio %d: %w", p.number, err)
	}
	buf := make([]byte, 1)
	if _, err := p.value.Read(buf); err != nil {
		return false, fmt.Errorf("read gpio %d: %w", p.number, err)
	}
	return buf[0] == '1', nil
}

func (p *gpioPin) close() {
	if p.value != nil {
		_ = p.value.Close()
	}
}

// runGPIOInput reads one gpio-mode encoder until ctx is canceled. The first
// sample it emits carries the pins' startup levels, which seeds the decoder's
// rest position.
func runGPIOInput(ctx context.Context, enc EncoderConfig, events chan<- Event, logger *slog.Logger) error {
	pinA, err := openGPIOPin(enc.GPIOA)
	if err != nil {
		return err
	}
	defer pinA.close()

	pinB, err := openGPIOPin(enc.GPIOB)
	if err != nil {
		return err
	}
	defer pinB.close()

	logger.Info("gpio input running", "encoder", enc.Name, "gpio_a", enc.GPIOA, "gpio_b", enc.GPIOB)

	// sample reads both channels and pushes one EncoderSample.
	sample := func() error {
		a, err := pinA.read()
		if err != nil {
			return err
		}
		b, err := pinB.read()
		if err != nil {
			return err
		}
		if enc.Invert {
			a, b = b, a
		}
		select {
		case events <- EncoderSample{Encoder: enc.Name, A: a, B: b}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// Emit the startup levels before watching for edges.
	if err := sample(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	fds := []unix.PollFd{
		{Fd: int32(pinA.value.Fd()), Events: unix.POLLPRI},
		{Fd: int32(pinB.value.Fd()), Events: unix.POLLPRI},
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		// NOTE: sysfs attributes always report POLLERR alongside POLLPRI, so
		// only POLLPRI is meaningful here.
		n, err := unix.Poll(fds, gpioPollTimeoutMS)
		if err != nil {
			if err == syscall.EINTR {
				continue
			}
			return fmt.Errorf("poll gpio: %w", err)
		}
		if n == 0 {
			// Timeout: loop around and re-check ctx.
			continue
		}

		edged := false
		for i := range fds {
			if fds[i].Revents&unix.POLLPRI != 0 {
				edged = true
			}
			fds[i].Revents = 0
		}
		if !edged {
			continue
		}

		if err := sample(); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}
