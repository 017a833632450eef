//go:build !linux

package main

import (
	"context"
	"fmt"
	"log/slog"
)

// runGPIOInput needs the sysfs GPIO interface, which only exists on Linux.
func runGPIOInput(ctx context.Context, enc EncoderConfig, events chan<- Event, logger *slog.Logger) error {
	return fmt.Errorf("encoder %q: gpio input requires linux", enc.Name)
}
