package main

import (
	"log/slog"
	"time"
)

// runEffect executes a single reducer-emitted Command (side effect) against
// external systems (currently the downstream step sink) and emits an
// observation Event via onEvent.
//
// Design rules:
// - This function is allowed to perform I/O.
// - It must never call Reduce() directly; it only emits Events to be reduced
//   by the daemon loop.
// - The daemon loop is responsible for sequencing:
//   Reduce -> Commands -> runEffect -> Events -> Reduce.
func runEffect(
	sink *SinkClient,
	cmd Command,
	logger *slog.Logger,
	onEvent func(Event),
) {
	if onEvent == nil {
		// No place to report observations/errors; nothing sensible to do.
		return
	}

	now := time.Now()

	switch c := cmd.(type) {
	case CmdForwardStep:
		if sink == nil {
			onEvent(SinkCommandFailed{Command: cmd, Err: errNoSink{}, At: now})
			return
		}
		if err := sink.SendStep(c.Encoder, c.Steps, c.Position); err != nil {
			logger.Error("sink SendStep failed", "error", err, "encoder", c.Encoder, "steps", c.Steps)
			onEvent(SinkCommandFailed{Command: cmd, Err: err, At: now})
			return
		}
		onEvent(SinkStepForwarded{At: now})

	case CmdPublishStateSnapshot:
		// Deliver reducer-produced snapshot to the requester.
		// This keeps the reducer pure by moving the channel send into the
		// effects layer.
		if c.Reply == nil {
			logger.Warn("state snapshot requested with nil reply channel")
			return
		}

		// Never block the effects worker indefinitely.
		select {
		case c.Reply <- c.Snapshot:
			// delivered
		default:
			logger.Warn("state snapshot reply channel not ready; dropping snapshot")
		}

	default:
		// Unknown command: record failure so reducer can react (if desired).
		logger.Warn("unknown command type", "command", cmd.String())
		onEvent(SinkCommandFailed{
			Command: cmd,
			Err:     errUnknownCommand{cmd: cmd},
			At:      now,
		})
	}
}

// errNoSink indicates the daemon was asked to forward a step without a sink
// client.
type errNoSink struct{}

func (errNoSink) Error() string { return "no sink client" }

type errUnknownCommand struct {
	cmd Command
}

func (e errUnknownCommand) Error() string { return "unknown command: " + e.cmd.String() }
