//go:build linux

package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// startEvdevReaders starts the platform readers for a set of opened input
// devices. With a single device a plain blocking reader is simplest; with
// several, one epoll goroutine serves them all.
func startEvdevReaders(files []*os.File, events chan<- deviceEvent, readErr chan<- error) {
	if len(files) == 1 {
		go readInputEvents(files[0], files[0].Name(), events, readErr)
		return
	}
	go readInputEventsEpoll(files, events, readErr)
}

// readInputEventsEpoll reads from multiple input devices using epoll
// This is more efficient than spawning a goroutine per device
//
// Instead of:
//   - N goroutines, each blocking on read()
//   - N OS threads potentially
//
// We use:
//   - 1 goroutine with epoll
//   - Kernel wakes us only when events are available
//   - More scalable for many devices
func readInputEventsEpoll(files []*os.File, events chan<- deviceEvent, readErr chan<- error) {
	if len(files) == 0 {
		readErr <- fmt.Errorf("no input devices provided")
		return
	}

	// Create epoll instance
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		readErr <- fmt.Errorf("epoll_create1: %w", err)
		return
	}
	defer unix.Close(epfd)

	// Map file descriptors to files for later identification
	fdToFile := make(map[int]*os.File)

	// Register all input devices with epoll
	for _, f := range files {
		fd := int(f.Fd())
		fdToFile[fd] = f

		// Register this fd for read events
		event := unix.EpollEvent{
			Events: unix.EPOLLIN, // Notify when readable
			Fd:     int32(fd),
		}

		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
			readErr <- fmt.Errorf("epoll_ctl_add fd=%d: %w", fd, err)
			return
		}
	}

	// Reusable buffers
	const maxEvents = 32 // Process up to 32 events per epoll_wait call
	epollEvents := make([]unix.EpollEvent, maxEvents)
	evSize := binary.Size(inputEvent{})
	buf := make([]byte, evSize)
	reader := bytes.NewReader(buf)

	// Main epoll loop
	for {
		// Wait for events (blocks until at least one device has data)
		// -1 = wait indefinitely
		n, err := unix.EpollWait(epfd, epollEvents, -1)
		if err != nil {
			// Handle interrupted system call (e.g., SIGINT)
			if err == syscall.EINTR {
				continue
			}
			readErr <- fmt.Errorf("epoll_wait: %w", err)
			return
		}

		// Process all ready file descriptors
		for i := 0; i < n; i++ {
			fd := int(epollEvents[i].Fd)
			f := fdToFile[fd]

			// Check for errors or hangup
			if epollEvents[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				readErr <- fmt.Errorf("device error/hangup: %s (fd=%d)", f.Name(), fd)
				// Any device error is fatal; the daemon restarts rather than
				// running with a dead knob.
				return
			}

			// Read the input event
			if _, err := f.Read(buf); err != nil {
				readErr <- fmt.Errorf("read from %s: %w", f.Name(), err)
				return
			}

			// Parse binary event
			reader.Reset(buf)
			var ev inputEvent
			if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
				// Skip malformed events
				continue
			}

			// Send to event channel with device attribution
			events <- deviceEvent{Device: f.Name(), Ev: ev}
		}
	}
}
