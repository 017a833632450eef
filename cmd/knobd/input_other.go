//go:build !linux

package main

import "os"

// startEvdevReaders falls back to one blocking reader per device on platforms
// without epoll. Input devices barely exist off Linux, but the fallback keeps
// the package building and testable everywhere.
func startEvdevReaders(files []*os.File, events chan<- deviceEvent, readErr chan<- error) {
	for _, f := range files {
		go readInputEvents(f, f.Name(), events, readErr)
	}
}
