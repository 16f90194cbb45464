//go:build windows

package main

import (
	"os"
	"os/signal"
)

// notifySignals registers the signals that stop a sweep between jobs.
// Windows has no SIGTERM.
func notifySignals(ch chan<- os.Signal) {
	signal.Notify(ch, os.Interrupt)
}
