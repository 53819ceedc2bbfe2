//go:build !windows

package signals

import (
	"os/signal"
	"syscall"
)

func init() {
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
}

func stopNotify() {
	signal.Stop(sigChan)
}

// Handle dispatches signals to the registered handlers until StopHandle is
// called.
func Handle() {
	for sig := range sigChan {
		switch sig {
		case syscall.SIGHUP:
			handleReload()
		case syscall.SIGINT, syscall.SIGTERM:
			handleInterrupted()
		default:
			log.WithField("signal", sig.String()).Debug("ignoring signal")
		}
	}
}
