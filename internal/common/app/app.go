package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
)

// CreateContextWithShutdown returns a context that is cancelled when SIGINT or SIGTERM is received,
// giving the process the chance to drain. A second signal exits immediately.
func CreateContextWithShutdown() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-c
		log.Infof("Received %s, shutting down", sig)
		cancel()

		sig = <-c
		log.Warnf("Received %s during shutdown, exiting immediately", sig)
		os.Exit(1)
	}()
	return ctx
}
