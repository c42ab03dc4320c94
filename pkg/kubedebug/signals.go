package kubedebug

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
)

// watchSignals turns SIGINT into interrupts for the driver and SIGTERM into
// cancellation of the returned context.
func watchSignals(ctx context.Context) (context.Context, <-chan struct{}, func()) {
	ctx, cancel := context.WithCancel(ctx)
	interrupts := make(chan struct{})
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigs:
				if sig != os.Interrupt {
					log.WithField("signal", sig).Info("terminating")
					cancel()
					return
				}
				select {
				case interrupts <- struct{}{}:
				case <-ctx.Done():
					return
				default:
					// nobody is listening, e.g. while the prompt is up
					log.Debug("interrupt ignored")
				}
			}
		}
	}()

	return ctx, interrupts, func() {
		signal.Stop(sigs)
		cancel()
	}
}
