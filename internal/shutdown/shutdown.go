package shutdown

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// teardownTimeout bounds the onShutdown callback. Subprocess termination
// waits a grace period per process, so give it some headroom.
const teardownTimeout = 30 * time.Second

// exit is swapped out in tests.
var exit = os.Exit

type Handler interface {
	Shutdown()          // Triggers a graceful shutdown programmatically.
	ShuttingDown() bool // Quickly checks if a shutdown is in progress.
	Wait()              // Blocks until shutdown tasks are complete.
}

type handler struct {
	quit         chan os.Signal // Blocks until a SIGTERM/SIGINT signal is received.
	shuttingDown chan bool      // Indicates if a shutdown is happening.
	wg           sync.WaitGroup // Waits until all shutdown tasks are complete.
}

// NewHandler initializes a graceful shutdown handler. onShutdown (if not
// nil) runs after a SIGTERM/SIGINT is received; once it returns the process
// exits with status 0.
func NewHandler(onShutdown func() error) Handler {
	h := &handler{
		quit:         make(chan os.Signal, 1),
		shuttingDown: make(chan bool, 1),
	}
	h.wg.Add(1)

	go func() {
		defer h.wg.Done()
		signal.Notify(h.quit, syscall.SIGINT, syscall.SIGTERM)
		sig := <-h.quit
		h.shuttingDown <- true
		zap.S().Infow("Received signal, shutting down", "signal", sig.String())
		if onShutdown != nil {
			go func() {
				<-time.After(teardownTimeout)
				zap.S().Errorw("Shutdown tasks did not complete in time", "timeout", teardownTimeout)
				_ = zap.S().Sync()
				exit(1)
			}()
			if err := onShutdown(); err != nil {
				zap.S().Errorw("Error during shutdown", "error", err)
				return
			}
		}
		zap.S().Info("Shutdown tasks completed. Ready to exit.")
		_ = zap.S().Sync()
		exit(0)
	}()

	return h
}

func (h *handler) ShuttingDown() bool {
	select {
	case <-h.shuttingDown:
		// Put the value back, in case it's checked again later during shutdown.
		h.shuttingDown <- true
		return true
	default:
		return false
	}
}

func (h *handler) Shutdown() {
	// Only send a SIGTERM signal if we are not already shutting down.
	if !h.ShuttingDown() {
		h.quit <- syscall.SIGTERM
	}
}

func (h *handler) Wait() {
	h.wg.Wait()
}
