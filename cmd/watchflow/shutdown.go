package main

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"watchflow/internal/logging"
)

type stopFunc func(context.Context) error

type shutdownStep struct {
	name string
	stop stopFunc
}

// shutdownCoordinator stops registered components in registration order,
// exactly once.
type shutdownCoordinator struct {
	logger *logging.Logger
	once   sync.Once
	mu     sync.Mutex
	steps  []shutdownStep
}

func newShutdownCoordinator(logger *logging.Logger) *shutdownCoordinator {
	return &shutdownCoordinator{logger: logger.Component("shutdown")}
}

func (c *shutdownCoordinator) Add(name string, stop stopFunc) {
	if c == nil || stop == nil {
		return
	}
	c.mu.Lock()
	c.steps = append(c.steps, shutdownStep{name: name, stop: stop})
	c.mu.Unlock()
}

// Run keeps going after a failing step and returns every failure joined.
func (c *shutdownCoordinator) Run(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var result error
	c.once.Do(func() {
		c.mu.Lock()
		steps := append([]shutdownStep(nil), c.steps...)
		c.mu.Unlock()
		for _, step := range steps {
			started := time.Now()
			err := step.stop(ctx)
			fields := map[string]string{
				"step":     step.name,
				"duration": time.Since(started).Round(time.Millisecond).String(),
			}
			if err != nil {
				result = errors.Join(result, err)
				fields["error"] = err.Error()
				c.logger.Warn("shutdown step failed", fields)
				continue
			}
			c.logger.Debug("shutdown step done", fields)
		}
	})
	return result
}

// watchShutdownSignals cancels on the first signal from signals and logs the
// first repeat. The returned func stops watching.
func watchShutdownSignals(logger *logging.Logger, cancel context.CancelFunc, signals <-chan os.Signal) func() {
	if signals == nil {
		return func() {}
	}
	done := make(chan struct{})
	var received atomic.Int32
	go func() {
		for {
			select {
			case <-done:
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				fields := map[string]string{}
				if sig != nil {
					fields["signal"] = sig.String()
				}
				switch received.Add(1) {
				case 1:
					logger.Info("shutdown signal received", fields)
					if cancel != nil {
						cancel()
					}
				case 2:
					logger.Warn("shutdown already in progress; ignoring signal", fields)
				}
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}
