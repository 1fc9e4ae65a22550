package websocket

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/interpreter/domain/entities"
)

// StartWatchdog begins the background liveness check. Every interval it
// reconnects a connection that dropped without an intentional close. It runs
// until ctx is done or StopWatchdog is called; starting it again replaces the
// previous loop.
func (c *Client) StartWatchdog(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.stopWatchdog != nil {
		c.stopWatchdog()
	}
	c.stopWatchdog = cancel
	c.mu.Unlock()

	ticker := c.clock.Ticker(c.watchdogInterval)
	go c.watchdogLoop(ctx, ticker.C, ticker.Stop)
	c.logger.Info("Connection watchdog started", zap.Duration("interval", c.watchdogInterval))
}

// StopWatchdog gracefully stops the watchdog
func (c *Client) StopWatchdog() {
	c.mu.Lock()
	cancel := c.stopWatchdog
	c.stopWatchdog = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		c.logger.Info("Connection watchdog stopped")
	}
}

func (c *Client) watchdogLoop(ctx context.Context, ticks <-chan time.Time, stop func()) {
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			c.check(ctx)
		}
	}
}

// check runs one liveness check
func (c *Client) check(ctx context.Context) {
	c.mu.Lock()
	dropped := c.state == entities.ConnectionStateDisconnected && !c.intentionalClose
	c.mu.Unlock()

	if !dropped {
		return
	}
	if c.Reconnect(ctx) {
		c.logger.Info("Watchdog restored connection")
	}
}
