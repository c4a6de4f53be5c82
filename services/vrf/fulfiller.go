package vrf

import (
	"context"
	"errors"
	"time"
)

// CurrentBlock returns the simulated block height.
func (c *Coordinator) CurrentBlock() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block
}

// AdvanceBlocks moves the block height forward by n and returns the new height.
func (c *Coordinator) AdvanceBlocks(n uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.block += n
	return c.block
}

// FulfillReady fulfils every request whose confirmations have passed, in id
// order. Requests that cannot be paid for stay queued. It returns the
// fulfilments made.
func (c *Coordinator) FulfillReady(ctx context.Context) []Fulfillment {
	c.mu.Lock()
	var ready []uint64
	for _, r := range c.pendingLocked() {
		if r.ReadyAt() <= c.block {
			ready = append(ready, r.ID)
		}
	}
	c.mu.Unlock()

	var out []Fulfillment
	for _, id := range ready {
		if ctx.Err() != nil {
			break
		}
		f, err := c.FulfillRandomWords(ctx, id)
		if err != nil {
			if !errors.Is(err, ErrNonexistentRequest) {
				c.log.WithError(err).WithField("request_id", id).Warn("fulfilment deferred")
			}
			continue
		}
		out = append(out, f)
	}
	return out
}

// Start mines one block per BlockTime and fulfils ready requests until Stop
// is called or ctx ends.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrCoordinatorRunning
	}
	c.running = true
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	c.log.WithField("block_time", c.cfg.BlockTime).Info("fulfiller started")

	c.wg.Add(1)
	go c.fulfillLoop(ctx, done)
	return nil
}

// Stop halts the fulfiller and waits for the loop to exit.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.done)
	c.mu.Unlock()

	c.wg.Wait()
	c.log.Info("fulfiller stopped")
}

// IsRunning reports whether the fulfiller loop is active.
func (c *Coordinator) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Coordinator) fulfillLoop(ctx context.Context, done <-chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.BlockTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			c.AdvanceBlocks(1)
			c.FulfillReady(ctx)
		}
	}
}
