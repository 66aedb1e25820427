package liq

import (
	"context"
	"sync"

	"liqwatch/internal/models"
	"liqwatch/logger"
)

type ChannelStats struct {
	Sent    int64
	Dropped int64
	Drained int64
}

// Channels buffers streamed liquidation events between a websocket reader
// and the polling pipeline. Producers never block: when the buffer is full
// the event is dropped and counted.
type Channels struct {
	Events chan models.LiquidationEvent

	name       string
	stats      ChannelStats
	statsMutex sync.RWMutex
	closeOnce  sync.Once
	log        *logger.Log
}

func NewChannels(name string, bufferSize int) *Channels {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	log := logger.GetLogger()
	c := &Channels{
		Events: make(chan models.LiquidationEvent, bufferSize),
		name:   name,
		log:    log,
	}

	log.WithComponent("liq_channels").WithFields(logger.Fields{
		"source":      name,
		"buffer_size": bufferSize,
	}).Info("liquidation channels initialized")

	return c
}

func (c *Channels) Close() {
	c.closeOnce.Do(func() {
		close(c.Events)
		c.log.WithComponent("liq_channels").WithField("source", c.name).Info("liquidation channels closed")
	})
}

func (c *Channels) Send(ctx context.Context, event models.LiquidationEvent) bool {
	select {
	case c.Events <- event:
		c.statsMutex.Lock()
		c.stats.Sent++
		c.statsMutex.Unlock()
		return true
	case <-ctx.Done():
		return false
	default:
		c.statsMutex.Lock()
		c.stats.Dropped++
		c.statsMutex.Unlock()
		return false
	}
}

// Drain removes and returns everything currently buffered without waiting
// for more. It returns nil when the buffer is empty.
func (c *Channels) Drain() []models.LiquidationEvent {
	var out []models.LiquidationEvent
	for {
		select {
		case ev, ok := <-c.Events:
			if !ok {
				c.addDrained(len(out))
				return out
			}
			out = append(out, ev)
		default:
			c.addDrained(len(out))
			return out
		}
	}
}

func (c *Channels) addDrained(n int) {
	if n == 0 {
		return
	}
	c.statsMutex.Lock()
	c.stats.Drained += int64(n)
	c.statsMutex.Unlock()
}

func (c *Channels) Len() int {
	return len(c.Events)
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
