package bus

import (
	"sync"

	"github.com/rs/zerolog"

	"fxindicators/internal/logger"
	"fxindicators/internal/model"
)

// FanOut broadcasts indicator updates to N subscriber channels.
// If a subscriber channel is full, the update is dropped for that subscriber
// so a slow sink never blocks the engine.
type FanOut struct {
	mu      sync.RWMutex
	outputs []chan model.IndicatorUpdate
	names   []string
	bufSize int
	closed  bool
	log     zerolog.Logger

	// OnDrop is called when an update is dropped for a subscriber.
	OnDrop func(subscriber string)
}

// New creates a FanOut with the given buffer size for output channels.
func New(outputBufferSize int) *FanOut {
	return &FanOut{
		bufSize: outputBufferSize,
		log:     logger.Component("bus"),
	}
}

// Subscribe creates and returns a new named output channel.
func (f *FanOut) Subscribe(name string) <-chan model.IndicatorUpdate {
	ch := make(chan model.IndicatorUpdate, f.bufSize)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return ch
	}
	f.outputs = append(f.outputs, ch)
	f.names = append(f.names, name)
	return ch
}

// Publish delivers u to every subscriber without blocking. Updates are
// delivered to each subscriber in publish order.
func (f *FanOut) Publish(u model.IndicatorUpdate) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	for i, ch := range f.outputs {
		select {
		case ch <- u:
		default:
			if f.OnDrop != nil {
				f.OnDrop(f.names[i])
			} else {
				f.log.Warn().Str("subscriber", f.names[i]).Str("key", u.Key()).Msg("output channel full, dropping update")
			}
		}
	}
}

// Close closes every subscriber channel. Later publishes are discarded.
func (f *FanOut) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for _, ch := range f.outputs {
		close(ch)
	}
}

// ChannelStat reports the fill level of one subscriber channel.
type ChannelStat struct {
	Name string
	Len  int
	Cap  int
}

// ChannelStats returns (length, capacity) for each subscriber channel.
// Used for reporting channel saturation percentage.
func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, ch := range f.outputs {
		stats[i] = ChannelStat{Name: f.names[i], Len: len(ch), Cap: cap(ch)}
	}
	return stats
}
