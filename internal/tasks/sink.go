package tasks

import (
	"github.com/charmbracelet/log"
	"github.com/desertthunder/nowplaying/internal/shared"
)

// Sink receives coordinator updates. Publish is called from the coordinator goroutine and must not block.
type Sink interface {
	Publish(Update)
}

// FuncSink adapts a function to [Sink].
type FuncSink func(Update)

func (f FuncSink) Publish(u Update) { f(u) }

// ChannelSink forwards updates to a channel, dropping them when the reader falls behind.
type ChannelSink struct {
	ch chan Update
}

// NewChannelSink creates a [ChannelSink] with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer < 1 {
		buffer = 1
	}
	return &ChannelSink{ch: make(chan Update, buffer)}
}

func (s *ChannelSink) Publish(u Update) {
	select {
	case s.ch <- u:
	default:
	}
}

// Updates returns the receive side of the channel.
func (s *ChannelSink) Updates() <-chan Update {
	return s.ch
}

// LogSink writes each update as a structured log line.
type LogSink struct {
	logger *log.Logger
}

func NewLogSink(l *log.Logger) *LogSink {
	return &LogSink{logger: shared.WithLogger(l, "component", "sink")}
}

func (s *LogSink) Publish(u Update) {
	kv := []any{"state", u.State, "message", u.Message}
	if u.Snapshot != nil && u.Snapshot.Track != nil {
		kv = append(kv, "track", u.Snapshot.Track.Name, "artist", u.Snapshot.Track.Artist)
	}
	if u.Err != nil {
		s.logger.Warn("now playing", append(kv, "error", u.Err)...)
		return
	}
	s.logger.Info("now playing", kv...)
}

// MultiSink fans an update out to every sink in order.
type MultiSink []Sink

func (m MultiSink) Publish(u Update) {
	for _, s := range m {
		if s != nil {
			s.Publish(u)
		}
	}
}
