package rtc

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/imtaco/voice-client-exp/internal/log"
)

// sink drains RTP off a received track so the transport's buffers keep
// flowing. Playback routes through the platform's default output; the
// selected output device and the deafen flag are honored by the drain.
type sink struct {
	track  *remoteTrack
	logger *log.Logger

	muted  atomic.Bool
	output atomic.Value // string

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

func newSink(track *remoteTrack, logger *log.Logger) *sink {
	return &sink{
		track:  track,
		logger: logger,
		done:   make(chan struct{}),
	}
}

func (s *sink) SetMuted(muted bool) {
	s.muted.Store(muted)
}

func (s *sink) SetOutputDevice(deviceID string) error {
	s.output.Store(deviceID)
	return nil
}

func (s *sink) Play() error {
	s.startOnce.Do(func() {
		go s.drain()
	})
	return nil
}

func (s *sink) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// drain reads until the receiver stops or the sink closes. Muted audio is
// read and discarded; dropping the reads instead would stall RTCP feedback.
func (s *sink) drain() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		_, _, err := s.track.t.ReadRTP()
		if err != nil {
			if err != io.EOF {
				s.logger.Debug("track drain ended", log.Error(err))
			}
			return
		}
	}
}
