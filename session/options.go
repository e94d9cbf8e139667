package session

import (
	"github.com/pipelined/midisynth"
	"github.com/pipelined/midisynth/log"
)

// Option of a session. It returns the option which restores the
// previous value.
type Option func(s *Session) Option

// WithSampleRate defines sample rate of the output stream and engines.
func WithSampleRate(sampleRate int) Option {
	return func(s *Session) Option {
		previous := s.sampleRate
		s.sampleRate = sampleRate
		return WithSampleRate(previous)
	}
}

// WithFramesPerBuffer defines requested hardware buffer size.
func WithFramesPerBuffer(framesPerBuffer int) Option {
	return func(s *Session) Option {
		previous := s.framesPerBuffer
		s.framesPerBuffer = framesPerBuffer
		return WithFramesPerBuffer(previous)
	}
}

// WithOpener defines how output streams are opened.
func WithOpener(opener midisynth.Opener) Option {
	return func(s *Session) Option {
		previous := s.opener
		s.opener = opener
		return WithOpener(previous)
	}
}

// WithLoader defines how instrument banks are loaded.
func WithLoader(loader midisynth.Loader) Option {
	return func(s *Session) Option {
		previous := s.loader
		s.loader = loader
		return WithLoader(previous)
	}
}

// WithLogger defines session logger.
func WithLogger(logger log.Logger) Option {
	return func(s *Session) Option {
		previous := s.logger
		s.logger = logger
		return WithLogger(previous)
	}
}

// WithUID defines session's unique id. Render metrics are published under
// it, so sessions which reuse an id share the same meter.
func WithUID(uid string) Option {
	return func(s *Session) Option {
		previous := s.uid
		s.uid = uid
		return WithUID(previous)
	}
}
