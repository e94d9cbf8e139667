// Package bridge exposes a synth session to foreign callers.
//
// Host owns at most one session. It's created by initialize and destroyed
// by dispose, every other call made without a session is a no-op. Call
// dispatches method channel style invocations with the argument defaults
// callers rely on.
package bridge

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/pipelined/midisynth"
	"github.com/pipelined/midisynth/log"
	"github.com/pipelined/midisynth/session"
)

// Method names accepted by Call.
const (
	MethodInitialize      = "initialize"
	MethodLoadSoundfont   = "loadSoundfont"
	MethodUnloadSoundfont = "unloadSoundfont"
	MethodPlayNote        = "playNote"
	MethodStopNote        = "stopNote"
	MethodStopAllNotes    = "stopAllNotes"
	MethodChangeProgram   = "changeProgram"
	MethodDispose         = "dispose"
)

// Argument defaults used when caller omits them.
const (
	DefaultChannel  = 0
	DefaultKey      = 60
	DefaultVelocity = 100
	DefaultProgram  = 0
)

var (
	// ErrNotImplemented is returned for unknown methods.
	ErrNotImplemented = errors.New("method not implemented")
	// ErrInvalidArgument is returned if argument has unexpected type.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Host is the owner of the process session.
type Host struct {
	uid     string
	mu      sync.Mutex
	session *session.Session
	options []session.Option
	log     *logrus.Entry
}

// New returns host which creates sessions with provided options.
// Default logger is used if logger is nil. All sessions of the host share
// its UID, so they are measured by the same meter.
func New(logger log.Logger, options ...session.Option) *Host {
	if logger == nil {
		logger = log.GetLogger()
	}
	uid := midisynth.NewUID()
	defaults := []session.Option{session.WithLogger(logger), session.WithUID(uid)}
	return &Host{
		uid:     uid,
		options: append(defaults, options...),
		log:     logger.WithField("host", uid),
	}
}

// UID returns the id shared by host's sessions.
func (h *Host) UID() string {
	return h.uid
}

// current returns the session or nil.
func (h *Host) current() *session.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session
}

// Session returns current session or nil if there is none.
func (h *Host) Session() *session.Session {
	return h.current()
}

// Initialize creates the session if needed and initializes it.
func (h *Host) Initialize() bool {
	h.mu.Lock()
	if h.session == nil {
		h.session = session.New(h.options...)
	}
	s := h.session
	h.mu.Unlock()
	if err := s.Initialize(); err != nil {
		h.log.WithError(err).Error("initialize")
		return false
	}
	return true
}

// LoadSoundfont loads the bank. It fails if there is no session.
func (h *Host) LoadSoundfont(path string) bool {
	s := h.current()
	if s == nil {
		return false
	}
	if err := s.LoadSoundfont(path); err != nil {
		h.log.WithError(err).Error("load soundfont")
		return false
	}
	return true
}

// UnloadSoundfont always succeeds.
func (h *Host) UnloadSoundfont() bool {
	if s := h.current(); s != nil {
		return s.UnloadSoundfont() == nil
	}
	return true
}

// PlayNote starts a note.
func (h *Host) PlayNote(channel, key, velocity int) {
	if s := h.current(); s != nil {
		s.PlayNote(channel, key, velocity)
	}
}

// StopNote releases a note.
func (h *Host) StopNote(channel, key int) {
	if s := h.current(); s != nil {
		s.StopNote(channel, key)
	}
}

// StopAllNotes releases all notes.
func (h *Host) StopAllNotes() {
	if s := h.current(); s != nil {
		s.StopAllNotes()
	}
}

// ChangeProgram selects program on channel.
func (h *Host) ChangeProgram(channel, program int) {
	if s := h.current(); s != nil {
		s.ChangeProgram(channel, program)
	}
}

// Dispose destroys the session. Next Initialize creates a new one.
func (h *Host) Dispose() {
	h.mu.Lock()
	s := h.session
	h.session = nil
	h.mu.Unlock()
	if s == nil {
		return
	}
	if err := s.Dispose(); err != nil {
		h.log.WithError(err).Warn("dispose")
	}
}

// Attach initializes the session when host is attached to the caller's
// engine. Initialize failure is logged and ignored, the caller can retry
// with initialize.
func (h *Host) Attach() {
	h.Initialize()
}

// Detach disposes the session when host is detached from the caller's
// engine.
func (h *Host) Detach() {
	h.Dispose()
}

// Call invokes method with named arguments. Results are booleans for
// initialize, loadSoundfont and unloadSoundfont and nil otherwise.
func (h *Host) Call(method string, args map[string]interface{}) (interface{}, error) {
	switch method {
	case MethodInitialize:
		return h.Initialize(), nil
	case MethodLoadSoundfont:
		path, ok := args["path"].(string)
		if !ok {
			return false, nil
		}
		return h.LoadSoundfont(path), nil
	case MethodUnloadSoundfont:
		return h.UnloadSoundfont(), nil
	case MethodPlayNote:
		channel, key, velocity, err := ints(args, arg{"channel", DefaultChannel}, arg{"key", DefaultKey}, arg{"velocity", DefaultVelocity})
		if err != nil {
			return nil, err
		}
		h.PlayNote(channel, key, velocity)
		return nil, nil
	case MethodStopNote:
		channel, key, _, err := ints(args, arg{"channel", DefaultChannel}, arg{"key", DefaultKey}, arg{})
		if err != nil {
			return nil, err
		}
		h.StopNote(channel, key)
		return nil, nil
	case MethodStopAllNotes:
		h.StopAllNotes()
		return nil, nil
	case MethodChangeProgram:
		channel, program, _, err := ints(args, arg{"channel", DefaultChannel}, arg{"program", DefaultProgram}, arg{})
		if err != nil {
			return nil, err
		}
		h.ChangeProgram(channel, program)
		return nil, nil
	case MethodDispose:
		h.Dispose()
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotImplemented, method)
}

// arg is a named integer argument with default value.
type arg struct {
	name  string
	value int
}

func ints(args map[string]interface{}, a, b, c arg) (int, int, int, error) {
	var (
		values [3]int
		err    error
	)
	for i, next := range [3]arg{a, b, c} {
		if values[i], err = intArg(args, next); err != nil {
			return 0, 0, 0, err
		}
	}
	return values[0], values[1], values[2], nil
}

// intArg returns named argument or its default if it's missing or nil.
func intArg(args map[string]interface{}, a arg) (int, error) {
	if a.name == "" {
		return a.value, nil
	}
	switch v := args[a.name].(type) {
	case nil:
		return a.value, nil
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("%w: %s is not integer: %v", ErrInvalidArgument, a.name, v)
		}
		return int(v), nil
	default:
		return 0, fmt.Errorf("%w: %s has type %T", ErrInvalidArgument, a.name, v)
	}
}
