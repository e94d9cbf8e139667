package session

// State identifies one of the possible states session can be in.
type State interface {
	String() string
	state()
}

// states
type (
	uninitialized struct{}
	initializing  struct{}
	running       struct{}
	disposed      struct{}
)

// states variables
var (
	Uninitialized uninitialized // Uninitialized means that stream is not opened.
	Initializing  initializing  // Initializing means that stream is being opened and started.
	Running       running       // Running means that stream is started and render is called.
	Disposed      disposed      // Disposed means that session cannot be used anymore.
)

func (uninitialized) state() {}
func (initializing) state()  {}
func (running) state()       {}
func (disposed) state()      {}

func (uninitialized) String() string { return "uninitialized" }
func (initializing) String() string  { return "initializing" }
func (running) String() string       { return "running" }
func (disposed) String() string      { return "disposed" }
