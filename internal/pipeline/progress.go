package pipeline

import "time"

// Stage describes the step a module is in while a batch runs.
type Stage string

const (
	StageParse    Stage = "parse"
	StageDecorate Stage = "decorate"
	StageVerify   Stage = "verify"
	StageWrite    Stage = "write"
)

// Status captures progress state within a stage.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusWorking Status = "working"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Event reports progress for one module, or for the whole batch when File
// is empty.
type Event struct {
	File    string
	Stage   Stage
	Status  Status
	Err     error
	Elapsed time.Duration
	// Detail is shown instead of the status once a module is done, e.g.
	// the decoration outcome.
	Detail string
}

// Sink consumes progress events. Implementations must be safe for
// concurrent use; modules of a batch report from different goroutines.
type Sink interface {
	OnEvent(Event)
}

// ChannelSink forwards events into a channel.
type ChannelSink struct {
	Ch chan<- Event
}

func (s ChannelSink) OnEvent(evt Event) {
	if s.Ch == nil {
		return
	}
	s.Ch <- evt
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) OnEvent(evt Event) { f(evt) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})
