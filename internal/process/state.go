package process

import "time"

// State represents the lifecycle stage of a managed worker.
type State string

// Worker states.
const (
	StateRunning State = "running" // Active
	StateDone    State = "done"    // Returned cleanly
	StateError   State = "error"   // Returned an error
)

// Info describes one worker in a Group.
type Info struct {
	Name      string
	State     State
	StartedAt time.Time
	StoppedAt time.Time
	Err       error
}
