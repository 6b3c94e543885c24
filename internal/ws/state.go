package ws

import "sync/atomic"

// ConnState is the lifecycle state of a streaming client.
//
//	Stopped -> Connecting -> Connected -> Connecting -> ... -> Stopping -> Stopped
type ConnState int32

const (
	// StateStopped means no worker is running.
	StateStopped ConnState = iota
	// StateConnecting means the worker is dialing or waiting to redial.
	StateConnecting
	// StateConnected means a socket is open and subscriptions were sent.
	StateConnected
	// StateStopping means Stop was called and the worker has not exited yet.
	StateStopping
)

var stateNames = [...]string{
	"stopped",
	"connecting",
	"connected",
	"stopping",
}

// String returns the string representation of the connection state.
func (s ConnState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// State provides thread-safe atomic access to a ConnState value.
type State struct {
	state atomic.Int32
}

// Load returns the current connection state.
func (s *State) Load() ConnState {
	return ConnState(s.state.Load())
}

// Store sets the connection state to the given value.
func (s *State) Store(state ConnState) {
	s.state.Store(int32(state))
}

// CompareAndSwap atomically compares the current state with old and swaps to new if equal.
// It returns true if the swap was performed.
func (s *State) CompareAndSwap(old, new ConnState) bool {
	return s.state.CompareAndSwap(int32(old), int32(new))
}
