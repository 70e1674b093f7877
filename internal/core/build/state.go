package build

// State is the position of a build in its lifecycle.
type State string

const (
	StateQueued                State = "QUEUED"
	StateStaging               State = "STAGING"
	StatePreparingSource       State = "PREPARING_SOURCE"
	StateResolvingInstruction  State = "RESOLVING_INSTRUCTION"
	StateProvisioningContainer State = "PROVISIONING_CONTAINER"
	StateRunning               State = "RUNNING"
	StateCapturingLog          State = "CAPTURING_LOG"
	StateAwaitingExit          State = "AWAITING_EXIT"
	StateCleaningUp            State = "CLEANING_UP"
	StateDone                  State = "DONE"
	StateCancelled             State = "CANCELLED"
	StateTimedOut              State = "TIMED_OUT"
)

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	switch s {
	case StateDone, StateCancelled, StateTimedOut:
		return true
	}
	return false
}
