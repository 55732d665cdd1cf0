package constants

// Reconcile action constants
type Action string

const (
	ActionStart    Action = "start"
	ActionStop     Action = "stop"
	ActionNone     Action = "none"
	ActionSkip     Action = "skip"
	ActionFail     Action = "fail"
	ActionConflict Action = "conflict"
	ActionSweep    Action = "sweep"
)

func (a Action) String() string {
	return string(a)
}
