package types

// RunState 是一次运行的生命周期状态。
type RunState string

const (
	RunStateCreated     RunState = "created"
	RunStateRampingUp   RunState = "ramping_up"
	RunStateSteady      RunState = "steady"
	RunStateRampingDown RunState = "ramping_down"
	RunStateAborted     RunState = "aborted"
	RunStateFinalized   RunState = "finalized"
)

var runTransitions = map[RunState][]RunState{
	RunStateCreated:     {RunStateRampingUp, RunStateAborted},
	RunStateRampingUp:   {RunStateSteady, RunStateAborted},
	RunStateSteady:      {RunStateRampingDown, RunStateAborted},
	RunStateRampingDown: {RunStateFinalized, RunStateAborted},
	RunStateAborted:     {RunStateFinalized},
}

// IsTerminal 报告状态是否为终态。
func (s RunState) IsTerminal() bool {
	return s == RunStateFinalized
}

// CanTransition 报告 from -> to 是否是合法迁移。
func CanTransition(from, to RunState) bool {
	for _, next := range runTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
