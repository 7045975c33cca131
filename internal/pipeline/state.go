package pipeline

// State is a node of the request state machine.
type State string

const (
	StateClassify     State = "classify"
	StateRouteControl State = "route_control"
	StateRouteInfo    State = "route_info"
	StateRetrieve     State = "retrieve"
	StateToolCall     State = "tool_call"
	StateSynthesize   State = "synthesize"
	StateValidate     State = "validate"
	StateFinalize     State = "finalize"
)

var edges = map[State][]State{
	StateClassify:     {StateRouteControl, StateRouteInfo},
	StateRouteControl: {StateFinalize},
	StateRouteInfo:    {StateRetrieve, StateToolCall, StateFinalize},
	StateRetrieve:     {StateSynthesize},
	StateToolCall:     {StateSynthesize},
	StateSynthesize:   {StateValidate, StateFinalize},
	StateValidate:     {StateFinalize, StateRetrieve},
}

// allowed reports whether from→to is a legal transition. Every state may
// jump to FINALIZE; the only backward edge is VALIDATE→RETRIEVE, taken at
// most once.
func allowed(from, to State, retries int) bool {
	if to == StateFinalize {
		return true
	}
	if from == StateValidate && to == StateRetrieve {
		return retries <= 1
	}
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// degradedNext is where a node goes when it panics.
var degradedNext = map[State]State{
	StateClassify:     StateRouteInfo,
	StateRouteControl: StateFinalize,
	StateRouteInfo:    StateRetrieve,
	StateRetrieve:     StateSynthesize,
	StateToolCall:     StateSynthesize,
	StateSynthesize:   StateFinalize,
	StateValidate:     StateFinalize,
}
