package types

// Mode is the permission mode a query is submitted under.
type Mode string

const (
	ModeGuest Mode = "guest"
	ModeOwner Mode = "owner"
)

// Level returns a numeric level for comparison.
// Higher values carry more privilege.
func (m Mode) Level() int {
	switch m {
	case ModeGuest:
		return 0
	case ModeOwner:
		return 1
	default:
		return -1
	}
}

// Allows returns true if a holder of this mode may submit queries in the requested mode.
func (m Mode) Allows(requested Mode) bool {
	return requested.Level() >= 0 && m.Level() >= requested.Level()
}

func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeGuest, ModeOwner:
		return Mode(s), true
	default:
		return "", false
	}
}

// Complexity is the reasoning tier a query needs.
type Complexity string

const (
	ComplexitySimple       Complexity = "simple"
	ComplexityComplex      Complexity = "complex"
	ComplexitySuperComplex Complexity = "super_complex"
)

func (c Complexity) Level() int {
	switch c {
	case ComplexitySimple:
		return 0
	case ComplexityComplex:
		return 1
	case ComplexitySuperComplex:
		return 2
	default:
		return -1
	}
}

func ParseComplexity(s string) (Complexity, bool) {
	switch Complexity(s) {
	case ComplexitySimple, ComplexityComplex, ComplexitySuperComplex:
		return Complexity(s), true
	default:
		return "", false
	}
}

// RoutingStrategy controls how the dispatcher falls back for an intent.
type RoutingStrategy string

const (
	StrategyCascading         RoutingStrategy = "cascading"
	StrategyAlwaysToolCalling RoutingStrategy = "always_tool_calling"
	StrategyDirectOnly        RoutingStrategy = "direct_only"
)

func ParseRoutingStrategy(s string) (RoutingStrategy, bool) {
	switch RoutingStrategy(s) {
	case StrategyCascading, StrategyAlwaysToolCalling, StrategyDirectOnly:
		return RoutingStrategy(s), true
	default:
		return "", false
	}
}
