package condition

import (
	"fmt"
	"math"
)

// epsilon bounds equality comparison of resolved float values.
const epsilon = 1e-9

type Operator string

const (
	OpGTE Operator = ">="
	OpGT  Operator = ">"
	OpLTE Operator = "<="
	OpLT  Operator = "<"
	OpEQ  Operator = "=="
	OpNEQ Operator = "!="

	// Cross operators are stateful: they compare the previous value of the
	// left operand against the threshold in addition to the current one.
	OpCrossesAbove Operator = "crosses_above"
	OpCrossesBelow Operator = "crosses_below"
)

func (op Operator) Valid() bool {
	switch op {
	case OpGTE, OpGT, OpLTE, OpLT, OpEQ, OpNEQ, OpCrossesAbove, OpCrossesBelow:
		return true
	}
	return false
}

// RequiresPrevious reports whether the operator needs a previous left value.
func (op Operator) RequiresPrevious() bool {
	return op == OpCrossesAbove || op == OpCrossesBelow
}

// Condition is a single comparison between two references.
type Condition struct {
	Left  Operand  `json:"left"`
	Op    Operator `json:"op"`
	Right Operand  `json:"right"`
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %s", c.Left, c.Op, c.Right)
}

// CrossesAbove reports whether cur crossed above thr on this bar, i.e. the
// previous value was at or below the threshold and the current value is
// strictly above it. Unknown previous value never crosses.
func CrossesAbove(cur, thr float64, prev *float64) bool {
	if prev == nil {
		return false
	}
	return *prev <= thr && cur > thr
}

// CrossesBelow mirrors CrossesAbove on the downside.
func CrossesBelow(cur, thr float64, prev *float64) bool {
	if prev == nil {
		return false
	}
	return *prev >= thr && cur < thr
}

// Evaluate resolves both operands and applies the operator. A reference
// that does not resolve makes the condition false with a diagnostic
// reason; evaluation itself never fails.
func Evaluate(c Condition, rc ResolveContext) (bool, string) {
	if !c.Op.Valid() {
		return false, fmt.Sprintf("unsupported operator %q", c.Op)
	}

	cur, ok := resolveOperand(c.Left, rc)
	if !ok {
		return false, fmt.Sprintf("left reference %s unresolved", c.Left)
	}

	// only the left operand resolves against its own history
	thr, ok := resolveOperand(c.Right, rc.withoutHistory())
	if !ok {
		return false, fmt.Sprintf("right reference %s unresolved", c.Right)
	}

	switch c.Op {
	case OpGTE:
		return cur >= thr, ""
	case OpGT:
		return cur > thr, ""
	case OpLTE:
		return cur <= thr, ""
	case OpLT:
		return cur < thr, ""
	case OpEQ:
		return almostEqual(cur, thr), ""
	case OpNEQ:
		return !almostEqual(cur, thr), ""
	case OpCrossesAbove:
		if rc.PrevLeft == nil {
			return false, "previous value unknown, cross not detectable"
		}
		return CrossesAbove(cur, thr, rc.PrevLeft), ""
	case OpCrossesBelow:
		if rc.PrevLeft == nil {
			return false, "previous value unknown, cross not detectable"
		}
		return CrossesBelow(cur, thr, rc.PrevLeft), ""
	}

	return false, fmt.Sprintf("unsupported operator %q", c.Op)
}

func resolveOperand(o Operand, rc ResolveContext) (float64, bool) {
	if o.Reference == nil {
		return 0, false
	}
	return o.Resolve(rc)
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) <= epsilon
}
