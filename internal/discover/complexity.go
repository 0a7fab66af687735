package discover

import "unpe/internal/disasm"

// Complexity buckets a function's score.
type Complexity string

const (
	Simple  Complexity = "simple"
	Medium  Complexity = "medium"
	Complex Complexity = "complex"
)

// Score weighs control flow: +2 per conditional branch, +1 per call and
// +3 per backward branch. A backward conditional branch scores both.
func Score(insts []disasm.Instruction) int {
	score := 0
	for i := range insts {
		in := &insts[i]
		if in.IsConditional() {
			score += 2
		}
		if in.IsCall() {
			score++
		}
		if disasm.IsBackward(in) {
			score += 3
		}
	}
	return score
}

// Classify maps a score to a bucket: <5 simple, <15 medium, else complex.
func Classify(score int) Complexity {
	switch {
	case score < 5:
		return Simple
	case score < 15:
		return Medium
	}
	return Complex
}
