// Package leveling maps cumulative XP to a level, the XP required to reach the
// next level, and progress through the current level. It is pure arithmetic
// with no dependencies so both the lurk reconciler and display code can share it.
package leveling

const (
	// baseThreshold is the XP cost of completing level 1.
	baseThreshold = 100
	// growthNumerator/growthDenominator encode the 1.3x per-level cost growth
	// without floating point drift (floor(x*13/10) == floor(x*1.3) for ints).
	growthNumerator   = 13
	growthDenominator = 10
)

// Result describes where a given XP total lands on the level curve.
type Result struct {
	Level           int `json:"level"`
	XPToNext        int `json:"xp_to_next"`
	ProgressPercent int `json:"progress_percent"`
}

// Level computes the level reached with totalXP cumulative experience.
// Thresholds start at 100 XP and grow 30% (floored) per completed level.
// ProgressPercent is the floored fraction of the next threshold already
// covered, always in [0,99]. Negative totalXP is a caller bug; values are
// clamped to zero rather than handled.
func Level(totalXP int) Result {
	if totalXP < 0 {
		totalXP = 0
	}
	level := 1
	remainder := totalXP
	threshold := baseThreshold
	for remainder >= threshold {
		remainder -= threshold
		level++
		threshold = threshold * growthNumerator / growthDenominator
	}
	return Result{
		Level:           level,
		XPToNext:        threshold,
		ProgressPercent: remainder * 100 / threshold,
	}
}
