package companion

import "math"

// MaxLevel is the companion level cap.
const MaxLevel = 100

// ExpToNext returns the experience required to advance to the given level.
//
// Precondition: level >= 1.
func ExpToNext(level int) int {
	return int(math.Floor(100 + math.Pow(float64(level), 2.1)*25))
}

// Progress is a companion's persistent level and experience.
type Progress struct {
	Level      int
	Experience int
}

// GainExp adds earned experience and applies level-ups: while the surplus
// covers the next level's requirement the companion levels up and the
// requirement is deducted, stopping at MaxLevel.
//
// Precondition: p.Level >= 1; exp >= 0.
// Postcondition: Returns the updated progress and the number of levels
// gained. Level never exceeds MaxLevel.
func GainExp(p Progress, exp int) (Progress, int) {
	p.Experience += exp
	gained := 0
	for p.Level < MaxLevel {
		need := ExpToNext(p.Level + 1)
		if p.Experience < need {
			break
		}
		p.Experience -= need
		p.Level++
		gained++
	}
	return p, gained
}

// VictoryExp computes the flat experience grant for a won expedition from the
// total max HP of the defeated monster roster.
func VictoryExp(totalMonsterMaxHP int) int {
	return totalMonsterMaxHP/10 + 20
}
