package rules

import "github.com/mcdev12/picklesync/go/internal/models"

// ShouldSwitchSides reports whether the switching threshold of policy has been
// reached at the given score. Teams change ends when the threshold is first
// crossed; EVERY_POINT is always due. AFTER_EACH_GAME is applied when a game
// completes, so it never fires mid-game.
func ShouldSwitchSides(policy models.SideSwitching, score1, score2, winningScore int) bool {
	switch policy {
	case models.SideSwitchAtSix:
		return score1+score2 >= 6
	case models.SideSwitchAtHalf:
		return max(score1, score2) >= halfOf(winningScore)
	case models.SideSwitchEveryPoint:
		return true
	default:
		return false
	}
}

func sideSwitchDue(policy models.SideSwitching, before1, before2, after1, after2, winningScore int) bool {
	if policy == models.SideSwitchEveryPoint {
		return true
	}
	return ShouldSwitchSides(policy, after1, after2, winningScore) &&
		!ShouldSwitchSides(policy, before1, before2, winningScore)
}

// courtSideFor derives the end side 1 plays from using only the current score.
func courtSideFor(r models.RuleSet, score1, score2, rallies int) models.CourtSide {
	switch r.SideSwitching {
	case models.SideSwitchEveryPoint:
		if rallies%2 == 1 {
			return models.CourtSideB
		}
	case models.SideSwitchAtSix, models.SideSwitchAtHalf:
		if ShouldSwitchSides(r.SideSwitching, score1, score2, r.WinningScore) {
			return models.CourtSideB
		}
	}
	return models.CourtSideA
}

// halfOf rounds up, so games to 11 switch at 6.
func halfOf(winningScore int) int {
	return (winningScore + 1) / 2
}
