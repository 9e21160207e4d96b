package models

import "time"

// ServeRotation selects how serve moves after a point.
type ServeRotation string

const (
	// ServeRotationStandard is side-out scoring: the serving side keeps serve
	// and switches position when it scores, the receiving side wins the serve.
	ServeRotationStandard ServeRotation = "STANDARD"
	// ServeRotationRally gives the serve to whichever side won the point.
	ServeRotationRally ServeRotation = "RALLY"
)

// SideSwitching selects when teams change ends.
type SideSwitching string

const (
	SideSwitchNever         SideSwitching = "NEVER"
	SideSwitchAtSix         SideSwitching = "AT_SIX"
	SideSwitchAtHalf        SideSwitching = "AT_HALF"
	SideSwitchEveryPoint    SideSwitching = "EVERY_POINT"
	SideSwitchAfterEachGame SideSwitching = "AFTER_EACH_GAME"
)

// RuleSet holds the rule parameters a game was created with. It is copied into
// every game so later edits to a variation never change a game in progress.
type RuleSet struct {
	WinningScore     int           `json:"winning_score" yaml:"winning_score"`
	WinByTwo         bool          `json:"win_by_two" yaml:"win_by_two"`
	KitchenRule      bool          `json:"kitchen_rule" yaml:"kitchen_rule"`
	DoubleBounceRule bool          `json:"double_bounce_rule" yaml:"double_bounce_rule"`
	ServeRotation    ServeRotation `json:"serve_rotation" yaml:"serve_rotation"`
	SideSwitching    SideSwitching `json:"side_switching" yaml:"side_switching"`
	TimeLimitSec     *int          `json:"time_limit_sec,omitempty" yaml:"time_limit_sec,omitempty"`
	MaxRallies       *int          `json:"max_rallies,omitempty" yaml:"max_rallies,omitempty"`
	TeamSize         int           `json:"team_size" yaml:"team_size"`
}

// DefaultRuleSet returns standard doubles rules to 11, win by two.
func DefaultRuleSet() RuleSet {
	return RuleSet{
		WinningScore:     11,
		WinByTwo:         true,
		KitchenRule:      true,
		DoubleBounceRule: true,
		ServeRotation:    ServeRotationStandard,
		SideSwitching:    SideSwitchAtHalf,
		TeamSize:         2,
	}
}

// Normalize fills zero values with defaults.
func (r RuleSet) Normalize() RuleSet {
	d := DefaultRuleSet()
	if r.WinningScore <= 0 {
		r.WinningScore = d.WinningScore
	}
	if r.ServeRotation == "" {
		r.ServeRotation = d.ServeRotation
	}
	if r.SideSwitching == "" {
		r.SideSwitching = SideSwitchNever
	}
	if r.TeamSize <= 0 {
		r.TeamSize = 1
	}
	return r
}

// TimeLimit returns the configured time limit, if any.
func (r RuleSet) TimeLimit() (time.Duration, bool) {
	if r.TimeLimitSec == nil || *r.TimeLimitSec <= 0 {
		return 0, false
	}
	return time.Duration(*r.TimeLimitSec) * time.Second, true
}

// Clone copies the optional fields so the result shares no pointers with r.
func (r RuleSet) Clone() RuleSet {
	if r.TimeLimitSec != nil {
		v := *r.TimeLimitSec
		r.TimeLimitSec = &v
	}
	if r.MaxRallies != nil {
		v := *r.MaxRallies
		r.MaxRallies = &v
	}
	return r
}
