package domain

import "time"

// DefconLevel is a discrete 5→1 crisis level. 5 is peacetime, 1 is
// maximum crisis — it is not a numeric continuum and must never be
// averaged or interpolated.
type DefconLevel int

const (
	DefconPeacetime DefconLevel = 5
	DefconWatch     DefconLevel = 4
	DefconElevated  DefconLevel = 3
	DefconSevere    DefconLevel = 2
	DefconCrisis    DefconLevel = 1
)

// DefconState is persisted on every level transition; the latest row is
// the current state. reason_code names the sub-signal with the largest
// weighted contribution to the score that produced the transition.
type DefconState struct {
	Level       DefconLevel
	SignalScore float64
	EnteredAt   time.Time
	ReasonCode  string
}
