// Package ai provides distance-based tick frequency helpers for entity AI.
// Entities far from the nearest player run their AI on a reduced cadence,
// staggered by entity id so the skipped work spreads across ticks instead of
// stalling in lockstep.
package ai

import "github.com/go-gl/mathgl/mgl64"

// Squared distance tiers, in blocks.
const (
	nearDistSq   = 32.0 * 32.0
	mediumDistSq = 64.0 * 64.0
	farDistSq    = 128.0 * 128.0
)

// goalSelectorInterval is the cadence at which inactive entities still run
// their goal selector.
const goalSelectorInterval = 20

// TickInterval returns the number of ticks between full AI updates for an
// entity at the given position: 1 within 32 blocks of the nearest player,
// then 2, 4 and 8 at the 64 and 128 block tiers.
func TickInterval(entityPos, nearestPlayer mgl64.Vec3) int64 {
	switch distSq := entityPos.Sub(nearestPlayer).LenSqr(); {
	case distSq < nearDistSq:
		return 1
	case distSq < mediumDistSq:
		return 2
	case distSq < farDistSq:
		return 4
	default:
		return 8
	}
}

// ShouldTickAI reports whether the entity should run a full AI update this
// tick. The entity id offsets the skip pattern so entities at the same tier
// do not all skip the same ticks.
func ShouldTickAI(entityPos, nearestPlayer mgl64.Vec3, tick, entityID int64) bool {
	interval := TickInterval(entityPos, nearestPlayer)
	if interval == 1 {
		return true
	}
	return (tick+entityID)%interval == 0
}

// ShouldTickAIGradient is the continuous variant: the interval scales
// linearly from 1 at startDistance to maxInterval at the activation range,
// with no discrete tier jumps.
func ShouldTickAIGradient(entityPos, nearestPlayer mgl64.Vec3, tick, entityID int64, startDistance float64, maxInterval int64, activationRangeSq float64) bool {
	distSq := entityPos.Sub(nearestPlayer).LenSqr()
	startSq := startDistance * startDistance
	if distSq <= startSq {
		return true
	}
	if distSq >= activationRangeSq {
		return (tick+entityID)%maxInterval == 0
	}
	t := (distSq - startSq) / (activationRangeSq - startSq)
	interval := 1 + int64(t*float64(maxInterval-1))
	if interval <= 1 {
		return true
	}
	return (tick+entityID)%interval == 0
}

// ThrottleGoalSelector reports whether an inactive entity's goal selector
// should be skipped this tick. Inactive entities run goals once per second.
func ThrottleGoalSelector(inactive bool, tick, entityID int64) bool {
	if !inactive {
		return false
	}
	return (tick+entityID)%goalSelectorInterval != 0
}
