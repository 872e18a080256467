package ai

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

var player = mgl64.Vec3{0, 64, 0}

func at(dist float64) mgl64.Vec3 {
	return mgl64.Vec3{dist, 64, 0}
}

func TestTickIntervalTiers(t *testing.T) {
	cases := []struct {
		dist float64
		want int64
	}{
		{0, 1},
		{31, 1},
		{32, 2},
		{63, 2},
		{64, 4},
		{127, 4},
		{128, 8},
		{500, 8},
	}
	for _, c := range cases {
		if got := TickInterval(at(c.dist), player); got != c.want {
			t.Fatalf("TickInterval at %v blocks = %d, want %d", c.dist, got, c.want)
		}
	}
}

func TestShouldTickAINearAlwaysTicks(t *testing.T) {
	for tick := int64(0); tick < 50; tick++ {
		if !ShouldTickAI(at(10), player, tick, 7) {
			t.Fatalf("near entity skipped AI at tick %d", tick)
		}
	}
}

func TestShouldTickAIFarTicksAtReducedRate(t *testing.T) {
	ticked := 0
	const ticks = 400
	for tick := int64(0); tick < ticks; tick++ {
		if ShouldTickAI(at(200), player, tick, 3) {
			ticked++
		}
	}
	if ticked != ticks/8 {
		t.Fatalf("very far entity ticked %d times out of %d, want %d", ticked, ticks, ticks/8)
	}
}

func TestShouldTickAIStaggersByEntityID(t *testing.T) {
	// Two entities at the same tier must not skip the same ticks.
	const tick = 0
	a := ShouldTickAI(at(200), player, tick, 0)
	b := ShouldTickAI(at(200), player, tick, 1)
	if a && b {
		t.Fatal("adjacent entity ids ticked together at divisor 8")
	}
}

func TestGradientBoundaries(t *testing.T) {
	const (
		start      = 24.0
		maxIv      = 8
		rangeSq    = 128.0 * 128.0
		nearTicked = 100
	)
	for tick := int64(0); tick < nearTicked; tick++ {
		if !ShouldTickAIGradient(at(10), player, tick, 5, start, maxIv, rangeSq) {
			t.Fatalf("entity inside start distance skipped at tick %d", tick)
		}
	}
	ticked := 0
	const ticks = 400
	for tick := int64(0); tick < ticks; tick++ {
		if ShouldTickAIGradient(at(300), player, tick, 5, start, maxIv, rangeSq) {
			ticked++
		}
	}
	if ticked != ticks/maxIv {
		t.Fatalf("entity beyond activation range ticked %d/%d, want %d", ticked, ticks, ticks/maxIv)
	}
}

func TestGradientIsMonotonic(t *testing.T) {
	// Tick rate over a long window must not increase with distance.
	const ticks = 800
	rate := func(dist float64) int {
		n := 0
		for tick := int64(0); tick < ticks; tick++ {
			if ShouldTickAIGradient(at(dist), player, tick, 9, 24, 8, 128*128) {
				n++
			}
		}
		return n
	}
	prev := ticks + 1
	for _, dist := range []float64{20, 40, 60, 80, 100, 120, 140} {
		got := rate(dist)
		if got > prev {
			t.Fatalf("tick rate increased with distance: %d at %v blocks after %d", got, dist, prev)
		}
		prev = got
	}
}

func TestThrottleGoalSelector(t *testing.T) {
	if ThrottleGoalSelector(false, 0, 0) {
		t.Fatal("active entities must never be throttled")
	}
	skipped := 0
	const ticks = 200
	for tick := int64(0); tick < ticks; tick++ {
		if ThrottleGoalSelector(true, tick, 4) {
			skipped++
		}
	}
	if ran := ticks - skipped; ran != ticks/20 {
		t.Fatalf("inactive entity ran goals %d times out of %d, want %d", ran, ticks, ticks/20)
	}
}
