package infer

import "math"

const (
	targetAcceptance = 0.25
	minStep          = 1e-8
	maxStep          = 1e2
)

// stepSize is one adaptive random-walk scale. Adaptation follows a
// diminishing schedule: the correction factor shrinks as 1/sqrt(adaptations),
// which preserves ergodicity in the limit.
type stepSize struct {
	value          float64
	accepts        int
	proposals      int
	windowAccepts  int
	windowProposal int
	adaptations    int
}

func newStepSize(initial float64) *stepSize {
	return &stepSize{value: initial}
}

func (s *stepSize) observe(accepted bool, interval int) {
	s.proposals++
	s.windowProposal++
	if accepted {
		s.accepts++
		s.windowAccepts++
	}
	if interval <= 0 || s.windowProposal < interval {
		return
	}

	rate := float64(s.windowAccepts) / float64(s.windowProposal)
	s.adaptations++
	delta := math.Min(1, 1/math.Sqrt(float64(s.adaptations)))
	s.value *= math.Exp(delta * (rate - targetAcceptance))
	if s.value < minStep {
		s.value = minStep
	}
	if s.value > maxStep {
		s.value = maxStep
	}
	s.windowAccepts = 0
	s.windowProposal = 0
}

func (s *stepSize) rate() float64 {
	if s.proposals == 0 {
		return 0
	}
	return float64(s.accepts) / float64(s.proposals)
}
