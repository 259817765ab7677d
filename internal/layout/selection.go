package layout

import (
	"errors"
	"math"
)

// ErrNoCapacity is returned when a site reports no mountable panels.
var ErrNoCapacity = errors.New("no panel capacity")

// defaultSelectionShare is the fraction of the maximum count a fresh
// session starts with when the host expresses no preference.
const defaultSelectionShare = 0.8

// Selection owns the one mutable value of a session: how many panels, in
// priority order, are active. Single writer; hosts that share it across
// goroutines must wrap calls in their own lock.
type Selection struct {
	active     int
	max        int
	panelWatts float64
	onChange   func(count int, systemKw float64)
}

// NewSelection initializes the active count exactly once per panel-set
// load: a desired count from the host is clamped into [1, max], otherwise
// the session starts at 80% of max rounded to whole panels.
func NewSelection(max int, panelWatts float64, desired *int) (*Selection, error) {
	if max < 1 {
		return nil, ErrNoCapacity
	}

	start := int(math.Round(defaultSelectionShare * float64(max)))
	if desired != nil {
		start = *desired
	}

	s := &Selection{max: max, panelWatts: panelWatts}
	s.active = s.clamp(start)
	return s, nil
}

func (s *Selection) clamp(n int) int {
	if n < 1 {
		return 1
	}
	if n > s.max {
		return s.max
	}
	return n
}

// Count returns the number of active panels.
func (s *Selection) Count() int { return s.active }

// Max returns the number of mountable panels.
func (s *Selection) Max() int { return s.max }

// SystemKw returns the active system size in kilowatts.
func (s *Selection) SystemKw() float64 {
	return float64(s.active) * s.panelWatts / 1000
}

// OnChange registers the host callback and fires it immediately so the
// host sees the initial state without a synthetic first edit.
func (s *Selection) OnChange(fn func(count int, systemKw float64)) {
	s.onChange = fn
	s.emit()
}

func (s *Selection) emit() {
	if s.onChange != nil {
		s.onChange(s.active, s.SystemKw())
	}
}

// SetCount moves the active count to n, silently clamped into [1, max].
// Out-of-range requests are expected from steppers held down at the edge
// and are not errors.
func (s *Selection) SetCount(n int) {
	clamped := s.clamp(n)
	if clamped == s.active {
		return
	}
	s.active = clamped
	s.emit()
}

// Increment adds one panel, saturating at the maximum.
func (s *Selection) Increment() { s.SetCount(s.active + 1) }

// Decrement removes one panel, stopping at one.
func (s *Selection) Decrement() { s.SetCount(s.active - 1) }
