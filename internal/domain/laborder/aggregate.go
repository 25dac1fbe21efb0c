package laborder

import "fmt"

// StatusCounts tallies the order tests of one order.
type StatusCounts struct {
	Total     int
	Completed int
	Cancelled int
}

// AggregateStatus derives an order's status from its tests. It reports false
// when the order has no tests, in which case the stored status is kept.
//
// The result depends only on the counts: reinstating a cancelled test moves
// a completed or cancelled order back to pending.
func AggregateStatus(c StatusCounts) (string, bool) {
	if c.Total == 0 {
		return "", false
	}
	switch {
	case c.Completed+c.Cancelled >= c.Total && c.Completed > 0:
		return StatusCompleted, true
	case c.Cancelled >= c.Total:
		return StatusCancelled, true
	default:
		return StatusPending, true
	}
}

// orderTestTransitions lists the allowed order test moves. Completed is final.
var orderTestTransitions = map[string][]string{
	StatusPending:   {StatusCompleted, StatusCancelled},
	StatusCancelled: {StatusPending},
	StatusCompleted: {},
}

// ValidateOrderTestTransition checks a status change of one order test.
func ValidateOrderTestTransition(from, to string) error {
	allowed, ok := orderTestTransitions[from]
	if !ok {
		return fmt.Errorf("%w: unknown status %s", ErrInvalidTransition, from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
}
