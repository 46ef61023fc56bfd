package domain

import "fmt"

// GenerationState is the storefront-side lifecycle of an order's artwork.
type GenerationState string

const (
	GenerationStateDraft             GenerationState = "DRAFT"
	GenerationStateAvatarsRequested  GenerationState = "AVATARS_REQUESTED"
	GenerationStateAvatarsReady      GenerationState = "AVATARS_READY"
	GenerationStatePreviewRequested  GenerationState = "PREVIEW_REQUESTED"
	GenerationStatePreviewReady      GenerationState = "PREVIEW_READY"
	GenerationStatePaid              GenerationState = "PAID"
	GenerationStateUnpaidLocked      GenerationState = "UNPAID_LOCKED"
	GenerationStateFullBookRequested GenerationState = "FULL_BOOK_REQUESTED"
	GenerationStateFullBookReady     GenerationState = "FULL_BOOK_READY"
)

var generationTransitions = map[GenerationState][]GenerationState{
	GenerationStateDraft:             {GenerationStateAvatarsRequested},
	GenerationStateAvatarsRequested:  {GenerationStateAvatarsReady, GenerationStateDraft},
	GenerationStateAvatarsReady:      {GenerationStateAvatarsRequested, GenerationStatePreviewRequested},
	GenerationStatePreviewRequested:  {GenerationStatePreviewReady, GenerationStateAvatarsReady},
	GenerationStatePreviewReady:      {GenerationStatePaid, GenerationStateUnpaidLocked},
	GenerationStateUnpaidLocked:      {GenerationStatePaid},
	GenerationStatePaid:              {GenerationStateFullBookRequested},
	GenerationStateFullBookRequested: {GenerationStateFullBookReady, GenerationStatePaid},
	GenerationStateFullBookReady:     {},
}

// CanTransition reports whether moving from s to next is allowed.
func (s GenerationState) CanTransition(next GenerationState) bool {
	for _, allowed := range generationTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition validates the move and returns next.
func (s GenerationState) Transition(next GenerationState) (GenerationState, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("generation state: cannot move from %s to %s", s, next)
	}
	return next, nil
}

// AtLeast reports whether s is at or beyond target along the happy path.
func (s GenerationState) AtLeast(target GenerationState) bool {
	return generationRank(s) >= generationRank(target)
}

func generationRank(s GenerationState) int {
	switch s {
	case GenerationStateDraft:
		return 0
	case GenerationStateAvatarsRequested:
		return 1
	case GenerationStateAvatarsReady:
		return 2
	case GenerationStatePreviewRequested:
		return 3
	case GenerationStatePreviewReady:
		return 4
	case GenerationStateUnpaidLocked, GenerationStatePaid:
		return 5
	case GenerationStateFullBookRequested:
		return 6
	case GenerationStateFullBookReady:
		return 7
	default:
		return -1
	}
}
