package workflows

// StateMachine enforces fulfillment status transitions
type StateMachine struct {
	allowedTransitions map[string][]string
}

// NewFulfillmentStateMachine returns the state machine for the fulfillment
// pipeline. Terminal states have no outgoing transitions.
func NewFulfillmentStateMachine() *StateMachine {
	return &StateMachine{
		allowedTransitions: map[string][]string{
			"RECEIVED":           {"SETTLEMENT_CHECKED", "SETTLEMENT_NOT_READY", "SETTLEMENT_FAILED"},
			"SETTLEMENT_CHECKED": {"CLAIM_SUBMITTED"},
			"CLAIM_SUBMITTED":    {"CONFIRMED", "CLAIM_REVERTED", "PENDING_CONFIRMATION"},
			"CONFIRMED":          {"NOTIFIED"},
			// Pending confirmation resumes on a later poll
			"PENDING_CONFIRMATION": {"CONFIRMED", "CLAIM_REVERTED"},
			"NOTIFIED":             {},
			"SETTLEMENT_NOT_READY": {"SETTLEMENT_CHECKED"},
			"SETTLEMENT_FAILED":    {},
			"CLAIM_REVERTED":       {},
		},
	}
}

// CanTransition checks if a status transition is allowed
func (sm *StateMachine) CanTransition(from, to string) bool {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return false
	}
	for _, allowedTo := range allowed {
		if allowedTo == to {
			return true
		}
	}
	return false
}

// GetAllowedTransitions returns the allowed next statuses for a given status
func (sm *StateMachine) GetAllowedTransitions(from string) []string {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return []string{}
	}
	return allowed
}
