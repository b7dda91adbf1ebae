package domain

import "strings"

// Event types emitted by the planning and execution engine.
const (
	EventPlanCreated         = "plan.created"
	EventPlanStarted         = "plan.started"
	EventPlanCompleted       = "plan.completed"
	EventPlanFailed          = "plan.failed"
	EventTaskStarted         = "task.started"
	EventTaskCompleted       = "task.completed"
	EventTaskFailed          = "task.failed"
	EventConversationMessage = "conversation.message"
)

// DefaultEventTypes is the built-in vocabulary.
var DefaultEventTypes = []string{
	EventPlanCreated,
	EventPlanStarted,
	EventPlanCompleted,
	EventPlanFailed,
	EventTaskStarted,
	EventTaskCompleted,
	EventTaskFailed,
	EventConversationMessage,
}

// MatchEventType reports whether pattern selects eventType. Patterns are an
// exact type, "*" for everything, or "family.*" for one family.
func MatchEventType(pattern, eventType string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(eventType, strings.TrimSuffix(pattern, "*"))
	default:
		return pattern == eventType
	}
}

// MatchAny reports whether any pattern selects eventType.
func MatchAny(patterns []string, eventType string) bool {
	for _, p := range patterns {
		if MatchEventType(p, eventType) {
			return true
		}
	}
	return false
}
