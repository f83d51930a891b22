package models

import "time"

// BroadcastRecipient addresses a message to every agent.
const BroadcastRecipient = "all"

// MessageType classifies a message on the communication bus.
type MessageType string

const (
	// MessageTypeQuestion is a question from one agent to another.
	MessageTypeQuestion MessageType = "question"
	// MessageTypeStatusUpdate is a standup-style status broadcast.
	MessageTypeStatusUpdate MessageType = "status_update"
	// MessageTypeBlocker reports a blocker to the coordinator.
	MessageTypeBlocker MessageType = "blocker"
	// MessageTypeCodeReview carries code review traffic.
	MessageTypeCodeReview MessageType = "code_review"
	// MessageTypeHelpRequest asks another agent for help.
	MessageTypeHelpRequest MessageType = "help_request"
)

// Valid returns true if the type is a known value.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeQuestion, MessageTypeStatusUpdate, MessageTypeBlocker,
		MessageTypeCodeReview, MessageTypeHelpRequest:
		return true
	default:
		return false
	}
}

// MessagePriority orders message urgency.
type MessagePriority string

const (
	PriorityLow    MessagePriority = "low"
	PriorityNormal MessagePriority = "normal"
	PriorityHigh   MessagePriority = "high"
	PriorityUrgent MessagePriority = "urgent"
)

// Message is one immutable entry on the append-only communication log.
type Message struct {
	// ID is the unique message identifier.
	ID string `json:"id"`
	// From is the sending agent.
	From string `json:"from_agent"`
	// To is the recipient agent, or BroadcastRecipient.
	To string `json:"to_agent"`
	// Type classifies the message.
	Type MessageType `json:"message_type"`
	// Subject is the short summary line.
	Subject string `json:"subject"`
	// Body is the message content.
	Body string `json:"content"`
	// Timestamp is when the message was sent.
	Timestamp time.Time `json:"timestamp"`
	// Priority orders urgency.
	Priority MessagePriority `json:"priority"`
	// ThreadID groups messages into a conversation, if set.
	ThreadID string `json:"thread_id,omitempty"`
	// Attachments carries small structured extras (review ids, snippets).
	Attachments map[string]string `json:"attachments,omitempty"`
}

// StatusReport is one agent's standup report. One per agent per day;
// resubmitting the same day overwrites.
type StatusReport struct {
	// AgentID identifies the reporting agent.
	AgentID string `json:"agent_id"`
	// AgentName is the display name at reporting time.
	AgentName string `json:"agent_name"`
	// Date is the report day in YYYYMMDD form.
	Date string `json:"date"`
	// Timestamp is when the report was submitted.
	Timestamp time.Time `json:"timestamp"`
	// CompletedToday lists titles of tasks finished today.
	CompletedToday []string `json:"completed_today"`
	// WorkingOn is the current task title, or "Idle".
	WorkingOn string `json:"working_on"`
	// Blockers lists titles of the agent's blocked tasks.
	Blockers []string `json:"blockers"`
	// TestsWritten counts test tasks completed today.
	TestsWritten int `json:"tests_written"`
	// BugsFixed counts fix tasks completed today.
	BugsFixed int `json:"bugs_fixed"`
	// Velocity is completed tasks divided by elapsed hours.
	Velocity float64 `json:"velocity_score"`
}
