// Package comms implements agent-to-agent communication: the message
// bus, daily status reports, and the code review queue.
package comms

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/foremanhq/foreman/internal/state"
	"github.com/foremanhq/foreman/pkg/models"
)

// DefaultInboxLimit caps how many messages an inbox read returns.
const DefaultInboxLimit = 20

// Bus is an append-only message bus persisted in the state database.
type Bus struct {
	db *state.DB
}

// NewBus creates a message bus backed by the given database.
func NewBus(db *state.DB) *Bus {
	return &Bus{db: db}
}

// Send appends a message. Missing IDs, timestamps, and priorities are
// filled in. Messages are never mutated or deleted after the append.
func (b *Bus) Send(msg *models.Message) error {
	if msg.From == "" || msg.To == "" {
		return fmt.Errorf("message requires from and to agents")
	}
	if !msg.Type.Valid() {
		return fmt.Errorf("invalid message type %q", msg.Type)
	}
	if msg.ID == "" {
		msg.ID = "MSG-" + uuid.New().String()[:8]
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if msg.Priority == "" {
		msg.Priority = models.PriorityNormal
	}

	var attachments string
	if len(msg.Attachments) > 0 {
		b, err := json.Marshal(msg.Attachments)
		if err != nil {
			return fmt.Errorf("marshal attachments: %w", err)
		}
		attachments = string(b)
	}

	_, err := b.db.Exec(`
		INSERT INTO messages (id, from_agent, to_agent, type, subject, body, timestamp, priority, thread_id, attachments)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.From, msg.To, string(msg.Type), msg.Subject, msg.Body,
		state.FormatTime(msg.Timestamp), string(msg.Priority), msg.ThreadID, attachments,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ReportBlocker sends an urgent blocker message to the coordinator.
func (b *Bus) ReportBlocker(agentID, coordinatorID, taskTitle, blocker string) error {
	return b.Send(&models.Message{
		From:     agentID,
		To:       coordinatorID,
		Type:     models.MessageTypeBlocker,
		Subject:  fmt.Sprintf("Blocked: %s", taskTitle),
		Body:     blocker,
		Priority: models.PriorityUrgent,
	})
}

// Broadcast sends a message to every agent by addressing the broadcast
// recipient.
func (b *Bus) Broadcast(msg *models.Message) error {
	msg.To = models.BroadcastRecipient
	return b.Send(msg)
}

// Inbox returns the most recent messages addressed to the agent or to
// the broadcast recipient, newest first. A non-positive limit uses
// DefaultInboxLimit.
func (b *Bus) Inbox(agentID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = DefaultInboxLimit
	}
	rows, err := b.db.Query(`
		SELECT id, from_agent, to_agent, type, subject, body, timestamp, priority, thread_id, attachments
		FROM messages
		WHERE to_agent = ? OR to_agent = ?
		ORDER BY timestamp DESC
		LIMIT ?`,
		agentID, models.BroadcastRecipient, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query inbox: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// Recent returns the newest messages on the bus regardless of recipient.
func (b *Bus) Recent(limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = DefaultInboxLimit
	}
	rows, err := b.db.Query(`
		SELECT id, from_agent, to_agent, type, subject, body, timestamp, priority, thread_id, attachments
		FROM messages
		ORDER BY timestamp DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]*models.Message, error) {
	var msgs []*models.Message
	for rows.Next() {
		var msg models.Message
		var ts string
		var attachments sql.NullString
		err := rows.Scan(
			&msg.ID, &msg.From, &msg.To, &msg.Type, &msg.Subject, &msg.Body,
			&ts, &msg.Priority, &msg.ThreadID, &attachments,
		)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Timestamp, err = state.ParseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("parse message timestamp: %w", err)
		}
		if attachments.Valid && attachments.String != "" {
			if err := json.Unmarshal([]byte(attachments.String), &msg.Attachments); err != nil {
				return nil, fmt.Errorf("parse attachments: %w", err)
			}
		}
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}
