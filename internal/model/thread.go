package model

import "time"

// Direction records whether a thread message was received or sent.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Thread binds a correlation token to the conversation it was minted for.
type Thread struct {
	ID        string    `json:"id" db:"id"`
	Token     string    `json:"token" db:"token"`
	TenantID  string    `json:"tenant_id" db:"tenant_id"`
	EntryID   string    `json:"entry_id" db:"entry_id"`
	Subject   string    `json:"subject" db:"subject"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ThreadMessage is a single Message-ID recorded against a thread.
type ThreadMessage struct {
	MessageID string    `json:"message_id" db:"message_id"`
	ThreadID  string    `json:"thread_id" db:"thread_id"`
	Direction Direction `json:"direction" db:"direction"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Tenant is an account that owns a routing code.
type Tenant struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Email       string    `json:"email" db:"email"`
	RoutingCode string    `json:"routing_code" db:"routing_code"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
