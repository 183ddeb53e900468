package notification

import (
	"time"

	"github.com/google/uuid"
)

// Type represents the kind of notification
type Type string

const (
	TypeGroupInvite           Type = "GROUP_INVITE"
	TypeExpenseAdded          Type = "EXPENSE_ADDED"
	TypeSettlementReceived    Type = "SETTLEMENT_RECEIVED"
	TypeSettlementRecorded    Type = "SETTLEMENT_RECORDED"
	TypePaymentDetailsRequest Type = "PAYMENT_DETAILS_REQUEST"
)

// Related entity kinds
const (
	EntityGroup      = "GROUP"
	EntityExpense    = "EXPENSE"
	EntitySettlement = "SETTLEMENT"
)

// Notification represents a stored in-app notification
type Notification struct {
	ID                int64     `json:"id"`
	RecipientID       int64     `json:"recipient_id"`
	Type              Type      `json:"type"`
	Message           string    `json:"message"`
	IsRead            bool      `json:"is_read"`
	RelatedEntityType *string   `json:"related_entity_type,omitempty"`
	RelatedEntityID   *int64    `json:"related_entity_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Event is a notification waiting to be delivered. It is also the body
// published to the message broker
type Event struct {
	ID          uuid.UUID `json:"id"`
	Type        Type      `json:"type"`
	RecipientID int64     `json:"recipient_id"`
	GroupID     int64     `json:"group_id,omitempty"`
	Message     string    `json:"message"`
	EntityType  string    `json:"entity_type,omitempty"`
	EntityID    int64     `json:"entity_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewEvent builds an event with a fresh id and timestamp
func NewEvent(typ Type, recipientID int64, message string) Event {
	return Event{
		ID:          uuid.New(),
		Type:        typ,
		RecipientID: recipientID,
		Message:     message,
		CreatedAt:   time.Now().UTC(),
	}
}

// About attaches the related entity and group to the event
func (e Event) About(groupID int64, entityType string, entityID int64) Event {
	e.GroupID = groupID
	e.EntityType = entityType
	e.EntityID = entityID
	return e
}
