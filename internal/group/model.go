package group

import "time"

// MemberStatus represents the status of a group member
type MemberStatus string

const (
	MemberStatusInvited MemberStatus = "INVITED"
	MemberStatusJoined  MemberStatus = "JOINED"
)

// MemberRole represents the role of a group member
type MemberRole string

const (
	MemberRoleAdmin  MemberRole = "ADMIN"
	MemberRoleMember MemberRole = "MEMBER"
)

// Valid reports whether r is a known role
func (r MemberRole) Valid() bool {
	return r == MemberRoleAdmin || r == MemberRoleMember
}

// Group represents a group in the system
type Group struct {
	ID          int64
	Name        string
	Description *string
	IsTemporary bool
	CreatedBy   int64
	// LedgerVersion is bumped by every write that changes balances
	LedgerVersion int64
	CreatedAt     time.Time
}

// GroupMember represents a user's membership in a group
type GroupMember struct {
	ID       int64
	GroupID  int64
	UserID   int64
	Status   MemberStatus
	Role     MemberRole
	JoinedAt time.Time

	// Populated from JOIN
	FullName string
	Email    string
}

// IsCurrent reports whether the member takes part in the group ledger
func (m *GroupMember) IsCurrent() bool {
	return m.Status == MemberStatusJoined
}
