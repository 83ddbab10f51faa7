package domain

import (
	"time"

	"github.com/google/uuid"
)

// ConnectCode is a short-lived, human-mediated pairing token (spec.md §3).
// Only its hash is ever persisted.
type ConnectCode struct {
	ID        uuid.UUID
	CodeHash  string // base64url(SHA256(code))
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// RequestedPermission is one line of an install session's requested grant:
// a resource plus the actions the app is asking for on it.
type RequestedPermission struct {
	ResourceID string
	Actions    []string
}

// InstallSessionStatus is the lifecycle state of an InstallSession.
type InstallSessionStatus string

const (
	InstallPending  InstallSessionStatus = "PENDING"
	InstallApproved InstallSessionStatus = "APPROVED"
	InstallDenied   InstallSessionStatus = "DENIED"
	InstallExpired  InstallSessionStatus = "EXPIRED"
)

// InstallSession is the in-progress approval handshake that turns a PENDING
// app into an ACTIVE one with credentials and permissions (spec.md §3).
type InstallSession struct {
	ID                   uuid.UUID
	AppID                uuid.UUID // PENDING app
	SessionToken         string    // opaque, high entropy, unique
	RequestedPermissions []RequestedPermission
	RedirectURI          string
	ExpiresAt            time.Time
	Status               InstallSessionStatus
	CompletedAt          *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// GrantedPermission is one permission an operator approves during Approve,
// carrying its full embedded policy (spec.md §4.3).
type GrantedPermission struct {
	ResourceID  string
	Action      string
	ValidFrom   time.Time
	ExpiresAt   *time.Time
	TimeWindow  *TimeWindow
	RateLimit   *RateLimit
	Quota       Quota
	TokenBudget TokenBudget
	Constraints Constraints
}
