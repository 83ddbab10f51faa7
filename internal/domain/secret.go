package domain

import (
	"time"

	"github.com/google/uuid"
)

// SecretStatus is the lifecycle state of a ResourceSecret.
type SecretStatus string

const (
	SecretActive   SecretStatus = "ACTIVE"
	SecretDisabled SecretStatus = "DISABLED"
)

// ResourceSecret is the upstream credential for a resourceId (spec.md §3).
// EncryptedKey/KeyIV are the vault's envelope output — the plaintext key
// never touches this struct.
type ResourceSecret struct {
	ID            uuid.UUID
	ResourceID    string // unique, "<resourceType>:<provider>"
	Name          string
	ResourceType  string
	EncryptedKey  []byte
	KeyIV         []byte
	Config        map[string]string // per-provider, non-secret
	Status        SecretStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
