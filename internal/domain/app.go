// Package domain holds the persistent entities of the resource gateway:
// apps, their credentials and permissions, usage counters, upstream
// secrets, and the pairing records that produce them. These are plain
// structs — persistence lives in internal/repo.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// AppStatus is the lifecycle state of an App.
type AppStatus string

const (
	AppPending  AppStatus = "PENDING"
	AppActive   AppStatus = "ACTIVE"
	AppDisabled AppStatus = "DISABLED"
)

// App is the identity of a registered client (spec.md §3).
type App struct {
	ID          uuid.UUID
	Name        string
	Description string
	Homepage    string
	Status      AppStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CredentialStatus is the lifecycle state of an AppCredential.
type CredentialStatus string

const (
	CredentialActive  CredentialStatus = "ACTIVE"
	CredentialRevoked CredentialStatus = "REVOKED"
)

// AppCredential is a public key that may sign requests on behalf of an App.
// Ed25519 public keys are always exactly 32 bytes.
type AppCredential struct {
	ID        uuid.UUID
	AppID     uuid.UUID
	PublicKey [32]byte
	Label     string
	Status    CredentialStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}
