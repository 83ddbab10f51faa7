package pairing

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nightgate/resourcegate/internal/domain"
	"github.com/nightgate/resourcegate/internal/gatewayerr"
)

// installSessionTTL is the lifetime of an install session once a connect
// code has been consumed (spec.md §4.3).
const installSessionTTL = 30 * time.Minute

// connectCodeTTL is the lifetime of a freshly generated connect code.
const connectCodeTTL = 10 * time.Minute

// Stores is the narrow persistence surface the pairing service needs,
// satisfied by internal/repo/postgres's stores. Grouped into one struct so
// service construction takes one argument instead of five.
type Stores struct {
	ConnectCodes    ConnectCodeRepo
	InstallSessions InstallSessionRepo
	Apps            AppRepo
	Credentials     CredentialRepo
	Permissions     PermissionRepo
}

// ConnectCodeRepo is the subset of repo.ConnectCodeRepo pairing needs.
type ConnectCodeRepo interface {
	Create(ctx context.Context, cc *domain.ConnectCode) error
	GetByHash(ctx context.Context, codeHash string) (*domain.ConnectCode, error)
	MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// InstallSessionRepo is the subset of repo.InstallSessionRepo pairing needs.
type InstallSessionRepo interface {
	Create(ctx context.Context, s *domain.InstallSession) error
	GetByToken(ctx context.Context, token string) (*domain.InstallSession, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.InstallSessionStatus, completedAt *time.Time) error
	ExpireStale(ctx context.Context, before time.Time) ([]uuid.UUID, error)
}

// AppRepo is the subset of repo.AppRepo pairing needs.
type AppRepo interface {
	Create(ctx context.Context, app *domain.App) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.AppStatus) error
}

// CredentialRepo is the subset of repo.CredentialRepo pairing needs.
type CredentialRepo interface {
	Create(ctx context.Context, cred *domain.AppCredential) error
}

// PermissionRepo is the subset of repo.PermissionRepo pairing needs.
type PermissionRepo interface {
	Create(ctx context.Context, p *domain.ResourcePermission) error
}

// Service drives the pairing state machine.
type Service struct {
	stores     Stores
	gatewayURL string
}

func NewService(stores Stores, gatewayURL string) *Service {
	return &Service{stores: stores, gatewayURL: gatewayURL}
}

// GeneratePairing creates a fresh connect code and returns its pairing URI.
func (s *Service) GeneratePairing(ctx context.Context) (uri string, expiresAt time.Time, err error) {
	code, hash, err := GenerateConnectCode()
	if err != nil {
		return "", time.Time{}, err
	}

	expiresAt = time.Now().Add(connectCodeTTL)
	cc := &domain.ConnectCode{CodeHash: hash, ExpiresAt: expiresAt}
	if err := s.stores.ConnectCodes.Create(ctx, cc); err != nil {
		return "", time.Time{}, fmt.Errorf("storing connect code: %w", err)
	}

	return PairingURI(s.gatewayURL, code), expiresAt, nil
}

// PrepareInstallRequest is the input to PrepareInstall.
type PrepareInstallRequest struct {
	Code                 string
	AppName              string
	AppDescription       string
	AppHomepage          string
	PublicKey            ed25519.PublicKey
	RequestedPermissions []domain.RequestedPermission
	RedirectURI          string
}

// PrepareInstallResult is returned to the app once its install session is
// created.
type PrepareInstallResult struct {
	SessionToken string
	ApprovalURL  string
	ExpiresAt    time.Time
}

// PrepareInstall consumes a connect code and creates a PENDING app plus its
// install session (spec.md §4.3). The steps are separate writes, not one
// transaction: a failure after the code is marked used leaves the code
// consumed, and any app or credential already created stays in place.
func (s *Service) PrepareInstall(ctx context.Context, req PrepareInstallRequest) (*PrepareInstallResult, error) {
	if len(req.PublicKey) != ed25519.PublicKeySize {
		return nil, gatewayerr.InvalidRequest.WithDetails("public key must be 32 bytes")
	}

	hash := HashConnectCode(req.Code)
	cc, err := s.stores.ConnectCodes.GetByHash(ctx, hash)
	if err != nil {
		return nil, gatewayerr.InvalidRequest.WithDetails("connect code not found")
	}
	now := time.Now()
	if cc.UsedAt != nil || now.After(cc.ExpiresAt) {
		return nil, gatewayerr.InvalidRequest.WithDetails("connect code expired or already used")
	}

	if err := s.stores.ConnectCodes.MarkUsed(ctx, cc.ID, now); err != nil {
		return nil, fmt.Errorf("marking connect code used: %w", err)
	}

	app := &domain.App{
		Name:        req.AppName,
		Description: req.AppDescription,
		Homepage:    req.AppHomepage,
		Status:      domain.AppPending,
	}
	if err := s.stores.Apps.Create(ctx, app); err != nil {
		return nil, fmt.Errorf("creating app: %w", err)
	}

	var pk [32]byte
	copy(pk[:], req.PublicKey)
	cred := &domain.AppCredential{AppID: app.ID, PublicKey: pk, Status: domain.CredentialActive}
	if err := s.stores.Credentials.Create(ctx, cred); err != nil {
		return nil, fmt.Errorf("creating app credential: %w", err)
	}

	token, err := GenerateSessionToken()
	if err != nil {
		return nil, err
	}
	expiresAt := now.Add(installSessionTTL)
	session := &domain.InstallSession{
		AppID:                app.ID,
		SessionToken:         token,
		RequestedPermissions: req.RequestedPermissions,
		RedirectURI:          req.RedirectURI,
		ExpiresAt:            expiresAt,
		Status:               domain.InstallPending,
	}
	if err := s.stores.InstallSessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("creating install session: %w", err)
	}

	return &PrepareInstallResult{
		SessionToken: token,
		ApprovalURL:  fmt.Sprintf("%s/install/%s/approve", s.gatewayURL, token),
		ExpiresAt:    expiresAt,
	}, nil
}

// Approve grants the given permissions, activates the app, and marks the
// session APPROVED (spec.md §4.3). Each granted permission becomes one
// ResourcePermission row carrying its policy as-is.
func (s *Service) Approve(ctx context.Context, sessionToken string, grants []domain.GrantedPermission) error {
	session, err := s.stores.InstallSessions.GetByToken(ctx, sessionToken)
	if err != nil {
		return gatewayerr.InvalidRequest.WithDetails("install session not found")
	}
	if session.Status != domain.InstallPending {
		return gatewayerr.InvalidRequest.WithDetails("install session is no longer pending")
	}

	for _, g := range grants {
		perm := &domain.ResourcePermission{
			AppID:       session.AppID,
			ResourceID:  g.ResourceID,
			Action:      g.Action,
			ValidFrom:   g.ValidFrom,
			ExpiresAt:   g.ExpiresAt,
			TimeWindow:  g.TimeWindow,
			RateLimit:   g.RateLimit,
			Quota:       g.Quota,
			TokenBudget: g.TokenBudget,
			Constraints: g.Constraints,
			Status:      domain.PermissionActive,
		}
		if err := s.stores.Permissions.Create(ctx, perm); err != nil {
			return fmt.Errorf("creating resource permission: %w", err)
		}
	}

	if err := s.stores.Apps.UpdateStatus(ctx, session.AppID, domain.AppActive); err != nil {
		return fmt.Errorf("activating app: %w", err)
	}

	now := time.Now()
	if err := s.stores.InstallSessions.UpdateStatus(ctx, session.ID, domain.InstallApproved, &now); err != nil {
		return fmt.Errorf("approving install session: %w", err)
	}

	return nil
}

// Deny marks the session DENIED. The PENDING app and its credentials are not
// deleted; the app is flipped to DISABLED since the gateway never hard-deletes an
// app row once created (spec.md §4.3's "delete the PENDING App" is realized
// as a terminal DISABLED state so audit history over app IDs stays intact).
func (s *Service) Deny(ctx context.Context, sessionToken string) error {
	session, err := s.stores.InstallSessions.GetByToken(ctx, sessionToken)
	if err != nil {
		return gatewayerr.InvalidRequest.WithDetails("install session not found")
	}
	if session.Status != domain.InstallPending {
		return gatewayerr.InvalidRequest.WithDetails("install session is no longer pending")
	}

	now := time.Now()
	if err := s.stores.InstallSessions.UpdateStatus(ctx, session.ID, domain.InstallDenied, &now); err != nil {
		return fmt.Errorf("denying install session: %w", err)
	}
	if err := s.stores.Apps.UpdateStatus(ctx, session.AppID, domain.AppDisabled); err != nil {
		return fmt.Errorf("disabling denied app: %w", err)
	}
	return nil
}
