package pairing

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nightgate/resourcegate/internal/domain"
)

type fakeConnectCodes struct {
	byHash map[string]*domain.ConnectCode
}

func newFakeConnectCodes() *fakeConnectCodes {
	return &fakeConnectCodes{byHash: make(map[string]*domain.ConnectCode)}
}

func (f *fakeConnectCodes) Create(ctx context.Context, cc *domain.ConnectCode) error {
	cc.ID = uuid.New()
	f.byHash[cc.CodeHash] = cc
	return nil
}

func (f *fakeConnectCodes) GetByHash(ctx context.Context, hash string) (*domain.ConnectCode, error) {
	cc, ok := f.byHash[hash]
	if !ok {
		return nil, errNotFound
	}
	cp := *cc
	return &cp, nil
}

func (f *fakeConnectCodes) MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	for _, cc := range f.byHash {
		if cc.ID == id {
			cc.UsedAt = &at
			return nil
		}
	}
	return errNotFound
}

func (f *fakeConnectCodes) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	for k, cc := range f.byHash {
		if cc.ExpiresAt.Before(before) {
			delete(f.byHash, k)
			n++
		}
	}
	return n, nil
}

type fakeInstallSessions struct {
	byToken map[string]*domain.InstallSession
}

func newFakeInstallSessions() *fakeInstallSessions {
	return &fakeInstallSessions{byToken: make(map[string]*domain.InstallSession)}
}

func (f *fakeInstallSessions) Create(ctx context.Context, s *domain.InstallSession) error {
	s.ID = uuid.New()
	f.byToken[s.SessionToken] = s
	return nil
}

func (f *fakeInstallSessions) GetByToken(ctx context.Context, token string) (*domain.InstallSession, error) {
	s, ok := f.byToken[token]
	if !ok {
		return nil, errNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeInstallSessions) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.InstallSessionStatus, completedAt *time.Time) error {
	for _, s := range f.byToken {
		if s.ID == id {
			s.Status = status
			s.CompletedAt = completedAt
			return nil
		}
	}
	return errNotFound
}

func (f *fakeInstallSessions) ExpireStale(ctx context.Context, before time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, s := range f.byToken {
		if s.Status == domain.InstallPending && s.ExpiresAt.Before(before) {
			s.Status = domain.InstallExpired
			ids = append(ids, s.AppID)
		}
	}
	return ids, nil
}

type fakeApps struct {
	byID map[uuid.UUID]*domain.App
}

func newFakeApps() *fakeApps {
	return &fakeApps{byID: make(map[uuid.UUID]*domain.App)}
}

func (f *fakeApps) Create(ctx context.Context, app *domain.App) error {
	app.ID = uuid.New()
	f.byID[app.ID] = app
	return nil
}

func (f *fakeApps) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.AppStatus) error {
	app, ok := f.byID[id]
	if !ok {
		return errNotFound
	}
	app.Status = status
	return nil
}

type fakeCredentials struct{ created []domain.AppCredential }

func (f *fakeCredentials) Create(ctx context.Context, cred *domain.AppCredential) error {
	cred.ID = uuid.New()
	f.created = append(f.created, *cred)
	return nil
}

type fakePermissions struct{ created []domain.ResourcePermission }

func (f *fakePermissions) Create(ctx context.Context, p *domain.ResourcePermission) error {
	p.ID = uuid.New()
	f.created = append(f.created, *p)
	return nil
}

type notFoundError struct{}

func (notFoundError) Error() string { return "not found" }

var errNotFound = notFoundError{}

func newTestService() (*Service, *fakeConnectCodes, *fakeInstallSessions, *fakeApps, *fakeCredentials, *fakePermissions) {
	cc := newFakeConnectCodes()
	is := newFakeInstallSessions()
	apps := newFakeApps()
	creds := &fakeCredentials{}
	perms := &fakePermissions{}
	svc := NewService(Stores{
		ConnectCodes:    cc,
		InstallSessions: is,
		Apps:            apps,
		Credentials:     creds,
		Permissions:     perms,
	}, "https://gw.example.com")
	return svc, cc, is, apps, creds, perms
}

func TestPrepareInstallHappyPath(t *testing.T) {
	svc, cc, is, apps, creds, _ := newTestService()

	code, hash, err := GenerateConnectCode()
	if err != nil {
		t.Fatalf("GenerateConnectCode: %v", err)
	}
	ccRecord := &domain.ConnectCode{CodeHash: hash, ExpiresAt: time.Now().Add(10 * time.Minute)}
	if err := cc.Create(context.Background(), ccRecord); err != nil {
		t.Fatalf("seeding connect code: %v", err)
	}

	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}

	result, err := svc.PrepareInstall(context.Background(), PrepareInstallRequest{
		Code:                 code,
		AppName:              "Test App",
		PublicKey:            pub,
		RequestedPermissions: []domain.RequestedPermission{{ResourceID: "llm:groq", Actions: []string{"chat.completions"}}},
	})
	if err != nil {
		t.Fatalf("PrepareInstall: %v", err)
	}
	if result.SessionToken == "" {
		t.Fatal("expected non-empty session token")
	}
	if len(apps.byID) != 1 {
		t.Fatalf("expected one app created, got %d", len(apps.byID))
	}
	if len(creds.created) != 1 {
		t.Fatalf("expected one credential created, got %d", len(creds.created))
	}
	if len(is.byToken) != 1 {
		t.Fatalf("expected one install session created, got %d", len(is.byToken))
	}
}

func TestPrepareInstallRejectsReusedCode(t *testing.T) {
	svc, cc, _, _, _, _ := newTestService()

	code, hash, _ := GenerateConnectCode()
	usedAt := time.Now().Add(-time.Minute)
	cc.byHash[hash] = &domain.ConnectCode{ID: uuid.New(), CodeHash: hash, ExpiresAt: time.Now().Add(time.Minute), UsedAt: &usedAt}

	pub, _, _ := ed25519.GenerateKey(nil)
	_, err := svc.PrepareInstall(context.Background(), PrepareInstallRequest{Code: code, PublicKey: pub})
	if err == nil {
		t.Fatal("expected error for a connect code already used")
	}
}

func TestApproveActivatesAppAndGrantsPermissions(t *testing.T) {
	svc, _, is, apps, _, perms := newTestService()

	appID := uuid.New()
	apps.byID[appID] = &domain.App{ID: appID, Status: domain.AppPending}
	session := &domain.InstallSession{ID: uuid.New(), AppID: appID, SessionToken: "tok-1", Status: domain.InstallPending, ExpiresAt: time.Now().Add(time.Minute)}
	is.byToken[session.SessionToken] = session

	err := svc.Approve(context.Background(), "tok-1", []domain.GrantedPermission{
		{ResourceID: "llm:groq", Action: "chat.completions", ValidFrom: time.Now()},
	})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}

	if apps.byID[appID].Status != domain.AppActive {
		t.Fatalf("got app status %v want ACTIVE", apps.byID[appID].Status)
	}
	if is.byToken["tok-1"].Status != domain.InstallApproved {
		t.Fatalf("got session status %v want APPROVED", is.byToken["tok-1"].Status)
	}
	if len(perms.created) != 1 {
		t.Fatalf("expected one permission created, got %d", len(perms.created))
	}
}

func TestDenyDisablesAppAndMarksSessionDenied(t *testing.T) {
	svc, _, is, apps, _, _ := newTestService()

	appID := uuid.New()
	apps.byID[appID] = &domain.App{ID: appID, Status: domain.AppPending}
	session := &domain.InstallSession{ID: uuid.New(), AppID: appID, SessionToken: "tok-2", Status: domain.InstallPending, ExpiresAt: time.Now().Add(time.Minute)}
	is.byToken[session.SessionToken] = session

	if err := svc.Deny(context.Background(), "tok-2"); err != nil {
		t.Fatalf("Deny: %v", err)
	}

	if apps.byID[appID].Status != domain.AppDisabled {
		t.Fatalf("got app status %v want DISABLED", apps.byID[appID].Status)
	}
	if is.byToken["tok-2"].Status != domain.InstallDenied {
		t.Fatalf("got session status %v want DENIED", is.byToken["tok-2"].Status)
	}
}

func TestApproveRejectsNonPendingSession(t *testing.T) {
	svc, _, is, _, _, _ := newTestService()

	session := &domain.InstallSession{ID: uuid.New(), SessionToken: "tok-3", Status: domain.InstallDenied, ExpiresAt: time.Now().Add(time.Minute)}
	is.byToken[session.SessionToken] = session

	if err := svc.Approve(context.Background(), "tok-3", nil); err == nil {
		t.Fatal("expected error approving a non-pending session")
	}
}
