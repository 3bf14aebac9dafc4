package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"smb-erp/internal/core"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
)

// ChallengeTTL bounds how long a started ceremony can be finished.
const ChallengeTTL = 5 * time.Minute

var ErrChallengeExpired = errors.New("passkey challenge expired or unknown")

// ChallengeStore keeps ceremony session data between begin and finish.
// Take returns and removes the value in one step so a challenge is single use.
type ChallengeStore interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Take(ctx context.Context, key string) ([]byte, error)
}

// CredentialStore is the persistence Passkeys needs from the user service.
type CredentialStore interface {
	GetByID(ctx context.Context, userID int) (*core.User, error)
	AddCredential(ctx context.Context, userID int, cred core.StoredCredential) error
	ListCredentials(ctx context.Context, userID int) ([]core.StoredCredential, error)
	FindCredentialOwner(ctx context.Context, credentialID []byte) (*core.User, error)
	TouchCredential(ctx context.Context, cred core.StoredCredential) error
}

type PasskeyConfig struct {
	RPID          string
	RPDisplayName string
	RPOrigins     []string
}

// Passkeys runs WebAuthn registration and discoverable login ceremonies.
type Passkeys struct {
	wa         *webauthn.WebAuthn
	users      CredentialStore
	challenges ChallengeStore
}

func NewPasskeys(cfg PasskeyConfig, users CredentialStore, challenges ChallengeStore) (*Passkeys, error) {
	wa, err := webauthn.New(&webauthn.Config{
		RPID:          cfg.RPID,
		RPDisplayName: cfg.RPDisplayName,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure webauthn: %w", err)
	}
	return &Passkeys{wa: wa, users: users, challenges: challenges}, nil
}

// passkeyUser adapts core.User to webauthn.User. The user handle is the
// decimal user id.
type passkeyUser struct {
	user  *core.User
	creds []webauthn.Credential
}

func (u *passkeyUser) WebAuthnID() []byte                         { return []byte(strconv.Itoa(u.user.ID)) }
func (u *passkeyUser) WebAuthnName() string                       { return u.user.Username }
func (u *passkeyUser) WebAuthnDisplayName() string                { return u.user.Username }
func (u *passkeyUser) WebAuthnCredentials() []webauthn.Credential { return u.creds }

func (p *Passkeys) loadUser(ctx context.Context, user *core.User) (*passkeyUser, error) {
	stored, err := p.users.ListCredentials(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	pu := &passkeyUser{user: user}
	for _, s := range stored {
		var c webauthn.Credential
		if err := json.Unmarshal(s.Data, &c); err != nil {
			return nil, fmt.Errorf("failed to decode stored credential: %w", err)
		}
		pu.creds = append(pu.creds, c)
	}
	return pu, nil
}

func registrationKey(userID int) string { return "webauthn:register:" + strconv.Itoa(userID) }
func loginKey(id string) string         { return "webauthn:login:" + id }

func (p *Passkeys) saveSession(ctx context.Context, key string, s *webauthn.SessionData) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode webauthn session: %w", err)
	}
	return p.challenges.Put(ctx, key, data, ChallengeTTL)
}

func (p *Passkeys) takeSession(ctx context.Context, key string) (webauthn.SessionData, error) {
	var s webauthn.SessionData
	data, err := p.challenges.Take(ctx, key)
	if err != nil {
		return s, ErrChallengeExpired
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("failed to decode webauthn session: %w", err)
	}
	return s, nil
}

// BeginRegistration starts enrolling a new passkey for an authenticated user.
func (p *Passkeys) BeginRegistration(ctx context.Context, user *core.User) (*protocol.CredentialCreation, error) {
	pu, err := p.loadUser(ctx, user)
	if err != nil {
		return nil, err
	}
	exclude := make([]protocol.CredentialDescriptor, 0, len(pu.creds))
	for _, c := range pu.creds {
		exclude = append(exclude, c.Descriptor())
	}
	creation, session, err := p.wa.BeginRegistration(pu,
		webauthn.WithExclusions(exclude),
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to begin passkey registration: %w", err)
	}
	if err := p.saveSession(ctx, registrationKey(user.ID), session); err != nil {
		return nil, err
	}
	return creation, nil
}

// FinishRegistration verifies the attestation response in body and stores
// the credential.
func (p *Passkeys) FinishRegistration(ctx context.Context, user *core.User, body io.Reader) error {
	session, err := p.takeSession(ctx, registrationKey(user.ID))
	if err != nil {
		return err
	}
	pu, err := p.loadUser(ctx, user)
	if err != nil {
		return err
	}
	parsed, err := protocol.ParseCredentialCreationResponseBody(body)
	if err != nil {
		return fmt.Errorf("passkey registration rejected: %w", err)
	}
	cred, err := p.wa.CreateCredential(pu, session, parsed)
	if err != nil {
		return fmt.Errorf("passkey registration rejected: %w", err)
	}
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}
	return p.users.AddCredential(ctx, user.ID, core.StoredCredential{ID: cred.ID, Data: data})
}

// BeginLogin starts a usernameless login. The returned id must be presented
// again to FinishLogin.
func (p *Passkeys) BeginLogin(ctx context.Context) (*protocol.CredentialAssertion, string, error) {
	assertion, session, err := p.wa.BeginDiscoverableLogin()
	if err != nil {
		return nil, "", fmt.Errorf("failed to begin passkey login: %w", err)
	}
	id := uuid.NewString()
	if err := p.saveSession(ctx, loginKey(id), session); err != nil {
		return nil, "", err
	}
	return assertion, id, nil
}

// FinishLogin verifies the assertion response in body and returns the user
// it belongs to. The stored sign counter is updated.
func (p *Passkeys) FinishLogin(ctx context.Context, sessionID string, body io.Reader) (*core.User, error) {
	session, err := p.takeSession(ctx, loginKey(sessionID))
	if err != nil {
		return nil, err
	}

	var owner *core.User
	resolve := func(rawID, userHandle []byte) (webauthn.User, error) {
		u, err := p.users.FindCredentialOwner(ctx, rawID)
		if err != nil {
			return nil, err
		}
		if string(userHandle) != strconv.Itoa(u.ID) {
			return nil, errors.New("user handle does not match credential owner")
		}
		owner = u
		return p.loadUser(ctx, u)
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(body)
	if err != nil {
		return nil, fmt.Errorf("passkey login rejected: %w", err)
	}
	cred, err := p.wa.ValidateDiscoverableLogin(resolve, session, parsed)
	if err != nil {
		return nil, fmt.Errorf("passkey login rejected: %w", err)
	}
	if cred.Authenticator.CloneWarning {
		return nil, errors.New("passkey login rejected: authenticator may be cloned")
	}
	data, err := json.Marshal(cred)
	if err != nil {
		return nil, fmt.Errorf("failed to encode credential: %w", err)
	}
	if err := p.users.TouchCredential(ctx, core.StoredCredential{ID: cred.ID, Data: data}); err != nil {
		return nil, err
	}
	return owner, nil
}
