// Package auth implements the two-factor login protocol shared by the
// three principal pools. Registration and login-start/login-verify are
// symmetric across pools; each pool owns an independent passcode store so
// an admin challenge can never satisfy a voter login.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tiacvote/poll-ceremony-backend/cryptoutils"
	"github.com/tiacvote/poll-ceremony-backend/interfaces"
	"github.com/tiacvote/poll-ceremony-backend/otp"
	"github.com/tiacvote/poll-ceremony-backend/session"
)

// Service authenticates principals of all three pools.
type Service struct {
	store  interfaces.Store
	issuer *session.Issuer
	log    *slog.Logger

	pools map[interfaces.Role]*otp.Store
}

// NewService creates the auth service with one fresh passcode store per
// pool.
func NewService(store interfaces.Store, issuer *session.Issuer, log *slog.Logger) *Service {
	return &Service{
		store:  store,
		issuer: issuer,
		log:    log,
		pools: map[interfaces.Role]*otp.Store{
			interfaces.RoleAdmin:     otp.NewStore(otp.DefaultTTL),
			interfaces.RoleVoter:     otp.NewStore(otp.DefaultTTL),
			interfaces.RoleAuthority: otp.NewStore(otp.DefaultTTL),
		},
	}
}

// RegisterAdmin creates an admin account. Raw identifier and phone number
// are digested before they reach the store.
func (s *Service) RegisterAdmin(ctx context.Context, tcNumber, email, phone string) (interfaces.Principal, error) {
	p, err := validatePrincipal(tcNumber, email, phone)
	if err != nil {
		return interfaces.Principal{}, err
	}
	created, err := s.store.CreateAdmin(ctx, p)
	if err != nil {
		return interfaces.Principal{}, err
	}
	s.log.Info("admin registered", "admin_id", created.ID)
	return created, nil
}

// RegisterAuthority creates an authority account with a display name.
func (s *Service) RegisterAuthority(ctx context.Context, tcNumber, email, phone, name string) (interfaces.Principal, error) {
	p, err := validatePrincipal(tcNumber, email, phone)
	if err != nil {
		return interfaces.Principal{}, err
	}
	p.Name = strings.TrimSpace(name)
	if p.Name == "" {
		return interfaces.Principal{}, fmt.Errorf("%w: authority name must not be empty", interfaces.ErrInvalidInput)
	}
	created, err := s.store.CreateAuthority(ctx, p)
	if err != nil {
		return interfaces.Principal{}, err
	}
	s.log.Info("authority registered", "authority_id", created.ID)
	return created, nil
}

func validatePrincipal(tcNumber, email, phone string) (interfaces.Principal, error) {
	tcNumber = strings.TrimSpace(tcNumber)
	email = strings.TrimSpace(email)
	phone = strings.TrimSpace(phone)
	if tcNumber == "" || email == "" || phone == "" {
		return interfaces.Principal{}, fmt.Errorf("%w: tc number, email and phone are required", interfaces.ErrInvalidInput)
	}
	return interfaces.Principal{
		Email:     email,
		TCHash:    cryptoutils.Digest(tcNumber),
		PhoneHash: cryptoutils.Digest(phone),
	}, nil
}

func (s *Service) lookup(ctx context.Context, role interfaces.Role, tcNumber, email string) (interfaces.Principal, error) {
	tcHash := cryptoutils.Digest(strings.TrimSpace(tcNumber))
	email = strings.TrimSpace(email)

	var p interfaces.Principal
	var err error
	switch role {
	case interfaces.RoleAdmin:
		p, err = s.store.AdminByCredentials(ctx, tcHash, email)
	case interfaces.RoleVoter:
		p, err = s.store.VoterByCredentials(ctx, tcHash, email)
	case interfaces.RoleAuthority:
		p, err = s.store.AuthorityByCredentials(ctx, tcHash, email)
	default:
		return interfaces.Principal{}, fmt.Errorf("unknown role %q", role)
	}

	if errors.Is(err, interfaces.ErrNotFound) {
		// No pool membership leaks through the error.
		return interfaces.Principal{}, interfaces.ErrUnauthorized
	}
	return p, err
}

// LoginStart verifies the submitted credentials against the pool and
// issues a fresh two-part passcode challenge, replacing any prior one.
// Delivery is out-of-band; this build writes the codes to the log.
func (s *Service) LoginStart(ctx context.Context, role interfaces.Role, tcNumber, email string) error {
	p, err := s.lookup(ctx, role, tcNumber, email)
	if err != nil {
		return err
	}

	challenge, err := s.pools[role].Start(p.ID)
	if err != nil {
		return fmt.Errorf("could not start challenge: %w", err)
	}

	// Stand-in for the email/SMS gateway; happens outside the store's lock.
	s.log.Info("login passcodes issued",
		"role", role,
		"principal_id", p.ID,
		"email_code", challenge.EmailCode,
		"phone_code", challenge.PhoneCode,
		"expires_at", challenge.ExpiresAt,
	)
	return nil
}

// LoginVerify consumes the outstanding challenge and mints a session token
// bound to the pool's role. Wrong codes leave the challenge consumable;
// expiry and consumption require a fresh LoginStart.
func (s *Service) LoginVerify(ctx context.Context, role interfaces.Role, tcNumber, email, emailCode, phoneCode string) (string, error) {
	p, err := s.lookup(ctx, role, tcNumber, email)
	if err != nil {
		return "", err
	}

	if err := s.pools[role].Verify(p.ID, emailCode, phoneCode); err != nil {
		s.log.Warn("login verification failed", "role", role, "principal_id", p.ID, "reason", err)
		return "", fmt.Errorf("%w: %w", interfaces.ErrUnauthorized, err)
	}

	token, err := s.issuer.Issue(p.ID, role)
	if err != nil {
		return "", err
	}
	s.log.Info("login completed", "role", role, "principal_id", p.ID)
	return token, nil
}

// VerifyToken validates a bearer token for the expected role, returning
// the principal id.
func (s *Service) VerifyToken(token string, expected interfaces.Role) (int64, error) {
	return s.issuer.Verify(token, expected)
}
