package library

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const maxUsernameLen = 50

// RegisterUser creates a regular user and issues its session token.
func (s *Service) RegisterUser(ctx context.Context, username string) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" || utf8.RuneCountInString(username) > maxUsernameLen {
		return User{}, ErrResponseUserEntryBlankFields
	}

	u, err := s.repo.CreateUser(ctx, User{
		Username:  username,
		Token:     uuid.NewString(),
		CreatedAt: s.now().UTC().Round(time.Millisecond),
	})
	if err != nil {
		return User{}, unwrapOutcome(classify(err))
	}
	return u, nil
}

// EnsureSuperuser makes sure a privileged user with the given token exists.
// It is safe to call on every start.
func (s *Service) EnsureSuperuser(ctx context.Context, username, token string) (User, error) {
	if username == "" || token == "" {
		return User{}, ErrResponseUserEntryBlankFields
	}

	u, err := s.repo.GetUserByToken(ctx, token)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrResponseUserNotFound) {
		return User{}, unwrapOutcome(classify(fmt.Errorf("searching superuser: %w", err)))
	}

	u, err = s.repo.CreateUser(ctx, User{
		Username:    username,
		IsSuperuser: true,
		Token:       token,
		CreatedAt:   s.now().UTC().Round(time.Millisecond),
	})
	if err != nil {
		return User{}, unwrapOutcome(classify(fmt.Errorf("creating superuser: %w", err)))
	}
	return u, nil
}

// ResolveIdentity maps a session token to the caller's identity.
func (s *Service) ResolveIdentity(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrResponseUnauthenticated
	}

	u, err := s.repo.GetUserByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrResponseUserNotFound) {
			return Identity{}, ErrResponseUnauthenticated
		}
		return Identity{}, unwrapOutcome(classify(err))
	}
	return Identity{UserID: u.ID, Privileged: u.IsSuperuser}, nil
}
