// Package auth checks operator credentials and remembers a successful login
// on this machine for a bounded period.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Verifier is a boolean credential check.
type Verifier interface {
	Verify(ctx context.Context, identity, secret string) (bool, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, identity, secret string) (bool, error)

// Verify implements Verifier.
func (f VerifierFunc) Verify(ctx context.Context, identity, secret string) (bool, error) {
	return f(ctx, identity, secret)
}

// BcryptVerifier checks secrets against bcrypt hashes keyed by identity.
// Identities are matched case-insensitively.
type BcryptVerifier struct {
	hashes map[string][]byte
	// decoy is compared against for unknown identities.
	decoy []byte
}

// NewBcryptVerifier validates every hash up front.
func NewBcryptVerifier(users map[string]string) (*BcryptVerifier, error) {
	v := &BcryptVerifier{hashes: make(map[string][]byte, len(users))}
	decoyCost := bcrypt.MinCost
	for id, h := range users {
		id = normalizeIdentity(id)
		if id == "" {
			return nil, errors.New("auth user with empty identity")
		}
		cost, err := bcrypt.Cost([]byte(h))
		if err != nil {
			return nil, fmt.Errorf("auth user %s: %w", id, err)
		}
		decoyCost = max(decoyCost, cost)
		v.hashes[id] = []byte(h)
	}
	decoy, err := bcrypt.GenerateFromPassword([]byte("decoy"), decoyCost)
	if err != nil {
		return nil, err
	}
	v.decoy = decoy
	return v, nil
}

// Verify implements Verifier.
func (v *BcryptVerifier) Verify(ctx context.Context, identity, secret string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	hash, ok := v.hashes[normalizeIdentity(identity)]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(v.decoy, []byte(secret))
		return false, nil
	}
	err := bcrypt.CompareHashAndPassword(hash, []byte(secret))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, err
	}
}

// HashSecret returns a bcrypt hash suitable for the auth.users configuration.
func HashSecret(secret string, cost int) (string, error) {
	if secret == "" {
		return "", errors.New("empty secret")
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func normalizeIdentity(id string) string { return strings.ToLower(strings.TrimSpace(id)) }
