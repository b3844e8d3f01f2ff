// Package auth implements the api_key header → team → tenant ownership
// check (spec.md §6 "Authentication"). A key resolves to a team; a
// tenant-scoped route is authorized only if that team owns the tenant.
//
// Open question (spec.md is silent on team provisioning): this engine
// treats the api_key itself as the team identifier — there is no
// separate signup/team-creation flow in scope, so the 128-bit key IS the
// team scope, one level simpler than a dedicated `api_keys` table
// mapping many keys to one team. See DESIGN.md.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/web3-fighter/svm-mock-engine/internal/domain"
	"github.com/web3-fighter/svm-mock-engine/internal/tenant"
)

// ErrMissingAPIKey is returned when the api_key header is absent.
var ErrMissingAPIKey = errors.New("auth: missing api_key header")

// ErrMalformedAPIKey is returned when the header value isn't a 128-bit id.
var ErrMalformedAPIKey = errors.New("auth: malformed api_key header")

// ErrNotOwner is returned when the resolved team does not own the
// requested tenant.
var ErrNotOwner = errors.New("auth: team does not own this blockchain")

// TenantLookup is the narrow store capability Authorize needs.
type TenantLookup interface {
	GetTenant(ctx context.Context, t tenant.ID) (*domain.TenantRecord, error)
}

// Team resolves a raw api_key header value to its team scope.
func Team(apiKey string) (string, error) {
	if apiKey == "" {
		return "", ErrMissingAPIKey
	}
	if _, err := uuid.Parse(apiKey); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedAPIKey, err)
	}
	return apiKey, nil
}

// Authorize resolves apiKey and verifies its team owns t.
func Authorize(ctx context.Context, store TenantLookup, apiKey string, t tenant.ID) error {
	team, err := Team(apiKey)
	if err != nil {
		return err
	}
	rec, err := store.GetTenant(ctx, t)
	if err != nil {
		return err
	}
	if rec.Team != team {
		return ErrNotOwner
	}
	return nil
}
