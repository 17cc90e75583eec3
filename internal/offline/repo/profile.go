package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/tikaramgahane2k4/khetbook/internal/offline/gateway"
	"github.com/tikaramgahane2k4/khetbook/internal/offline/schema"
)

// Profile reads and updates the signed-in user's profile. The last known
// profile is kept under schema.KeyUserProfile for offline reads.
type Profile struct {
	base
}

// NewProfile creates the profile repository.
func NewProfile(store Store, api API, online Connectivity, logger zerolog.Logger) *Profile {
	return &Profile{base{store: store, api: api, online: online, logger: logger, now: time.Now}}
}

// Me returns the current user. Offline, or when the network fails, it
// falls back to the cached profile and returns ErrOffline when none exists.
func (p *Profile) Me(ctx context.Context) (map[string]any, bool, error) {
	if p.online.Online() {
		env, err := p.call(ctx, http.MethodGet, "/auth/me", nil)
		if err == nil {
			user, err := p.remember(ctx, env.Data)
			return user, false, err
		}
		if !gateway.IsNetwork(err) {
			return nil, false, fmt.Errorf("failed to load profile: %w", err)
		}
		p.logger.Warn().Err(err).Msg("network failed, using cached profile")
	}

	var user map[string]any
	found, err := p.store.KVGet(ctx, schema.KeyUserProfile, &user)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read cached profile: %w", err)
	}
	if !found {
		return nil, true, ErrOffline
	}
	return user, true, nil
}

// Update saves profile changes. It needs the network.
func (p *Profile) Update(ctx context.Context, changes map[string]any) (map[string]any, error) {
	if !p.online.Online() {
		return nil, ErrOffline
	}
	env, err := p.call(ctx, http.MethodPut, "/auth/profile", changes)
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return p.remember(ctx, env.Data)
}

func (p *Profile) remember(ctx context.Context, data json.RawMessage) (map[string]any, error) {
	var user map[string]any
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	if err := p.store.KVSet(ctx, schema.KeyUserProfile, user); err != nil {
		p.logger.Warn().Err(err).Msg("failed to cache profile")
	}
	return user, nil
}
