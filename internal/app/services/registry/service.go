// Package registry implements the per-collection role registry. Membership
// in ADMIN gates every administrative mutation elsewhere in the engine;
// membership in MINTER gates issuance.
package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/R3E-Network/asset_layer/internal/app/domain/asset"
	"github.com/R3E-Network/asset_layer/internal/app/events"
	"github.com/R3E-Network/asset_layer/internal/app/storage"
	"github.com/R3E-Network/asset_layer/pkg/logger"
)

// Service answers role membership queries and applies admin-gated grants and
// revocations.
type Service struct {
	store   storage.RoleStore
	emitter events.Emitter
	log     *logger.Logger
}

// New constructs a role registry service.
func New(store storage.RoleStore, emitter events.Emitter, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("registry")
	}
	if emitter == nil {
		emitter = events.Discard{}
	}
	return &Service{store: store, emitter: emitter, log: log}
}

// Grant adds principal to the role set. The caller must hold ADMIN on the
// collection.
func (s *Service) Grant(ctx context.Context, caller, collectionID, role, principal string) error {
	role, principal, err := normalize(role, principal)
	if err != nil {
		return err
	}
	if err := s.requireAdmin(ctx, caller, collectionID); err != nil {
		return err
	}
	if err := s.store.GrantRole(ctx, collectionID, role, principal); err != nil {
		return err
	}
	s.emitter.Emit(events.Event{
		Type:         events.RoleGranted,
		CollectionID: collectionID,
		Principal:    principal,
		Detail:       role,
	})
	s.log.WithField("collection", collectionID).
		WithField("role", role).
		WithField("principal", principal).
		Info("role granted")
	return nil
}

// Revoke removes principal from the role set. The caller must hold ADMIN on
// the collection. Revoking the last remaining ADMIN member is not prevented;
// callers that care about lockout must check Members first.
func (s *Service) Revoke(ctx context.Context, caller, collectionID, role, principal string) error {
	role, principal, err := normalize(role, principal)
	if err != nil {
		return err
	}
	if err := s.requireAdmin(ctx, caller, collectionID); err != nil {
		return err
	}
	if err := s.store.RevokeRole(ctx, collectionID, role, principal); err != nil {
		return err
	}
	s.emitter.Emit(events.Event{
		Type:         events.RoleRevoked,
		CollectionID: collectionID,
		Principal:    principal,
		Detail:       role,
	})
	s.log.WithField("collection", collectionID).
		WithField("role", role).
		WithField("principal", principal).
		Info("role revoked")
	return nil
}

// Has reports whether principal holds the role on the collection.
func (s *Service) Has(ctx context.Context, collectionID, role, principal string) (bool, error) {
	return s.store.HasRole(ctx, collectionID, role, principal)
}

// Members lists the principals holding the role on the collection.
func (s *Service) Members(ctx context.Context, collectionID, role string) ([]string, error) {
	return s.store.ListRoleMembers(ctx, collectionID, role)
}

// Bootstrap grants the creator both ADMIN and MINTER without an authorization
// check. It is only called while a collection record is being created.
func (s *Service) Bootstrap(ctx context.Context, collectionID, creator string) error {
	if strings.TrimSpace(creator) == "" {
		return fmt.Errorf("creator is required: %w", asset.ErrInvalidArgument)
	}
	if err := s.store.GrantRole(ctx, collectionID, asset.RoleAdmin, creator); err != nil {
		return err
	}
	return s.store.GrantRole(ctx, collectionID, asset.RoleMinter, creator)
}

func (s *Service) requireAdmin(ctx context.Context, caller, collectionID string) error {
	ok, err := s.store.HasRole(ctx, collectionID, asset.RoleAdmin, caller)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("caller %s lacks %s on collection %s: %w", caller, asset.RoleAdmin, collectionID, asset.ErrUnauthorized)
	}
	return nil
}

func normalize(role, principal string) (string, string, error) {
	role = strings.ToUpper(strings.TrimSpace(role))
	principal = strings.TrimSpace(principal)
	if role != asset.RoleAdmin && role != asset.RoleMinter {
		return "", "", fmt.Errorf("unknown role %q: %w", role, asset.ErrInvalidArgument)
	}
	if principal == "" {
		return "", "", fmt.Errorf("principal is required: %w", asset.ErrInvalidArgument)
	}
	return role, principal, nil
}
