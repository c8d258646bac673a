// Package settlement holds the royalty configuration and splits sale
// proceeds between the royalty recipient and the seller. Disbursement is a
// boundary: the Disburser may hand control to arbitrary external logic, so
// callers wrap settlement in the reentrancy guard.
package settlement

import (
	"context"
	"fmt"
	"math/bits"
	"strings"

	"github.com/R3E-Network/asset_layer/internal/app/domain/asset"
	"github.com/R3E-Network/asset_layer/internal/app/events"
	"github.com/R3E-Network/asset_layer/internal/app/storage"
	"github.com/R3E-Network/asset_layer/pkg/logger"
)

// Disburser moves funds to a recipient. Implementations may execute
// arbitrary recipient-side logic before returning.
type Disburser interface {
	Disburse(ctx context.Context, recipient string, amount uint64) error
}

// Reclaimer is implemented by disbursers that can take a completed payment
// back. Settle uses it to unwind the royalty leg when the seller leg fails.
type Reclaimer interface {
	Reclaim(ctx context.Context, recipient string, amount uint64) error
}

// RoleChecker answers role membership queries.
type RoleChecker interface {
	Has(ctx context.Context, collectionID, role, principal string) (bool, error)
}

// Service manages royalty configuration and performs sale settlement.
type Service struct {
	collections storage.CollectionStore
	roles       RoleChecker
	disburser   Disburser
	emitter     events.Emitter
	log         *logger.Logger
}

// New constructs a settlement service.
func New(collections storage.CollectionStore, roles RoleChecker, disburser Disburser, emitter events.Emitter, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("settlement")
	}
	if emitter == nil {
		emitter = events.Discard{}
	}
	return &Service{
		collections: collections,
		roles:       roles,
		disburser:   disburser,
		emitter:     emitter,
		log:         log,
	}
}

// SetRoyalty stores the royalty recipient and rate for a collection. The
// caller must hold ADMIN; the recipient must be non-empty and the rate is
// capped at 10000 basis points.
func (s *Service) SetRoyalty(ctx context.Context, caller, collectionID, recipient string, bps uint64) error {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return fmt.Errorf("royalty recipient is required: %w", asset.ErrInvalidArgument)
	}
	if bps > asset.BpsDenominator {
		return fmt.Errorf("royalty rate %d exceeds %d bps: %w", bps, asset.BpsDenominator, asset.ErrInvalidArgument)
	}
	ok, err := s.roles.Has(ctx, collectionID, asset.RoleAdmin, caller)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("caller %s lacks %s on collection %s: %w", caller, asset.RoleAdmin, collectionID, asset.ErrUnauthorized)
	}

	col, err := s.collections.GetCollection(ctx, collectionID)
	if err != nil {
		return err
	}
	col.RoyaltyRecipient = recipient
	col.RoyaltyBps = bps
	if _, err := s.collections.UpdateCollection(ctx, col); err != nil {
		return err
	}

	s.emitter.Emit(events.Event{
		Type:         events.RoyaltyChanged,
		CollectionID: collectionID,
		Principal:    recipient,
		Amount:       bps,
	})
	s.log.WithField("collection", collectionID).
		WithField("recipient", recipient).
		WithField("bps", bps).
		Info("royalty configuration changed")
	return nil
}

// Royalty returns the configured recipient and rate for a collection.
func (s *Service) Royalty(ctx context.Context, collectionID string) (string, uint64, error) {
	col, err := s.collections.GetCollection(ctx, collectionID)
	if err != nil {
		return "", 0, err
	}
	return col.RoyaltyRecipient, col.RoyaltyBps, nil
}

// Split computes the royalty cut for a total amount at the given rate. The
// two legs always sum to total. The product is carried in 128 bits so large
// totals cannot wrap; rates above the denominator are clamped to it.
func Split(total, bps uint64) (royalty, seller uint64) {
	if bps > asset.BpsDenominator {
		bps = asset.BpsDenominator
	}
	hi, lo := bits.Mul64(total, bps)
	royalty, _ = bits.Div64(hi, lo, asset.BpsDenominator)
	return royalty, total - royalty
}

// Unsettle takes back both legs of a completed settlement, seller leg first.
// The disburser must implement Reclaimer.
func (s *Service) Unsettle(ctx context.Context, collectionID string, royaltyAmt, sellerAmt uint64, seller string) error {
	rc, ok := s.disburser.(Reclaimer)
	if !ok {
		return fmt.Errorf("disburser for collection %s cannot reclaim payments: %w", collectionID, asset.ErrDisbursementFailed)
	}
	if sellerAmt > 0 {
		if err := rc.Reclaim(ctx, seller, sellerAmt); err != nil {
			return fmt.Errorf("reclaim seller leg from %s: %v: %w", seller, err, asset.ErrDisbursementFailed)
		}
	}
	if royaltyAmt == 0 {
		return nil
	}
	col, err := s.collections.GetCollection(ctx, collectionID)
	if err != nil {
		return err
	}
	if err := rc.Reclaim(ctx, col.RoyaltyRecipient, royaltyAmt); err != nil {
		return fmt.Errorf("reclaim royalty leg from %s: %v: %w", col.RoyaltyRecipient, err, asset.ErrDisbursementFailed)
	}
	return nil
}

// Settle splits total between the collection's royalty recipient and the
// seller and disburses both legs. Either leg failing aborts the settlement
// with ErrDisbursementFailed and no partial payment: the royalty leg is paid
// first and refunded if the seller leg cannot complete.
func (s *Service) Settle(ctx context.Context, collectionID string, total uint64, seller string) (uint64, uint64, error) {
	col, err := s.collections.GetCollection(ctx, collectionID)
	if err != nil {
		return 0, 0, err
	}

	royaltyAmt, sellerAmt := Split(total, col.RoyaltyBps)
	if royaltyAmt > 0 && col.RoyaltyRecipient == "" {
		return 0, 0, fmt.Errorf("royalty recipient not configured for collection %s: %w", collectionID, asset.ErrDisbursementFailed)
	}

	if royaltyAmt > 0 {
		if err := s.disburser.Disburse(ctx, col.RoyaltyRecipient, royaltyAmt); err != nil {
			return 0, 0, fmt.Errorf("royalty leg to %s: %v: %w", col.RoyaltyRecipient, err, asset.ErrDisbursementFailed)
		}
	}
	if sellerAmt > 0 {
		if err := s.disburser.Disburse(ctx, seller, sellerAmt); err != nil {
			if royaltyAmt > 0 {
				if rc, ok := s.disburser.(Reclaimer); ok {
					if reclaimErr := rc.Reclaim(ctx, col.RoyaltyRecipient, royaltyAmt); reclaimErr != nil {
						s.log.WithError(reclaimErr).
							WithField("collection", collectionID).
							Warn("could not reclaim royalty leg after failed seller leg")
					}
				}
			}
			return 0, 0, fmt.Errorf("seller leg to %s: %v: %w", seller, err, asset.ErrDisbursementFailed)
		}
	}

	s.log.WithField("collection", collectionID).
		WithField("total", total).
		WithField("royalty", royaltyAmt).
		WithField("seller_amount", sellerAmt).
		Info("sale settled")
	return royaltyAmt, sellerAmt, nil
}
