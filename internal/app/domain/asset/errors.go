package asset

import "errors"

// Sentinel errors surfaced by the engine. Services wrap these with
// fmt.Errorf("...: %w", ...) so callers can match with errors.Is while the
// message keeps the failing operation's context.
var (
	// ErrUnauthorized signals a failed role or ownership check.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound signals an operation against a missing or burned item, or
	// an unknown collection.
	ErrNotFound = errors.New("not found")

	// ErrCapacityExceeded signals a mint against an exhausted supply cap.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrInvalidState signals a sale-status precondition violation, such as
	// repricing an item whose sale is in progress or purchasing an item that
	// is not listed.
	ErrInvalidState = errors.New("invalid sale state")

	// ErrInsufficientOffer signals a purchase below the listed price.
	ErrInsufficientOffer = errors.New("insufficient offer")

	// ErrTransferNotAuthorized signals a transfer attempted outside an
	// authorized sale or allowlisted-marketplace path.
	ErrTransferNotAuthorized = errors.New("transfer not authorized by sale")

	// ErrDisbursementFailed signals that a settlement payment could not be
	// completed; the triggering transfer is aborted.
	ErrDisbursementFailed = errors.New("disbursement failed")

	// ErrReentrancyRejected signals a nested call into a guarded region
	// while settlement funds are in flight.
	ErrReentrancyRejected = errors.New("reentrant call rejected")

	// ErrInvalidArgument signals malformed input before any state is read.
	ErrInvalidArgument = errors.New("invalid argument")
)
