package market

import "errors"

// Domain errors returned by the engine. The API layer maps each to a stable
// error code and HTTP status.
var (
	// ErrRoundNotOpen is returned when an order arrives and no round is
	// accepting orders (none open, or the window has already passed).
	ErrRoundNotOpen = errors.New("market: round not open")

	// ErrRoundNotClosed is returned when settlement is requested for a
	// round that has not closed yet.
	ErrRoundNotClosed = errors.New("market: round not closed")

	// ErrInvalidQuantity is returned for negative order quantities.
	ErrInvalidQuantity = errors.New("market: invalid quantity")

	// ErrUnknownOwner is returned when the owner id is not registered.
	ErrUnknownOwner = errors.New("market: unknown owner")
)
