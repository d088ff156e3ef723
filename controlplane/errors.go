package controlplane

import "errors"

var (
	ErrNotFound     = errors.New("controlplane: not found")
	ErrConflict     = errors.New("controlplane: resource conflict")
	ErrInvalidInput = errors.New("controlplane: invalid input")

	// ErrUnavailable indicates a handle could not be opened or a query round
	// trip failed. Callers own the retry policy, so every store-level failure
	// maps onto this sentinel. store.ErrUnavailable aliases it.
	ErrUnavailable = errors.New("controlplane: store unavailable")
)
