// Package service implements the order lifecycle pipeline: payment intake,
// outbound dispatch, callback intake, the generation orchestrator, and the
// operator-facing order operations.
//
// This file centralizes the error taxonomy so handlers can map failures to
// HTTP codes with errors.Is and no component invents its own variants.
package service

import "errors"

var (
	// ErrAuthentication covers bad, missing, or stale signatures and replayed
	// nonces. Always raised before any state mutation.
	ErrAuthentication = errors.New("authentication failed")

	// ErrNotFound means the referenced order or user does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict means a status precondition failed: the event is stale or
	// a duplicate. Nothing was mutated.
	ErrConflict = errors.New("order status conflict")

	// ErrInvalidPayload means a request body failed structural validation.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrDispatchExhausted means the outbound dispatch ran out of retries.
	// The caller decides whether to fail the order or retry manually.
	ErrDispatchExhausted = errors.New("dispatch exhausted retries")

	// ErrGeneration wraps any failure inside the generation pipeline. By the
	// time it surfaces, the order has already been moved to FAILED with the
	// cause in its error log.
	ErrGeneration = errors.New("generation failed")
)
