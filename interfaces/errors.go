package interfaces

import "errors"

var (
	// ErrNotFound signals an absent principal, poll, setup or MVK record.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyDone signals a ceremony step that was already completed for
	// the poll. Stores return it on the poll-id uniqueness violation.
	ErrAlreadyDone = errors.New("ceremony step already completed")

	// ErrSetupRequired signals KeyGen attempted before Setup.
	ErrSetupRequired = errors.New("setup must be completed before keygen")

	// ErrNoAuthorities signals KeyGen attempted with an empty authority roster.
	ErrNoAuthorities = errors.New("no authorities assigned to this poll")

	// ErrShareCountMismatch signals the engine returned a share count that
	// does not match the enrolled authority count.
	ErrShareCountMismatch = errors.New("engine share count does not match authority count")

	// ErrDuplicatePrincipal signals a registration that collides with an
	// existing email or identifier digest.
	ErrDuplicatePrincipal = errors.New("principal already registered")

	// ErrInvalidInput signals a malformed request field or record.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized signals a failed authentication or authorization check.
	ErrUnauthorized = errors.New("unauthorized")
)
