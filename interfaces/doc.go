/*
Package interfaces defines the shared contract types of the ceremony backend:
principal and poll records, the cryptographic material produced by the
external pairing engine, the persistent store interface, the engine
interface, and the sentinel errors every layer maps its failures onto.

The package deliberately has no dependencies beyond the standard library so
that every other package can import it without cycles. Implementations live
elsewhere: the relational and in-memory stores in package storage, the
HTTP engine client in package engine.

# Error taxonomy

  - ErrNotFound: a principal, poll, setup or MVK record is absent.
  - ErrAlreadyDone: a ceremony step was already completed for the poll.
    Both stores enforce this with a uniqueness constraint on the poll id;
    the constraint violation, not a prior read, is the authoritative signal.
  - ErrSetupRequired, ErrNoAuthorities: ceremony ordering guards, reported
    as client errors.
  - ErrShareCountMismatch: the engine returned a different number of key
    shares than there are enrolled authorities; the ceremony fails
    atomically rather than under-provisioning.
  - ErrDuplicatePrincipal: registration collided with an existing email or
    national-identifier digest.
  - ErrInvalidInput: a malformed request field; for bulk enrollment,
    malformed rows are skipped and counted rather than failing the batch.
  - ErrUnauthorized: bad or expired token, or failed OTP verification.
*/
package interfaces
