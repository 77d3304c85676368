package interfaces

import (
	"context"
	"time"
)

// Store is the persistent state of the system: the three principal pools,
// polls with their rosters, and the ceremony records. Implementations must
// enforce uniqueness of poll_setup and poll_mvk rows per poll at the
// storage layer and surface the violation as ErrAlreadyDone; the
// application's pre-checks are advisory only.
//
// All mutation is per-statement atomic; the ceremony sequence is not
// wrapped in a cross-statement transaction.
type Store interface {
	// CreateAdmin registers a new admin. Returns ErrDuplicatePrincipal if
	// the email or identifier digest is already registered.
	CreateAdmin(ctx context.Context, p Principal) (Principal, error)

	// CreateAuthority registers a new authority (with display name).
	CreateAuthority(ctx context.Context, p Principal) (Principal, error)

	// AdminByCredentials looks up an admin by identifier digest and email.
	AdminByCredentials(ctx context.Context, tcHash, email string) (Principal, error)

	// VoterByCredentials looks up a voter by identifier digest and email.
	VoterByCredentials(ctx context.Context, tcHash, email string) (Principal, error)

	// AuthorityByCredentials looks up an authority by identifier digest and email.
	AuthorityByCredentials(ctx context.Context, tcHash, email string) (Principal, error)

	// AuthorityByID looks up an authority by id.
	AuthorityByID(ctx context.Context, id int64) (Principal, error)

	// UpsertVoter inserts a voter or, when the email is already registered,
	// returns the existing record. Email is the natural key.
	UpsertVoter(ctx context.Context, p Principal) (Principal, error)

	// UpsertAuthority inserts an authority or updates the display name of
	// the existing record with the same email.
	UpsertAuthority(ctx context.Context, p Principal) (Principal, error)

	// CreatePoll inserts a poll in draft status.
	CreatePoll(ctx context.Context, title, description string, createdBy int64) (Poll, error)

	// ListPolls returns all polls, newest first.
	ListPolls(ctx context.Context) ([]Poll, error)

	// PollByID returns one poll or ErrNotFound.
	PollByID(ctx context.Context, id int64) (Poll, error)

	// SetPollStatus updates a poll's lifecycle status.
	SetPollStatus(ctx context.Context, id int64, status PollStatus) error

	// AddPollVoter enrolls a voter on a poll roster, insert-or-ignore.
	AddPollVoter(ctx context.Context, pollID, voterID int64) error

	// AddPollAuthority enrolls an authority on a poll roster, insert-or-ignore.
	AddPollAuthority(ctx context.Context, pollID, authorityID int64) error

	// CountPollVoters returns the voter roster size.
	CountPollVoters(ctx context.Context, pollID int64) (int, error)

	// CountPollAuthorities returns the authority roster size.
	CountPollAuthorities(ctx context.Context, pollID int64) (int, error)

	// PollAuthorityIDs returns the enrolled authority ids in ascending
	// order. Share assignment depends on this ordering.
	PollAuthorityIDs(ctx context.Context, pollID int64) ([]int64, error)

	// PollParticipants returns the voter and authority rosters.
	PollParticipants(ctx context.Context, pollID int64) (voters, authorities []Participant, err error)

	// InsertPollSetup persists the Setup record. Returns ErrAlreadyDone if
	// a record already exists for the poll.
	InsertPollSetup(ctx context.Context, setup PollSetup) error

	// PollSetup returns the Setup record or ErrNotFound.
	PollSetup(ctx context.Context, pollID int64) (PollSetup, error)

	// InsertPollMvk persists the KeyGen record. Returns ErrAlreadyDone if a
	// record already exists for the poll.
	InsertPollMvk(ctx context.Context, mvk PollMvk) error

	// PollMvk returns the KeyGen record or ErrNotFound.
	PollMvk(ctx context.Context, pollID int64) (PollMvk, error)

	// SetAuthorityShare writes one authority's key share onto its roster
	// row, exactly once per ceremony.
	SetAuthorityShare(ctx context.Context, pollID, authorityID int64, share AuthorityShare, receivedAt time.Time) error

	// AuthorityKeyRecord returns an authority's own roster row for a poll,
	// or ErrNotFound when the authority is not enrolled.
	AuthorityKeyRecord(ctx context.Context, pollID, authorityID int64) (AuthorityKeyRecord, error)

	// VoterPolls returns active polls the voter is enrolled in, newest first.
	VoterPolls(ctx context.Context, voterID int64) ([]VoterPollView, error)

	// AuthorityPolls returns polls the authority is enrolled in, newest first.
	AuthorityPolls(ctx context.Context, authorityID int64) ([]AuthorityPollView, error)
}
