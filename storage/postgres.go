package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/tiacvote/poll-ceremony-backend/interfaces"
)

// uniqueViolation is the Postgres error code for a uniqueness constraint
// violation; it is the authoritative AlreadyDone/duplicate signal.
const uniqueViolation = "23505"

// PostgresStore implements interfaces.Store on PostgreSQL via lib/pq.
type PostgresStore struct {
	db  *sql.DB
	log *slog.Logger
}

// NewPostgresStore wraps an open database handle. Call CreateSchema before
// first use on a fresh database.
func NewPostgresStore(db *sql.DB, log *slog.Logger) *PostgresStore {
	return &PostgresStore{db: db, log: log}
}

// CreateSchema creates all tables. Safe to call repeatedly.
func (s *PostgresStore) CreateSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS admins (
    id BIGSERIAL PRIMARY KEY,
    tc_hash TEXT NOT NULL UNIQUE,
    email TEXT NOT NULL UNIQUE,
    phone_hash TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS voters (
    id BIGSERIAL PRIMARY KEY,
    tc_hash TEXT NOT NULL,
    email TEXT NOT NULL UNIQUE,
    phone_hash TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS authorities (
    id BIGSERIAL PRIMARY KEY,
    tc_hash TEXT NOT NULL,
    email TEXT NOT NULL UNIQUE,
    phone_hash TEXT NOT NULL,
    name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS polls (
    id BIGSERIAL PRIMARY KEY,
    title TEXT NOT NULL,
    description TEXT,
    created_by BIGINT NOT NULL REFERENCES admins(id),
    status TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft', 'active', 'closed')),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    started_at TIMESTAMPTZ,
    ended_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS poll_voters (
    poll_id BIGINT NOT NULL REFERENCES polls(id),
    voter_id BIGINT NOT NULL REFERENCES voters(id),
    has_voted BOOLEAN NOT NULL DEFAULT FALSE,
    voted_at TIMESTAMPTZ,
    PRIMARY KEY (poll_id, voter_id)
);

CREATE TABLE IF NOT EXISTS poll_authorities (
    poll_id BIGINT NOT NULL REFERENCES polls(id),
    authority_id BIGINT NOT NULL REFERENCES authorities(id),
    sgk1 TEXT,
    sgk2 TEXT,
    vkm1 TEXT,
    vkm2 TEXT,
    vkm3 TEXT,
    keys_received_at TIMESTAMPTZ,
    PRIMARY KEY (poll_id, authority_id)
);

-- The UNIQUE poll_id below converts the ceremony's check-then-act race
-- into a reliably observable conflict.
CREATE TABLE IF NOT EXISTS poll_setup (
    id BIGSERIAL PRIMARY KEY,
    poll_id BIGINT NOT NULL UNIQUE REFERENCES polls(id),
    pairing_param TEXT NOT NULL,
    prime_order TEXT NOT NULL,
    g1 TEXT NOT NULL,
    g2 TEXT NOT NULL,
    h1 TEXT NOT NULL,
    security_level INT NOT NULL,
    setup_by BIGINT NOT NULL REFERENCES admins(id),
    setup_completed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS poll_mvk (
    id BIGSERIAL PRIMARY KEY,
    poll_id BIGINT NOT NULL UNIQUE REFERENCES polls(id),
    alpha2 TEXT NOT NULL,
    beta2 TEXT NOT NULL,
    beta1 TEXT NOT NULL,
    threshold INT NOT NULL,
    total_authorities INT NOT NULL,
    generated_by BIGINT NOT NULL REFERENCES admins(id),
    generated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// CreateAdmin registers a new admin.
func (s *PostgresStore) CreateAdmin(ctx context.Context, p interfaces.Principal) (interfaces.Principal, error) {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO admins (tc_hash, email, phone_hash) VALUES ($1, $2, $3) RETURNING id`,
		p.TCHash, p.Email, p.PhoneHash,
	).Scan(&p.ID)
	if isUniqueViolation(err) {
		return interfaces.Principal{}, interfaces.ErrDuplicatePrincipal
	}
	if err != nil {
		return interfaces.Principal{}, fmt.Errorf("failed to create admin: %w", err)
	}
	return p, nil
}

// CreateAuthority registers a new authority.
func (s *PostgresStore) CreateAuthority(ctx context.Context, p interfaces.Principal) (interfaces.Principal, error) {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO authorities (tc_hash, email, phone_hash, name) VALUES ($1, $2, $3, $4) RETURNING id`,
		p.TCHash, p.Email, p.PhoneHash, p.Name,
	).Scan(&p.ID)
	if isUniqueViolation(err) {
		return interfaces.Principal{}, interfaces.ErrDuplicatePrincipal
	}
	if err != nil {
		return interfaces.Principal{}, fmt.Errorf("failed to create authority: %w", err)
	}
	return p, nil
}

// AdminByCredentials looks up an admin by identifier digest and email.
func (s *PostgresStore) AdminByCredentials(ctx context.Context, tcHash, email string) (interfaces.Principal, error) {
	p := interfaces.Principal{TCHash: tcHash, Email: email}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, phone_hash FROM admins WHERE tc_hash = $1 AND email = $2`,
		tcHash, email,
	).Scan(&p.ID, &p.PhoneHash)
	if errors.Is(err, sql.ErrNoRows) {
		return interfaces.Principal{}, interfaces.ErrNotFound
	}
	if err != nil {
		return interfaces.Principal{}, err
	}
	return p, nil
}

// VoterByCredentials looks up a voter by identifier digest and email.
func (s *PostgresStore) VoterByCredentials(ctx context.Context, tcHash, email string) (interfaces.Principal, error) {
	p := interfaces.Principal{TCHash: tcHash, Email: email}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, phone_hash FROM voters WHERE tc_hash = $1 AND email = $2`,
		tcHash, email,
	).Scan(&p.ID, &p.PhoneHash)
	if errors.Is(err, sql.ErrNoRows) {
		return interfaces.Principal{}, interfaces.ErrNotFound
	}
	if err != nil {
		return interfaces.Principal{}, err
	}
	return p, nil
}

// AuthorityByCredentials looks up an authority by identifier digest and email.
func (s *PostgresStore) AuthorityByCredentials(ctx context.Context, tcHash, email string) (interfaces.Principal, error) {
	p := interfaces.Principal{TCHash: tcHash, Email: email}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, phone_hash, name FROM authorities WHERE tc_hash = $1 AND email = $2`,
		tcHash, email,
	).Scan(&p.ID, &p.PhoneHash, &p.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return interfaces.Principal{}, interfaces.ErrNotFound
	}
	if err != nil {
		return interfaces.Principal{}, err
	}
	return p, nil
}

// AuthorityByID looks up an authority by id.
func (s *PostgresStore) AuthorityByID(ctx context.Context, id int64) (interfaces.Principal, error) {
	p := interfaces.Principal{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT email, tc_hash, phone_hash, name FROM authorities WHERE id = $1`, id,
	).Scan(&p.Email, &p.TCHash, &p.PhoneHash, &p.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return interfaces.Principal{}, interfaces.ErrNotFound
	}
	if err != nil {
		return interfaces.Principal{}, err
	}
	return p, nil
}

// UpsertVoter inserts a voter or returns the existing record for the email.
func (s *PostgresStore) UpsertVoter(ctx context.Context, p interfaces.Principal) (interfaces.Principal, error) {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO voters (tc_hash, email, phone_hash) VALUES ($1, $2, $3)
		 ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		 RETURNING id, tc_hash, phone_hash`,
		p.TCHash, p.Email, p.PhoneHash,
	).Scan(&p.ID, &p.TCHash, &p.PhoneHash)
	if err != nil {
		return interfaces.Principal{}, fmt.Errorf("failed to upsert voter: %w", err)
	}
	return p, nil
}

// UpsertAuthority inserts an authority or updates the display name of the
// existing record for the email.
func (s *PostgresStore) UpsertAuthority(ctx context.Context, p interfaces.Principal) (interfaces.Principal, error) {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO authorities (tc_hash, email, phone_hash, name) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id, tc_hash, phone_hash, name`,
		p.TCHash, p.Email, p.PhoneHash, p.Name,
	).Scan(&p.ID, &p.TCHash, &p.PhoneHash, &p.Name)
	if err != nil {
		return interfaces.Principal{}, fmt.Errorf("failed to upsert authority: %w", err)
	}
	return p, nil
}

// CreatePoll inserts a poll in draft status.
func (s *PostgresStore) CreatePoll(ctx context.Context, title, description string, createdBy int64) (interfaces.Poll, error) {
	poll := interfaces.Poll{
		Title:       title,
		Description: description,
		CreatedBy:   createdBy,
		Status:      interfaces.PollDraft,
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO polls (title, description, created_by, status) VALUES ($1, $2, $3, 'draft')
		 RETURNING id, created_at`,
		title, description, createdBy,
	).Scan(&poll.ID, &poll.CreatedAt)
	if err != nil {
		return interfaces.Poll{}, fmt.Errorf("failed to create poll: %w", err)
	}
	return poll, nil
}

func scanPoll(row interface{ Scan(...any) error }) (interfaces.Poll, error) {
	var poll interfaces.Poll
	var description sql.NullString
	err := row.Scan(&poll.ID, &poll.Title, &description, &poll.CreatedBy, &poll.Status,
		&poll.CreatedAt, &poll.StartedAt, &poll.EndedAt)
	if err != nil {
		return interfaces.Poll{}, err
	}
	poll.Description = description.String
	return poll, nil
}

const pollColumns = `id, title, description, created_by, status, created_at, started_at, ended_at`

// ListPolls returns all polls, newest first.
func (s *PostgresStore) ListPolls(ctx context.Context) ([]interfaces.Poll, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pollColumns+` FROM polls ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var polls []interfaces.Poll
	for rows.Next() {
		poll, err := scanPoll(rows)
		if err != nil {
			return nil, err
		}
		polls = append(polls, poll)
	}
	return polls, rows.Err()
}

// PollByID returns one poll or ErrNotFound.
func (s *PostgresStore) PollByID(ctx context.Context, id int64) (interfaces.Poll, error) {
	poll, err := scanPoll(s.db.QueryRowContext(ctx,
		`SELECT `+pollColumns+` FROM polls WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return interfaces.Poll{}, interfaces.ErrNotFound
	}
	return poll, err
}

// SetPollStatus updates a poll's lifecycle status; the first transition to
// active also stamps started_at.
func (s *PostgresStore) SetPollStatus(ctx context.Context, id int64, status interfaces.PollStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE polls SET status = $1,
		        started_at = CASE WHEN $1 = 'active' AND started_at IS NULL THEN NOW() ELSE started_at END
		 WHERE id = $2`,
		string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update poll status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

// AddPollVoter enrolls a voter on a poll roster, insert-or-ignore.
func (s *PostgresStore) AddPollVoter(ctx context.Context, pollID, voterID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO poll_voters (poll_id, voter_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		pollID, voterID)
	return err
}

// AddPollAuthority enrolls an authority on a poll roster, insert-or-ignore.
func (s *PostgresStore) AddPollAuthority(ctx context.Context, pollID, authorityID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO poll_authorities (poll_id, authority_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		pollID, authorityID)
	return err
}

// CountPollVoters returns the voter roster size.
func (s *PostgresStore) CountPollVoters(ctx context.Context, pollID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM poll_voters WHERE poll_id = $1`, pollID).Scan(&n)
	return n, err
}

// CountPollAuthorities returns the authority roster size.
func (s *PostgresStore) CountPollAuthorities(ctx context.Context, pollID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM poll_authorities WHERE poll_id = $1`, pollID).Scan(&n)
	return n, err
}

// PollAuthorityIDs returns the enrolled authority ids in ascending order.
func (s *PostgresStore) PollAuthorityIDs(ctx context.Context, pollID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT authority_id FROM poll_authorities WHERE poll_id = $1 ORDER BY authority_id`, pollID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PollParticipants returns the voter and authority rosters.
func (s *PostgresStore) PollParticipants(ctx context.Context, pollID int64) ([]interfaces.Participant, []interfaces.Participant, error) {
	voterRows, err := s.db.QueryContext(ctx,
		`SELECT v.id, v.email FROM voters v
		 JOIN poll_voters pv ON v.id = pv.voter_id
		 WHERE pv.poll_id = $1 ORDER BY v.id`, pollID)
	if err != nil {
		return nil, nil, err
	}
	defer voterRows.Close()

	var voters []interfaces.Participant
	for voterRows.Next() {
		var p interfaces.Participant
		if err := voterRows.Scan(&p.ID, &p.Email); err != nil {
			return nil, nil, err
		}
		voters = append(voters, p)
	}
	if err := voterRows.Err(); err != nil {
		return nil, nil, err
	}

	authorityRows, err := s.db.QueryContext(ctx,
		`SELECT a.id, a.email, a.name FROM authorities a
		 JOIN poll_authorities pa ON a.id = pa.authority_id
		 WHERE pa.poll_id = $1 ORDER BY a.id`, pollID)
	if err != nil {
		return nil, nil, err
	}
	defer authorityRows.Close()

	var authorities []interfaces.Participant
	for authorityRows.Next() {
		var p interfaces.Participant
		if err := authorityRows.Scan(&p.ID, &p.Email, &p.Name); err != nil {
			return nil, nil, err
		}
		authorities = append(authorities, p)
	}
	return voters, authorities, authorityRows.Err()
}

// InsertPollSetup persists the Setup record; the poll_id uniqueness
// constraint turns a concurrent duplicate into ErrAlreadyDone.
func (s *PostgresStore) InsertPollSetup(ctx context.Context, setup interfaces.PollSetup) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO poll_setup (poll_id, pairing_param, prime_order, g1, g2, h1, security_level, setup_by, setup_completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		setup.PollID, setup.Params.PairingParam, setup.Params.PrimeOrder,
		setup.Params.G1, setup.Params.G2, setup.Params.H1,
		setup.Params.SecurityLevel, setup.SetupBy, setup.CompletedAt)
	if isUniqueViolation(err) {
		return interfaces.ErrAlreadyDone
	}
	if err != nil {
		return fmt.Errorf("failed to store setup: %w", err)
	}
	return nil
}

// PollSetup returns the Setup record or ErrNotFound.
func (s *PostgresStore) PollSetup(ctx context.Context, pollID int64) (interfaces.PollSetup, error) {
	setup := interfaces.PollSetup{PollID: pollID}
	err := s.db.QueryRowContext(ctx,
		`SELECT pairing_param, prime_order, g1, g2, h1, security_level, setup_by, setup_completed_at
		 FROM poll_setup WHERE poll_id = $1`, pollID,
	).Scan(&setup.Params.PairingParam, &setup.Params.PrimeOrder,
		&setup.Params.G1, &setup.Params.G2, &setup.Params.H1,
		&setup.Params.SecurityLevel, &setup.SetupBy, &setup.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return interfaces.PollSetup{}, interfaces.ErrNotFound
	}
	return setup, err
}

// InsertPollMvk persists the KeyGen record; the poll_id uniqueness
// constraint turns a concurrent duplicate into ErrAlreadyDone.
func (s *PostgresStore) InsertPollMvk(ctx context.Context, mvk interfaces.PollMvk) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO poll_mvk (poll_id, alpha2, beta2, beta1, threshold, total_authorities, generated_by, generated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		mvk.PollID, mvk.MVK.Alpha2, mvk.MVK.Beta2, mvk.MVK.Beta1,
		mvk.Threshold, mvk.TotalAuthorities, mvk.GeneratedBy, mvk.GeneratedAt)
	if isUniqueViolation(err) {
		return interfaces.ErrAlreadyDone
	}
	if err != nil {
		return fmt.Errorf("failed to store mvk: %w", err)
	}
	return nil
}

// PollMvk returns the KeyGen record or ErrNotFound.
func (s *PostgresStore) PollMvk(ctx context.Context, pollID int64) (interfaces.PollMvk, error) {
	mvk := interfaces.PollMvk{PollID: pollID}
	err := s.db.QueryRowContext(ctx,
		`SELECT alpha2, beta2, beta1, threshold, total_authorities, generated_by, generated_at
		 FROM poll_mvk WHERE poll_id = $1`, pollID,
	).Scan(&mvk.MVK.Alpha2, &mvk.MVK.Beta2, &mvk.MVK.Beta1,
		&mvk.Threshold, &mvk.TotalAuthorities, &mvk.GeneratedBy, &mvk.GeneratedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return interfaces.PollMvk{}, interfaces.ErrNotFound
	}
	return mvk, err
}

// SetAuthorityShare writes one authority's key share onto its roster row.
func (s *PostgresStore) SetAuthorityShare(ctx context.Context, pollID, authorityID int64, share interfaces.AuthorityShare, receivedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE poll_authorities
		 SET sgk1 = $1, sgk2 = $2, vkm1 = $3, vkm2 = $4, vkm3 = $5, keys_received_at = $6
		 WHERE poll_id = $7 AND authority_id = $8`,
		share.SGK1, share.SGK2, share.VKM1, share.VKM2, share.VKM3,
		receivedAt, pollID, authorityID)
	if err != nil {
		return fmt.Errorf("failed to store authority share: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

// AuthorityKeyRecord returns an authority's own roster row for a poll.
func (s *PostgresStore) AuthorityKeyRecord(ctx context.Context, pollID, authorityID int64) (interfaces.AuthorityKeyRecord, error) {
	record := interfaces.AuthorityKeyRecord{PollID: pollID, AuthorityID: authorityID}
	var sgk1, sgk2, vkm1, vkm2, vkm3 sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT sgk1, sgk2, vkm1, vkm2, vkm3, keys_received_at
		 FROM poll_authorities WHERE poll_id = $1 AND authority_id = $2`,
		pollID, authorityID,
	).Scan(&sgk1, &sgk2, &vkm1, &vkm2, &vkm3, &record.KeysReceivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return interfaces.AuthorityKeyRecord{}, interfaces.ErrNotFound
	}
	if err != nil {
		return interfaces.AuthorityKeyRecord{}, err
	}

	if sgk1.Valid {
		record.Share = &interfaces.AuthorityShare{
			SGK1: sgk1.String,
			SGK2: sgk2.String,
			VKM1: vkm1.String,
			VKM2: vkm2.String,
			VKM3: vkm3.String,
		}
	}
	return record, nil
}

// VoterPolls returns active polls the voter is enrolled in, newest first.
func (s *PostgresStore) VoterPolls(ctx context.Context, voterID int64) ([]interfaces.VoterPollView, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.title, p.description, p.created_by, p.status, p.created_at, p.started_at, p.ended_at,
		        pv.has_voted, pv.voted_at
		 FROM polls p
		 JOIN poll_voters pv ON p.id = pv.poll_id
		 WHERE pv.voter_id = $1 AND p.status = 'active'
		 ORDER BY p.created_at DESC, p.id DESC`, voterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var views []interfaces.VoterPollView
	for rows.Next() {
		var v interfaces.VoterPollView
		var description sql.NullString
		if err := rows.Scan(&v.ID, &v.Title, &description, &v.CreatedBy, &v.Status,
			&v.CreatedAt, &v.StartedAt, &v.EndedAt, &v.HasVoted, &v.VotedAt); err != nil {
			return nil, err
		}
		v.Description = description.String
		views = append(views, v)
	}
	return views, rows.Err()
}

// AuthorityPolls returns polls the authority is enrolled in, newest first.
func (s *PostgresStore) AuthorityPolls(ctx context.Context, authorityID int64) ([]interfaces.AuthorityPollView, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.title, p.description, p.created_by, p.status, p.created_at, p.started_at, p.ended_at,
		        pa.keys_received_at
		 FROM polls p
		 JOIN poll_authorities pa ON p.id = pa.poll_id
		 WHERE pa.authority_id = $1
		 ORDER BY p.created_at DESC, p.id DESC`, authorityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var views []interfaces.AuthorityPollView
	for rows.Next() {
		var v interfaces.AuthorityPollView
		var description sql.NullString
		if err := rows.Scan(&v.ID, &v.Title, &description, &v.CreatedBy, &v.Status,
			&v.CreatedAt, &v.StartedAt, &v.EndedAt, &v.KeysReceivedAt); err != nil {
			return nil, err
		}
		v.Description = description.String
		views = append(views, v)
	}
	return views, rows.Err()
}
