// Package polls implements the poll lifecycle around the key ceremony:
// creation, listing, roster enrollment from CSV uploads, and the per-role
// poll views served to admins, voters, and authorities.
package polls

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/tiacvote/poll-ceremony-backend/ceremony"
	"github.com/tiacvote/poll-ceremony-backend/cryptoutils"
	"github.com/tiacvote/poll-ceremony-backend/interfaces"
)

// Manager owns all poll reads and writes that are not ceremony steps.
type Manager struct {
	store interfaces.Store
	log   *slog.Logger
}

// NewManager creates a poll manager on top of a store.
func NewManager(store interfaces.Store, log *slog.Logger) *Manager {
	return &Manager{store: store, log: log}
}

// Summary is a poll augmented with roster sizes and ceremony progress.
type Summary struct {
	interfaces.Poll
	VoterCount     int  `json:"voter_count"`
	AuthorityCount int  `json:"authority_count"`
	SetupDone      bool `json:"setup_done"`
	KeygenDone     bool `json:"keygen_done"`
}

// Details is the admin detail view: the summary plus the threshold that the
// current authority roster would require.
type Details struct {
	Summary
	Threshold int `json:"threshold"`
}

// EnrollResult reports the outcome of a CSV enrollment upload.
type EnrollResult struct {
	VotersAdded        int `json:"voters_added"`
	VotersSkipped      int `json:"voters_skipped"`
	AuthoritiesAdded   int `json:"authorities_added"`
	AuthoritiesSkipped int `json:"authorities_skipped"`
	TotalVoters        int `json:"total_voters"`
	TotalAuthorities   int `json:"total_authorities"`

	// Threshold is recomputed from the post-upload authority roster.
	Threshold int `json:"threshold"`
}

// AuthorityKeys is the authority's own key view for one poll: the share (if
// distributed) plus the poll's master verification key.
type AuthorityKeys struct {
	PollID         int64                             `json:"poll_id"`
	Share          *interfaces.AuthorityShare        `json:"share,omitempty"`
	KeysReceivedAt *string                           `json:"keys_received_at,omitempty"`
	MVK            *interfaces.MasterVerificationKey `json:"mvk,omitempty"`
	Threshold      int                               `json:"threshold,omitempty"`
}

// Create inserts a new draft poll.
func (m *Manager) Create(ctx context.Context, title, description string, adminID int64) (interfaces.Poll, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return interfaces.Poll{}, fmt.Errorf("%w: poll title must not be empty", interfaces.ErrInvalidInput)
	}
	poll, err := m.store.CreatePoll(ctx, title, description, adminID)
	if err != nil {
		return interfaces.Poll{}, err
	}
	m.log.Info("poll created", "poll_id", poll.ID, "created_by", adminID)
	return poll, nil
}

func (m *Manager) summarize(ctx context.Context, poll interfaces.Poll) (Summary, error) {
	voterCount, err := m.store.CountPollVoters(ctx, poll.ID)
	if err != nil {
		return Summary{}, err
	}
	authorityCount, err := m.store.CountPollAuthorities(ctx, poll.ID)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{
		Poll:           poll,
		VoterCount:     voterCount,
		AuthorityCount: authorityCount,
	}

	if _, err := m.store.PollSetup(ctx, poll.ID); err == nil {
		summary.SetupDone = true
	} else if !errors.Is(err, interfaces.ErrNotFound) {
		return Summary{}, err
	}
	if _, err := m.store.PollMvk(ctx, poll.ID); err == nil {
		summary.KeygenDone = true
	} else if !errors.Is(err, interfaces.ErrNotFound) {
		return Summary{}, err
	}
	return summary, nil
}

// List returns all polls with roster sizes and ceremony progress.
func (m *Manager) List(ctx context.Context) ([]Summary, error) {
	polls, err := m.store.ListPolls(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]Summary, 0, len(polls))
	for _, poll := range polls {
		summary, err := m.summarize(ctx, poll)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// Details returns one poll's admin view, including the threshold the
// current authority roster implies.
func (m *Manager) Details(ctx context.Context, pollID int64) (Details, error) {
	poll, err := m.store.PollByID(ctx, pollID)
	if err != nil {
		return Details{}, err
	}
	summary, err := m.summarize(ctx, poll)
	if err != nil {
		return Details{}, err
	}
	return Details{
		Summary:   summary,
		Threshold: ceremony.Threshold(summary.AuthorityCount),
	}, nil
}

// Participants returns the voter and authority rosters for a poll.
func (m *Manager) Participants(ctx context.Context, pollID int64) (voters, authorities []interfaces.Participant, err error) {
	if _, err := m.store.PollByID(ctx, pollID); err != nil {
		return nil, nil, err
	}
	return m.store.PollParticipants(ctx, pollID)
}

// EnrollFromCSV reads two optional CSV streams of participant records and
// enrolls them on the poll. Voter rows are "tc,email,phone", authority rows
// are "tc,email,phone,name", no header. Malformed rows are skipped and
// counted; valid rows upsert the principal by email and add it to the
// roster, insert-or-ignore.
func (m *Manager) EnrollFromCSV(ctx context.Context, pollID int64, votersCSV, authoritiesCSV io.Reader) (EnrollResult, error) {
	if _, err := m.store.PollByID(ctx, pollID); err != nil {
		return EnrollResult{}, err
	}

	var result EnrollResult

	if votersCSV != nil {
		added, skipped, err := m.enrollVoters(ctx, pollID, votersCSV)
		if err != nil {
			return EnrollResult{}, err
		}
		result.VotersAdded, result.VotersSkipped = added, skipped
	}
	if authoritiesCSV != nil {
		added, skipped, err := m.enrollAuthorities(ctx, pollID, authoritiesCSV)
		if err != nil {
			return EnrollResult{}, err
		}
		result.AuthoritiesAdded, result.AuthoritiesSkipped = added, skipped
	}

	var err error
	if result.TotalVoters, err = m.store.CountPollVoters(ctx, pollID); err != nil {
		return EnrollResult{}, err
	}
	if result.TotalAuthorities, err = m.store.CountPollAuthorities(ctx, pollID); err != nil {
		return EnrollResult{}, err
	}
	result.Threshold = ceremony.Threshold(result.TotalAuthorities)

	m.log.Info("roster enrollment finished",
		"poll_id", pollID,
		"voters_added", result.VotersAdded,
		"voters_skipped", result.VotersSkipped,
		"authorities_added", result.AuthoritiesAdded,
		"authorities_skipped", result.AuthoritiesSkipped,
	)
	return result, nil
}

func (m *Manager) enrollVoters(ctx context.Context, pollID int64, r io.Reader) (added, skipped int, err error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return added, skipped, nil
		}
		if err != nil {
			skipped++
			continue
		}

		p, ok := principalFromRecord(record, false)
		if !ok {
			skipped++
			continue
		}
		voter, err := m.store.UpsertVoter(ctx, p)
		if err != nil {
			return added, skipped, fmt.Errorf("could not upsert voter %q: %w", p.Email, err)
		}
		if err := m.store.AddPollVoter(ctx, pollID, voter.ID); err != nil {
			return added, skipped, err
		}
		added++
	}
}

func (m *Manager) enrollAuthorities(ctx context.Context, pollID int64, r io.Reader) (added, skipped int, err error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return added, skipped, nil
		}
		if err != nil {
			skipped++
			continue
		}

		p, ok := principalFromRecord(record, true)
		if !ok {
			skipped++
			continue
		}
		authority, err := m.store.UpsertAuthority(ctx, p)
		if err != nil {
			return added, skipped, fmt.Errorf("could not upsert authority %q: %w", p.Email, err)
		}
		if err := m.store.AddPollAuthority(ctx, pollID, authority.ID); err != nil {
			return added, skipped, err
		}
		added++
	}
}

// principalFromRecord converts a CSV row into a principal with hashed
// credentials. Voter rows carry 3 fields, authority rows 4 (the name).
func principalFromRecord(record []string, withName bool) (interfaces.Principal, bool) {
	want := 3
	if withName {
		want = 4
	}
	if len(record) != want {
		return interfaces.Principal{}, false
	}
	for _, field := range record {
		if strings.TrimSpace(field) == "" {
			return interfaces.Principal{}, false
		}
	}

	p := interfaces.Principal{
		TCHash:    cryptoutils.Digest(strings.TrimSpace(record[0])),
		Email:     strings.TrimSpace(record[1]),
		PhoneHash: cryptoutils.Digest(strings.TrimSpace(record[2])),
	}
	if withName {
		p.Name = strings.TrimSpace(record[3])
	}
	return p, true
}

// VoterPolls returns the voter dashboard: active polls the voter is
// enrolled in.
func (m *Manager) VoterPolls(ctx context.Context, voterID int64) ([]interfaces.VoterPollView, error) {
	return m.store.VoterPolls(ctx, voterID)
}

// AuthorityPolls returns the authority dashboard.
func (m *Manager) AuthorityPolls(ctx context.Context, authorityID int64) ([]interfaces.AuthorityPollView, error) {
	return m.store.AuthorityPolls(ctx, authorityID)
}

// AuthorityKeysFor returns the calling authority's own key material for a
// poll. Authorities can never read another authority's row; the lookup is
// keyed by the session's principal id.
func (m *Manager) AuthorityKeysFor(ctx context.Context, pollID, authorityID int64) (AuthorityKeys, error) {
	record, err := m.store.AuthorityKeyRecord(ctx, pollID, authorityID)
	if err != nil {
		return AuthorityKeys{}, err
	}

	keys := AuthorityKeys{PollID: pollID, Share: record.Share}
	if record.KeysReceivedAt != nil {
		at := record.KeysReceivedAt.Format(time.RFC3339)
		keys.KeysReceivedAt = &at
	}

	mvk, err := m.store.PollMvk(ctx, pollID)
	if err == nil {
		keys.MVK = &mvk.MVK
		keys.Threshold = mvk.Threshold
	} else if !errors.Is(err, interfaces.ErrNotFound) {
		return AuthorityKeys{}, err
	}
	return keys, nil
}

// Setup returns the public Setup parameters of a poll.
func (m *Manager) Setup(ctx context.Context, pollID int64) (interfaces.PollSetup, error) {
	return m.store.PollSetup(ctx, pollID)
}

// Mvk returns the public master verification key record of a poll.
func (m *Manager) Mvk(ctx context.Context, pollID int64) (interfaces.PollMvk, error) {
	return m.store.PollMvk(ctx, pollID)
}
