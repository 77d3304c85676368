package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tiacvote/poll-ceremony-backend/interfaces"
)

type pollVoterRow struct {
	hasVoted bool
	votedAt  *time.Time
}

type pollAuthorityRow struct {
	share          *interfaces.AuthorityShare
	keysReceivedAt *time.Time
}

// MemoryStore is an in-process implementation of interfaces.Store. All
// state lives behind a single mutex; methods copy records in and out so
// callers never share memory with the store.
type MemoryStore struct {
	mu sync.Mutex

	admins      map[int64]interfaces.Principal
	voters      map[int64]interfaces.Principal
	authorities map[int64]interfaces.Principal
	nextID      int64

	polls      map[int64]interfaces.Poll
	nextPollID int64

	pollVoters      map[int64]map[int64]*pollVoterRow
	pollAuthorities map[int64]map[int64]*pollAuthorityRow

	setups map[int64]interfaces.PollSetup
	mvks   map[int64]interfaces.PollMvk
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		admins:          make(map[int64]interfaces.Principal),
		voters:          make(map[int64]interfaces.Principal),
		authorities:     make(map[int64]interfaces.Principal),
		nextID:          1,
		polls:           make(map[int64]interfaces.Poll),
		nextPollID:      1,
		pollVoters:      make(map[int64]map[int64]*pollVoterRow),
		pollAuthorities: make(map[int64]map[int64]*pollAuthorityRow),
		setups:          make(map[int64]interfaces.PollSetup),
		mvks:            make(map[int64]interfaces.PollMvk),
	}
}

func (s *MemoryStore) createPrincipal(pool map[int64]interfaces.Principal, p interfaces.Principal) (interfaces.Principal, error) {
	for _, existing := range pool {
		if existing.Email == p.Email || existing.TCHash == p.TCHash {
			return interfaces.Principal{}, interfaces.ErrDuplicatePrincipal
		}
	}
	p.ID = s.nextID
	s.nextID++
	pool[p.ID] = p
	return p, nil
}

// CreateAdmin registers a new admin.
func (s *MemoryStore) CreateAdmin(_ context.Context, p interfaces.Principal) (interfaces.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createPrincipal(s.admins, p)
}

// CreateAuthority registers a new authority.
func (s *MemoryStore) CreateAuthority(_ context.Context, p interfaces.Principal) (interfaces.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createPrincipal(s.authorities, p)
}

func byCredentials(pool map[int64]interfaces.Principal, tcHash, email string) (interfaces.Principal, error) {
	for _, p := range pool {
		if p.TCHash == tcHash && p.Email == email {
			return p, nil
		}
	}
	return interfaces.Principal{}, interfaces.ErrNotFound
}

// AdminByCredentials looks up an admin by identifier digest and email.
func (s *MemoryStore) AdminByCredentials(_ context.Context, tcHash, email string) (interfaces.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return byCredentials(s.admins, tcHash, email)
}

// VoterByCredentials looks up a voter by identifier digest and email.
func (s *MemoryStore) VoterByCredentials(_ context.Context, tcHash, email string) (interfaces.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return byCredentials(s.voters, tcHash, email)
}

// AuthorityByCredentials looks up an authority by identifier digest and email.
func (s *MemoryStore) AuthorityByCredentials(_ context.Context, tcHash, email string) (interfaces.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return byCredentials(s.authorities, tcHash, email)
}

// AuthorityByID looks up an authority by id.
func (s *MemoryStore) AuthorityByID(_ context.Context, id int64) (interfaces.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.authorities[id]
	if !ok {
		return interfaces.Principal{}, interfaces.ErrNotFound
	}
	return p, nil
}

// UpsertVoter inserts a voter or returns the existing record for the email.
func (s *MemoryStore) UpsertVoter(_ context.Context, p interfaces.Principal) (interfaces.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.voters {
		if existing.Email == p.Email {
			return existing, nil
		}
	}
	p.ID = s.nextID
	s.nextID++
	s.voters[p.ID] = p
	return p, nil
}

// UpsertAuthority inserts an authority or updates the display name of the
// existing record for the email.
func (s *MemoryStore) UpsertAuthority(_ context.Context, p interfaces.Principal) (interfaces.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.authorities {
		if existing.Email == p.Email {
			existing.Name = p.Name
			s.authorities[id] = existing
			return existing, nil
		}
	}
	p.ID = s.nextID
	s.nextID++
	s.authorities[p.ID] = p
	return p, nil
}

// CreatePoll inserts a poll in draft status.
func (s *MemoryStore) CreatePoll(_ context.Context, title, description string, createdBy int64) (interfaces.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	poll := interfaces.Poll{
		ID:          s.nextPollID,
		Title:       title,
		Description: description,
		CreatedBy:   createdBy,
		Status:      interfaces.PollDraft,
		CreatedAt:   time.Now(),
	}
	s.nextPollID++
	s.polls[poll.ID] = poll
	s.pollVoters[poll.ID] = make(map[int64]*pollVoterRow)
	s.pollAuthorities[poll.ID] = make(map[int64]*pollAuthorityRow)
	return poll, nil
}

// ListPolls returns all polls, newest first.
func (s *MemoryStore) ListPolls(_ context.Context) ([]interfaces.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	polls := make([]interfaces.Poll, 0, len(s.polls))
	for _, p := range s.polls {
		polls = append(polls, p)
	}
	sort.Slice(polls, func(i, j int) bool { return polls[i].ID > polls[j].ID })
	return polls, nil
}

// PollByID returns one poll or ErrNotFound.
func (s *MemoryStore) PollByID(_ context.Context, id int64) (interfaces.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	poll, ok := s.polls[id]
	if !ok {
		return interfaces.Poll{}, interfaces.ErrNotFound
	}
	return poll, nil
}

// SetPollStatus updates a poll's lifecycle status.
func (s *MemoryStore) SetPollStatus(_ context.Context, id int64, status interfaces.PollStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	poll, ok := s.polls[id]
	if !ok {
		return interfaces.ErrNotFound
	}
	poll.Status = status
	if status == interfaces.PollActive && poll.StartedAt == nil {
		now := time.Now()
		poll.StartedAt = &now
	}
	s.polls[id] = poll
	return nil
}

// AddPollVoter enrolls a voter on a poll roster, insert-or-ignore.
func (s *MemoryStore) AddPollVoter(_ context.Context, pollID, voterID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	roster, ok := s.pollVoters[pollID]
	if !ok {
		return interfaces.ErrNotFound
	}
	if _, enrolled := roster[voterID]; !enrolled {
		roster[voterID] = &pollVoterRow{}
	}
	return nil
}

// AddPollAuthority enrolls an authority on a poll roster, insert-or-ignore.
func (s *MemoryStore) AddPollAuthority(_ context.Context, pollID, authorityID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	roster, ok := s.pollAuthorities[pollID]
	if !ok {
		return interfaces.ErrNotFound
	}
	if _, enrolled := roster[authorityID]; !enrolled {
		roster[authorityID] = &pollAuthorityRow{}
	}
	return nil
}

// CountPollVoters returns the voter roster size.
func (s *MemoryStore) CountPollVoters(_ context.Context, pollID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pollVoters[pollID]), nil
}

// CountPollAuthorities returns the authority roster size.
func (s *MemoryStore) CountPollAuthorities(_ context.Context, pollID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pollAuthorities[pollID]), nil
}

// PollAuthorityIDs returns the enrolled authority ids in ascending order.
func (s *MemoryStore) PollAuthorityIDs(_ context.Context, pollID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.pollAuthorities[pollID]))
	for id := range s.pollAuthorities[pollID] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// PollParticipants returns the voter and authority rosters.
func (s *MemoryStore) PollParticipants(_ context.Context, pollID int64) ([]interfaces.Participant, []interfaces.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var voters []interfaces.Participant
	for id := range s.pollVoters[pollID] {
		p := s.voters[id]
		voters = append(voters, interfaces.Participant{ID: p.ID, Email: p.Email})
	}
	sort.Slice(voters, func(i, j int) bool { return voters[i].ID < voters[j].ID })

	var authorities []interfaces.Participant
	for id := range s.pollAuthorities[pollID] {
		p := s.authorities[id]
		authorities = append(authorities, interfaces.Participant{ID: p.ID, Email: p.Email, Name: p.Name})
	}
	sort.Slice(authorities, func(i, j int) bool { return authorities[i].ID < authorities[j].ID })

	return voters, authorities, nil
}

// InsertPollSetup persists the Setup record, rejecting a second record for
// the same poll.
func (s *MemoryStore) InsertPollSetup(_ context.Context, setup interfaces.PollSetup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.setups[setup.PollID]; exists {
		return interfaces.ErrAlreadyDone
	}
	s.setups[setup.PollID] = setup
	return nil
}

// PollSetup returns the Setup record or ErrNotFound.
func (s *MemoryStore) PollSetup(_ context.Context, pollID int64) (interfaces.PollSetup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	setup, ok := s.setups[pollID]
	if !ok {
		return interfaces.PollSetup{}, interfaces.ErrNotFound
	}
	return setup, nil
}

// InsertPollMvk persists the KeyGen record, rejecting a second record for
// the same poll.
func (s *MemoryStore) InsertPollMvk(_ context.Context, mvk interfaces.PollMvk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.mvks[mvk.PollID]; exists {
		return interfaces.ErrAlreadyDone
	}
	s.mvks[mvk.PollID] = mvk
	return nil
}

// PollMvk returns the KeyGen record or ErrNotFound.
func (s *MemoryStore) PollMvk(_ context.Context, pollID int64) (interfaces.PollMvk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mvk, ok := s.mvks[pollID]
	if !ok {
		return interfaces.PollMvk{}, interfaces.ErrNotFound
	}
	return mvk, nil
}

// SetAuthorityShare writes one authority's key share onto its roster row.
func (s *MemoryStore) SetAuthorityShare(_ context.Context, pollID, authorityID int64, share interfaces.AuthorityShare, receivedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.pollAuthorities[pollID][authorityID]
	if !ok {
		return interfaces.ErrNotFound
	}
	shareCopy := share
	at := receivedAt
	row.share = &shareCopy
	row.keysReceivedAt = &at
	return nil
}

// AuthorityKeyRecord returns an authority's own roster row for a poll.
func (s *MemoryStore) AuthorityKeyRecord(_ context.Context, pollID, authorityID int64) (interfaces.AuthorityKeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.pollAuthorities[pollID][authorityID]
	if !ok {
		return interfaces.AuthorityKeyRecord{}, interfaces.ErrNotFound
	}

	record := interfaces.AuthorityKeyRecord{
		PollID:         pollID,
		AuthorityID:    authorityID,
		KeysReceivedAt: row.keysReceivedAt,
	}
	if row.share != nil {
		shareCopy := *row.share
		record.Share = &shareCopy
	}
	return record, nil
}

// VoterPolls returns active polls the voter is enrolled in, newest first.
func (s *MemoryStore) VoterPolls(_ context.Context, voterID int64) ([]interfaces.VoterPollView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var views []interfaces.VoterPollView
	for pollID, roster := range s.pollVoters {
		row, enrolled := roster[voterID]
		if !enrolled {
			continue
		}
		poll := s.polls[pollID]
		if poll.Status != interfaces.PollActive {
			continue
		}
		views = append(views, interfaces.VoterPollView{
			Poll:     poll,
			HasVoted: row.hasVoted,
			VotedAt:  row.votedAt,
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID > views[j].ID })
	return views, nil
}

// AuthorityPolls returns polls the authority is enrolled in, newest first.
func (s *MemoryStore) AuthorityPolls(_ context.Context, authorityID int64) ([]interfaces.AuthorityPollView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var views []interfaces.AuthorityPollView
	for pollID, roster := range s.pollAuthorities {
		row, enrolled := roster[authorityID]
		if !enrolled {
			continue
		}
		views = append(views, interfaces.AuthorityPollView{
			Poll:           s.polls[pollID],
			KeysReceivedAt: row.keysReceivedAt,
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID > views[j].ID })
	return views, nil
}
