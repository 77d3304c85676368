package interfaces

import "time"

// Role identifies which of the three principal pools an identity belongs to.
// Every pool is authenticated independently; a session token is only valid
// for the role it was issued with.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleVoter     Role = "voter"
	RoleAuthority Role = "authority"
)

// Principal is an identity record in one of the three pools. Raw national
// identifiers and phone numbers never reach the store; only their one-way
// digests are kept, and lookups are digest-equality checks.
type Principal struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	TCHash    string `json:"-"`
	PhoneHash string `json:"-"`

	// Name is set for authorities only.
	Name string `json:"name,omitempty"`
}

// PollStatus is the lifecycle state of a poll. Polls are created in draft,
// move to active when the key ceremony completes, and close out of scope of
// this service.
type PollStatus string

const (
	PollDraft  PollStatus = "draft"
	PollActive PollStatus = "active"
	PollClosed PollStatus = "closed"
)

// Poll is the root entity the ceremony runs against.
type Poll struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	CreatedBy   int64      `json:"created_by"`
	Status      PollStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

// SetupParams are the public domain parameters produced by the engine's
// Setup operation. All group-element encodings are opaque strings; this
// layer only stores and replays them.
type SetupParams struct {
	PairingParam  string `json:"pairing_param"`
	PrimeOrder    string `json:"prime_order"`
	G1            string `json:"g1"`
	G2            string `json:"g2"`
	H1            string `json:"h1"`
	SecurityLevel int    `json:"security_level"`
}

// PollSetup records a completed Setup step. At most one exists per poll;
// its existence is the "Setup done" flag and it is immutable once written.
type PollSetup struct {
	PollID      int64       `json:"poll_id"`
	Params      SetupParams `json:"params"`
	SetupBy     int64       `json:"setup_by"`
	CompletedAt time.Time   `json:"setup_completed_at"`
}

// MasterVerificationKey is the public key material for verifying
// threshold-signed artifacts of a poll.
type MasterVerificationKey struct {
	Alpha2 string `json:"alpha2"`
	Beta2  string `json:"beta2"`
	Beta1  string `json:"beta1"`
}

// PollMvk records a completed KeyGen step. At most one exists per poll;
// its existence is the "KeyGen done" flag.
type PollMvk struct {
	PollID           int64                 `json:"poll_id"`
	MVK              MasterVerificationKey `json:"mvk"`
	Threshold        int                   `json:"threshold"`
	TotalAuthorities int                   `json:"total_authorities"`
	GeneratedBy      int64                 `json:"generated_by"`
	GeneratedAt      time.Time             `json:"generated_at"`
}

// AuthorityShare is one authority's slice of the distributed key: the
// secret share (sgk1, sgk2) and the matching verification share
// (vkm1..vkm3). Encodings are opaque.
type AuthorityShare struct {
	SGK1 string `json:"sgk1"`
	SGK2 string `json:"sgk2"`
	VKM1 string `json:"vkm1"`
	VKM2 string `json:"vkm2"`
	VKM3 string `json:"vkm3"`
}

// KeyGenResult is the engine's KeyGen output: the master verification key
// and one share per authority, in the engine's generation order. The
// orchestrator maps Shares[i] onto the i-th enrolled authority sorted by
// ascending authority id.
type KeyGenResult struct {
	MVK    MasterVerificationKey `json:"mvk"`
	Shares []AuthorityShare      `json:"shares"`
}

// Participant is the roster view of an enrolled principal.
type Participant struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// VoterPollView is a poll joined with the voter's own roster row.
type VoterPollView struct {
	Poll
	HasVoted bool       `json:"has_voted"`
	VotedAt  *time.Time `json:"voted_at,omitempty"`
}

// AuthorityPollView is a poll joined with the authority's own roster row.
type AuthorityPollView struct {
	Poll
	KeysReceivedAt *time.Time `json:"keys_received_at,omitempty"`
}

// AuthorityKeyRecord is an authority's roster row for one poll. Share is
// nil until KeyGen distributes keys.
type AuthorityKeyRecord struct {
	PollID         int64           `json:"poll_id"`
	AuthorityID    int64           `json:"authority_id"`
	Share          *AuthorityShare `json:"share,omitempty"`
	KeysReceivedAt *time.Time      `json:"keys_received_at,omitempty"`
}
