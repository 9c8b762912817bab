package attest

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	invalidStatus = "invalid"

	// DefaultProofTTL is how long a financing proof demonstrates capacity.
	DefaultProofTTL = time.Hour * 24 * 30
	// DefaultBidTTL is the attestation window during which a broker can
	// redeem a bid's reference code.
	DefaultBidTTL = time.Minute * 5

	// ReferenceCodeLength is the length of generated reference codes. Seven
	// characters over the 31-character alphabet give ~27.5 billion codes.
	ReferenceCodeLength = 7
)

// ErrBidNotFound indicates the requested bid does not exist or is expired.
// Unknown and expired codes are deliberately indistinguishable.
var ErrBidNotFound = errors.New("bid not found")

// ErrCodeExhausted indicates reference code generation ran out of attempts.
var ErrCodeExhausted = errors.New("reference code generation exhausted")

// BidID is the type used for bid identity.
type BidID string

// ProofToken is the type used for financing proof identity.
type ProofToken string

// OwnerID is an opaque identity token supplied by the session layer.
type OwnerID string

// ListingID is an opaque property listing identifier.
type ListingID string

// BidderInfo holds the contact details a broker sees when redeeming a
// reference code. All fields are required at the orchestrator boundary.
type BidderInfo struct {
	Name             string `json:"name"`
	Email            string `json:"email"`
	Phone            string `json:"phone"`
	BankContactEmail string `json:"bank_contact_email"`
}

// Validate ensures all bidder fields are present.
func (b *BidderInfo) Validate() error {
	if strings.TrimSpace(b.Name) == "" {
		return errors.New("bidder name is empty")
	}
	if strings.TrimSpace(b.Email) == "" {
		return errors.New("bidder email is empty")
	}
	if strings.TrimSpace(b.Phone) == "" {
		return errors.New("bidder phone is empty")
	}
	if strings.TrimSpace(b.BankContactEmail) == "" {
		return errors.New("bank contact email is empty")
	}
	return nil
}

// FinancingProof asserts that an owner has demonstrated ability to finance
// up to Limit. Immutable once recorded; expired proofs never satisfy a
// sufficiency check even if still physically present in the store.
type FinancingProof struct {
	Token     ProofToken `json:"token"`
	OwnerID   OwnerID    `json:"owner_id"`
	Limit     int64      `json:"limit"`
	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// Live reports whether the proof is usable at now.
func (p *FinancingProof) Live(now time.Time) bool {
	return !now.After(p.ExpiresAt)
}

// Bid is a claimed monetary offer tied to an owner, a listing and a
// reference code. Only the approval fields are ever mutated.
type Bid struct {
	ID            BidID          `json:"id"`
	OwnerID       OwnerID        `json:"owner_id"`
	ListingID     ListingID      `json:"listing_id"`
	Amount        int64          `json:"amount"`
	ReferenceCode string         `json:"reference_code"`
	Bidder        BidderInfo     `json:"bidder"`
	Approval      ApprovalStatus `json:"approval"`
	ApprovalNote  string         `json:"approval_note,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	ExpiresAt     time.Time      `json:"expires_at"`
}

// Live reports whether the bid's reference code is still redeemable at now.
func (b *Bid) Live(now time.Time) bool {
	return !now.After(b.ExpiresAt)
}

// ApprovalStatus is the broker's decision state for a bid.
type ApprovalStatus int

const (
	// ApprovalStatusPending indicates no broker decision has been made.
	ApprovalStatusPending ApprovalStatus = iota
	// ApprovalStatusApproved indicates the broker approved the bid.
	ApprovalStatusApproved
	// ApprovalStatusRejected indicates the broker rejected the bid.
	ApprovalStatusRejected
)

// String returns a string-encoded status.
func (s ApprovalStatus) String() string {
	switch s {
	case ApprovalStatusPending:
		return "pending"
	case ApprovalStatusApproved:
		return "approved"
	case ApprovalStatusRejected:
		return "rejected"
	default:
		return invalidStatus
	}
}

// ParseApprovalStatus returns the status described by s.
func ParseApprovalStatus(s string) (ApprovalStatus, error) {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "pending":
		return ApprovalStatusPending, nil
	case "approved":
		return ApprovalStatusApproved, nil
	case "rejected":
		return ApprovalStatusRejected, nil
	default:
		return -1, fmt.Errorf("unknown approval status: %s", s)
	}
}

// Resolution is the outcome of redeeming a reference code.
type Resolution struct {
	Valid    bool           `json:"valid"`
	Approval ApprovalStatus `json:"approval,omitempty"`
	Note     string         `json:"note,omitempty"`
	Bidder   *BidderInfo    `json:"bidder,omitempty"`
	Amount   int64          `json:"amount,omitempty"`
}

// Attestor is the keyed, time-bounded registry of bids and financing
// proofs. A persistence adapter backed by a database must satisfy the same
// TTL and liveness semantics.
type Attestor interface {
	// RecordProof stores a new financing proof for owner with the given limit.
	RecordProof(owner OwnerID, limit int64) (ProofToken, error)

	// CheckSufficiency reports whether a live proof exists for owner with
	// limit >= amount. Any single satisfying proof is enough.
	CheckSufficiency(owner OwnerID, amount int64) (bool, error)

	// CreateBid stores a pending bid and returns its reference code. The
	// returned code never collides with another live code.
	CreateBid(owner OwnerID, amount int64, bidder BidderInfo, listing ListingID) (string, error)

	// ResolveCode redeems a reference code. Unknown and expired codes both
	// yield a Resolution with Valid false and no bidder data.
	ResolveCode(code string) (Resolution, error)

	// SetApproval records a broker decision for the live bid holding code.
	// Returns ErrBidNotFound for unknown or expired codes. A later call on
	// a still-live bid overwrites the previous decision.
	SetApproval(code string, approved bool, note string) error

	// ListBids returns live bids for a listing, newest first.
	ListBids(listing ListingID) ([]Bid, error)
}
