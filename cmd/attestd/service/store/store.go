package store

import (
	"bytes"
	"crypto/rand"
	"encoding/gob"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	"github.com/nordbid/attest-core/attest"
	"github.com/nordbid/attest-core/dshelper/txndswrap"
	"github.com/oklog/ulid/v2"
	golog "github.com/textileio/go-log/v2"
)

const (
	// codeAlphabet excludes visually ambiguous characters (0/O, 1/I/L) so
	// codes survive manual transcription.
	codeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

	// maxCodeAttempts bounds reference code generation retries before the
	// request fails with ErrCodeExhausted.
	maxCodeAttempts = 10
)

var (
	log = golog.Logger("attestd/store")

	// dsBidPrefix is the prefix for bids.
	// Structure: /bids/<listing_id>/<bid_id> -> Bid.
	dsBidPrefix = ds.NewKey("/bids")
	// dsCodePrefix is the prefix for reference code indexes.
	// Structure: /codes/<code> -> bid key.
	dsCodePrefix = ds.NewKey("/codes")
	// dsProofPrefix is the prefix for financing proofs.
	// Structure: /proofs/<owner_id>/<token> -> FinancingProof.
	dsProofPrefix = ds.NewKey("/proofs")
)

// Config defines store parameters.
type Config struct {
	// ProofTTL is how long a recorded financing proof stays live.
	ProofTTL time.Duration
	// BidTTL is how long a bid's reference code stays redeemable.
	BidTTL time.Duration
	// CodeLength is the reference code length.
	CodeLength int
	// SweepInterval is how often expired entries are reclaimed.
	// Zero disables sweeping; liveness is enforced at read time regardless.
	SweepInterval time.Duration
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.ProofTTL <= 0 {
		c.ProofTTL = attest.DefaultProofTTL
	}
	if c.BidTTL <= 0 {
		c.BidTTL = attest.DefaultBidTTL
	}
	if c.CodeLength <= 0 {
		c.CodeLength = attest.ReferenceCodeLength
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Store is a registry of bids and financing proofs with time-bounded
// visibility. It satisfies attest.Attestor.
type Store struct {
	store txndswrap.TxnDatastore
	conf  Config

	entropy *ulid.MonotonicEntropy
	lk      sync.Mutex

	// genCode is swappable for tests exercising collision handling.
	genCode func(length int) (string, error)

	// codeLk serializes reference code check-and-insert so no two live
	// bids ever share a code.
	codeLk sync.Mutex

	stopSweep chan struct{}
	wg        sync.WaitGroup
}

var _ attest.Attestor = (*Store)(nil)

// NewStore returns a new Store backed by the given datastore.
func NewStore(store txndswrap.TxnDatastore, conf Config) *Store {
	s := &Store{
		store:     store,
		conf:      conf.withDefaults(),
		genCode:   genCode,
		stopSweep: make(chan struct{}),
	}
	if s.conf.SweepInterval > 0 {
		s.wg.Add(1)
		go s.sweepLoop()
	}
	return s
}

// Close stops the background sweeper.
func (s *Store) Close() error {
	close(s.stopSweep)
	s.wg.Wait()
	return nil
}

// RecordProof stores a new financing proof for owner. The proof is immutable
// and expires ProofTTL from issuance.
func (s *Store) RecordProof(owner attest.OwnerID, limit int64) (attest.ProofToken, error) {
	if owner == "" {
		return "", errors.New("owner id is empty")
	}
	if limit < 0 {
		return "", errors.New("limit must be non-negative")
	}

	now := s.conf.Now()
	id, err := s.newID(now)
	if err != nil {
		return "", fmt.Errorf("creating proof token: %v", err)
	}
	token := attest.ProofToken(id)
	proof := attest.FinancingProof{
		Token:     token,
		OwnerID:   owner,
		Limit:     limit,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.conf.ProofTTL),
	}
	val, err := encodeProof(&proof)
	if err != nil {
		return "", fmt.Errorf("encoding proof: %v", err)
	}
	if err := s.store.Put(proofKey(owner, token), val); err != nil {
		return "", fmt.Errorf("putting proof: %v", err)
	}
	log.Debugf("recorded proof %s for owner %s with limit %d", token, owner, limit)
	return token, nil
}

// CheckSufficiency reports whether a live proof exists for owner with
// limit >= amount. Any single satisfying proof is enough; limits are never
// aggregated across proofs.
func (s *Store) CheckSufficiency(owner attest.OwnerID, amount int64) (bool, error) {
	now := s.conf.Now()
	results, err := s.store.Query(dsq.Query{Prefix: dsProofPrefix.ChildString(string(owner)).String()})
	if err != nil {
		return false, fmt.Errorf("querying proofs: %v", err)
	}
	defer func() { _ = results.Close() }()

	for res := range results.Next() {
		if res.Error != nil {
			return false, fmt.Errorf("getting next result: %v", res.Error)
		}
		proof, err := decodeProof(res.Value)
		if err != nil {
			return false, fmt.Errorf("decoding proof: %v", err)
		}
		if proof.Live(now) && proof.Limit >= amount {
			return true, nil
		}
	}
	return false, nil
}

// CreateBid stores a pending bid for listing and returns its reference code.
// Code generation retries on collision with a live code; collisions with
// expired codes are tolerated and the index is overwritten.
func (s *Store) CreateBid(
	owner attest.OwnerID,
	amount int64,
	bidder attest.BidderInfo,
	listing attest.ListingID,
) (string, error) {
	if owner == "" {
		return "", errors.New("owner id is empty")
	}
	if listing == "" {
		return "", errors.New("listing id is empty")
	}
	if amount <= 0 {
		return "", errors.New("bid amount must be positive")
	}
	if err := bidder.Validate(); err != nil {
		return "", fmt.Errorf("invalid bidder info: %v", err)
	}

	now := s.conf.Now()
	id, err := s.newID(now)
	if err != nil {
		return "", fmt.Errorf("creating bid id: %v", err)
	}

	s.codeLk.Lock()
	defer s.codeLk.Unlock()

	txn, err := s.store.NewTransaction(false)
	if err != nil {
		return "", fmt.Errorf("creating txn: %v", err)
	}
	defer txn.Discard()

	code, err := s.freeCode(txn, now)
	if err != nil {
		return "", err
	}

	bid := attest.Bid{
		ID:            attest.BidID(id),
		OwnerID:       owner,
		ListingID:     listing,
		Amount:        amount,
		ReferenceCode: code,
		Bidder:        bidder,
		Approval:      attest.ApprovalStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(s.conf.BidTTL),
	}
	key := bidKey(listing, bid.ID)
	val, err := encodeBid(&bid)
	if err != nil {
		return "", fmt.Errorf("encoding bid: %v", err)
	}
	if err := txn.Put(key, val); err != nil {
		return "", fmt.Errorf("putting bid: %v", err)
	}
	if err := txn.Put(dsCodePrefix.ChildString(code), []byte(key.String())); err != nil {
		return "", fmt.Errorf("putting code index: %v", err)
	}
	if err := txn.Commit(); err != nil {
		return "", fmt.Errorf("committing txn: %v", err)
	}

	log.Debugf("created bid %s for listing %s with code %s", bid.ID, listing, code)
	return code, nil
}

// freeCode generates a reference code not held by any live bid.
func (s *Store) freeCode(txn txndswrap.Txn, now time.Time) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.genCode(s.conf.CodeLength)
		if err != nil {
			return "", fmt.Errorf("generating code: %v", err)
		}
		bid, err := getBidByCode(txn, code)
		if errors.Is(err, attest.ErrBidNotFound) {
			return code, nil
		} else if err != nil {
			return "", err
		}
		if !bid.Live(now) {
			// Stale code from an expired bid; safe to reuse.
			return code, nil
		}
		log.Warnf("reference code collision on attempt %d", attempt+1)
	}
	return "", attest.ErrCodeExhausted
}

// ResolveCode redeems a reference code against a single captured "now".
// Unknown and expired codes are indistinguishable and leak no stored data.
// The index and bid reads share a read-only transaction so a concurrent
// sweep cannot delete the pair mid-resolve.
func (s *Store) ResolveCode(code string) (attest.Resolution, error) {
	now := s.conf.Now()
	txn, err := s.store.NewTransaction(true)
	if err != nil {
		return attest.Resolution{}, fmt.Errorf("creating txn: %v", err)
	}
	defer txn.Discard()

	bid, err := getBidByCode(txn, normalizeCode(code))
	if errors.Is(err, attest.ErrBidNotFound) {
		return attest.Resolution{}, nil
	} else if err != nil {
		return attest.Resolution{}, err
	}
	if !bid.Live(now) {
		return attest.Resolution{}, nil
	}
	bidder := bid.Bidder
	return attest.Resolution{
		Valid:    true,
		Approval: bid.Approval,
		Note:     bid.ApprovalNote,
		Bidder:   &bidder,
		Amount:   bid.Amount,
	}, nil
}

// SetApproval records a broker decision for the live bid holding code.
// Decisions may be overwritten while the bid remains live; expired bids are
// terminal and report ErrBidNotFound.
func (s *Store) SetApproval(code string, approved bool, note string) error {
	now := s.conf.Now()

	txn, err := s.store.NewTransaction(false)
	if err != nil {
		return fmt.Errorf("creating txn: %v", err)
	}
	defer txn.Discard()

	bid, err := getBidByCode(txn, normalizeCode(code))
	if err != nil {
		return err
	}
	if !bid.Live(now) {
		return attest.ErrBidNotFound
	}

	if approved {
		bid.Approval = attest.ApprovalStatusApproved
	} else {
		bid.Approval = attest.ApprovalStatusRejected
	}
	bid.ApprovalNote = note
	bid.UpdatedAt = now

	val, err := encodeBid(bid)
	if err != nil {
		return fmt.Errorf("encoding bid: %v", err)
	}
	if err := txn.Put(bidKey(bid.ListingID, bid.ID), val); err != nil {
		return fmt.Errorf("putting bid: %v", err)
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("committing txn: %v", err)
	}

	log.Debugf("set bid %s approval to '%s'", bid.ID, bid.Approval)
	return nil
}

// ListBids returns live bids for a listing, newest first.
func (s *Store) ListBids(listing attest.ListingID) ([]attest.Bid, error) {
	now := s.conf.Now()
	results, err := s.store.Query(dsq.Query{
		Prefix: dsBidPrefix.ChildString(string(listing)).String(),
		Orders: []dsq.Order{dsq.OrderByKeyDescending{}},
	})
	if err != nil {
		return nil, fmt.Errorf("querying bids: %v", err)
	}
	defer func() { _ = results.Close() }()

	var list []attest.Bid
	for res := range results.Next() {
		if res.Error != nil {
			return nil, fmt.Errorf("getting next result: %v", res.Error)
		}
		bid, err := decodeBid(res.Value)
		if err != nil {
			return nil, fmt.Errorf("decoding bid: %v", err)
		}
		if bid.Live(now) {
			list = append(list, bid)
		}
	}
	log.Debugf("listed %d live bids for listing %s", len(list), listing)
	return list, nil
}

// newID returns new monotonically increasing ids.
func (s *Store) newID(t time.Time) (string, error) {
	s.lk.Lock() // entropy is not safe for concurrent use

	if s.entropy == nil {
		s.entropy = ulid.Monotonic(rand.Reader, 0)
	}
	id, err := ulid.New(ulid.Timestamp(t.UTC()), s.entropy)
	if errors.Is(err, ulid.ErrMonotonicOverflow) {
		s.entropy = nil
		s.lk.Unlock()
		return s.newID(t)
	} else if err != nil {
		s.lk.Unlock()
		return "", fmt.Errorf("generating id: %v", err)
	}
	s.lk.Unlock()
	return strings.ToLower(id.String()), nil
}

func getBidByCode(reader txndswrap.Read, code string) (*attest.Bid, error) {
	if code == "" {
		return nil, attest.ErrBidNotFound
	}
	keyval, err := reader.Get(dsCodePrefix.ChildString(code))
	if errors.Is(err, ds.ErrNotFound) {
		return nil, attest.ErrBidNotFound
	} else if err != nil {
		return nil, fmt.Errorf("getting code index: %v", err)
	}
	val, err := reader.Get(ds.NewKey(string(keyval)))
	if errors.Is(err, ds.ErrNotFound) {
		return nil, attest.ErrBidNotFound
	} else if err != nil {
		return nil, fmt.Errorf("getting bid: %v", err)
	}
	bid, err := decodeBid(val)
	if err != nil {
		return nil, fmt.Errorf("decoding bid: %v", err)
	}
	return &bid, nil
}

func bidKey(listing attest.ListingID, id attest.BidID) ds.Key {
	return dsBidPrefix.ChildString(string(listing)).ChildString(string(id))
}

func proofKey(owner attest.OwnerID, token attest.ProofToken) ds.Key {
	return dsProofPrefix.ChildString(string(owner)).ChildString(string(token))
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func genCode(length int) (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}

func encodeBid(b *attest.Bid) ([]byte, error) {
	return encode(b)
}

func decodeBid(v []byte) (b attest.Bid, err error) {
	err = gob.NewDecoder(bytes.NewReader(v)).Decode(&b)
	return b, err
}

func encodeProof(p *attest.FinancingProof) ([]byte, error) {
	return encode(p)
}

func decodeProof(v []byte) (p attest.FinancingProof, err error) {
	err = gob.NewDecoder(bytes.NewReader(v)).Decode(&p)
	return p, err
}

func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
