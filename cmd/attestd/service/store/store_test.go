package store

import (
	"sync"
	"testing"
	"time"

	dsq "github.com/ipfs/go-datastore/query"
	"github.com/nordbid/attest-core/attest"
	"github.com/nordbid/attest-core/dshelper/txndswrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	badger "github.com/textileio/go-ds-badger3"
	golog "github.com/textileio/go-log/v2"
)

func init() {
	golog.SetAllLoggers(golog.LevelError)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Now()}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newStore(t *testing.T, conf Config) (*Store, *fakeClock) {
	clock := newFakeClock()
	if conf.Now == nil {
		conf.Now = clock.now
	}
	dstore, err := badger.NewDatastore(t.TempDir(), &badger.DefaultOptions)
	require.NoError(t, err)
	s := NewStore(txndswrap.Wrap(dstore), conf)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
		require.NoError(t, dstore.Close())
	})
	return s, clock
}

func testBidder() attest.BidderInfo {
	return attest.BidderInfo{
		Name:             "Kari Nordmann",
		Email:            "kari@example.com",
		Phone:            "+47 99 88 77 66",
		BankContactEmail: "advisor@bank.example.com",
	}
}

func TestStore_RecordProofAndSufficiency(t *testing.T) {
	t.Parallel()
	s, clock := newStore(t, Config{ProofTTL: time.Hour})

	token, err := s.RecordProof("owner-1", 3000000)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	ok, err := s.CheckSufficiency("owner-1", 3000000)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.CheckSufficiency("owner-1", 3000001)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.CheckSufficiency("owner-2", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	// any single live proof satisfying the threshold is enough
	_, err = s.RecordProof("owner-1", 5000000)
	require.NoError(t, err)
	ok, err = s.CheckSufficiency("owner-1", 4000000)
	require.NoError(t, err)
	assert.True(t, ok)

	// expired proofs never satisfy a sufficiency check
	clock.advance(time.Hour + time.Second)
	ok, err = s.CheckSufficiency("owner-1", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_RecordProofValidation(t *testing.T) {
	t.Parallel()
	s, _ := newStore(t, Config{})

	_, err := s.RecordProof("", 100)
	require.Error(t, err)

	_, err = s.RecordProof("owner-1", -1)
	require.Error(t, err)

	// a zero limit is legitimate
	_, err = s.RecordProof("owner-1", 0)
	require.NoError(t, err)
}

func TestStore_CreateAndResolve(t *testing.T) {
	t.Parallel()
	s, clock := newStore(t, Config{BidTTL: time.Minute * 5})

	code, err := s.CreateBid("owner-1", 2500000, testBidder(), "listing-1")
	require.NoError(t, err)
	require.Len(t, code, attest.ReferenceCodeLength)
	for _, r := range code {
		assert.Contains(t, codeAlphabet, string(r))
	}

	res, err := s.ResolveCode(code)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, attest.ApprovalStatusPending, res.Approval)
	require.NotNil(t, res.Bidder)
	assert.Equal(t, "Kari Nordmann", res.Bidder.Name)
	assert.Equal(t, int64(2500000), res.Amount)

	// codes are transcription-tolerant
	res, err = s.ResolveCode("  " + code + " ")
	require.NoError(t, err)
	assert.True(t, res.Valid)

	// unknown codes leak nothing
	res, err = s.ResolveCode("ZZZZZZ")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Nil(t, res.Bidder)

	// expired codes behave exactly like unknown ones
	clock.advance(time.Minute*5 + time.Second)
	res, err = s.ResolveCode(code)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Nil(t, res.Bidder)
}

func TestStore_CreateBidValidation(t *testing.T) {
	t.Parallel()
	s, _ := newStore(t, Config{})

	_, err := s.CreateBid("", 100, testBidder(), "listing-1")
	require.Error(t, err)

	_, err = s.CreateBid("owner-1", 0, testBidder(), "listing-1")
	require.Error(t, err)

	_, err = s.CreateBid("owner-1", 100, testBidder(), "")
	require.Error(t, err)

	bidder := testBidder()
	bidder.Email = ""
	_, err = s.CreateBid("owner-1", 100, bidder, "listing-1")
	require.Error(t, err)
}

func TestStore_SetApproval(t *testing.T) {
	t.Parallel()
	s, clock := newStore(t, Config{BidTTL: time.Minute})

	code, err := s.CreateBid("owner-1", 1000000, testBidder(), "listing-1")
	require.NoError(t, err)

	require.NoError(t, s.SetApproval(code, true, "looks good"))
	res, err := s.ResolveCode(code)
	require.NoError(t, err)
	assert.Equal(t, attest.ApprovalStatusApproved, res.Approval)
	assert.Equal(t, "looks good", res.Note)

	// the broker may change their mind while the bid is live
	require.NoError(t, s.SetApproval(code, false, "second thoughts"))
	res, err = s.ResolveCode(code)
	require.NoError(t, err)
	assert.Equal(t, attest.ApprovalStatusRejected, res.Approval)

	// unknown codes fail with not found
	err = s.SetApproval("ZZZZZZ", true, "")
	require.ErrorIs(t, err, attest.ErrBidNotFound)

	// expired bids are terminal
	clock.advance(time.Minute + time.Second)
	err = s.SetApproval(code, true, "")
	require.ErrorIs(t, err, attest.ErrBidNotFound)
}

func TestStore_ListBids(t *testing.T) {
	t.Parallel()
	s, clock := newStore(t, Config{BidTTL: time.Minute * 10})

	var codes []string
	for i := 0; i < 5; i++ {
		code, err := s.CreateBid("owner-1", int64(1000000+i), testBidder(), "listing-1")
		require.NoError(t, err)
		codes = append(codes, code)
		clock.advance(time.Second)
	}
	_, err := s.CreateBid("owner-2", 999, testBidder(), "listing-2")
	require.NoError(t, err)

	list, err := s.ListBids("listing-1")
	require.NoError(t, err)
	require.Len(t, list, 5)
	// newest first
	for i, bid := range list {
		assert.Equal(t, int64(1000000+4-i), bid.Amount)
		assert.Equal(t, codes[4-i], bid.ReferenceCode)
	}

	// expired bids drop out of listings
	clock.advance(time.Minute * 10)
	list, err = s.ListBids("listing-1")
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = s.ListBids("unknown-listing")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStore_ConcurrentCreateBidCodesAreUnique(t *testing.T) {
	t.Parallel()
	s, _ := newStore(t, Config{BidTTL: time.Hour})

	const n = 100
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes = make(map[string]struct{}, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, err := s.CreateBid("owner-1", 100000, testBidder(), "listing-1")
			assert.NoError(t, err)
			mu.Lock()
			codes[code] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, codes, n)

	list, err := s.ListBids("listing-1")
	require.NoError(t, err)
	assert.Len(t, list, n)
}

func TestStore_Sweep(t *testing.T) {
	t.Parallel()
	s, clock := newStore(t, Config{BidTTL: time.Minute, ProofTTL: time.Minute})

	code, err := s.CreateBid("owner-1", 100000, testBidder(), "listing-1")
	require.NoError(t, err)
	_, err = s.RecordProof("owner-1", 100000)
	require.NoError(t, err)

	// nothing is expired yet; sweep must not touch live entries
	require.NoError(t, s.Sweep())
	res, err := s.ResolveCode(code)
	require.NoError(t, err)
	assert.True(t, res.Valid)

	clock.advance(time.Minute * 2)
	require.NoError(t, s.Sweep())

	res, err = s.ResolveCode(code)
	require.NoError(t, err)
	assert.False(t, res.Valid)

	// physically gone
	for _, prefix := range []string{dsBidPrefix.String(), dsCodePrefix.String(), dsProofPrefix.String()} {
		results, err := s.store.Query(dsq.Query{Prefix: prefix})
		require.NoError(t, err)
		entries, err := results.Rest()
		require.NoError(t, err)
		assert.Empty(t, entries)
	}
}

func TestStore_ResolveSnapshotSurvivesSweep(t *testing.T) {
	t.Parallel()
	s, clock := newStore(t, Config{BidTTL: time.Minute})

	code, err := s.CreateBid("owner-1", 100000, testBidder(), "listing-1")
	require.NoError(t, err)

	// a resolve in flight reads the code index and the bid through one
	// read-only transaction; a sweep committing in between must not make
	// either read disappear
	txn, err := s.store.NewTransaction(true)
	require.NoError(t, err)
	defer txn.Discard()

	clock.advance(time.Minute * 2)
	require.NoError(t, s.Sweep())

	bid, err := getBidByCode(txn, code)
	require.NoError(t, err)
	assert.Equal(t, code, bid.ReferenceCode)
	assert.Equal(t, int64(100000), bid.Amount)

	// resolves starting after the sweep see the deletion
	res, err := s.ResolveCode(code)
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

// stubCodes returns a generator yielding the given codes in order.
func stubCodes(codes ...string) func(int) (string, error) {
	i := 0
	return func(int) (string, error) {
		code := codes[i]
		if i < len(codes)-1 {
			i++
		}
		return code, nil
	}
}

func TestStore_LiveCodeCollisionRetries(t *testing.T) {
	t.Parallel()
	s, _ := newStore(t, Config{BidTTL: time.Hour})

	s.genCode = stubCodes("AAAAAA")
	first, err := s.CreateBid("owner-1", 100000, testBidder(), "listing-1")
	require.NoError(t, err)
	require.Equal(t, "AAAAAA", first)

	// second bid hits the live code and must retry, never overwrite
	s.genCode = stubCodes("AAAAAA", "BBBBBB")
	second, err := s.CreateBid("owner-2", 200000, testBidder(), "listing-1")
	require.NoError(t, err)
	assert.Equal(t, "BBBBBB", second)

	res, err := s.ResolveCode("AAAAAA")
	require.NoError(t, err)
	assert.Equal(t, int64(100000), res.Amount)
}

func TestStore_ExpiredCodeReuseIsTolerated(t *testing.T) {
	t.Parallel()
	s, clock := newStore(t, Config{BidTTL: time.Minute})

	s.genCode = stubCodes("AAAAAA")
	_, err := s.CreateBid("owner-1", 100000, testBidder(), "listing-1")
	require.NoError(t, err)
	clock.advance(time.Minute * 2)

	// collision with an expired bid's code is tolerated
	code, err := s.CreateBid("owner-2", 200000, testBidder(), "listing-1")
	require.NoError(t, err)
	assert.Equal(t, "AAAAAA", code)

	res, err := s.ResolveCode("AAAAAA")
	require.NoError(t, err)
	require.True(t, res.Valid)
	assert.Equal(t, int64(200000), res.Amount)
}

func TestStore_CodeExhaustion(t *testing.T) {
	t.Parallel()
	s, _ := newStore(t, Config{BidTTL: time.Hour})

	s.genCode = stubCodes("AAAAAA")
	_, err := s.CreateBid("owner-1", 100000, testBidder(), "listing-1")
	require.NoError(t, err)

	_, err = s.CreateBid("owner-2", 200000, testBidder(), "listing-1")
	require.ErrorIs(t, err, attest.ErrCodeExhausted)
}
