package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nordbid/attest-core/attest"
	"github.com/nordbid/attest-core/cmd/attestd/service/store"
	"github.com/nordbid/attest-core/docextract"
	"github.com/nordbid/attest-core/dshelper/txndswrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	badger "github.com/textileio/go-ds-badger3"
	golog "github.com/textileio/go-log/v2"
)

func init() {
	golog.SetAllLoggers(golog.LevelError)
}

type fakeExtractor struct {
	text string
	err  error
}

func (f *fakeExtractor) ExtractText(_ context.Context, _ []byte, _ docextract.Format) (string, error) {
	return f.text, f.err
}

func newService(t *testing.T, extractor docextract.Extractor) *Service {
	dstore, err := badger.NewDatastore(t.TempDir(), &badger.DefaultOptions)
	require.NoError(t, err)
	s, err := New(Config{Store: store.Config{BidTTL: time.Minute}}, txndswrap.Wrap(dstore), extractor)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
		require.NoError(t, dstore.Close())
	})
	return s
}

func submitRequest() SubmitRequest {
	return SubmitRequest{
		Document:     []byte("%PDF-1.4 ..."),
		Format:       docextract.FormatPDF,
		ExpectedName: "Kari Nordmann",
		BidAmount:    2500000,
		OwnerID:      "owner-1",
		ListingID:    "listing-1",
		Bidder: attest.BidderInfo{
			Name:             "Kari Nordmann",
			Email:            "kari@example.com",
			Phone:            "+47 99 88 77 66",
			BankContactEmail: "advisor@bank.example.com",
		},
	}
}

const goodText = "Finansieringsbevis for Kari Nordmann. Godkjent lånebeløp: kr 3.000.000."

func TestService_SubmitBidAccepted(t *testing.T) {
	t.Parallel()
	s := newService(t, &fakeExtractor{text: goodText})

	res, err := s.SubmitBid(context.Background(), submitRequest())
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.NotEmpty(t, res.ReferenceCode)
	assert.NotEmpty(t, res.ProofToken)
	assert.Equal(t, int64(3000000), res.Limit)
	assert.Empty(t, res.Reasons)

	// the minted code resolves immediately
	resolution, err := s.ResolveCode(context.Background(), res.ReferenceCode)
	require.NoError(t, err)
	assert.True(t, resolution.Valid)
	assert.Equal(t, attest.ApprovalStatusPending, resolution.Approval)

	// acceptance also recorded a usable financing proof
	ok, err := s.CheckSufficiency(context.Background(), "owner-1", 3000000)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestService_SubmitBidRejected(t *testing.T) {
	t.Parallel()

	t.Run("insufficient amount", func(t *testing.T) {
		t.Parallel()
		s := newService(t, &fakeExtractor{text: goodText})
		req := submitRequest()
		req.BidAmount = 3100000
		res, err := s.SubmitBid(context.Background(), req)
		require.NoError(t, err)
		assert.False(t, res.Verified)
		assert.Equal(t, []string{"insufficient amount"}, res.Reasons)
		assert.Empty(t, res.ReferenceCode)

		// no partial state persists on rejection
		ok, err := s.CheckSufficiency(context.Background(), "owner-1", 1)
		require.NoError(t, err)
		assert.False(t, ok)
		list, err := s.ListBids(context.Background(), "listing-1")
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("name mismatch", func(t *testing.T) {
		t.Parallel()
		s := newService(t, &fakeExtractor{text: goodText})
		req := submitRequest()
		req.ExpectedName = "Ola Hansen"
		res, err := s.SubmitBid(context.Background(), req)
		require.NoError(t, err)
		assert.False(t, res.Verified)
		assert.Equal(t, []string{"name mismatch"}, res.Reasons)
	})
}

func TestService_SubmitBidUnreadableDocument(t *testing.T) {
	t.Parallel()
	s := newService(t, &fakeExtractor{err: docextract.ErrUnreadable})

	_, err := s.SubmitBid(context.Background(), submitRequest())
	require.ErrorIs(t, err, docextract.ErrUnreadable)
}

func TestService_SubmitBidValidation(t *testing.T) {
	t.Parallel()
	s := newService(t, &fakeExtractor{text: goodText})

	for name, mutate := range map[string]func(*SubmitRequest){
		"empty document":      func(r *SubmitRequest) { r.Document = nil },
		"empty name":          func(r *SubmitRequest) { r.ExpectedName = "  " },
		"non-positive amount": func(r *SubmitRequest) { r.BidAmount = 0 },
		"empty owner":         func(r *SubmitRequest) { r.OwnerID = "" },
		"empty listing":       func(r *SubmitRequest) { r.ListingID = "" },
		"missing bidder phone": func(r *SubmitRequest) {
			r.Bidder.Phone = ""
		},
	} {
		t.Run(name, func(t *testing.T) {
			req := submitRequest()
			mutate(&req)
			_, err := s.SubmitBid(context.Background(), req)
			require.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestService_ApprovalRoundTrip(t *testing.T) {
	t.Parallel()
	s := newService(t, &fakeExtractor{text: goodText})

	res, err := s.SubmitBid(context.Background(), submitRequest())
	require.NoError(t, err)
	require.True(t, res.Verified)

	require.NoError(t, s.SetApproval(context.Background(), res.ReferenceCode, true, "ok"))
	resolution, err := s.ResolveCode(context.Background(), res.ReferenceCode)
	require.NoError(t, err)
	assert.Equal(t, attest.ApprovalStatusApproved, resolution.Approval)

	err = s.SetApproval(context.Background(), "ZZZZZZ", true, "")
	require.True(t, errors.Is(err, attest.ErrBidNotFound))
}
