package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/nordbid/attest-core/attest"
	"github.com/nordbid/attest-core/cmd/attestd/service/store"
	"github.com/nordbid/attest-core/docextract"
	"github.com/nordbid/attest-core/docproof"
	"github.com/nordbid/attest-core/dshelper/txndswrap"
	"github.com/nordbid/attest-core/metrics"
	golog "github.com/textileio/go-log/v2"
	"go.opentelemetry.io/otel/metric"
)

var log = golog.Logger("attestd/service")

// ErrInvalidInput indicates caller-supplied submission input is unusable.
// Terminal for the request; surfaced verbatim.
var ErrInvalidInput = errors.New("invalid input")

// Config defines params for Service configuration.
type Config struct {
	// Store configures the attestation store.
	Store store.Config
	// ExtraAmountKeywords extends the built-in financing-limit phrases.
	ExtraAmountKeywords []string
}

// Service drives document verification and the attestation store. It is the
// entry point external callers use.
type Service struct {
	store     *store.Store
	extractor docextract.Extractor
	evaluator *docproof.Evaluator

	metricVerifications metric.Int64Counter
	metricUnreadable    metric.Int64Counter
	metricBidsCreated   metric.Int64Counter
	metricProofs        metric.Int64Counter
	metricResolves      metric.Int64Counter
	metricApprovals     metric.Int64Counter
}

// New returns a new Service using the given datastore and extraction
// collaborator.
func New(conf Config, dstore txndswrap.TxnDatastore, extractor docextract.Extractor) (*Service, error) {
	if extractor == nil {
		return nil, errors.New("extractor is required")
	}
	s := &Service{
		store:     store.NewStore(dstore, conf.Store),
		extractor: extractor,
		evaluator: docproof.NewEvaluator(docproof.NewAmountExtractor(conf.ExtraAmountKeywords...)),
	}
	s.initMetrics()

	log.Info("service started")
	return s, nil
}

// Close the service.
func (s *Service) Close() error {
	log.Info("service was shutdown")
	return s.store.Close()
}

// SubmitRequest is a bid submission with its financing document.
type SubmitRequest struct {
	Document     []byte
	Format       docextract.Format
	ExpectedName string
	BidAmount    int64
	OwnerID      attest.OwnerID
	Bidder       attest.BidderInfo
	ListingID    attest.ListingID
}

func (r *SubmitRequest) validate() error {
	if len(r.Document) == 0 {
		return fmt.Errorf("%w: document is empty", ErrInvalidInput)
	}
	if strings.TrimSpace(r.ExpectedName) == "" {
		return fmt.Errorf("%w: expected name is empty", ErrInvalidInput)
	}
	if r.BidAmount <= 0 {
		return fmt.Errorf("%w: bid amount must be positive", ErrInvalidInput)
	}
	if r.OwnerID == "" {
		return fmt.Errorf("%w: owner id is empty", ErrInvalidInput)
	}
	if r.ListingID == "" {
		return fmt.Errorf("%w: listing id is empty", ErrInvalidInput)
	}
	if err := r.Bidder.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// SubmitResult is the outcome of a bid submission. A failed verification is
// a normal outcome, reported here rather than as an error.
type SubmitResult struct {
	Verified      bool
	Reasons       []string
	ReferenceCode string
	Limit         int64
	LimitFound    bool
	ProofToken    attest.ProofToken
}

// SubmitBid verifies the financing document against the claimed bid and, on
// acceptance, records a financing proof and mints a bid reference code.
func (s *Service) SubmitBid(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if err := req.validate(); err != nil {
		return SubmitResult{}, err
	}
	reqID := uuid.NewString()
	log.Debugf("submission %s: listing %s, claimed %s",
		reqID, req.ListingID, humanize.Comma(req.BidAmount))

	text, err := s.extractor.ExtractText(ctx, req.Document, req.Format)
	if err != nil {
		metrics.MetricIncrCounter(ctx, err, s.metricUnreadable)
		return SubmitResult{}, fmt.Errorf("extracting document text: %w", err)
	}

	res, err := s.evaluator.Evaluate(text, req.ExpectedName, req.BidAmount)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	metrics.MetricIncrVerdict(ctx, res.Accepted, s.metricVerifications)
	if !res.Accepted {
		log.Infof("submission %s rejected: %s", reqID, strings.Join(res.Reasons(), ", "))
		return SubmitResult{
			Reasons:    res.Reasons(),
			Limit:      res.Limit,
			LimitFound: res.LimitFound,
		}, nil
	}

	token, err := s.store.RecordProof(req.OwnerID, res.Limit)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("recording proof: %v", err)
	}
	metrics.MetricIncrCounter(ctx, nil, s.metricProofs)

	code, err := s.store.CreateBid(req.OwnerID, req.BidAmount, req.Bidder, req.ListingID)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("creating bid: %w", err)
	}
	metrics.MetricIncrCounter(ctx, nil, s.metricBidsCreated)

	log.Infof("submission %s accepted with limit %s, code minted",
		reqID, humanize.Comma(res.Limit))
	return SubmitResult{
		Verified:      true,
		ReferenceCode: code,
		Limit:         res.Limit,
		LimitFound:    true,
		ProofToken:    token,
	}, nil
}

// ResolveCode redeems a reference code.
func (s *Service) ResolveCode(ctx context.Context, code string) (attest.Resolution, error) {
	res, err := s.store.ResolveCode(code)
	metrics.MetricIncrCounter(ctx, err, s.metricResolves)
	return res, err
}

// SetApproval records a broker decision for a live bid.
func (s *Service) SetApproval(ctx context.Context, code string, approved bool, note string) error {
	err := s.store.SetApproval(code, approved, note)
	metrics.MetricIncrCounter(ctx, err, s.metricApprovals)
	return err
}

// ListBids returns live bids for a listing, newest first.
func (s *Service) ListBids(_ context.Context, listing attest.ListingID) ([]attest.Bid, error) {
	return s.store.ListBids(listing)
}

// CheckSufficiency reports whether owner holds a live proof covering amount.
func (s *Service) CheckSufficiency(_ context.Context, owner attest.OwnerID, amount int64) (bool, error) {
	return s.store.CheckSufficiency(owner, amount)
}
