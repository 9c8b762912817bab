package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nordbid/attest-core/attest"
	"github.com/nordbid/attest-core/cmd/attestd/service"
	"github.com/nordbid/attest-core/docextract"
	golog "github.com/textileio/go-log/v2"
)

var log = golog.Logger("attestd/api")

const maxDocumentBytes = 32 << 20

// Service provides scoped access to the attestd service.
type Service interface {
	SubmitBid(ctx context.Context, req service.SubmitRequest) (service.SubmitResult, error)
	ResolveCode(ctx context.Context, code string) (attest.Resolution, error)
	SetApproval(ctx context.Context, code string, approved bool, note string) error
	ListBids(ctx context.Context, listing attest.ListingID) ([]attest.Bid, error)
}

// NewServer returns a new http server for attestd requests.
func NewServer(listenAddr string, service Service) (*http.Server, error) {
	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: createMux(service),
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("stopping http server: %s", err)
		}
	}()

	log.Infof("http server started at %s", listenAddr)
	return httpServer, nil
}

func createMux(service Service) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", getOnly(healthHandler))
	mux.HandleFunc("/bids", postOnly(submitHandler(service)))
	mux.HandleFunc("/codes/", codesHandler(service))
	mux.HandleFunc("/listings/", getOnly(listingsHandler(service)))
	return mux
}

func getOnly(f http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "GET" {
			httpError(w, "only GET method is allowed", http.StatusBadRequest)
			return
		}
		f(w, r)
	}
}

func postOnly(f http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			httpError(w, "only POST method is allowed", http.StatusBadRequest)
			return
		}
		f(w, r)
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

type submitResponse struct {
	Verified      bool     `json:"verified"`
	Reasons       []string `json:"reasons,omitempty"`
	ReferenceCode string   `json:"reference_code,omitempty"`
	Limit         int64    `json:"limit,omitempty"`
}

func submitHandler(s Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxDocumentBytes); err != nil {
			httpError(w, fmt.Sprintf("parsing form: %s", err), http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("document")
		if err != nil {
			httpError(w, "document file is required", http.StatusBadRequest)
			return
		}
		defer func() { _ = file.Close() }()
		data, err := io.ReadAll(io.LimitReader(file, maxDocumentBytes+1))
		if err != nil {
			httpError(w, fmt.Sprintf("reading document: %s", err), http.StatusBadRequest)
			return
		}
		if len(data) > maxDocumentBytes {
			httpError(w, "document exceeds the size limit", http.StatusBadRequest)
			return
		}
		format, err := docextract.FormatFromMIME(header.Header.Get("Content-Type"))
		if err != nil {
			httpError(w, err.Error(), http.StatusBadRequest)
			return
		}
		amount, err := strconv.ParseInt(r.FormValue("amount"), 10, 64)
		if err != nil {
			httpError(w, "amount must be an integer", http.StatusBadRequest)
			return
		}

		res, err := s.SubmitBid(r.Context(), service.SubmitRequest{
			Document:     data,
			Format:       format,
			ExpectedName: r.FormValue("name"),
			BidAmount:    amount,
			OwnerID:      attest.OwnerID(r.FormValue("owner")),
			ListingID:    attest.ListingID(r.FormValue("listing")),
			Bidder: attest.BidderInfo{
				Name:             r.FormValue("name"),
				Email:            r.FormValue("email"),
				Phone:            r.FormValue("phone"),
				BankContactEmail: r.FormValue("bank_email"),
			},
		})
		switch {
		case errors.Is(err, service.ErrInvalidInput):
			httpError(w, err.Error(), http.StatusBadRequest)
			return
		case errors.Is(err, docextract.ErrUnreadable):
			httpError(w, "document unreadable", http.StatusUnprocessableEntity)
			return
		case errors.Is(err, attest.ErrCodeExhausted):
			httpError(w, "could not allocate a reference code", http.StatusConflict)
			return
		case err != nil:
			httpError(w, fmt.Sprintf("submitting bid: %s", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, submitResponse{
			Verified:      res.Verified,
			Reasons:       res.Reasons,
			ReferenceCode: res.ReferenceCode,
			Limit:         res.Limit,
		})
	}
}

type resolveResponse struct {
	Valid    bool               `json:"valid"`
	Approval string             `json:"approval,omitempty"`
	Note     string             `json:"note,omitempty"`
	Amount   int64              `json:"amount,omitempty"`
	Bidder   *attest.BidderInfo `json:"bidder,omitempty"`
}

type approvalRequest struct {
	Approved bool   `json:"approved"`
	Message  string `json:"message,omitempty"`
}

func codesHandler(s Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		switch {
		case len(parts) == 2 && r.Method == "GET":
			resolveCode(w, r, s, parts[1])
		case len(parts) == 3 && parts[2] == "approval" && r.Method == "POST":
			setApproval(w, r, s, parts[1])
		default:
			httpError(w, "not found", http.StatusNotFound)
		}
	}
}

func resolveCode(w http.ResponseWriter, r *http.Request, s Service, code string) {
	res, err := s.ResolveCode(r.Context(), code)
	if err != nil {
		httpError(w, fmt.Sprintf("resolving code: %s", err), http.StatusInternalServerError)
		return
	}
	if !res.Valid {
		// unknown and expired codes are indistinguishable on purpose
		writeJSON(w, http.StatusNotFound, resolveResponse{Valid: false})
		return
	}
	writeJSON(w, http.StatusOK, resolveResponse{
		Valid:    true,
		Approval: res.Approval.String(),
		Note:     res.Note,
		Amount:   res.Amount,
		Bidder:   res.Bidder,
	})
}

func setApproval(w http.ResponseWriter, r *http.Request, s Service, code string) {
	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, fmt.Sprintf("decoding approval: %s", err), http.StatusBadRequest)
		return
	}
	err := s.SetApproval(r.Context(), code, req.Approved, req.Message)
	if errors.Is(err, attest.ErrBidNotFound) {
		httpError(w, "invalid or expired code", http.StatusNotFound)
		return
	} else if err != nil {
		httpError(w, fmt.Sprintf("setting approval: %s", err), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type bidSummary struct {
	ID            string    `json:"id"`
	Amount        int64     `json:"amount"`
	ReferenceCode string    `json:"reference_code"`
	Approval      string    `json:"approval"`
	BidderName    string    `json:"bidder_name"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func listingsHandler(s Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) != 3 || parts[2] != "bids" || parts[1] == "" {
			httpError(w, "not found", http.StatusNotFound)
			return
		}
		bids, err := s.ListBids(r.Context(), attest.ListingID(parts[1]))
		if err != nil {
			httpError(w, fmt.Sprintf("listing bids: %s", err), http.StatusInternalServerError)
			return
		}
		summaries := make([]bidSummary, len(bids))
		for i, b := range bids {
			summaries[i] = bidSummary{
				ID:            string(b.ID),
				Amount:        b.Amount,
				ReferenceCode: b.ReferenceCode,
				Approval:      b.Approval.String(),
				BidderName:    b.Bidder.Name,
				CreatedAt:     b.CreatedAt,
				ExpiresAt:     b.ExpiresAt,
			}
		}
		writeJSON(w, http.StatusOK, summaries)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("write failed: %v", err)
	}
}

func httpError(w http.ResponseWriter, msg string, status int) {
	log.Debugf("request error: %s", msg)
	http.Error(w, msg, status)
}
