// Package api is the HTTP surface of the gateway.
package api

import (
	"context"
	"fmt"
	"math/big"
	"net/http"

	"cosmossdk.io/log"
	"github.com/gorilla/mux"

	"github.com/DeLi-Labs/deli-app/pkg/attachment"
	"github.com/DeLi-Labs/deli-app/pkg/capture"
	"github.com/DeLi-Labs/deli-app/pkg/indexer"
	"github.com/DeLi-Labs/deli-app/pkg/market"
)

const maxBodyBytes = 1 << 20

// Attachments serves attachment bodies and quotes.
type Attachments interface {
	Serve(ctx context.Context, req attachment.Request) attachment.Result
	Quote(ctx context.Context, tokenID uint64, campaignID string, attachmentID int) (*big.Int, error)
}

// Market prepares swap and payment-authorization transactions.
type Market interface {
	Quote(ctx context.Context, tokenID uint64, campaignID string, req market.Request) (*market.QuoteResponse, error)
	PrepareAuthorize(ctx context.Context, tokenID uint64, campaignID string, req market.Request) (*market.AuthorizeResponse, error)
}

// CaptureLedger reads capture records.
type CaptureLedger interface {
	Get(id string) (*capture.Record, error)
}

// Probe reports whether an upstream is reachable.
type Probe func(ctx context.Context) bool

// Deps are the services behind the routes. Captures may be nil.
type Deps struct {
	Indexer     indexer.Gateway
	Attachments Attachments
	Market      Market
	Captures    CaptureLedger
	Probes      map[string]Probe
}

type Options struct {
	ListenAddr string
	CORSOrigin string
	// AdminToken enables the admin routes when set.
	AdminToken string
	// Backends names the selected gateway variants, reported by /status.
	Backends map[string]string
}

type Server struct {
	d      Deps
	opts   Options
	logger log.Logger
	router *mux.Router
}

func NewServer(d Deps, opts Options, logger log.Logger) (*Server, error) {
	switch {
	case d.Indexer == nil:
		return nil, fmt.Errorf("indexer gateway is required")
	case d.Attachments == nil:
		return nil, fmt.Errorf("attachment service is required")
	case d.Market == nil:
		return nil, fmt.Errorf("market service is required")
	}
	if opts.CORSOrigin == "" {
		opts.CORSOrigin = "*"
	}
	s := &Server{
		d:      d,
		opts:   opts,
		logger: logger.With(log.ModuleKey, "api"),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestLog, s.cors)

	r.HandleFunc("/health", s.health).Methods("GET", "OPTIONS")
	r.HandleFunc("/status", s.status).Methods("GET", "OPTIONS")

	// Public routes live on the root router so a wrong method reaches
	// MethodNotAllowedHandler; mux subrouters answer it with 404.
	r.HandleFunc("/api/ip", s.listIPs).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/ip/{tokenId}", s.ipDetails).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/ip/{tokenId}/{campaignId}/quote", s.quote).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/ip/{tokenId}/{campaignId}/prepareAuthorize", s.prepareAuthorize).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/ip/{tokenId}/{campaignId}/{attachmentId}/quote", s.attachmentQuote).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/ip/{tokenId}/{campaignId}/{attachmentId}", s.attachment).Methods("GET", "POST", "OPTIONS")

	if s.d.Captures != nil && s.opts.AdminToken != "" {
		admin := r.PathPrefix("/api/admin").Subrouter()
		admin.Use(s.requireAdmin)
		admin.HandleFunc("/captures/{id}", s.captureRecord).Methods("GET", "OPTIONS")
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, "Not found", "")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed", "")
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
