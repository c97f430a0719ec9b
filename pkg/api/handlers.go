package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/spf13/cast"

	"github.com/DeLi-Labs/deli-app/pkg/apperr"
	"github.com/DeLi-Labs/deli-app/pkg/attachment"
	"github.com/DeLi-Labs/deli-app/pkg/capture"
	"github.com/DeLi-Labs/deli-app/pkg/indexer"
	"github.com/DeLi-Labs/deli-app/pkg/market"
	"github.com/DeLi-Labs/deli-app/pkg/payment"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := cast.ToIntE(raw)
	if err != nil || n < 0 {
		return 0, apperr.ErrValidation.Wrapf("%s must be a non-negative integer", name)
	}
	return n, nil
}

func tokenIDVar(r *http.Request) (uint64, error) {
	raw := mux.Vars(r)["tokenId"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, apperr.ErrValidation.Wrapf("tokenId must be a non-negative integer, got %q", raw)
	}
	return id, nil
}

func attachmentIDVar(r *http.Request) (int, error) {
	raw := mux.Vars(r)["attachmentId"]
	id, err := strconv.Atoi(raw)
	if err != nil || id < 0 {
		return 0, apperr.ErrValidation.Wrapf("attachmentId must be a non-negative integer, got %q", raw)
	}
	return id, nil
}

// indexerErr maps a direct indexer read onto the response taxonomy.
func indexerErr(err error) error {
	switch {
	case errors.Is(err, indexer.ErrIPNotFound):
		return apperr.ErrNotFound.Wrap("IP not found")
	case errors.Is(err, indexer.ErrCampaignNotFound):
		return apperr.ErrNotFound.Wrap("Campaign not found")
	default:
		return apperr.ErrUpstream.Wrap(err.Error())
	}
}

func (s *Server) listIPs(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	pageSize, err := queryInt(r, "pageSize", defaultPageSize)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if pageSize == 0 || pageSize > maxPageSize {
		s.writeError(w, r, apperr.ErrValidation.Wrapf("pageSize must be between 1 and %d", maxPageSize))
		return
	}

	ips, err := s.d.Indexer.GetIPList(r.Context(), page, pageSize)
	if err != nil {
		s.writeError(w, r, indexerErr(err))
		return
	}
	if ips == nil {
		ips = []indexer.IP{}
	}
	writeJSON(w, http.StatusOK, ips)
}

func (s *Server) ipDetails(w http.ResponseWriter, r *http.Request) {
	tokenID, err := tokenIDVar(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ip, err := s.d.Indexer.GetIPDetails(r.Context(), tokenID)
	if err != nil {
		s.writeError(w, r, indexerErr(err))
		return
	}
	writeJSON(w, http.StatusOK, ip)
}

func (s *Server) marketRequest(w http.ResponseWriter, r *http.Request) (uint64, string, market.Request, bool) {
	var req market.Request
	tokenID, err := tokenIDVar(r)
	if err == nil {
		err = decodeBody(r, w, &req)
	}
	if err != nil {
		s.writeError(w, r, err)
		return 0, "", req, false
	}
	return tokenID, mux.Vars(r)["campaignId"], req, true
}

func (s *Server) quote(w http.ResponseWriter, r *http.Request) {
	tokenID, campaignID, req, ok := s.marketRequest(w, r)
	if !ok {
		return
	}
	resp, err := s.d.Market.Quote(r.Context(), tokenID, campaignID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) prepareAuthorize(w http.ResponseWriter, r *http.Request) {
	tokenID, campaignID, req, ok := s.marketRequest(w, r)
	if !ok {
		return
	}
	resp, err := s.d.Market.PrepareAuthorize(r.Context(), tokenID, campaignID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type attachmentQuoteResponse struct {
	Amount json.Number `json:"amount"`
}

func (s *Server) attachmentQuote(w http.ResponseWriter, r *http.Request) {
	tokenID, err := tokenIDVar(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	attachmentID, err := attachmentIDVar(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := s.d.Attachments.Quote(r.Context(), tokenID, mux.Vars(r)["campaignId"], attachmentID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, attachmentQuoteResponse{Amount: json.Number(amount.String())})
}

type attachmentBody struct {
	Address     string        `json:"address"`
	PaymentInfo *payment.Info `json:"paymentInfo,omitempty"`
}

type challengeResponse struct {
	Error string `json:"error"`
	attachment.Challenge
}

// decodeAttachmentRequest builds the orchestrator request from the path,
// the Authorization header and, for POST, the JSON body.
func decodeAttachmentRequest(w http.ResponseWriter, r *http.Request) (attachment.Request, error) {
	tokenID, err := tokenIDVar(r)
	if err != nil {
		return attachment.Request{}, err
	}
	attachmentID, err := attachmentIDVar(r)
	if err != nil {
		return attachment.Request{}, err
	}
	req := attachment.Request{
		TokenID:       tokenID,
		CampaignID:    mux.Vars(r)["campaignId"],
		AttachmentID:  attachmentID,
		Authorization: r.Header.Get("Authorization"),
		Host:          r.Host,
	}
	if r.Method == http.MethodPost {
		var body attachmentBody
		if err := decodeBody(r, w, &body); err != nil {
			return attachment.Request{}, err
		}
		req.Address = strings.TrimSpace(body.Address)
		req.PaymentInfo = body.PaymentInfo
	}
	return req, nil
}

func (s *Server) attachment(w http.ResponseWriter, r *http.Request) {
	req, err := decodeAttachmentRequest(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res := s.d.Attachments.Serve(r.Context(), req)
	switch {
	case res.Err != nil:
		s.writeError(w, r, res.Err)
	case res.Challenge != nil:
		writeJSON(w, http.StatusUnauthorized, challengeResponse{
			Error:     apperr.ErrAuthRequired.Error(),
			Challenge: *res.Challenge,
		})
	case res.Content != nil:
		c := res.Content
		w.Header().Set("Content-Type", c.ContentType)
		w.Header().Set("Content-Disposition", `attachment; filename="`+c.Filename+`"`)
		w.Header().Set("Content-Length", strconv.Itoa(len(c.Data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(c.Data)
	default:
		s.writeError(w, r, errors.New("attachment service returned an empty result"))
	}
}

func (s *Server) captureRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.d.Captures.Get(mux.Vars(r)["id"])
	if errors.Is(err, capture.ErrCaptureNotFound) {
		writeJSONError(w, http.StatusNotFound, "Capture not found", "")
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
