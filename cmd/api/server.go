package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"homeproxy/arbitration"
	"homeproxy/bridge"
	"homeproxy/gateway"
)

// GatewayService is the inbound dispatch surface used by the handlers.
type GatewayService interface {
	RegisterForeignProxy(ctx context.Context, address string, chainID int64) error
	ReceiveArbitrationRequest(ctx context.Context, caller, questionID, requester, maxPrevious string) error
	ReceiveArbitrationAnswer(ctx context.Context, caller, questionID, answer string) error
	ReceiveArbitrationFailure(ctx context.Context, caller, questionID, requester string) error
	HandleNotifiedRequest(ctx context.Context, questionID, requester string) error
	HandleRejectedRequest(ctx context.Context, questionID, requester string) error
	ReportArbitrationAnswer(ctx context.Context, params arbitration.ReportParams) error
}

// LedgerReader serves the read-only inspection endpoints.
type LedgerReader interface {
	GetRequest(ctx context.Context, questionID, requester string) (arbitration.Request, error)
	ListEvents(ctx context.Context, questionID string) ([]arbitration.Event, error)
}

// OutboxReader serves the relayer pickup endpoints.
type OutboxReader interface {
	ListPending(ctx context.Context, limit int) ([]bridge.Message, error)
	MarkRelayed(ctx context.Context, id string) (bridge.Message, error)
}

// TokenVerifier authenticates forward-channel deliveries.
type TokenVerifier interface {
	VerifySender(tokenString string) (string, error)
}

type Server struct {
	gatewayService GatewayService
	ledger         LedgerReader
	outbox         OutboxReader
	verifier       TokenVerifier
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/config/foreign-proxy", s.handleForeignProxyConfig)
	mux.HandleFunc("/api/bridge/requests", s.handleBridgeRequests)
	mux.HandleFunc("/api/bridge/answers", s.handleBridgeAnswers)
	mux.HandleFunc("/api/bridge/failures", s.handleBridgeFailures)
	mux.HandleFunc("/api/arbitration/acknowledgements", s.handleAcknowledgements)
	mux.HandleFunc("/api/arbitration/cancellations", s.handleCancellations)
	mux.HandleFunc("/api/arbitration/reports", s.handleReports)
	mux.HandleFunc("/api/arbitration/requests", s.handleRequestLookup)
	mux.HandleFunc("/api/arbitration/events", s.handleEvents)
	mux.HandleFunc("/api/outbox", s.handleOutbox)
	mux.HandleFunc("/api/outbox/", s.handleOutboxDetail)
	return mux
}

type requestResponse struct {
	QuestionID       string  `json:"questionId"`
	Requester        string  `json:"requester"`
	Status           string  `json:"status"`
	ArbitratorAnswer *string `json:"arbitratorAnswer,omitempty"`
	CreatedAt        string  `json:"createdAt,omitempty"`
	UpdatedAt        string  `json:"updatedAt,omitempty"`
}

type eventResponse struct {
	ID         int64           `json:"id"`
	QuestionID string          `json:"questionId"`
	Requester  string          `json:"requester"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  string          `json:"createdAt"`
}

type messageResponse struct {
	ID        string          `json:"id"`
	Target    string          `json:"target"`
	ChainID   int64           `json:"chainId"`
	Operation string          `json:"operation"`
	Payload   json.RawMessage `json:"payload"`
	Hash      string          `json:"hash"`
	Status    string          `json:"status"`
	Attempts  int             `json:"attempts"`
	CreatedAt string          `json:"createdAt"`
	RelayedAt string          `json:"relayedAt,omitempty"`
}

func (s *Server) handleForeignProxyConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Address string `json:"address"`
		ChainID int64  `json:"chainId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if err := s.gatewayService.RegisterForeignProxy(r.Context(), body.Address, body.ChainID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// bridgeSender authenticates a forward-channel delivery and returns the
// origin-chain sender the bridge token vouches for.
func (s *Server) bridgeSender(w http.ResponseWriter, r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		http.Error(w, "missing bridge token", http.StatusUnauthorized)
		return "", false
	}
	sender, err := s.verifier.VerifySender(token)
	if err != nil {
		http.Error(w, "invalid bridge token", http.StatusUnauthorized)
		return "", false
	}
	return sender, true
}

func (s *Server) handleBridgeRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sender, ok := s.bridgeSender(w, r)
	if !ok {
		return
	}
	var body struct {
		QuestionID  string `json:"questionId"`
		Requester   string `json:"requester"`
		MaxPrevious string `json:"maxPrevious"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if err := s.gatewayService.ReceiveArbitrationRequest(r.Context(), sender, body.QuestionID, body.Requester, body.MaxPrevious); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBridgeAnswers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sender, ok := s.bridgeSender(w, r)
	if !ok {
		return
	}
	var body struct {
		QuestionID string `json:"questionId"`
		Answer     string `json:"answer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if err := s.gatewayService.ReceiveArbitrationAnswer(r.Context(), sender, body.QuestionID, body.Answer); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBridgeFailures(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sender, ok := s.bridgeSender(w, r)
	if !ok {
		return
	}
	var body struct {
		QuestionID string `json:"questionId"`
		Requester  string `json:"requester"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if err := s.gatewayService.ReceiveArbitrationFailure(r.Context(), sender, body.QuestionID, body.Requester); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAcknowledgements(w http.ResponseWriter, r *http.Request) {
	s.handleNudge(w, r, s.gatewayService.HandleNotifiedRequest)
}

func (s *Server) handleCancellations(w http.ResponseWriter, r *http.Request) {
	s.handleNudge(w, r, s.gatewayService.HandleRejectedRequest)
}

// handleNudge serves the permissionless entry points: no authentication, the
// status guard in the state machine is the whole access control.
func (s *Server) handleNudge(w http.ResponseWriter, r *http.Request, op func(context.Context, string, string) error) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		QuestionID string `json:"questionId"`
		Requester  string `json:"requester"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if err := op(r.Context(), body.QuestionID, body.Requester); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		QuestionID               string `json:"questionId"`
		LastHistoryHash          string `json:"lastHistoryHash"`
		LastAnswerOrCommitmentID string `json:"lastAnswerOrCommitmentId"`
		LastAnswerer             string `json:"lastAnswerer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	err := s.gatewayService.ReportArbitrationAnswer(r.Context(), arbitration.ReportParams{
		QuestionID:               body.QuestionID,
		LastHistoryHash:          body.LastHistoryHash,
		LastAnswerOrCommitmentID: body.LastAnswerOrCommitmentID,
		LastAnswerer:             body.LastAnswerer,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRequestLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	questionID := r.URL.Query().Get("questionId")
	requester := r.URL.Query().Get("requester")
	if questionID == "" || requester == "" {
		http.Error(w, "questionId and requester are required", http.StatusBadRequest)
		return
	}
	req, err := s.ledger.GetRequest(r.Context(), questionID, requester)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestResponse(req))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	questionID := r.URL.Query().Get("questionId")
	if questionID == "" {
		http.Error(w, "questionId is required", http.StatusBadRequest)
		return
	}
	events, err := s.ledger.ListEvents(r.Context(), questionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	items := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		items = append(items, eventResponse{
			ID:         ev.ID,
			QuestionID: ev.QuestionID,
			Requester:  ev.Requester,
			Type:       ev.Type,
			Payload:    json.RawMessage(ev.Payload),
			CreatedAt:  ev.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

func (s *Server) handleOutbox(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	msgs, err := s.outbox.ListPending(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	items := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, toMessageResponse(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

func (s *Server) handleOutboxDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/outbox/")
	id, action, found := strings.Cut(rest, "/")
	if !found || id == "" || action != "relayed" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	msg, err := s.outbox.MarkRelayed(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMessageResponse(msg))
}

func toRequestResponse(req arbitration.Request) requestResponse {
	resp := requestResponse{
		QuestionID:       req.QuestionID,
		Requester:        req.Requester,
		Status:           string(req.Status),
		ArbitratorAnswer: req.ArbitratorAnswer,
	}
	if !req.CreatedAt.IsZero() {
		resp.CreatedAt = req.CreatedAt.Format(time.RFC3339)
		resp.UpdatedAt = req.UpdatedAt.Format(time.RFC3339)
	}
	return resp
}

func toMessageResponse(m bridge.Message) messageResponse {
	resp := messageResponse{
		ID:        m.ID,
		Target:    m.Target,
		ChainID:   m.ChainID,
		Operation: m.Operation,
		Payload:   json.RawMessage(m.Payload),
		Hash:      m.Hash,
		Status:    string(m.Status),
		Attempts:  m.Attempts,
		CreatedAt: m.CreatedAt.Format(time.RFC3339),
	}
	if m.RelayedAt != nil {
		resp.RelayedAt = m.RelayedAt.Format(time.RFC3339)
	}
	return resp
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gateway.ErrInvalidArgument):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, gateway.ErrUnauthorizedCaller):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, arbitration.ErrInvalidStatus),
		errors.Is(err, arbitration.ErrNoArbitrator),
		errors.Is(err, gateway.ErrAlreadyConfigured),
		errors.Is(err, gateway.ErrNotConfigured),
		errors.Is(err, bridge.ErrAlreadyRelayed):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, bridge.ErrMessageNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
