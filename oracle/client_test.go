package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"homeproxy/arbitration"
)

func TestNotifyOfArbitrationRequest_Accepted(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL)
	outcome, err := c.NotifyOfArbitrationRequest(context.Background(), "0x01", "0x02", "100")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Accepted {
		t.Fatal("expected accepted outcome")
	}
	if gotPath != "/arbitration/notifications" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotBody["question_id"] != "0x01" || gotBody["requester"] != "0x02" || gotBody["max_previous"] != "100" {
		t.Fatalf("unexpected body: %v", gotBody)
	}
}

func TestNotifyOfArbitrationRequest_RefusedWithReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"reason": "bond increased"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	outcome, err := c.NotifyOfArbitrationRequest(context.Background(), "0x01", "0x02", "100")
	if err != nil {
		t.Fatalf("refusal must not be an error, got: %v", err)
	}
	if outcome.Accepted {
		t.Fatal("expected refusal")
	}
	if outcome.Reason != "bond increased" {
		t.Fatalf("expected reason carried over, got %q", outcome.Reason)
	}
}

func TestNotifyOfArbitrationRequest_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL)
	if _, err := c.NotifyOfArbitrationRequest(context.Background(), "0x01", "0x02", "100"); err == nil {
		t.Fatal("expected error for 500")
	}
}

func TestNotifyOfArbitrationRequest_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := New(srv.URL)
	if _, err := c.NotifyOfArbitrationRequest(context.Background(), "0x01", "0x02", "100"); err == nil {
		t.Fatal("expected transport error")
	}
}

func TestCancelArbitration(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL)
	if err := c.CancelArbitration(context.Background(), "0x01"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/arbitration/cancellations" {
		t.Fatalf("unexpected path %q", gotPath)
	}
}

func TestAssignWinnerAndSubmitAnswerByArbitrator(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL)
	err := c.AssignWinnerAndSubmitAnswerByArbitrator(context.Background(), arbitration.AssignWinnerParams{
		QuestionID:               "0x01",
		Answer:                   "0xab",
		PayeeIfWrong:             "0x02",
		LastHistoryHash:          "0x03",
		LastAnswerOrCommitmentID: "0x04",
		LastAnswerer:             "0x05",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotBody["payee_if_wrong"] != "0x02" || gotBody["answer"] != "0xab" || gotBody["last_answerer"] != "0x05" {
		t.Fatalf("unexpected body: %v", gotBody)
	}
}
