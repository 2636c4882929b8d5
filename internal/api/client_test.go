package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClient_ErrorIncludesBody(t *testing.T) {
	t.Parallel()

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"nope"}`))
	}))
	defer s.Close()

	c := NewClient(s.URL)
	_, err := c.Details(context.Background(), "!00000001")
	if err == nil {
		t.Fatalf("expected error")
	}
	got := err.Error()
	if got == "" || got[len(got)-1] == '\n' {
		t.Fatalf("unexpected error string: %q", got)
	}
	if want := "404"; !strings.Contains(got, want) {
		t.Fatalf("error missing status: %q", got)
	}
	if want := `"error":"nope"`; !strings.Contains(got, want) {
		t.Fatalf("error missing body: %q", got)
	}
}

func TestClient_SendDMEncodesQuery(t *testing.T) {
	t.Parallel()

	var gotID, gotMsg string
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/dm" {
			t.Errorf("path=%q", r.URL.Path)
		}
		gotID = r.URL.Query().Get("id")
		gotMsg = r.URL.Query().Get("message")
		_ = json.NewEncoder(w).Encode(MessageResponse{Message: "sent"})
	}))
	defer s.Close()

	resp, err := NewClient(s.URL+"/").SendDM(context.Background(), "!0000beef", "hi & bye")
	if err != nil {
		t.Fatalf("SendDM: %v", err)
	}
	if resp.Message != "sent" || gotID != "!0000beef" || gotMsg != "hi & bye" {
		t.Fatalf("resp=%+v id=%q msg=%q", resp, gotID, gotMsg)
	}
}

func TestClient_UpdatesNullFlash(t *testing.T) {
	t.Parallel()

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("rowmax") != "5" {
			t.Errorf("rowmax=%q", r.URL.Query().Get("rowmax"))
		}
		_, _ = w.Write([]byte(`{"summary":{"columns":["Total"],"values":[3]},"messages":[],"packets":[],"flash":null}`))
	}))
	defer s.Close()

	resp, err := NewClient(s.URL).Updates(context.Background(), 5)
	if err != nil {
		t.Fatalf("Updates: %v", err)
	}
	if resp.Flash != nil || resp.Summary.Get("Total") != 3 {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestClient_ExportCSVStreamsBody(t *testing.T) {
	t.Parallel()

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte("datetime,from_id\n"))
	}))
	defer s.Close()

	var buf bytes.Buffer
	if err := NewClient(s.URL).ExportCSV(context.Background(), &buf); err != nil {
		t.Fatalf("ExportCSV: %v", err)
	}
	if buf.String() != "datetime,from_id\n" {
		t.Fatalf("body=%q", buf.String())
	}
}
