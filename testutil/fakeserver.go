// Package testutil provides the in-process fake shoebox API server and
// data-directory fixtures shared by client, engine, and end-to-end tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// Request is one recorded API call.
type Request struct {
	Method string
	Path   string
	Body   []byte
}

// routeFailure injects failures for a route until its budget runs out.
type routeFailure struct {
	status    int
	remaining int
}

// FakeServer is an in-process stand-in for the hosted shoebox API. It
// stores entity bodies verbatim, records every request, and lets tests
// inject per-route failures to exercise retry and failure classification.
type FakeServer struct {
	*httptest.Server

	// Token, when set, is the only accepted bearer token; everything else
	// gets 401. Empty accepts any non-empty token.
	Token string

	mu          sync.Mutex
	collections map[string]map[string]json.RawMessage
	content     map[string][]byte
	requests    []Request
	failures    map[string]*routeFailure
}

// NewServer starts a fake API server. Callers own Close.
func NewServer() *FakeServer {
	s := &FakeServer{
		collections: map[string]map[string]json.RawMessage{
			"receipts":  {},
			"devices":   {},
			"documents": {},
		},
		content:  make(map[string][]byte),
		failures: make(map[string]*routeFailure),
	}

	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))

	return s
}

// FailNext makes the next n requests matching "METHOD /path" return the
// given status instead of their normal response.
func (s *FakeServer) FailNext(route string, status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures[route] = &routeFailure{status: status, remaining: n}
}

// Requests returns a copy of every recorded request.
func (s *FakeServer) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Request(nil), s.requests...)
}

// RequestCount returns how many recorded requests match "METHOD /path".
func (s *FakeServer) RequestCount(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0

	for _, r := range s.requests {
		if r.Method+" "+r.Path == route {
			count++
		}
	}

	return count
}

// Entity returns the stored body for one entity, decoded into out.
// The second return reports presence.
func (s *FakeServer) Entity(collection, id string, out any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	body, ok := s.collections[collection][id]
	if !ok {
		return false, nil
	}

	if out == nil {
		return true, nil
	}

	return true, json.Unmarshal(body, out)
}

// EntityCount returns how many entities a collection holds.
func (s *FakeServer) EntityCount(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.collections[collection])
}

// PutEntity seeds one entity, as if another device had synced it.
func (s *FakeServer) PutEntity(collection, id string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.collections[collection][id] = data

	return nil
}

// Content returns uploaded document content.
func (s *FakeServer) Content(id string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.content[id]

	return data, ok
}

func (s *FakeServer) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.requests = append(s.requests, Request{Method: r.Method, Path: r.URL.Path, Body: body})

	if f, ok := s.failures[r.Method+" "+r.URL.Path]; ok && f.remaining > 0 {
		f.remaining--
		status := f.status
		s.mu.Unlock()

		w.WriteHeader(status)
		fmt.Fprintf(w, `{"message":"injected failure"}`)

		return
	}
	s.mu.Unlock()

	if r.URL.Path == "/healthz" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if !s.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprintf(w, `{"message":"invalid token"}`)

		return
	}

	if r.URL.Path == "/v1/me" {
		writeJSON(w, http.StatusOK, map[string]string{
			"id":          "acct-1",
			"email":       "user@example.com",
			"displayName": "Test User",
		})

		return
	}

	collection, id, sub := splitEntityPath(r.URL.Path)
	if collection == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if sub == "content" {
		s.handleContent(w, r, id, body)
		return
	}

	s.handleEntity(w, r, collection, id, body)
}

func (s *FakeServer) authorized(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return false
	}

	return s.Token == "" || token == s.Token
}

// splitEntityPath parses /v1/<collection>[/<id>[/<sub>]].
func splitEntityPath(path string) (collection, id, sub string) {
	rest, ok := strings.CutPrefix(path, "/v1/")
	if !ok {
		return "", "", ""
	}

	parts := strings.SplitN(rest, "/", 3)

	switch parts[0] {
	case "receipts", "devices", "documents":
	default:
		return "", "", ""
	}

	collection = parts[0]

	if len(parts) > 1 {
		id = parts[1]
	}

	if len(parts) > 2 {
		sub = parts[2]
	}

	return collection, id, sub
}

func (s *FakeServer) handleEntity(w http.ResponseWriter, r *http.Request, collection, id string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entities := s.collections[collection]

	switch {
	case r.Method == http.MethodGet && id == "":
		items := make([]json.RawMessage, 0, len(entities))
		for _, e := range entities {
			items = append(items, e)
		}

		writeJSON(w, http.StatusOK, map[string]any{"items": items})

	case r.Method == http.MethodPost && id == "":
		entityID, err := idFromBody(body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
			return
		}

		if _, exists := entities[entityID]; exists {
			writeJSON(w, http.StatusConflict, map[string]string{"message": "entity already exists"})
			return
		}

		entities[entityID] = body
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write(body)

	case r.Method == http.MethodPut && id != "":
		if _, exists := entities[id]; !exists {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "no such entity"})
			return
		}

		entities[id] = body
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)

	case r.Method == http.MethodDelete && id != "":
		if _, exists := entities[id]; !exists {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "no such entity"})
			return
		}

		delete(entities, id)
		delete(s.content, id)
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *FakeServer) handleContent(w http.ResponseWriter, r *http.Request, id string, body []byte) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.collections["documents"][id]; !exists {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "no such document"})
		return
	}

	s.content[id] = body
	w.WriteHeader(http.StatusNoContent)
}

func idFromBody(body []byte) (string, error) {
	var parsed struct {
		ID string `json:"id"`
	}

	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("malformed body: %v", err)
	}

	if parsed.ID == "" {
		return "", fmt.Errorf("missing id")
	}

	return parsed.ID, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}
