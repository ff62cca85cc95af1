// Package apitest provides an in-process fake of the remote API.
package apitest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/julienschmidt/httprouter"

	"github.com/toolbar-labs/magic-tracker/api"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Request is a request recorded by the fake.
type Request struct {
	Method    string
	Path      string
	Token     string
	RequestID string
}

type failure struct {
	status int
	body   string
}

type refreshGrant struct {
	accessToken  string
	refreshToken string
	expiresIn    time.Duration
}

// FakeServer serves the subset of the API the tracker talks to.
type FakeServer struct {
	srv       *httptest.Server
	idCounter uint64
	refreshes int32

	mu            sync.Mutex
	jobs          []api.Job
	statuses      map[string]string
	accessTokens  map[string]bool
	refreshGrants map[string]refreshGrant
	createFailure *failure
	profile       api.Profile
	requests      []Request
}

// NewFakeServer starts a fake API server. Call Close when done.
func NewFakeServer() *FakeServer {
	router := httprouter.New()
	s := &FakeServer{
		statuses:      make(map[string]string),
		accessTokens:  make(map[string]bool),
		refreshGrants: make(map[string]refreshGrant),
		srv:           httptest.NewServer(router),
	}

	router.POST("/auth/refresh", func(rw http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		atomic.AddInt32(&s.refreshes, 1)
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(rw, http.StatusBadRequest, "BAD_REQUEST", err.Error())
			return
		}
		s.mu.Lock()
		grant, ok := s.refreshGrants[body.RefreshToken]
		if ok {
			delete(s.refreshGrants, body.RefreshToken)
			s.accessTokens[grant.accessToken] = true
		}
		s.mu.Unlock()
		if !ok {
			writeError(rw, http.StatusUnauthorized, api.CodeUnauthenticated, "refresh token is invalid")
			return
		}
		writeJSON(rw, http.StatusOK, map[string]interface{}{
			"token":        grant.accessToken,
			"refreshToken": grant.refreshToken,
			"expiresIn":    int64(grant.expiresIn / time.Second),
		})
	})

	router.POST("/jobs/create", s.authorized(func(rw http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req api.CreateJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(rw, http.StatusBadRequest, "BAD_REQUEST", err.Error())
			return
		}
		s.mu.Lock()
		if f := s.createFailure; f != nil {
			s.mu.Unlock()
			rw.Header().Set("Content-Type", "application/json")
			rw.WriteHeader(f.status)
			_, _ = rw.Write([]byte(f.body))
			return
		}
		id := fmt.Sprintf("job-%d", atomic.AddUint64(&s.idCounter, 1))
		job := api.Job{
			ID:        id,
			Name:      jobName(req.Message),
			URL:       s.srv.URL + "/p/" + id,
			CreatedAt: time.Now().UTC().Truncate(time.Second),
			Status:    api.JobGenerating,
		}
		s.jobs = append([]api.Job{job}, s.jobs...)
		s.statuses[id] = `{"total":0,"completed":0,"errors":0,"loading":0,"isCompleted":false,"hasErrors":false,"isInProgress":true}`
		s.mu.Unlock()
		writeJSON(rw, http.StatusOK, map[string]interface{}{"job": job})
	}))

	router.GET("/jobs/:id/status", s.authorized(func(rw http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id := ps.ByName("id")
		s.mu.Lock()
		status, ok := s.statuses[id]
		s.mu.Unlock()
		if !ok {
			writeError(rw, http.StatusNotFound, "NOT_FOUND", "job not found")
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(rw, `{"job":{"id":%q,"url":%q},"status":%s}`, id, s.srv.URL+"/p/"+id, status)
	}))

	router.GET("/jobs", s.authorized(func(rw http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		s.mu.Lock()
		jobs := append([]api.Job{}, s.jobs...)
		s.mu.Unlock()
		writeJSON(rw, http.StatusOK, map[string]interface{}{"jobs": jobs})
	}))

	router.GET("/user/info", s.authorized(func(rw http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		s.mu.Lock()
		profile := s.profile
		s.mu.Unlock()
		writeJSON(rw, http.StatusOK, profile)
	}))

	return s
}

// URL is the base URL of the fake.
func (s *FakeServer) URL() string {
	return s.srv.URL
}

// Close shuts the fake down.
func (s *FakeServer) Close() {
	s.srv.Close()
}

// AllowToken makes an access token acceptable.
func (s *FakeServer) AllowToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTokens[token] = true
}

// RevokeToken makes an access token unacceptable.
func (s *FakeServer) RevokeToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accessTokens, token)
}

// GrantRefresh lets refreshToken be exchanged once for the given credentials.
func (s *FakeServer) GrantRefresh(refreshToken, accessToken, nextRefreshToken string, expiresIn time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshGrants[refreshToken] = refreshGrant{
		accessToken:  accessToken,
		refreshToken: nextRefreshToken,
		expiresIn:    expiresIn,
	}
}

// RefreshCalls counts the calls to /auth/refresh.
func (s *FakeServer) RefreshCalls() int {
	return int(atomic.LoadInt32(&s.refreshes))
}

// FailCreate makes job creation answer with the given status and raw body.
// A zero status restores normal behavior.
func (s *FakeServer) FailCreate(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		s.createFailure = nil
		return
	}
	s.createFailure = &failure{status: status, body: body}
}

// AddJob adds a job to the top of the list.
func (s *FakeServer) AddJob(job api.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append([]api.Job{job}, s.jobs...)
}

// SetStatus sets the raw JSON status block returned for a job.
func (s *FakeServer) SetStatus(jobID, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[jobID] = status
	if strings.Contains(status, `"isCompleted":true`) {
		for i := range s.jobs {
			if s.jobs[i].ID == jobID {
				s.jobs[i].Status = api.JobCompleted
			}
		}
	}
}

// SetProfile sets the profile returned by /user/info.
func (s *FakeServer) SetProfile(profile api.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = profile
}

// Requests returns the authorized requests received so far.
func (s *FakeServer) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request{}, s.requests...)
}

func (s *FakeServer) authorized(handle httprouter.Handle) httprouter.Handle {
	return func(rw http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method:    r.Method,
			Path:      r.URL.Path,
			Token:     token,
			RequestID: r.Header.Get("X-Request-ID"),
		})
		ok := s.accessTokens[token]
		s.mu.Unlock()
		if !ok {
			writeError(rw, http.StatusUnauthorized, api.CodeUnauthenticated, "invalid token")
			return
		}
		handle(rw, r, ps)
	}
}

func jobName(message string) string {
	const maxLen = 40
	if len(message) > maxLen {
		return message[:maxLen]
	}
	return message
}

func writeJSON(rw http.ResponseWriter, status int, value interface{}) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	if err := json.NewEncoder(rw).Encode(value); err != nil {
		panic(err)
	}
}

func writeError(rw http.ResponseWriter, status int, code, message string) {
	writeJSON(rw, status, map[string]string{"code": code, "error": message})
}
