package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/presence/internal/api"
	"github.com/dreamware/presence/internal/clock"
	"github.com/dreamware/presence/internal/presence"
	"github.com/dreamware/presence/internal/snapshot"
	"github.com/dreamware/presence/internal/status"
)

var epoch = time.Date(2026, 3, 14, 21, 0, 0, 0, time.UTC)

type fixture struct {
	clock   *clock.FakeClock
	store   *presence.Store
	saved   *snapshot.MemoryStore
	handler http.Handler
}

func newFixture(t *testing.T, token string) *fixture {
	t.Helper()
	clk := clock.Fake(epoch)
	saved := snapshot.NewMemoryStore(snapshot.JSON)
	store := presence.NewStore(clk, saved)
	return &fixture{
		clock:   clk,
		store:   store,
		saved:   saved,
		handler: newServer(store, token).routes(),
	}
}

func (f *fixture) do(method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) api.Response {
	t.Helper()
	var resp api.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func TestHandleStart(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*fixture)
		body     string
		wantCode int
		wantUser string
	}{
		{
			name:     "free observatory",
			body:     `{"user":"alice","target":"M42","plannedHours":2}`,
			wantCode: http.StatusOK,
			wantUser: "alice",
		},
		{
			name:     "blank user",
			body:     `{"user":"   "}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "bad json",
			body:     `{"user":`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "empty body",
			body:     ``,
			wantCode: http.StatusBadRequest,
		},
		{
			name: "occupied without force",
			setup: func(f *fixture) {
				_, _ = f.store.StartSession(presence.StartRequest{User: "bob"})
			},
			body:     `{"user":"alice"}`,
			wantCode: http.StatusConflict,
			wantUser: "bob",
		},
		{
			name: "occupied with force",
			setup: func(f *fixture) {
				_, _ = f.store.StartSession(presence.StartRequest{User: "bob"})
			},
			body:     `{"user":"alice","force":true}`,
			wantCode: http.StatusOK,
			wantUser: "alice",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "")
			if tt.setup != nil {
				tt.setup(f)
			}

			rec := f.do(http.MethodPost, "/start", tt.body, "")
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			resp := decodeResponse(t, rec)
			assert.Equal(t, tt.wantCode == http.StatusOK, resp.OK)
			if tt.wantUser != "" {
				require.NotNil(t, resp.State)
				assert.Equal(t, tt.wantUser, resp.State.User)
				assert.Equal(t, tt.wantUser, f.store.Snapshot().Session.User)
			}
			if tt.wantCode == http.StatusConflict {
				assert.Equal(t, "bob", resp.Occupant)
				require.NotNil(t, resp.Since)
				assert.Equal(t, epoch, *resp.Since)
			}
		})
	}
}

func TestHandleStartPlannedEnd(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(http.MethodPost, "/start", `{"user":"a","plannedHours":2,"plannedEnd":"2026-03-15T01:30:00Z"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.State.PlannedEnd)
	assert.Equal(t, time.Date(2026, 3, 15, 1, 30, 0, 0, time.UTC), *resp.State.PlannedEnd)
}

func TestHandleHeartbeat(t *testing.T) {
	tests := []struct {
		name     string
		occupant string
		body     string
		wantCode int
	}{
		{"occupant", "alice", `{"user":"alice"}`, http.StatusOK},
		{"occupant with whitespace", "alice", `{"user":" alice "}`, http.StatusOK},
		{"no session", "", `{"user":"alice"}`, http.StatusNotFound},
		{"someone else", "alice", `{"user":"bob"}`, http.StatusConflict},
		{"case differs", "alice", `{"user":"Alice"}`, http.StatusConflict},
		{"bad json", "alice", `nope`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "")
			if tt.occupant != "" {
				_, err := f.store.StartSession(presence.StartRequest{User: tt.occupant})
				require.NoError(t, err)
			}
			f.clock.Advance(30 * time.Second)

			rec := f.do(http.MethodPost, "/heartbeat", tt.body, "")
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())

			session := f.store.Snapshot().Session
			if tt.wantCode == http.StatusOK {
				assert.Equal(t, epoch.Add(30*time.Second), session.LastHeartbeat)
			} else if tt.occupant != "" {
				assert.Equal(t, epoch, session.LastHeartbeat)
			} else {
				assert.False(t, session.Occupied, "heartbeat never creates a session")
			}
		})
	}
}

func TestHandleRelease(t *testing.T) {
	for _, body := range []string{"", "{}"} {
		t.Run(fmt.Sprintf("body %q", body), func(t *testing.T) {
			f := newFixture(t, "")
			_, err := f.store.StartSession(presence.StartRequest{User: "alice"})
			require.NoError(t, err)

			rec := f.do(http.MethodPost, "/release", body, "")
			require.Equal(t, http.StatusOK, rec.Code)
			resp := decodeResponse(t, rec)
			assert.True(t, resp.OK)
			assert.False(t, resp.State.Occupied)

			rec = f.do(http.MethodPost, "/release", body, "")
			assert.Equal(t, http.StatusOK, rec.Code, "release is idempotent")
			assert.False(t, f.store.Snapshot().Session.Occupied)
		})
	}
}

func TestHandleHostStatus(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(http.MethodPost, "/host_status",
		`{"hostId":"obs-pc","ts":"2026-03-14T20:59:00Z","uptimeSec":3600,"cpuPercent":12.5,"memPercent":48,"diskCPercent":25,"osVersion":"Windows 10"}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(http.MethodPost, "/host_status", `{"hostId":"obs-pc","cpuPercent":80}`, "")
	require.Equal(t, http.StatusOK, rec.Code)

	host := f.store.Snapshot().Hosts["obs-pc"]
	assert.Equal(t, 80.0, host.CPUPercent)
	assert.Zero(t, host.MemPercent, "reports replace, they do not merge")
	assert.Empty(t, host.OSVersion)
	assert.Equal(t, epoch, host.Timestamp, "missing ts is stamped with server time")

	rec = f.do(http.MethodPost, "/host_status", `{"hostId":" "}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleTelescopeStatus(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"full report", `{"hostId":"obs-pc","raHours":5.5,"decDeg":-5.4,"frame":"J2000","tracking":true,"slewing":false}`, http.StatusOK},
		{"unknown flags", `{"hostId":"obs-pc","raHours":5.5,"decDeg":-5.4}`, http.StatusOK},
		{"ra out of range", `{"hostId":"obs-pc","raHours":24,"decDeg":0}`, http.StatusBadRequest},
		{"dec out of range", `{"hostId":"obs-pc","raHours":1,"decDeg":91}`, http.StatusBadRequest},
		{"blank host", `{"hostId":"","raHours":1,"decDeg":1}`, http.StatusBadRequest},
		{"bad json", `[`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "")
			rec := f.do(http.MethodPost, "/telescope_status", tt.body, "")
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			_, ok := f.store.Snapshot().Telescopes["obs-pc"]
			assert.Equal(t, tt.wantCode == http.StatusOK, ok)
		})
	}
}

func TestHandleTelescopeStatusTriState(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(http.MethodPost, "/telescope_status", `{"hostId":"obs-pc","raHours":1,"decDeg":1,"tracking":true}`, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/status", "", "")
	var view status.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))

	scope := view.Telescope["obs-pc"]
	require.NotNil(t, scope.Tracking)
	assert.True(t, *scope.Tracking)
	assert.Nil(t, scope.Slewing)
	assert.Contains(t, rec.Body.String(), `"slewing":null`)
}

func TestHandleStatus(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(http.MethodGet, "/status", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"occupied":false,"hosts":{},"telescope":{}}`, rec.Body.String())

	_, err := f.store.StartSession(presence.StartRequest{User: "alice", Target: "M31"})
	require.NoError(t, err)
	savesBefore := f.saved.Saves()

	rec = f.do(http.MethodGet, "/status", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view status.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.True(t, view.Occupied)
	assert.Equal(t, "M31", view.Target)
	assert.Equal(t, savesBefore, f.saved.Saves(), "reads never persist")
}

func TestHandleStats(t *testing.T) {
	f := newFixture(t, "")
	f.do(http.MethodPost, "/start", `{"user":"alice"}`, "")
	f.do(http.MethodPost, "/start", `{"user":"bob"}`, "")
	f.do(http.MethodPost, "/heartbeat", `{"user":"bob"}`, "")

	rec := f.do(http.MethodGet, "/stats", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats presence.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.EqualValues(t, 1, stats.Starts)
	assert.EqualValues(t, 1, stats.Conflicts)
	assert.EqualValues(t, 1, stats.RejectedHeartbeats)
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t, "secret")
	rec := f.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(http.MethodGet, "/start", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = f.do(http.MethodPost, "/status", "{}", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAuthorization(t *testing.T) {
	endpoints := []struct {
		path string
		body string
	}{
		{"/start", `{"user":"alice"}`},
		{"/heartbeat", `{"user":"alice"}`},
		{"/release", `{}`},
		{"/host_status", `{"hostId":"h"}`},
		{"/telescope_status", `{"hostId":"h","raHours":1,"decDeg":1}`},
	}

	for _, ep := range endpoints {
		t.Run(ep.path, func(t *testing.T) {
			f := newFixture(t, "s3cret")

			rec := f.do(http.MethodPost, ep.path, ep.body, "")
			assert.Equal(t, http.StatusUnauthorized, rec.Code, "missing token")

			rec = f.do(http.MethodPost, ep.path, ep.body, "wrong")
			assert.Equal(t, http.StatusUnauthorized, rec.Code, "wrong token")

			req := httptest.NewRequest(http.MethodPost, ep.path, strings.NewReader(ep.body))
			req.Header.Set("Authorization", "Basic s3cret")
			r := httptest.NewRecorder()
			f.handler.ServeHTTP(r, req)
			assert.Equal(t, http.StatusUnauthorized, r.Code, "wrong scheme")

			assert.Zero(t, f.saved.Saves(), "rejected requests change nothing")

			rec = f.do(http.MethodPost, ep.path, ep.body, "s3cret")
			assert.NotEqual(t, http.StatusUnauthorized, rec.Code)
		})
	}

	t.Run("reads are open", func(t *testing.T) {
		f := newFixture(t, "s3cret")
		assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/status", "", "").Code)
		assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/stats", "", "").Code)
	})
}

func TestBodyLimit(t *testing.T) {
	f := newFixture(t, "")
	big := `{"user":"alice","target":"` + strings.Repeat("x", maxBodyBytes) + `"}`

	rec := f.do(http.MethodPost, "/start", big, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "exceeds")
	assert.False(t, f.store.Snapshot().Session.Occupied)
}

func TestSaveFailureDoesNotFailRequest(t *testing.T) {
	f := newFixture(t, "")
	f.saved.FailSaves(errors.New("disk full"))

	rec := f.do(http.MethodPost, "/start", `{"user":"alice"}`, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.store.Snapshot().Session.Occupied)

	stats := f.store.Stats()
	assert.EqualValues(t, 1, stats.SaveFailures)
	assert.Contains(t, stats.LastSaveError, "disk full")
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: user is required", presence.ErrInvalid), http.StatusBadRequest},
		{&presence.ConflictError{Occupant: "bob"}, http.StatusConflict},
		{presence.ErrNoSession, http.StatusNotFound},
		{presence.ErrNotOccupant, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusCode(tt.err), tt.err.Error())
	}
}

func TestConcurrentRequests(t *testing.T) {
	f := newFixture(t, "")
	const workers = 20

	var wg sync.WaitGroup
	codes := make(chan int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := f.do(http.MethodPost, "/start", fmt.Sprintf(`{"user":"user-%d"}`, i), "")
			codes <- rec.Code
			f.do(http.MethodPost, "/host_status", fmt.Sprintf(`{"hostId":"host-%d"}`, i), "")
			f.do(http.MethodGet, "/status", "", "")
		}(i)
	}
	wg.Wait()
	close(codes)

	var ok, conflict int
	for code := range codes {
		switch code {
		case http.StatusOK:
			ok++
		case http.StatusConflict:
			conflict++
		}
	}
	assert.Equal(t, 1, ok, "exactly one start wins")
	assert.Equal(t, workers-1, conflict)
	assert.Len(t, f.store.Snapshot().Hosts, workers)
}
