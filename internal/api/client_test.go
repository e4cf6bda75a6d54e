package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/presence/internal/presence"
	"github.com/dreamware/presence/internal/status"
)

type recorded struct {
	mu     sync.Mutex
	method string
	path   string
	auth   string
	body   map[string]any
}

// last returns a copy of the most recent request.
func (r *recorded) last() recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return recorded{method: r.method, path: r.path, auth: r.auth, body: r.body}
}

func newTestServer(t *testing.T, code int, reply any) (*httptest.Server, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if r.Method == http.MethodPost {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		rec.mu.Lock()
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.auth = r.Header.Get("Authorization")
		rec.body = body
		rec.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if reply != nil {
			_ = json.NewEncoder(w).Encode(reply)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestClientStart(t *testing.T) {
	srv, recorder := newTestServer(t, http.StatusOK, Response{OK: true, State: &status.View{Occupied: true, User: "alice"}})
	c := NewClient(srv.URL+"/", "s3cret")

	end := time.Date(2026, 3, 14, 23, 0, 0, 0, time.UTC)
	resp, err := c.Start(context.Background(), StartRequest{User: "alice", Target: "M42", PlannedEnd: &end, Force: true})
	require.NoError(t, err)

	assert.True(t, resp.OK)
	require.NotNil(t, resp.State)
	assert.Equal(t, "alice", resp.State.User)

	rec := recorder.last()
	assert.Equal(t, http.MethodPost, rec.method)
	assert.Equal(t, "/start", rec.path)
	assert.Equal(t, "Bearer s3cret", rec.auth)
	assert.Equal(t, "alice", rec.body["user"])
	assert.Equal(t, "M42", rec.body["target"])
	assert.Equal(t, "2026-03-14T23:00:00Z", rec.body["plannedEnd"])
	assert.Equal(t, true, rec.body["force"])
	assert.NotContains(t, rec.body, "plannedHours")
}

func TestClientStartConflict(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusConflict, Response{Message: "observatory is occupied", Occupant: "bob"})
	c := NewClient(srv.URL, "")

	_, err := c.Start(context.Background(), StartRequest{User: "alice"})
	require.Error(t, err)

	assert.ErrorIs(t, err, presence.ErrConflict)
	assert.NotErrorIs(t, err, presence.ErrNotOccupant)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "bob", se.Occupant)
	assert.Contains(t, err.Error(), "occupied by bob")
}

func TestClientHeartbeatErrors(t *testing.T) {
	tests := []struct {
		name string
		code int
		want error
		not  error
	}{
		{"no session", http.StatusNotFound, presence.ErrNoSession, presence.ErrNotOccupant},
		{"not occupant", http.StatusConflict, presence.ErrNotOccupant, presence.ErrConflict},
		{"invalid", http.StatusBadRequest, presence.ErrInvalid, presence.ErrMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, recorder := newTestServer(t, tt.code, Response{Message: tt.name})
			err := NewClient(srv.URL, "").Heartbeat(context.Background(), "alice")
			rec := recorder.last()

			assert.ErrorIs(t, err, tt.want)
			assert.NotErrorIs(t, err, tt.not)
			assert.Empty(t, rec.auth)
			assert.Equal(t, "alice", rec.body["user"])
		})
	}
}

func TestClientUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "wrong").Release(context.Background())
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
	assert.Equal(t, "http 401: unauthorized", err.Error())
}

func TestClientReports(t *testing.T) {
	srv, recorder := newTestServer(t, http.StatusOK, Response{OK: true})
	c := NewClient(srv.URL, "")
	ctx := context.Background()

	require.NoError(t, c.ReportHost(ctx, HostReport{HostID: "obs-pc", CPUPercent: 12.5, DiskFreePercent: 40}))
	rec := recorder.last()
	assert.Equal(t, "/host_status", rec.path)
	assert.Equal(t, "obs-pc", rec.body["hostId"])
	assert.Equal(t, 40.0, rec.body["diskCPercent"])

	tracking := true
	require.NoError(t, c.ReportTelescope(ctx, TelescopeReport{HostID: "obs-pc", RightAscensionHours: 5.5, Tracking: &tracking}))
	rec = recorder.last()
	assert.NotContains(t, rec.body, "osVersion")
	assert.Equal(t, "/telescope_status", rec.path)
	assert.Equal(t, true, rec.body["tracking"])
	assert.Contains(t, rec.body, "slewing")
	assert.Nil(t, rec.body["slewing"])
}

func TestClientStatusAndStats(t *testing.T) {
	view := status.View{Occupied: true, User: "alice", Hosts: map[string]status.HostView{}, Telescope: map[string]status.TelescopeView{}}
	srv, recorder := newTestServer(t, http.StatusOK, view)

	got, err := NewClient(srv.URL, "").Status(context.Background())
	require.NoError(t, err)
	rec := recorder.last()
	assert.Equal(t, http.MethodGet, rec.method)
	assert.Equal(t, "/status", rec.path)
	assert.True(t, got.Occupied)
	assert.Equal(t, "alice", got.User)

	srv2, recorder2 := newTestServer(t, http.StatusOK, presence.Stats{Starts: 3, Timeouts: 1})
	stats, err := NewClient(srv2.URL, "").Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/stats", recorder2.last().path)
	assert.EqualValues(t, 3, stats.Starts)
	assert.EqualValues(t, 1, stats.Timeouts)
}

func TestClientConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, "").Status(context.Background())
	require.Error(t, err)
	var se *StatusError
	assert.False(t, errors.As(err, &se))
}

func TestRequestConversion(t *testing.T) {
	end := time.Date(2026, 3, 15, 1, 0, 0, 0, time.UTC)
	req := StartRequest{User: "a", PlannedHours: 2, PlannedEnd: &end}.Presence()
	assert.Equal(t, end, req.PlannedEnd)
	assert.Equal(t, 2.0, req.PlannedHours)

	assert.True(t, StartRequest{User: "a"}.Presence().PlannedEnd.IsZero())

	slewing := false
	ts := TelescopeReport{HostID: "h", Slewing: &slewing}.Presence()
	assert.Equal(t, presence.Unknown, ts.Tracking)
	assert.Equal(t, presence.False, ts.Slewing)

	hs := HostReport{HostID: "h", UptimeSeconds: 60, OSVersion: "Linux"}.Presence()
	assert.Equal(t, int64(60), hs.UptimeSeconds)
	assert.Equal(t, "Linux", hs.OSVersion)
}
