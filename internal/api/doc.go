// Package api holds the wire types shared by presenced and its clients, and
// a small HTTP client for the daemon.
//
// Endpoints:
//
//	GET  /status            current status.View
//	GET  /stats             presence.Stats counters
//	GET  /health            liveness, empty 200
//	POST /start             StartRequest → Response{ok, state}; 409 names the occupant
//	POST /heartbeat         HeartbeatRequest; 404 no session, 409 not the occupant
//	POST /release           empty body or {}
//	POST /host_status       HostReport
//	POST /telescope_status  TelescopeReport
//
// Mutating endpoints expect "Authorization: Bearer <token>" when the daemon
// is configured with a token. Failures are returned to callers as
// *StatusError, which also matches the presence error sentinels via
// errors.Is so that client code can branch the same way server code does.
package api
