package daemon

import "time"

// StartOptions configures the daemon (home, port, DB, API key, reclaimer, metrics).
type StartOptions struct {
	Home       string
	Port       int
	Dev        bool
	PprofAddr  string
	DBDriver   string // "sqlite" (default) or "postgres"
	DBURL      string // for postgres: connection string (or DATABASE_URL env)
	APIKey     string // if set, the API requires it
	Seed       bool   // seed a demo project on an empty store
	EnableOtel bool   // enable OpenTelemetry metrics (Prometheus exporter + HTTP instrumentation)

	// Stale-lock reclaim: locks older than ReclaimMaxLockAge are released on a
	// ReclaimInterval schedule. Zero values fall back to defaults (2h / 5m).
	ReclaimMaxLockAge time.Duration
	ReclaimInterval   time.Duration
}

// StatusInfo is the result of Status (running or not, PID, listen addr).
type StatusInfo struct {
	Running bool
	PID     int
	Addr    string
}
