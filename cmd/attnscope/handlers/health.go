package handlers

import (
	"context"
	"net/http"
	"runtime"
	"strconv"
	"time"
)

const Version = "0.1.0"

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]Status `json:"checks"`
}

type Status struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	GoVersion string `json:"go_version"`
}

// Check is a named readiness probe.
type Check struct {
	Name string
	Run  func(ctx context.Context) Status
}

var (
	startTime = time.Now()
	// Commit is set at build time with -ldflags.
	Commit = ""
)

func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, HealthStatus{
			Status:    "healthy",
			Timestamp: time.Now(),
			Version:   Version,
			Uptime:    formatDuration(time.Since(startTime)),
			Checks: map[string]Status{
				"server": {Status: "healthy"},
			},
		})
	}
}

func HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK\n"))
	}
}

// ReadyzHandler runs the memory and goroutine checks plus any extra probes.
func ReadyzHandler(extra ...Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]Status{
			"memory":     checkMemory(),
			"goroutines": checkGoroutines(),
		}
		for _, c := range extra {
			checks[c.Name] = c.Run(r.Context())
		}

		ready := true
		for _, check := range checks {
			if check.Status != "healthy" {
				ready = false
				break
			}
		}

		if ready {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("Ready\n"))
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not ready",
			"checks": checks,
		})
	}
}

func VersionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, VersionInfo{
			Version:   Version,
			Commit:    Commit,
			GoVersion: runtime.Version(),
		})
	}
}

func checkMemory() Status {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	if m.Alloc > 1024*1024*1024 {
		return Status{Status: "warning", Message: "High memory usage"}
	}
	return Status{Status: "healthy"}
}

func checkGoroutines() Status {
	if runtime.NumGoroutine() > 10000 {
		return Status{Status: "warning", Message: "High number of goroutines"}
	}
	return Status{Status: "healthy"}
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	result := ""
	add := func(n int, unit string) {
		if result != "" {
			result += " "
		}
		result += strconv.Itoa(n) + unit
	}
	if days > 0 {
		add(days, "d")
	}
	if hours > 0 {
		add(hours, "h")
	}
	if minutes > 0 {
		add(minutes, "m")
	}
	if seconds > 0 || result == "" {
		add(seconds, "s")
	}
	return result
}
