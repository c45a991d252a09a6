package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/morezero/engine-worker/pkg/journal"
	"github.com/morezero/engine-worker/pkg/methods"
)

// HealthOutput is the /health response body.
type HealthOutput struct {
	Status        string               `json:"status"`
	Ready         bool                 `json:"ready"`
	Worker        string               `json:"worker"`
	EngineVersion string               `json:"engineVersion,omitempty"`
	Subject       string               `json:"subject"`
	Checks        HealthChecks         `json:"checks"`
	Methods       []methods.MethodInfo `json:"methods"`
	Timestamp     string               `json:"timestamp"`
}

// HealthChecks lists individual dependency checks.
type HealthChecks struct {
	Engine bool `json:"engine"`
	Comms  bool `json:"comms"`
}

// Health reports readiness and connection state.
func (s *Server) Health() *HealthOutput {
	h := &HealthOutput{
		Ready:         s.gate.IsReady(),
		Worker:        s.cfg.WorkerID,
		EngineVersion: s.reg.EngineVersion(),
		Subject:       s.cfg.EngineSubject,
		Methods:       s.reg.Describe(),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
	h.Checks.Engine = h.Ready
	h.Checks.Comms = s.nc != nil && s.nc.IsConnected()

	switch {
	case h.Checks.Engine && h.Checks.Comms:
		h.Status = "healthy"
	case !h.Checks.Comms:
		h.Status = "unhealthy"
	default:
		h.Status = "starting"
	}
	return h
}

// Handler returns the HTTP mux: status page, /health, /ready and /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		h := s.Health()
		w.Header().Set("Content-Type", "application/json")
		if h.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(h)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !s.gate.IsReady() {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "not_ready"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	})
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}

// homePageTemplate is the HTML for the worker status page.
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Engine Worker {{.Health.Worker}}</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    h1, h2 { color: #0066cc; }
    .status-healthy { color: #0066cc; font-weight: bold; }
    .status-starting { color: #aa7700; font-weight: bold; }
    .status-unhealthy { color: #cc0000; font-weight: bold; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; }
    section { margin-bottom: 2rem; }
    .error { color: #cc0000; }
  </style>
</head>
<body>
  <h1>Engine Worker</h1>

  <section>
    <h2>Health</h2>
    <p>Status: <span class="status-{{.Health.Status}}">{{.Health.Status}}</span></p>
    <p>Worker: {{.Health.Worker}} on <code>{{.Health.Subject}}</code></p>
    <p>Engine: {{if .Health.Ready}}ready, version {{.Health.EngineVersion}}{{else}}<span class="error">not initialized</span>{{end}}</p>
    <p>Timestamp: {{.Health.Timestamp}}</p>
  </section>

  <section>
    <h2>Methods</h2>
    <table>
      <thead><tr><th>Method</th><th>Params</th><th>Result</th><th>Requires init</th></tr></thead>
      <tbody>
        {{range .Health.Methods}}
        <tr><td>{{.Name}}</td><td>{{range .Params}}{{.}} {{end}}</td><td>{{.Result}}</td><td>{{.Gated}}</td></tr>
        {{end}}
      </tbody>
    </table>
  </section>

  {{if .JournalEnabled}}
  <section>
    <h2>Recent calls</h2>
    {{if .JournalError}}
    <p class="error">Could not load journal: {{.JournalError}}</p>
    {{else if not .Calls}}
    <p>No calls journaled yet.</p>
    {{else}}
    <table>
      <thead><tr><th>Request</th><th>Method</th><th>Outcome</th><th>Duration (us)</th><th>Time</th></tr></thead>
      <tbody>
        {{range .Calls}}
        <tr>
          <td>{{.RequestID}}</td>
          <td>{{.Method}}</td>
          <td>{{if .OK}}ok{{else}}<span class="error">{{with .ErrorMessage}}{{.}}{{end}}</span>{{end}}</td>
          <td>{{.DurationUS}}</td>
          <td>{{.Created.Format "2006-01-02 15:04:05"}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>
  {{end}}
</body>
</html>
`

// homeData is the data passed to the home page template.
type homeData struct {
	Health         *HealthOutput
	JournalEnabled bool
	Calls          []journal.CallRecord
	JournalError   string
}

// handleHome returns an HTTP handler for the worker status page.
func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}

		data := homeData{Health: s.Health(), JournalEnabled: s.callLog != nil}
		if s.callLog != nil {
			ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
			defer cancel()
			calls, err := s.callLog.RecentCalls(ctx, s.cfg.WorkerID, 25)
			if err != nil {
				data.JournalError = err.Error()
			} else {
				data.Calls = calls
			}
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", logPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}
