package api

import (
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Endpoint represents an API endpoint with its documentation
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

// Endpoints lists every route served by the API
var Endpoints = []Endpoint{
	{Path: "/", Method: "GET", Description: "This sitemap - lists all available API endpoints"},
	{Path: "/health", Method: "GET", Description: `Health check endpoint - returns {"status": "ok"}`},
	{Path: "/api/state", Method: "GET", Description: "Device state, request status, preferences and alarm playback"},
	{Path: "/api/pair", Method: "POST", Description: "Pair the device and start polling the lock backend"},
	{Path: "/api/unpair", Method: "POST", Description: "Stop polling; the last known state is kept"},
	{Path: "/api/refresh", Method: "POST", Description: "Poll the lock backend once"},
	{Path: "/api/arm", Method: "POST", Description: "Lock the device"},
	{Path: "/api/disarm", Method: "POST", Description: "Unlock the device"},
	{Path: "/api/trigger", Method: "POST", Description: "Simulate motion (requires motion alerts enabled)"},
	{Path: "/api/clear", Method: "POST", Description: "Clear motion"},
	{Path: "/api/disarm-and-clear", Method: "POST", Description: "Unlock the device and clear motion"},
	{Path: "/api/preferences", Method: "GET, PUT", Description: "Read or update alarm_sound, volume and motion_alerts_enabled"},
	{Path: "/api/alarm/test", Method: "POST", Description: "Preview the selected alarm sound"},
	{Path: "/api/events", Method: "GET", Description: "WebSocket stream of state changes"},
}

// handleSitemap returns a list of all available API endpoints
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	// Only handle requests to the root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	preferHTML := strings.Contains(r.Header.Get("Accept"), "text/html")

	if preferHTML {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head>
    <title>Siren API</title>
    <style>
        body { font-family: monospace; margin: 40px; background: #1e1e1e; color: #d4d4d4; }
        h1 { color: #4ec9b0; }
        .endpoint { background: #2d2d2d; padding: 15px; margin: 10px 0; border-left: 3px solid #007acc; }
        .method { color: #4ec9b0; font-weight: bold; }
        .path { color: #ce9178; }
        .description { color: #9cdcfe; margin-top: 5px; }
    </style>
</head>
<body>
    <h1>Siren API</h1>
    <p>Control the paired lock/siren device and its alarm preferences.</p>
`)
		for _, ep := range Endpoints {
			fmt.Fprintf(w, `    <div class="endpoint">
        <div><span class="method">%s</span> <span class="path">%s</span></div>
        <div class="description">%s</div>
    </div>
`, ep.Method, ep.Path, ep.Description)
		}
		fmt.Fprint(w, "</body>\n</html>\n")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "Siren API\n")
		fmt.Fprintf(w, "=========\n\n")
		fmt.Fprintf(w, "Available endpoints:\n\n")
		for _, ep := range Endpoints {
			fmt.Fprintf(w, "  %-10s %-24s %s\n", ep.Method, ep.Path, ep.Description)
		}
		fmt.Fprintf(w, "\nExamples:\n\n")
		fmt.Fprintf(w, "  Pair and arm:\n")
		fmt.Fprintf(w, "    curl -X POST http://localhost:8081/api/pair\n")
		fmt.Fprintf(w, "    curl -X POST http://localhost:8081/api/arm\n\n")
		fmt.Fprintf(w, "  Lower the volume:\n")
		fmt.Fprintf(w, "    curl -X PUT -d '{\"volume\": 40}' http://localhost:8081/api/preferences\n\n")
	}

	s.logger.Debug("Sitemap request served",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Bool("html_format", preferHTML))
}
