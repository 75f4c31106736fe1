package websocket

import (
	"net/http"
	"net/url"
	"slices"
	"strconv"

	ws "github.com/coder/websocket"
)

// HandleWebSocket returns an HTTP handler that upgrades connections to WebSocket
// and runs them as Hub clients. The optional "event" query parameter scopes a
// client to one event. Cross-origin upgrades are accepted only from
// allowedOrigins; "*" or an empty list accepts any origin.
func HandleWebSocket(hub *Hub, allowedOrigins []string) http.HandlerFunc {
	opts := &ws.AcceptOptions{}
	if len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*") {
		opts.InsecureSkipVerify = true
	} else {
		opts.OriginPatterns = originHosts(allowedOrigins)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var eventID int64
		if v := r.URL.Query().Get("event"); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil || id <= 0 {
				http.Error(w, "invalid event id", http.StatusBadRequest)
				return
			}
			eventID = id
		}

		conn, err := ws.Accept(w, r, opts)
		if err != nil {
			hub.logger.Warn("accept failed", "error", err, "origin", r.Header.Get("Origin"))
			return
		}

		defer conn.CloseNow()

		client := NewClient(hub, conn, eventID)
		client.Run(r.Context())
	}
}

// originHosts reduces origins like "https://app.example.com" to the host
// patterns the websocket library matches against.
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			hosts = append(hosts, o)
			continue
		}
		hosts = append(hosts, u.Host)
	}
	return hosts
}
