package websocket

import (
	"log/slog"
	"net/http"
	"strings"

	ws "github.com/coder/websocket"
)

// HandleWebSocket serves GET /ws. An optional ?topics=proposal,product
// query subscribes the client on connect. originPatterns restricts
// cross-origin upgrades; an empty list only allows same-host requests.
func HandleWebSocket(hub *Hub, originPatterns []string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		topics := parseTopics(r.URL.Query().Get("topics"))

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			logger.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
			return
		}

		client := NewClient(hub, conn)
		client.Subscribe(topics)
		client.Run(r.Context())
	}
}

func parseTopics(raw string) []string {
	var topics []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	return topics
}
