package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type streamMessage struct {
	Type  string          `json:"type"`
	Data  *LatestResponse `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// handleStream pushes the latest payload on connect and then on every refresh tick.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	entry := s.logger.WithField("remote", r.RemoteAddr)
	entry.Info("Stream client connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// reader exits when the client goes away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()

	for {
		if err := s.push(ctx, conn, entry); err != nil {
			entry.WithError(err).Info("Stream client disconnected")
			return
		}

		select {
		case <-ctx.Done():
			entry.Info("Stream client disconnected")
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) push(ctx context.Context, conn *websocket.Conn, entry *logrus.Entry) error {
	msg := streamMessage{Type: "latest"}

	latest, err := s.latest(ctx)
	switch {
	case errors.Is(err, errNoData):
		msg.Type = "empty"
	case err != nil:
		entry.WithError(err).Error("Failed to build latest payload")
		msg.Type = "error"
		msg.Error = "failed to read greeks log"
	default:
		msg.Data = latest
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}
