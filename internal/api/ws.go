package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

// wsUpgrade rejects plain HTTP requests to the stream endpoint
func wsUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// handleWebSocket streams reminder notifications and accepts Yes/No actions
func (s *Server) handleWebSocket(c *websocket.Conn) {
	defer c.Close()

	events, cancel := s.hub.Subscribe()
	defer cancel()
	s.metrics.IncrementWSClients()
	defer s.metrics.DecrementWSClients()

	var writeMu sync.Mutex
	write := func(ev wsEvent) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = c.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return c.WriteJSON(ev)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			mt, msg, err := c.ReadMessage()
			if err != nil {
				s.logger.Debug("WebSocket closed", zap.Error(err))
				return
			}
			if mt != websocket.TextMessage {
				continue
			}

			var req wsMessage
			if err := json.Unmarshal(msg, &req); err != nil {
				_ = write(wsEvent{Type: "error", Error: "invalid message format"})
				continue
			}

			switch req.Type {
			case "ping":
				_ = write(wsEvent{Type: "pong"})
			case "action":
				resp, err := s.answerAction(context.Background(), req.Data)
				if err != nil {
					_ = write(wsEvent{Type: "error", Error: err.Error()})
					continue
				}
				_ = write(wsEvent{Type: "answered", Response: resp})
			default:
				_ = write(wsEvent{Type: "error", Error: "unknown message type"})
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case n, ok := <-events:
			if !ok {
				return
			}
			if err := write(wsEvent{Type: "notification", Data: n}); err != nil {
				s.logger.Warn("WebSocket write error", zap.Error(err))
				return
			}
		}
	}
}
