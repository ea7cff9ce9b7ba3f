package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"battle-service/internal/app"
	"battle-service/internal/domain"
	"battle-service/internal/logging"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const disconnectTimeout = 10 * time.Second

type WSHandler struct {
	engine   *app.Engine
	hub      *Hub
	auth     *Authenticator
	upgrader websocket.Upgrader
}

func NewWSHandler(engine *app.Engine, hub *Hub, auth *Authenticator) *WSHandler {
	return &WSHandler{
		engine: engine,
		hub:    hub,
		auth:   auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type joinPayload struct {
	Mode       string `json:"mode"`
	RoomCode   string `json:"roomCode"`
	CreateRoom bool   `json:"createRoom"`
}

type answerPayload struct {
	SessionID      string   `json:"sessionId"`
	UnitIndex      int      `json:"unitIndex"`
	SelectedOption string   `json:"selectedOption"`
	Outputs        []string `json:"outputs"`
	Code           string   `json:"code"`
}

type sessionPayload struct {
	SessionID string `json:"sessionId"`
	UnitIndex int    `json:"unitIndex"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

// ServeWS authenticates, upgrades and wires a connection into the session engine.
// Every outbound message goes through the hub so the writer goroutine is the only writer.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.Authenticate(r)
	if err != nil {
		logging.Debug("ws auth rejected", zap.Error(err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	c := h.hub.register(userID)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer conn.Close()
		for msg := range c.send {
			if err := conn.WriteJSON(msg); err != nil {
				logging.Debug("ws write error", zap.String("user_id", userID), zap.Error(err))
				return
			}
		}
	}()

	logging.Info("client connected", zap.String("user_id", userID))
	ctx := r.Context()
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if err := h.dispatch(ctx, userID, inbound); err != nil {
			if domain.Code(err) == domain.CodeInternal {
				logging.Error("ws request failed", zap.String("user_id", userID), zap.String("type", inbound.Type), zap.Error(err))
			}
			c.enqueue(outboundMessage[any]{Type: string(domain.EventError), Payload: domain.NewErrorEvent(err)})
		}
	}

	current := h.hub.unregister(c)
	<-writerDone
	logging.Info("client disconnected", zap.String("user_id", userID), zap.Bool("replaced", !current))
	if !current {
		return
	}
	dctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	if err := h.engine.Disconnect(dctx, userID); err != nil {
		logging.Warn("disconnect cleanup", zap.String("user_id", userID), zap.Error(err))
	}
}

var errUnsupportedMessage = errors.New("unsupported message type")

func (h *WSHandler) dispatch(ctx context.Context, userID string, inbound inboundMessage) error {
	switch inbound.Type {
	case "join":
		var p joinPayload
		if err := decode(inbound.Payload, &p); err != nil {
			return err
		}
		_, err := h.engine.CreateOrMatch(ctx, userID, domain.Mode(p.Mode), domain.JoinSpec{
			RoomCode:   p.RoomCode,
			CreateRoom: p.CreateRoom,
		})
		return err
	case "answer":
		var p answerPayload
		if err := decode(inbound.Payload, &p); err != nil {
			return err
		}
		_, err := h.engine.Submit(ctx, p.SessionID, userID, domain.Submission{
			UnitIndex:      p.UnitIndex,
			SelectedOption: p.SelectedOption,
			Outputs:        p.Outputs,
			Code:           p.Code,
		})
		return err
	case "skip":
		var p sessionPayload
		if err := decode(inbound.Payload, &p); err != nil {
			return err
		}
		_, err := h.engine.Skip(ctx, p.SessionID, userID, p.UnitIndex)
		return err
	case "timeout":
		var p sessionPayload
		if err := decode(inbound.Payload, &p); err != nil {
			return err
		}
		return h.engine.ReportTimeout(ctx, p.SessionID, userID)
	case "leave":
		var p sessionPayload
		if err := decode(inbound.Payload, &p); err != nil {
			return err
		}
		return h.engine.Leave(ctx, p.SessionID, userID)
	}
	return errors.Join(domain.ErrInvalidInput, errUnsupportedMessage)
}

func decode(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return domain.ErrInvalidInput
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errors.Join(domain.ErrInvalidInput, err)
	}
	return nil
}
