package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	apperrors "github.com/aditya/ridedispatch/internal/errors"
	"github.com/aditya/ridedispatch/internal/models"
	"github.com/aditya/ridedispatch/internal/service"
	"github.com/aditya/ridedispatch/internal/tracking"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const (
	wsPingInterval   = 30 * time.Second
	wsPongWait       = 60 * time.Second
	wsWriteWait      = 10 * time.Second
	wsMaxMessageSize = 8192
)

// Client messages.
const (
	msgJoinRide        = "join_ride"
	msgLeaveRide       = "leave_ride"
	msgJoinDriver      = "join_driver"
	msgReportPosition  = "report_position"
	msgCurrentPosition = "current_position"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type wsRequest struct {
	Type     string     `json:"type"`
	RideID   string     `json:"ride_id,omitempty"`
	DriverID string     `json:"driver_id,omitempty"`
	Lat      *float64   `json:"lat,omitempty"`
	Lng      *float64   `json:"lng,omitempty"`
	SentAt   *time.Time `json:"sent_at,omitempty"`
}

type wsReply struct {
	Type    string      `json:"type"`
	Request string      `json:"request,omitempty"`
	RideID  string      `json:"ride_id,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// WSHandler serves the bidirectional tracking connection. Every connection is
// one tracking.Subscriber; replies and room broadcasts share its Send channel.
type WSHandler struct {
	hub         *tracking.Hub
	rideService service.RideService
	logger      *slog.Logger
}

func NewWSHandler(hub *tracking.Hub, rideService service.RideService, logger *slog.Logger) *WSHandler {
	return &WSHandler{hub: hub, rideService: rideService, logger: logger}
}

func (h *WSHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.ServeWS)
}

type wsClient struct {
	conn      *websocket.Conn
	sub       *tracking.Subscriber
	principal models.Principal
	anonymous bool
}

// GET /v1/ws
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	p, ok := models.PrincipalFrom(r.Context())
	c := &wsClient{conn: conn, sub: tracking.NewSubscriber(), principal: p, anonymous: !ok}
	h.logger.Debug("tracking client connected", "subscriber", c.sub.ID, "user_id", p.ID)

	go h.writePump(c)
	h.readPump(context.WithoutCancel(r.Context()), c)
}

func (h *WSHandler) readPump(ctx context.Context, c *wsClient) {
	defer func() {
		h.hub.Disconnect(c.sub)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("tracking connection closed", "subscriber", c.sub.ID, "err", err)
			}
			return
		}

		var req wsRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			h.reply(c, wsReply{Type: "error", Error: "bad_request", Message: "invalid message"})
			continue
		}
		h.handle(ctx, c, req)
	}
}

func (h *WSHandler) handle(ctx context.Context, c *wsClient, req wsRequest) {
	var (
		data interface{}
		err  error
	)
	switch req.Type {
	case msgJoinRide:
		if _, err = h.rideService.GetRide(ctx, req.RideID); err == nil {
			data = map[string]bool{"joined": h.hub.Join(c.sub, req.RideID)}
			if pos, perr := h.hub.CurrentPosition(ctx, req.RideID); perr == nil {
				h.reply(c, wsReply{Type: models.EventRideLocation, RideID: req.RideID, Data: pos})
			}
		}
	case msgLeaveRide:
		h.hub.Leave(c.sub, req.RideID)
	case msgJoinDriver:
		if c.anonymous || !c.principal.IsDriver() || c.principal.ID != req.DriverID {
			err = apperrors.NotAuthorized("drivers may only join their own channel")
			break
		}
		data = map[string]bool{"joined": h.hub.JoinDriverChannel(c.sub, req.DriverID)}
	case msgReportPosition:
		if c.anonymous || !c.principal.IsDriver() {
			err = apperrors.NotAuthorized("only drivers report positions")
			break
		}
		var progress *models.ProgressUpdate
		_, progress, err = h.hub.ReportPosition(ctx, models.PositionReport{
			DriverID: c.principal.ID,
			RideID:   req.RideID,
			Lat:      req.Lat,
			Lng:      req.Lng,
			SentAt:   req.SentAt,
		})
		data = progress
	case msgCurrentPosition:
		data, err = h.hub.CurrentPosition(ctx, req.RideID)
	default:
		err = apperrors.BadRequest("unknown message type " + req.Type)
	}

	if err != nil {
		reply := wsReply{Type: "error", Request: req.Type, RideID: req.RideID, Error: "internal_error", Message: "internal error"}
		if apiErr, ok := apperrors.As(err); ok {
			reply.Error, reply.Message = apiErr.Code, apiErr.Message
		} else {
			h.logger.Error("tracking request failed", "type", req.Type, "ride_id", req.RideID, "err", err)
		}
		h.reply(c, reply)
		return
	}
	h.reply(c, wsReply{Type: "ack", Request: req.Type, RideID: req.RideID, Data: data})
}

// reply queues a message for this client only. Called from the read pump,
// which is the only goroutine that can close Send.
func (h *WSHandler) reply(c *wsClient, msg wsReply) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.sub.Send <- data:
	default:
		h.logger.Warn("tracking client backlog full, reply dropped", "subscriber", c.sub.ID)
	}
}

func (h *WSHandler) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.sub.Send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
