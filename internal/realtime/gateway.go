package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/freightmatch/freight-api/internal/auth"
	"github.com/freightmatch/freight-api/internal/matching"
	"github.com/freightmatch/freight-api/internal/negotiation"
	"github.com/freightmatch/freight-api/internal/pricing"
	"github.com/freightmatch/freight-api/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// A connection must authenticate within this window or it is closed.
	authTimeout = 5 * time.Second

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 8192
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin enforcement happens at the edge proxy.
		return true
	},
}

// ClientMessage is the inbound frame schema.
type ClientMessage struct {
	Type         string                          `json:"type"`
	Token        string                          `json:"token,omitempty"`
	RoomID       string                          `json:"room_id,omitempty"`
	LastSequence int64                           `json:"last_sequence,omitempty"`
	LoadID       string                          `json:"load_id,omitempty"`
	QuoteID      string                          `json:"quote_id,omitempty"`
	Quote        *negotiation.SubmitQuoteRequest `json:"quote,omitempty"`
}

// WireEvent is the event envelope delivered to clients. Sequence numbers
// are per-room; clients dedupe and order by them.
type WireEvent struct {
	RoomID         string          `json:"room_id"`
	Type           string          `json:"type"`
	EntityID       string          `json:"entity_id"`
	BatchID        string          `json:"batch_id,omitempty"`
	SequenceNumber int64           `json:"sequence_number"`
	Timestamp      time.Time       `json:"timestamp"`
	Payload        json.RawMessage `json:"payload"`
}

// ServerMessage is the outbound frame schema.
type ServerMessage struct {
	Type   string      `json:"type"` // auth_ok, event, ack, error, resync_required
	RoomID string      `json:"room_id,omitempty"`
	Event  *WireEvent  `json:"event,omitempty"`
	Data   interface{} `json:"data,omitempty"`
	Code   string      `json:"code,omitempty"`
	Error  string      `json:"error,omitempty"`
}

func wireEvent(evt *types.NegotiationEvent) *WireEvent {
	return &WireEvent{
		RoomID:         evt.RoomID,
		Type:           evt.Type,
		EntityID:       evt.EntityID,
		BatchID:        evt.BatchID,
		SequenceNumber: evt.Sequence,
		Timestamp:      evt.CreatedAt,
		Payload:        json.RawMessage(evt.Payload),
	}
}

// Gateway authenticates real-time connections, binds them to authorized
// rooms, and relays client actions into the engine.
type Gateway struct {
	hub         *Hub
	auth        *auth.Service
	db          *Database
	negotiation *negotiation.Service
	matching    *matching.Service
	pricing     *pricing.Service
}

// NewGateway wires the session gateway to its collaborators.
func NewGateway(
	hub *Hub,
	authService *auth.Service,
	negotiationService *negotiation.Service,
	matchingService *matching.Service,
	pricingService *pricing.Service,
) *Gateway {
	return &Gateway{
		hub:         hub,
		auth:        authService,
		db:          hub.db,
		negotiation: negotiationService,
		matching:    matchingService,
		pricing:     pricingService,
	}
}

// client is one authenticated WebSocket connection.
type client struct {
	id     string
	userID string
	role   string
	conn   *websocket.Conn
	send   chan []byte
}

func (c *client) ConnID() string {
	return c.id
}

// Deliver enqueues an event frame without blocking; a full buffer drops.
func (c *client) Deliver(evt *types.NegotiationEvent) bool {
	return c.enqueue(&ServerMessage{Type: "event", RoomID: evt.RoomID, Event: wireEvent(evt)})
}

func (c *client) enqueue(msg *ServerMessage) bool {
	body, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	select {
	case c.send <- body:
		return true
	default:
		return false
	}
}

// Handler upgrades the HTTP request and runs the connection lifecycle.
func (g *Gateway) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Error().Err(err).Msg("websocket upgrade failed")
			return
		}
		go g.serve(conn)
	}
}

func (g *Gateway) serve(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)

	cl, err := g.authenticate(conn)
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication required"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	logger := log.With().
		Str("conn_id", cl.id).
		Str("user_id", cl.userID).
		Str("role", cl.role).
		Logger()
	logger.Info().Msg("session connected")

	go cl.writePump()
	g.readLoop(cl, logger)

	// Disconnect cleanup is idempotent: every held room is left exactly once.
	g.hub.LeaveAll(cl.id)
	close(cl.send)
	logger.Info().Msg("session disconnected")
}

// authenticate waits for the first frame, which must carry a valid token.
func (g *Gateway) authenticate(conn *websocket.Conn) (*client, error) {
	if err := conn.SetReadDeadline(time.Now().Add(authTimeout)); err != nil {
		return nil, err
	}

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	if msg.Type != "auth" {
		return nil, errors.New("first frame must be auth")
	}

	claims, err := g.auth.ValidateToken(msg.Token)
	if err != nil {
		return nil, err
	}

	cl := &client{
		id:     uuid.New().String(),
		userID: claims.UserID,
		role:   claims.Role,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
	}

	cl.enqueue(&ServerMessage{Type: "auth_ok", Data: gin.H{"user_id": cl.userID, "role": cl.role}})
	return cl, nil
}

func (g *Gateway) readLoop(cl *client, logger zerolog.Logger) {
	cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug().Err(err).Msg("unexpected connection close")
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			cl.enqueue(&ServerMessage{Type: "error", Code: "BAD_REQUEST", Error: "malformed message"})
			continue
		}

		g.handleMessage(cl, &msg)
	}
}

func (g *Gateway) handleMessage(cl *client, msg *ClientMessage) {
	switch msg.Type {
	case "join":
		g.handleJoin(cl, msg)
	case "leave":
		g.hub.Leave(msg.RoomID, cl.id)
		cl.enqueue(&ServerMessage{Type: "ack", RoomID: msg.RoomID})
	case "submit_quote":
		g.handleSubmitQuote(cl, msg)
	case "accept_quote":
		g.handleAcceptQuote(cl, msg)
	case "reject_quote":
		g.handleRejectQuote(cl, msg)
	case "request_matches":
		g.handleRequestMatches(cl, msg)
	case "request_rate":
		g.handleRequestRate(cl, msg)
	default:
		cl.enqueue(&ServerMessage{Type: "error", Code: "BAD_REQUEST", Error: "unknown message type"})
	}
}

// handleJoin authorizes the room, subscribes, and replays the gap since the
// client's last observed sequence. Replay may overlap live delivery; clients
// dedupe by sequence number.
func (g *Gateway) handleJoin(cl *client, msg *ClientMessage) {
	if err := g.authorizeRoom(cl, msg.RoomID); err != nil {
		g.sendError(cl, msg.RoomID, err)
		return
	}

	g.hub.Join(msg.RoomID, cl)

	if msg.LastSequence > 0 {
		events, refetch, err := g.hub.Replay(msg.RoomID, msg.LastSequence)
		if err != nil {
			g.sendError(cl, msg.RoomID, err)
			return
		}
		if refetch {
			cl.enqueue(&ServerMessage{Type: "resync_required", RoomID: msg.RoomID})
			return
		}
		for i := range events {
			cl.Deliver(&events[i])
		}
	}

	cl.enqueue(&ServerMessage{Type: "ack", RoomID: msg.RoomID})
}

func (g *Gateway) handleSubmitQuote(cl *client, msg *ClientMessage) {
	if cl.role != types.RoleCarrier {
		g.sendError(cl, "", types.ErrForbidden)
		return
	}
	if msg.Quote == nil {
		cl.enqueue(&ServerMessage{Type: "error", Code: "BAD_REQUEST", Error: "quote body required"})
		return
	}

	quote, err := g.negotiation.SubmitQuote(cl.userID, msg.Quote)
	if err != nil {
		g.sendError(cl, "", err)
		return
	}
	cl.enqueue(&ServerMessage{Type: "ack", Data: quote})
}

func (g *Gateway) handleAcceptQuote(cl *client, msg *ClientMessage) {
	if cl.role != types.RoleShipper {
		g.sendError(cl, "", types.ErrForbidden)
		return
	}

	result, err := g.negotiation.AcceptQuote(cl.userID, msg.QuoteID)
	if err != nil {
		g.sendError(cl, "", err)
		return
	}
	cl.enqueue(&ServerMessage{Type: "ack", Data: result})
}

func (g *Gateway) handleRejectQuote(cl *client, msg *ClientMessage) {
	if cl.role != types.RoleShipper {
		g.sendError(cl, "", types.ErrForbidden)
		return
	}

	quote, err := g.negotiation.RejectQuote(cl.userID, msg.QuoteID)
	if err != nil {
		g.sendError(cl, "", err)
		return
	}
	cl.enqueue(&ServerMessage{Type: "ack", Data: quote})
}

func (g *Gateway) handleRequestMatches(cl *client, msg *ClientMessage) {
	owner, err := g.matching.GetLoadOwner(msg.LoadID)
	if err != nil {
		g.sendError(cl, "", err)
		return
	}
	if owner != cl.userID {
		g.sendError(cl, "", types.ErrForbidden)
		return
	}

	ranking, err := g.matching.Rank(msg.LoadID)
	if err != nil {
		g.sendError(cl, "", err)
		return
	}

	candidates := ranking.Drain()
	if _, err := g.hub.Publish(types.LoadRoom(msg.LoadID), types.EventMatchRanked, msg.LoadID, "", types.MatchRankedPayload{
		LoadID:     msg.LoadID,
		Candidates: candidates,
	}); err != nil {
		log.Error().Err(err).Str("load_id", msg.LoadID).Msg("failed to broadcast match ranking")
	}

	cl.enqueue(&ServerMessage{Type: "ack", Data: types.RankResponse{
		LoadID:     msg.LoadID,
		Candidates: candidates,
		RankedAt:   time.Now(),
	}})
}

func (g *Gateway) handleRequestRate(cl *client, msg *ClientMessage) {
	if err := g.authorizeRoom(cl, types.LoadRoom(msg.LoadID)); err != nil {
		g.sendError(cl, "", err)
		return
	}

	_, prediction, err := g.pricing.PredictByID(msg.LoadID)
	if err != nil {
		g.sendError(cl, "", err)
		return
	}

	if _, err := g.hub.Publish(types.LoadRoom(msg.LoadID), types.EventRatePredicted, msg.LoadID, "", types.RatePredictedPayload{
		LoadID:     msg.LoadID,
		Prediction: *prediction,
	}); err != nil {
		log.Error().Err(err).Str("load_id", msg.LoadID).Msg("failed to broadcast rate prediction")
	}

	cl.enqueue(&ServerMessage{Type: "ack", Data: types.RateResponse{
		LoadID:      msg.LoadID,
		Prediction:  *prediction,
		PredictedAt: time.Now(),
	}})
}

// authorizeRoom derives whether the caller may join a room: shippers hold
// their own loads' rooms, carriers hold open load rooms and any thread they
// are bidding on.
func (g *Gateway) authorizeRoom(cl *client, roomID string) error {
	switch {
	case strings.HasPrefix(roomID, "load:"):
		loadID := strings.TrimPrefix(roomID, "load:")
		load, err := g.db.GetLoad(loadID)
		if err != nil {
			return err
		}
		if load == nil {
			return types.ErrNotFound
		}
		if cl.role == types.RoleShipper {
			if load.ShipperID == cl.userID {
				return nil
			}
			return types.ErrForbidden
		}
		switch load.Status {
		case types.LoadStatusPosted, types.LoadStatusMatching, types.LoadStatusNegotiating:
			return nil
		}
		bidding, err := g.db.HasQuote(loadID, cl.userID)
		if err != nil {
			return err
		}
		if bidding {
			return nil
		}
		return types.ErrForbidden

	case strings.HasPrefix(roomID, "quote:"):
		quoteID := strings.TrimPrefix(roomID, "quote:")
		quote, err := g.db.GetQuote(quoteID)
		if err != nil {
			return err
		}
		if quote == nil {
			return types.ErrNotFound
		}
		if quote.CarrierID == cl.userID {
			return nil
		}
		load, err := g.db.GetLoad(quote.LoadID)
		if err != nil {
			return err
		}
		if load != nil && load.ShipperID == cl.userID {
			return nil
		}
		return types.ErrForbidden

	default:
		return types.ErrNotFound
	}
}

func (g *Gateway) sendError(cl *client, roomID string, err error) {
	cl.enqueue(&ServerMessage{
		Type:   "error",
		RoomID: roomID,
		Code:   errorCode(err),
		Error:  err.Error(),
	})
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, types.ErrInvalidTransition):
		return "INVALID_TRANSITION"
	case errors.Is(err, types.ErrDuplicateQuote):
		return "DUPLICATE_QUOTE"
	case errors.Is(err, types.ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, types.ErrUpstreamUnavailable):
		return "UPSTREAM_UNAVAILABLE"
	default:
		return "INTERNAL_ERROR"
	}
}

// writePump drains the send channel to the socket and keeps the connection
// alive with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case body, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, body); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
