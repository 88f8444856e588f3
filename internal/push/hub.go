package push

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lalith-99/courier/internal/auth"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxInboundSize = 4096
	sendBuffer     = 64
)

// Envelope is the frame written to a socket for each new message.
type Envelope struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
}

type conn struct {
	ws            *websocket.Conn
	userID        int64
	applyMarkdown bool
	send          chan []byte
}

// Hub is a reference push gateway. It accepts notifications from Client
// and writes each message to every open socket of the listed users, in the
// rendering the socket asked for.
type Hub struct {
	secret    string
	jwtSecret string
	logger    *zap.Logger
	upgrader  websocket.Upgrader

	mu    sync.RWMutex
	conns map[int64]map[*conn]struct{}
}

func NewHub(secret, jwtSecret string, logger *zap.Logger) *Hub {
	return &Hub{
		secret:    secret,
		jwtSecret: jwtSecret,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[int64]map[*conn]struct{}),
	}
}

// Register mounts the notify endpoint and the websocket endpoint.
func (h *Hub) Register(r gin.IRoutes) {
	r.POST(NotifyPath, h.HandleNotify)
	r.GET("/ws", h.HandleSocket)
}

// Connections reports how many sockets userID has open.
func (h *Hub) Connections(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

// HandleNotify handles POST /notify_new_message.
func (h *Hub) HandleNotify(c *gin.Context) {
	if subtle.ConstantTimeCompare([]byte(c.PostForm("secret")), []byte(h.secret)) != 1 {
		c.JSON(http.StatusForbidden, gin.H{"error": "bad secret"})
		return
	}

	messageID, err := strconv.ParseInt(c.PostForm("message"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}

	var rendered Rendered
	if err := json.Unmarshal([]byte(c.PostForm("rendered")), &rendered); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rendered payload"})
		return
	}
	if rendered.HTML == nil || rendered.Markdown == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "both renderings are required"})
		return
	}

	var rawUsers []string
	if err := json.Unmarshal([]byte(c.PostForm("users")), &rawUsers); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid users"})
		return
	}
	users := make([]int64, 0, len(rawUsers))
	for _, s := range rawUsers {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
			return
		}
		users = append(users, id)
	}

	delivered, err := h.Deliver(rendered, users)
	if err != nil {
		h.logger.Error("failed to encode push frame",
			zap.Int64("message_id", messageID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	h.logger.Debug("message pushed",
		zap.Int64("message_id", messageID),
		zap.Int("users", len(users)),
		zap.Int("sockets", delivered),
	)
	c.JSON(http.StatusOK, gin.H{"result": "success", "sockets": delivered})
}

func frame(v any) ([]byte, error) {
	msg, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: "new_message", Message: msg})
}

// Deliver queues the message on every socket of users and returns how many
// sockets received it. A socket whose buffer is full is dropped.
func (h *Hub) Deliver(rendered Rendered, users []int64) (int, error) {
	htmlFrame, err := frame(rendered.HTML)
	if err != nil {
		return 0, err
	}
	mdFrame, err := frame(rendered.Markdown)
	if err != nil {
		return 0, err
	}

	var slow []*conn
	delivered := 0

	h.mu.RLock()
	for _, uid := range users {
		for cn := range h.conns[uid] {
			payload := mdFrame
			if cn.applyMarkdown {
				payload = htmlFrame
			}
			select {
			case cn.send <- payload:
				delivered++
			default:
				slow = append(slow, cn)
			}
		}
	}
	h.mu.RUnlock()

	for _, cn := range slow {
		h.logger.Warn("dropping slow socket", zap.Int64("user_id", cn.userID))
		h.unregister(cn)
	}
	return delivered, nil
}

func bearerToken(c *gin.Context) string {
	if t := c.Query("token"); t != "" {
		return t
	}
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return ""
}

// HandleSocket upgrades GET /ws for an authenticated user. apply_markdown
// defaults to true.
func (h *Hub) HandleSocket(c *gin.Context) {
	claims, err := auth.ParseToken(bearerToken(c), h.jwtSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return
	}

	applyMarkdown := true
	if v := c.Query("apply_markdown"); v != "" {
		applyMarkdown, err = strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid apply_markdown"})
			return
		}
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	cn := &conn{
		ws:            ws,
		userID:        claims.UserID,
		applyMarkdown: applyMarkdown,
		send:          make(chan []byte, sendBuffer),
	}
	h.register(cn)

	go h.writePump(cn)
	go h.readPump(cn)
}

func (h *Hub) register(cn *conn) {
	h.mu.Lock()
	set, ok := h.conns[cn.userID]
	if !ok {
		set = make(map[*conn]struct{})
		h.conns[cn.userID] = set
	}
	set[cn] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("socket opened", zap.Int64("user_id", cn.userID))
}

func (h *Hub) unregister(cn *conn) {
	h.mu.Lock()
	set := h.conns[cn.userID]
	if _, ok := set[cn]; !ok {
		h.mu.Unlock()
		return
	}
	delete(set, cn)
	if len(set) == 0 {
		delete(h.conns, cn.userID)
	}
	close(cn.send)
	h.mu.Unlock()
	h.logger.Debug("socket closed", zap.Int64("user_id", cn.userID))
}

// readPump only services control frames; clients have nothing to say.
func (h *Hub) readPump(cn *conn) {
	defer func() {
		h.unregister(cn)
		cn.ws.Close()
	}()
	cn.ws.SetReadLimit(maxInboundSize)
	_ = cn.ws.SetReadDeadline(time.Now().Add(pongWait))
	cn.ws.SetPongHandler(func(string) error {
		return cn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := cn.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(cn *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cn.ws.Close()
	}()
	for {
		select {
		case payload, ok := <-cn.send:
			_ = cn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = cn.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cn.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = cn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close drops every open socket.
func (h *Hub) Close() {
	h.mu.RLock()
	var all []*conn
	for _, set := range h.conns {
		for cn := range set {
			all = append(all, cn)
		}
	}
	h.mu.RUnlock()
	for _, cn := range all {
		h.unregister(cn)
	}
}
