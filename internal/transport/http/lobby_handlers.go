package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/feelings/internal/core"
	"github.com/vovakirdan/feelings/internal/realtime"
)

// LobbyHandlers serves read-only lobby inspection endpoints.
type LobbyHandlers struct {
	store realtime.Store
	log   *zerolog.Logger
}

// NewLobbyHandlers creates a new lobby handlers instance.
func NewLobbyHandlers(st realtime.Store, logger *zerolog.Logger) *LobbyHandlers {
	return &LobbyHandlers{
		store: st,
		log:   logger,
	}
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// LobbyResponse represents a lobby in API responses.
type LobbyResponse struct {
	Code      string          `json:"code"`
	Creator   string          `json:"creator"`
	CreatedAt int64           `json:"created_at"`
	Active    bool            `json:"active"`
	Users     []core.Presence `json:"users"`
}

// MessageResponse represents one feeling in API responses.
type MessageResponse struct {
	ID        string `json:"id"`
	Emoji     string `json:"emoji"`
	From      string `json:"from"`
	Timestamp int64  `json:"timestamp"`
}

// MessagesRequest holds the query parameters of ListMessages.
type MessagesRequest struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=50"`
}

// loadLobby reads the whole lobby subtree and writes the error response itself.
func (h *LobbyHandlers) loadLobby(c *gin.Context) (string, realtime.Snapshot, bool) {
	code, err := core.NormalizeCode(c.Param("code"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid lobby code"})
		return "", realtime.Snapshot{}, false
	}

	snap, err := h.store.ReadOnce(c.Request.Context(), core.LobbyPath(code))
	if err != nil {
		h.log.Error().Err(err).Str("code", code).Msg("failed to read lobby")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return "", realtime.Snapshot{}, false
	}
	if !snap.Exists {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "lobby not found"})
		return "", realtime.Snapshot{}, false
	}
	return code, snap, true
}

// GetLobby returns lobby metadata and the present users.
// GET /api/lobbies/:code
func (h *LobbyHandlers) GetLobby(c *gin.Context) {
	code, snap, ok := h.loadLobby(c)
	if !ok {
		return
	}

	var record core.LobbyRecord
	if err := snap.Decode(&record); err != nil {
		h.log.Error().Err(err).Str("code", code).Msg("failed to decode lobby")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	users := core.DecodeRoster(snap.Child(core.UsersKey))
	if users == nil {
		users = []core.Presence{}
	}

	c.JSON(http.StatusOK, LobbyResponse{
		Code:      code,
		Creator:   record.Creator,
		CreatedAt: record.CreatedAt,
		Active:    record.Active,
		Users:     users,
	})
}

// ListMessages returns the latest feelings ordered by timestamp.
// GET /api/lobbies/:code/messages?limit=N
func (h *LobbyHandlers) ListMessages(c *gin.Context) {
	var req MessagesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid messages request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
		return
	}
	if req.Limit == 0 {
		req.Limit = core.MaxMessages
	}

	code, snap, ok := h.loadLobby(c)
	if !ok {
		return
	}

	messages := core.DecodeMessages(snap.Child(core.MessagesKey).Filter(core.MessagesQuery(req.Limit)))

	response := make([]MessageResponse, 0, len(messages))
	for _, msg := range messages {
		response = append(response, MessageResponse{
			ID:        msg.ID,
			Emoji:     msg.Emoji,
			From:      msg.From,
			Timestamp: msg.Timestamp,
		})
	}

	h.log.Debug().Str("code", code).Int("count", len(response)).Msg("messages listed")
	c.JSON(http.StatusOK, response)
}
