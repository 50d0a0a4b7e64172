package transport

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/playroom-live/playroom/backend/go/internal/v1/schema"
	"github.com/playroom-live/playroom/backend/go/internal/v1/types"
)

// createRoomRequest is the POST /api/v1/rooms body.
type createRoomRequest struct {
	MaxPlayers int    `json:"maxPlayers" binding:"omitempty,min=5,max=100"`
	GameType   string `json:"gameType" binding:"omitempty,max=32"`
	Language   string `json:"language" binding:"omitempty,max=16"`
}

// RequireAuth validates the bearer token and stores the subject for
// downstream handlers and the per-subject rate limiter.
func (h *Hub) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bearer token required"})
			return
		}
		claims, err := h.authenticate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("subject", claims.Subject)
		c.Next()
	}
}

func subjectFrom(c *gin.Context) types.PlayerID {
	if sub, ok := c.Get("subject"); ok {
		if s, ok := sub.(string); ok {
			return types.PlayerID(s)
		}
	}
	return ""
}

// HandleCreateRoom creates a room owned by the authenticated caller.
func (h *Hub) HandleCreateRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": schema.ErrValidationFailed})
		return
	}

	info, err := h.CreateRoom(c.Request.Context(), subjectFrom(c), types.Settings{
		MaxPlayers: req.MaxPlayers,
		GameType:   req.GameType,
		Language:   req.Language,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": schema.ErrValidationFailed})
		return
	}
	c.JSON(http.StatusCreated, info)
}

// HandleListRooms lists the caller's rooms.
func (h *Hub) HandleListRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.ListRooms(subjectFrom(c))})
}

// HandleGetRoom returns directory info for one room.
func (h *Hub) HandleGetRoom(c *gin.Context) {
	code := types.RoomCode(strings.ToUpper(c.Param("code")))
	r, ok := h.GetRoom(code)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found", "code": schema.ErrNotFound})
		return
	}
	c.JSON(http.StatusOK, r.Info())
}

// HandleDeleteRoom closes a room; only its host may do so.
func (h *Hub) HandleDeleteRoom(c *gin.Context) {
	code := types.RoomCode(strings.ToUpper(c.Param("code")))
	if !h.DeleteRoom(code, subjectFrom(c)) {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found or not owned by caller", "code": schema.ErrNotFound})
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleSchemas serves the exported message schemas so external clients can
// generate their parsers.
func HandleSchemas(c *gin.Context) {
	data, err := schema.ExportSchemasJSON()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "schema export failed"})
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}
