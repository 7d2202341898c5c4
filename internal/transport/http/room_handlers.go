package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/peerwave/signalrelay/internal/store"
	"github.com/peerwave/signalrelay/internal/utils"
)

// RoomHandlers provides HTTP handlers for lobby room management.
type RoomHandlers struct {
	store store.Store
	log   *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(st store.Store, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		store: st,
		log:   logger,
	}
}

// CreateRoomRequest represents the create room request body.
type CreateRoomRequest struct {
	HostUID string   `json:"hostUid" binding:"required"`
	Players []string `json:"players"`
}

// UpdateRoomRequest represents a partial room update.
type UpdateRoomRequest struct {
	HostUID *string   `json:"hostUid"`
	Players *[]string `json:"players"`
	Status  *string   `json:"status"`
}

// CreateRoom handles room creation.
// POST /api/rooms
func (h *RoomHandlers) CreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create room request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	room, err := h.store.CreateRoom(c.Request.Context(), utils.NewID(), req.HostUID, req.Players)
	if err != nil {
		h.log.Error().Err(err).Str("host_uid", req.HostUID).Msg("failed to create room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("room_id", room.RoomID).Str("host_uid", room.HostUID).Msg("room created")
	c.JSON(http.StatusCreated, room)
}

// ListRooms handles listing rooms with optional status filter.
// GET /api/rooms?status=waiting&limit=20&offset=0
func (h *RoomHandlers) ListRooms(c *gin.Context) {
	filter := store.RoomFilter{Limit: 20}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		filter.Limit = limit
	}
	if raw := c.Query("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid offset"})
			return
		}
		filter.Offset = offset
	}
	if raw := c.Query("status"); raw != "" {
		status, ok := parseStatus(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid status"})
			return
		}
		filter.Status = &status
	}

	rooms, err := h.store.ListRooms(c.Request.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list rooms")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if rooms == nil {
		rooms = []*store.Room{}
	}
	c.JSON(http.StatusOK, rooms)
}

// GetRoom handles a room lookup by ID.
// GET /api/rooms/:roomId
func (h *RoomHandlers) GetRoom(c *gin.Context) {
	room, err := h.store.GetRoom(c.Request.Context(), c.Param("roomId"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("room_id", c.Param("roomId")).Msg("failed to get room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, room)
}

// UpdateRoom applies a partial patch to a room.
// PATCH /api/rooms/:roomId
func (h *RoomHandlers) UpdateRoom(c *gin.Context) {
	var req UpdateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	patch := store.RoomPatch{HostUID: req.HostUID, Players: req.Players}
	if req.Status != nil {
		status, ok := parseStatus(*req.Status)
		if !ok {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid status"})
			return
		}
		patch.Status = &status
	}

	room, err := h.store.UpdateRoom(c.Request.Context(), c.Param("roomId"), patch)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("room_id", c.Param("roomId")).Msg("failed to update room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, room)
}

// DeleteRoom removes a room.
// DELETE /api/rooms/:roomId
func (h *RoomHandlers) DeleteRoom(c *gin.Context) {
	err := h.store.DeleteRoom(c.Request.Context(), c.Param("roomId"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("room_id", c.Param("roomId")).Msg("failed to delete room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.Status(http.StatusNoContent)
}

func parseStatus(raw string) (store.RoomStatus, bool) {
	switch store.RoomStatus(raw) {
	case store.RoomStatusWaiting, store.RoomStatusPlaying, store.RoomStatusFinished:
		return store.RoomStatus(raw), true
	default:
		return "", false
	}
}
