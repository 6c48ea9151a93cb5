package handlers

import (
	"errors"
	"net/http"

	"quizarena/models"
	"quizarena/services"

	"github.com/gin-gonic/gin"
)

type RoomHandler struct {
	registry *services.RoomRegistry
}

func NewRoomHandler(registry *services.RoomRegistry) *RoomHandler {
	return &RoomHandler{registry: registry}
}

type JoinRoomRequest struct {
	Nickname string `json:"nickname" binding:"required"`
}

type SubmitAnswerRequest struct {
	PlayerID   string `json:"playerId" binding:"required"`
	QuestionID uint   `json:"questionId" binding:"required"`
	Choice     string `json:"choice" binding:"required"`
}

func (h *RoomHandler) CreateRoom(c *gin.Context) {
	code, token, err := h.registry.CreateRoom()
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"roomCode":  code,
		"hostToken": token,
	})
}

func (h *RoomHandler) JoinRoom(c *gin.Context) {
	var req JoinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	player, err := h.registry.JoinRoom(c.Param("code"), req.Nickname)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"playerId": player.ID,
		"nickname": player.Nickname,
	})
}

func (h *RoomHandler) StartRoom(c *gin.Context) {
	token := c.GetHeader("X-Host-Token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing X-Host-Token header"})
		return
	}

	push, err := h.registry.StartRoom(c.Param("code"), token)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, push)
}

func (h *RoomHandler) NextQuestion(c *gin.Context) {
	token := c.GetHeader("X-Host-Token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing X-Host-Token header"})
		return
	}

	push, finished, err := h.registry.NextQuestion(c.Param("code"), token)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if finished {
		leaderboard, err := h.registry.Leaderboard(c.Param("code"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"finished":    true,
			"leaderboard": leaderboard,
		})
		return
	}
	c.JSON(http.StatusOK, push)
}

// CurrentRound serves the resync path: 204 when no round is open.
func (h *RoomHandler) CurrentRound(c *gin.Context) {
	push, err := h.registry.CurrentRound(c.Param("code"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if push == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, push)
}

func (h *RoomHandler) Leaderboard(c *gin.Context) {
	leaderboard, err := h.registry.Leaderboard(c.Param("code"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, leaderboard)
}

func (h *RoomHandler) SubmitAnswer(c *gin.Context) {
	var req SubmitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub, total, err := h.registry.SubmitAnswer(c.Param("code"), req.PlayerID, req.QuestionID, req.Choice)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"correct":    sub.Correct,
		"points":     sub.Points,
		"totalScore": total,
	})
}

// abortWithError maps the engine's error taxonomy onto HTTP statuses and
// always surfaces the rejection reason so clients can tell "too late" from
// "duplicate" from "wrong question".
func abortWithError(c *gin.Context, err error) {
	c.JSON(statusFromError(err), gin.H{"error": err.Error()})
}

func statusFromError(err error) int {
	switch {
	case errors.Is(err, models.ErrRoomNotFound),
		errors.Is(err, models.ErrPlayerNotFound),
		errors.Is(err, models.ErrQuestionNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrInvalidState),
		errors.Is(err, models.ErrAlreadyAnswered),
		errors.Is(err, models.ErrRoundClosed),
		errors.Is(err, models.ErrWrongRound):
		return http.StatusConflict
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
