package routes

import (
	"log"
	"net/http"

	"quizarena/handlers"
	"quizarena/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

func SetupRoutes(
	router *gin.Engine,
	roomHandler *handlers.RoomHandler,
	hub *services.Hub,
	registry *services.RoomRegistry,
) {
	api := router.Group("/api")
	{
		rooms := api.Group("/rooms")
		{
			rooms.POST("", roomHandler.CreateRoom)
			rooms.POST("/:code/join", roomHandler.JoinRoom)
			rooms.POST("/:code/start", roomHandler.StartRoom)
			rooms.POST("/:code/next", roomHandler.NextQuestion)
			rooms.GET("/:code/current", roomHandler.CurrentRound)
			rooms.GET("/:code/leaderboard", roomHandler.Leaderboard)
			rooms.POST("/:code/answer", roomHandler.SubmitAnswer)
		}
	}

	// WebSocket endpoint: subscribes a joined player (or the host, as
	// client id "host") to the room's push channel.
	router.GET("/ws/:code/:playerID", func(c *gin.Context) {
		code := services.NormalizeRoomCode(c.Param("code"))
		playerID := c.Param("playerID")

		if err := registry.CanSubscribe(code, playerID); err != nil {
			log.Printf("WebSocket subscribe rejected for room %s, client %s: %v", code, playerID, err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "client not part of this room"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("WebSocket upgrade failed for room %s: %v", code, err)
			return
		}

		hub.RegisterClient(conn, code, playerID, c.Query("nickname"))
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
