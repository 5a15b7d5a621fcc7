package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/feelings/internal/config"
	"github.com/vovakirdan/feelings/internal/realtime"
)

// NewServer builds the store server: health check, read-only lobby API and
// the websocket endpoint. admin is the connection the REST handlers read through.
func NewServer(backend realtime.Backend, admin realtime.Store, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", healthHandler)

	lobbies := NewLobbyHandlers(admin, logger)
	api := router.Group("/api")
	{
		api.GET("/lobbies/:code", lobbies.GetLobby)
		api.GET("/lobbies/:code/messages", lobbies.ListMessages)
	}

	router.GET("/ws", gin.WrapH(NewWSHandler(backend, cfg.Server, logger)))

	return &stdhttp.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
