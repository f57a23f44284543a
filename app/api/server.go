package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// NewServer creates a new HTTP server with all routes configured
func NewServer(handler *Handler, apiAccessKey string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
		SkipPaths: []string{"/health", "/metrics"},
	}))

	r.Use(gin.Recovery())

	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-API-Key")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	setupRoutes(r, handler, apiAccessKey)

	return r
}

func setupRoutes(r *gin.Engine, handler *Handler, apiAccessKey string) {
	r.GET("/health", handler.GetHealth)
	if handler.metrics != nil {
		r.GET("/metrics", gin.WrapH(handler.metrics.Handler()))
	}

	api := r.Group("/api")
	if apiAccessKey != "" {
		api.Use(authMiddleware(apiAccessKey))
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled (API_ACCESS_KEY not set)")
	}

	api.GET("/profiles", handler.ListProfiles)

	p := api.Group("/profiles/:id", handler.loadProfile)
	{
		p.POST("/verify", handler.VerifyProfile)
		p.GET("/account", handler.GetAccount)
		p.POST("/sync", handler.SyncProfile)
		p.GET("/sync/events", handler.SyncEvents)
		p.POST("/epg/refresh", handler.RefreshEpg)
		p.DELETE("/data", handler.DeleteProfileData)
		p.GET("/stats", handler.GetStats)

		p.GET("/categories/:kind", handler.GetCategories)

		p.GET("/live", handler.GetLive)
		p.GET("/live/recent", handler.GetRecentLive)
		p.GET("/live/now", handler.GetLiveNow)
		p.GET("/live/:itemId/offset", handler.GetLiveOffset)

		p.GET("/vod", handler.GetVod)
		p.GET("/vod/:itemId", handler.GetVodInfo)
		p.GET("/vod/:itemId/similar", handler.GetVodSimilar)

		p.GET("/series", handler.GetSeries)
		p.GET("/series/:itemId", handler.GetSeriesInfo)
		p.GET("/series/:itemId/similar", handler.GetSeriesSimilar)

		p.GET("/search", handler.Search)
		p.GET("/urls/:type/:itemId", handler.GetPlayURL)

		p.GET("/library", handler.GetLibrary)
		p.PUT("/library/favorites/:type/:itemId", handler.AddFavorite)
		p.DELETE("/library/favorites/:type/:itemId", handler.RemoveFavorite)
		p.POST("/library/recent/:type/:itemId", handler.AddRecentlyViewed)
		p.PUT("/library/continue/:type/:itemId", handler.UpsertContinueWatching)
		p.DELETE("/library/continue/:type/:itemId", handler.RemoveContinueWatching)
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service":     "Xtream Catalog",
			"version":     handler.version,
			"description": "Xtream-Codes portal catalog mirror with EPG matching",
			"endpoints": map[string]string{
				"health":   "/health",
				"metrics":  "/metrics",
				"profiles": "/api/profiles",
			},
			"api_status": map[string]any{
				"auth_required": apiAccessKey != "",
				"header":        "X-API-Key",
			},
		})
	})

	r.GET("/favicon.ico", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
}

// authMiddleware creates authentication middleware for API endpoints
func authMiddleware(apiAccessKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		providedKey := c.GetHeader("X-API-Key")

		if providedKey == "" {
			authHeader := c.GetHeader("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				providedKey = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}

		// Browsers cannot set headers on websocket upgrades
		if providedKey == "" && strings.HasSuffix(c.Request.URL.Path, "/sync/events") {
			providedKey = c.Query("api_key")
		}

		if providedKey == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "API key required",
				"message": "Provide API key in X-API-Key header or Authorization: Bearer <key>",
			})
			c.Abort()
			return
		}

		if providedKey != apiAccessKey {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "Invalid API key",
				"message": "The provided API key is not valid",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
