package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/autowebkit/autowebkit/config"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// SetupRouter builds the HTTP API. mcpHandler, when non-nil, is mounted at
// /api/v1/mcp behind the same authentication as the rest of the API.
func SetupRouter(handler *Handler, mcpHandler http.Handler, isDebug bool) *gin.Engine {
	var r *gin.Engine
	if isDebug {
		gin.SetMode(gin.DebugMode)
		r = gin.Default()
	} else {
		gin.SetMode(gin.ReleaseMode)
		r = gin.New()
		r.Use(gin.Recovery())
	}

	// must run before the other middleware so they can log the trace id
	r.Use(TraceIDMiddleware())

	r.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Trace-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Trace-ID"},
		AllowCredentials: false, // must be false with AllowAllOrigins
	}))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	auth := r.Group("/api/v1/auth")
	{
		auth.POST("/login", handler.Login)
		auth.GET("/check", handler.CheckAuth)
	}

	api := r.Group("/api/v1")
	api.Use(JWTAuthenticationMiddleware(handler.config))
	{
		browserAPI := api.Group("/browser")
		{
			browserAPI.POST("/start", handler.StartBrowser)
			browserAPI.POST("/stop", handler.StopBrowser)
			browserAPI.GET("/status", handler.BrowserStatus)
		}

		scripts := api.Group("/scripts")
		{
			scripts.GET("", handler.ListScripts)
			scripts.GET("/:id", handler.GetScript)
			scripts.POST("", handler.SaveScript)
			scripts.PUT("/:id", handler.UpdateScript)
			scripts.DELETE("/:id", handler.DeleteScript)
			scripts.POST("/:id/play", handler.PlayScript)
		}

		executions := api.Group("/script-executions")
		{
			executions.GET("", handler.ListScriptExecutions)
			executions.GET("/:id", handler.GetScriptExecution)
			executions.GET("/:id/content", handler.GetScriptExecutionContent)
			executions.DELETE("/:id", handler.DeleteScriptExecution)
		}

		if mcpHandler != nil {
			api.Any("/mcp", gin.WrapH(mcpHandler))
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "error.notFound"})
	})

	return r
}

// JWTClaims JWT claims
type JWTClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// GenerateJWT issues a token valid for seven days, signed with auth.app_key.
func GenerateJWT(username string, cfg *config.Config) (string, error) {
	claims := JWTClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour * 7)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.Auth.AppKey))
}

// JWTAuthenticationMiddleware rejects requests without a valid bearer token
// when auth is enabled.
func JWTAuthenticationMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.Auth == nil || !cfg.Auth.Enabled {
			c.Next()
			return
		}

		tokenString := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "error.unauthorized"})
			c.Abort()
			return
		}

		token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
			return []byte(cfg.Auth.AppKey), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "error.invalidToken"})
			c.Abort()
			return
		}

		claims, ok := token.Claims.(*JWTClaims)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "error.invalidToken"})
			c.Abort()
			return
		}

		c.Set("username", claims.Username)
		c.Next()
	}
}
