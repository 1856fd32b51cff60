package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/autowebkit/autowebkit/automation"
	"github.com/autowebkit/autowebkit/config"
	"github.com/autowebkit/autowebkit/models"
	"github.com/autowebkit/autowebkit/pkg/logger"
	"github.com/autowebkit/autowebkit/storage"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

// BrowserService is the part of browser.Manager the handlers use.
type BrowserService interface {
	Start(ctx context.Context) error
	Stop() error
	IsRunning() bool
	Status() map[string]interface{}
	PlayScript(ctx context.Context, def *models.ScriptDefinition, params map[string]string) (*models.PlayResult, error)
}

// ToolReloader refreshes MCP tools after scripts change.
type ToolReloader interface {
	Reload(ctx context.Context) error
}

type Handler struct {
	db             *storage.BoltDB
	browserManager BrowserService
	config         *config.Config
	mcpServer      ToolReloader
}

func NewHandler(db *storage.BoltDB, browserMgr BrowserService, cfg *config.Config) *Handler {
	return &Handler{
		db:             db,
		browserManager: browserMgr,
		config:         cfg,
	}
}

// SetMCPServer registers the MCP server to reload when scripts change.
func (h *Handler) SetMCPServer(s ToolReloader) {
	h.mcpServer = s
}

func (h *Handler) reloadTools(ctx context.Context) {
	if h.mcpServer == nil {
		return
	}
	if err := h.mcpServer.Reload(ctx); err != nil {
		logger.Warn(ctx, "Failed to reload MCP tools: %v", err)
	}
}

// ============= auth =============

// Login exchanges the configured credentials for a JWT.
func (h *Handler) Login(c *gin.Context) {
	if h.config.Auth == nil || !h.config.Auth.Enabled {
		c.JSON(http.StatusBadRequest, gin.H{"error": "error.authDisabled"})
		return
	}

	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "error.invalidParams"})
		return
	}

	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.config.Auth.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.config.Auth.Password)) == 1
	if !userOK || !passOK {
		logger.Warn(c.Request.Context(), "Login failed for user %s", req.Username)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "error.invalidCredentials"})
		return
	}

	token, err := GenerateJWT(req.Username, h.config)
	if err != nil {
		logger.Error(c.Request.Context(), "Failed to sign token: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error.loginFailed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":    token,
		"username": req.Username,
	})
}

// CheckAuth tells clients whether they need to log in.
func (h *Handler) CheckAuth(c *gin.Context) {
	enabled := h.config.Auth != nil && h.config.Auth.Enabled
	c.JSON(http.StatusOK, gin.H{"auth_enabled": enabled})
}

// ============= browser =============

func (h *Handler) StartBrowser(c *gin.Context) {
	if h.browserManager.IsRunning() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "error.browserAlreadyRunning"})
		return
	}

	if err := h.browserManager.Start(c.Request.Context()); err != nil {
		logger.Error(c.Request.Context(), "Failed to start browser: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error.startBrowserFailed", "detail": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "success.browserStarted",
		"status":  h.browserManager.Status(),
	})
}

func (h *Handler) StopBrowser(c *gin.Context) {
	if !h.browserManager.IsRunning() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "error.browserNotRunning"})
		return
	}

	if err := h.browserManager.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error.stopBrowserFailed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "success.browserStopped"})
}

func (h *Handler) BrowserStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.browserManager.Status())
}

// ============= scripts =============

// validateScript compiles def so malformed steps are rejected on save
// rather than on first play.
func validateScript(c *gin.Context, def *models.ScriptDefinition) bool {
	if strings.TrimSpace(def.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "error.invalidParams", "detail": "name is required"})
		return false
	}
	if _, err := automation.Compile(def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "error.invalidScript", "detail": err.Error()})
		return false
	}
	return true
}

func (h *Handler) SaveScript(c *gin.Context) {
	var script models.ScriptDefinition
	if err := c.ShouldBindJSON(&script); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "error.invalidParams"})
		return
	}
	if !validateScript(c, &script) {
		return
	}

	if err := h.db.SaveScript(&script); err != nil {
		logger.Error(c.Request.Context(), "Failed to save script: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error.saveScriptFailed"})
		return
	}
	h.reloadTools(c.Request.Context())

	c.JSON(http.StatusOK, gin.H{
		"message": "success.scriptSaved",
		"script":  script,
	})
}

// pagination reads page and page_size, defaulting to 1 and 20.
func pagination(c *gin.Context) (page, pageSize int) {
	page, pageSize = 1, 20
	if p, err := strconv.Atoi(c.Query("page")); err == nil && p > 0 {
		page = p
	}
	if ps, err := strconv.Atoi(c.Query("page_size")); err == nil && ps > 0 && ps <= 100 {
		pageSize = ps
	}
	return page, pageSize
}

func paginate[T any](items []T, page, pageSize int) []T {
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []T{}
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

// ListScripts lists scripts, filtered by group and tag.
func (h *Handler) ListScripts(c *gin.Context) {
	page, pageSize := pagination(c)
	group := c.Query("group")
	tag := c.Query("tag")

	scripts, err := h.db.ListScripts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error.listScriptsFailed"})
		return
	}

	filtered := make([]*models.ScriptDefinition, 0, len(scripts))
	for _, script := range scripts {
		if group != "" && script.Group != group {
			continue
		}
		if tag != "" && !hasTag(script.Tags, tag) {
			continue
		}
		filtered = append(filtered, script)
	}

	c.JSON(http.StatusOK, gin.H{
		"scripts":   paginate(filtered, page, pageSize),
		"total":     len(filtered),
		"page":      page,
		"page_size": pageSize,
	})
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func (h *Handler) GetScript(c *gin.Context) {
	script, err := h.db.GetScript(c.Param("id"))
	if err != nil {
		h.storageError(c, err, "error.scriptNotFound")
		return
	}
	c.JSON(http.StatusOK, script)
}

// UpdateScript replaces a script's definition, keeping its ID and creation time.
func (h *Handler) UpdateScript(c *gin.Context) {
	id := c.Param("id")
	existing, err := h.db.GetScript(id)
	if err != nil {
		h.storageError(c, err, "error.scriptNotFound")
		return
	}

	var script models.ScriptDefinition
	if err := c.ShouldBindJSON(&script); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "error.invalidParams"})
		return
	}
	script.ID = id
	script.CreatedAt = existing.CreatedAt
	if !validateScript(c, &script) {
		return
	}

	if err := h.db.UpdateScript(&script); err != nil {
		logger.Error(c.Request.Context(), "Failed to update script %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error.updateScriptFailed"})
		return
	}
	h.reloadTools(c.Request.Context())

	c.JSON(http.StatusOK, gin.H{
		"message": "success.scriptUpdated",
		"script":  script,
	})
}

func (h *Handler) DeleteScript(c *gin.Context) {
	if err := h.db.DeleteScript(c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error.deleteScriptFailed"})
		return
	}
	h.reloadTools(c.Request.Context())

	c.JSON(http.StatusOK, gin.H{"message": "success.scriptDeleted"})
}

// PlayScript runs a stored script; the optional body {"params": {...}}
// fills ${key} placeholders and seeds the environment.
func (h *Handler) PlayScript(c *gin.Context) {
	id := c.Param("id")

	if !h.browserManager.IsRunning() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "error.browserNotRunning"})
		return
	}

	script, err := h.db.GetScript(id)
	if err != nil {
		h.storageError(c, err, "error.scriptNotFound")
		return
	}

	var req struct {
		Params map[string]string `json:"params"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		// no body means no params
		req.Params = map[string]string{}
	}

	result, err := h.browserManager.PlayScript(c.Request.Context(), script, req.Params)
	if err != nil {
		logger.Error(c.Request.Context(), "Failed to play script %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":  "error.playScriptFailed",
			"detail": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "success.scriptPlaybackCompleted",
		"script":  script.Name,
		"result":  result,
	})
}

// ============= executions =============

// ListScriptExecutions lists run records, filtered by script_id, search and
// success.
func (h *Handler) ListScriptExecutions(c *gin.Context) {
	page, pageSize := pagination(c)
	scriptID := c.Query("script_id")
	searchQuery := strings.ToLower(c.Query("search"))
	successFilter := c.Query("success")

	executions, err := h.db.ListScriptExecutions(scriptID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error.getExecutionRecordsFailed"})
		return
	}

	filtered := make([]*models.ScriptExecution, 0, len(executions))
	for _, exec := range executions {
		if searchQuery != "" && !strings.Contains(strings.ToLower(exec.ScriptName), searchQuery) {
			continue
		}
		if successFilter != "" && exec.Success != (successFilter == "true") {
			continue
		}
		// content can be large; fetched through /content
		exec.Content = ""
		filtered = append(filtered, exec)
	}

	c.JSON(http.StatusOK, gin.H{
		"executions": paginate(filtered, page, pageSize),
		"total":      len(filtered),
		"page":       page,
		"page_size":  pageSize,
	})
}

func (h *Handler) GetScriptExecution(c *gin.Context) {
	execution, err := h.db.GetScriptExecution(c.Param("id"))
	if err != nil {
		h.storageError(c, err, "error.executionRecordNotFound")
		return
	}
	c.JSON(http.StatusOK, execution)
}

// GetScriptExecutionContent returns the document captured at the end of a
// run, as html (default) or markdown, optionally narrowed to selector.
func (h *Handler) GetScriptExecutionContent(c *gin.Context) {
	execution, err := h.db.GetScriptExecution(c.Param("id"))
	if err != nil {
		h.storageError(c, err, "error.executionRecordNotFound")
		return
	}
	if execution.Content == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "error.contentNotCaptured"})
		return
	}

	format := c.DefaultQuery("format", "html")
	selector := c.Query("selector")

	if format == "html" && selector == "" {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(execution.Content))
		return
	}

	doc, err := automation.ParseHTMLDocument(execution.Content)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error.parseContentFailed"})
		return
	}

	switch format {
	case "html":
		inner, ok := doc.InnerHTML(selector)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "error.elementNotFound"})
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(inner))
	case "markdown":
		out, err := doc.Markdown(selector)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "error.elementNotFound", "detail": err.Error()})
			return
		}
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(out))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "error.invalidFormat"})
	}
}

func (h *Handler) DeleteScriptExecution(c *gin.Context) {
	if err := h.db.DeleteScriptExecution(c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error.deleteExecutionRecordFailed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "success.executionRecordDeleted"})
}

// storageError maps a lookup failure to 404 or 500.
func (h *Handler) storageError(c *gin.Context, err error, notFoundKey string) {
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": notFoundKey})
		return
	}
	logger.Error(c.Request.Context(), "Storage error: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "error.internal"})
}
