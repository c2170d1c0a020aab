package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/scribe/internal/notes"
	"github.com/MarcoPoloResearchLab/scribe/internal/realtime"
	"github.com/MarcoPoloResearchLab/scribe/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const userIDContextKey = "scribe_user_id"

var (
	errMissingTokenManager    = errors.New("token manager dependency required")
	errMissingNotesService    = errors.New("notes service dependency required")
	errMissingRealtimeService = errors.New("realtime service dependency required")
	errMissingIdentityService = errors.New("identity service dependency required")
	errInvalidAuthorization   = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates backend bearer tokens.
type TokenManager interface {
	IssueToken(ctx context.Context, subject string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// IdentityResolver resolves user profiles for presence display.
type IdentityResolver interface {
	Lookup(ctx context.Context, userID string) (users.Identity, error)
	Ensure(ctx context.Context, userID, username, displayName string) (users.Identity, error)
}

// Dependencies bundles everything the HTTP surface needs.
type Dependencies struct {
	TokenManager TokenManager
	NotesService *notes.Service
	Realtime     *realtime.Service
	Identities   IdentityResolver
	Events       *realtime.EventBus
	Logger       *zap.Logger
}

// NewHTTPHandler wires the router: session issuance, the realtime websocket
// admission endpoint, and the note endpoints that drive external events into
// the realtime engine.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.NotesService == nil {
		return nil, errMissingNotesService
	}
	if deps.Realtime == nil {
		return nil, errMissingRealtimeService
	}
	if deps.Identities == nil {
		return nil, errMissingIdentityService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	events := deps.Events
	if events == nil {
		events = realtime.NewEventBus()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:     deps.TokenManager,
		notes:      deps.NotesService,
		realtime:   deps.Realtime,
		identities: deps.Identities,
		events:     events,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	router.POST("/auth/session", handler.handleIssueSession)
	router.GET("/realtime", handler.handleRealtimeConnect)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/notes", handler.handleCreateNote)
	protected.DELETE("/notes/:note", handler.handleDeleteNote)
	protected.PUT("/notes/:note/permissions/:user", handler.handleSetPermission)

	return router, nil
}

type httpHandler struct {
	tokens     TokenManager
	notes      *notes.Service
	realtime   *realtime.Service
	identities IdentityResolver
	events     *realtime.EventBus
	logger     *zap.Logger
	upgrader   websocket.Upgrader
}

type sessionRequestPayload struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

type sessionResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// handleIssueSession exchanges a trusted-frontend identity for a bearer
// token, refreshing the stored identity on the way.
func (h *httpHandler) handleIssueSession(c *gin.Context) {
	var request sessionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if _, err := h.identities.Ensure(c.Request.Context(), request.UserID, request.Username, request.DisplayName); err != nil {
		h.logger.Error("failed to store identity", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "identity_store_failed"})
		return
	}

	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), strings.TrimSpace(request.UserID))
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, sessionResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

// handleRealtimeConnect admits one client into a note's realtime session.
// Authentication is optional: without a valid token the client joins as a
// guest at the note's everyone level. Denied requesters never reach the
// websocket upgrade.
func (h *httpHandler) handleRealtimeConnect(c *gin.Context) {
	noteID, err := strconv.ParseInt(c.Query("note"), 10, 64)
	if err != nil || noteID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_note_id"})
		return
	}

	userID := ""
	if token := bearerToken(c); token != "" {
		subject, validateErr := h.tokens.ValidateToken(token)
		if validateErr != nil {
			h.logger.Warn("token validation failed", zap.Error(validateErr))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		userID = subject
	}

	level, err := h.notes.PermissionLevel(c.Request.Context(), noteID, userID)
	if err != nil {
		h.logger.Error("permission lookup failed", zap.Int64("note_id", noteID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "permission_lookup_failed"})
		return
	}
	if !level.CanRead() {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	session, err := h.realtime.GetOrCreateRealtimeNote(c.Request.Context(), noteID)
	if errors.Is(err, notes.ErrNoRevision) {
		c.JSON(http.StatusNotFound, gin.H{"error": "note_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to open realtime session", zap.Int64("note_id", noteID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "realtime_unavailable"})
		return
	}

	username, displayName := "", ""
	if userID != "" {
		if identity, lookupErr := h.identities.Lookup(c.Request.Context(), userID); lookupErr == nil {
			username = identity.Username
			displayName = identity.DisplayName
		}
	}

	wsConn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Int64("note_id", noteID), zap.Error(err))
		return
	}

	transport := realtime.NewWebsocketTransport(wsConn, h.logger)
	connection := realtime.NewConnection(realtime.ConnectionConfig{
		Transport:   transport,
		Session:     session,
		UserID:      userID,
		Username:    username,
		DisplayName: displayName,
		AcceptEdits: level.CanWrite(),
		Logger:      h.logger,
	})
	session.AddClient(connection)
	go transport.Run()
}

type createNotePayload struct {
	Title         string `json:"title"`
	Content       string `json:"content"`
	EveryoneLevel string `json:"everyone_level"`
}

func (h *httpHandler) handleCreateNote(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	var request createNotePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	everyoneLevel, err := notes.ParsePermissionLevel(request.EveryoneLevel)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_everyone_level"})
		return
	}
	noteID, err := h.notes.CreateNote(c.Request.Context(), userID, request.Title, request.Content, everyoneLevel)
	if err != nil {
		h.logger.Error("failed to create note", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"note_id": noteID})
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	noteID, ok := h.authorizeNoteWrite(c)
	if !ok {
		return
	}
	if err := h.notes.DeleteNote(c.Request.Context(), noteID); err != nil {
		if errors.Is(err, notes.ErrNoteNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "note_not_found"})
			return
		}
		h.logger.Error("failed to delete note", zap.Int64("note_id", noteID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	h.events.Publish(realtime.NoteEvent{Type: realtime.NoteEventDeleted, NoteID: noteID})
	h.events.Publish(realtime.NoteEvent{Type: realtime.NoteEventPermissionChanged, NoteID: noteID})
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

type setPermissionPayload struct {
	Level string `json:"level"`
}

func (h *httpHandler) handleSetPermission(c *gin.Context) {
	noteID, ok := h.authorizeNoteWrite(c)
	if !ok {
		return
	}
	targetUserID := strings.TrimSpace(c.Param("user"))
	if targetUserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_user_id"})
		return
	}
	var request setPermissionPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	level, err := notes.ParsePermissionLevel(request.Level)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_level"})
		return
	}
	if err := h.notes.SetPermission(c.Request.Context(), noteID, targetUserID, level); err != nil {
		h.logger.Error("failed to set permission",
			zap.Int64("note_id", noteID), zap.String("user_id", targetUserID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "permission_update_failed"})
		return
	}
	h.events.Publish(realtime.NoteEvent{Type: realtime.NoteEventPermissionChanged, NoteID: noteID})
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

// authorizeNoteWrite parses the note id and requires the requester to hold
// write access on it.
func (h *httpHandler) authorizeNoteWrite(c *gin.Context) (int64, bool) {
	noteID, err := strconv.ParseInt(c.Param("note"), 10, 64)
	if err != nil || noteID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_note_id"})
		return 0, false
	}
	userID := c.GetString(userIDContextKey)
	level, err := h.notes.PermissionLevel(c.Request.Context(), noteID, userID)
	if err != nil {
		h.logger.Error("permission lookup failed", zap.Int64("note_id", noteID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "permission_lookup_failed"})
		return 0, false
	}
	if !level.CanWrite() {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return 0, false
	}
	return noteID, true
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

// bearerToken extracts the token from the Authorization header, falling back
// to the access_token query parameter for websocket clients that cannot set
// headers.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return strings.TrimSpace(c.Query("access_token"))
}
