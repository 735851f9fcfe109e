package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/inkwell/internal/auth"
	"github.com/MarcoPoloResearchLab/inkwell/internal/collab"
	"github.com/MarcoPoloResearchLab/inkwell/internal/documents"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	userIDContextKey      = "inkwell_user_id"
	defaultOutboundBuffer = 256
)

var (
	errMissingEngine        = errors.New("collaboration engine dependency required")
	errMissingSessions      = errors.New("session validator dependency required")
	errMissingAuthenticator = errors.New("authenticator dependency required")
	errMissingDocuments     = errors.New("document access dependency required")
)

// DocumentAccess answers ownership and permission questions for HTTP endpoints.
type DocumentAccess interface {
	GetDocument(ctx context.Context, documentID string) (documents.DocumentRecord, error)
	HasAccess(ctx context.Context, documentID, userID string) (bool, error)
}

type Dependencies struct {
	Engine         *collab.Engine
	Sessions       *auth.SessionValidator
	Authenticator  collab.Authenticator
	Documents      DocumentAccess
	AllowedOrigins []string
	OutboundBuffer int
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.Engine == nil:
		return nil, errMissingEngine
	case deps.Sessions == nil:
		return nil, errMissingSessions
	case deps.Authenticator == nil:
		return nil, errMissingAuthenticator
	case deps.Documents == nil:
		return nil, errMissingDocuments
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	outboundBuffer := deps.OutboundBuffer
	if outboundBuffer <= 0 {
		outboundBuffer = defaultOutboundBuffer
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		engine:         deps.Engine,
		sessions:       deps.Sessions,
		authenticator:  deps.Authenticator,
		documents:      deps.Documents,
		outboundBuffer: outboundBuffer,
		logger:         logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(deps.AllowedOrigins),
		},
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/ws", handler.handleWebSocket)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/documents/:documentId/offline-queue", handler.handleOfflineQueue)

	return router, nil
}

// corsMiddleware reflects any origin when allowedOrigins is empty.
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

func originChecker(allowedOrigins []string) func(*http.Request) bool {
	if len(allowedOrigins) == 0 {
		return func(*http.Request) bool { return true }
	}
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

type httpHandler struct {
	engine         *collab.Engine
	sessions       *auth.SessionValidator
	authenticator  collab.Authenticator
	documents      DocumentAccess
	upgrader       websocket.Upgrader
	outboundBuffer int
	logger         *zap.Logger
}

type healthResponsePayload struct {
	Status string `json:"status"`
	Rooms  int    `json:"rooms"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponsePayload{Status: "ok", Rooms: h.engine.Registry().Len()})
}

type offlineQueueRequestPayload struct {
	ClientID       string `json:"clientId"`
	Update         []byte `json:"update"`
	SequenceNumber int64  `json:"sequenceNumber"`
}

func (h *httpHandler) handleOfflineQueue(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	documentID, err := documents.NewDocumentID(c.Param("documentId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_document_id"})
		return
	}
	var request offlineQueueRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Update) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	clientID, err := documents.NewClientID(request.ClientID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_client_id"})
		return
	}

	ctx := c.Request.Context()
	document, err := h.documents.GetDocument(ctx, documentID)
	if errors.Is(err, documents.ErrDocumentNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load document", zap.String("document_id", documentID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}
	if document.OwnerID != userID {
		allowed, err := h.documents.HasAccess(ctx, documentID, userID)
		if err != nil {
			h.logger.Error("failed to check access", zap.String("document_id", documentID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
			return
		}
		if !allowed {
			c.JSON(http.StatusForbidden, gin.H{"error": "access_denied"})
			return
		}
	}

	if err := h.engine.Offline().Queue(ctx, clientID, documentID, request.Update, request.SequenceNumber); err != nil {
		h.logger.Error("failed to queue offline operation",
			zap.String("document_id", documentID),
			zap.String("client_id", clientID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "queue_failed"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	credential := h.sessions.RequestCredential(c.Request)
	if credential == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	identity, err := h.authenticator.ResolveIdentity(c.Request.Context(), credential)
	if err != nil {
		h.logger.Warn("credential validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, identity.UserID)
	c.Next()
}
