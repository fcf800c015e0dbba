package server

import (
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/agora-labs/agora/internal/auth"
	"github.com/agora-labs/agora/internal/chemistry"
	"github.com/agora-labs/agora/internal/metrics"
	"github.com/agora-labs/agora/internal/notes"
	"github.com/agora-labs/agora/internal/ratelimit"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	apiKeyHeader       = "X-API-Key"
	requestIDHeader    = "X-Request-ID"
	identityContextKey = "agora_identity"
	requestIDKey       = "agora_request_id"
	serviceName        = "The Knowledge Agora"
	apiVersion         = "2.0.0"

	defaultIdentityLimit     = 60
	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingNotesService     = errors.New("notes service dependency required")
	errMissingChemistryService = errors.New("chemistry service dependency required")
	errMissingAuthenticator    = errors.New("authenticator dependency required")

	registerJSONTagNames sync.Once
)

type Dependencies struct {
	NotesService     *notes.Service
	ChemistryService *chemistry.Service
	Authenticator    *auth.Authenticator

	// IdentityLimiter throttles authenticated /api/v1 callers per identity.
	IdentityLimiter ratelimit.Limiter
	IdentityLimit   int
	IdentityWindow  time.Duration

	// CreateNotesLimiter and ListNotesLimiter throttle anonymous note traffic per client address.
	CreateNotesLimiter *ratelimit.ClientLimiter
	ListNotesLimiter   *ratelimit.ClientLimiter

	Events            *NoteEventDispatcher
	HeartbeatInterval time.Duration
	Metrics           *metrics.Recorder
	Logger            *zap.Logger
	AllowedOrigins    []string
	AllowedHosts      []string
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.NotesService == nil {
		return nil, errMissingNotesService
	}
	if deps.ChemistryService == nil {
		return nil, errMissingChemistryService
	}
	if deps.Authenticator == nil {
		return nil, errMissingAuthenticator
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	events := deps.Events
	if events == nil {
		events = NewNoteEventDispatcher()
	}
	identityLimit := deps.IdentityLimit
	if identityLimit <= 0 {
		identityLimit = defaultIdentityLimit
	}
	identityWindow := deps.IdentityWindow
	if identityWindow <= 0 {
		identityWindow = ratelimit.DefaultWindow
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	useJSONFieldNames()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(accessLogMiddleware(logger))
	router.Use(deps.Metrics.Middleware())
	router.Use(trustedHostMiddleware(deps.AllowedHosts))
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		notesService:      deps.NotesService,
		chemistryService:  deps.ChemistryService,
		authenticator:     deps.Authenticator,
		identityLimiter:   deps.IdentityLimiter,
		identityLimit:     identityLimit,
		identityWindow:    identityWindow,
		events:            events,
		heartbeatInterval: heartbeat,
		metrics:           deps.Metrics,
		logger:            logger,
	}

	router.GET("/", handler.handleRoot)
	router.GET("/health", handler.handleHealth)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	notesGroup := router.Group("/notes")
	notesGroup.POST("", handler.limitClient("create_notes", deps.CreateNotesLimiter), handler.handleCreateNote)
	notesGroup.GET("", handler.limitClient("list_notes", deps.ListNotesLimiter), handler.handleListNotes)
	notesGroup.GET("/top", handler.handleTopNotes)
	notesGroup.GET("/events", handler.handleNoteEvents)
	notesGroup.GET("/:id", handler.handleGetNote)
	notesGroup.PUT("/:id", handler.handleUpdateNote)
	notesGroup.POST("/:id/pin", handler.handlePinNote)
	notesGroup.POST("/:id/vote", handler.handleVoteNote)
	notesGroup.DELETE("/:id", handler.authenticate(http.StatusForbidden), handler.requireRole(auth.RoleAdmin), handler.handleDeleteNote)

	api := router.Group("/api/v1")
	api.Use(handler.authenticate(http.StatusUnauthorized), handler.limitIdentity)
	api.GET("/auth-test", handler.handleAuthTest)
	api.GET("/stats", handler.handleStats)

	api.GET("/atoms", handler.handleListAtoms)
	api.GET("/atoms/:id", handler.handleGetAtom)
	api.PUT("/atoms/:id", handler.requireRole(auth.RoleAdmin), handler.handleUpdateAtom)

	api.GET("/molecules", handler.handleListMolecules)
	api.GET("/molecules/search/by-atom/:symbol", handler.handleMoleculesByAtom)
	api.GET("/molecules/:id", handler.handleGetMolecule)
	api.GET("/molecules/:id/composition", handler.handleMoleculeComposition)
	api.PUT("/molecules/:id", handler.requireRole(auth.RoleAdmin), handler.handleUpdateMolecule)

	api.GET("/reactions", handler.handleListReactions)
	api.GET("/reactions/types", handler.handleReactionTypes)
	api.GET("/reactions/search/by-molecule/:id", handler.handleReactionsByMolecule)
	api.GET("/reactions/:id", handler.handleGetReaction)
	api.GET("/reactions/:id/participants", handler.handleReactionParticipants)
	api.PUT("/reactions/:id", handler.requireRole(auth.RoleAdmin), handler.handleUpdateReaction)

	return router, nil
}

type httpHandler struct {
	notesService      *notes.Service
	chemistryService  *chemistry.Service
	authenticator     *auth.Authenticator
	identityLimiter   ratelimit.Limiter
	identityLimit     int
	identityWindow    time.Duration
	events            *NoteEventDispatcher
	heartbeatInterval time.Duration
	metrics           *metrics.Recorder
	logger            *zap.Logger
}

func (h *httpHandler) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":        "Welcome to " + serviceName + " API",
		"version":        apiVersion,
		"authentication": "Chemistry data requires the " + apiKeyHeader + " header",
		"endpoints": gin.H{
			"public":        []string{"/", "/health", "/notes", "/notes/top", "/notes/events"},
			"authenticated": []string{"/api/v1/*"},
			"admin_only":    []string{"DELETE /notes/{id}", "PUT /api/v1/*"},
		},
	})
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": serviceName,
		"version": apiVersion,
	})
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	if len(origins) == 0 {
		return func(c *gin.Context) { c.Next() }
	}
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", apiKeyHeader, requestIDHeader},
		ExposeHeaders:    []string{requestIDHeader, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	for _, origin := range origins {
		if origin == "*" {
			cfg.AllowAllOrigins = true
			cfg.AllowCredentials = false
			return cors.New(cfg)
		}
	}
	cfg.AllowOrigins = origins
	return cors.New(cfg)
}

// useJSONFieldNames makes validation errors report payload field names instead of Go names.
func useJSONFieldNames() {
	registerJSONTagNames.Do(func() {
		engine, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		engine.RegisterTagNameFunc(func(field reflect.StructField) string {
			for _, tag := range []string{"json", "form"} {
				name := strings.SplitN(field.Tag.Get(tag), ",", 2)[0]
				if name == "-" {
					return ""
				}
				if name != "" {
					return name
				}
			}
			return field.Name
		})
	})
}
