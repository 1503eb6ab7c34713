package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/tasks"
	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/users"
	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/validation"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	userIDContextKey    = "taskflow_user_id"
	userEmailContextKey = "taskflow_user_email"
	serviceName         = "taskflow-api"
)

var (
	errMissingUsersService        = errors.New("users service dependency required")
	errMissingTasksService        = errors.New("tasks service dependency required")
	errMissingNotificationService = errors.New("notification service dependency required")
	errMissingSessionValidator    = errors.New("session validator dependency required")
	errMissingTokenIssuer         = errors.New("token issuer dependency required")
	errMissingServiceKey          = errors.New("service key required")
	errMissingDatabase            = errors.New("database dependency required")
)

type SessionValidator interface {
	ValidateToken(token string) (auth.SessionClaims, error)
}

type SessionIssuer interface {
	Issue(ctx context.Context, subject auth.Subject) (string, int64, error)
}

type Dependencies struct {
	Users          *users.Service
	Tasks          *tasks.Service
	Notifications  *tasks.NotificationService
	Sessions       SessionValidator
	Tokens         SessionIssuer
	ServiceKey     string
	AllowedOrigins []string
	Realtime       *RealtimeDispatcher
	Database       *gorm.DB
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Users == nil {
		return nil, errMissingUsersService
	}
	if deps.Tasks == nil {
		return nil, errMissingTasksService
	}
	if deps.Notifications == nil {
		return nil, errMissingNotificationService
	}
	if deps.Sessions == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenIssuer
	}
	if strings.TrimSpace(deps.ServiceKey) == "" {
		return nil, errMissingServiceKey
	}
	if deps.Database == nil {
		return nil, errMissingDatabase
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}

	validation.Init()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.RequestLogger(logger))
	router.Use(metricsMiddleware())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		users:         deps.Users,
		tasks:         deps.Tasks,
		notifications: deps.Notifications,
		sessions:      deps.Sessions,
		tokens:        deps.Tokens,
		serviceKey:    []byte(deps.ServiceKey),
		realtime:      realtime,
		db:            deps.Database,
		logger:        logger,
	}

	router.GET("/", handler.handleIndex)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.GET("/health", handler.handleHealth)
	api.GET("/database-check", handler.handleDatabaseCheck)
	api.POST("/auth/login", handler.handleLogin)
	api.GET("/setup/status", handler.handleSetupStatus)
	api.POST("/setup/admin", handler.handleSetupAdmin)

	privileged := api.Group("/users")
	privileged.Use(handler.requireElevated)
	privileged.POST("/create", handler.handleCreateUser)
	privileged.PUT("/:userId", handler.handleUpdateUser)
	privileged.DELETE("/:userId", handler.handleDeleteUser)

	protected := api.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/users", handler.handleListUsers)
	protected.GET("/auth/me", handler.handleMe)

	protected.GET("/tasks", handler.handleListTasks)
	protected.POST("/tasks", handler.handleCreateTask)
	protected.GET("/tasks/stats", handler.handleTaskStats)
	protected.GET("/tasks/:taskId", handler.handleGetTask)
	protected.PUT("/tasks/:taskId", handler.handleUpdateTask)
	protected.PATCH("/tasks/:taskId/status", handler.handleUpdateTaskStatus)
	protected.DELETE("/tasks/:taskId", handler.handleDeleteTask)

	protected.GET("/notifications", handler.handleListNotifications)
	protected.POST("/notifications/read-all", handler.handleMarkAllNotificationsRead)
	protected.POST("/notifications/:notificationId/read", handler.handleMarkNotificationRead)
	protected.GET("/notifications/stream", handler.handleNotificationStream)

	return router, nil
}

type httpHandler struct {
	users         *users.Service
	tasks         *tasks.Service
	notifications *tasks.NotificationService
	sessions      SessionValidator
	tokens        SessionIssuer
	serviceKey    []byte
	realtime      *RealtimeDispatcher
	db            *gorm.DB
	logger        *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin != "" {
			allowed[origin] = struct{}{}
		}
	}
	return cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			_, ok := allowed[strings.TrimRight(origin, "/")]
			return ok
		},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "apikey"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

func (h *httpHandler) handleIndex(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": serviceName,
		"status":  "running",
		"endpoints": []string{
			"GET /api/health",
			"GET /api/database-check",
			"POST /api/users/create",
			"PUT /api/users/:userId",
			"DELETE /api/users/:userId",
			"GET /api/users",
			"POST /api/auth/login",
			"GET /api/tasks",
			"GET /api/notifications",
		},
	})
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleDatabaseCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err == nil {
		var profiles int64
		err = h.db.WithContext(ctx).Model(&users.Profile{}).Count(&profiles).Error
	}
	if err != nil {
		h.logger.Error("database check failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "Database connection failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "connected"})
}
