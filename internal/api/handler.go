package api

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"producer-dashboard/internal/chain"
	"producer-dashboard/internal/models"
	"producer-dashboard/internal/service"
	"producer-dashboard/internal/util"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	sessionCookie = "pd_session"
	sessionHeader = "X-Session-ID"
	sessionKey    = "session"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Sessions is implemented by *service.SessionService
type Sessions interface {
	IssueNonce(ctx context.Context, address string) (string, error)
	Connect(ctx context.Context, address, signature string) (*models.Session, error)
	Get(ctx context.Context, id string) (*models.Session, error)
	Disconnect(ctx context.Context, id string) error
}

// Dashboard is implemented by *service.DashboardService
type Dashboard interface {
	Build(ctx context.Context, session *models.Session, page, size int) *service.DashboardView
}

// Profiles is implemented by *service.ProfileService
type Profiles interface {
	GetProfile(ctx context.Context, addr common.Address) (*models.ProducerProfile, error)
}

// Products is implemented by *service.ProductService
type Products interface {
	Refresh(ctx context.Context, producer common.Address) *service.ProductListing
}

// Registrations is implemented by *service.RegistrationService
type Registrations interface {
	Prepare(ctx context.Context, session *models.Session, form models.RegistrationForm) (*service.PreparedTx, error)
	Submit(ctx context.Context, session *models.Session, req service.SubmitRequest) (models.FeedbackState, error)
	Feedback(ctx context.Context, session *models.Session) (models.FeedbackState, error)
	ResetFeedback(ctx context.Context, session *models.Session) (models.FeedbackState, error)
	Transactions(ctx context.Context, session *models.Session, limit int) ([]models.TxRecord, error)
}

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	sessions      Sessions
	dashboard     Dashboard
	profiles      Profiles
	products      Products
	registrations Registrations
	checks        map[string]Pinger
	sessionTTL    time.Duration
	secureCookie  bool
	logger        *zap.Logger
}

// Options configures a Handler
type Options struct {
	Sessions      Sessions
	Dashboard     Dashboard
	Profiles      Profiles
	Products      Products
	Registrations Registrations
	// Checks are pinged by /ready
	Checks       map[string]Pinger
	SessionTTL   time.Duration
	SecureCookie bool
}

// NewHandler creates a new HTTP handler
func NewHandler(opts Options) *Handler {
	return &Handler{
		sessions:      opts.Sessions,
		dashboard:     opts.Dashboard,
		profiles:      opts.Profiles,
		products:      opts.Products,
		registrations: opts.Registrations,
		checks:        opts.Checks,
		sessionTTL:    opts.SessionTTL,
		secureCookie:  opts.SecureCookie,
		logger:        util.ComponentLogger("api"),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.SetHTMLTemplate(template.Must(template.New("").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.tmpl")))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	web := router.Group("/", h.resolveSession)
	{
		web.GET("/", h.dashboardPage)
		web.POST("/register", h.registerForm)
		web.POST("/refresh", h.refreshForm)
	}

	v1 := router.Group("/api/v1", h.resolveSession)
	{
		v1.GET("/session/nonce", h.issueNonce)
		v1.POST("/session", h.connect)
		v1.DELETE("/session", h.disconnect)

		v1.GET("/dashboard", h.getDashboard)
		v1.GET("/producer", h.getProducer)
		v1.GET("/products", h.getProducts)
		v1.POST("/products/refresh", h.refreshProducts)

		v1.POST("/producer/registration/prepare", h.prepareRegistration)
		v1.POST("/producer/registration", h.submitRegistration)
		v1.GET("/feedback", h.getFeedback)
		v1.GET("/transactions", h.listTransactions)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("check", name), zap.Error(err))
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// resolveSession loads the session named by the cookie or header, if any
func (h *Handler) resolveSession(c *gin.Context) {
	id := c.GetHeader(sessionHeader)
	if id == "" {
		id, _ = c.Cookie(sessionCookie)
	}
	if id == "" {
		c.Next()
		return
	}

	session, err := h.sessions.Get(c.Request.Context(), id)
	if err != nil {
		h.logger.Warn("Session lookup failed", zap.Error(err))
	}
	if session != nil {
		c.Set(sessionKey, session)
	}
	c.Next()
}

func currentSession(c *gin.Context) *models.Session {
	if v, ok := c.Get(sessionKey); ok {
		if s, ok := v.(*models.Session); ok {
			return s
		}
	}
	return nil
}

// requireSession answers 401 and returns nil when no wallet is connected
func requireSession(c *gin.Context) *models.Session {
	session := currentSession(c)
	if session == nil {
		respondError(c, service.ErrNotConnected)
	}
	return session
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": service.Normalize(err)})
}

func statusFor(err error) int {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr),
		errors.Is(err, chain.ErrInvalidAddress),
		errors.Is(err, chain.ErrInvalidSignedTx),
		errors.Is(err, chain.ErrWrongChain),
		errors.Is(err, chain.ErrUnexpectedTarget),
		errors.Is(err, service.ErrSignerMismatch),
		errors.Is(err, service.ErrSignatureRequired):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotConnected),
		errors.Is(err, service.ErrNonceExpired),
		errors.Is(err, service.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrAlreadyRegistered),
		errors.Is(err, service.ErrRegistrationInFlight),
		errors.Is(err, service.ErrDuplicateSubmission):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// queryInt returns the integer query parameter key, or def when absent or malformed
func queryInt(c *gin.Context, key string, def int) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return n
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
