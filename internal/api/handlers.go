package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rongwang/bytebank/internal/models"
	"github.com/rongwang/bytebank/internal/service"
	"github.com/rongwang/bytebank/internal/session"
	"github.com/rongwang/bytebank/internal/utils"
)

const loginPage = `<!DOCTYPE html>
<html lang="pt-BR">
<head><meta charset="utf-8"><title>Bytebank - Login</title></head>
<body>
<form method="post" action="/api/auth/login">
<input name="email" type="email" placeholder="Email">
<input name="password" type="password" placeholder="Senha">
<button type="submit">Acessar</button>
</form>
</body>
</html>`

// Handler serves one application's routes
type Handler struct {
	service service.Service
	origin  *session.Origin
	homeURL string
	log     *utils.Logger
}

// NewHandler creates a handler for the application behind origin
func NewHandler(svc service.Service, origin *session.Origin, homeURL string, logger *utils.Logger) *Handler {
	return &Handler{
		service: svc,
		origin:  origin,
		homeURL: homeURL,
		log:     logger.WithField("app", origin.Name()),
	}
}

// SetupHomeRoutes registers the home application: login page and auth API
func (h *Handler) SetupHomeRoutes(router *gin.Engine) {
	router.GET("/login", h.LoginPage)

	auth := router.Group("/api/auth")
	{
		auth.POST("/signup", h.SignUp)
		auth.POST("/login", h.Login)
		auth.POST("/logout", h.HomeLogout)
		auth.GET("/session", h.HomeSession)
	}
}

// SetupDashboardRoutes registers the dashboard application behind the session middleware
func (h *Handler) SetupDashboardRoutes(router *gin.Engine) {
	requireSession := SessionMiddleware(h.origin, h.homeURL)

	router.GET("/", requireSession, h.Dashboard)

	api := router.Group("/api", requireSession)
	{
		api.GET("/session", h.CurrentSession)
		api.POST("/logout", h.Logout)

		api.GET("/account", h.GetAccount)
		api.PATCH("/account/visibility", h.SetBalanceVisibility)
		api.DELETE("/account", h.DeleteAccount)

		api.GET("/transactions", h.ListTransactions)
		api.POST("/transactions", h.CreateTransaction)
		api.PUT("/transactions/:id", h.UpdateTransaction)
		api.DELETE("/transactions/:id", h.DeleteTransaction)
		api.GET("/transactions/:id/attachments", h.ListAttachments)
		api.POST("/transactions/:id/attachments", h.AddAttachment)
		api.POST("/demo-data", h.PopulateDemoData)

		api.GET("/attachments/:id", h.GetAttachment)
		api.DELETE("/attachments/:id", h.DeleteAttachment)

		api.GET("/goals", h.ListGoals)
		api.POST("/goals", h.CreateGoal)
		api.PUT("/goals/:id", h.UpdateGoal)
		api.DELETE("/goals/:id", h.DeleteGoal)
		api.POST("/goals/:id/contributions", h.ContributeToGoal)

		api.GET("/services", h.ListServices)
		api.GET("/analytics", h.GetAnalytics)
	}
}

// Home application handlers
func (h *Handler) LoginPage(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(loginPage))
}

func (h *Handler) SignUp(c *gin.Context) {
	var req models.SignUpRequest
	if !bind(c, &req) {
		return
	}

	resp, err := h.service.SignUp(c.Request.Context(), req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) Login(c *gin.Context) {
	// the login page posts a form, API clients send JSON
	var req models.LoginRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Status:  "error",
			Code:    "INVALID_REQUEST",
			Message: err.Error(),
		})
		return
	}

	manager, jar := h.sessionFor(c)

	resp, err := h.service.Login(c.Request.Context(), manager, jar, req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) HomeLogout(c *gin.Context) {
	manager, jar := h.sessionFor(c)
	h.service.Logout(c.Request.Context(), manager, jar)
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) HomeSession(c *gin.Context) {
	manager, jar := h.sessionFor(c)
	s := manager.Get(c.Request.Context(), jar)
	if s == nil {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{
			Status:  "error",
			Code:    "UNAUTHORIZED",
			Message: "No active session",
		})
		return
	}
	c.JSON(http.StatusOK, s)
}

// Dashboard application handlers
func (h *Handler) Dashboard(c *gin.Context) {
	resp, err := h.service.GetAccount(c.Request.Context(), c.GetString(userIDKey))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) CurrentSession(c *gin.Context) {
	c.JSON(http.StatusOK, c.MustGet(sessionKey))
}

func (h *Handler) Logout(c *gin.Context) {
	manager := c.MustGet(managerKey).(*session.Manager)
	jar := c.MustGet(cookieJarKey).(session.CookieJar)
	h.service.Logout(c.Request.Context(), manager, jar)
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) GetAccount(c *gin.Context) {
	resp, err := h.service.GetAccount(c.Request.Context(), c.GetString(userIDKey))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) SetBalanceVisibility(c *gin.Context) {
	var req models.BalanceVisibilityRequest
	if !bind(c, &req) {
		return
	}

	resp, err := h.service.SetBalanceVisibility(c.Request.Context(), c.GetString(userIDKey), *req.Visible)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) DeleteAccount(c *gin.Context) {
	if err := h.service.DeleteAccount(c.Request.Context(), c.GetString(userIDKey)); err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListTransactions(c *gin.Context) {
	resp, err := h.service.ListTransactions(c.Request.Context(), c.GetString(userIDKey))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) CreateTransaction(c *gin.Context) {
	var req models.TransactionRequest
	if !bind(c, &req) {
		return
	}

	resp, err := h.service.CreateTransaction(c.Request.Context(), c.GetString(userIDKey), req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) UpdateTransaction(c *gin.Context) {
	var req models.TransactionRequest
	if !bind(c, &req) {
		return
	}

	resp, err := h.service.UpdateTransaction(c.Request.Context(), c.GetString(userIDKey), c.Param("id"), req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) DeleteTransaction(c *gin.Context) {
	resp, err := h.service.DeleteTransaction(c.Request.Context(), c.GetString(userIDKey), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) PopulateDemoData(c *gin.Context) {
	n, err := h.service.PopulateDemoData(c.Request.Context(), c.GetString(userIDKey))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "created": n})
}

func (h *Handler) ListAttachments(c *gin.Context) {
	resp, err := h.service.ListAttachments(c.Request.Context(), c.GetString(userIDKey), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) AddAttachment(c *gin.Context) {
	var req models.AttachmentRequest
	if !bind(c, &req) {
		return
	}

	resp, err := h.service.AddAttachment(c.Request.Context(), c.GetString(userIDKey), c.Param("id"), req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// GetAttachment streams the stored file
func (h *Handler) GetAttachment(c *gin.Context) {
	a, err := h.service.GetAttachment(c.Request.Context(), c.GetString(userIDKey), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.FileName))
	c.Data(http.StatusOK, a.FileType, a.File)
}

func (h *Handler) DeleteAttachment(c *gin.Context) {
	if err := h.service.DeleteAttachment(c.Request.Context(), c.GetString(userIDKey), c.Param("id")); err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListGoals(c *gin.Context) {
	resp, err := h.service.ListGoals(c.Request.Context(), c.GetString(userIDKey))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) CreateGoal(c *gin.Context) {
	var req models.GoalRequest
	if !bind(c, &req) {
		return
	}

	resp, err := h.service.CreateGoal(c.Request.Context(), c.GetString(userIDKey), req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) UpdateGoal(c *gin.Context) {
	var req models.GoalRequest
	if !bind(c, &req) {
		return
	}

	resp, err := h.service.UpdateGoal(c.Request.Context(), c.GetString(userIDKey), c.Param("id"), req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) DeleteGoal(c *gin.Context) {
	if err := h.service.DeleteGoal(c.Request.Context(), c.GetString(userIDKey), c.Param("id")); err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ContributeToGoal(c *gin.Context) {
	var req models.GoalContributionRequest
	if !bind(c, &req) {
		return
	}

	resp, err := h.service.ContributeToGoal(c.Request.Context(), c.GetString(userIDKey), c.Param("id"), req.Amount)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) ListServices(c *gin.Context) {
	resp, err := h.service.ListServices(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetAnalytics(c *gin.Context) {
	resp, err := h.service.GetAnalytics(c.Request.Context(), c.GetString(userIDKey))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "analytics": resp})
}

// Helper methods
func (h *Handler) sessionFor(c *gin.Context) (*session.Manager, session.CookieJar) {
	jar := session.NewHTTPJar(c.Writer, c.Request)
	return h.origin.Manager(jar), jar
}

func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Status:  "error",
			Code:    "INVALID_REQUEST",
			Message: err.Error(),
		})
		return false
	}
	return true
}

func (h *Handler) handleError(c *gin.Context, err error) {
	var status int
	var code string
	switch {
	case errors.Is(err, service.ErrValidation):
		status, code = http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, service.ErrInvalidCredentials):
		status, code = http.StatusUnauthorized, "INVALID_CREDENTIALS"
	case errors.Is(err, service.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, service.ErrEmailTaken):
		status, code = http.StatusConflict, "EMAIL_TAKEN"
	default:
		h.log.Error("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.Error(err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Status:  "error",
			Code:    "INTERNAL_ERROR",
			Message: "Internal server error",
		})
		return
	}

	c.JSON(status, models.ErrorResponse{
		Status:  "error",
		Code:    code,
		Message: err.Error(),
	})
}
