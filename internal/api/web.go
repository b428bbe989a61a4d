package api

import (
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"time"

	"producer-dashboard/internal/models"
	"producer-dashboard/internal/service"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var templateFuncs = template.FuncMap{
	"unixTime": func(sec int64) string {
		if sec <= 0 {
			return "-"
		}
		return time.Unix(sec, 0).UTC().Format("2006-01-02 15:04 UTC")
	},
	"formatTime": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.UTC().Format("2006-01-02 15:04 UTC")
	},
	"shortHash": func(s string) string {
		if len(s) <= 14 {
			return s
		}
		return s[:8] + "…" + s[len(s)-6:]
	},
	"add": func(a, b int) int { return a + b },
}

type pageData struct {
	View   *service.DashboardView
	Size   int
	Notice string
}

// dashboardPage renders the server-side dashboard
func (h *Handler) dashboardPage(c *gin.Context) {
	size := queryInt(c, "size", 0)
	view := h.dashboard.Build(c.Request.Context(), currentSession(c), queryInt(c, "page", 1), size)

	status := http.StatusOK
	if view.Screen == service.ScreenError {
		status = http.StatusBadGateway
	}
	c.HTML(status, "dashboard.tmpl", pageData{View: view, Size: view.Page.PageSize, Notice: c.Query("notice")})
}

// registerForm submits the HTML registration form and redirects back to the dashboard.
// The outcome is reported through the session's feedback state.
func (h *Handler) registerForm(c *gin.Context) {
	session := currentSession(c)
	if session == nil {
		c.Redirect(http.StatusSeeOther, "/")
		return
	}

	var form models.RegistrationForm
	if err := c.ShouldBind(&form); err != nil {
		h.logger.Debug("Registration form rejected by binding", zap.Error(err))
	}

	req := service.SubmitRequest{SignedTx: c.PostForm("signed_tx")}
	if req.SignedTx == "" {
		req.Form = &form
	}

	if _, err := h.registrations.Submit(c.Request.Context(), session, req); err != nil {
		h.logger.Info("Registration form submit failed", zap.String("producer", session.Address), zap.Error(err))
	}
	c.Redirect(http.StatusSeeOther, "/")
}

// refreshForm rescans the product list and returns to the same page
func (h *Handler) refreshForm(c *gin.Context) {
	session := currentSession(c)
	if session == nil {
		c.Redirect(http.StatusSeeOther, "/")
		return
	}

	if _, err := h.registrations.ResetFeedback(c.Request.Context(), session); err != nil {
		h.logger.Warn("Failed to reset feedback", zap.Error(err))
	}

	target := url.Values{}
	target.Set("page", c.DefaultPostForm("page", "1"))
	if size := c.PostForm("size"); size != "" {
		target.Set("size", size)
	}

	listing := h.products.Refresh(c.Request.Context(), common.HexToAddress(session.Address))
	if listing.ScanErr != nil {
		target.Set("notice", service.Normalize(listing.ScanErr))
	}
	c.Redirect(http.StatusSeeOther, fmt.Sprintf("/?%s", target.Encode()))
}
