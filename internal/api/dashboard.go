package api

import (
	"net/http"

	"producer-dashboard/internal/models"
	"producer-dashboard/internal/service"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

type registrationRequest struct {
	Form     *models.RegistrationForm `json:"form"`
	SignedTx string                   `json:"signed_tx"`
}

// getDashboard returns the full dashboard view for the session
func (h *Handler) getDashboard(c *gin.Context) {
	view := h.dashboard.Build(c.Request.Context(), currentSession(c), queryInt(c, "page", 1), queryInt(c, "size", 0))
	c.JSON(http.StatusOK, view)
}

func (h *Handler) getProducer(c *gin.Context) {
	session := requireSession(c)
	if session == nil {
		return
	}

	profile, err := h.profiles.GetProfile(c.Request.Context(), common.HexToAddress(session.Address))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// getProducts returns one page of the session's products
func (h *Handler) getProducts(c *gin.Context) {
	session := requireSession(c)
	if session == nil {
		return
	}

	view := h.dashboard.Build(c.Request.Context(), session, queryInt(c, "page", 1), queryInt(c, "size", 0))
	if view.ReadError != "" {
		c.JSON(http.StatusBadGateway, gin.H{"error": view.ReadError})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items":      view.Products,
		"page":       view.Page,
		"scanned_at": view.ScannedAt,
		"stale":      view.Stale,
		"scan_error": view.ScanError,
	})
}

// refreshProducts rescans the session's products
func (h *Handler) refreshProducts(c *gin.Context) {
	session := requireSession(c)
	if session == nil {
		return
	}

	listing := h.products.Refresh(c.Request.Context(), common.HexToAddress(session.Address))
	body := gin.H{
		"count":      len(listing.Items),
		"scanned_at": listing.ScannedAt,
		"stale":      listing.FromCache,
	}
	if listing.ScanErr != nil {
		body["scan_error"] = service.Normalize(listing.ScanErr)
		c.JSON(http.StatusBadGateway, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

// prepareRegistration returns the unsigned registerProducer call
func (h *Handler) prepareRegistration(c *gin.Context) {
	session := requireSession(c)
	if session == nil {
		return
	}

	var form models.RegistrationForm
	if err := c.ShouldBindJSON(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	prepared, err := h.registrations.Prepare(c.Request.Context(), session, form)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, prepared)
}

// submitRegistration broadcasts the registration and returns the pending feedback state
func (h *Handler) submitRegistration(c *gin.Context) {
	session := requireSession(c)
	if session == nil {
		return
	}

	var req registrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	state, err := h.registrations.Submit(c.Request.Context(), session, service.SubmitRequest{
		Form:     req.Form,
		SignedTx: req.SignedTx,
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{
			"error":    service.Normalize(err),
			"feedback": state,
		})
		return
	}
	c.JSON(http.StatusAccepted, state)
}

func (h *Handler) getFeedback(c *gin.Context) {
	session := requireSession(c)
	if session == nil {
		return
	}

	state, err := h.registrations.Feedback(c.Request.Context(), session)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *Handler) listTransactions(c *gin.Context) {
	session := requireSession(c)
	if session == nil {
		return
	}

	txs, err := h.registrations.Transactions(c.Request.Context(), session, queryInt(c, "limit", 20))
	if err != nil {
		respondError(c, err)
		return
	}
	if txs == nil {
		txs = []models.TxRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}
