package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type connectRequest struct {
	Address   string `json:"address" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// issueNonce returns the message the wallet must sign to connect
func (h *Handler) issueNonce(c *gin.Context) {
	address := c.Query("address")
	message, err := h.sessions.IssueNonce(c.Request.Context(), address)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"address": address,
		"message": message,
	})
}

// connect verifies the signed nonce and opens a session
func (h *Handler) connect(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	session, err := h.sessions.Connect(c.Request.Context(), req.Address, req.Signature)
	if err != nil {
		respondError(c, err)
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookie, session.ID, int(h.sessionTTL.Seconds()), "/", "", h.secureCookie, true)

	c.JSON(http.StatusCreated, gin.H{
		"session_id":   session.ID,
		"address":      session.Address,
		"connected_at": session.ConnectedAt,
	})
}

// disconnect closes the current session
func (h *Handler) disconnect(c *gin.Context) {
	if session := currentSession(c); session != nil {
		if err := h.sessions.Disconnect(c.Request.Context(), session.ID); err != nil {
			respondError(c, err)
			return
		}
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookie, "", -1, "/", "", h.secureCookie, true)
	c.Status(http.StatusNoContent)
}
