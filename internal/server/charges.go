package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	chargedomain "github.com/matheusscotini/payment-gateway/internal/charge/domain"
	"github.com/matheusscotini/payment-gateway/internal/merchantctx"
)

const idempotencyKeyHeader = "Idempotency-Key"

func (s *Server) CreateCharge(c *gin.Context) {
	merchantID, ok := merchantctx.MerchantIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	key := strings.TrimSpace(c.GetHeader(idempotencyKeyHeader))
	if key == "" {
		AbortWithError(c, chargedomain.ValidationErrors{{
			Field:   idempotencyKeyHeader,
			Code:    "missing_idempotency_key",
			Message: "Idempotency-Key header is required",
		}})
		return
	}

	var req chargedomain.CreateChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	snapshot, err := s.chargeSvc.Create(c.Request.Context(), merchantID, key, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, snapshot)
}

func (s *Server) GetCharge(c *gin.Context) {
	merchantID, ok := merchantctx.MerchantIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	details, err := s.chargeSvc.GetDetails(c.Request.Context(), merchantID, c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, details)
}

func (s *Server) RetryWebhook(c *gin.Context) {
	merchantID, ok := merchantctx.MerchantIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	resp, err := s.webhookSvc.Retry(c.Request.Context(), merchantID, c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}
