package server

import (
	"crypto/subtle"
	"strings"

	"github.com/bwmarrin/snowflake"
	merchantdomain "github.com/matheusscotini/payment-gateway/internal/merchant/domain"
	"github.com/matheusscotini/payment-gateway/internal/merchantctx"

	"github.com/gin-gonic/gin"
)

// APIKeyRequired authenticates requests using a merchant API key only.
// Merchant identity is derived solely from the merchants table.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		hash := merchantdomain.HashAPIKey(parts[1])

		var record struct {
			ID      snowflake.ID `gorm:"column:id"`
			KeyHash string       `gorm:"column:api_key_hash"`
		}

		if err := s.db.WithContext(c.Request.Context()).Raw(
			`SELECT id, api_key_hash FROM merchants WHERE api_key_hash = ? LIMIT 1`,
			hash,
		).Scan(&record).Error; err != nil {
			AbortWithError(c, err)
			return
		}

		if record.ID == 0 || subtle.ConstantTimeCompare([]byte(record.KeyHash), []byte(hash)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := merchantctx.WithMerchantID(c.Request.Context(), record.ID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
