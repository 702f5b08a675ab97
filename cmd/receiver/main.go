package main

import (
	"io"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/matheusscotini/payment-gateway/internal/webhook/signature"
	"go.uber.org/zap"
)

// A development endpoint for receiving gateway webhooks. It verifies the
// X-Signature header and can be told to fail the first N requests to
// exercise the retry path.
func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	secret := os.Getenv("WEBHOOK_SIGNING_SECRET")
	addr := getenv("RECEIVER_ADDR", ":9090")
	failFirst, _ := strconv.ParseInt(getenv("RECEIVER_FAIL_FIRST", "0"), 10, 64)

	var seen atomic.Int64

	r := gin.New()
	r.Use(gin.Recovery())
	r.POST("/webhooks", func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}

		provided := c.GetHeader(signature.Header)
		if secret != "" && !signature.Verify(body, secret, provided) {
			log.Warn("rejected webhook with bad signature")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}

		if n := seen.Add(1); n <= failFirst {
			log.Info("simulating failure", zap.Int64("request", n))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "simulated failure"})
			return
		}

		log.Info("webhook received", zap.ByteString("body", body))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	log.Info("receiver listening", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		log.Fatal("receiver", zap.Error(err))
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
