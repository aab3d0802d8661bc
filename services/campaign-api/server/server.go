package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Mutter0815/pacedmailer/pkg/metrics"
)

func NewHTTPServer(addr string, h *Handlers) *http.Server {
	r := gin.New()
	r.Use(gin.Recovery(), Observability())

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/docs", h.Docs)
	r.GET("/docs/campaign-api/openapi.yaml", h.OpenAPI)

	cg := r.Group("/campaigns/:id")
	cg.POST("/queue/init", h.InitQueue)
	cg.GET("/queue", h.QueueStats)
	cg.GET("/next-send-time", h.NextSendTime)
	cg.POST("/queue/release", h.ReleaseStuck)

	return &http.Server{
		Addr:    addr,
		Handler: r,
	}
}
