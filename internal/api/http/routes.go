package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Register mounts the debug API on router. gatherer backs /metrics; level,
// when set, serves GET and PUT of the log level.
func Register(router gin.IRouter, h *Handlers, gatherer prometheus.Gatherer, level *zap.AtomicLevel) {
	router.GET("/", h.Root)
	router.GET("/health", h.Health)

	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	router.GET("/metrics/json", h.Metrics)

	debug := router.Group("/debug")
	{
		debug.GET("/scheduler", h.Scheduler)
		debug.GET("/cpus/:cpu", h.CPU)
		debug.POST("/cpus/:cpu/interrupts/:irq", h.Signal)
		debug.GET("/threads", h.Threads)
		debug.GET("/heap", h.Heap)

		debug.GET("/domains", h.Domains)
		debug.GET("/domains/:id", h.Domain)
		debug.POST("/domains/:id/kill", h.KillDomain)
		debug.GET("/crashes", h.Crashes)
		debug.GET("/spans", h.Spans)

		if level != nil {
			debug.GET("/log/level", gin.WrapH(level))
			debug.PUT("/log/level", gin.WrapH(level))
		}
	}
}
