package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chemcloud/calcstore/internal/infrastructure/monitoring/prometheus"
)

// Metrics records request counts, durations, and in-flight gauges.  The path
// label uses the route template, not the raw URL, so IDs never explode the
// cardinality.
func Metrics(m *prometheus.AppMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		method := c.Request.Method
		m.HTTPActiveRequests.WithLabelValues(method).Inc()
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.HTTPActiveRequests.WithLabelValues(method).Dec()
		m.HTTPRequestDuration.WithLabelValues(method, path).
			Observe(time.Since(start).Seconds())
		m.HTTPRequestsTotal.WithLabelValues(method, path,
			strconv.Itoa(c.Writer.Status())).Inc()
	}
}
