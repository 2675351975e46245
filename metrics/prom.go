package metrics

import (
	"net/http"

	"github.com/curtisnewbie/evbus/core"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// misoconfig-section: Metrics Configuration
const (

	// misoconfig-prop: enable metrics collection using prometheus | true
	PropMetricsEnabled = "metrics.enabled"

	// misoconfig-prop: route used to expose collected metrics | /metrics
	PropMetricsRoute = "metrics.route"

	// misoconfig-prop: bearer token required to access the metrics route, disabled when empty |
	PropMetricsAuthBearer = "metrics.auth.bearer"
)

func init() {
	core.SetDefProp(PropMetricsEnabled, true)
	core.SetDefProp(PropMetricsRoute, "/metrics")
}

func PrometheusHandler() http.Handler {
	return promhttp.Handler()
}

// Register the prometheus handler on the engine, it's a no-op if metrics are disabled.
//
// Returns the route registered, or an empty string if nothing was registered.
func RegisterRoute(rail core.Rail, engine *gin.Engine) string {
	if !core.GetPropBool(PropMetricsEnabled) {
		return ""
	}
	route := core.GetPropStr(PropMetricsRoute)
	if route == "" {
		return ""
	}

	handler := PrometheusHandler()
	bearer := core.GetPropStr(PropMetricsAuthBearer)
	engine.GET(route, func(c *gin.Context) {
		if bearer != "" && c.GetHeader("Authorization") != "Bearer "+bearer {
			rail.Warnf("Rejected unauthorized metrics request from %v", c.ClientIP())
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(c.Writer, c.Request)
	})
	rail.Infof("Exposing prometheus metrics on '%v'", route)
	return route
}
