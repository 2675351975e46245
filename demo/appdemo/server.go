package main

import (
	"errors"
	"io"
	"net/http"

	"github.com/curtisnewbie/evbus/core"
	"github.com/curtisnewbie/evbus/encoding/json"
	"github.com/curtisnewbie/evbus/metrics"
	"github.com/curtisnewbie/evbus/middleware/rabbit"
	"github.com/curtisnewbie/evbus/util/errs"
	"github.com/gin-gonic/gin"
)

type publisher interface {
	Publish(rail core.Rail, eventName string, payload any) error
	Subscribed() map[string][]string
}

type healthCheck struct {
	Name  string
	Check func(rail core.Rail) error
}

type healthStatus struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

// Restore trace and propagated values from request headers.
func requestRail(c *gin.Context) core.Rail {
	rail := core.NewRail(c.Request.Context())
	core.UsePropagationKeys(func(k string) {
		if v := c.GetHeader(k); v != "" {
			rail = rail.WithCtxVal(k, v)
		}
	})
	return rail
}

func writeJson(c *gin.Context, status int, body any) {
	b, err := json.WriteJson(body)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(status, "application/json", b)
}

func newRouter(rail core.Rail, pub publisher, checks []healthCheck) *gin.Engine {
	if core.IsProdMode() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	metrics.RegisterRoute(rail, engine)

	engine.GET(core.GetPropStr(core.PropHealthCheckUrl), func(c *gin.Context) {
		r := requestRail(c)
		hs := healthStatus{Status: "UP", Components: map[string]string{}}
		for _, hc := range checks {
			if err := hc.Check(r); err != nil {
				r.Warnf("Health check '%v' failed, %v", hc.Name, err)
				hs.Status = "DOWN"
				hs.Components[hc.Name] = "DOWN"
				continue
			}
			hs.Components[hc.Name] = "UP"
		}
		if hs.Status != "UP" {
			writeJson(c, http.StatusServiceUnavailable, hs)
			return
		}
		writeJson(c, http.StatusOK, hs)
	})

	engine.GET("/subscriptions", func(c *gin.Context) {
		writeJson(c, http.StatusOK, pub.Subscribed())
	})

	engine.POST("/events/:name", func(c *gin.Context) {
		r := requestRail(c)
		name := c.Param("name")
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusBadRequest)
			return
		}
		var payload any
		if len(body) > 0 {
			doc, err := json.ParseDocument(body)
			if err != nil {
				r.Warnf("Rejected malformed payload of event '%v', %v", name, err)
				writeJson(c, http.StatusBadRequest, gin.H{"error": "malformed json payload"})
				return
			}
			payload = doc
		}

		if err := pub.Publish(r, name, payload); err != nil {
			r.Errorf("Failed to publish event '%v', %v", name, err)
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, errs.ErrIllegalArgument):
				status = http.StatusBadRequest
			case isUnavailable(err):
				status = http.StatusServiceUnavailable
			}
			writeJson(c, status, gin.H{"error": err.Error()})
			return
		}
		writeJson(c, http.StatusAccepted, gin.H{"event": name, "traceId": r.TraceId()})
	})
	return engine
}

func isUnavailable(err error) bool {
	return errors.Is(err, rabbit.ErrNotConnected) ||
		errors.Is(err, rabbit.ErrBusDisposed) ||
		errors.Is(err, rabbit.ErrConnectionLost)
}
