package daemon

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/netscale/pkg/config"
	"github.com/charlie0129/netscale/pkg/loadcell"
	"github.com/charlie0129/netscale/pkg/version"
)

// sourceStats is implemented by sources that count their samples.
type sourceStats interface {
	Stats() loadcell.CellStats
}

func abortWith(c *gin.Context, code int, err error) {
	c.IndentedJSON(code, err.Error())
	_ = c.AbortWithError(code, err)
}

// serverError maps a failed admin request to a status code.
func serverError(c *gin.Context, err error) {
	if errors.Is(err, ErrServerStopped) {
		abortWith(c, http.StatusServiceUnavailable, err)
		return
	}
	abortWith(c, http.StatusInternalServerError, err)
}

func getConfig(c *gin.Context) {
	fc, err := config.NewRawFileConfigFromConfig(conf)
	if err != nil {
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, fc)
}

func getWeight(c *gin.Context) {
	w, err := srv.Weight(c.Request.Context())
	if err != nil {
		serverError(c, err)
		return
	}

	c.IndentedJSON(http.StatusOK, w)
}

func getTare(c *gin.Context) {
	t, err := srv.TareOffset(c.Request.Context())
	if err != nil {
		serverError(c, err)
		return
	}

	c.IndentedJSON(http.StatusOK, t)
}

func setTare(c *gin.Context) {
	var t float64
	if err := c.BindJSON(&t); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	if math.IsNaN(t) || math.IsInf(t, 0) {
		abortWith(c, http.StatusBadRequest, fmt.Errorf("tare must be a finite number, got %v", t))
		return
	}

	if err := srv.SetTare(c.Request.Context(), t); err != nil {
		serverError(c, err)
		return
	}

	logrus.Infof("set tare to %g", t)

	c.IndentedJSON(http.StatusCreated, t)
}

func tare(c *gin.Context) {
	t, err := srv.Tare(c.Request.Context())
	if err != nil {
		serverError(c, err)
		return
	}

	logrus.Infof("tared, tare is now %g", t)

	c.IndentedJSON(http.StatusCreated, t)
}

func zero(c *gin.Context) {
	if err := srv.Zero(c.Request.Context()); err != nil {
		serverError(c, err)
		return
	}

	logrus.Info("zero requested")

	c.IndentedJSON(http.StatusCreated, "ok")
}

func getClients(c *gin.Context) {
	clients, err := srv.Clients(c.Request.Context())
	if err != nil {
		serverError(c, err)
		return
	}

	c.IndentedJSON(http.StatusOK, clients)
}

func getStats(c *gin.Context) {
	stats, err := srv.Stats(c.Request.Context())
	if err != nil {
		serverError(c, err)
		return
	}

	if s, ok := source.(sourceStats); ok {
		stats.Source = s.Stats()
	}
	if autoZero != nil {
		if next, _ := autoZero.Status(); !next.IsZero() {
			stats.NextAutoZero = next.Format(time.RFC3339)
		}
	}

	c.IndentedJSON(http.StatusOK, stats)
}

func streamEvents(c *gin.Context) {
	ch := sseHub.Subscribe()
	defer sseHub.Unsubscribe(ch)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.Flush()

	c.Stream(func(_ io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, string(ev.Data))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func simulate(c *gin.Context) {
	if simulator == nil {
		abortWith(c, http.StatusConflict, errors.New("source is not simulated"))
		return
	}

	var w float64
	if err := c.BindJSON(&w); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	if math.IsNaN(w) || math.IsInf(w, 0) {
		abortWith(c, http.StatusBadRequest, fmt.Errorf("weight must be a finite number, got %v", w))
		return
	}

	simulator.SetWeight(w)
	logrus.Infof("simulated load set to %g", w)

	c.IndentedJSON(http.StatusCreated, w)
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}
