package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/netscale/pkg/config"
	"github.com/charlie0129/netscale/pkg/events"
	"github.com/charlie0129/netscale/pkg/loadcell"
	"github.com/charlie0129/netscale/pkg/protocol"
	"github.com/charlie0129/netscale/pkg/scale"
)

const (
	simulatedNoise          = 20.0
	simulatedSampleInterval = 12500 * time.Microsecond // 80 SPS
)

var (
	conf      config.Config
	srv       *Server
	source    Source
	sseHub    *events.EventHub
	autoZero  *Scheduler
	simulator *simulatedLoad // nil unless the source is simulated
)

func setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))
	router.GET("/config", getConfig)
	router.GET("/weight", getWeight)
	router.GET("/tare", getTare)
	router.PUT("/tare", setTare)
	router.POST("/tare", tare)
	router.POST("/zero", zero)
	router.GET("/clients", getClients)
	router.GET("/stats", getStats)
	router.GET("/events", streamEvents)
	router.PUT("/simulate", simulate)
	router.GET("/version", getVersion)

	return router
}

// openSource opens the configured load cell and starts reading it. The
// returned simulatedLoad is nil for real hardware.
func openSource(ctx context.Context, c config.Config) (*loadcell.Cell, *simulatedLoad, error) {
	var port loadcell.Porter
	var sim *simulatedLoad
	switch c.Source() {
	case config.SourceSerial:
		p, err := loadcell.OpenSerial(c.SerialPort(), c.Serial())
		if err != nil {
			return nil, nil, err
		}
		port = p
		logrus.WithField("port", c.SerialPort()).Info("opened serial load cell")
	default:
		p := loadcell.NewSimulatedPort(0, simulatedNoise, simulatedSampleInterval)
		port = p
		sim = &simulatedLoad{port: p, divisor: c.CalibrationFactor() / c.ScaleFactor()}
		logrus.Warn("using a simulated load cell, put a load on it with PUT /simulate")
	}

	cell := loadcell.NewCell(port, loadcell.CellOptions{
		CalibrationFactor: c.CalibrationFactor(),
		ScaleFactor:       c.ScaleFactor(),
		FilterWindow:      c.FilterWindow(),
	})
	cell.Start(ctx)

	return cell, sim, nil
}

func displayFromConfig(c config.Config) Display {
	return Display{
		Unit:            c.Unit(),
		Decimals:        c.Decimals(),
		Width:           c.Width(),
		Increment:       c.Increment(),
		Hysteresis:      c.Hysteresis(),
		DisplayInterval: c.DisplayInterval(),
	}
}

// reload applies the settings that can change without a restart.
func reload(ctx context.Context) {
	if err := srv.Reconfigure(ctx, displayFromConfig(conf)); err != nil {
		logrus.Errorf("failed to apply reloaded config: %v", err)
	}
	if err := autoZero.Schedule(conf.ZeroSchedule()); err != nil {
		logrus.Errorf("invalid zero schedule %q: %v", conf.ZeroSchedule(), err)
	}
	logrus.WithFields(conf.LogrusFields()).Info("config reloaded; listen address, source and calibration take effect after a restart")
}

func Run(configPath string, unixSocketPath string, allowNonRoot bool) error {
	router := setupRoutes()

	var err error
	conf, err = config.NewFile(configPath)
	if err != nil {
		logrus.Fatalf("failed to parse config during startup: %v", err)
	}
	logrus.WithFields(conf.LogrusFields()).Infof("config loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logrus.Info("init scale")
	cell, sim, err := openSource(ctx, conf)
	if err != nil {
		logrus.Fatal(err)
	}
	source = cell
	simulator = sim

	go func() {
		<-cell.Done()
		if ctx.Err() == nil {
			logrus.Error("load cell stopped sending samples, the weight will not change until restart")
		}
	}()

	engine := protocol.NewEngine(conf.Unit(), conf.Decimals())
	engine.Width = conf.Width()
	sseHub = events.NewEventHub()

	sc := scale.New(cell, scale.Options{
		Increment:  conf.Increment(),
		Hysteresis: conf.Hysteresis(),
	})
	srv = NewServer(cell, sc, ServerOptions{
		Engine:       engine,
		MaxClients:   conf.MaxClients(),
		TickInterval: conf.TickInterval(),
		Sinks: []StatusSink{
			newLogSink(engine, conf.DisplayInterval()),
			&eventSink{engine: engine, hub: sseHub},
		},
		Hub: sseHub,
	})

	logrus.Info("zero scale")
	sc.Zero()

	tcpListener, err := net.Listen("tcp", conf.Addr())
	if err != nil {
		logrus.Fatal(err)
	}

	go func() {
		if err := srv.Serve(tcpListener); err != nil {
			logrus.Errorf("protocol server stopped: %v", err)
		}
	}()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := srv.Run(ctx); err != nil {
			logrus.Errorf("tick loop exited: %v", err)
		}
	}()
	logrus.Info("running")

	autoZero = newAutoZeroScheduler(srv, conf.ZeroMaxWeight)
	if err := autoZero.Schedule(conf.ZeroSchedule()); err != nil {
		logrus.Errorf("invalid zero schedule %q: %v", conf.ZeroSchedule(), err)
	}
	autoZero.Start()

	// Receive SIGHUP to reload config
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			err := conf.Load()
			if err != nil {
				logrus.Errorf("failed to reload config: %v", err)
				continue
			}
			reload(ctx)
		}
	}()

	httpSrv := &http.Server{
		Handler: router,
	}

	// Create the socket to listen on:
	l, err := net.Listen("unix", unixSocketPath)
	if err != nil {
		logrus.Fatal(err)
	}

	if conf.AllowNonRootAccess() || allowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", unixSocketPath)
		err = os.Chmod(unixSocketPath, 0777)
		if err != nil {
			logrus.Fatal(err)
		}
	}

	// Serve HTTP on unix socket
	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := httpSrv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	// Wait for a SIGINT or SIGTERM:
	sig := <-sigc
	logrus.Infof("caught signal \"%s\": shutting down.", sig)

	logrus.Info("shutting down http server")
	sseHub.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = httpSrv.Shutdown(shutdownCtx)
	if err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	shutdownCancel()

	autoZero.Stop()

	logrus.Info("stopping tick loop")
	cancel()
	<-runDone

	if err := tcpListener.Close(); err != nil {
		logrus.Errorf("failed to close protocol listener: %v", err)
	}

	logrus.Info("closing load cell")
	if err := cell.Close(); err != nil {
		logrus.Errorf("failed to close load cell: %v", err)
	}

	logrus.Info("exiting")
	return nil
}
