// Command rtide starts a http server that keeps IDE sessions and runs their
// code on a remote Judge0 execution service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/criyle/go-rtide/cmd/rtide/config"
	restexecutor "github.com/criyle/go-rtide/cmd/rtide/rest_executor"
	"github.com/criyle/go-rtide/cmd/rtide/version"
	wsexecutor "github.com/criyle/go-rtide/cmd/rtide/ws_executor"
	"github.com/criyle/go-rtide/ide"
	"github.com/criyle/go-rtide/judge0"
	"github.com/criyle/go-rtide/language"
	"github.com/criyle/go-rtide/report"
	"github.com/criyle/go-rtide/session"
	"github.com/criyle/go-rtide/worker"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

var logger *zap.Logger

func main() {
	conf := loadConf()
	if conf.Version {
		fmt.Println(version.Version)
		return
	}
	initLogger(conf)
	defer logger.Sync()
	if ce := logger.Check(zap.InfoLevel, "Config loaded"); ce != nil {
		ce.Write(zap.String("config", fmt.Sprintf("%+v", redact(conf))))
	}

	langs := loadLanguages(conf)
	client := newJudge0Client(conf)
	work := newWorker(conf, client)
	work.Start()
	publisher := newPublisher(conf)
	store, timeoutStore := newSessionStore(conf)
	factory := &sessionFactory{
		executor:  work,
		languages: langs,
		observer:  newRunObserver(conf, publisher),
		runs:      new(ide.RunGroup),
	}
	logger.Info("Sessions ready",
		zap.String("judge0", conf.Judge0URL),
		zap.Int("parallelism", conf.Parallelism),
		zap.Int("maxWaiting", conf.MaxWaiting),
		zap.Duration("sessionTimeout", conf.SessionTimeout),
		zap.Int("maxSessions", conf.MaxSessions))

	servers := []initFunc{
		cleanUpRuns(factory.runs, timeoutStore, work, publisher),
		initHTTPServer(conf, store, factory, langs, client),
		initMonitorHTTPServer(conf),
	}

	// Gracefully shutdown, with signal / HTTP server / Monitor HTTP server
	sig := make(chan os.Signal, 1+len(servers))

	stops := []stopFunc{}
	for _, s := range servers {
		start, stop := s()
		if start != nil {
			go func() {
				start()
				sig <- os.Interrupt
			}()
		}
		if stop != nil {
			stops = append(stops, stop)
		}
	}
	sdNotify(daemon.SdNotifyReady)

	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	signal.Reset(syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Shutting Down...")
	sdNotify(daemon.SdNotifyStopping)

	ctx, cancel := context.WithTimeout(context.TODO(), time.Second*3)
	defer cancel()

	var eg errgroup.Group
	for _, s := range stops {
		eg.Go(func() error {
			return s(ctx)
		})
	}

	go func() {
		logger.Info("Shutdown Finished", zap.Error(eg.Wait()))
		cancel()
	}()
	<-ctx.Done()
}

func loadConf() *config.Config {
	var conf config.Config
	if err := conf.Load(); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		log.Fatalln("load config failed ", err)
	}
	return &conf
}

// redact hides secrets from the logged configuration
func redact(conf *config.Config) config.Config {
	c := *conf
	if c.AuthToken != "" {
		c.AuthToken = "***"
	}
	if c.Judge0Token != "" {
		c.Judge0Token = "***"
	}
	return c
}

func sdNotify(state string) {
	if ok, err := daemon.SdNotify(false, state); err != nil {
		logger.Warn("sd_notify failed", zap.String("state", state), zap.Error(err))
	} else if ok {
		logger.Debug("sd_notify sent", zap.String("state", state))
	}
}

type (
	stopFunc func(ctx context.Context) error
	initFunc func() (start func(), cleanUp stopFunc)
)

// cleanUpRuns stops new run cycles and waits for the outstanding ones before
// the worker and the report publisher are closed
func cleanUpRuns(runs *ide.RunGroup, ts *session.Timeout, work worker.Worker, publisher *report.Publisher) initFunc {
	return func() (start func(), cleanUp stopFunc) {
		return nil, func(ctx context.Context) error {
			if ts != nil {
				ts.Close()
			}
			err := runs.Close(ctx)
			if err != nil {
				err = fmt.Errorf("wait for running sessions: %w", err)
			} else {
				logger.Info("Sessions shutdown")
			}
			work.Shutdown()
			logger.Info("Worker shutdown")
			if publisher != nil {
				err = errors.Join(err, publisher.Close(ctx))
				logger.Info("Run report publisher closed")
			}
			return err
		}
	}
}

func initHTTPServer(conf *config.Config, store session.Store, factory *sessionFactory, langs *language.Table, client *judge0.Client) initFunc {
	return func() (start func(), cleanUp stopFunc) {
		// Init http handle
		r := initHTTPMux(conf, store, factory, langs, client)
		srv := http.Server{
			Addr:    conf.HTTPAddr,
			Handler: r,
		}

		return func() {
				lis, err := listen(httpSocketName, conf.HTTPAddr, conf.MaxConns)
				if err != nil {
					logger.Error("Http server listen failed", zap.Error(err))
					return
				}
				logger.Info("Starting http server", zap.String("addr", conf.HTTPAddr), zap.String("listener", printListener(lis)))
				if err := srv.Serve(lis); errors.Is(err, http.ErrServerClosed) {
					logger.Info("Http server stopped", zap.Error(err))
				} else {
					logger.Error("Http server stopped", zap.Error(err))
				}
			}, func(ctx context.Context) error {
				logger.Info("Http server shutting down")
				return srv.Shutdown(ctx)
			}
	}
}

func initMonitorHTTPServer(conf *config.Config) initFunc {
	return func() (start func(), cleanUp stopFunc) {
		// Init monitor HTTP server
		mr := initMonitorHTTPMux(conf)
		if mr == nil {
			return nil, nil
		}
		msrv := http.Server{
			Addr:    conf.MonitorAddr,
			Handler: mr,
		}
		return func() {
				lis, err := listen(monitorSocketName, conf.MonitorAddr, 0)
				if err != nil {
					logger.Error("Monitoring http listen failed", zap.Error(err))
					return
				}
				logger.Info("Starting monitoring http server", zap.String("addr", conf.MonitorAddr), zap.String("listener", printListener(lis)))
				logger.Info("Monitoring http server stopped", zap.Error(msrv.Serve(lis)))
			}, func(ctx context.Context) error {
				logger.Info("Monitoring http server shutdown")
				return msrv.Shutdown(ctx)
			}
	}
}

func initLogger(conf *config.Config) {
	if conf.Silent {
		logger = zap.NewNop()
		return
	}

	var err error
	if conf.Release {
		logger, err = zap.NewProduction()
	} else {
		config := zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		if !conf.EnableDebug {
			config.Level.SetLevel(zap.InfoLevel)
		}
		logger, err = config.Build()
	}
	if err != nil {
		log.Fatalln("init logger failed ", err)
	}
}

func loadLanguages(conf *config.Config) *language.Table {
	t, err := language.Load(conf.LanguageConf)
	switch {
	case err == nil:
		logger.Info("Language table loaded", zap.String("path", conf.LanguageConf))
		return t
	case errors.Is(err, os.ErrNotExist):
		logger.Info("Language table not found, using built-in table", zap.String("path", conf.LanguageConf))
		return language.Default()
	default:
		logger.Fatal("load language table failed", zap.Error(err))
		return nil
	}
}

func newJudge0Client(conf *config.Config) *judge0.Client {
	c, err := judge0.New(judge0.Config{
		URL:       conf.Judge0URL,
		AuthToken: conf.Judge0Token,
		Timeout:   conf.Judge0Timeout,
		Logger:    logger.Named("judge0"),
	})
	if err != nil {
		logger.Fatal("create judge0 client failed", zap.Error(err))
	}
	return c
}

func newWorker(conf *config.Config, exec worker.Executor) worker.Worker {
	var observer func(worker.Response)
	if conf.EnableMetrics {
		observer = execObserve
	}
	return worker.New(worker.Config{
		Executor:     exec,
		Parallelism:  conf.Parallelism,
		MaxWaiting:   conf.MaxWaiting,
		ExecObserver: observer,
	})
}

func newPublisher(conf *config.Config) *report.Publisher {
	brokers := conf.Brokers()
	if len(brokers) == 0 {
		return nil
	}
	p, err := report.NewPublisher(report.Config{
		Brokers: brokers,
		Topic:   conf.KafkaTopic,
		Logger:  logger.Named("report"),
	})
	if err != nil {
		logger.Fatal("create run report publisher failed", zap.Error(err))
	}
	logger.Info("Publishing run reports", zap.Strings("brokers", brokers), zap.String("topic", conf.KafkaTopic))
	return p
}

func newSessionStore(conf *config.Config) (session.Store, *session.Timeout) {
	const defaultCheckInterval = time.Minute

	store := session.NewMemoryStore()
	if conf.EnableMetrics {
		store = newMetricsSessionStore(store)
	}
	if conf.SessionTimeout <= 0 {
		return store, nil
	}
	interval := conf.SessionCheckInterval
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	ts := session.NewTimeout(store, conf.SessionTimeout, interval)
	return ts, ts
}

func newRunObserver(conf *config.Config, publisher *report.Publisher) func(ide.RunReport) {
	observers := []func(ide.RunReport){logRun}
	if conf.EnableMetrics {
		observers = append(observers, runObserve)
	}
	if publisher != nil {
		observers = append(observers, publisher.Observe)
	}
	return observeAll(observers...)
}

func observeAll(observers ...func(ide.RunReport)) func(ide.RunReport) {
	return func(rp ide.RunReport) {
		for _, o := range observers {
			o(rp)
		}
	}
}

func logRun(rp ide.RunReport) {
	logger.Info("Run finished",
		zap.String("session", rp.SessionID),
		zap.String("runId", rp.RunID),
		zap.String("language", string(rp.Language)),
		zap.String("outcome", rp.Outcome),
		zap.String("status", rp.Status),
		zap.Bool("stale", rp.Stale),
		zap.Duration("duration", rp.Duration))
}

func initHTTPMux(conf *config.Config, store session.Store, factory *sessionFactory, langs *language.Table, lister restexecutor.LanguageLister) http.Handler {
	var r *gin.Engine
	if conf.Release {
		gin.SetMode(gin.ReleaseMode)
	}
	r = gin.New()
	r.Use(ginzap.Ginzap(logger, "", false))
	r.Use(ginzap.RecoveryWithZap(logger, true))

	// Metrics Handle
	if conf.EnableMetrics {
		initGinMetrics(r)
	}

	// Version handle
	r.GET("/version", handleVersion)

	// Config handle
	r.GET("/config", generateHandleConfig(conf, langs))

	// Language table handle
	restexecutor.NewLanguageHandle(langs).Register(r)

	// Add auth token
	if conf.AuthToken != "" {
		r.Use(tokenAuth(conf.AuthToken))
		logger.Info("Attach token auth")
	}

	// Remote language handle, spends the service quota
	if lister != nil {
		restexecutor.NewRemoteLanguageHandle(lister, logger).Register(r)
	}

	// Rest Handle
	sessionHandle := restexecutor.NewSessionHandle(store, factory.New, conf.MaxSessions, logger)
	sessionHandle.Register(r)

	// WebSocket Handle
	wsHandle := wsexecutor.New(store, logger)
	wsHandle.Register(r)

	return r
}

func initMonitorHTTPMux(conf *config.Config) http.Handler {
	if !conf.EnableMetrics && !conf.EnableDebug {
		return nil
	}
	mux := http.NewServeMux()
	if conf.EnableMetrics {
		mux.Handle("/metrics", promhttp.Handler())
	}
	if conf.EnableDebug {
		initDebugRoute(mux)
	}
	return mux
}

func initDebugRoute(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

func initGinMetrics(r *gin.Engine) {
	p := ginprometheus.NewWithConfig(ginprometheus.Config{
		Subsystem:          "gin",
		DisableBodyReading: true,
	})
	p.ReqCntURLLabelMappingFn = func(c *gin.Context) string {
		return c.FullPath()
	}
	r.Use(p.HandlerFunc())
}

// tokenAuth checks the bearer token. Browsers cannot set headers on a
// WebSocket handshake, so the token is also accepted as ?token=.
func tokenAuth(token string) gin.HandlerFunc {
	const bearer = "Bearer "
	return func(c *gin.Context) {
		reqToken := c.GetHeader("Authorization")
		if strings.HasPrefix(reqToken, bearer) && reqToken[len(bearer):] == token {
			c.Next()
			return
		}
		if websocketUpgrade(c.Request) && c.Query("token") == token {
			c.Next()
			return
		}
		c.AbortWithStatus(http.StatusUnauthorized)
	}
}

func websocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"buildVersion": version.Version,
		"goVersion":    runtime.Version(),
		"platform":     runtime.GOARCH,
		"os":           runtime.GOOS,
	})
}

func generateHandleConfig(conf *config.Config, langs *language.Table) func(*gin.Context) {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"judge0Url":      conf.Judge0URL,
			"judge0Timeout":  conf.Judge0Timeout.String(),
			"sessionTimeout": conf.SessionTimeout.String(),
			"maxSessions":    conf.MaxSessions,
			"parallelism":    conf.Parallelism,
			"languages":      language.Names(),
			"runReport":      len(conf.Brokers()) > 0,
			"serviceIds":     serviceIDs(langs),
		})
	}
}

func serviceIDs(langs *language.Table) map[language.Name]int {
	rt := make(map[language.Name]int)
	for _, s := range langs.Specs() {
		rt[s.Name] = s.ServiceID
	}
	return rt
}
