package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"EVote/api"
	"EVote/config"
	"EVote/control"
	"EVote/db"
	"EVote/graphql"
	"EVote/utils"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	configFile := flag.String("config", "", "配置文件路径，默认查找 ./config.yml 与 ./config/config.yml")
	flag.Parse()

	loader := config.NewLoader(*configFile)
	conf, err := loader.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	applyLogConf(conf.Log)
	loader.Watch(func(c *config.GlobalConfig) { applyLogConf(c.Log) })

	gdb, err := db.Open(conf.DbConfig, log.StandardLogger())
	if err != nil {
		log.WithError(err).Fatal("failed to open database")
	}
	if err := db.Migrate(gdb); err != nil {
		log.WithError(err).Fatal("failed to migrate database")
	}
	store := db.NewStore(gdb)

	var rdb *redis.Client
	if conf.RedisConfig.Enabled() {
		// redis 不可用时仍然可以投票，只是没有缓存和投票人锁
		if rdb, err = db.NewRedis(conf.RedisConfig); err != nil {
			log.WithError(err).Warn("redis unavailable, running without cache")
		} else {
			defer rdb.Close()
		}
	}

	engine := control.NewEngine(control.Options{
		Store:  store,
		Auth:   utils.NewTokenManager(conf.Auth.Secret, conf.Auth.TokenTTL),
		Redis:  rdb,
		Config: config.Current,
		Logger: log.StandardLogger(),
	})

	schema, err := graphql.NewGraphQLSchema(engine)
	if err != nil {
		log.Fatalf("failed to create new schema, error: %v", err)
	}

	srv := &http.Server{
		Addr:    conf.Server.Addr,
		Handler: api.NewServer(engine, store, &schema, log.StandardLogger()),
	}
	var pprofSrv *http.Server
	if conf.Server.PprofAddr != "" {
		runtime.SetBlockProfileRate(1)     // 开启对阻塞操作的跟踪，block
		runtime.SetMutexProfileFraction(1) // 开启对锁调用的跟踪，mutex
		pprofSrv = &http.Server{Addr: conf.Server.PprofAddr, Handler: http.DefaultServeMux}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", srv.Addr).Info("server is running")
		return listen(srv)
	})
	if pprofSrv != nil {
		g.Go(func() error {
			log.WithField("addr", pprofSrv.Addr).Info("pprof is running")
			return listen(pprofSrv)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		return utils.GracefulShutdown(config.Current().Server.ShutdownTimeout, srv, pprofSrv)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
	log.Info("server exited")
}

func listen(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func applyLogConf(c config.LogConf) {
	level, err := log.ParseLevel(c.Level)
	if err != nil {
		log.WithError(err).Warnf("unknown log level %q, keep %s", c.Level, log.GetLevel())
	} else {
		log.SetLevel(level)
	}
	if c.JSON {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}
