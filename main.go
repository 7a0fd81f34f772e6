package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"DMSync/global/config"
	"DMSync/logger"
	midsec "DMSync/middleware/security"
	"DMSync/module/dm/inbox"
	"DMSync/module/dm/live"
	"DMSync/module/dm/resolver"
	"DMSync/module/dm/store"
	"DMSync/module/dm/stream"
	"DMSync/module/dm/unread"
	"DMSync/service/blob"
	"DMSync/service/gateway"
	"DMSync/service/kafka"
	mgoSrv "DMSync/service/mgo"
	"DMSync/service/natsx"
	redis "DMSync/service/storage/redis"
	"DMSync/tools/idem"
	"DMSync/tools/ids"
	"DMSync/tools/safe"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("[main] load config", zap.Error(err))
		os.Exit(1)
	}
	logger.SetLevel(cfg.LogLevel)
	ids.SetNodeID(cfg.NodeID)
	if cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1) Mongo：异步连接，掉线自动重连
	mgoSrv.StartAsync(ctx, cfg.Mongo())
	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = mgoSrv.WaitReady(waitCtx, mgoSrv.Manager())
	cancel()
	if err != nil {
		logger.Error("[main] mongo not ready", zap.Error(err))
		os.Exit(1)
	}
	st := store.NewMongoStore(mgoSrv.TryGetClient)
	if err := st.EnsureIndexes(ctx); err != nil {
		logger.Warn("[main] ensure indexes", zap.Error(err))
	}

	// 2) Redis：幂等与成员缓存，未配置时退化为进程内实现
	var (
		idemStore = idem.NewMemIdem(24 * time.Hour)
		cache     = resolver.NewMemCache()
	)
	if rc := cfg.Redis(); rc != nil {
		if err := redis.InitRedis(*rc); err != nil {
			logger.Error("[main] redis", zap.Error(err))
			os.Exit(1)
		}
		defer redis.CloseRedis()
		idemStore = redis.NewIdem(redis.GetRedis(), 24*time.Hour)
		cache = redis.NewParticipantCache(redis.GetRedis(), 24*time.Hour)
	}

	// 3) 变更提示总线：多节点走 NATS
	var bus live.Bus = live.NewMemBus()
	if nc := cfg.Nats(); nc != nil {
		client, err := natsx.NewNatsxClient(*nc)
		if err != nil {
			logger.Error("[main] nats", zap.Error(err))
			os.Exit(1)
		}
		defer client.Close()
		if bus, err = live.NewNatsBus(client, nil); err != nil {
			logger.Error("[main] nats bus", zap.Error(err))
			os.Exit(1)
		}
	}
	if cfg.LiveSource == config.LiveSourceChangeStream {
		p := &live.Projector{DB: mgoSrv.TryGetDB, Bus: bus}
		safe.SafeGo("projector", func() { p.Run(ctx) })
	}

	// 4) 业务模块
	res := resolver.New(st, bus, cache)
	tracker := unread.New(st, bus)
	notifier := unread.NewNotifier(tracker, idemStore)

	var sink stream.EventSink = notifier
	if kc := cfg.Kafka(); kc != nil {
		if err := kafka.EnsureTopic(kc); err != nil {
			logger.Warn("[main] ensure kafka topic", zap.Error(err))
		}
		producer, err := kafka.NewProducer(kc)
		if err != nil {
			logger.Error("[main] kafka producer", zap.Error(err))
			os.Exit(1)
		}
		defer producer.Close()
		sink = producer

		router := kafka.NewRouter()
		router.Register(kc.Topic, kafka.MessageSentHandler(notifier.MessageSent))
		safe.SafeGo("kafka-notifier", func() {
			if err := kafka.RunConsumerGroup(ctx, kc, router); err != nil {
				logger.Error("[main] kafka consumer", zap.Error(err))
			}
		})
	}

	var uploader blob.Uploader
	if sc := cfg.S3(); sc != nil {
		u, err := blob.NewS3Uploader(ctx, *sc)
		if err != nil {
			logger.Error("[main] s3", zap.Error(err))
			os.Exit(1)
		}
		uploader = u
	}

	auth := midsec.DefaultOptions([]byte(cfg.JWTSecret))
	auth.JWT.TTL = cfg.JWTTTL
	srv := gateway.NewServer(gateway.Deps{
		Resolver:       res,
		Stream:         stream.New(st, res, bus, sink),
		Tracker:        tracker,
		Inbox:          inbox.New(st, st, bus),
		Uploader:       uploader,
		Health:         mgoSrv.Ping,
		Auth:           auth,
		AllowedOrigins: cfg.Origins(),
	})

	// 5) HTTP + WebSocket
	hs := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	safe.SafeGo("http", func() {
		logger.Info("[HTTP] listening", zap.String("addr", hs.Addr), zap.String("live", cfg.LiveSource))
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("[HTTP] server failed", zap.Error(err))
			stop()
		}
	})

	<-ctx.Done()
	logger.Info("[main] shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		logger.Warn("[main] http shutdown", zap.Error(err))
	}
}
