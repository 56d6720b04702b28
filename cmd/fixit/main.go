// 变更说明：实现拦截会话进程引导：配置、日志、指标、存储、审计与中继的装配和优雅退出。
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/fixit/internal/fixit/application"
	"github.com/wyfcoding/fixit/internal/fixit/domain"
	"github.com/wyfcoding/fixit/internal/fixit/infrastructure/messaging"
	"github.com/wyfcoding/fixit/internal/fixit/infrastructure/persistence/mysql"
	fixitrelay "github.com/wyfcoding/fixit/internal/fixit/infrastructure/relay"
	fixithttp "github.com/wyfcoding/fixit/internal/fixit/interfaces/http"
	"github.com/wyfcoding/fixit/pkg/config"
	"github.com/wyfcoding/fixit/pkg/db"
	"github.com/wyfcoding/fixit/pkg/logger"
	"github.com/wyfcoding/fixit/pkg/metrics"
	"github.com/wyfcoding/fixit/pkg/mq"
)

func main() {
	configPath := flag.String("config", "configs/config.toml", "配置文件路径")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
		WithCaller: cfg.Logger.WithCaller,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.ServiceName)
		if err := m.Register(); err != nil {
			logger.Fatal(ctx, "failed to register metrics", "error", err)
		}
		if err := metrics.StartHTTPServer(cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
			logger.Fatal(ctx, "failed to start metrics server", "error", err)
		}
	}

	// 持久化是旁路能力，未配置 DSN 时帧历史只进日志与事件流
	var frameRepo domain.FrameRepository
	var sessionRepo domain.SessionRepository
	if cfg.Database.DSN != "" {
		database, err := db.Init(db.Config{
			Driver:             cfg.Database.Driver,
			DSN:                cfg.Database.DSN,
			MaxOpenConns:       cfg.Database.MaxOpenConns,
			MaxIdleConns:       cfg.Database.MaxIdleConns,
			ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
			LogEnabled:         cfg.Database.LogEnabled,
			SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
		})
		if err != nil {
			logger.Fatal(ctx, "failed to init database", "error", err)
		}
		defer database.Close()

		if err := database.AutoMigrate(&mysql.FrameRecordModel{}, &mysql.SessionModel{}); err != nil {
			logger.Fatal(ctx, "failed to migrate database", "error", err)
		}
		frameRepo = mysql.NewGormFrameRepository(database.DB)
		sessionRepo = mysql.NewGormSessionRepository(database.DB)
	}

	var publisher domain.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := mq.NewProducer(mq.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			MaxRetries:   cfg.Kafka.MaxRetries,
			RetryBackoff: cfg.Kafka.RetryBackoff,
		})
		if err != nil {
			logger.Fatal(ctx, "failed to create kafka producer", "error", err)
		}
		defer producer.Close()
		publisher = messaging.NewKafkaEventPublisher(producer, cfg.Kafka.Topic, logger.Get())
	}

	delim := byte(cfg.Fix.WireDelimiter)
	descriptor := domain.NewSessionDescriptor(
		cfg.Fix.BeginString,
		cfg.Fix.SenderCompID,
		cfg.Fix.TargetCompID,
		cfg.Fix.SeqSeed,
		cfg.Fix.ExpectedSeqSeed,
	)
	sequencer := domain.NewSequencer(descriptor, domain.LogonOptions{
		HeartBtInt:  cfg.Fix.HeartbeatInterval,
		ResetSeqNum: cfg.Fix.ResetSeqNum,
		Username:    cfg.Fix.Username,
		Password:    cfg.Fix.Password,
	}, delim, logger.Get())

	resolver := domain.NewDictionaryResolver(cfg.Fix.SpecDir)

	// 中继的放行回调要接到应用服务，装配完成后再生效
	var svc *application.FixitService
	onRelease := func(frame *domain.InterceptedFrame, state domain.FrameState) {
		if svc != nil {
			svc.OnFrameReleased(frame, state)
		}
	}

	rly := fixitrelay.New(fixitrelay.Config{
		ListenAddr:    cfg.Fix.ListenAddr,
		UpstreamAddr:  cfg.Fix.UpstreamAddr,
		Delimiter:     delim,
		ScanWindow:    cfg.Fix.ScanWindow,
		QueueCapacity: cfg.Fix.QueueCapacity,
		LogAll:        cfg.Fix.LogAll,
	}, sequencer, m, onRelease, logger.Get())

	svc = application.NewFixitService(
		sequencer,
		rly,
		resolver,
		frameRepo,
		sessionRepo,
		publisher,
		m,
		logger.Get(),
		delim,
		time.Duration(cfg.Fix.FuzzDelay)*time.Millisecond,
	)

	if err := rly.Start(ctx); err != nil {
		logger.Fatal(ctx, "failed to start relay", "error", err)
	}
	svc.StartHeartbeat(ctx, time.Duration(cfg.Fix.HeartbeatInterval)*time.Second)

	if cfg.Environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	if m != nil {
		router.Use(func(c *gin.Context) {
			m.HTTPRequestsTotal.Inc()
			c.Next()
		})
	}
	fixithttp.NewFixitHandler(svc).RegisterRoutes(router)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}
	go func() {
		logger.Info(ctx, "control plane listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "control plane server failed", "error", err)
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info(ctx, "shutdown signal received", "signal", sig.String())
	case <-rly.Done():
		logger.Info(ctx, "relay session ended")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
	rly.Close()
	cancel()
	logger.Info(context.Background(), "fixit stopped")
}
