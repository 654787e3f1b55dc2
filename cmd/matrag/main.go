package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/stroymat/matrag/internal/ai"
	"github.com/stroymat/matrag/internal/config"
	"github.com/stroymat/matrag/internal/db"
	"github.com/stroymat/matrag/internal/embedcache"
	"github.com/stroymat/matrag/internal/fallback"
	"github.com/stroymat/matrag/internal/filestore"
	"github.com/stroymat/matrag/internal/handler"
	"github.com/stroymat/matrag/internal/job"
	"github.com/stroymat/matrag/internal/middleware"
	"github.com/stroymat/matrag/internal/model"
	"github.com/stroymat/matrag/internal/parser"
	"github.com/stroymat/matrag/internal/repo"
	"github.com/stroymat/matrag/internal/schedule"
	"github.com/stroymat/matrag/internal/service"
	"github.com/stroymat/matrag/internal/sshtunnel"
	"github.com/stroymat/matrag/internal/vector"
)

func main() {
	var configPath string
	var batchFile string
	var batchWorkers int

	rootCmd := &cobra.Command{
		Use:   "matrag",
		Short: "construction material parsing and search service",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run the http server",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(configPath)
			if err != nil {
				return err
			}
			defer app.Close()
			return runServer(app)
		},
	}

	singleCmd := &cobra.Command{
		Use:   "single <name> <unit> <price>",
		Short: "parse and store a single material",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			price, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("bad price %q: %w", args[2], err)
			}
			app, err := buildApp(configPath)
			if err != nil {
				return err
			}
			defer app.Close()
			return runSingle(app, args[0], args[1], price)
		},
	}

	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "process a csv price list",
		RunE: func(cmd *cobra.Command, args []string) error {
			if batchFile == "" {
				return fmt.Errorf("--file is required")
			}
			app, err := buildApp(configPath)
			if err != nil {
				return err
			}
			defer app.Close()
			return runBatch(app, batchFile, batchWorkers)
		},
	}
	batchCmd.Flags().StringVar(&batchFile, "file", "", "path to the csv price list")
	batchCmd.Flags().IntVar(&batchWorkers, "workers", 0, "override the configured worker count")

	rootCmd.AddCommand(runCmd, singleCmd, batchCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

// app holds everything a command needs after wiring.
type app struct {
	cfg       *config.Config
	db        *sql.DB
	tunnel    *sshtunnel.Tunnel
	search    *fallback.Manager
	materials *service.MaterialService
	batches   *service.BatchService
	searchSvc *service.SearchService
	cacheRepo *repo.EmbeddingCacheRepo
	batchRepo *repo.BatchRepo
	store     filestore.Store
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
	if a.tunnel != nil {
		a.tunnel.Close()
	}
}

func buildApp(configPath string) (*app, error) {
	if configPath == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	ctx := context.Background()
	logutil.GetLogger(ctx).Info("config loaded", zap.String("config", configPath))

	var tunnel *sshtunnel.Tunnel
	if cfg.SSHTunnel.Enabled {
		tunnel = sshtunnel.New(cfg.SSHTunnel)
		if err := tunnel.Start(ctx); err != nil {
			return nil, fmt.Errorf("start ssh tunnel: %w", err)
		}
		logutil.GetLogger(ctx).Info("ssh tunnel up",
			zap.String("remote", tunnel.RemoteAddr()), zap.String("local", tunnel.LocalAddr()))
	}

	dbConn, err := db.Open(cfg.LocalDSN())
	if err != nil {
		if tunnel != nil {
			tunnel.Close()
		}
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.ApplyMigrations(dbConn); err != nil {
		dbConn.Close()
		if tunnel != nil {
			tunnel.Close()
		}
		return nil, fmt.Errorf("migrations: %w", err)
	}

	closeDB := func() {
		dbConn.Close()
		if tunnel != nil {
			tunnel.Close()
		}
	}

	materialRepo := repo.NewMaterialRepo(dbConn)
	processingRepo := repo.NewProcessingRepo(dbConn)
	batchRepo := repo.NewBatchRepo(dbConn)
	cacheRepo := repo.NewEmbeddingCacheRepo(dbConn)

	providerArgs := cfg.AI.Data
	if providerArgs == nil {
		providerArgs = cfg.AI
	}
	aiProvider, err := ai.NewProvider(cfg.AI.Provider, providerArgs)
	if err != nil {
		closeDB()
		return nil, fmt.Errorf("init ai provider: %w", err)
	}
	embedProvider, err := ai.NewEmbedProvider(cfg.AI.EmbedProvider, providerArgs)
	if err != nil {
		closeDB()
		return nil, fmt.Errorf("init embed provider: %w", err)
	}
	generator := ai.NewGenerator(aiProvider, cfg.AI.Model)
	embedder := ai.NewEmbedder(embedProvider, cfg.AI.EmbedModel)
	if cfg.AI.FallbackProvider != "" {
		fallbackArgs := cfg.AI.FallbackData
		if fallbackArgs == nil {
			fallbackArgs = providerArgs
		}
		fbProvider, err := ai.NewProvider(cfg.AI.FallbackProvider, fallbackArgs)
		if err != nil {
			closeDB()
			return nil, fmt.Errorf("init fallback ai provider: %w", err)
		}
		fbEmbedProvider, err := ai.NewEmbedProvider(cfg.AI.FallbackProvider, fallbackArgs)
		if err != nil {
			closeDB()
			return nil, fmt.Errorf("init fallback embed provider: %w", err)
		}
		generator = ai.NewGroupGenerator([]ai.GeneratorEntry{
			{Name: cfg.AI.Provider, Generator: generator},
			{Name: cfg.AI.FallbackProvider, Generator: ai.NewGenerator(fbProvider, cfg.AI.FallbackModel)},
		})
		embedder = ai.NewGroupEmbedder([]ai.EmbedderEntry{
			{Name: cfg.AI.EmbedProvider, Embedder: embedder},
			{Name: cfg.AI.FallbackProvider, Embedder: ai.NewEmbedder(fbEmbedProvider, cfg.AI.FallbackEmbedModel)},
		})
	}
	embedder = embedcache.WrapDBCacheToEmbedder(embedder, cacheRepo)
	embedder = embedcache.WrapLruCacheToEmbedder(embedder, cfg.EmbedCache.LRUSize,
		time.Duration(cfg.EmbedCache.LRUTTLMin)*time.Minute)
	manager := ai.NewManager(generator, embedder, ai.ManagerConfig{
		Timeout:       cfg.AI.Timeout,
		MaxInputChars: cfg.AI.MaxInputChars,
	})

	hybrid := parser.NewHybridParser(
		parser.NewRegexParser(),
		parser.NewAIParser(manager),
		cfg.Batch.RegexThreshold,
	)

	var index fallback.VectorIndex
	if cfg.Qdrant.Endpoint != "" {
		client := vector.NewClient(cfg.Qdrant)
		if err := client.EnsureCollection(ctx); err != nil {
			logutil.GetLogger(ctx).Warn("qdrant collection setup failed, starting on pgvector only",
				zap.String("collection", cfg.Qdrant.Collection), zap.Error(err))
		}
		index = client
	}
	search := fallback.NewManager(index, materialRepo,
		time.Duration(cfg.Search.CooldownSec)*time.Second)

	materials := service.NewMaterialService(hybrid, manager, materialRepo, search, cfg.AI.MaxInputChars)
	batches := service.NewBatchService(materials, processingRepo, batchRepo, service.BatchConfig{
		Workers:       cfg.Batch.Workers,
		MaxAttempts:   cfg.Batch.MaxAttempts,
		MaxItems:      cfg.Batch.MaxItems,
		AICallsPerSec: cfg.Batch.AICallsPerSec,
	})
	searchSvc := service.NewSearchService(manager, search, materialRepo,
		cfg.Search.DefaultLimit, cfg.Search.ScoreThreshold)

	store, err := filestore.New(cfg.FileStore)
	if err != nil {
		closeDB()
		return nil, fmt.Errorf("init file store: %w", err)
	}

	return &app{
		cfg:       cfg,
		db:        dbConn,
		tunnel:    tunnel,
		search:    search,
		materials: materials,
		batches:   batches,
		searchSvc: searchSvc,
		cacheRepo: cacheRepo,
		batchRepo: batchRepo,
		store:     store,
	}, nil
}

func runServer(app *app) error {
	cfg := app.cfg
	ctx := context.Background()
	logutil.GetLogger(ctx).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.Bool("ssh_tunnel", cfg.SSHTunnel.Enabled),
		zap.String("qdrant", cfg.Qdrant.Endpoint),
		zap.String("file_store", cfg.FileStore.Type),
	)

	deps := handler.RouterDeps{
		Materials: handler.NewMaterialHandler(app.materials),
		Batches:   handler.NewBatchHandler(app.batches, app.store),
		Search:    handler.NewSearchHandler(app.searchSvc),
		Health:    handler.NewHealthHandler(app.db, app.tunnel, app.search, cfg.AI.Provider != ""),
		AIWindow:  time.Second,
	}

	engine, err := webapi.NewEngine(
		"/api/v1",
		fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.CORS(cfg.AllowOrigins),
			middleware.RequestID(),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := schedule.NewCronScheduler()
	if err := scheduler.AddJob(job.NewRetryFailedJob(app.batches, 100), cfg.Batch.RetryCronSpec); err != nil {
		return err
	}
	if err := scheduler.AddJob(job.NewEmbeddingCacheCleanupJob(app.cacheRepo, cfg.EmbedCache.KeepDays, cfg.EmbedCache.CleanLimit), "30 3 * * *"); err != nil {
		return err
	}
	if err := scheduler.AddJob(job.NewBatchCleanupJob(app.batchRepo, 24), "0 * * * *"); err != nil {
		return err
	}
	scheduler.Start(sigCtx)
	defer scheduler.Stop()

	logutil.GetLogger(ctx).Info("http server listening", zap.String("addr", fmt.Sprintf("0.0.0.0:%d", cfg.Port)))
	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(ctx).Error("server error", zap.Error(err))
		}
	}()

	<-sigCtx.Done()
	logutil.GetLogger(ctx).Info("server stopping...")
	return nil
}

func runSingle(app *app, name, unit string, price float64) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	material, err := app.materials.Process(ctx, service.ProcessInput{
		Name:  name,
		Unit:  unit,
		Price: price,
	}, false)
	if err != nil {
		color.Red("processing failed: %v", err)
		return err
	}

	color.Green("✓ material stored")
	fmt.Printf("  id:             %s\n", material.ID)
	fmt.Printf("  name:           %s\n", material.ParsedName)
	fmt.Printf("  unit:           %s\n", material.Unit)
	fmt.Printf("  price:          %.2f\n", material.Price)
	fmt.Printf("  price per unit: %.2f\n", material.PricePerUnit)
	if material.Brand != "" {
		fmt.Printf("  brand:          %s\n", material.Brand)
	}
	fmt.Printf("  coefficient:    %.2f\n", material.Coefficient)
	fmt.Printf("  confidence:     %.2f (%s)\n", material.Confidence, material.ParseMethod)
	return nil
}

func runBatch(app *app, file string, workers int) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open price list: %w", err)
	}
	items, err := service.ParsePriceList(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("parse price list: %w", err)
	}
	color.Blue("loaded %d rows from %s", len(items), file)

	if workers > 0 {
		app.batches.SetWorkers(workers)
	}
	batch, err := app.batches.Submit(ctx, model.BatchSourceCLI, "", items)
	if err != nil {
		return fmt.Errorf("submit batch: %w", err)
	}

	bar := progressbar.NewOptions(batch.Total,
		progressbar.OptionSetDescription(color.BlueString("processing")),
		progressbar.OptionSetItsString("rows"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionEnableColorCodes(true),
	)
	err = app.batches.Run(ctx, batch.ID, func(completed, failed, total int) {
		_ = bar.Set(completed + failed)
	})
	fmt.Println()
	if err != nil {
		color.Red("batch failed: %v", err)
		return err
	}

	done, err := app.batches.Get(ctx, batch.ID)
	if err != nil {
		return err
	}
	color.Green("✓ batch %s finished: %d ok, %d failed of %d", done.ID, done.Completed, done.Failed, done.Total)
	if done.Failed > 0 {
		color.Yellow("failed rows stay queued for the retry job, or rerun with: matrag batch --file %s", file)
	}
	return nil
}
