package main

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	cfgpkg "github.com/local/spreadview/internal/config"
	"github.com/local/spreadview/internal/document"
	"github.com/local/spreadview/internal/eventloop"
	"github.com/local/spreadview/internal/imageproc"
	"github.com/local/spreadview/internal/limiter"
	logpkg "github.com/local/spreadview/internal/logger"
	"github.com/local/spreadview/internal/metrics"
	"github.com/local/spreadview/internal/shaderfx"
	"github.com/local/spreadview/internal/source"
	"github.com/local/spreadview/internal/store"
	"github.com/local/spreadview/internal/viewport"
	"github.com/local/spreadview/internal/web"
)

func main() {
	cfg := cfgpkg.Load()

	// Init logging
	_ = logpkg.Init(logpkg.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	})
	defer logpkg.Close()
	metrics.Init()

	// Shared tier (optional): raster store, reader state, breaker
	var (
		rdb    *redis.Client
		pages  *store.PageStore
		reader web.ReaderStore
	)
	if cfg.Store.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := store.Connect(ctx, cfg.Store.RedisURL)
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable; running without shared store")
		} else {
			rdb = client
			defer rdb.Close()
			ps, err := store.NewPageStore(rdb, cfg.Store.RasterTTL)
			if err != nil {
				log.Fatal().Err(err).Msg("failed to init page store")
			}
			defer ps.Close()
			pages = ps
			reader = store.NewReaderStore(rdb, cfg.Store.KeyNamespace)
		}
	}

	lim := limiter.New(rdb, limiter.Options{
		MaxInflight: cfg.Source.MaxInflight,
		BaseBackoff: cfg.Source.BreakerBase,
		MaxBackoff:  cfg.Source.BreakerMax,
	})
	resolver := source.NewResolver(source.Options{
		HTTPClient:  &http.Client{Timeout: cfg.Source.FetchTimeout},
		MaxBytes:    cfg.Source.MaxBytes,
		TempDir:     cfg.Source.TempDir,
		S3Region:    cfg.Source.S3Region,
		S3AccessKey: cfg.Source.S3AccessKey,
		S3SecretKey: cfg.Source.S3SecretKey,
		S3Endpoint:  cfg.Source.S3Endpoint,
		S3Password:  cfg.Source.S3Password,
	}, lim)

	// Filter backend
	var (
		filter  imageproc.Filter = imageproc.NewNumeric()
		shaders web.ShaderLibrary
		gpu     *shaderfx.Device
		pipe    *shaderfx.Pipeline
	)
	if cfg.Viewer.FilterBackend == "shader" {
		sf, dev, p, err := openShaderFilter(cfg.Viewer)
		if err != nil {
			log.Error().Err(err).Msg("shader backend unavailable; using numeric filters")
		} else {
			filter, shaders, gpu, pipe = sf, sf, dev, p
		}
	}

	loop := eventloop.New(0)
	engine := viewport.New(engineOptions(cfg.Viewer), filter, loop)

	open := func(res *source.Resolved) (viewport.Document, error) {
		doc, err := document.Open(res.Path)
		if err != nil {
			return nil, err
		}
		if pages == nil {
			return doc, nil
		}
		return document.NewCached(doc, pages, res.Fingerprint, cfg.Store.Timeout), nil
	}

	viewer := web.New(web.Deps{
		Loop:         loop,
		Engine:       engine,
		Filter:       filter,
		Resolver:     resolver,
		Open:         open,
		Reader:       reader,
		Shaders:      shaders,
		Background:   cfg.Viewer.BackgroundColor(),
		JPEGQuality:  cfg.Viewer.JPEGQuality,
		Username:     cfg.HTTP.Username,
		Password:     cfg.HTTP.Password,
		StoreTimeout: cfg.Store.Timeout,
	})

	mux := http.NewServeMux()
	viewer.RegisterRoutes(mux)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.Handle("/", http.RedirectHandler("/view/", http.StatusFound))

	if ref := cfg.Source.InitialDocPath; ref != "" {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Source.FetchTimeout)
		if _, _, err := viewer.OpenRef(ctx, ref); err != nil {
			log.Error().Err(err).Str("ref", ref).Msg("failed to open initial document")
		}
		cancel()
	}

	srv := &http.Server{Addr: ":" + cfg.HTTP.Port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Info().Msgf("HTTP server listening on :%s", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(ctx)
	if err := viewer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("viewer shutdown incomplete")
	}
	loop.Close()
	if pipe != nil {
		pipe.Close()
	}
	gpu.Close()
	fmt.Println("shutdown complete")
}

func engineOptions(v cfgpkg.ViewerConfig) viewport.Options {
	d := viewport.Defaults{PadStart: v.PadStart, Zoom: 1}
	if m, ok := viewport.ParseMode(v.Mode); ok {
		d.Mode = m
	} else {
		d.Mode = -1
	}
	if dir, ok := viewport.ParseDirection(v.Direction); ok {
		d.Direction = dir
	} else {
		d.Direction = -1
	}
	if z, ok := viewport.ParseZoomMode(v.ZoomMode); ok {
		d.ZoomMode = z
	} else {
		d.ZoomMode = -1
	}
	return viewport.Options{
		Margin:         v.Margin,
		Gap:            v.Gap,
		Viewport:       image.Pt(v.ViewportW, v.ViewportH),
		CacheCapacity:  v.CacheCapacity,
		KeepWindow:     v.KeepWindow,
		PrefetchDelay:  v.PrefetchDelay,
		PrefetchBehind: v.PrefetchBehind,
		PrefetchAhead:  v.PrefetchAhead,
		Defaults:       d,
	}
}

// openShaderFilter loads the shader directory onto a GPU device. Plain
// enhance and color selections still go through the numeric filters.
func openShaderFilter(v cfgpkg.ViewerConfig) (*shaderfx.Filter, *shaderfx.Device, *shaderfx.Pipeline, error) {
	lib, err := shaderfx.LoadLibrary(v.ShaderDir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load shaders: %w", err)
	}
	dev, err := shaderfx.OpenDevice(v.GPUBackend)
	if err != nil {
		return nil, nil, nil, err
	}
	p := shaderfx.NewPipeline(dev.Device, dev.Queue, lib, shaderfx.Options{Strength: float32(v.ShaderStrength)})
	log.Info().Str("dir", v.ShaderDir).Strs("filters", lib.Names()).Msg("shader backend ready")
	return shaderfx.NewFilter(p, imageproc.NewNumeric()), dev, p, nil
}
