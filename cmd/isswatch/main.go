package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/star/isswatch/internal/api"
	"github.com/star/isswatch/internal/camera"
	"github.com/star/isswatch/internal/feed"
	"github.com/star/isswatch/internal/frame"
	"github.com/star/isswatch/internal/geocode"
	"github.com/star/isswatch/internal/logging"
	"github.com/star/isswatch/internal/propagation"
	"github.com/star/isswatch/internal/stream"
	"github.com/star/isswatch/internal/telemetry"
	"github.com/star/isswatch/internal/tle"
	"github.com/star/isswatch/internal/track"
	"github.com/star/isswatch/internal/transform"
	"github.com/star/isswatch/internal/tui"
)

func main() {
	boot := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := loadConfig(os.Args[1:], os.Getenv, boot)
	if errors.Is(err, flag.ErrHelp) {
		fmt.Fprintln(os.Stderr, "usage: isswatch [-config file.yaml] [-headless] [-city name] [-addr :8080]")
		return
	}
	if err != nil {
		boot.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		boot.Error("isswatch stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg Config) error {
	// The terminal belongs to the UI, so its logs go to a file.
	if cfg.Mode == modeTUI && cfg.Log.File == "" {
		cfg.Log.File = defaultTUILogFile
	}
	logger, closer, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer closer.Close()
	logging.LogBuildInfo(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nominatim := geocode.NewNominatim(cfg.Geocode.URL, cfg.Geocode.UserAgent, logger)
	var locator geocode.Locator
	if cfg.Origin.LocateIP {
		locator = geocode.NewIPLocator(cfg.Origin.LocatorURL)
	}
	origin, originSource := geocode.ResolveOrigin(ctx, geocode.OriginConfig{
		City:      cfg.Origin.City,
		Latitude:  cfg.Origin.Latitude,
		Longitude: cfg.Origin.Longitude,
		LocateIP:  cfg.Origin.LocateIP,
	}, nominatim, locator, logger)
	logger.Info("origin resolved",
		"source", originSource,
		"latitude", origin.Latitude,
		"longitude", origin.Longitude,
	)

	// The element set backs the sgp4 feed and pass prediction, so it is
	// kept fresh whatever the feed source.
	store := tle.NewStore()
	refresher := tle.NewRefresher(tle.NewFetcher(cfg.Feed.TLEURL, logger), store, tle.RefreshConfig{
		MaxAge:   cfg.Feed.TLEMaxAge,
		CacheDir: cfg.Feed.TLECacheDir,
		MaxFiles: 5,
	}, logger)
	if err := refresher.LoadCached(); err != nil {
		logger.Info("no TLE cache found, starting without TLE data", "error", err)
	}
	propSource := propagation.NewSource(store, logger)
	groundTrack := track.New(cfg.Track, propSource, store, logger)

	positions := newPositionFeed(cfg.Feed, propSource, logger)
	reverse := geocode.NewCachedReverse(nominatim, cfg.Geocode.CacheSize, cfg.Geocode.CacheTTL)
	tracker := telemetry.NewSync(positions, reverse, origin, logger)

	director := camera.NewDirector(cfg.Camera, logger)

	var (
		presenter frame.Presenter
		canvas    *tui.Canvas
	)
	if cfg.Mode == modeTUI {
		canvas = tui.NewCanvas(60, 20)
		presenter = canvas
	} else {
		presenter = frame.NewLogPresenter(logger, 5*time.Second)
	}
	coord := frame.NewCoordinator(tracker, director, presenter)
	coord.MarkerRadius = cfg.MarkerRadius

	server := api.NewServer(cfg.HTTPAddr, logger, cfg.Auth, api.Deps{
		Telemetry: tracker,
		Camera:    director,
		Focus:     coord.Focus,
		Geocoder:  nominatim,
		TLE:       store,
		Passes:    propSource,
		Stream:    stream.NewHandler(tracker, store, cfg.Stream, logger),
		Track:     groundTrack,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		tracker.Start(gctx, cfg.Feed.Interval)
		return nil
	})
	g.Go(func() error {
		refresher.Start(gctx)
		return nil
	})
	g.Go(func() error {
		groundTrack.Start(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("starting server", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.HTTPServer().Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if cfg.Mode == modeTUI {
		g.Go(func() error {
			// Leaving the UI ends the process.
			defer stop()
			model := tui.NewModel(coord, canvas, cfg.FPS).WithTrack(func() []transform.GeoPoint {
				return track.Positions(groundTrack.Ahead(time.Now(), cfg.Track.Horizon))
			})
			program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(gctx))
			if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return fmt.Errorf("tui: %w", err)
			}
			return nil
		})
	} else {
		g.Go(func() error {
			frame.Run(gctx, coord, cfg.FPS)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

func newPositionFeed(cfg FeedConfig, source *propagation.Source, logger *slog.Logger) telemetry.PositionFeed {
	switch cfg.Source {
	case feedAPI:
		return feed.NewClient(cfg.URL, logger)
	case feedSGP4:
		return feed.NewPropagated(source, logger)
	default:
		return &feed.Fallback{
			Primary:   feed.NewClient(cfg.URL, logger),
			Secondary: feed.NewPropagated(source, logger),
			Logger:    logger,
		}
	}
}
