package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/star/isswatch/internal/feed"
	"github.com/star/isswatch/internal/frame"
	"github.com/star/isswatch/internal/geocode"
	"github.com/star/isswatch/internal/passes"
	"github.com/star/isswatch/internal/propagation"
	"github.com/star/isswatch/internal/telemetry"
	"github.com/star/isswatch/internal/tle"
	"github.com/star/isswatch/internal/transform"
)

func main() {
	lat := flag.Float64("lat", geocode.DefaultOrigin.Latitude, "observer latitude")
	lon := flag.Float64("lon", geocode.DefaultOrigin.Longitude, "observer longitude")
	hours := flag.Int("hours", 24, "pass prediction window in hours")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	origin := transform.GeoPoint{Latitude: *lat, Longitude: *lon}
	fmt.Printf("Observer: %.4f, %.4f\n", origin.Latitude, origin.Longitude)

	tracker := telemetry.NewSync(feed.NewClient("", logger), geocode.NewNominatim("", "", logger), origin, logger)
	tracker.Poll(ctx)
	snap := tracker.Snapshot()
	if snap == nil {
		fmt.Println("ERROR: no position from", feed.DefaultURL)
	} else {
		// Give the reverse lookup a moment to label the sub-point.
		time.Sleep(2 * time.Second)
		for _, line := range frame.FormatPanel(time.Now(), snap, tracker.Metrics(), tracker.Location()) {
			fmt.Println("  " + line)
		}
	}

	store := tle.NewStore()
	refresher := tle.NewRefresher(tle.NewFetcher("", logger), store, tle.RefreshConfig{}, logger)
	if err := refresher.Refresh(ctx); err != nil {
		fmt.Println("ERROR fetching TLE:", err)
		os.Exit(1)
	}
	ds := store.Get()
	fmt.Printf("\nTLE: %s (NORAD %d) epoch %v\n", ds.Element.Name, ds.Element.NORADID, ds.Element.Epoch.Format(time.RFC3339))

	prop, err := propagation.NewSource(store, logger).Propagator()
	if err != nil {
		fmt.Println("ERROR building propagator:", err)
		os.Exit(1)
	}

	now := time.Now().UTC()
	fmt.Printf("Prediction start: %v\n", now.Format(time.RFC3339))

	events, err := passes.Predict(ctx, prop, passes.Request{
		Observer:     origin,
		Start:        now,
		Horizon:      time.Duration(*hours) * time.Hour,
		MinElevation: 10,
	})
	if err != nil {
		fmt.Println("ERROR predicting passes:", err)
		os.Exit(1)
	}

	for i, p := range events {
		fmt.Printf("  pass %d: start=%v maxEl=%.1f° dur=%.0fs visible=%v\n",
			i, p.StartTime.Format(time.RFC3339), p.MaxElevation, p.DurationSeconds, p.Visible)
	}
	fmt.Printf("\nTotal passes found: %d\n", len(events))
}
