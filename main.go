package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/wareline-data/tagfind/internal/api"
	"github.com/wareline-data/tagfind/internal/config"
	"github.com/wareline-data/tagfind/internal/db"
	"github.com/wareline-data/tagfind/internal/readergw"
	"github.com/wareline-data/tagfind/internal/rtls"
	"github.com/wareline-data/tagfind/internal/rtls/monitor"
	"github.com/wareline-data/tagfind/internal/timeutil"
	"github.com/wareline-data/tagfind/internal/tracking"
	"github.com/wareline-data/tagfind/internal/version"
)

var (
	listen        = flag.String("listen", ":8080", "Listen address")
	dbPath        = flag.String("db", "tagfind.db", "Path to the sqlite database")
	tuningPath    = flag.String("tuning", "", "Path to a tuning config JSON (defaults apply when empty)")
	readersPath   = flag.String("readers", "", "Path to the reader layout JSON (demo layout when empty)")
	migrationsDir = flag.String("migrations", "", "Run migrations from this directory before starting")
	mockMode      = flag.Bool("mock", false, "Run with a simulated reader fleet instead of hardware")
	serialPort    = flag.String("serial-port", "/dev/ttyUSB0", "Serial device for the hardware reader")
	serialReader  = flag.String("serial-reader", "", "Reader id served by the serial port")
	seekerTag     = flag.String("seeker-tag", "", "Tag id worn by the operator, feeds finding navigation")
	surveyPlots   = flag.String("survey-plots", "", "Record per-tag RSSI plots into this directory (survey runs)")
)

// demoReaders is the built-in layout used in mock mode when no reader
// file is given: four ceiling readers on a 20x20 m floor plus a gate.
func demoReaders() []rtls.ReaderDescriptor {
	return []rtls.ReaderDescriptor{
		{ID: "reader-nw", Name: "North West", Kind: rtls.ReaderFixed, Position: rtls.Point3{X: 0, Y: 20, Z: 3}, PowerDBm: 30, RangeMeters: 25, ZoneID: "floor", Enabled: true},
		{ID: "reader-ne", Name: "North East", Kind: rtls.ReaderFixed, Position: rtls.Point3{X: 20, Y: 20, Z: 3}, PowerDBm: 30, RangeMeters: 25, ZoneID: "floor", Enabled: true},
		{ID: "reader-sw", Name: "South West", Kind: rtls.ReaderFixed, Position: rtls.Point3{X: 0, Y: 0, Z: 3}, PowerDBm: 30, RangeMeters: 25, ZoneID: "floor", Enabled: true},
		{ID: "reader-se", Name: "South East", Kind: rtls.ReaderFixed, Position: rtls.Point3{X: 20, Y: 0, Z: 3}, PowerDBm: 30, RangeMeters: 25, ZoneID: "floor", Enabled: true},
		{ID: "gate-dock", Name: "Dock Door", Kind: rtls.ReaderGate, Position: rtls.Point3{X: 10, Y: 0, Z: 2}, PowerDBm: 28, RangeMeters: 3, ZoneID: "dock", Enabled: true},
	}
}

func loadReaders(path string) ([]rtls.ReaderDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var readers []rtls.ReaderDescriptor
	if err := json.Unmarshal(data, &readers); err != nil {
		return nil, err
	}
	return readers, nil
}

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	log.Printf("tagfind %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	cfg := config.EmptyTuningConfig()
	if *tuningPath != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*tuningPath)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	}

	store, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	if *migrationsDir != "" {
		if err := store.MigrateUp(*migrationsDir); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
	}

	readers := demoReaders()
	if *readersPath != "" {
		readers, err = loadReaders(*readersPath)
		if err != nil {
			log.Fatalf("failed to load reader layout: %v", err)
		}
	}
	registry := rtls.NewReaderRegistry()
	for _, r := range readers {
		registry.Register(r)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fingerprints, err := store.LoadFingerprints(ctx)
	if err != nil {
		log.Fatalf("failed to load fingerprints: %v", err)
	}
	geofences, err := store.LoadGeofences(ctx)
	if err != nil {
		log.Fatalf("failed to load geofences: %v", err)
	}
	log.Printf("loaded %d readers, %d fingerprints, %d geofences",
		len(readers), len(fingerprints), len(geofences))

	clock := timeutil.RealClock{}
	engine := rtls.NewEngine(rtls.EngineConfigFromTuning(cfg), rtls.NewFingerprintDB(fingerprints))
	hub := rtls.NewHub()
	alerts := rtls.NewAlertMonitor(cfg, geofences)

	var gateway readergw.Gateway
	if *mockMode {
		mock := readergw.NewMockGateway(readers, cfg.GetReferenceRSSI(), cfg.GetPathLossExponent(), clock)
		// A few wandering dockets and the operator's own tag.
		mock.PlaceTag("tag-pallet-1", rtls.Point3{X: 4, Y: 6, Z: 1})
		mock.PlaceTag("tag-pallet-2", rtls.Point3{X: 15, Y: 12, Z: 1})
		if *seekerTag != "" {
			mock.PlaceTag(*seekerTag, rtls.Point3{X: 10, Y: 10, Z: 1})
		}
		gateway = mock
	} else {
		if *serialReader == "" {
			log.Fatal("serial mode requires -serial-reader")
		}
		desc, err := registry.Get(*serialReader)
		if err != nil {
			log.Fatalf("unknown serial reader %q: %v", *serialReader, err)
		}
		gateway, err = readergw.OpenSerialGateway(desc.ID, desc.Kind, *serialPort, readergw.PortOptions{}, clock)
		if err != nil {
			log.Fatalf("failed to open reader port: %v", err)
		}
	}
	defer gateway.Close()

	var plotter *monitor.RSSIPlotter
	var recorder tracking.ReadRecorder
	if *surveyPlots != "" {
		plotter = monitor.NewRSSIPlotter()
		if err := plotter.Start(*surveyPlots); err != nil {
			log.Fatalf("failed to start RSSI plotter: %v", err)
		}
		recorder = plotter
	}

	orch := tracking.New(tracking.Deps{
		Config:      cfg,
		Clock:       clock,
		Gateway:     gateway,
		Registry:    registry,
		Engine:      engine,
		Sink:        store,
		Metadata:    store,
		Hub:         hub,
		Alerts:      alerts,
		SeekerTagID: *seekerTag,
		Recorder:    recorder,
	})

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gateway.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("gateway monitor terminated: %v", err)
		}
		log.Print("gateway monitor routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := orch.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("orchestrator terminated: %v", err)
		}
		log.Print("orchestrator routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// admin debugging routes (accessible only over localhost/Tailscale)
		store.AttachAdminRoutes(mux)
		mux.HandleFunc("/debug/floormap", monitor.FloorMapHandler(orch.ActiveTags, registry.List))

		apiServer := api.NewServer(orch, hub, registry)
		mux.Handle("/api/", apiServer.ServeMux())

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	wg.Wait()

	if plotter != nil {
		if err := plotter.Stop(); err != nil {
			log.Printf("failed to render RSSI plots: %v", err)
		}
	}
}
