package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wattnpapa/S1-Control-sub000/internal/backup"
	"github.com/wattnpapa/S1-Control-sub000/internal/command"
	"github.com/wattnpapa/S1-Control-sub000/internal/config"
	"github.com/wattnpapa/S1-Control-sub000/internal/history"
	"github.com/wattnpapa/S1-Control-sub000/internal/history/factory"
	"github.com/wattnpapa/S1-Control-sub000/internal/logger"
	"github.com/wattnpapa/S1-Control-sub000/internal/metrics"
	"github.com/wattnpapa/S1-Control-sub000/internal/presence"
	"github.com/wattnpapa/S1-Control-sub000/internal/server"
	"github.com/wattnpapa/S1-Control-sub000/internal/store"
	"github.com/wattnpapa/S1-Control-sub000/pkg/client"
)

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.Config{
		Dir:        cfg.Log.Dir,
		File:       cfg.Log.File,
		Level:      cfg.Log.Level,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	st, err := store.OpenWithRetry(cfg.Database, cfg.OpenRetries)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = st.Close() }()

	engine := command.NewEngine(st)
	engine.SetLogger(log)
	var sinks []history.Sink
	for _, dsn := range cfg.Audit.DSNs {
		sink, err := factory.NewSinkFromDSN(dsn)
		if err != nil {
			return fmt.Errorf("audit sink %q: %w", dsn, err)
		}
		sinks = append(sinks, sink)
		engine.AddSink(sink)
	}
	defer func() {
		for _, s := range sinks {
			_ = s.Close()
		}
	}()

	pres := presence.New()
	pres.SetLogger(log)
	pres.SetIntervals(cfg.Presence.Interval, cfg.Presence.StaleAfter)
	pres.Start(st)
	defer pres.Stop(true)

	var coord *backup.Coordinator
	if cfg.Backup.Enabled {
		coord = backup.NewCoordinator()
		coord.SetLogger(log)
		coord.SetIntervals(cfg.Backup.Interval, cfg.Backup.MinSpacing)
		coord.SetAuthorize(pres.CanWriteBackups)
		coord.Start(st)
		defer coord.Stop()
	}

	srv, err := server.NewServer(cfg.Server.Listen, cfg.Server.BasePath, server.Service{
		Store:    st,
		Engine:   engine,
		Presence: pres,
		Backup:   coord,
	})
	if err != nil {
		return fmt.Errorf("start HTTP server: %w", err)
	}

	log.Info("daemon started",
		"database", cfg.Database, "client_id", pres.ClientID(),
		"listen", cfg.Server.Listen, "backup", cfg.Backup.Enabled)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("HTTP shutdown", "error", err)
	}
	return nil
}

func runStatus(flags APIFlags) error {
	c := apiClient(flags)
	st, err := c.Status(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("database:       %s\n", st.Database)
	fmt.Printf("healthy:        %v\n", st.Healthy)
	fmt.Printf("client id:      %s\n", st.ClientID)
	fmt.Printf("leader:         %v\n", st.Leader)
	fmt.Printf("active clients: %d\n", st.ActiveClients)
	return nil
}

func runClients(dbPath string) error {
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = st.Close() }()

	clients, err := presence.Active(context.Background(), st, time.Now().UTC(), presence.DefaultStaleAfter)
	if err != nil {
		return err
	}
	if len(clients) == 0 {
		fmt.Println("no active clients")
		return nil
	}
	for _, c := range clients {
		role := ""
		if c.IsLeader {
			role = " (leader)"
		}
		fmt.Printf("%s  %s  %s  last seen %s%s\n",
			c.ClientID, c.ComputerName, c.IPAddress,
			c.LastSeen.Local().Format(time.RFC3339), role)
	}
	return nil
}

func runMoveUnit(flags MoveFlags) error {
	c := apiClient(flags.APIFlags)
	err := c.MoveUnit(context.Background(), client.MoveUnitRequest{
		IncidentID:      flags.IncidentID,
		UnitID:          flags.SubjectID,
		TargetSectionID: flags.Target,
		Comment:         flags.Comment,
		Actor:           flags.Actor,
	})
	if err != nil {
		return err
	}
	fmt.Printf("unit %s moved to %s\n", flags.SubjectID, flags.Target)
	return nil
}

func runMoveVehicle(flags MoveFlags) error {
	c := apiClient(flags.APIFlags)
	err := c.MoveVehicle(context.Background(), client.MoveVehicleRequest{
		IncidentID:      flags.IncidentID,
		VehicleID:       flags.SubjectID,
		TargetSectionID: flags.Target,
		Actor:           flags.Actor,
	})
	if err != nil {
		return err
	}
	fmt.Printf("vehicle %s moved to %s\n", flags.SubjectID, flags.Target)
	return nil
}

func runUndo(flags UndoFlags) error {
	c := apiClient(flags.APIFlags)
	undone, err := c.Undo(context.Background(), client.UndoRequest{
		IncidentID: flags.IncidentID,
		Actor:      flags.Actor,
	})
	if err != nil {
		return err
	}
	if !undone {
		fmt.Println("nothing to undo")
		return nil
	}
	fmt.Println("last command undone")
	return nil
}

func runBackupNow(dbPath string) error {
	path, err := backup.BackupNow(dbPath)
	if err != nil {
		return err
	}
	fmt.Printf("snapshot written: %s\n", path)
	return nil
}

func runBackupList(dbPath string) error {
	snaps, err := backup.List(dbPath)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		fmt.Println("no snapshots")
		return nil
	}
	for _, s := range snaps {
		fmt.Printf("%s  %d bytes  %s\n", s.Path, s.Size, s.ModTime.Local().Format(time.RFC3339))
	}
	return nil
}

func runRestore(dbPath, snapshot string) error {
	if err := backup.Restore(dbPath, snapshot); err != nil {
		return err
	}
	fmt.Printf("restored %s from %s\n", dbPath, snapshot)
	return nil
}

func apiClient(flags APIFlags) *client.Client {
	cfg := client.DefaultConfig()
	if flags.APIUrl != "" {
		cfg.BaseURL = flags.APIUrl
	}
	if flags.APITimeout > 0 {
		cfg.Timeout = flags.APITimeout
	}
	return client.New(cfg)
}

// resolveDatabase picks the database path from the explicit flag or,
// failing that, from the TOML config file.
func resolveDatabase(configPath, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if configPath == "" {
		return "", fmt.Errorf("database path required. Use --database or --config=config.toml")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	return cfg.Database, nil
}
