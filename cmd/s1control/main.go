package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds minimal global/persistent flags for CLI commands
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags holds remote daemon connection flags
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

// MoveFlags holds flags for the move subcommands
type MoveFlags struct {
	IncidentID string
	SubjectID  string
	Target     string
	Comment    string
	Actor      string
	APIFlags
}

// UndoFlags holds flags for the undo subcommand
type UndoFlags struct {
	IncidentID string
	Actor      string
	APIFlags
}

// ClientsFlags holds flags for the clients subcommand
type ClientsFlags struct {
	Database string
}

// BackupFlags holds flags for the backup subcommands
type BackupFlags struct {
	Database string
}

// RestoreFlags holds flags for the restore subcommand
type RestoreFlags struct {
	Database string
	Snapshot string
}

// buildRoot creates the root command and wires all subcommands
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	apiFlags := &APIFlags{}
	moveUnitFlags := &MoveFlags{}
	moveVehicleFlags := &MoveFlags{}
	undoFlags := &UndoFlags{}
	clientsFlags := &ClientsFlags{}
	backupFlags := &BackupFlags{}
	restoreFlags := &RestoreFlags{}

	root := createRootCommand(globalFlags)

	root.AddCommand(
		createServeCommand(globalFlags),
		createStatusCommand(apiFlags),
		createClientsCommand(globalFlags, clientsFlags),
		createMoveUnitCommand(moveUnitFlags),
		createMoveVehicleCommand(moveVehicleFlags),
		createUndoCommand(undoFlags),
		createBackupCommand(globalFlags, backupFlags),
		createRestoreCommand(globalFlags, restoreFlags),
	)

	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "s1control",
		Short: "Incident record keeper coordination daemon",
		Long: `S1 Control keeps multiple record-keeper workstations coordinated over a
shared incident database: client presence and leader election, locked
periodic backups, and command-sourced moves with single-step undo.

Examples:
  s1control serve --config=config.toml
  s1control move-unit --incident=einsatz-1 --unit=unit-1 --target=sec-b
  s1control undo --incident=einsatz-1
  s1control backup now --config=config.toml`,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")

	return root
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the coordination daemon",
		Long: `Start the daemon: register this workstation in the shared database,
heartbeat the leader election, run locked periodic backups when leader,
and expose the HTTP control API.

Examples:
  s1control serve --config=config.toml
  s1control serve config.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := globalFlags.ConfigPath
			if len(args) > 0 {
				configPath = args[0]
			}
			if configPath == "" {
				return fmt.Errorf("config file required. Use --config=config.toml or provide as argument")
			}
			return runServe(configPath)
		},
	}
}

func createStatusCommand(flags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(*flags)
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createClientsCommand(globalFlags *GlobalFlags, flags *ClientsFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clients",
		Short: "List active workstations",
		Long: `List the non-stale client rows in the shared presence table. Reads the
database directly and does not register this process as a client.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := resolveDatabase(globalFlags.ConfigPath, flags.Database)
			if err != nil {
				return err
			}
			return runClients(db)
		},
	}
	cmd.Flags().StringVar(&flags.Database, "database", "", "path to the shared database (overrides config)")
	return cmd
}

func createMoveUnitCommand(flags *MoveFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "move-unit",
		Short: "Reassign a unit to another section",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMoveUnit(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.IncidentID, "incident", "", "incident id (required)")
	cmd.Flags().StringVar(&flags.SubjectID, "unit", "", "unit id (required)")
	cmd.Flags().StringVar(&flags.Target, "target", "", "target section id")
	cmd.Flags().StringVar(&flags.Comment, "comment", "", "movement comment")
	cmd.Flags().StringVar(&flags.Actor, "actor", "", "acting record keeper")
	addAPIFlags(cmd, &flags.APIFlags)
	mustRequire(cmd, "incident", "unit")
	return cmd
}

func createMoveVehicleCommand(flags *MoveFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "move-vehicle",
		Short: "Reassign a vehicle to another section",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMoveVehicle(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.IncidentID, "incident", "", "incident id (required)")
	cmd.Flags().StringVar(&flags.SubjectID, "vehicle", "", "vehicle id (required)")
	cmd.Flags().StringVar(&flags.Target, "target", "", "target section id")
	cmd.Flags().StringVar(&flags.Actor, "actor", "", "acting record keeper")
	addAPIFlags(cmd, &flags.APIFlags)
	mustRequire(cmd, "incident", "vehicle")
	return cmd
}

func createUndoCommand(flags *UndoFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "undo",
		Short: "Reverse the most recent command of an incident",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUndo(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.IncidentID, "incident", "", "incident id (required)")
	cmd.Flags().StringVar(&flags.Actor, "actor", "", "acting record keeper")
	addAPIFlags(cmd, &flags.APIFlags)
	mustRequire(cmd, "incident")
	return cmd
}

func createBackupCommand(globalFlags *GlobalFlags, flags *BackupFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage database snapshots",
	}
	cmd.PersistentFlags().StringVar(&flags.Database, "database", "", "path to the shared database (overrides config)")

	now := &cobra.Command{
		Use:   "now",
		Short: "Write a snapshot immediately",
		Long: `Write a snapshot immediately, bypassing leader gating. The filesystem
lock still applies: a concurrent backup makes this fail.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := resolveDatabase(globalFlags.ConfigPath, flags.Database)
			if err != nil {
				return err
			}
			return runBackupNow(db)
		},
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List snapshots next to the database file",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := resolveDatabase(globalFlags.ConfigPath, flags.Database)
			if err != nil {
				return err
			}
			return runBackupList(db)
		},
	}
	cmd.AddCommand(now, list)
	return cmd
}

func createRestoreCommand(globalFlags *GlobalFlags, flags *RestoreFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Replace the database with a snapshot",
		Long: `Replace the shared database file with a snapshot. All daemons using the
database must be stopped first; clients re-register on their next start.

Example:
  s1control restore --snapshot=backup/incident-20260830-120000.sqlite --config=config.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := resolveDatabase(globalFlags.ConfigPath, flags.Database)
			if err != nil {
				return err
			}
			return runRestore(db, flags.Snapshot)
		},
	}
	cmd.Flags().StringVar(&flags.Database, "database", "", "path to the shared database (overrides config)")
	cmd.Flags().StringVar(&flags.Snapshot, "snapshot", "", "snapshot file to restore (required)")
	mustRequire(cmd, "snapshot")
	return cmd
}

func addAPIFlags(cmd *cobra.Command, flags *APIFlags) {
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8732/api)")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
}

func mustRequire(cmd *cobra.Command, names ...string) {
	for _, n := range names {
		if err := cmd.MarkFlagRequired(n); err != nil {
			panic(err)
		}
	}
}
