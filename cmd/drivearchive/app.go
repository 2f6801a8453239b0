// Package app is the kong CLI driver: it parses flags, wires a
// driveclient.Client and the three engines together, and prints a
// summary line after each run. It contains no engine logic of its own.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"drivearchive/pkg/config"
	"drivearchive/pkg/driveclient"
	"drivearchive/pkg/driveport"
	"drivearchive/pkg/engine/backup"
	"drivearchive/pkg/engine/repair"
	"drivearchive/pkg/engine/restore"
	"drivearchive/pkg/exclude"
	"drivearchive/pkg/fetch"
	"drivearchive/pkg/opctx"
)

var (
	version = "unset"
	commit  = "unset"
	binName = "drivearchive"
	builtBy = "manual"
	date    = "unset"
)

var cli struct {
	LogLevel        string `help:"log level (debug, info, warn, error)" default:"info"`
	ConfigFile      string `short:"c" help:"path to config file" type:"path"`
	CredentialsFile string `help:"path to a Google service account JSON key" type:"path" env:"DRIVEARCHIVE_CREDENTIALS"`

	Backup  backupCmd  `cmd:"" help:"Back up a remote subtree to a local archive"`
	Restore restoreCmd `cmd:"" help:"Restore a local archive to the remote drive"`
	Repair  repairCmd  `cmd:"" help:"Repair a damaged archive by refetching missing members"`

	Version kong.VersionFlag `short:"v" help:"Display version."`
}

type backupCmd struct {
	RootID      string   `help:"remote subtree root id" `
	Prior       string   `help:"path to a prior archive to diff against"`
	Exclude     []string `help:"normalized relative path to exclude" name:"exclude"`
	Parallel    int      `help:"max parallel tasks"`
	TempDir     string   `help:"scratch directory for extractions"`
	OutputDir   string   `help:"directory to write the finished archive into"`
}

type restoreCmd struct {
	Archive string `arg:"" optional:"" help:"archive file to restore (fresh start)"`
	Resume  string `help:"resume directory of an interrupted restore"`
	Parent  string `help:"remote restore-parent folder id"`
	Parallel int   `help:"max parallel tasks"`
	TempDir  string `help:"scratch directory for the extraction"`
}

type repairCmd struct {
	Archive   string `arg:"" help:"archive file to repair"`
	Parallel  int    `help:"max parallel tasks"`
	TempDir   string `help:"scratch directory for the extraction"`
	OutputDir string `help:"fallback output directory if the archive's own directory is unusable"`
}

// Main is the single entry point root main.go delegates to.
func Main() {
	ctx := kong.Parse(&cli, kong.UsageOnError(), kong.Vars{
		"version": version,
		"commit":  commit,
		"binName": binName,
		"builtBy": builtBy,
		"date":    date,
	})

	setupLogging(cli.LogLevel)

	settings, err := config.Load(cli.ConfigFile, config.Settings{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed loading configuration")
	}

	port, err := newPort(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("failed setting up drive client")
	}

	octx := opctx.New(context.Background(), log.Logger)

	switch ctx.Command() {
	case "backup":
		runBackup(octx, port, settings, &cli.Backup)
	case "restore":
		runRestore(octx, port, settings, &cli.Restore)
	case "repair":
		runRepair(octx, port, settings, &cli.Repair)
	default:
		log.Error().Str("command", ctx.Command()).Msg("unknown command")
		os.Exit(1)
	}
}

func setupLogging(level string) {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if lvl, err := zerolog.ParseLevel(level); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

func newPort(ctx context.Context) (driveport.Port, error) {
	if cli.CredentialsFile == "" {
		return nil, fmt.Errorf("app: --credentials-file is required")
	}
	keyJSON, err := os.ReadFile(cli.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("app: read credentials: %w", err)
	}
	return driveclient.NewFromServiceAccountJSON(ctx, keyJSON)
}

func runBackup(octx *opctx.Context, port driveport.Port, settings config.Settings, c *backupCmd) {
	rootID := c.RootID
	if rootID == "" {
		rootID = settings.RemoteBackupRootID
	}
	parallel := c.Parallel
	if parallel == 0 {
		parallel = settings.MaxParallelTasks
	}
	tempDir := c.TempDir
	if tempDir == "" {
		tempDir = settings.TempWorkDir
	}
	outputDir := c.OutputDir
	if outputDir == "" {
		outputDir = settings.ArchiveOutputDir
	}
	excl := c.Exclude
	if len(excl) == 0 {
		excl = settings.ExcludedRelativePaths
	}

	eng := backup.New(port, fetch.New(port))
	archivePath, result, err := eng.Run(octx, backup.Options{
		RootID:           rootID,
		PriorArchivePath: c.Prior,
		Exclusions:       exclude.New(excl),
		MaxParallelTasks: parallel,
		TempDir:          tempDir,
		OutputDir:        outputDir,
		ToolVersion:      version,
	})
	if err != nil {
		log.Error().Err(err).Msg("backup failed")
		os.Exit(1)
	}

	printSummary("backup", result)
	if archivePath != "" {
		log.Info().Str("archive", archivePath).Msg("archive written")
	}
	if !result.Success {
		os.Exit(1)
	}
}

func runRestore(octx *opctx.Context, port driveport.Port, settings config.Settings, c *restoreCmd) {
	parent := c.Parent
	if parent == "" {
		parent = settings.RemoteRestoreParentID
	}
	parallel := c.Parallel
	if parallel == 0 {
		parallel = settings.MaxParallelTasks
	}
	tempDir := c.TempDir
	if tempDir == "" {
		tempDir = settings.TempWorkDir
	}

	ambient := settings
	ambient.RemoteRestoreParentID = parent
	ambient.MaxParallelTasks = parallel

	eng := restore.New(port)
	result, err := eng.Run(octx, restore.Options{
		ArchivePath:     c.Archive,
		ResumeDir:       c.Resume,
		TempRoot:        tempDir,
		AmbientSettings: ambient,
	})
	if err != nil {
		log.Error().Err(err).Msg("restore failed")
		os.Exit(1)
	}

	printSummary("restore", result)
	if !result.Success {
		os.Exit(1)
	}
}

func runRepair(octx *opctx.Context, port driveport.Port, settings config.Settings, c *repairCmd) {
	parallel := c.Parallel
	if parallel == 0 {
		parallel = settings.MaxParallelTasks
	}
	tempDir := c.TempDir
	if tempDir == "" {
		tempDir = settings.TempWorkDir
	}
	outputDir := c.OutputDir
	if outputDir == "" {
		outputDir = settings.ArchiveOutputDir
	}

	eng := repair.New(port, fetch.New(port))
	result, err := eng.Run(octx, repair.Options{
		ArchivePath:      c.Archive,
		TempDir:          tempDir,
		MaxParallelTasks: parallel,
		OutputDir:        outputDir,
	})
	if err != nil {
		log.Error().Err(err).Msg("repair failed")
		os.Exit(1)
	}

	printSummary("repair", result.Result)
	if result.RepairAttempted {
		if result.RepairedArchive != "" {
			log.Info().Str("archive", result.RepairedArchive).Msg("repaired archive written")
		} else {
			log.Warn().Msg("repair attempted but no repaired archive emitted")
		}
	} else {
		log.Info().Msg("archive was already intact")
	}
	if !result.Success {
		os.Exit(1)
	}
}

func printSummary(op string, result opctx.Result) {
	c := result.Counters
	log.Info().
		Str("op", op).
		Bool("success", result.Success).
		Bool("cancelled", result.Cancelled).
		Str("elapsed", result.Elapsed.String()).
		Str("bytes_downloaded", humanize.Bytes(uint64(c.TotalBytesDownloaded))).
		Str("bytes_copied", humanize.Bytes(uint64(c.TotalBytesCopied))).
		Msg("operation finished")
}
