// Package config defines the recognized configuration keys and loads
// them by layering a config file, environment variables, and CLI-flag
// overrides via viper.
package config

import (
	"errors"
	"os"
	"strings"

	"github.com/spf13/viper"

	"drivearchive/pkg/executor"
)

// Settings is the concrete struct backing the recognized configuration
// keys. It is also the type embedded as RestoreState.SettingsUsed, so its JSON
// tags double as the on-disk shape of a resume-state snapshot.
type Settings struct {
	RemoteBackupRootID     string   `json:"remote_backup_root_id" mapstructure:"remote_backup_root_id"`
	ArchiveOutputDir       string   `json:"archive_output_dir" mapstructure:"archive_output_dir"`
	TempWorkDir            string   `json:"temp_work_dir" mapstructure:"temp_work_dir"`
	RemoteRestoreParentID  string   `json:"remote_restore_parent_id" mapstructure:"remote_restore_parent_id"`
	BackupCycleHours       int      `json:"backup_cycle_hours" mapstructure:"backup_cycle_hours"`
	MaxParallelTasks       int      `json:"max_parallel_tasks" mapstructure:"max_parallel_tasks"`
	ExcludedRelativePaths  []string `json:"excluded_relative_paths" mapstructure:"excluded_relative_paths"`
	LastSuccessfulBackupUtc string  `json:"last_successful_backup_utc" mapstructure:"last_successful_backup_utc"`
}

// Defaults returns the Settings a fresh installation starts from: default
// parallelism of 1, everything else empty.
func Defaults() Settings {
	return Settings{
		MaxParallelTasks: executor.MinTasks,
	}
}

// Clamped returns a copy of s with MaxParallelTasks clamped into
// [executor.MinTasks, executor.MaxTasks].
func (s Settings) Clamped() Settings {
	s.MaxParallelTasks = executor.Clamp(s.MaxParallelTasks)
	return s
}

// Load layers a config file (if present at configPath), environment
// variables prefixed DRIVEARCHIVE_, and already-set fields of overrides
// (CLI flags, highest priority) into a Settings value.
func Load(configPath string, overrides Settings) (Settings, error) {
	v := viper.New()
	v.SetEnvPrefix("drivearchive")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := Defaults()
	v.SetDefault("max_parallel_tasks", defaults.MaxParallelTasks)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
				return Settings{}, err
			}
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return Settings{}, err
	}

	settings = applyOverrides(settings, overrides)
	return settings.Clamped(), nil
}

// applyOverrides layers non-zero fields of overrides on top of base,
// giving CLI flags the final say over file/env configuration.
func applyOverrides(base, overrides Settings) Settings {
	if overrides.RemoteBackupRootID != "" {
		base.RemoteBackupRootID = overrides.RemoteBackupRootID
	}
	if overrides.ArchiveOutputDir != "" {
		base.ArchiveOutputDir = overrides.ArchiveOutputDir
	}
	if overrides.TempWorkDir != "" {
		base.TempWorkDir = overrides.TempWorkDir
	}
	if overrides.RemoteRestoreParentID != "" {
		base.RemoteRestoreParentID = overrides.RemoteRestoreParentID
	}
	if overrides.BackupCycleHours != 0 {
		base.BackupCycleHours = overrides.BackupCycleHours
	}
	if overrides.MaxParallelTasks != 0 {
		base.MaxParallelTasks = overrides.MaxParallelTasks
	}
	if len(overrides.ExcludedRelativePaths) > 0 {
		base.ExcludedRelativePaths = overrides.ExcludedRelativePaths
	}
	if overrides.LastSuccessfulBackupUtc != "" {
		base.LastSuccessfulBackupUtc = overrides.LastSuccessfulBackupUtc
	}
	return base
}

// Diff reports the field names that differ between a and b, used when a
// resumed restore's stored settings disagree with ambient settings — the
// engine warns on these but uses a's values (the state's snapshot wins).
func Diff(a, b Settings) []string {
	var diffs []string
	if a.RemoteRestoreParentID != b.RemoteRestoreParentID {
		diffs = append(diffs, "remote_restore_parent_id")
	}
	if a.MaxParallelTasks != b.MaxParallelTasks {
		diffs = append(diffs, "max_parallel_tasks")
	}
	if a.TempWorkDir != b.TempWorkDir {
		diffs = append(diffs, "temp_work_dir")
	}
	return diffs
}
