package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Paintersrp/quill/internal/constants"
	"github.com/Paintersrp/quill/internal/volume"
)

const (
	KeyAddr            = "addr"
	KeyWorkspace       = "workspace"
	KeyVolumes         = "volumes"
	KeyExtraVolumes    = "extra_volumes"
	KeyAutosaveDelay   = "autosave.delay"
	KeyAutoRenameDelay = "autorename.delay"

	KeyLogFilename   = "log.filename"
	KeyLogLevel      = "log.level"
	KeyLogVerbose    = "log.verbose"
	KeyLogMaxSize    = "log.max_size"
	KeyLogMaxBackups = "log.max_backups"
	KeyLogMaxAge     = "log.max_age"
	KeyLogCompress   = "log.compress"

	KeySearchBody   = "search.body"
	KeySearchIgnore = "search.ignore"

	KeyExportBucket = "export.bucket"
	KeyExportRegion = "export.region"
	KeyExportPrefix = "export.prefix"
)

// VolumeEntry is a raw, unvalidated name/path pair from configuration.
type VolumeEntry struct {
	Name string `yaml:"name" json:"name" mapstructure:"name"`
	Path string `yaml:"path" json:"path" mapstructure:"path"`
}

type LogConfig struct {
	Filename   string `yaml:"filename"    json:"filename"`
	Level      string `yaml:"level"       json:"level"`
	Verbose    bool   `yaml:"verbose"     json:"verbose"`
	MaxSize    int    `yaml:"max_size"    json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age"     json:"max_age"`
	Compress   bool   `yaml:"compress"    json:"compress"`
}

type SearchConfig struct {
	Body   bool     `yaml:"body"   json:"body"`
	Ignore []string `yaml:"ignore" json:"ignore"`
}

type ExportConfig struct {
	Bucket string `yaml:"bucket" json:"bucket"`
	Region string `yaml:"region" json:"region"`
	Prefix string `yaml:"prefix" json:"prefix"`
}

type Config struct {
	Addr            string        `yaml:"addr"             json:"addr"`
	Workspace       string        `yaml:"workspace"        json:"workspace"`
	Volumes         []VolumeEntry `yaml:"volumes"          json:"volumes"`
	ExtraVolumes    []VolumeEntry `yaml:"extra_volumes"    json:"extra_volumes"`
	AutosaveDelay   time.Duration `yaml:"autosave_delay"   json:"autosave_delay"`
	AutoRenameDelay time.Duration `yaml:"autorename_delay" json:"autorename_delay"`
	Log             LogConfig     `yaml:"log"              json:"log"`
	Search          SearchConfig  `yaml:"search"           json:"search"`
	Export          ExportConfig  `yaml:"export"           json:"export"`
}

// SetDefaults registers every default and the environment binding on v.
func SetDefaults(v *viper.Viper) {
	v.SetEnvPrefix(constants.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyAddr, constants.DefaultAddr)
	v.SetDefault(KeyWorkspace, constants.DefaultWorkspace)
	v.SetDefault(KeyAutosaveDelay, constants.DefaultAutosaveDelay)
	v.SetDefault(KeyAutoRenameDelay, constants.DefaultAutoRenameDelay)

	v.SetDefault(KeySearchBody, true)
	v.SetDefault(KeySearchIgnore, []string{"node_modules"})

	v.SetDefault(KeyLogFilename, "")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogVerbose, false)
	v.SetDefault(KeyLogMaxSize, 10)
	v.SetDefault(KeyLogMaxBackups, 3)
	v.SetDefault(KeyLogMaxAge, 28)
	v.SetDefault(KeyLogCompress, true)
}

// Load reads the configuration from v. The config file is optional; a
// missing file leaves defaults and environment in effect.
func Load(v *viper.Viper) (*Config, error) {
	volumes, err := volumeEntries(v, KeyVolumes)
	if err != nil {
		return nil, err
	}
	extra, err := volumeEntries(v, KeyExtraVolumes)
	if err != nil {
		return nil, err
	}

	return &Config{
		Addr:            v.GetString(KeyAddr),
		Workspace:       v.GetString(KeyWorkspace),
		Volumes:         volumes,
		ExtraVolumes:    extra,
		AutosaveDelay:   v.GetDuration(KeyAutosaveDelay),
		AutoRenameDelay: v.GetDuration(KeyAutoRenameDelay),
		Log: LogConfig{
			Filename:   v.GetString(KeyLogFilename),
			Level:      v.GetString(KeyLogLevel),
			Verbose:    v.GetBool(KeyLogVerbose),
			MaxSize:    v.GetInt(KeyLogMaxSize),
			MaxBackups: v.GetInt(KeyLogMaxBackups),
			MaxAge:     v.GetInt(KeyLogMaxAge),
			Compress:   v.GetBool(KeyLogCompress),
		},
		Search: SearchConfig{
			Body:   v.GetBool(KeySearchBody),
			Ignore: v.GetStringSlice(KeySearchIgnore),
		},
		Export: ExportConfig{
			Bucket: v.GetString(KeyExportBucket),
			Region: v.GetString(KeyExportRegion),
			Prefix: v.GetString(KeyExportPrefix),
		},
	}, nil
}

// volumeEntries accepts either the YAML list form or the environment form
// "name=path,name=path".
func volumeEntries(v *viper.Viper, key string) ([]VolumeEntry, error) {
	raw := v.Get(key)
	switch value := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return ParseVolumeList(value), nil
	case []string:
		return ParseVolumeList(strings.Join(value, ",")), nil
	default:
		var entries []VolumeEntry
		if err := v.UnmarshalKey(key, &entries); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		return entries, nil
	}
}

// ParseVolumeList parses "name=path" pairs separated by commas. Pairs without
// "=" are kept with an empty path so the caller can report them.
func ParseVolumeList(raw string) []VolumeEntry {
	var entries []VolumeEntry
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, path, _ := strings.Cut(item, "=")
		entries = append(entries, VolumeEntry{
			Name: strings.TrimSpace(name),
			Path: strings.TrimSpace(path),
		})
	}
	return entries
}

// ResolveVolumes applies the volume precedence rules. An explicit volume
// list wins outright; otherwise the workspace root is mounted under the
// reserved default name followed by any valid extra volumes. Invalid entries
// are dropped with a warning.
func (cfg *Config) ResolveVolumes(logger *slog.Logger) []volume.Volume {
	if logger == nil {
		logger = slog.Default()
	}

	if len(cfg.Volumes) > 0 {
		vols := acceptEntries(cfg.Volumes, nil, logger)
		if len(vols) > 0 {
			return vols
		}
		logger.Warn("explicit volume list has no valid entries, falling back to workspace")
	}

	vols := []volume.Volume{{Name: constants.DefaultVolumeName, MountPath: cfg.Workspace}}
	reserved := map[string]struct{}{constants.DefaultVolumeName: {}}
	return append(vols, acceptEntries(cfg.ExtraVolumes, reserved, logger)...)
}

func acceptEntries(entries []VolumeEntry, reserved map[string]struct{}, logger *slog.Logger) []volume.Volume {
	seen := make(map[string]struct{}, len(entries))
	for name := range reserved {
		seen[name] = struct{}{}
	}

	var vols []volume.Volume
	for _, e := range entries {
		if !volume.ValidName(e.Name) || strings.TrimSpace(e.Path) == "" {
			logger.Warn("skipping volume with invalid name/path", "name", e.Name, "path", e.Path)
			continue
		}
		if _, dup := seen[e.Name]; dup {
			logger.Warn("skipping volume reusing a reserved or duplicate name", "name", e.Name)
			continue
		}
		seen[e.Name] = struct{}{}
		vols = append(vols, volume.Volume{Name: e.Name, MountPath: e.Path})
	}
	return vols
}

// BuildVolumeSet resolves and freezes the volume set. Mounts that do not
// exist are reported but do not prevent startup.
func (cfg *Config) BuildVolumeSet(logger *slog.Logger) (*volume.Set, error) {
	if logger == nil {
		logger = slog.Default()
	}

	set, err := volume.NewSet(cfg.ResolveVolumes(logger)...)
	if err != nil {
		return nil, &ConfigInitError{msg: err.Error()}
	}

	for _, v := range set.Volumes() {
		info, err := os.Stat(v.MountPath)
		switch {
		case err != nil:
			logger.Warn("volume mount is not accessible", "volume", v.Name, "path", v.MountPath, "err", err)
		case !info.IsDir():
			logger.Warn("volume mount is not a directory", "volume", v.Name, "path", v.MountPath)
		}
	}

	return set, nil
}
