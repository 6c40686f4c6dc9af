package state

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/viper"

	"github.com/Paintersrp/quill/internal/config"
	"github.com/Paintersrp/quill/internal/handler"
	"github.com/Paintersrp/quill/internal/logging"
	"github.com/Paintersrp/quill/internal/parser"
	"github.com/Paintersrp/quill/internal/volume"
)

// Options are the process-level overrides collected from global flags.
type Options struct {
	ConfigFile string
	LogFile    string
	Verbose    bool
	// Home overrides the user home directory used to locate the default
	// config file.
	Home string
}

// State is the process-wide set of collaborators. It is loaded once, before
// any command runs, and is read-only afterwards.
type State struct {
	Config   *config.Config
	Viper    *viper.Viper
	Volumes  *volume.Set
	Handler  *handler.FileHandler
	Renderer *parser.Renderer
	Logger   *slog.Logger
	Home     string
	Watcher  *WorkspaceWatcher

	logCloser io.Closer
}

func NewState(opts Options) (*State, error) {
	s := &State{}
	if err := s.Load(opts); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads configuration and builds the collaborators in place. Commands
// hold a pointer to an empty State and Load runs once flags are parsed.
func (s *State) Load(opts Options) error {
	home := opts.Home
	if home == "" {
		var err error
		if home, err = GetHomeDir(); err != nil {
			return err
		}
	}

	v := viper.New()
	config.SetDefaults(v)
	if err := config.ReadFile(v, opts.ConfigFile, home); err != nil {
		return err
	}
	if opts.LogFile != "" {
		v.Set(config.KeyLogFilename, opts.LogFile)
	}
	if opts.Verbose {
		v.Set(config.KeyLogVerbose, true)
	}

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	logger, closer := logging.Configure(cfg.Log)

	vols, err := cfg.BuildVolumeSet(logger)
	if err != nil {
		closer.Close()
		return err
	}

	*s = State{
		Config:    cfg,
		Viper:     v,
		Volumes:   vols,
		Handler:   handler.NewFileHandler(vols, logger),
		Renderer:  parser.NewRenderer(),
		Logger:    logger,
		Home:      home,
		logCloser: closer,
	}

	logger.Debug("state loaded", "volumes", vols.Names(), "config", v.ConfigFileUsed())
	return nil
}

// StartWatcher creates the workspace watcher. Callers run it with
// Watcher.Run.
func (s *State) StartWatcher() (*WorkspaceWatcher, error) {
	if s.Watcher != nil {
		return s.Watcher, nil
	}

	w, err := NewWorkspaceWatcher(s.Volumes, s.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace watcher: %w", err)
	}
	s.Watcher = w
	return w, nil
}

func GetHomeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	return home, nil
}

// Close releases resources associated with the state, including the
// workspace watcher and the log file.
func (s *State) Close() error {
	if s == nil {
		return nil
	}

	var errs []error
	if s.Watcher != nil {
		if err := s.Watcher.Close(); err != nil {
			errs = append(errs, err)
		}
		s.Watcher = nil
	}
	if s.logCloser != nil {
		if err := s.logCloser.Close(); err != nil {
			errs = append(errs, err)
		}
		s.logCloser = nil
	}

	return errors.Join(errs...)
}
