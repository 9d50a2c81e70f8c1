//go:build windows

package engine

import (
	"path/filepath"

	"github.com/k2io/reshook"
	"github.com/k2io/reshook/internal/config"
	"github.com/k2io/reshook/internal/logger"
	"github.com/k2io/reshook/resource"
	"github.com/k2io/reshook/sigscan"
)

// Attach starts an engine inside the running host: it loads the
// configuration from workingDir, opens the log, scans the main module and
// enables the hooks.
func Attach(workingDir string) (*Engine, error) {
	conf, err := config.Load(filepath.Join(workingDir, config.FileName))
	if err != nil {
		return nil, err
	}
	level, err := logger.ParseLevel(conf.LogLevel)
	if err != nil {
		return nil, err
	}
	logFile, err := logger.Init(logger.Options{Enabled: conf.LogEnabled, Dir: conf.WorkingDirectory, Level: level})
	if err != nil {
		return nil, err
	}
	scanner, err := sigscan.NewModuleScanner()
	if err != nil {
		logFile.Close()
		return nil, err
	}
	patcher, err := reshook.NewCodePatcher()
	if err != nil {
		logFile.Close()
		return nil, err
	}
	e, err := New(Options{
		Config:  conf,
		Scanner: scanner,
		Patcher: patcher,
		Async:   resource.AsyncBinder{},
		Sync:    resource.SyncBinder{},
		Closers: []func() error{logFile.Close},
	})
	if err != nil {
		logFile.Close()
		return nil, err
	}
	if err := e.Enable(); err != nil {
		return e, err
	}
	return e, nil
}
