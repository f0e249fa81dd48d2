package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/soamn/slicePDF/internal/appdirs"
	"github.com/soamn/slicePDF/internal/backend"
	"github.com/soamn/slicePDF/internal/catalog"
	"github.com/soamn/slicePDF/internal/config"
	"github.com/soamn/slicePDF/internal/engine"
	"github.com/soamn/slicePDF/internal/envfile"
	"github.com/soamn/slicePDF/internal/errinfo"
	"github.com/soamn/slicePDF/internal/logging"
	"github.com/soamn/slicePDF/internal/rpc"
)

func main() {
	envResult := envfile.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("engine config failed: %v", err)
	}
	logSetup, logErr := logging.NewFileLogger(appdirs.LogsDir(cfg.DataDir), cfg.Debug)
	logger := logSetup.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.With("component", "engine")
	if logSetup.Enabled {
		logger.Info("engine.logging_enabled", "path", logSetup.Path)
	}
	if envResult.Loaded {
		logger.Debug("engine.env_loaded", "path", envResult.Path, "keys", envResult.Keys, "ignored", envResult.Ignored)
	}
	if envResult.Err != nil {
		logger.Warn("engine.env_load_failed", "path", envResult.Path, "error", envResult.Err.Error())
	}
	if cfg.File != "" {
		logger.Debug("engine.config_loaded", "path", cfg.File)
	}
	if logErr != nil {
		logger.Warn("engine.log_setup_failed", "error", logErr.Error())
	}
	if logSetup.Close != nil {
		defer logSetup.Close()
	}

	// pdfcpu would otherwise create its own config dir under the user's home.
	api.DisableConfigDir()

	tempDir, err := appdirs.ResetTempDir(cfg.DataDir)
	if err != nil {
		logger.Error("engine.temp_dir_failed", "error", err.Error())
		log.Fatalf("engine init failed: %v", err)
	}
	tools, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		logger.Error("catalog.load_failed", "path", cfg.Catalog.Path, "error", err.Error())
		log.Fatalf("engine init failed: %v", err)
	}

	var client backend.Client
	if cfg.Backend.Fake {
		client = backend.NewFake(filepath.Join(cfg.DataDir, "output"), tempDir, logger.With("component", "backend"))
	} else {
		mgr := backend.New(backend.Options{
			Path:   cfg.Backend.Path,
			Env:    []string{"SLICEPDF_TEMP_DIR=" + tempDir},
			Logger: logger.With("component", "backend"),
		})
		if err := mgr.Start(); err != nil {
			// The engine keeps serving; runs report ENGINE_UNAVAILABLE until it starts.
			logger.Warn("backend.start_failed", "error", err.Error())
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Backend.StartTimeout)
			if err := mgr.HealthCheck(ctx); err != nil {
				logger.Warn("backend.health_check_failed", "error", err.Error())
			}
			cancel()
		}
		client = mgr
	}

	eng, err := engine.New(
		engine.WithLogger(logger),
		engine.WithDataDir(cfg.DataDir),
		engine.WithBackend(client),
		engine.WithCatalog(tools),
		engine.WithLimits(cfg.Limits),
	)
	if err != nil {
		logger.Error("engine.init_failed", "error", err.Error())
		log.Fatalf("engine init failed: %v", err)
	}
	defer eng.Close()

	server := rpc.NewServer(engine.APIVersion, os.Stdin, os.Stdout, logger)
	eng.SetNotifier(server.Notify)

	register := func(method string, fn func(context.Context, json.RawMessage) (any, *errinfo.ErrorInfo)) {
		server.Register(method, func(ctx context.Context, params json.RawMessage) (any, *rpc.Error) {
			result, errInfo := fn(ctx, params)
			if errInfo != nil {
				msg := errInfo.ErrorCode
				if errInfo.Detail != "" {
					msg = errInfo.Detail
				}
				return nil, &rpc.Error{Message: msg, Data: errInfo}
			}
			return result, nil
		})
	}

	register("EngineGetInfo", eng.EngineGetInfo)
	register("BackendGetStatus", eng.BackendGetStatus)
	register("BackendPickOutputFolder", eng.BackendPickOutputFolder)
	register("ToolsList", eng.ToolsList)
	register("PreferencesGet", eng.PreferencesGet)
	register("PreferencesSet", eng.PreferencesSet)

	register("SessionOpen", eng.SessionOpen)
	register("SessionGetState", eng.SessionGetState)
	register("SessionAddSources", eng.SessionAddSources)
	register("SessionRemoveSource", eng.SessionRemoveSource)
	register("SessionReorder", eng.SessionReorder)
	register("SessionToggleActive", eng.SessionToggleActive)
	register("SessionToggleRotation", eng.SessionToggleRotation)
	register("SessionSetActive", eng.SessionSetActive)
	register("SessionGetPreview", eng.SessionGetPreview)
	register("SessionRun", eng.SessionRun)
	register("SessionClear", eng.SessionClear)
	register("SessionClose", eng.SessionClose)

	register("UnlockGetState", eng.UnlockGetState)
	register("UnlockSubmit", eng.UnlockSubmit)
	register("UnlockCancel", eng.UnlockCancel)

	if err := server.Serve(context.Background()); err != nil {
		logger.Error("rpc.server_error", "error", err.Error())
		log.Fatalf("rpc server error: %v", err)
	}
}
