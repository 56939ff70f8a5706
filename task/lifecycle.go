package task

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/modera/mfcloud/container"
	"github.com/modera/mfcloud/manifest"
)

// handleStop fans stop out across every running service and joins before
// returning, per spec.md §5's "fan-out and joined with gather".
func (e *Engine) handleStop(ctx context.Context, ticketID int64, args []any, kwargs map[string]any) (any, error) {
	appName, err := stringArg(args, 0)
	if err != nil {
		return nil, err
	}
	_, cfg, err := e.loadConfig(ctx, appName)
	if err != nil {
		return nil, err
	}
	services, err := selectServices(cfg, args)
	if err != nil {
		return nil, err
	}

	var wg sync.WaitGroup
	errs := make([]error, len(services))
	for i, svc := range services {
		wg.Add(1)
		go func(i int, svc *manifest.Service) {
			defer wg.Done()
			errs[i] = e.stopOne(ctx, ticketID, appName, svc)
		}(i, svc)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	e.Bus.Fire(containersUpdatedChannel, appName)
	return "Done.", nil
}

func (e *Engine) stopOne(ctx context.Context, ticketID int64, appName string, svc *manifest.Service) error {
	name := container.Name(appName, svc.Name)
	state, err := e.Containers.Inspect(ctx, name)
	if err != nil {
		return err
	}
	if !state.Running {
		return nil
	}
	e.progress(ticketID, "Stopping %s", svc.Qualified())
	if err := e.Containers.Stop(ctx, name); err != nil {
		if errors.Is(err, container.ErrContainerMissing) {
			e.progress(ticketID, "Container not found by name.")
			return nil
		}
		return err
	}
	return nil
}

// handleDestroy stops (if running) and removes each selected service's
// container, optionally scrubbing its volume directory. If the manifest
// itself failed to load, the task logs that and returns without touching
// containers (the original's error-shaped config check).
func (e *Engine) handleDestroy(ctx context.Context, ticketID int64, args []any, kwargs map[string]any) (any, error) {
	appName, err := stringArg(args, 0)
	if err != nil {
		return nil, err
	}
	scrubData := boolKwarg(kwargs, "scrub_data", false)

	_, cfg, err := e.loadConfig(ctx, appName)
	if err != nil {
		if errors.Is(err, ErrConfigParse) {
			e.progress(ticketID, "%s", err.Error())
			return "Done.", nil
		}
		return nil, err
	}
	services, err := selectServices(cfg, args)
	if err != nil {
		return nil, err
	}

	for _, svc := range services {
		if err := e.destroyOne(ctx, ticketID, appName, svc, scrubData); err != nil {
			return nil, err
		}
	}
	e.Bus.Fire(containersUpdatedChannel, appName)
	return "Done.", nil
}

func (e *Engine) destroyOne(ctx context.Context, ticketID int64, appName string, svc *manifest.Service, scrubData bool) error {
	name := container.Name(appName, svc.Name)
	if err := e.stopOne(ctx, ticketID, appName, svc); err != nil {
		return err
	}
	e.progress(ticketID, "Destroying %s", svc.Qualified())
	if err := e.Containers.Destroy(ctx, name); err != nil {
		if errors.Is(err, container.ErrContainerMissing) {
			e.progress(ticketID, "Container not found by name.")
		} else {
			return err
		}
	}
	if scrubData {
		volPath := filepath.Join(e.HomeDir, "volumes", svc.Name)
		if err := os.RemoveAll(volPath); err != nil {
			return fmt.Errorf("task: scrub %s: %w", volPath, err)
		}
	}
	return nil
}

// handleRebuild is destroy(scrubData) followed by start.
func (e *Engine) handleRebuild(ctx context.Context, ticketID int64, args []any, kwargs map[string]any) (any, error) {
	if _, err := e.handleDestroy(ctx, ticketID, args, kwargs); err != nil {
		return nil, err
	}
	return e.handleStart(ctx, ticketID, args, kwargs)
}

// handleRestart is stop followed by start.
func (e *Engine) handleRestart(ctx context.Context, ticketID int64, args []any, kwargs map[string]any) (any, error) {
	if _, err := e.handleStop(ctx, ticketID, args, kwargs); err != nil {
		return nil, err
	}
	return e.handleStart(ctx, ticketID, args, kwargs)
}

// handleLogs streams one service's container logs as progress until the
// ticket is cancelled or the container disappears.
func (e *Engine) handleLogs(ctx context.Context, ticketID int64, args []any, kwargs map[string]any) (any, error) {
	ref, err := stringArg(args, 0)
	if err != nil {
		return nil, err
	}
	appName, cfg, err := e.resolveAppAndRef(ctx, ref, args)
	if err != nil {
		return nil, err
	}
	svc, err := serviceFromRef(cfg, ref)
	if err != nil {
		return nil, err
	}
	name := container.Name(appName, svc.Name)
	err = e.Containers.Logs(ctx, name, "all", func(chunk []byte) {
		e.handleLogChunk(ticketID, svc, chunk)
	})
	if errors.Is(err, container.ErrContainerMissing) {
		e.progress(ticketID, "Container not found by name.")
		return "Done.", nil
	}
	if err != nil && ctx.Err() == nil {
		return nil, err
	}
	return "Done.", nil
}

// handleRun execs a command inside a running service's container.
func (e *Engine) handleRun(ctx context.Context, ticketID int64, args []any, kwargs map[string]any) (any, error) {
	ref, err := stringArg(args, 0)
	if err != nil {
		return nil, err
	}
	appName, cfg, err := e.resolveAppAndRef(ctx, ref, args)
	if err != nil {
		return nil, err
	}
	svc, err := serviceFromRef(cfg, ref)
	if err != nil {
		return nil, err
	}
	cmd := stringSliceArg(args, 1)
	if len(cmd) == 0 {
		return nil, fmt.Errorf("%w: command is required", ErrInvalidArgument)
	}

	name := container.Name(appName, svc.Name)
	exitCode, err := e.Containers.Run(ctx, name, cmd, func(chunk []byte) {
		e.progress(ticketID, "%s", string(chunk))
	})
	if errors.Is(err, container.ErrContainerMissing) {
		e.progress(ticketID, "Container not found by name.")
		return "Done.", nil
	}
	if err != nil {
		return nil, err
	}
	return exitCode, nil
}

// resolveAppAndRef splits a "service.app" reference and loads that app's
// manifest.
func (e *Engine) resolveAppAndRef(ctx context.Context, ref string, args []any) (string, *manifest.Config, error) {
	_, appName, ok := splitQualified(ref)
	if !ok {
		appName, _ = stringArg(args, 1)
	}
	_, cfg, err := e.loadConfig(ctx, appName)
	return appName, cfg, err
}

func serviceFromRef(cfg *manifest.Config, ref string) (*manifest.Service, error) {
	svc, err := cfg.Service(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return svc, nil
}

func splitQualified(ref string) (name, app string, ok bool) {
	for i := 0; i < len(ref); i++ {
		if ref[i] == '.' {
			return ref[:i], ref[i+1:], true
		}
	}
	return ref, "", false
}
