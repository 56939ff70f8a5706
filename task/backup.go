package task

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/modera/mfcloud/container"
	"github.com/modera/mfcloud/manifest"
	"github.com/modera/mfcloud/procrun"
	"github.com/modera/mfcloud/store"
)

// resolveVolumePath finds the host path to back up: a named service's
// named volume (service_name given, and volume must name one of that
// service's declared volumes with a host source), or the application's
// own path when service_name is empty. Mirrors task_backup(ticket_id,
// app_name, service_name, volume, destination)'s validation.
func resolveVolumePath(cfg *manifest.Config, app store.Application, serviceName, volume string) (string, *manifest.Service, error) {
	if serviceName == "" {
		if app.Path == "" {
			return "", nil, fmt.Errorf("%w: application has no path", ErrInvalidArgument)
		}
		return app.Path, nil, nil
	}

	if volume == "" {
		return "", nil, fmt.Errorf("%w: volume is required when service_name is set", ErrVolumeNotFound)
	}
	svc, err := cfg.Service(serviceName)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	mount, ok := svc.Volume(volume)
	if !ok || mount.Source == "" {
		return "", nil, fmt.Errorf("%w: %q", ErrVolumeNotFound, volume)
	}
	return mount.Source, svc, nil
}

// handleBackup uploads a volume or application path to destination. On a
// btrfs host it takes a read-only snapshot first (so the upload sees a
// consistent tree while the service keeps running); otherwise it pauses
// the service's container (if any) for the duration of the upload.
func (e *Engine) handleBackup(ctx context.Context, ticketID int64, args []any, kwargs map[string]any) (any, error) {
	appName, err := stringArg(args, 0)
	if err != nil {
		return nil, err
	}
	serviceName := optionalStringArg(args, 1, "")
	volume := optionalStringArg(args, 2, "")
	destination, err := stringArg(args, 3)
	if err != nil {
		return nil, err
	}

	app, cfg, err := e.loadConfig(ctx, appName)
	if err != nil {
		return nil, err
	}
	volumePath, svc, err := resolveVolumePath(cfg, app, serviceName, volume)
	if err != nil {
		return nil, err
	}

	if e.Btrfs {
		if err := e.backupViaSnapshot(ctx, ticketID, volumePath, destination); err != nil {
			return nil, err
		}
	} else {
		if err := e.backupViaPause(ctx, ticketID, appName, svc, volumePath, destination); err != nil {
			return nil, err
		}
	}

	return map[string]any{"status": "ok", "path": volumePath}, nil
}

func (e *Engine) backupViaSnapshot(ctx context.Context, ticketID int64, volumePath, destination string) error {
	snapshotDir := filepath.Join(e.HomeDir, "snapshots_"+uuid.NewString())

	e.progress(ticketID, "Snapshotting %s", volumePath)
	if _, err := procrun.Run(ctx, []string{"btrfs", "subvolume", "snapshot", "-r", volumePath, snapshotDir}, nil, e.forwardProgress(ticketID)); err != nil {
		return err
	}
	defer func() {
		_, _ = procrun.Run(ctx, []string{"btrfs", "subvolume", "delete", snapshotDir}, nil, e.forwardProgress(ticketID))
	}()

	return e.uploadToS3(ctx, ticketID, snapshotDir, destination)
}

func (e *Engine) backupViaPause(ctx context.Context, ticketID int64, appName string, svc *manifest.Service, volumePath, destination string) error {
	if svc != nil {
		name := container.Name(appName, svc.Name)
		e.progress(ticketID, "Pausing %s", svc.Qualified())
		if err := e.Containers.Pause(ctx, name); err != nil {
			return err
		}
		defer func() {
			e.progress(ticketID, "Unpausing %s", svc.Qualified())
			_ = e.Containers.Unpause(ctx, name)
		}()
	}
	return e.uploadToS3(ctx, ticketID, volumePath, destination)
}

func (e *Engine) uploadToS3(ctx context.Context, ticketID int64, source, destination string) error {
	e.progress(ticketID, "Uploading %s to %s", source, destination)
	_, err := procrun.Run(ctx, []string{"aws", "s3", "sync", source, destination}, nil, e.forwardProgress(ticketID))
	return err
}

// handleRestore downloads destination directly into a volume or
// application path. Unlike backup there's no snapshot/pause dance — the
// original implementation restores straight into a stopped service.
func (e *Engine) handleRestore(ctx context.Context, ticketID int64, args []any, kwargs map[string]any) (any, error) {
	appName, err := stringArg(args, 0)
	if err != nil {
		return nil, err
	}
	serviceName := optionalStringArg(args, 1, "")
	volume := optionalStringArg(args, 2, "")
	destination, err := stringArg(args, 3)
	if err != nil {
		return nil, err
	}

	app, cfg, err := e.loadConfig(ctx, appName)
	if err != nil {
		return nil, err
	}
	volumePath, _, err := resolveVolumePath(cfg, app, serviceName, volume)
	if err != nil {
		return nil, err
	}

	e.progress(ticketID, "Restoring %s to %s", destination, volumePath)
	if _, err := procrun.Run(ctx, []string{"aws", "s3", "sync", destination, volumePath}, nil, e.forwardProgress(ticketID)); err != nil {
		return nil, err
	}
	return map[string]any{"status": "ok", "path": volumePath}, nil
}

func (e *Engine) forwardProgress(ticketID int64) func([]byte) {
	return func(chunk []byte) {
		e.progress(ticketID, "%s", string(chunk))
	}
}
