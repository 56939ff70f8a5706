package task

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/modera/mfcloud/container"
	"github.com/modera/mfcloud/manifest"
)

const (
	rsyncImage      = "modera/rsync"
	rsyncPort       = "873"
	usernameCharset = "abcdefghijklmnopqrstuvwxyz0123456789"
	passwordCharset = "abcdefghijklmnopqrstuvwxyz0123456789!#$%&()*+,-./:;<=>?@[]^_`{|}~"
	tokenLength     = 32
)

func randomToken(n int, charset string) string {
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			// crypto/rand failing means the host is broken; fall back to
			// a fixed, clearly-marked value rather than panicking mid-task.
			out[i] = charset[0]
			continue
		}
		out[i] = charset[idx.Int64()]
	}
	return string(out)
}

func syncContainerName(appName string, ticketID int64) string {
	return fmt.Sprintf("%s__rsync_%d", appName, ticketID)
}

// handleSync spins up a transient rsync container exposing either one
// service's named volume (via volumes_from) or the whole application
// path, credentialed with a freshly generated username/password.
//
// Positional args mirror task_sync(ticket_id, app_name, service_name,
// volume): when service_name is set, volume is mandatory and must name
// one of that service's declared volumes.
func (e *Engine) handleSync(ctx context.Context, ticketID int64, args []any, kwargs map[string]any) (any, error) {
	appName, err := stringArg(args, 0)
	if err != nil {
		return nil, err
	}
	serviceName := optionalStringArg(args, 1, "")
	volume := optionalStringArg(args, 2, "")

	app, cfg, err := e.loadConfig(ctx, appName)
	if err != nil {
		return nil, err
	}

	username := randomToken(tokenLength, usernameCharset)
	password := randomToken(tokenLength, passwordCharset)
	env := map[string]string{"USERNAME": username, "PASSWORD": password, "ALLOW": "*"}

	var binds []string
	var volumesFrom []string
	var volumeName string

	if serviceName != "" {
		if volume == "" {
			return nil, fmt.Errorf("%w: volume is required when service_name is set", ErrVolumeNotFound)
		}
		svc, err := cfg.Service(serviceName)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		if _, ok := svc.Volume(volume); !ok {
			return nil, fmt.Errorf("%w: %q", ErrVolumeNotFound, volume)
		}
		volumesFrom = []string{container.Name(appName, svc.Name)}
		volumeName = volume
	} else {
		if app.Path == "" {
			return nil, fmt.Errorf("%w: application has no path to sync", ErrInvalidArgument)
		}
		binds = []string{app.Path + ":/volume"}
		volumeName = "/volume"
	}

	name := syncContainerName(appName, ticketID)
	e.progress(ticketID, "Starting sync container %s", name)
	if err := e.Containers.CreateRaw(ctx, name, container.RawSpec{
		Image:       rsyncImage,
		Env:         env,
		Ports:       []manifest.PortMapping{{ContainerPort: rsyncPort}},
		Binds:       binds,
		VolumesFrom: volumesFrom,
	}); err != nil {
		return nil, err
	}
	if err := e.Containers.Start(ctx, name); err != nil {
		return nil, err
	}

	state, err := e.Containers.Inspect(ctx, name)
	if err != nil {
		return nil, err
	}
	port, _ := state.PublicPort(rsyncPort, "tcp")

	deploy, err := e.Deployments.Get(ctx, app.Deployment)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	return map[string]any{
		"env":       env,
		"container": name,
		"host":      deploy.ResolvedHost(),
		"port":      port,
		"volume":    volumeName,
		"ticket_id": ticketID,
	}, nil
}

// handleSyncStop tears down the transient rsync container for a prior
// sync ticket.
func (e *Engine) handleSyncStop(ctx context.Context, ticketID int64, args []any, kwargs map[string]any) (any, error) {
	appName, err := stringArg(args, 0)
	if err != nil {
		return nil, err
	}
	syncTicket, err := stringArg(args, 1)
	if err != nil {
		return nil, err
	}
	name := fmt.Sprintf("%s__rsync_%s", appName, syncTicket)

	if err := e.Containers.Stop(ctx, name); err != nil && !errors.Is(err, container.ErrContainerMissing) {
		return nil, err
	}
	if err := e.Containers.Destroy(ctx, name); err != nil && !errors.Is(err, container.ErrContainerMissing) {
		return nil, err
	}
	return "Done.", nil
}
