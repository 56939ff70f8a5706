package task

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/modera/mfcloud/bus"
	"github.com/modera/mfcloud/container"
	"github.com/modera/mfcloud/internal/mlog"
	"github.com/modera/mfcloud/manifest"
)

const (
	waitLowerBound = 0.2
	waitUpperBound = 3600
)

// clampWait enforces spec.md §4.7's wait bound: below 0.2s is raised to
// 0.2s, above 3600s is lowered to 3600s (logged), and 0 after clamping
// means unlimited (never 0 unless Wait.Seconds was already exactly 0,
// which can't happen since 0 < 0.2 always clamps up).
func clampWait(seconds float64, ticketID int64) time.Duration {
	clamped := seconds
	if clamped < waitLowerBound {
		clamped = waitLowerBound
	}
	if clamped > waitUpperBound {
		mlog.WithTicket(mlog.Logger, ticketID).Warn().
			Float64("requested", seconds).Float64("clamped", waitUpperBound).
			Msg("wait exceeds upper bound, clamping")
		clamped = waitUpperBound
	}
	return time.Duration(clamped * float64(time.Second))
}

var readyLinePattern = regexp.MustCompile(`@mcloud ready in (\S+) (\S+)`)

func apiReadyChannel(qualified string) string { return fmt.Sprintf("api.%s.ready", qualified) }
func apiWildcard(qualified string) string     { return fmt.Sprintf("api.%s.*", qualified) }

// handleLogChunk is the log-follower's per-chunk policy: drop the 8-byte
// multiplexed-stream header Docker prepends to every frame, detect the
// "@mcloud ready in <n> <unit>" readiness line and translate it into a
// bus event, and forward everything else as ticket progress.
func (e *Engine) handleLogChunk(ticketID int64, svc *manifest.Service, chunk []byte) {
	if len(chunk) == 8 && chunk[7] != '\n' {
		return
	}
	text := string(chunk)
	if m := readyLinePattern.FindStringSubmatch(text); m != nil {
		e.Bus.Fire(apiReadyChannel(svc.Qualified()), []string{m[1], m[2]})
		return
	}
	e.progress(ticketID, "%s", strings.TrimRight(text, "\n"))
}

func (e *Engine) followLog(ctx context.Context, ticketID int64, containerName string, svc *manifest.Service) {
	err := e.Containers.Logs(ctx, containerName, "0", func(chunk []byte) {
		e.handleLogChunk(ticketID, svc, chunk)
	})
	if err != nil && ctx.Err() == nil && !errors.Is(err, container.ErrContainerMissing) {
		mlog.WithTicket(mlog.Logger, ticketID).Warn().Err(err).Str("container", containerName).Msg("log follower stopped")
	}
}

// handleStart is the flagship task: start args[0] (app name), optionally
// restricted to the service names in args[1].
func (e *Engine) handleStart(ctx context.Context, ticketID int64, args []any, kwargs map[string]any) (any, error) {
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

	for _, svc := range services {
		if err := e.startOne(ctx, ticketID, appName, svc); err != nil {
			return nil, err
		}
	}

	e.Bus.Fire(containersUpdatedChannel, appName)
	return "Done.", nil
}

func (e *Engine) startOne(ctx context.Context, ticketID int64, appName string, svc *manifest.Service) error {
	name := container.Name(appName, svc.Name)

	state, err := e.Containers.Inspect(ctx, name)
	if err != nil {
		return err
	}
	if !state.Created {
		e.progress(ticketID, "Creating %s", svc.Qualified())
		if err := e.Containers.Create(ctx, name, svc, nil); err != nil {
			return err
		}
	}

	state, err = e.Containers.Inspect(ctx, name)
	if err != nil {
		return err
	}
	if state.Running {
		e.progress(ticketID, "%s already running", svc.Qualified())
		return nil
	}

	e.progress(ticketID, "Starting %s", svc.Qualified())
	if err := e.Containers.Start(ctx, name); err != nil {
		return err
	}

	if !svc.Wait.Enabled {
		time.Sleep(200 * time.Millisecond)
		return nil
	}

	return e.waitForReady(ctx, ticketID, appName, name, svc)
}

func (e *Engine) waitForReady(ctx context.Context, ticketID int64, appName, containerName string, svc *manifest.Service) error {
	timeout := clampWait(svc.Wait.Seconds, ticketID)

	followCtx, cancelFollow := context.WithCancel(ctx)
	cancelOnFailure := e.Bus.Once(fmt.Sprintf("task.failure.%d", ticketID), func(string, any) { cancelFollow() })
	defer cancelOnFailure()
	defer cancelFollow()
	go e.followLog(followCtx, ticketID, containerName, svc)

	data, err := e.Bus.WaitFor(ctx, apiWildcard(svc.Qualified()), timeout)
	if err != nil {
		if errors.Is(err, bus.ErrTimeout) {
			return e.handleReadyTimeout(ctx, ticketID, containerName, svc)
		}
		return err
	}

	sleepAfterReady(data)
	return e.recheckRunning(ctx, ticketID, containerName, svc)
}

func (e *Engine) handleReadyTimeout(ctx context.Context, ticketID int64, containerName string, svc *manifest.Service) error {
	state, err := e.Containers.Inspect(ctx, containerName)
	if err != nil {
		return err
	}
	if state.Running {
		e.progress(ticketID, "Container still up. Continue execution.")
		return nil
	}
	mlog.WithTicket(mlog.Logger, ticketID).Error().Str("service", svc.Qualified()).Msg("service did not become ready in time")
	return fmt.Errorf("service %s failed to become ready within %v", svc.Qualified(), svc.Wait.Seconds)
}

func (e *Engine) recheckRunning(ctx context.Context, ticketID int64, containerName string, svc *manifest.Service) error {
	state, err := e.Containers.Inspect(ctx, containerName)
	if err != nil {
		return err
	}
	if state.Running {
		return nil
	}
	mlog.WithTicket(mlog.Logger, ticketID).Error().Str("service", svc.Qualified()).Msg("service exited right after reporting ready")
	return fmt.Errorf("service %s is not running after reporting ready", svc.Qualified())
}

// sleepAfterReady interprets the ready event's payload: ("in", "<n>s")
// sleeps n seconds, anything else sleeps a flat 500ms.
func sleepAfterReady(data any) {
	if pair, ok := data.([]string); ok && len(pair) == 2 && pair[0] == "in" {
		if secs, ok := parseSecondsSuffix(pair[1]); ok {
			time.Sleep(time.Duration(secs * float64(time.Second)))
			return
		}
	}
	time.Sleep(500 * time.Millisecond)
}

func parseSecondsSuffix(s string) (float64, bool) {
	if !strings.HasSuffix(s, "s") {
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.TrimSuffix(s, "s"), 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
