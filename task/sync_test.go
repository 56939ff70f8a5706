package task

import (
	"context"
	"errors"
	"testing"

	"github.com/modera/mfcloud/deployment"
	"github.com/modera/mfcloud/store"
)

const sampleVolumeManifest = `
services:
  db:
    image: modera/db
    volumes:
      - data:/var/lib/data
`

func newTestEngineWithVolumes(t *testing.T, appName string) *Engine {
	t.Helper()
	e := newTestEngineWithDeployments(t)
	ctx := context.Background()
	if err := e.Deployments.Create(ctx, deployment.Deployment{Name: "local", Host: "me"}); err != nil {
		t.Fatalf("create deployment: %v", err)
	}
	if err := e.Apps.Create(ctx, store.Application{Name: appName, Source: sampleVolumeManifest, Deployment: "local"}); err != nil {
		t.Fatalf("create app: %v", err)
	}
	return e
}

func TestHandleSync_RequiresVolumeWhenServiceNameSet(t *testing.T) {
	e := newTestEngineWithVolumes(t, "myapp")
	_, err := e.handleSync(context.Background(), 1, []any{"myapp", "db"}, nil)
	if !errors.Is(err, ErrVolumeNotFound) {
		t.Fatalf("expected ErrVolumeNotFound, got %v", err)
	}
}

func TestHandleSync_RejectsUnknownVolume(t *testing.T) {
	e := newTestEngineWithVolumes(t, "myapp")
	_, err := e.handleSync(context.Background(), 1, []any{"myapp", "db", "ghost"}, nil)
	if !errors.Is(err, ErrVolumeNotFound) {
		t.Fatalf("expected ErrVolumeNotFound, got %v", err)
	}
}

func TestHandleSync_RejectsUnknownService(t *testing.T) {
	e := newTestEngineWithVolumes(t, "myapp")
	_, err := e.handleSync(context.Background(), 1, []any{"myapp", "ghost", "data"}, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHandleSync_RequiresPathWhenNoServiceName(t *testing.T) {
	e := newTestEngineWithVolumes(t, "myapp")
	if err := e.Apps.Update(context.Background(), store.Application{Name: "myapp", Source: sampleVolumeManifest, Deployment: "local", Path: ""}); err != nil {
		t.Fatalf("update app: %v", err)
	}
	_, err := e.handleSync(context.Background(), 1, []any{"myapp"}, nil)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}
