package store_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/modera/mfcloud/container"
	"github.com/modera/mfcloud/kv"
	"github.com/modera/mfcloud/store"
)

func TestStore_CreateGetUpdateRemove(t *testing.T) {
	ctx := context.Background()
	s := store.New(kv.NewMemory())

	app := store.Application{Name: "demo", Path: "/srv/demo", Deployment: "local"}
	if err := s.Create(ctx, app); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(ctx, app); !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("Create duplicate: got %v, want ErrAlreadyExists", err)
	}

	got, err := s.Get(ctx, "demo")
	if err != nil || got.Path != "/srv/demo" {
		t.Fatalf("Get: %+v %v", got, err)
	}

	app.Env = map[string]string{"FOO": "bar"}
	if err := s.Update(ctx, app); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ = s.Get(ctx, "demo")
	if got.Env["FOO"] != "bar" {
		t.Errorf("Update did not persist env: %+v", got)
	}

	if err := s.Remove(ctx, "demo"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := s.Get(ctx, "demo"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get after Remove: got %v, want ErrNotFound", err)
	}
}

func TestStore_Create_RejectsMissingDeploymentAndBothPathAndSource(t *testing.T) {
	ctx := context.Background()
	s := store.New(kv.NewMemory())

	if err := s.Create(ctx, store.Application{Name: "a", Path: "/x"}); !errors.Is(err, store.ErrInvalidArgument) {
		t.Errorf("missing deployment: got %v", err)
	}
	if err := s.Create(ctx, store.Application{Name: "a", Path: "/x", Source: "y", Deployment: "local"}); !errors.Is(err, store.ErrInvalidArgument) {
		t.Errorf("both path and source: got %v", err)
	}
	if err := s.Create(ctx, store.Application{Name: "a", Deployment: "local"}); !errors.Is(err, store.ErrInvalidArgument) {
		t.Errorf("neither path nor source: got %v", err)
	}
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	s := store.New(kv.NewMemory())
	s.Create(ctx, store.Application{Name: "a", Source: "services: {}\n", Deployment: "local"})
	s.Create(ctx, store.Application{Name: "b", Source: "services: {}\n", Deployment: "local"})

	apps, err := s.List(ctx)
	if err != nil || len(apps) != 2 {
		t.Fatalf("List: %+v %v", apps, err)
	}
}

func TestLoad_FullnameUsesDNSSearchSuffix(t *testing.T) {
	ctx := context.Background()
	app := store.Application{
		Name:       "demo",
		Deployment: "local",
		Source:     "services:\n  web:\n    image: nginx\n",
	}

	detail, err := store.Load(ctx, app, false, nil, "apps.example.com")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if detail.Fullname != "demo.apps.example.com" {
		t.Fatalf("Fullname: got %q", detail.Fullname)
	}
}

func TestLoad_FullnameEmptySuffixLeavesNameUnqualified(t *testing.T) {
	ctx := context.Background()
	app := store.Application{
		Name:       "demo",
		Deployment: "local",
		Source:     "services:\n  web:\n    image: nginx\n",
	}

	detail, err := store.Load(ctx, app, false, nil, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if detail.Fullname != "demo" {
		t.Fatalf("Fullname: got %q", detail.Fullname)
	}
}

func TestLoad_InlineSourceNoDetails(t *testing.T) {
	ctx := context.Background()
	app := store.Application{
		Name:       "demo",
		Deployment: "local",
		Source: `
services:
  web:
    image: nginx
`,
	}
	engine, err := container.NewEngine("")
	if err != nil {
		t.Skipf("no docker client available: %v", err)
	}

	detail, err := store.Load(ctx, app, false, engine, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if detail.Status == "error" {
		t.Fatalf("unexpected error status: %s", detail.Message)
	}
	if detail.Config == nil || len(detail.Config.Services()) != 1 {
		t.Fatalf("Config: %+v", detail.Config)
	}
}

func TestLoad_MissingPathYieldsErrorDetailNotError(t *testing.T) {
	ctx := context.Background()
	app := store.Application{Name: "demo", Path: filepath.Join(t.TempDir(), "does-not-exist"), Deployment: "local"}
	engine, err := container.NewEngine("")
	if err != nil {
		t.Skipf("no docker client available: %v", err)
	}

	detail, err := store.Load(ctx, app, false, engine, "")
	if err != nil {
		t.Fatalf("Load should not return an error, got %v", err)
	}
	if detail.Status != "error" {
		t.Fatalf("Status: got %q, want error", detail.Status)
	}
}

func TestLoad_ReadsManifestFromPath(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "mfcloud.yml"), []byte("services:\n  web:\n    image: nginx\n"), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	app := store.Application{Name: "demo", Path: dir, Deployment: "local"}
	engine, err := container.NewEngine("")
	if err != nil {
		t.Skipf("no docker client available: %v", err)
	}

	detail, err := store.Load(ctx, app, false, engine, "")
	if err != nil || detail.Status == "error" {
		t.Fatalf("Load: %+v %v", detail, err)
	}
}
