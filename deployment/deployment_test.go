package deployment_test

import (
	"context"
	"errors"
	"testing"

	"github.com/modera/mfcloud/deployment"
	"github.com/modera/mfcloud/kv"
)

func TestController_CreateGetSetDefault(t *testing.T) {
	ctx := context.Background()
	c := deployment.New(kv.NewMemory())

	if err := c.Create(ctx, deployment.Deployment{Name: "local", Host: "127.0.0.1"}); err != nil {
		t.Fatalf("Create local: %v", err)
	}
	if err := c.Create(ctx, deployment.Deployment{Name: "prod", Host: "prod.example.com"}); err != nil {
		t.Fatalf("Create prod: %v", err)
	}
	if err := c.Create(ctx, deployment.Deployment{Name: "local"}); !errors.Is(err, deployment.ErrAlreadyExists) {
		t.Fatalf("duplicate create: got %v", err)
	}

	if err := c.SetDefault(ctx, "prod"); err != nil {
		t.Fatalf("SetDefault: %v", err)
	}
	def, err := c.GetDefault(ctx)
	if err != nil || def.Name != "prod" {
		t.Fatalf("GetDefault: %+v %v", def, err)
	}

	local, _ := c.Get(ctx, "local")
	if local.Default {
		t.Error("expected local.Default=false after prod became default")
	}
	if local.ResolvedHost() != "me" {
		t.Errorf("ResolvedHost: got %q, want me", local.ResolvedHost())
	}
	if def.ResolvedHost() != "prod.example.com" {
		t.Errorf("ResolvedHost: got %q", def.ResolvedHost())
	}
}

func TestController_PublishUnpublish(t *testing.T) {
	ctx := context.Background()
	c := deployment.New(kv.NewMemory())

	if err := c.PublishApp(ctx, "local", "demo.example.com", "demo", "web", 0, 7); err != nil {
		t.Fatalf("PublishApp: %v", err)
	}
	if err := c.UnpublishApp(ctx, "demo.example.com"); err != nil {
		t.Fatalf("UnpublishApp: %v", err)
	}
	// Idempotent.
	if err := c.UnpublishApp(ctx, "demo.example.com"); err != nil {
		t.Fatalf("UnpublishApp again: %v", err)
	}
}

func TestController_GetDefault_NoneSetIsNotFound(t *testing.T) {
	ctx := context.Background()
	c := deployment.New(kv.NewMemory())
	c.Create(ctx, deployment.Deployment{Name: "local", Host: "127.0.0.1"})

	if _, err := c.GetDefault(ctx); !errors.Is(err, deployment.ErrNotFound) {
		t.Fatalf("GetDefault with none set: got %v", err)
	}
}
