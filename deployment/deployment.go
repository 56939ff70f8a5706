// Package deployment is the reverse-proxy publish/unpublish collaborator:
// deployment records (where an application's containers actually run) and
// the domain-to-service bindings that make a service reachable from
// outside.
package deployment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modera/mfcloud/kv"
	"github.com/modera/mfcloud/procrun"
)

var (
	// ErrNotFound is returned for an unknown deployment or publish binding.
	ErrNotFound = errors.New("deployment: not found")
	// ErrAlreadyExists is returned by Create when the name is taken.
	ErrAlreadyExists = errors.New("deployment: already exists")
)

// Deployment describes where an application's containers run. "local"
// is the well-known name for the daemon's own Docker host; its Host
// resolves to "me" in sync/backup task output.
type Deployment struct {
	Name    string `json:"name"`
	Host    string `json:"host"`
	Default bool   `json:"default"`
}

// ResolvedHost returns the host address tasks should report, applying the
// "local" -> "me" convention.
func (d Deployment) ResolvedHost() string {
	if d.Name == "local" {
		return "me"
	}
	return d.Host
}

// Binding is a published domain -> app/service route.
type Binding struct {
	Domain      string `json:"domain"`
	App         string `json:"app"`
	Service     string `json:"service"`
	CustomPort  int    `json:"custom_port,omitempty"`
	Deployment  string `json:"deployment"`
	PublishedBy int64  `json:"ticket_id"`
}

const bindingsKey = "mfcloud-publish"

// Controller is the deployment collaborator: deployment CRUD plus
// publish/unpublish and docker-machine reconfiguration.
type Controller struct {
	kv kv.Store
}

// New wraps a kv.Store as a deployment Controller.
func New(store kv.Store) *Controller {
	return &Controller{kv: store}
}

func (c *Controller) List(ctx context.Context) ([]Deployment, error) {
	all, err := c.kv.HGetAll(ctx, kv.DeploymentsKey)
	if err != nil {
		return nil, fmt.Errorf("deployment: list: %w", err)
	}
	out := make([]Deployment, 0, len(all))
	for _, raw := range all {
		var d Deployment
		if err := json.Unmarshal([]byte(raw), &d); err == nil {
			out = append(out, d)
		}
	}
	return out, nil
}

func (c *Controller) Get(ctx context.Context, name string) (Deployment, error) {
	raw, ok, err := c.kv.HGet(ctx, kv.DeploymentsKey, name)
	if err != nil {
		return Deployment{}, fmt.Errorf("deployment: get %s: %w", name, err)
	}
	if !ok {
		return Deployment{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	var d Deployment
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return Deployment{}, fmt.Errorf("deployment: get %s: corrupt record: %w", name, err)
	}
	return d, nil
}

func (c *Controller) GetDefault(ctx context.Context) (Deployment, error) {
	all, err := c.List(ctx)
	if err != nil {
		return Deployment{}, err
	}
	for _, d := range all {
		if d.Default {
			return d, nil
		}
	}
	return Deployment{}, fmt.Errorf("%w: no default deployment set", ErrNotFound)
}

func (c *Controller) Create(ctx context.Context, d Deployment) error {
	if _, ok, err := c.kv.HGet(ctx, kv.DeploymentsKey, d.Name); err != nil {
		return fmt.Errorf("deployment: create %s: %w", d.Name, err)
	} else if ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, d.Name)
	}
	return c.save(ctx, d)
}

func (c *Controller) Update(ctx context.Context, d Deployment) error {
	if _, err := c.Get(ctx, d.Name); err != nil {
		return err
	}
	return c.save(ctx, d)
}

func (c *Controller) Remove(ctx context.Context, name string) error {
	return c.kv.HDel(ctx, kv.DeploymentsKey, name)
}

// SetDefault clears Default on every other deployment and sets it on name.
func (c *Controller) SetDefault(ctx context.Context, name string) error {
	all, err := c.List(ctx)
	if err != nil {
		return err
	}
	found := false
	for _, d := range all {
		want := d.Name == name
		found = found || want
		if d.Default != want {
			d.Default = want
			if err := c.save(ctx, d); err != nil {
				return err
			}
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

func (c *Controller) save(ctx context.Context, d Deployment) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("deployment: save %s: %w", d.Name, err)
	}
	return c.kv.HSet(ctx, kv.DeploymentsKey, d.Name, string(raw))
}

// PublishApp records a domain -> app/service binding.
func (c *Controller) PublishApp(ctx context.Context, deploymentName, domain, app, service string, customPort int, ticketID int64) error {
	b := Binding{Domain: domain, App: app, Service: service, CustomPort: customPort, Deployment: deploymentName, PublishedBy: ticketID}
	raw, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("deployment: publish %s: %w", domain, err)
	}
	return c.kv.HSet(ctx, bindingsKey, domain, string(raw))
}

// UnpublishApp removes a domain binding. Idempotent.
func (c *Controller) UnpublishApp(ctx context.Context, domain string) error {
	return c.kv.HDel(ctx, bindingsKey, domain)
}

// ConfigureDockerMachine runs "docker-machine <args>" with vars as its
// environment (the stored docker-machine credentials/host vars), used by
// task_machine to point the daemon at a remote Docker host.
func (c *Controller) ConfigureDockerMachine(ctx context.Context, args []string, vars map[string]string, onChunk func([]byte)) (procrun.Result, error) {
	argv := append([]string{"docker-machine"}, args...)
	return procrun.Run(ctx, argv, vars, onChunk)
}
