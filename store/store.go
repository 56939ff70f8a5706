// Package store implements the Application Store (C5): CRUD over
// persisted Application records, plus the concurrent per-service
// inspection that turns a record into a live detail view.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/modera/mfcloud/container"
	"github.com/modera/mfcloud/kv"
	"github.com/modera/mfcloud/manifest"
)

var (
	// ErrNotFound is returned when an application name has no record.
	ErrNotFound = errors.New("store: application not found")
	// ErrAlreadyExists is returned by Create when the name is taken.
	ErrAlreadyExists = errors.New("store: application already exists")
	// ErrInvalidArgument flags a malformed Application record.
	ErrInvalidArgument = errors.New("store: invalid application")
)

// Application is a persisted record: a manifest location (path XOR
// inline source), its env overlay, and which deployment it belongs to.
type Application struct {
	Name       string            `json:"name"`
	Path       string            `json:"path,omitempty"`
	Source     string            `json:"source,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	Deployment string            `json:"deployment"`
}

// validate enforces path XOR source and a non-empty deployment.
func (a Application) validate() error {
	if a.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidArgument)
	}
	if (a.Path == "") == (a.Source == "") {
		return fmt.Errorf("%w: exactly one of path or source is required", ErrInvalidArgument)
	}
	if a.Deployment == "" {
		return fmt.Errorf("%w: deployment is required", ErrInvalidArgument)
	}
	return nil
}

// Store is the persisted Application Store, backed by the mfcloud-apps
// hash.
type Store struct {
	kv kv.Store
}

// New wraps a kv.Store as an application Store.
func New(store kv.Store) *Store {
	return &Store{kv: store}
}

// Create persists a new application record. Returns ErrAlreadyExists if
// the name is taken.
func (s *Store) Create(ctx context.Context, app Application) error {
	if err := app.validate(); err != nil {
		return err
	}
	if _, ok, err := s.kv.HGet(ctx, kv.AppsKey, app.Name); err != nil {
		return fmt.Errorf("store: create %s: %w", app.Name, err)
	} else if ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, app.Name)
	}
	return s.save(ctx, app)
}

// Get loads one application record.
func (s *Store) Get(ctx context.Context, name string) (Application, error) {
	raw, ok, err := s.kv.HGet(ctx, kv.AppsKey, name)
	if err != nil {
		return Application{}, fmt.Errorf("store: get %s: %w", name, err)
	}
	if !ok {
		return Application{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	var app Application
	if err := json.Unmarshal([]byte(raw), &app); err != nil {
		return Application{}, fmt.Errorf("store: get %s: corrupt record: %w", name, err)
	}
	return app, nil
}

// Update overwrites an existing application record. Returns ErrNotFound
// if it doesn't already exist.
func (s *Store) Update(ctx context.Context, app Application) error {
	if err := app.validate(); err != nil {
		return err
	}
	if _, err := s.Get(ctx, app.Name); err != nil {
		return err
	}
	return s.save(ctx, app)
}

// Remove deletes an application record. Idempotent.
func (s *Store) Remove(ctx context.Context, name string) error {
	return s.kv.HDel(ctx, kv.AppsKey, name)
}

// List returns every persisted application record.
func (s *Store) List(ctx context.Context) ([]Application, error) {
	all, err := s.kv.HGetAll(ctx, kv.AppsKey)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	out := make([]Application, 0, len(all))
	for _, raw := range all {
		var app Application
		if err := json.Unmarshal([]byte(raw), &app); err != nil {
			continue
		}
		out = append(out, app)
	}
	return out, nil
}

func (s *Store) save(ctx context.Context, app Application) error {
	raw, err := json.Marshal(app)
	if err != nil {
		return fmt.Errorf("store: save %s: %w", app.Name, err)
	}
	if err := s.kv.HSet(ctx, kv.AppsKey, app.Name, string(raw)); err != nil {
		return fmt.Errorf("store: save %s: %w", app.Name, err)
	}
	return nil
}

// ServiceDetail is one service's enriched listing view.
type ServiceDetail struct {
	Name      string
	Fullname  string
	IP        string
	Ports     []container.PortBinding
	Volumes   []manifest.VolumeMount
	StartedAt time.Time
	IsWeb     bool
	Running   bool
	Created   bool
}

// Detail is Application.load's enriched view: either a parsed manifest
// (+ live service state, if requested) or an error-shaped record when the
// manifest failed to load — never a propagated error, matching the
// original's ValueError-to-dict behavior.
type Detail struct {
	Name       string
	Fullname   string
	Config     *manifest.Config
	Services   []ServiceDetail
	Running    bool
	Status     string // "RUNNING", "STOPPED", or "error"
	Message    string
	WebIP      string
	WebService string
}

const manifestFilename = "mfcloud.yml"

// fullname appends dnsSearchSuffix to name the way the original's
// _details() does ("%s.%s" % (name, dns_search_suffix)), or returns name
// unchanged when no suffix is configured.
func fullname(name, dnsSearchSuffix string) string {
	if dnsSearchSuffix == "" {
		return name
	}
	return name + "." + dnsSearchSuffix
}

// Load resolves app's manifest and, if needDetails is true, inspects
// every service concurrently through engine. dnsSearchSuffix feeds each
// returned fullname; pass "" to leave names unqualified. A manifest that
// fails to parse yields an error-shaped Detail with a nil error, matching
// Application.load's contract.
func Load(ctx context.Context, app Application, needDetails bool, engine *container.Engine, dnsSearchSuffix string) (Detail, error) {
	data, err := resolveManifestSource(app)
	if err != nil {
		return Detail{Name: app.Name, Status: "error", Message: err.Error()}, nil
	}

	cfg, err := manifest.Parse(data, app.Name)
	if err != nil {
		return Detail{Name: app.Name, Status: "error", Message: err.Error()}, nil
	}

	detail := Detail{Name: app.Name, Fullname: fullname(app.Name, dnsSearchSuffix), Config: cfg}
	if !needDetails {
		return detail, nil
	}

	services := cfg.Services()
	type result struct {
		detail ServiceDetail
	}
	results := make([]result, 0, len(services))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, svc := range services {
		svc := svc
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := container.Name(app.Name, svc.Name)
			state, _ := engine.Inspect(ctx, name)
			sd := ServiceDetail{
				Name:      svc.Name,
				Fullname:  fullname(svc.Name, dnsSearchSuffix),
				IP:        state.IP,
				Ports:     state.Ports,
				Volumes:   svc.Volumes,
				StartedAt: state.StartedAt,
				IsWeb:     svc.Web,
				Running:   state.Running,
				Created:   state.Created,
			}
			mu.Lock()
			results = append(results, result{detail: sd})
			mu.Unlock()
		}()
	}
	wg.Wait()

	allRunning := len(results) > 0
	for _, r := range results {
		detail.Services = append(detail.Services, r.detail)
		if !r.detail.Running {
			allRunning = false
		}
		if r.detail.IsWeb {
			detail.WebIP = r.detail.IP
			detail.WebService = r.detail.Name
		}
	}
	detail.Running = allRunning
	if allRunning {
		detail.Status = "RUNNING"
	} else {
		detail.Status = "STOPPED"
	}
	return detail, nil
}

func resolveManifestSource(app Application) ([]byte, error) {
	switch {
	case app.Path != "":
		data, err := os.ReadFile(filepath.Join(app.Path, manifestFilename))
		if err != nil {
			return nil, fmt.Errorf("Can not load config.")
		}
		return data, nil
	case app.Source != "":
		return []byte(app.Source), nil
	default:
		return nil, fmt.Errorf("Can not load config.")
	}
}
