package task

import (
	"context"
	"fmt"

	"github.com/modera/mfcloud/manifest"
	"github.com/modera/mfcloud/store"
)

// loadConfig fetches the application record and resolves its manifest,
// returning ErrConfigParse (not propagating store.Load's error-shaped
// detail) when the manifest itself failed to parse.
func (e *Engine) loadConfig(ctx context.Context, appName string) (store.Application, *manifest.Config, error) {
	app, err := e.Apps.Get(ctx, appName)
	if err != nil {
		return store.Application{}, nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	detail, err := store.Load(ctx, app, false, e.Containers, e.DNSSearchSuffix)
	if err != nil {
		return app, nil, err
	}
	if detail.Status == "error" {
		return app, nil, fmt.Errorf("%w: %s", ErrConfigParse, detail.Message)
	}
	return app, detail.Config, nil
}

// selectServices resolves the optional second task argument (a list of
// unqualified service names) against cfg, defaulting to every service in
// the manifest.
func selectServices(cfg *manifest.Config, args []any) ([]*manifest.Service, error) {
	names := stringSliceArg(args, 1)
	all := cfg.Services()
	if len(names) == 0 {
		out := make([]*manifest.Service, 0, len(all))
		for _, svc := range all {
			out = append(out, svc)
		}
		return out, nil
	}
	out := make([]*manifest.Service, 0, len(names))
	for _, name := range names {
		svc, ok := all[name]
		if !ok {
			return nil, fmt.Errorf("%w: service %q", ErrNotFound, name)
		}
		out = append(out, svc)
	}
	return out, nil
}
