package task

import (
	"context"
	"fmt"
)

// handlePublish binds a domain to one service of an application, then
// returns the refreshed application list.
func (e *Engine) handlePublish(ctx context.Context, ticketID int64, args []any, kwargs map[string]any) (any, error) {
	appName, err := stringArg(args, 0)
	if err != nil {
		return nil, err
	}
	domain, err := stringArg(args, 1)
	if err != nil {
		return nil, err
	}
	serviceName, err := stringArg(args, 2)
	if err != nil {
		return nil, err
	}
	customPort := intKwarg(kwargs, "custom_port", 0)

	app, _, err := e.loadConfig(ctx, appName)
	if err != nil {
		return nil, err
	}

	if err := e.Deployments.PublishApp(ctx, app.Deployment, domain, appName, serviceName, customPort, ticketID); err != nil {
		return nil, err
	}
	e.progress(ticketID, "Published %s as %s", fmt.Sprintf("%s.%s", serviceName, appName), domain)
	return e.listApps(ctx)
}

// handleUnpublish removes a domain binding, then returns the refreshed
// application list.
func (e *Engine) handleUnpublish(ctx context.Context, ticketID int64, args []any, kwargs map[string]any) (any, error) {
	domain, err := stringArg(args, 0)
	if err != nil {
		return nil, err
	}
	if err := e.Deployments.UnpublishApp(ctx, domain); err != nil {
		return nil, err
	}
	e.progress(ticketID, "Unpublished %s", domain)
	return e.listApps(ctx)
}
