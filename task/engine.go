// Package task implements the Task Engine (C7): the name -> handler table
// and every task_* operation spec.md §4.7 names, wired against the event
// bus, the application store, the container engine, and the deployment
// controller.
package task

import (
	"errors"
	"fmt"

	"github.com/modera/mfcloud/bus"
	"github.com/modera/mfcloud/container"
	"github.com/modera/mfcloud/deployment"
	"github.com/modera/mfcloud/kv"
	"github.com/modera/mfcloud/store"
	"github.com/modera/mfcloud/ticket"
)

// Error taxonomy (spec.md §7), translated to Go sentinels matched with
// errors.Is/errors.As rather than a string-keyed error table.
var (
	ErrNotFound        = errors.New("task: not found")
	ErrAlreadyExists   = errors.New("task: already exists")
	ErrConfigParse     = errors.New("task: config parse error")
	ErrVolumeNotFound  = errors.New("task: volume not found")
	ErrInvalidArgument = errors.New("task: invalid argument")
)

// Engine holds every collaborator a task handler needs.
type Engine struct {
	Bus             *bus.Bus
	Apps            *store.Store
	Containers      *container.Engine
	Deployments     *deployment.Controller
	Vars            kv.Store
	HomeDir         string
	Btrfs           bool
	DNSSearchSuffix string
}

// NewEngine wires the task engine's collaborators together. dnsSearchSuffix
// feeds every store.Load call this engine makes, so list/config/status
// responses carry real fullnames instead of bare app/service names.
func NewEngine(b *bus.Bus, apps *store.Store, containers *container.Engine, deployments *deployment.Controller, vars kv.Store, homeDir string, btrfs bool, dnsSearchSuffix string) *Engine {
	return &Engine{
		Bus:             b,
		Apps:            apps,
		Containers:      containers,
		Deployments:     deployments,
		Vars:            vars,
		HomeDir:         homeDir,
		Btrfs:           btrfs,
		DNSSearchSuffix: dnsSearchSuffix,
	}
}

// Register installs every task_* handler into reg under its task name.
func (e *Engine) Register(reg *ticket.Registry) {
	reg.Register("start", e.handleStart)
	reg.Register("stop", e.handleStop)
	reg.Register("destroy", e.handleDestroy)
	reg.Register("rebuild", e.handleRebuild)
	reg.Register("restart", e.handleRestart)
	reg.Register("logs", e.handleLogs)
	reg.Register("run", e.handleRun)
	reg.Register("sync", e.handleSync)
	reg.Register("sync_stop", e.handleSyncStop)
	reg.Register("backup", e.handleBackup)
	reg.Register("restore", e.handleRestore)
	reg.Register("publish", e.handlePublish)
	reg.Register("unpublish", e.handleUnpublish)
	reg.Register("list", e.handleList)
	reg.Register("list_volumes", e.handleListVolumes)
	reg.Register("list_vars", e.handleListVars)
	reg.Register("set_var", e.handleSetVar)
	reg.Register("rm_var", e.handleRmVar)
	reg.Register("config", e.handleConfig)
	reg.Register("status", e.handleStatus)
	reg.Register("inspect", e.handleInspect)
	reg.Register("deployments", e.handleDeployments)
	reg.Register("deployment_info", e.handleDeploymentInfo)
	reg.Register("app_deployment_info", e.handleAppDeploymentInfo)
	reg.Register("deployment_create", e.handleDeploymentCreate)
	reg.Register("deployment_update", e.handleDeploymentUpdate)
	reg.Register("deployment_remove", e.handleDeploymentRemove)
	reg.Register("deployment_set_default", e.handleDeploymentSetDefault)
	reg.Register("machine", e.handleMachine)
	reg.Register("init", e.handleInit)
}

func progressChannel(ticketID int64) string { return fmt.Sprintf("task.progress.%d", ticketID) }

func (e *Engine) progress(ticketID int64, format string, a ...any) {
	e.Bus.Fire(progressChannel(ticketID), fmt.Sprintf(format, a...))
}

const containersUpdatedChannel = "containers-updated"
