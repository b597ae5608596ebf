package cron

import (
	"context"

	"gopkg.in/yaml.v3"

	"github.com/engramd/engramd/internal/core"
)

func init() {
	core.RegisterModule(&Module{})
}

// Interface guards.
var (
	_ core.Module       = (*Module)(nil)
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Starter      = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// ModuleConfig holds maintenance.cron configuration.
type ModuleConfig struct {
	// Schedule is the 5-field cron expression for the maintenance sweep.
	Schedule string `yaml:"schedule"`
}

// Module is the maintenance.cron module. It owns the scheduler and wires
// the maintenance sweep against the engine and store services.
type Module struct {
	config ModuleConfig
	appCtx *core.AppContext
	sched  *Scheduler
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "maintenance.cron",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	return node.Decode(&m.config)
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.appCtx = ctx
	m.sched = NewScheduler(ctx.Logger)
	return nil
}

// Start implements core.Starter.
func (m *Module) Start() error {
	job := &MaintenanceJob{
		Resolve:      m.resolve,
		Logger:       m.appCtx.Logger,
		ScheduleExpr: m.config.Schedule,
	}
	if err := m.sched.RegisterJob(job); err != nil {
		return err
	}
	return m.sched.Start()
}

// Stop implements core.Stopper.
func (m *Module) Stop(ctx context.Context) error {
	if m.sched == nil {
		return nil
	}
	return m.sched.Stop(ctx)
}

// resolve looks up the engine and owner source. Both bind lazily because
// the engine module starts after this one.
func (m *Module) resolve() (Maintainer, OwnerSource, bool) {
	engSvc, ok := m.appCtx.Service("memory.engine")
	if !ok {
		return nil, nil, false
	}
	eng, ok := engSvc.(Maintainer)
	if !ok {
		return nil, nil, false
	}

	storeSvc, ok := m.appCtx.Service("memory.store")
	if !ok {
		return nil, nil, false
	}
	source, ok := storeSvc.(OwnerSource)
	if !ok {
		return nil, nil, false
	}

	return eng, source, true
}
