// Package app wires the asset-layer services together: the role registry,
// the item ledger, the sale state machine and the settlement module share
// one lock table, one reentrancy guard, and one event stream.
package app

import (
	"context"

	"github.com/R3E-Network/asset_layer/internal/app/events"
	"github.com/R3E-Network/asset_layer/internal/app/guard"
	"github.com/R3E-Network/asset_layer/internal/app/services/ledger"
	"github.com/R3E-Network/asset_layer/internal/app/services/market"
	"github.com/R3E-Network/asset_layer/internal/app/services/registry"
	"github.com/R3E-Network/asset_layer/internal/app/services/settlement"
	"github.com/R3E-Network/asset_layer/internal/app/storage"
	"github.com/R3E-Network/asset_layer/internal/app/storage/memory"
	"github.com/R3E-Network/asset_layer/internal/app/system"
	"github.com/R3E-Network/asset_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Collections storage.CollectionStore
	Roles       storage.RoleStore
	Items       storage.ItemStore
	Sales       storage.SaleStore
}

// Options tune the application wiring. The zero value is usable.
type Options struct {
	// Disburser overrides the settlement boundary. Nil wires the in-process
	// bank.
	Disburser settlement.Disburser

	// Budget overrides the batch-mint meter factory. Nil means unlimited.
	Budget ledger.MeterFunc

	// EventBufferSize sets the notification ring buffer size.
	EventBufferSize int
}

// Application ties the domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Registry   *registry.Service
	Ledger     *ledger.Service
	Market     *market.Service
	Settlement *settlement.Service
	Events     *events.RingBuffer
	Bank       *settlement.Bank
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Collections == nil {
		stores.Collections = mem
	}
	if stores.Roles == nil {
		stores.Roles = mem
	}
	if stores.Items == nil {
		stores.Items = mem
	}
	if stores.Sales == nil {
		stores.Sales = mem
	}

	buffer := events.NewRingBuffer(opts.EventBufferSize)
	locks := guard.NewLocks()
	reentry := guard.NewReentry()

	var bank *settlement.Bank
	disburser := opts.Disburser
	if disburser == nil {
		bank = settlement.NewBank()
		disburser = bank
	}

	registrySvc := registry.New(stores.Roles, buffer, log)
	settlementSvc := settlement.New(stores.Collections, registrySvc, disburser, buffer, log)
	ledgerSvc := ledger.New(stores.Collections, stores.Items, stores.Sales, registrySvc, locks, reentry, buffer, log)
	if opts.Budget != nil {
		ledgerSvc.SetBudget(opts.Budget)
	}
	marketSvc := market.New(stores.Collections, stores.Items, stores.Sales, registrySvc, settlementSvc, ledgerSvc, locks, reentry, buffer, log)
	ledgerSvc.SetTransferHook(marketSvc)

	return &Application{
		manager:    system.NewManager(),
		log:        log,
		Registry:   registrySvc,
		Ledger:     ledgerSvc,
		Market:     marketSvc,
		Settlement: settlementSvc,
		Events:     buffer,
		Bank:       bank,
	}, nil
}

// RegisterService adds a lifecycle-managed component.
func (a *Application) RegisterService(svc system.Service) error {
	return a.manager.Register(svc)
}

// Start starts registered lifecycle services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops registered lifecycle services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
