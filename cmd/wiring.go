// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/buildd-org/buildd/internal/artifacts"
	"github.com/buildd-org/buildd/internal/config"
	"github.com/buildd-org/buildd/internal/coredb"
	"github.com/buildd-org/buildd/internal/events"
	"github.com/buildd-org/buildd/internal/execlog"
	"github.com/buildd-org/buildd/internal/executor"
	"github.com/buildd-org/buildd/internal/gate"
	"github.com/buildd-org/buildd/internal/orchestrator"
	"github.com/buildd-org/buildd/internal/pathauth"
	"github.com/buildd-org/buildd/internal/paths"
	"github.com/buildd-org/buildd/internal/store"
)

// engine bundles the wired collaborators for one CLI invocation.
type engine struct {
	cfg   config.Config
	orch  *orchestrator.Orchestrator
	gate  *gate.Gate
	ks    *gate.KillSwitch
	db    *coredb.DB
	store store.ResourceStore
}

func (e *engine) Close() {
	if e.db != nil {
		_ = e.db.Close()
	}
}

// openStore selects the resource store backend from configuration.
func openStore(ctx context.Context, cfg config.Config) (store.ResourceStore, error) {
	switch cfg.StoreBackend {
	case "memory":
		return store.NewMemory(), nil
	case "dir":
		dir := cfg.StoreDir
		if dir == "" {
			dir = paths.StoreDir()
		}
		return store.NewDir(dir)
	case "object":
		return store.NewObject(ctx, store.ObjectConfig{
			Endpoint:  cfg.ObjectEndpoint,
			AccessKey: cfg.ObjectAccessKey,
			SecretKey: cfg.ObjectSecretKey,
			Region:    cfg.ObjectRegion,
			UseSSL:    cfg.ObjectUseSSL,
			Bucket:    cfg.ObjectBucket,
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// newKillSwitch builds the shared latch, persisted across invocations in the
// data directory.
func newKillSwitch(cfg config.Config) (*gate.KillSwitch, error) {
	return gate.NewPersistentKillSwitch(paths.DataPath("killswitch.json"), cfg.KillSwitchResetCode)
}

// newEngine wires the full execution engine: store, authorizer, gate, step
// executor, orchestrator, and the audit journal.
func newEngine(ctx context.Context, emitJSON bool) (*engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.DataDir != "" {
		paths.SetDataDirOverride(cfg.DataDir)
	}

	rs, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	auth := pathauth.New(prefixesOrNil(cfg.AllowedPrefixes), prefixesOrNil(cfg.DeniedSegments))
	ks, err := newKillSwitch(cfg)
	if err != nil {
		return nil, err
	}
	g := gate.New(cfg.TrustedRequester, auth, ks)
	exec := executor.New(rs, auth)
	log := execlog.New()

	db, err := coredb.Open(ctx, coredb.Options{})
	if err != nil {
		return nil, err
	}
	journal := coredb.NewJournal(db, 0)

	sink := events.NewCompositeSink(
		events.NewEmitter(os.Stderr, emitJSON),
		events.NewJournalSink(journal),
	)

	writer := artifacts.NewStoreWriter(rs, cfg.ArtifactPrefix, log, g)

	orch, err := orchestrator.New(orchestrator.Config{
		Executor:         exec,
		Gate:             g,
		Artifacts:        writer,
		Sink:             sink,
		Authorizer:       auth,
		TrustedRequester: cfg.TrustedRequester,
		Log:              log,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &engine{cfg: cfg, orch: orch, gate: g, ks: ks, db: db, store: rs}, nil
}

func prefixesOrNil(vals []string) []string {
	if len(vals) == 0 {
		return nil
	}
	return vals
}
