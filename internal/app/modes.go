package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/ringsim/internal/crypto"
	"github.com/alanyoungcy/ringsim/internal/domain"
	"github.com/alanyoungcy/ringsim/internal/ledger"
	"github.com/alanyoungcy/ringsim/internal/mining"
	"github.com/alanyoungcy/ringsim/internal/server"
	"github.com/alanyoungcy/ringsim/internal/server/handler"
	"github.com/alanyoungcy/ringsim/internal/server/ws"
	"github.com/alanyoungcy/ringsim/internal/simulator"
	"github.com/alanyoungcy/ringsim/internal/validator"
)

// shutdownTimeout bounds how long serve mode waits for in-flight requests
// after the context is cancelled.
const shutdownTimeout = 10 * time.Second

// SimulateInput is the one-shot input file format: an optional inline ledger
// fixture, the candidate batch, and signing controls for test batches.
type SimulateInput struct {
	// BlockTimestamp overrides the configured reference time when non-zero.
	BlockTimestamp uint64 `json:"blockTimestamp,omitempty"`

	// State is an inline ledger fixture. When present it takes precedence
	// over the snapshot configured via simulation.state_path.
	State *ledger.Fixture `json:"state,omitempty"`

	Batch *domain.Batch `json:"batch"`

	// AutoSign fills in missing order, dual-auth and miner signatures using
	// the keys below plus the configured keystore. Test convenience only.
	AutoSign bool     `json:"autoSign,omitempty"`
	Keys     []string `json:"keys,omitempty"`
}

// SimulateMode runs a single batch from the input file and writes the
// settlement report as JSON to the output path, or stdout when none is given.
func (a *App) SimulateMode(ctx context.Context, deps *Dependencies) error {
	if a.opts.InputPath == "" {
		return fmt.Errorf("app: simulate mode requires an input file (-input)")
	}
	data, err := os.ReadFile(a.opts.InputPath)
	if err != nil {
		return fmt.Errorf("app: reading input: %w", err)
	}
	var input SimulateInput
	if err := json.Unmarshal(data, &input); err != nil {
		return fmt.Errorf("app: parsing input %s: %w", a.opts.InputPath, err)
	}
	if input.Batch == nil {
		return fmt.Errorf("app: input has no batch")
	}

	state := deps.State
	if input.State != nil {
		built, err := input.State.Build()
		if err != nil {
			return fmt.Errorf("app: building inline state: %w", err)
		}
		state = built
	}
	if state == nil {
		return fmt.Errorf("app: no ledger state: provide state in the input file or set simulation.state_path")
	}

	run := deps.BaseRun
	switch {
	case input.BlockTimestamp != 0:
		run.BlockTimestamp = input.BlockTimestamp
	case run.BlockTimestamp == 0:
		run.BlockTimestamp = uint64(time.Now().Unix())
	}

	if input.AutoSign {
		for i, keyHex := range input.Keys {
			if _, err := deps.Keystore.AddHexKey(keyHex); err != nil {
				return fmt.Errorf("app: input key %d: %w", i, err)
			}
		}
		if err := autoSign(state, &run, input.Batch, deps.Keystore); err != nil {
			return fmt.Errorf("app: auto-signing batch: %w", err)
		}
	}

	sim := simulator.New(state, deps.Tax, a.logger.With("component", "simulator"))
	report, err := sim.Simulate(ctx, input.Batch, &run)
	if err != nil {
		return fmt.Errorf("app: simulation: %w", err)
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("app: encoding report: %w", err)
	}
	out = append(out, '\n')
	if a.opts.OutputPath != "" {
		if err := os.WriteFile(a.opts.OutputPath, out, 0o644); err != nil {
			return fmt.Errorf("app: writing report: %w", err)
		}
	} else if _, err := os.Stdout.Write(out); err != nil {
		return fmt.Errorf("app: writing report: %w", err)
	}

	a.logger.Info("simulation finished",
		"run_id", report.RunID,
		"rings_mined", len(report.RingMinedEvents),
		"transfers", len(report.Transfers),
	)
	return nil
}

// autoSign derives the order and mining digests the same way a run does and
// fills in every missing signature whose signer key is held. Signatures
// already present are left untouched so corrupt-signature inputs stay
// testable.
func autoSign(state domain.StateReader, run *domain.RunContext, batch *domain.Batch, ks *crypto.Keystore) error {
	for _, o := range batch.Orders {
		o.Reset()
	}
	for _, r := range batch.Rings {
		r.Reset()
	}

	v := validator.New(state, run)
	for _, o := range batch.Orders {
		v.Normalize(o)
		v.ComputeHash(o)
	}
	for _, r := range batch.Rings {
		r.ComputeHash(batch.Orders)
	}
	auth := mining.New(state, batch.FeeRecipient, batch.Miner, batch.MinerSig)
	auth.UpdateHash(batch.Rings)

	signer := crypto.NewAuthority(ks)
	for i, o := range batch.Orders {
		if len(o.Sig) == 0 && o.SignScheme != domain.SignSchemeNone {
			sig, err := signer.Sign(o.SignScheme, o.Hash, o.Owner)
			if err != nil {
				return fmt.Errorf("order %d: %w", i, err)
			}
			o.Sig = sig
		}
		if o.DualAuthAddr != (common.Address{}) && len(o.DualAuthSig) == 0 {
			sig, err := signer.Sign(domain.SignSchemeEthereum, auth.Hash, o.DualAuthAddr)
			if err != nil {
				return fmt.Errorf("order %d dual auth: %w", i, err)
			}
			o.DualAuthSig = sig
		}
	}

	miner := batch.Miner
	if miner == (common.Address{}) {
		miner = batch.FeeRecipient
	}
	if len(batch.MinerSig) == 0 && batch.TransactionOrigin != miner {
		sig, err := signer.Sign(domain.SignSchemeEthereum, auth.Hash, miner)
		if err != nil {
			return fmt.Errorf("miner: %w", err)
		}
		batch.MinerSig = sig
	}
	return nil
}

// ServeMode runs the HTTP and WebSocket API until the context is cancelled.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	if deps.State == nil {
		return fmt.Errorf("app: serve mode requires a ledger snapshot (simulation.state_path)")
	}

	hub := ws.NewHub(a.logger.With("component", "ws"))
	hubDone := make(chan error, 1)
	go func() { hubDone <- hub.Run(ctx) }()

	sim := simulator.New(deps.State, deps.Tax, a.logger.With("component", "simulator"))

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.logger),
		Simulate: handler.NewSimulateHandler(
			a.logger, sim, deps.BaseRun, deps.ReportStore, deps.Archiver, hub,
		),
		Reports: handler.NewReportHandler(a.logger, deps.ReportStore, deps.BlobReader),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
	}, handlers, hub, a.logger.With("component", "server"))

	serveDone := make(chan error, 1)
	go func() { serveDone <- srv.Start() }()

	select {
	case err := <-serveDone:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-serveDone
	<-hubDone
	return nil
}
