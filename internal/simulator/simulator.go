// Package simulator orchestrates one settlement run end to end: order
// validation, mining authorization, ring-by-ring settlement, and the final
// conservation check over the produced transfers.
package simulator

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/ringsim/internal/domain"
	"github.com/alanyoungcy/ringsim/internal/engine"
	"github.com/alanyoungcy/ringsim/internal/mining"
	"github.com/alanyoungcy/ringsim/internal/validator"
)

// conservationEpsilon absorbs the rounding slack of integer fee division. A
// touched balance may end at most this many base units below zero before the
// run is declared unsound.
var conservationEpsilon = big.NewInt(1000)

// Simulator runs candidate batches against a ledger snapshot. It holds no
// per-run state; every Simulate call builds its own validator and engine.
type Simulator struct {
	state domain.StateReader
	tax   domain.TaxOracle
	log   *slog.Logger
}

// New returns a simulator reading from state and taxing via tax.
func New(state domain.StateReader, tax domain.TaxOracle, log *slog.Logger) *Simulator {
	return &Simulator{state: state, tax: tax, log: log}
}

// Simulate validates the batch, settles its rings in order, and reports the
// transfers on-chain execution would produce. Per-order and per-ring failures
// degrade the result; a returned error means the whole batch is rejected.
func (s *Simulator) Simulate(ctx context.Context, batch *domain.Batch, run *domain.RunContext) (*domain.SettlementReport, error) {
	if len(batch.Orders) == 0 || len(batch.Rings) == 0 {
		return nil, fmt.Errorf("simulator: batch has no work: %w", domain.ErrEmptyBatch)
	}

	for _, o := range batch.Orders {
		o.Reset()
	}
	for _, r := range batch.Rings {
		r.Reset()
	}

	v := validator.New(s.state, run)
	for _, o := range batch.Orders {
		v.Normalize(o)
	}

	// Per-order validation is independent across orders, so it fans out.
	// Everything ring- or batch-scoped waits for the group.
	g, gctx := errgroup.WithContext(ctx)
	for _, o := range batch.Orders {
		g.Go(func() error {
			v.ValidateStatic(o)
			v.ComputeHash(o)
			v.CheckP2P(o)
			if err := v.ResolveBroker(gctx, o); err != nil {
				return err
			}
			if err := v.LoadFilledAmount(gctx, o); err != nil {
				return err
			}
			return v.CheckSignature(gctx, o)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := v.CheckCutoffs(ctx, batch.Orders); err != nil {
		return nil, err
	}

	for _, r := range batch.Rings {
		r.ComputeHash(batch.Orders)
	}

	auth := mining.New(s.state, batch.FeeRecipient, batch.Miner, batch.MinerSig)
	auth.UpdateHash(batch.Rings)
	if err := auth.ResolveMinerAndInterceptor(ctx); err != nil {
		return nil, err
	}
	if err := auth.CheckMinerSignature(batch.TransactionOrigin); err != nil {
		return nil, err
	}
	for _, o := range batch.Orders {
		v.CheckDualAuthSignature(o, auth.Hash)
	}

	report := &domain.SettlementReport{
		RunID:         uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		FilledAmounts: make(map[common.Hash]*big.Int),
		FeeBalances:   make(domain.BalanceSheet),
	}

	eng := engine.New(run, s.state, s.tax, v)
	minedIndex := 0
	for i, r := range batch.Rings {
		settlement, err := eng.SettleRing(ctx, r, batch.Orders, batch.FeeRecipient)
		if err != nil {
			return nil, err
		}
		if !settlement.Mined {
			s.log.Warn("ring skipped", "ring", i, "reason", settlement.Reason)
			continue
		}
		s.log.Info("ring mined", "ring", i, "hash", r.Hash.Hex(), "transfers", len(settlement.Transfers))
		report.RingMinedEvents = append(report.RingMinedEvents, domain.RingMinedEvent{
			RingIndex: minedIndex,
			RingHash:  r.Hash,
		})
		minedIndex++
		report.Transfers = append(report.Transfers, settlement.Transfers...)
		for token, holders := range settlement.FeeCredits {
			for holder, amount := range holders {
				report.FeeBalances.Add(token, holder, amount)
			}
		}
	}

	for _, o := range batch.Orders {
		total := new(big.Int).Set(o.FilledAmountS)
		total.Add(total, o.FillAmountS)
		report.FilledAmounts[o.Hash] = total
	}

	if err := s.snapshotBalances(ctx, batch, report, run); err != nil {
		return nil, err
	}
	if err := checkConservation(report); err != nil {
		return nil, err
	}
	return report, nil
}

// snapshotBalances reads the pre-run spendable amount, min(balance,
// allowance), of every (token, holder) pair the run touched and derives the
// post-run sheet by replaying the transfers. Snapshotting the raw balance
// would be too weak: a debit past the allowance must drive the cell negative
// so the conservation check catches it.
func (s *Simulator) snapshotBalances(ctx context.Context, batch *domain.Batch, report *domain.SettlementReport, run *domain.RunContext) error {
	type cell struct{ token, holder common.Address }
	touched := make(map[cell]bool)
	add := func(token, holder common.Address) { touched[cell{token, holder}] = true }

	for _, o := range batch.Orders {
		add(o.TokenS, o.Owner)
		add(o.TokenB, o.Recipient())
		add(o.FeeToken, o.Owner)
	}
	for _, t := range report.Transfers {
		add(t.Token, t.From)
		add(t.Token, t.To)
	}

	report.BalancesBefore = make(domain.BalanceSheet)
	for c := range touched {
		balance, err := s.state.GetBalance(ctx, c.token, c.holder)
		if err != nil {
			return fmt.Errorf("simulator: balance of %s for %s: %w", c.holder.Hex(), c.token.Hex(), err)
		}
		allowance, err := s.state.GetAllowance(ctx, c.token, c.holder, run.Spender)
		if err != nil {
			return fmt.Errorf("simulator: allowance of %s for %s: %w", c.holder.Hex(), c.token.Hex(), err)
		}
		if allowance.Cmp(balance) < 0 {
			balance = allowance
		}
		report.BalancesBefore.Add(c.token, c.holder, balance)
	}

	report.BalancesAfter = make(domain.BalanceSheet)
	for c := range touched {
		report.BalancesAfter.Add(c.token, c.holder, report.BalancesBefore.Get(c.token, c.holder))
	}
	for _, t := range report.Transfers {
		report.BalancesAfter.Add(t.Token, t.From, new(big.Int).Neg(t.Amount))
		report.BalancesAfter.Add(t.Token, t.To, t.Amount)
	}
	return nil
}

// checkConservation rejects the run if any touched balance was driven below
// the rounding epsilon. Settlement reserves every debit against a spendable
// beforehand, so a violation here means the fill or fee arithmetic leaked
// value.
func checkConservation(report *domain.SettlementReport) error {
	floor := new(big.Int).Neg(conservationEpsilon)
	for token, holders := range report.BalancesAfter {
		for holder, balance := range holders {
			if balance.Cmp(floor) < 0 {
				return fmt.Errorf("simulator: balance of %s for token %s settled to %s: %w",
					holder.Hex(), token.Hex(), balance.String(), domain.ErrConservation)
			}
		}
	}
	return nil
}
