package engine

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/ringsim/internal/domain"
)

// computeFees applies the ring's fee model to every member. In the standard
// model each order pays either its flat fee-token amount or, when the fee
// token cannot cover it, a percentage of the bought amount. In the
// peer-to-peer model fees are in-kind percentages of the traded tokens and
// exist only when the order names a wallet. Tax is levied on every charged
// fee and accrues to the fee holder.
func (e *Engine) computeFees(ctx context.Context, members []*member, p2p bool) error {
	for _, m := range members {
		m.fee = new(big.Int)
		m.feeS = new(big.Int)
		m.feeB = new(big.Int)
		m.taxFee = new(big.Int)
		m.taxS = new(big.Int)
		m.taxB = new(big.Int)

		var err error
		if p2p {
			err = e.computeP2PFees(ctx, m)
		} else {
			err = e.computeStandardFees(ctx, m)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) computeStandardFees(ctx context.Context, m *member) error {
	o := m.o
	base := new(big.Int).SetUint64(uint64(e.run.FeePercentageBase))

	// The flat fee scales with the filled fraction of the order.
	fee := mulDiv(o.FeeAmount, m.fillS, o.AmountS)
	feeB := mulDiv(m.fillB, new(big.Int).SetUint64(uint64(o.FeePercentage)), base)

	switch {
	case o.WaiveFeePercentage > 0:
		kept := new(big.Int).Sub(base, big.NewInt(int64(o.WaiveFeePercentage)))
		fee = mulDiv(fee, kept, base)
		feeB = mulDiv(feeB, kept, base)
	case o.WaiveFeePercentage < 0:
		// A negative waiver means the miner absorbs this member's fees
		// entirely in exchange for the ring's margin.
		fee.SetInt64(0)
		feeB.SetInt64(0)
	}

	taxFee := e.tax.CalculateTax(o.FeeToken, false, true, fee)
	needed := new(big.Int).Add(fee, taxFee)

	spendable, err := e.orders.SpendableFee(ctx, o)
	if err != nil {
		return err
	}
	if spendable.Cmp(needed) >= 0 {
		// Fee token covers fee plus tax, so the percentage fallback on
		// the bought token does not apply.
		if needed.Sign() > 0 {
			if err := e.orders.ReserveAmountFee(ctx, o, needed); err != nil {
				return fmt.Errorf("engine: %w", err)
			}
		}
		m.fee = fee
		m.taxFee = taxFee
		return nil
	}

	m.feeB = feeB
	m.taxB = e.tax.CalculateTax(o.TokenB, false, true, feeB)
	return nil
}

func (e *Engine) computeP2PFees(ctx context.Context, m *member) error {
	o := m.o
	if o.WalletAddr == (common.Address{}) {
		return nil
	}
	base := new(big.Int).SetUint64(uint64(e.run.FeePercentageBase))

	feeS := new(big.Int)
	if o.TokenSFeePercentage > 0 {
		// The sell-side fee is grossed up on top of the fill so the
		// counterparty still receives the full fill amount.
		net := new(big.Int).Sub(base, new(big.Int).SetUint64(uint64(o.TokenSFeePercentage)))
		gross := mulDiv(m.fillS, base, net)
		feeS.Sub(gross, m.fillS)
	}
	feeB := mulDiv(m.fillB, new(big.Int).SetUint64(uint64(o.TokenBFeePercentage)), base)

	taxS := e.tax.CalculateTax(o.TokenS, true, true, feeS)
	taxB := e.tax.CalculateTax(o.TokenB, true, true, feeB)

	needed := new(big.Int).Add(feeS, taxS)
	if needed.Sign() > 0 {
		spendable, err := e.orders.SpendableS(ctx, o)
		if err != nil {
			return err
		}
		if spendable.Cmp(needed) < 0 {
			// Balance left after the fill reservation cannot carry the
			// grossed-up fee, so the sell side goes unpaid.
			feeS.SetInt64(0)
			taxS.SetInt64(0)
		} else if err := e.orders.ReserveAmountS(ctx, o, needed); err != nil {
			return fmt.Errorf("engine: %w", err)
		}
	}

	m.feeS = feeS
	m.feeB = feeB
	m.taxS = taxS
	m.taxB = taxB
	return nil
}

// generateTransfers emits the settlement legs edge by edge. On the edge from
// member i to its predecessor, i's sell amount decomposes exactly into the
// predecessor's net receipt, the predecessor's bought-token fee and tax, and
// the price-improvement margin kept by the fee recipient. Fee-token and
// in-kind sell fees are separate legs debited from their own order's owner.
func (e *Engine) generateTransfers(s *Settlement, members []*member, p2p bool, feeRecipient common.Address) {
	n := len(members)
	for i, m := range members {
		buyer := members[(i-1+n)%n]
		token := m.o.TokenS

		margin := new(big.Int).Sub(m.fillS, buyer.fillB)
		net := new(big.Int).Sub(buyer.fillB, buyer.feeB)
		net.Sub(net, buyer.taxB)

		s.addTransfer(token, m.o.Owner, buyer.o.Recipient(), net, false)
		e.splitFee(s, token, m.o.Owner, buyer.o, buyer.feeB, feeRecipient)
		s.addTransfer(token, m.o.Owner, e.run.FeeHolder, buyer.taxB, true)
		s.addTransfer(token, m.o.Owner, feeRecipient, margin, true)

		if p2p {
			e.splitFee(s, token, m.o.Owner, m.o, m.feeS, feeRecipient)
			s.addTransfer(token, m.o.Owner, e.run.FeeHolder, m.taxS, true)
		} else {
			e.splitFee(s, m.o.FeeToken, m.o.Owner, m.o, m.fee, feeRecipient)
			s.addTransfer(m.o.FeeToken, m.o.Owner, e.run.FeeHolder, m.taxFee, true)
		}
	}
}

// splitFee divides a fee between the order's wallet and the fee recipient by
// the order's wallet split percentage. Without a wallet the fee recipient
// takes all of it.
func (e *Engine) splitFee(s *Settlement, token, from common.Address, o *domain.Order, fee *big.Int, feeRecipient common.Address) {
	if fee.Sign() == 0 {
		return
	}
	if o.WalletAddr == (common.Address{}) {
		s.addTransfer(token, from, feeRecipient, fee, true)
		return
	}
	walletFee := mulDiv(fee, new(big.Int).SetUint64(uint64(o.WalletSplitPercentage)), big.NewInt(100))
	minerFee := new(big.Int).Sub(fee, walletFee)
	s.addTransfer(token, from, o.WalletAddr, walletFee, true)
	s.addTransfer(token, from, feeRecipient, minerFee, true)
}

// addTransfer appends a nonzero leg; fee-type legs also accrue to the
// settlement's fee balance sheet.
func (s *Settlement) addTransfer(token, from, to common.Address, amount *big.Int, isFee bool) {
	if amount == nil || amount.Sign() == 0 {
		return
	}
	s.Transfers = append(s.Transfers, domain.TransferItem{
		Token:  token,
		From:   from,
		To:     to,
		Amount: new(big.Int).Set(amount),
	})
	if isFee {
		s.FeeCredits.Add(token, to, amount)
	}
}
