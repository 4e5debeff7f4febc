// Package transfer implements domain.PayoutTransferrer, the hand-off of a
// claimed payout to whatever moves value out of market custody.
package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/poolbet/internal/crypto"
	"github.com/alanyoungcy/poolbet/internal/domain"
)

// DefaultVoucherStream is the Redis stream the custody executor consumes.
const DefaultVoucherStream = "ledger:payout_vouchers"

// SignedVoucher is the message appended to the voucher stream.
type SignedVoucher struct {
	crypto.Voucher
	Signer    string    `json:"signer"`
	Signature string    `json:"signature"`
	IssuedAt  time.Time `json:"issued_at"`
}

// VoucherSigner is satisfied by *crypto.Signer.
type VoucherSigner interface {
	Sign(v crypto.Voucher) (string, error)
}

// StreamAppender is the part of domain.SignalBus the transferrer needs.
type StreamAppender interface {
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// VoucherTransferrer signs each payout as an operator voucher and appends it
// to a durable stream. Re-sending a payout yields a voucher with the same
// PayoutID, which the executor redeems at most once.
type VoucherTransferrer struct {
	signer     VoucherSigner
	signerAddr string
	bus        StreamAppender
	stream     string
	now        func() time.Time
	logger     *slog.Logger
}

// NewVoucherTransferrer creates a VoucherTransferrer. signerAddr is recorded
// in each voucher so consumers can check the recovered address.
func NewVoucherTransferrer(signer VoucherSigner, signerAddr string, bus StreamAppender, stream string, logger *slog.Logger) *VoucherTransferrer {
	if stream == "" {
		stream = DefaultVoucherStream
	}
	return &VoucherTransferrer{
		signer:     signer,
		signerAddr: signerAddr,
		bus:        bus,
		stream:     stream,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger.With(slog.String("component", "voucher_transferrer")),
	}
}

// Transfer implements domain.PayoutTransferrer.
func (t *VoucherTransferrer) Transfer(ctx context.Context, p domain.Payout) error {
	v := crypto.Voucher{
		PayoutID: p.ID,
		MarketID: p.MarketID,
		Bettor:   string(p.Bettor),
		Amount:   p.Amount,
	}
	sig, err := t.signer.Sign(v)
	if err != nil {
		return fmt.Errorf("transfer: %w: %w", domain.ErrSigning, err)
	}
	payload, err := json.Marshal(SignedVoucher{
		Voucher:   v,
		Signer:    t.signerAddr,
		Signature: sig,
		IssuedAt:  t.now(),
	})
	if err != nil {
		return fmt.Errorf("transfer: marshal voucher %s: %w", p.ID, err)
	}
	if err := t.bus.StreamAppend(ctx, t.stream, payload); err != nil {
		return fmt.Errorf("transfer: publish voucher %s: %w", p.ID, err)
	}

	t.logger.InfoContext(ctx, "payout voucher issued",
		slog.String("payout_id", p.ID),
		slog.Uint64("market_id", p.MarketID),
		slog.String("bettor", string(p.Bettor)),
		slog.Uint64("amount", p.Amount),
	)
	return nil
}

// LogTransferrer only records the payout. It is meant for development and
// for deployments where custody is reconciled from the payouts table.
type LogTransferrer struct {
	logger *slog.Logger
}

// NewLogTransferrer creates a LogTransferrer.
func NewLogTransferrer(logger *slog.Logger) *LogTransferrer {
	return &LogTransferrer{logger: logger.With(slog.String("component", "log_transferrer"))}
}

// Transfer implements domain.PayoutTransferrer.
func (t *LogTransferrer) Transfer(ctx context.Context, p domain.Payout) error {
	t.logger.InfoContext(ctx, "payout released",
		slog.String("payout_id", p.ID),
		slog.Uint64("market_id", p.MarketID),
		slog.String("bettor", string(p.Bettor)),
		slog.Uint64("amount", p.Amount),
		slog.String("amount_display", domain.FormatAmount(p.Amount)),
	)
	return nil
}

var (
	_ domain.PayoutTransferrer = (*VoucherTransferrer)(nil)
	_ domain.PayoutTransferrer = (*LogTransferrer)(nil)
)
