package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/poolbet/internal/crypto"
	"github.com/alanyoungcy/poolbet/internal/domain"
)

const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

type captureBus struct {
	stream   string
	payloads [][]byte
	err      error
}

func (b *captureBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	if b.err != nil {
		return b.err
	}
	b.stream = stream
	b.payloads = append(b.payloads, payload)
	return nil
}

func TestVoucherTransferrer(t *testing.T) {
	signer, err := crypto.NewSigner(testKey, 1)
	if err != nil {
		t.Fatal(err)
	}
	bus := &captureBus{}
	tr := NewVoucherTransferrer(signer, signer.Address().Hex(), bus, "", slog.New(slog.DiscardHandler))
	issued := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return issued }

	p := domain.Payout{ID: "pay-1", MarketID: 3, Bettor: "bob", Amount: 1_666_666}
	if err := tr.Transfer(context.Background(), p); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if bus.stream != DefaultVoucherStream || len(bus.payloads) != 1 {
		t.Fatalf("stream = %q payloads = %d", bus.stream, len(bus.payloads))
	}

	var sv SignedVoucher
	if err := json.Unmarshal(bus.payloads[0], &sv); err != nil {
		t.Fatal(err)
	}
	if sv.PayoutID != "pay-1" || sv.Amount != 1_666_666 || !sv.IssuedAt.Equal(issued) {
		t.Fatalf("voucher = %+v", sv)
	}
	addr, err := signer.RecoverSigner(sv.Voucher, sv.Signature)
	if err != nil {
		t.Fatal(err)
	}
	if addr.Hex() != sv.Signer {
		t.Fatalf("recovered %s, signer %s", addr.Hex(), sv.Signer)
	}
}

type failingSigner struct{}

func (failingSigner) Sign(crypto.Voucher) (string, error) { return "", errors.New("hsm offline") }

func TestVoucherTransferrerErrors(t *testing.T) {
	p := domain.Payout{ID: "pay-2", MarketID: 1, Bettor: "carol", Amount: 5}

	tr := NewVoucherTransferrer(failingSigner{}, "", &captureBus{}, "", slog.New(slog.DiscardHandler))
	if err := tr.Transfer(context.Background(), p); !errors.Is(err, domain.ErrSigning) {
		t.Fatalf("signing failure err = %v", err)
	}

	signer, err := crypto.NewSigner(testKey, 1)
	if err != nil {
		t.Fatal(err)
	}
	down := errors.New("redis down")
	tr = NewVoucherTransferrer(signer, "", &captureBus{err: down}, "vouchers", slog.New(slog.DiscardHandler))
	if err := tr.Transfer(context.Background(), p); !errors.Is(err, down) {
		t.Fatalf("bus failure err = %v", err)
	}
}

func TestLogTransferrer(t *testing.T) {
	tr := NewLogTransferrer(slog.New(slog.DiscardHandler))
	if err := tr.Transfer(context.Background(), domain.Payout{ID: "x", Amount: 1}); err != nil {
		t.Fatal(err)
	}
}
