package service

import (
	"errors"
	"testing"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

func TestComputePayout(t *testing.T) {
	tests := []struct {
		name        string
		stake       uint64
		winningPool uint64
		totalPool   uint64
		feeBps      uint64
		wantPayout  uint64
		wantFee     uint64
	}{
		{"two option example", 1_000_000, 3_000_000, 5_000_000, 0, 1_666_666, 0},
		{"losing stake", 0, 3_000_000, 5_000_000, 0, 0, 0},
		{"no losing pool", 2_000_000, 2_000_000, 2_000_000, 0, 2_000_000, 0},
		{"fee on winnings", 1_000_000, 1_000_000, 3_000_000, 250, 2_950_000, 50_000},
		{"fee truncation", 1_000_000, 3_000_000, 5_000_000, 100, 1_660_000, 6_666},
		{"max pool", domain.MaxAmount / 2, domain.MaxAmount / 2, domain.MaxAmount, 0, domain.MaxAmount, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			payout, fee, err := ComputePayout(tc.stake, tc.winningPool, tc.totalPool, tc.feeBps)
			if err != nil {
				t.Fatalf("ComputePayout: %v", err)
			}
			if payout != tc.wantPayout || fee != tc.wantFee {
				t.Fatalf("got (%d, %d), want (%d, %d)", payout, fee, tc.wantPayout, tc.wantFee)
			}
		})
	}
}

func TestComputePayoutRejectsInconsistentPools(t *testing.T) {
	if _, _, err := ComputePayout(2, 1, 5, 0); !errors.Is(err, domain.ErrCorrupt) {
		t.Fatalf("stake above pool err = %v", err)
	}
	if _, _, err := ComputePayout(1, 5, 4, 0); !errors.Is(err, domain.ErrCorrupt) {
		t.Fatalf("winning pool above total err = %v", err)
	}
	if _, _, err := ComputePayout(1, 5, 10, 10_000); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("full fee err = %v", err)
	}
}

func TestComputePayoutNeverExceedsPool(t *testing.T) {
	stakes := []uint64{1_000_003, 2_000_011, 3_333_337, 7}
	var winning uint64
	for _, s := range stakes {
		winning += s
	}
	total := winning + 9_999_991

	var paid uint64
	for _, s := range stakes {
		p, _, err := ComputePayout(s, winning, total, 30)
		if err != nil {
			t.Fatal(err)
		}
		paid += p
	}
	if paid > total {
		t.Fatalf("paid %d > pool %d", paid, total)
	}
}
