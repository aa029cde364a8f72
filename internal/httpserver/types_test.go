package httpserver

import (
	"errors"
	"testing"

	"github.com/campuscoin/ledger/pkg/coin"
)

func TestParseCoinAmount(test *testing.T) {
	test.Parallel()
	cases := []struct {
		name      string
		input     string
		wantCents int64
		wantErr   error
	}{
		{name: "whole coins", input: "300.00", wantCents: 30000},
		{name: "no decimals", input: "12", wantCents: 1200},
		{name: "single decimal", input: "0.5", wantCents: 50},
		{name: "trimmed", input: " 1.25 ", wantCents: 125},
		{name: "sub-cent precision", input: "1.005", wantErr: coin.ErrInvalidAmountCents},
		{name: "not a number", input: "lots", wantErr: coin.ErrInvalidAmountCents},
		{name: "zero", input: "0", wantErr: coin.ErrInvalidAmountCents},
		{name: "negative", input: "-3.00", wantErr: coin.ErrInvalidAmountCents},
	}
	for _, tc := range cases {
		tc := tc
		test.Run(tc.name, func(test *testing.T) {
			test.Parallel()
			amount, err := parseCoinAmount(tc.input)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					test.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				test.Fatalf("unexpected error: %v", err)
			}
			if amount.Int64() != tc.wantCents {
				test.Fatalf("expected %d cents, got %d", tc.wantCents, amount.Int64())
			}
		})
	}
}

func TestFormatCoinAmount(test *testing.T) {
	test.Parallel()
	if got := formatCoinAmount(30000); got != "300.00" {
		test.Fatalf("expected 300.00, got %q", got)
	}
	if got := formatCoinAmount(5); got != "0.05" {
		test.Fatalf("expected 0.05, got %q", got)
	}
}
