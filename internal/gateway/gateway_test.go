package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
)

func TestToMinorUnits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		amount  string
		want    int64
		wantErr bool
	}{
		{amount: "1200.00", want: 120000},
		{amount: "499", want: 49900},
		{amount: "0.01", want: 1},
		{amount: "10.5", want: 1050},
		{amount: "10.555", wantErr: true},
		{amount: "0", wantErr: true},
		{amount: "-5.00", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.amount, func(t *testing.T) {
			t.Parallel()

			got, err := ToMinorUnits(decimal.RequireFromString(tt.amount))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %s", tt.amount)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("ToMinorUnits(%s) = %d, want %d", tt.amount, got, tt.want)
			}
		})
	}
}

func TestSessionRequestValidate(t *testing.T) {
	t.Parallel()

	base := SessionRequest{
		OrderRef:    "ORD_1",
		AmountMinor: 100,
		RedirectURL: "https://shop.example/checkout/return",
		NotifyURL:   "https://shop.example/webhooks/payment",
	}

	tests := []struct {
		name    string
		mutate  func(*SessionRequest)
		wantErr bool
	}{
		{name: "valid", mutate: func(*SessionRequest) {}},
		{name: "missing ref", mutate: func(r *SessionRequest) { r.OrderRef = " " }, wantErr: true},
		{name: "zero amount", mutate: func(r *SessionRequest) { r.AmountMinor = 0 }, wantErr: true},
		{name: "relative redirect", mutate: func(r *SessionRequest) { r.RedirectURL = "/return" }, wantErr: true},
		{name: "missing notify", mutate: func(r *SessionRequest) { r.NotifyURL = "" }, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := base
			tt.mutate(&req)
			err := req.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsTimeout(t *testing.T) {
	t.Parallel()

	if !IsTimeout(&Error{Code: "TIMEOUT", Err: ErrTimeout}) {
		t.Fatal("expected wrapped ErrTimeout to be a timeout")
	}
	if !IsTimeout(fmt.Errorf("query: %w", context.DeadlineExceeded)) {
		t.Fatal("expected deadline exceeded to be a timeout")
	}
	if IsTimeout(errors.New("boom")) {
		t.Fatal("plain error should not be a timeout")
	}
	if IsTimeout(nil) {
		t.Fatal("nil should not be a timeout")
	}
}
