package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain", errors.New("boom"), KindUnknown},
		{"bare sentinel", ErrPriceUnavailable, KindAvailability},
		{"rejection", Reject(ErrPositionLimit, "too big"), KindRiskRejection},
		{"wrapped rejection", fmt.Errorf("place: %w", Reject(ErrWashSale, "restricted")), KindComplianceRejection},
		{"persistence", fmt.Errorf("%w: sqlite commit: disk full", ErrPersistence), KindPersistence},
		{"resource", Reject(ErrInsufficientShares, "no"), KindResource},
		{"validation", Reject(ErrInvalidStop, "no"), KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRejection_ReasonAndUnwrap(t *testing.T) {
	err := Reject(ErrInsufficientFunds, "Insufficient funds: need %s, have %s", "1500.00", "100.00")
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Error("expected errors.Is to match sentinel")
	}
	if got := err.Error(); got != "Insufficient funds: need 1500.00, have 100.00" {
		t.Errorf("Error() = %q", got)
	}
	if got := Reason(fmt.Errorf("ctx: %w", err)); got != "Insufficient funds: need 1500.00, have 100.00" {
		t.Errorf("Reason() = %q", got)
	}
	if Reason(nil) != "" {
		t.Error("Reason(nil) should be empty")
	}
}
