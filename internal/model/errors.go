package model

import (
	"errors"
	"fmt"
)

// Kind groups errors by how a caller should react to them.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindResource
	KindAvailability
	KindRiskRejection
	KindComplianceRejection
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindResource:
		return "resource"
	case KindAvailability:
		return "availability"
	case KindRiskRejection:
		return "risk_rejection"
	case KindComplianceRejection:
		return "compliance_rejection"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// Validation
var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrInvalidStop    = errors.New("invalid stop")
	ErrInvalidBracket = errors.New("invalid bracket")
	ErrOrderNotFound  = errors.New("order not found")
)

// Resource
var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientShares   = errors.New("insufficient shares")
	ErrInsufficientProceeds = errors.New("insufficient proceeds")
)

// Availability
var (
	ErrPriceUnavailable  = errors.New("price unavailable")
	ErrMarketClosed      = errors.New("market closed")
	ErrBrokerUnavailable = errors.New("broker unavailable")
)

// Risk rejections
var (
	ErrPositionLimit = errors.New("position limit exceeded")
	ErrConcentration = errors.New("concentration exceeded")
	ErrHeatExceeded  = errors.New("portfolio heat exceeded")
	ErrLossLimit     = errors.New("loss limit reached")
	ErrDrawdownLimit = errors.New("drawdown limit reached")
)

// Compliance rejections
var ErrWashSale = errors.New("wash sale restricted")

// Persistence
var ErrPersistence = errors.New("persistence failure")

var kinds = map[error]Kind{
	ErrInvalidInput:         KindValidation,
	ErrInvalidStop:          KindValidation,
	ErrInvalidBracket:       KindValidation,
	ErrOrderNotFound:        KindValidation,
	ErrInsufficientFunds:    KindResource,
	ErrInsufficientShares:   KindResource,
	ErrInsufficientProceeds: KindResource,
	ErrPriceUnavailable:     KindAvailability,
	ErrMarketClosed:         KindAvailability,
	ErrBrokerUnavailable:    KindAvailability,
	ErrPositionLimit:        KindRiskRejection,
	ErrConcentration:        KindRiskRejection,
	ErrHeatExceeded:         KindRiskRejection,
	ErrLossLimit:            KindRiskRejection,
	ErrDrawdownLimit:        KindRiskRejection,
	ErrWashSale:             KindComplianceRejection,
	ErrPersistence:          KindPersistence,
}

// Rejection pairs a sentinel with a display-ready reason.
// Error returns only the reason, so it can be shown to users as is.
type Rejection struct {
	Err    error
	Reason string
}

func (r *Rejection) Error() string {
	if r.Reason == "" {
		return r.Err.Error()
	}
	return r.Reason
}

func (r *Rejection) Unwrap() error { return r.Err }

// Reject builds a Rejection for sentinel with a formatted reason.
func Reject(sentinel error, format string, args ...any) error {
	return &Rejection{Err: sentinel, Reason: fmt.Sprintf(format, args...)}
}

// KindOf classifies err by the first known sentinel in its chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for sentinel, k := range kinds {
		if errors.Is(err, sentinel) {
			return k
		}
	}
	return KindUnknown
}

// Reason returns the user-facing text of err.
func Reason(err error) string {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Error()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
