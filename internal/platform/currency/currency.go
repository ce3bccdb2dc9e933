// Package currency rounds ledger amounts to the precision of their currency.
package currency

import (
	"strings"
	"sync"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// DefaultDigits applies to codes unknown to the currency table.
const DefaultDigits = 2

// Service resolves fraction digits from the ISO 4217 table shipped with
// go-money. Overrides take precedence and are safe for concurrent use.
type Service struct {
	fallback string

	mu        sync.RWMutex
	overrides map[string]int32
}

// NewService builds a Service. fallback is used when an account carries no
// currency code.
func NewService(fallback string) *Service {
	return &Service{
		fallback:  strings.ToUpper(fallback),
		overrides: make(map[string]int32),
	}
}

// WithDigits forces the precision of code.
func (s *Service) WithDigits(code string, digits int32) *Service {
	s.mu.Lock()
	s.overrides[strings.ToUpper(code)] = digits
	s.mu.Unlock()
	return s
}

// Digits returns the number of fraction digits of code.
func (s *Service) Digits(code string) int32 {
	code = strings.ToUpper(code)
	if code == "" {
		code = s.fallback
	}
	s.mu.RLock()
	digits, ok := s.overrides[code]
	s.mu.RUnlock()
	if ok {
		return digits
	}
	if cur := money.GetCurrency(code); cur != nil {
		return int32(cur.Fraction)
	}
	return DefaultDigits
}

// Round rounds amount half away from zero to the precision of code.
func (s *Service) Round(code string, amount decimal.Decimal) decimal.Decimal {
	return amount.Round(s.Digits(code))
}

// IsZero reports whether amount rounds to zero in code.
func (s *Service) IsZero(code string, amount decimal.Decimal) bool {
	return s.Round(code, amount).IsZero()
}
