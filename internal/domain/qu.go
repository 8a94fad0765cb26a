// Package domain holds the core Qpredict data model: markets, bets,
// escrows, accounts, the commitment chain, and the sentinel errors shared
// across the engine.
package domain

import (
	"database/sql/driver"
	"fmt"
	"math/big"
)

// MaxSafeQU is 2^53 - 1, the boundary spec.md §3 requires amounts to be
// checked against whenever they cross into a machine-integer context (the
// chain SDK's wire fields, or a fixed-width SQL column).
const MaxSafeQU = (int64(1) << 53) - 1

// QU is an integer amount denominated in Qubic Units. It is backed by
// math/big.Int rather than shopspring/decimal because spec.md §3 defines
// every ledger amount as an integer, never a fraction, and requires
// unbounded precision above 2^53 — a different numeric domain than the
// teacher's fractional TRY amounts (which is why decimal.Decimal is kept
// only for oracle price samples, see internal/oracle).
type QU struct {
	v *big.Int
}

// ZeroQU returns the additive identity.
func ZeroQU() QU { return QU{v: big.NewInt(0)} }

// NewQU constructs a QU from an int64. Panics if n is negative — QU values
// never represent a deficit; a shortfall is always modeled as an error.
func NewQU(n int64) QU {
	if n < 0 {
		panic("domain: negative QU amount")
	}
	return QU{v: big.NewInt(n)}
}

// ParseQU parses a base-10 string into a QU.
func ParseQU(s string) (QU, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return QU{}, fmt.Errorf("domain: invalid QU literal %q", s)
	}
	if v.Sign() < 0 {
		return QU{}, fmt.Errorf("domain: negative QU literal %q", s)
	}
	return QU{v: v}, nil
}

func (q QU) big() *big.Int {
	if q.v == nil {
		return big.NewInt(0)
	}
	return q.v
}

// Add returns q + other.
func (q QU) Add(other QU) QU { return QU{v: new(big.Int).Add(q.big(), other.big())} }

// Sub returns q - other. Callers that must not go negative should check
// GreaterThanOrEqual first; Sub itself does not reject a negative result
// so it can also be used for diagnostic deltas.
func (q QU) Sub(other QU) QU { return QU{v: new(big.Int).Sub(q.big(), other.big())} }

// Mul returns q * other.
func (q QU) Mul(other QU) QU { return QU{v: new(big.Int).Mul(q.big(), other.big())} }

// MulInt64 returns q * n.
func (q QU) MulInt64(n int64) QU { return QU{v: new(big.Int).Mul(q.big(), big.NewInt(n))} }

// DivInt64 performs floor division by n (n > 0). Per spec.md §4.3's payout
// formula, division is always BigInt floor division, never float.
func (q QU) DivInt64(n int64) QU {
	if n <= 0 {
		panic("domain: DivInt64 by non-positive divisor")
	}
	return QU{v: new(big.Int).Div(q.big(), big.NewInt(n))}
}

// MulFracBps returns floor(q * numeratorBps / 10000) — used for basis-point
// fee splits (burn/shareholder/operator/oracle cuts in §4.3).
func (q QU) MulFracBps(numeratorBps int64) QU {
	prod := new(big.Int).Mul(q.big(), big.NewInt(numeratorBps))
	return QU{v: prod.Div(prod, big.NewInt(10000))}
}

// IsZero reports whether the amount is exactly zero.
func (q QU) IsZero() bool { return q.big().Sign() == 0 }

// Sign returns -1, 0, +1 as q is negative, zero, or positive.
func (q QU) Sign() int { return q.big().Sign() }

// GreaterThan reports q > other.
func (q QU) GreaterThan(other QU) bool { return q.big().Cmp(other.big()) > 0 }

// GreaterThanOrEqual reports q >= other.
func (q QU) GreaterThanOrEqual(other QU) bool { return q.big().Cmp(other.big()) >= 0 }

// LessThan reports q < other.
func (q QU) LessThan(other QU) bool { return q.big().Cmp(other.big()) < 0 }

// Equal reports q == other.
func (q QU) Equal(other QU) bool { return q.big().Cmp(other.big()) == 0 }

// String renders the base-10 decimal representation.
func (q QU) String() string { return q.big().String() }

// Int64 converts to an int64, re-validating the 2^53-1 bound required at
// every chain-wire or fixed-width-column crossing (spec.md §9). Returns an
// error instead of silently truncating.
func (q QU) Int64() (int64, error) {
	if !q.big().IsInt64() {
		return 0, fmt.Errorf("domain: QU %s does not fit in int64", q)
	}
	n := q.big().Int64()
	if n > MaxSafeQU {
		return 0, fmt.Errorf("domain: QU %s exceeds MaxSafeQU (2^53-1)", q)
	}
	return n, nil
}

// Value implements driver.Valuer so a QU can be bound directly as a sqlx
// query parameter — stored as its canonical base-10 string, since SQLite
// has no native big-integer column type.
func (q QU) Value() (driver.Value, error) {
	return q.String(), nil
}

// Scan implements sql.Scanner so a QU can be read back out of a TEXT
// column populated by Value above.
func (q *QU) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*q = ZeroQU()
		return nil
	case string:
		parsed, err := ParseQU(v)
		if err != nil {
			return err
		}
		*q = parsed
		return nil
	case []byte:
		parsed, err := ParseQU(string(v))
		if err != nil {
			return err
		}
		*q = parsed
		return nil
	case int64:
		*q = NewQU(v)
		return nil
	default:
		return fmt.Errorf("domain: cannot scan %T into QU", src)
	}
}
