// internal/types/slippage.go
package types

import (
	"math/big"
)

// SlippageType определяет тип политики проскальзывания
type SlippageType string

const (
	// SlippageMinOutput отклоняет сделку, если выход меньше MinOutput
	SlippageMinOutput SlippageType = "min_output"
	// SlippageTolerance использует допуск в bps относительно ожидаемого выхода
	SlippageTolerance SlippageType = "tolerance_bps"
	// SlippageNone не использует ограничение
	SlippageNone SlippageType = "none"
)

// SlippageConfig конфигурирует политику проскальзывания
type SlippageConfig struct {
	Type SlippageType `json:"type"`
	// MinOutput - минимально допустимый выход (base units или lamports) для SlippageMinOutput
	MinOutput uint64 `json:"minOutput,omitempty"`
	// ToleranceBps - допуск в базисных пунктах для SlippageTolerance
	ToleranceBps uint64 `json:"toleranceBps,omitempty"`
	// ExpectedOutput - ранее полученная котировка; 0 означает спот-цену до сделки
	ExpectedOutput uint64 `json:"expectedOutput,omitempty"`
}

// MinOutputSlippage is the canonical slippage bound.
func MinOutputSlippage(minOutput uint64) SlippageConfig {
	return SlippageConfig{Type: SlippageMinOutput, MinOutput: minOutput}
}

// ToleranceSlippage bounds deviation from expected to toleranceBps.
func ToleranceSlippage(toleranceBps, expected uint64) SlippageConfig {
	return SlippageConfig{Type: SlippageTolerance, ToleranceBps: toleranceBps, ExpectedOutput: expected}
}

// Validate checks that the config is usable.
func (c SlippageConfig) Validate() error {
	switch c.Type {
	case SlippageMinOutput, SlippageNone:
		return nil
	case SlippageTolerance:
		if c.ToleranceBps > BpsDenominator {
			return NewTradeError(KindInvalidAmount, "slippage tolerance %d bps exceeds 100%%", c.ToleranceBps)
		}
		return nil
	default:
		return NewTradeError(KindInvalidAmount, "unknown slippage type %q", c.Type)
	}
}

// DeviationBps returns |actual-expected| * 10000 / expected, rounded down.
// Computed on big.Int so large outputs cannot overflow.
func DeviationBps(expected, actual uint64) uint64 {
	if expected == 0 {
		return 0
	}
	e := new(big.Int).SetUint64(expected)
	d := new(big.Int).Sub(new(big.Int).SetUint64(actual), e)
	d.Abs(d)
	d.Mul(d, big.NewInt(BpsDenominator))
	d.Quo(d, e)
	if !d.IsUint64() {
		return ^uint64(0)
	}
	return d.Uint64()
}

// CheckSlippage compares realized output against the caller's bound.
// spotExpected is used as the baseline for the tolerance form when the
// caller did not supply ExpectedOutput.
func CheckSlippage(cfg SlippageConfig, spotExpected, actual uint64) error {
	switch cfg.Type {
	case SlippageNone:
		return nil
	case SlippageMinOutput:
		if actual < cfg.MinOutput {
			return NewTradeError(KindSlippageExceeded,
				"output %d below minimum %d", actual, cfg.MinOutput).
				WithAmounts(cfg.MinOutput, actual)
		}
		return nil
	case SlippageTolerance:
		expected := cfg.ExpectedOutput
		if expected == 0 {
			expected = spotExpected
		}
		if expected == 0 {
			return NewTradeError(KindSlippageExceeded, "no expected output to compare against").
				WithAmounts(0, actual)
		}
		if dev := DeviationBps(expected, actual); dev > cfg.ToleranceBps {
			return NewTradeError(KindSlippageExceeded,
				"deviation %d bps exceeds tolerance %d bps", dev, cfg.ToleranceBps).
				WithAmounts(expected, actual)
		}
		return nil
	default:
		return cfg.Validate()
	}
}
