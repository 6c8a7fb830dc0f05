// internal/graduation/graduation.go
package graduation

import (
	"fmt"
	"time"

	"github.com/thecyberginehost/moonforge/internal/curve"
	"github.com/thecyberginehost/moonforge/internal/types"
)

// Status is the lifecycle state of a curve.
type Status string

const (
	StatusActive    Status = "active"
	StatusGraduated Status = "graduated"
)

// DefaultThresholdLamports is 85 SOL.
const DefaultThresholdLamports = 85 * types.LamportsPerSol

// Policy decides when a curve graduates.
type Policy struct {
	ThresholdLamports uint64 `mapstructure:"threshold_lamports" json:"thresholdLamports"`
}

// DefaultPolicy returns the 85 SOL policy.
func DefaultPolicy() Policy {
	return Policy{ThresholdLamports: DefaultThresholdLamports}
}

// Validate checks the policy.
func (p Policy) Validate() error {
	if p.ThresholdLamports == 0 {
		return fmt.Errorf("graduation threshold must be positive")
	}
	return nil
}

// StatusOf reports the current status of s.
func StatusOf(s *curve.ReserveState) Status {
	if s.IsGraduated {
		return StatusGraduated
	}
	return StatusActive
}

// Evaluate applies the policy to a post-trade state and reports whether this
// call performed the transition. Graduated is terminal: a graduated state is
// left untouched.
func (p Policy) Evaluate(next *curve.ReserveState, now time.Time) bool {
	if next.IsGraduated {
		return false
	}
	if next.SolRaised < p.ThresholdLamports {
		return false
	}
	next.IsGraduated = true
	next.GraduatedAt = &now
	return true
}

// Progress returns SolRaised / threshold in percent, capped at 100.
func (p Policy) Progress(s *curve.ReserveState) float64 {
	if p.ThresholdLamports == 0 || s.SolRaised >= p.ThresholdLamports {
		return 100
	}
	return float64(s.SolRaised) / float64(p.ThresholdLamports) * 100
}
