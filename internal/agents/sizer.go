package agents

import "github.com/Leblepito/uAlgoTrade/internal/models"

// PositionSizer computes the quantity proposed to the risk check for a
// candidate signal.
type PositionSizer interface {
	Size(signal *models.Signal) float64
}

// FixedSizer proposes a constant micro quantity. A portfolio-aware sizing
// policy plugs in here once position accounting is wired to live equity.
type FixedSizer struct {
	Quantity float64
}

// Size returns the fixed quantity.
func (s FixedSizer) Size(_ *models.Signal) float64 { return s.Quantity }
