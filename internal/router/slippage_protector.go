package router

import (
	"github.com/mExOms/sor/pkg/types"
	"github.com/sirupsen/logrus"
)

// SlippageProtector enforces an order's slippage ceiling on venue analyses
type SlippageProtector struct {
	warningRatio float64 // of the ceiling
	logger       *logrus.Entry
}

// NewSlippageProtector warns once expected slippage passes half the ceiling
func NewSlippageProtector(logger *logrus.Entry) *SlippageProtector {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &SlippageProtector{
		warningRatio: 0.5,
		logger:       logger.WithField("component", "slippage-protector"),
	}
}

// Filter keeps the analyses whose expected slippage is within the order's
// MaxSlippageBps and returns the IDs of the venues it dropped. Orders
// without a ceiling pass through unchanged.
func (sp *SlippageProtector) Filter(o *types.Order, analyses []types.VenueAnalysis) ([]types.VenueAnalysis, []string) {
	if o.MaxSlippageBps <= 0 {
		return analyses, nil
	}

	kept := analyses[:0:0]
	var dropped []string
	for _, a := range analyses {
		bps := a.ExpectedSlippage * 10000
		switch {
		case bps > o.MaxSlippageBps:
			dropped = append(dropped, a.VenueID)
			continue
		case bps > o.MaxSlippageBps*sp.warningRatio:
			sp.logger.WithFields(logrus.Fields{
				"order_id":     o.ID,
				"venue":        a.VenueID,
				"slippage_bps": bps,
				"max_bps":      o.MaxSlippageBps,
			}).Debug("Expected slippage close to order limit")
		}
		kept = append(kept, a)
	}
	return kept, dropped
}
