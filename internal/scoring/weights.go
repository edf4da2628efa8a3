package scoring

import "github.com/sentinelmesh/trustplane/internal/ledger"

// Weight is the score delta applied for one factor: Reward when the factor is
// favorable, Penalty otherwise. Penalty is stored as a negative number.
type Weight struct {
	Reward  float64 `json:"reward"`
	Penalty float64 `json:"penalty"`
}

// WeightTable holds the fixed per-factor weights. Identity and firmware
// failures are serious; anomalies and compliance violations are the heaviest
// signals; context instability is mild.
type WeightTable struct {
	Identity   Weight `json:"identity"`
	Context    Weight `json:"context"`
	Firmware   Weight `json:"firmware"`
	Anomaly    Weight `json:"anomaly"`
	Compliance Weight `json:"compliance"`
}

// DefaultWeights returns the canonical weight table.
func DefaultWeights() WeightTable {
	return WeightTable{
		Identity:   Weight{Reward: 1.0, Penalty: -5.0},
		Context:    Weight{Reward: 0.5, Penalty: -2.0},
		Firmware:   Weight{Reward: 1.0, Penalty: -5.0},
		Anomaly:    Weight{Reward: 2.0, Penalty: -10.0},
		Compliance: Weight{Reward: 2.0, Penalty: -10.0},
	}
}

// Delta sums the per-factor contributions for one evaluation. The anomaly
// factor is favorable when no anomaly was detected.
func (w WeightTable) Delta(f ledger.Factors) float64 {
	pick := func(weight Weight, favorable bool) float64 {
		if favorable {
			return weight.Reward
		}
		return weight.Penalty
	}
	return pick(w.Identity, f.IdentityPassed) +
		pick(w.Context, f.ContextPassed) +
		pick(w.Firmware, f.FirmwareValid) +
		pick(w.Anomaly, !f.AnomalyDetected) +
		pick(w.Compliance, f.CompliancePassed)
}
