package risk

import "github.com/sentinelmesh/trustplane/internal/ledger"

// recommendations maps an assessment to fixed advisory strings. The mapping
// is a pure function of the assessment: identical inputs always produce the
// same list, in the same order.
func recommendations(as *Assessment) []string {
	var out []string

	switch as.RiskLevel {
	case ledger.RiskCritical:
		if as.Quarantined {
			out = append(out, "Device is quarantined; investigate before restoring access")
		} else {
			out = append(out, "Isolate the device and investigate immediately")
		}
	case ledger.RiskHigh:
		out = append(out, "Schedule a security review for this device")
	case ledger.RiskMedium:
		out = append(out, "Monitor this device closely")
	default:
		out = append(out, "No action required")
	}

	// Factor advisories in a fixed category order.
	if as.RiskFactors[categoryIdentity] == FactorHighRisk {
		out = append(out, "Rotate device credentials and re-verify identity")
	}
	if as.RiskFactors[categoryLocation] == FactorHighRisk {
		out = append(out, "Review the device's allowed locations and recent movement")
	}
	if as.RiskFactors[categoryBehavior] == FactorHighRisk {
		out = append(out, "Investigate anomalous behavior patterns")
	}
	if as.RiskFactors[categoryCompliance] == FactorHighRisk {
		out = append(out, "Enforce patch compliance and run a malware scan")
	}
	if as.RiskFactors[categoryFirmware] == FactorHighRisk {
		out = append(out, "Force a firmware update")
	}

	if as.RiskTrend == ledger.TrendDegrading {
		out = append(out, "Trust is degrading; review the recent change timeline")
	}
	return out
}
