package calc

import (
	"math"

	"copier-fleet-backend/internal/model"
)

// Life is the lifetime roll-up of a machine against its model's rated life.
type Life struct {
	LifetimeUsage   int64  `json:"lifetimeUsage"`
	ScanUsage       int64  `json:"scanUsage"`
	MachineLife     *int64 `json:"machineLife,omitempty"`
	LifePercentUsed *int   `json:"lifePercentUsed,omitempty"`
	NearEndOfLife   bool   `json:"nearEndOfLife"`
}

// LifeOf sums print usage (mono and colour) over readings, which must be in period order.
// When since is set, the first reading at or after it becomes the baseline and earlier
// readings are ignored. Scan usage is totalled separately and never counts against life.
func LifeOf(readings []model.Reading, since *model.Period, machineLife *int64, thresholdPercent int) Life {
	var out Life
	baselineSeen := false
	for _, r := range readings {
		if since != nil && r.Period().Before(*since) {
			continue
		}
		if !baselineSeen {
			baselineSeen = true
			continue
		}
		if v, ok := deref(r.MonoUsage); ok {
			out.LifetimeUsage += v
		}
		if v, ok := deref(r.ColourUsage); ok {
			out.LifetimeUsage += v
		}
		if v, ok := deref(r.ScanUsage); ok {
			out.ScanUsage += v
		}
	}

	if machineLife != nil && *machineLife > 0 {
		pct := Percent(out.LifetimeUsage, *machineLife)
		out.MachineLife = machineLife
		out.LifePercentUsed = &pct
		out.NearEndOfLife = pct >= thresholdPercent
	}
	return out
}

// Percent returns round(100 * part / whole).
func Percent(part, whole int64) int {
	if whole <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(part) / float64(whole)))
}

// TonerStatus is the pre-replacement view of a toner part on a machine.
type TonerStatus struct {
	ModelPartID         int64  `json:"modelPartId"`
	PartName            string `json:"partName"`
	TonerColor          string `json:"tonerColor,omitempty"`
	ExpectedYield       int64  `json:"expectedYield"`
	UsageSinceLastOrder int64  `json:"usageSinceLastOrder"`
	PercentOfYield      int    `json:"percentOfYield"`
	Due                 bool   `json:"due"`
}

// TonerDue reports whether usage since the last replacement has reached fraction of the
// part's rated yield.
func TonerDue(usageSince, expectedYield int64, fraction float64) bool {
	if expectedYield <= 0 {
		return false
	}
	return float64(usageSince) >= fraction*float64(expectedYield)
}

// StatusFor builds the toner status of part given the latest meter value for its stream and
// the meter value at its last replacement.
func StatusFor(part model.ModelPart, latest, lastReplaced int64, fraction float64) TonerStatus {
	since := latest - lastReplaced
	if since < 0 {
		since = 0
	}
	return TonerStatus{
		ModelPartID:         part.ID,
		PartName:            part.PartName,
		TonerColor:          part.TonerColor,
		ExpectedYield:       part.ExpectedYield,
		UsageSinceLastOrder: since,
		PercentOfYield:      Percent(since, part.ExpectedYield),
		Due:                 TonerDue(since, part.ExpectedYield, fraction),
	}
}
