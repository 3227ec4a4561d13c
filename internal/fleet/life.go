package fleet

import (
	"context"

	"go.uber.org/zap"

	"copier-fleet-backend/internal/calc"
	"copier-fleet-backend/internal/model"
	"copier-fleet-backend/internal/notification"
	"copier-fleet-backend/internal/store"
)

// LifeReport is a machine's lifetime usage and the state of its toner parts.
type LifeReport struct {
	MachineID    int64  `json:"machineId"`
	SerialNumber string `json:"serialNumber"`
	calc.Life
	Toner []calc.TonerStatus `json:"toner"`
}

// LifeStatus rolls a machine's reading history up against its model's rated life and
// reports, for each toner part of the model, how far it is through its yield.
func (s *Service) LifeStatus(ctx context.Context, actor model.Actor, machineID int64) (*LifeReport, error) {
	machine, err := s.store.GetMachine(ctx, actor, machineID)
	if err != nil {
		return nil, err
	}
	history, err := s.store.ReadingHistory(ctx, machineID)
	if err != nil {
		return nil, err
	}

	var machineLife *int64
	var parts []model.ModelPart
	if machine.ModelID != nil {
		mm, err := s.store.GetModel(ctx, *machine.ModelID)
		if err != nil {
			return nil, err
		}
		machineLife = mm.MachineLife
		if parts, err = s.store.ListModelParts(ctx, mm.ID); err != nil {
			return nil, err
		}
	}

	var since *model.Period
	if machine.ModelAssignedAt != nil {
		p := model.PeriodOf(*machine.ModelAssignedAt)
		since = &p
	}

	report := &LifeReport{
		MachineID:    machine.ID,
		SerialNumber: machine.SerialNumber,
		Life:         calc.LifeOf(history, since, machineLife, s.thresholds.NearEndOfLifePercent),
		Toner:        []calc.TonerStatus{},
	}
	if len(parts) == 0 {
		return report, nil
	}
	orders, err := s.store.OrderTimeline(ctx, machineID)
	if err != nil {
		return nil, err
	}
	report.Toner = tonerStatuses(parts, history, orders, s.thresholds.TonerDueFraction)
	return report, nil
}

// tonerStatuses measures each toner part from its last replacement, or from the machine's
// first reading on the part's stream when it has never been replaced, to the latest reading.
func tonerStatuses(parts []model.ModelPart, history []model.Reading, orders []store.OrderEntry, fraction float64) []calc.TonerStatus {
	lastOrder := make(map[int64]int64)
	for _, e := range orders {
		lastOrder[e.Order.ModelPartID] = e.Order.CurrentReading
	}

	out := []calc.TonerStatus{}
	for _, p := range parts {
		if !p.IsToner() {
			continue
		}
		latest, first, ok := streamBounds(history, p.MeterType)
		if !ok {
			continue
		}
		replaced, seen := lastOrder[p.ID]
		if !seen {
			replaced = first
		}
		out = append(out, calc.StatusFor(p, latest, replaced, fraction))
	}
	return out
}

// streamBounds returns the first and latest values of a meter stream over history.
func streamBounds(history []model.Reading, meter model.MeterType) (latest, first int64, ok bool) {
	for _, r := range history {
		v, has := calc.CountersOf(r).Stream(meter)
		if !has {
			continue
		}
		if !ok {
			first, ok = v, true
		}
		latest = v
	}
	return latest, first, ok
}

// raiseTonerAlerts dispatches an alert for every toner part that the write just made due.
// Failures are logged; they never fail the write.
func (s *Service) raiseTonerAlerts(ctx context.Context, res *store.UpsertResult) {
	if s.alerts == nil || res.Machine.ModelID == nil {
		return
	}
	log := s.logger.With(zap.Int64("machine_id", res.Machine.ID))

	parts, err := s.store.ListModelParts(ctx, *res.Machine.ModelID)
	if err != nil {
		log.Warn("toner check skipped", zap.Error(err))
		return
	}
	hasToner := false
	for _, p := range parts {
		hasToner = hasToner || p.IsToner()
	}
	if !hasToner {
		return
	}
	after, err := s.store.ReadingHistory(ctx, res.Machine.ID)
	if err != nil {
		log.Warn("toner check skipped", zap.Error(err))
		return
	}
	orders, err := s.store.OrderTimeline(ctx, res.Machine.ID)
	if err != nil {
		log.Warn("toner check skipped", zap.Error(err))
		return
	}

	before := historyBefore(after, res)
	wasDue := make(map[int64]bool)
	for _, st := range tonerStatuses(parts, before, orders, s.thresholds.TonerDueFraction) {
		wasDue[st.ModelPartID] = st.Due
	}
	for _, st := range tonerStatuses(parts, after, orders, s.thresholds.TonerDueFraction) {
		if !st.Due || wasDue[st.ModelPartID] {
			continue
		}
		s.alerts.Dispatch(notification.TonerAlert{
			MachineID:      res.Machine.ID,
			Branch:         res.Machine.Branch,
			PartName:       st.PartName,
			TonerColor:     st.TonerColor,
			PercentOfYield: st.PercentOfYield,
		})
		log.Info("toner due", zap.String("part", st.PartName), zap.Int("percent_of_yield", st.PercentOfYield))
	}
}

// historyBefore rebuilds the history as it was before res was written.
func historyBefore(after []model.Reading, res *store.UpsertResult) []model.Reading {
	out := make([]model.Reading, 0, len(after))
	for _, r := range after {
		if r.ID != res.Reading.ID {
			out = append(out, r)
			continue
		}
		if res.Previous != nil {
			out = append(out, *res.Previous)
		}
	}
	return out
}
