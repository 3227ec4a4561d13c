package fleet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"copier-fleet-backend/internal/audit"
	"copier-fleet-backend/internal/calc"
	"copier-fleet-backend/internal/errs"
	"copier-fleet-backend/internal/model"
	"copier-fleet-backend/internal/store"
)

// CreateModelPart defines a consumable for a model. Only administrators maintain definitions.
func (s *Service) CreateModelPart(ctx context.Context, actor model.Actor, modelID int64, part model.ModelPart) (*model.ModelPart, error) {
	if err := requireAdmin(actor, "define model parts"); err != nil {
		return nil, err
	}
	if _, err := s.store.GetModel(ctx, modelID); err != nil {
		return nil, err
	}
	if err := calc.ValidatePart(part); err != nil {
		return nil, err
	}
	part.ID = 0
	part.ModelID = modelID
	if err := s.store.CreateModelPart(ctx, &part); err != nil {
		return nil, err
	}
	return &part, nil
}

// ConsumableRow is one replacement with its yield outcome.
type ConsumableRow struct {
	OrderID               int64             `json:"orderId"`
	ModelPartID           int64             `json:"modelPartId"`
	PartName              string            `json:"partName"`
	ItemCode              string            `json:"itemCode"`
	PartType              model.PartType    `json:"partType"`
	OrderDate             time.Time         `json:"orderDate"`
	PriorReading          int64             `json:"priorReading"`
	CurrentReading        int64             `json:"currentReading"`
	RemainingTonerPercent *float64          `json:"remainingTonerPercent"`
	Source                model.OrderSource `json:"source"`
	calc.Shortfall
}

func rowOf(e store.OrderEntry) ConsumableRow {
	return ConsumableRow{
		OrderID:               e.Order.ID,
		ModelPartID:           e.Part.ID,
		PartName:              e.Part.PartName,
		ItemCode:              e.Part.ItemCode,
		PartType:              e.Part.PartType,
		OrderDate:             e.Order.OrderDate,
		PriorReading:          e.PriorReading,
		CurrentReading:        e.Order.CurrentReading,
		RemainingTonerPercent: e.Order.RemainingTonerPercent,
		Source:                e.Order.Source,
		Shortfall: calc.ComputeShortfall(calc.ShortfallInput{
			PartType:              e.Part.PartType,
			ExpectedYield:         e.Part.ExpectedYield,
			CostRand:              e.Part.CostRand,
			PriorReading:          e.PriorReading,
			CurrentReading:        e.Order.CurrentReading,
			RemainingTonerPercent: e.Order.RemainingTonerPercent,
		}),
	}
}

// ConsumableHistory returns a machine's replacements in (order date, id) order with prior
// readings resolved against the current ledger.
func (s *Service) ConsumableHistory(ctx context.Context, actor model.Actor, machineID int64) ([]ConsumableRow, error) {
	if _, err := s.store.GetMachine(ctx, actor, machineID); err != nil {
		return nil, err
	}
	entries, err := s.store.OrderTimeline(ctx, machineID)
	if err != nil {
		return nil, err
	}
	rows := make([]ConsumableRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, rowOf(e))
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].OrderDate.Equal(rows[j].OrderDate) {
			return rows[i].OrderDate.Before(rows[j].OrderDate)
		}
		return rows[i].OrderID < rows[j].OrderID
	})
	return rows, nil
}

// RecordOrder appends a replacement and returns it as a history row.
func (s *Service) RecordOrder(ctx context.Context, actor model.Actor, in store.OrderInput) (*ConsumableRow, error) {
	in.Source = model.SourceManual
	in.Baseline = nil
	order, err := s.store.RecordOrder(ctx, actor, in)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, actor, audit.ActionOrderRecord, audit.TargetPartOrder, fmt.Sprint(order.ID), map[string]any{
		"machineId":      order.MachineID,
		"modelPartId":    order.ModelPartID,
		"currentReading": order.CurrentReading,
	})
	return s.historyRow(ctx, actor, order)
}

func (s *Service) historyRow(ctx context.Context, actor model.Actor, order *model.PartOrder) (*ConsumableRow, error) {
	rows, err := s.ConsumableHistory(ctx, actor, order.MachineID)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if rows[i].OrderID == order.ID {
			return &rows[i], nil
		}
	}
	return nil, errs.NotFound("order", order.ID)
}

// DeleteOrder removes a replacement. Only administrators may delete orders.
func (s *Service) DeleteOrder(ctx context.Context, actor model.Actor, orderID int64) (*model.PartOrder, error) {
	if err := requireAdmin(actor, "delete part orders"); err != nil {
		return nil, err
	}
	deleted, err := s.store.DeleteOrder(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, actor, audit.ActionOrderDelete, audit.TargetPartOrder, fmt.Sprint(deleted.ID), map[string]any{
		"machineId":   deleted.MachineID,
		"modelPartId": deleted.ModelPartID,
	})
	return deleted, nil
}

// ImportRow is an already-parsed historical order. The part is matched by item code, then by
// part name, within the machine's model.
type ImportRow struct {
	Row                 int
	MachineSerialNumber string
	ItemCode            string
	PartName            string
	OrderDate           time.Time
	PriorReading        *int64
	CurrentReading      int64
	TonerPercent        *float64
}

// ImportResult reports what an import did.
type ImportResult struct {
	Created int               `json:"created"`
	Errored int               `json:"errored"`
	Errors  []errs.FieldError `json:"errors"`
}

// ImportOrders records historical orders in (order date, row) order so a file need not be
// sorted. Validation and lookup failures are reported per row. rejected holds one error per
// row the caller could not even decode; they lead the report and count toward the audit.
func (s *Service) ImportOrders(ctx context.Context, actor model.Actor, rows []ImportRow, rejected []errs.FieldError) (ImportResult, error) {
	result := ImportResult{Errors: append([]errs.FieldError{}, rejected...), Errored: len(rejected)}
	sorted := make([]ImportRow, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].OrderDate.Equal(sorted[j].OrderDate) {
			return sorted[i].OrderDate.Before(sorted[j].OrderDate)
		}
		return sorted[i].Row < sorted[j].Row
	})

	for _, row := range sorted {
		field, err := s.importRow(ctx, actor, row)
		switch {
		case err == nil:
			result.Created++
		case errors.Is(err, errs.ErrInvalid):
			result.Errored++
			for _, f := range errs.Fields(err) {
				f.Row = row.Row
				result.Errors = append(result.Errors, f)
			}
			s.logger.Warn("import row rejected", zap.Int("row", row.Row), zap.Error(err))
		case errors.Is(err, errs.ErrNotFound):
			result.Errored++
			result.Errors = append(result.Errors, errs.FieldError{Row: row.Row, Field: field, Message: err.Error()})
			s.logger.Warn("import row rejected", zap.Int("row", row.Row), zap.Error(err))
		default:
			return result, err
		}
	}

	s.emit(ctx, actor, audit.ActionOrderImport, audit.TargetPartOrder, "", map[string]any{
		"rows":    len(rows) + len(rejected),
		"created": result.Created,
		"errored": result.Errored,
	})
	return result, nil
}

// importRow records one row. The returned field names the column a not-found error refers to.
func (s *Service) importRow(ctx context.Context, actor model.Actor, row ImportRow) (string, error) {
	machine, err := s.store.FindMachineBySerial(ctx, actor, row.MachineSerialNumber)
	if err != nil {
		return "machineSerialNumber", err
	}
	if machine.ModelID == nil {
		return "", errs.Invalid(errs.FieldError{MachineID: machine.ID, Field: "machineSerialNumber", Message: "machine has no model assigned"})
	}
	field, code := "itemCode", row.ItemCode
	if code == "" {
		field, code = "partName", row.PartName
	}
	part, err := s.store.FindModelPart(ctx, *machine.ModelID, code)
	if err != nil {
		return field, err
	}
	_, err = s.store.RecordOrder(ctx, actor, store.OrderInput{
		MachineID:             machine.ID,
		ModelPartID:           part.ID,
		OrderDate:             row.OrderDate,
		CurrentReading:        row.CurrentReading,
		RemainingTonerPercent: row.TonerPercent,
		Baseline:              row.PriorReading,
		Source:                model.SourceImport,
	})
	return "modelPartId", err
}
