package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"copier-fleet-backend/internal/errs"
	"copier-fleet-backend/internal/fleet"
	"copier-fleet-backend/internal/model"
	"copier-fleet-backend/internal/parse"
	"copier-fleet-backend/internal/store"
)

type modelPartRequest struct {
	PartName      string          `json:"partName"`
	ItemCode      string          `json:"itemCode"`
	PartType      model.PartType  `json:"partType"`
	TonerColor    string          `json:"tonerColor"`
	ExpectedYield int64           `json:"expectedYield"`
	CostRand      decimal.Decimal `json:"costRand"`
	MeterType     model.MeterType `json:"meterType"`
	Branch        string          `json:"branch"`
}

// CreateModelPart handles POST /api/models/:model_id/parts. Field rules are checked by the
// service so every problem is reported at once.
func (h *Handler) CreateModelPart(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	modelID, ok := pathID(c, "model_id")
	if !ok {
		return
	}
	var req modelPartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	part, err := h.svc.CreateModelPart(c.Request.Context(), a, modelID, model.ModelPart{
		PartName:      req.PartName,
		ItemCode:      req.ItemCode,
		PartType:      req.PartType,
		TonerColor:    req.TonerColor,
		ExpectedYield: req.ExpectedYield,
		CostRand:      req.CostRand,
		MeterType:     req.MeterType,
		Branch:        req.Branch,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, part)
}

type orderRequest struct {
	ModelPartID           int64    `json:"modelPartId" binding:"required"`
	OrderDate             string   `json:"orderDate" binding:"required"`
	CurrentReading        *int64   `json:"currentReading" binding:"required"`
	RemainingTonerPercent *float64 `json:"remainingTonerPercent"`
}

// RecordOrder handles POST /api/machines/:machine_id/orders.
func (h *Handler) RecordOrder(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	machineID, ok := pathID(c, "machine_id")
	if !ok {
		return
	}
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	date, err := parse.ParseOrderDate(req.OrderDate, h.loc)
	if err != nil {
		respondError(c, errs.Invalid(errs.FieldError{Field: "orderDate", Message: err.Error()}))
		return
	}

	row, err := h.svc.RecordOrder(c.Request.Context(), a, store.OrderInput{
		MachineID:             machineID,
		ModelPartID:           req.ModelPartID,
		OrderDate:             date,
		CurrentReading:        *req.CurrentReading,
		RemainingTonerPercent: req.RemainingTonerPercent,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, row)
}

// GetConsumables handles GET /api/machines/:machine_id/consumables.
func (h *Handler) GetConsumables(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	machineID, ok := pathID(c, "machine_id")
	if !ok {
		return
	}
	rows, err := h.svc.ConsumableHistory(c.Request.Context(), a, machineID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// DeleteOrder handles DELETE /api/orders/:order_id.
func (h *Handler) DeleteOrder(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	orderID, ok := pathID(c, "order_id")
	if !ok {
		return
	}
	if _, err := h.svc.DeleteOrder(c.Request.Context(), a, orderID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type importRowRequest struct {
	Row                 int      `json:"row"`
	MachineSerialNumber string   `json:"machineSerialNumber"`
	ItemCode            string   `json:"itemCode"`
	PartName            string   `json:"partName"`
	OrderDate           string   `json:"orderDate"`
	PriorReading        *int64   `json:"priorReading"`
	CurrentReading      int64    `json:"currentReading"`
	TonerPercent        *float64 `json:"tonerPercent"`
}

type importRequest struct {
	Rows []importRowRequest `json:"rows" binding:"required,max=5000"`
}

// ImportOrders handles POST /api/orders/import. Rows with an unreadable date are reported
// alongside the service's own row errors.
func (h *Handler) ImportOrders(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	var rejected []errs.FieldError
	rows := make([]fleet.ImportRow, 0, len(req.Rows))
	for i, r := range req.Rows {
		row := r.Row
		if row == 0 {
			row = i + 1
		}
		date, err := parse.ParseOrderDate(r.OrderDate, h.loc)
		if err != nil {
			rejected = append(rejected, errs.FieldError{Row: row, Field: "orderDate", Message: err.Error()})
			continue
		}
		rows = append(rows, fleet.ImportRow{
			Row:                 row,
			MachineSerialNumber: r.MachineSerialNumber,
			ItemCode:            r.ItemCode,
			PartName:            r.PartName,
			OrderDate:           date,
			PriorReading:        r.PriorReading,
			CurrentReading:      r.CurrentReading,
			TonerPercent:        r.TonerPercent,
		})
	}

	result, err := h.svc.ImportOrders(c.Request.Context(), a, rows, rejected)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetLife handles GET /api/machines/:machine_id/life.
func (h *Handler) GetLife(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	machineID, ok := pathID(c, "machine_id")
	if !ok {
		return
	}
	report, err := h.svc.LifeStatus(c.Request.Context(), a, machineID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
