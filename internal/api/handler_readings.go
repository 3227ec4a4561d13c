package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"copier-fleet-backend/internal/calc"
	"copier-fleet-backend/internal/fleet"
	"copier-fleet-backend/internal/model"
	"copier-fleet-backend/internal/parse"
	"copier-fleet-backend/internal/report"
	"copier-fleet-backend/internal/store"
)

type countersRequest struct {
	MonoReading   *int64 `json:"monoReading"`
	ColourReading *int64 `json:"colourReading"`
	ScanReading   *int64 `json:"scanReading"`
	Note          string `json:"note" binding:"max=2000"`
}

func (r countersRequest) counters() calc.Counters {
	return calc.Counters{Mono: r.MonoReading, Colour: r.ColourReading, Scan: r.ScanReading}
}

type readingResponse struct {
	Reading model.Reading `json:"reading"`
	Created bool          `json:"created"`
}

func (h *Handler) monthOverview(c *gin.Context) (*fleet.Overview, bool) {
	a, ok := actor(c)
	if !ok {
		return nil, false
	}
	period, err := parse.ParsePeriodParts(c.Query("year"), c.Query("month"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	ov, err := h.svc.MonthOverview(c.Request.Context(), a, period, c.Query("branch"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return ov, true
}

// GetMonth handles GET /api/readings?year=&month=&branch=.
func (h *Handler) GetMonth(c *gin.Context) {
	ov, ok := h.monthOverview(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ov)
}

// ExportMonth handles GET /api/readings/export?year=&month=&branch=.
func (h *Handler) ExportMonth(c *gin.Context) {
	ov, ok := h.monthOverview(c)
	if !ok {
		return
	}
	c.Header("Content-Type", report.ContentType)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, report.Filename(ov)))
	c.Status(http.StatusOK)
	if err := report.Write(c.Writer, ov); err != nil {
		_ = c.Error(err)
	}
}

// PutReading handles PUT /api/machines/:machine_id/readings/:period.
func (h *Handler) PutReading(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	machineID, ok := pathID(c, "machine_id")
	if !ok {
		return
	}
	period, err := parse.ParsePeriod(c.Param("period"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var req countersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.svc.CaptureReading(c.Request.Context(), a, store.ReadingInput{
		MachineID: machineID,
		Period:    period,
		Counters:  req.counters(),
		Note:      req.Note,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusOK
	if res.Created() {
		status = http.StatusCreated
	}
	c.JSON(status, readingResponse{Reading: res.Reading, Created: res.Created()})
}

// DeleteReading handles DELETE /api/machines/:machine_id/readings/:period.
func (h *Handler) DeleteReading(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	machineID, ok := pathID(c, "machine_id")
	if !ok {
		return
	}
	period, err := parse.ParsePeriod(c.Param("period"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := h.svc.DeleteReading(c.Request.Context(), a, machineID, period); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type batchRowRequest struct {
	Row          int    `json:"row"`
	MachineID    int64  `json:"machineId"`
	SerialNumber string `json:"serialNumber"`
	Period       string `json:"period"`
	countersRequest
}

type batchRequest struct {
	Rows []batchRowRequest `json:"rows" binding:"required,max=5000,dive"`
}

// PostBatch handles POST /api/readings/batch. Rows whose period cannot be parsed are passed
// through with a zero period and reported by the service like any other invalid row.
func (h *Handler) PostBatch(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	rows := make([]fleet.BatchRow, len(req.Rows))
	for i, r := range req.Rows {
		row := r.Row
		if row == 0 {
			row = i + 1
		}
		period, _ := parse.ParsePeriod(r.Period)
		rows[i] = fleet.BatchRow{
			Row:          row,
			MachineID:    r.MachineID,
			SerialNumber: r.SerialNumber,
			Period:       period,
			Counters:     r.counters(),
			Note:         r.Note,
		}
	}

	result, err := h.svc.CaptureBatch(c.Request.Context(), a, rows)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type submitRequest struct {
	Year   int    `json:"year" binding:"required"`
	Month  int    `json:"month" binding:"required,min=1,max=12"`
	Branch string `json:"branch"`
	Force  bool   `json:"force"`
}

// Submit handles POST /api/submissions.
func (h *Handler) Submit(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sub, err := h.svc.Submit(c.Request.Context(), a, model.Period{Year: req.Year, Month: req.Month}, req.Branch, req.Force)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

// Unlock handles DELETE /api/submissions/:period?branch=.
func (h *Handler) Unlock(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	period, err := parse.ParsePeriod(c.Param("period"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sub, err := h.svc.Unlock(c.Request.Context(), a, period, c.Query("branch"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}
