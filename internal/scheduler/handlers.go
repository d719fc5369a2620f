package scheduler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/as950118/auto-trade/pkg/response"
)

// ProfitRecalculator recomputes the stored daily aggregates for every
// account.
type ProfitRecalculator interface {
	UpdateAllAccountsDailyProfit(date time.Time) int
}

// GinHandlers contains HTTP handlers for the internal job endpoints
type GinHandlers struct {
	runner  *Runner
	profits ProfitRecalculator
}

// NewGinHandlers creates a new set of HTTP handlers for the internal job endpoints
func NewGinHandlers(runner *Runner, profits ProfitRecalculator) *GinHandlers {
	return &GinHandlers{
		runner:  runner,
		profits: profits,
	}
}

// TriggerJobHandler runs one scheduled job immediately. The profit job
// accepts an optional date query (2006-01-02) to recompute a specific day.
// POST /api/v1/internal/jobs/:name
func (h *GinHandlers) TriggerJobHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		if name == "" {
			response.BadRequest(c, "Job name is required")
			return
		}

		if name == "profit" && c.Query("date") != "" {
			h.recalculateProfit(c)
			return
		}

		if err := h.runner.Trigger(c.Request.Context(), name); err != nil {
			response.NotFound(c, err.Error())
			return
		}

		response.Success(c, gin.H{"job": name, "triggered": true})
	}
}

// ListJobsHandler lists the registered jobs
// GET /api/v1/internal/jobs
func (h *GinHandlers) ListJobsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, gin.H{"jobs": h.runner.JobNames()})
	}
}

// RecalculateProfitHandler recomputes daily realized profit for all
// accounts. Accepts an optional date query (2006-01-02); defaults to
// yesterday, the most recent fully closed day.
// POST /api/v1/internal/jobs/profit
func (h *GinHandlers) RecalculateProfitHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.recalculateProfit(c)
	}
}

func (h *GinHandlers) recalculateProfit(c *gin.Context) {
	date := time.Now().AddDate(0, 0, -1)
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, time.Local)
		if err != nil {
			response.BadRequest(c, "date must be formatted as 2006-01-02")
			return
		}
		date = parsed
	}

	updated := h.profits.UpdateAllAccountsDailyProfit(date)
	if updated < 0 {
		response.InternalError(c, "profit recalculation failed")
		return
	}

	response.Success(c, gin.H{
		"date":             date.Format("2006-01-02"),
		"accounts_updated": updated,
	})
}
