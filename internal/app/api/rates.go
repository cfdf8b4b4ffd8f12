package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"server-commission-app/internal/app/tier"
	"server-commission-app/internal/pkg/generr"
)

// GetRates current rate table.
func (h *Handler) GetRates(c *gin.Context) {
	book := h.svc.Book()
	success(c, struct {
		Rates           tier.Table      `json:"rates"`
		MaxTotalPercent decimal.Decimal `json:"max_total_percent"`
	}{book.Snapshot(), book.MaxTotalPercent()})
}

// PutRates replaces the whole table. Runs already in flight keep their snapshot.
func (h *Handler) PutRates(c *gin.Context) {
	req := struct {
		Operator string                `json:"operator" binding:"required"`
		Rates    map[string]tier.Rates `json:"rates" binding:"required"`
	}{}

	err := c.ShouldBindJSON(&req)
	if err != nil {
		log.Errorf("err: %+v", errors.Wrap(err, "should bind"))
		c.JSON(http.StatusBadRequest, generr.ParseParam)
		return
	}

	table := make(tier.Table, len(req.Rates))
	for name, rates := range req.Rates {
		t, err := tier.ParseTier(name)
		if err != nil {
			log.Errorf("err: %+v", errors.WithStack(err))
			c.JSON(http.StatusBadRequest, generr.InvalidRates)
			return
		}
		table[t] = rates
	}
	if err := table.Validate(h.svc.Book().MaxTotalPercent()); err != nil {
		log.Errorf("err: %+v", errors.Wrap(err, "validate rates"))
		c.JSON(http.StatusBadRequest, generr.InvalidRates)
		return
	}

	if err := h.svc.Book().Replace(c.Request.Context(), table, req.Operator); err != nil {
		log.Errorf("err: %+v", errors.Wrap(err, "replace rates"))
		c.JSON(http.StatusInternalServerError, generr.UpdateDB)
		return
	}
	success(c, h.svc.Book().Snapshot())
}
