package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"server-commission-app/internal/app/commission"
	"server-commission-app/internal/pkg/generr"
)

// DepositConfirmed intake of confirmed deposit events.
func (h *Handler) DepositConfirmed(c *gin.Context) {
	req := struct {
		DepositorID   string    `json:"depositorId" binding:"required"`   // 充值用户
		Amount        string    `json:"amount" binding:"required"`        // 充值金额
		SourceKind    string    `json:"sourceKind" binding:"required"`    // gas_fee_topup | trading_fee
		SourceEventID string    `json:"sourceEventId"`                    // 旧事件可能为空
		ConfirmedAt   time.Time `json:"confirmedAt"`
	}{}

	err := c.ShouldBindJSON(&req)
	if err != nil {
		log.Errorf("err: %+v", errors.Wrap(err, "should bind"))
		c.JSON(http.StatusBadRequest, generr.ParseParam)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		log.Errorf("err: %+v", errors.Wrap(err, "parse amount"))
		c.JSON(http.StatusBadRequest, generr.ParseParam)
		return
	}

	res, err := h.svc.HandleDepositConfirmed(c.Request.Context(), commission.DepositEvent{
		DepositorID:   req.DepositorID,
		Amount:        amount,
		SourceKind:    req.SourceKind,
		SourceEventID: req.SourceEventID,
		ConfirmedAt:   req.ConfirmedAt,
	})
	if err != nil {
		fail(c, err, generr.UpdateDB, "handle deposit confirmed")
		return
	}

	m := make(map[string]interface{})
	m["deposit"] = res.Deposit
	m["duplicate"] = res.Duplicate
	m["transition"] = res.Transition
	if res.Distribution != nil {
		m["sourceEventId"] = res.Distribution.SourceEventID
		m["records"] = res.Distribution.Records
		m["totalDistributed"] = res.Distribution.TotalDistributed
		m["replayed"] = res.Distribution.Replayed
		m["levelErrors"] = errorStrings(res.Distribution.LevelErrors)
		m["settleErrors"] = errorStrings(res.Distribution.SettleErrors)
	}
	if res.DistributeErr != nil {
		m["distributeError"] = res.DistributeErr.Error()
	}
	success(c, m)
}

func errorStrings(errs []error) []string {
	out := make([]string, 0, len(errs))
	for _, err := range errs {
		out = append(out, err.Error())
	}
	return out
}
