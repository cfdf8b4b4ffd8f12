package api

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"server-commission-app/internal/app/commission"
	"server-commission-app/internal/dao"
	"server-commission-app/internal/model"
	"server-commission-app/internal/pkg/generr"
)

type recordQuery struct {
	ReferrerID    string `form:"referrer_id"`
	DepositorID   string `form:"depositor_id"`
	SourceEventID string `form:"source_event_id"`
	Status        string `form:"status"`
	LastID        string `form:"last_id"`
	PageSize      int    `form:"page_size"`
}

func (q recordQuery) filter() dao.RecordFilter {
	return dao.RecordFilter{
		ReferrerID:    q.ReferrerID,
		DepositorID:   q.DepositorID,
		SourceEventID: q.SourceEventID,
		Status:        q.Status,
		LastID:        q.LastID,
		PageSize:      q.PageSize,
	}
}

// ListRecords audit query with keyset pagination on id.
func (h *Handler) ListRecords(c *gin.Context) {
	var req recordQuery
	err := c.ShouldBindQuery(&req)
	if err != nil {
		log.Errorf("err: %+v", errors.Wrap(err, "should bind"))
		c.JSON(http.StatusBadRequest, generr.ParseParam)
		return
	}
	if req.PageSize <= 0 || req.PageSize > 500 {
		req.PageSize = 10
	}

	records, err := h.ledger.Query(c.Request.Context(), req.filter())
	if err != nil {
		log.Errorf("err: %+v", errors.Wrap(err, "query records"))
		c.JSON(http.StatusInternalServerError, generr.ReadDB)
		return
	}

	lastID := ""
	if len(records) > 0 {
		lastID = records[len(records)-1].ID
	}
	success(c, struct {
		LastID  string                   `json:"last_id"`
		Records []model.CommissionRecord `json:"records"`
	}{LastID: lastID, Records: records})
}

var exportHeader = []string{
	"id", "referrer_id", "depositor_id", "level", "source_event_id", "source_kind",
	"referrer_tier", "deposit_amount", "rate", "commission_amount", "status", "created_at", "paid_at",
}

// ExportRecords streams every matching record as csv.
func (h *Handler) ExportRecords(c *gin.Context) {
	var req recordQuery
	err := c.ShouldBindQuery(&req)
	if err != nil {
		log.Errorf("err: %+v", errors.Wrap(err, "should bind"))
		c.JSON(http.StatusBadRequest, generr.ParseParam)
		return
	}

	filter := req.filter()
	filter.PageSize = 500

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename=commission_records.csv")
	c.Status(http.StatusOK)
	w := csv.NewWriter(c.Writer)
	_ = w.Write(exportHeader)
	for {
		records, err := h.ledger.Query(c.Request.Context(), filter)
		if err != nil {
			// header already sent
			log.Errorf("err: %+v", errors.Wrap(err, "export records"))
			break
		}
		for _, r := range records {
			paidAt := ""
			if r.PaidAt != nil {
				paidAt = r.PaidAt.UTC().Format("2006-01-02T15:04:05Z")
			}
			_ = w.Write([]string{
				r.ID, r.ReferrerID, r.DepositorID, strconv.Itoa(r.Level), r.SourceEventID, r.SourceKind,
				r.ReferrerTier, r.DepositAmount.String(), r.Rate.String(), r.CommissionAmount.StringFixed(2),
				r.Status, r.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"), paidAt,
			})
		}
		w.Flush()
		if len(records) < filter.PageSize {
			break
		}
		filter.LastID = records[len(records)-1].ID
	}
	w.Flush()
}

// CorrectRecord administrative delete-and-recreate of one record.
func (h *Handler) CorrectRecord(c *gin.Context) {
	req := struct {
		Rate     string `json:"rate"`   // 新费率(百分比), 与amount二选一
		Amount   string `json:"amount"` // 新佣金金额, 0表示删除
		Operator string `json:"operator" binding:"required"`
		Reason   string `json:"reason" binding:"required"`
	}{}

	err := c.ShouldBindJSON(&req)
	if err != nil {
		log.Errorf("err: %+v", errors.Wrap(err, "should bind"))
		c.JSON(http.StatusBadRequest, generr.ParseParam)
		return
	}

	creq := commission.CorrectionRequest{RecordID: c.Param("id"), Operator: req.Operator, Reason: req.Reason}
	if req.Rate != "" {
		rate, err := decimal.NewFromString(req.Rate)
		if err != nil {
			log.Errorf("err: %+v", errors.Wrap(err, "parse rate"))
			c.JSON(http.StatusBadRequest, generr.ParseParam)
			return
		}
		creq.Rate = &rate
	}
	if req.Amount != "" {
		amount, err := decimal.NewFromString(req.Amount)
		if err != nil {
			log.Errorf("err: %+v", errors.Wrap(err, "parse amount"))
			c.JSON(http.StatusBadRequest, generr.ParseParam)
			return
		}
		creq.Amount = &amount
	}

	record, err := h.svc.Correct(c.Request.Context(), creq)
	if err != nil {
		fail(c, err, generr.UpdateDB, fmt.Sprintf("correct record %s", creq.RecordID))
		return
	}
	success(c, record)
}

// Settle pays pending records, optionally for one referrer.
func (h *Handler) Settle(c *gin.Context) {
	req := struct {
		ReferrerID string `json:"referrer_id"`
		Operator   string `json:"operator" binding:"required"`
	}{}

	err := c.ShouldBindJSON(&req)
	if err != nil {
		log.Errorf("err: %+v", errors.Wrap(err, "should bind"))
		c.JSON(http.StatusBadRequest, generr.ParseParam)
		return
	}

	res, err := h.rec.SettlePending(c.Request.Context(), req.ReferrerID, req.Operator)
	if err != nil {
		fail(c, err, generr.UpdateDB, "settle pending")
		return
	}
	success(c, res)
}

// UserEarnings stored totals next to what the ledger says.
func (h *Handler) UserEarnings(c *gin.Context) {
	ctx := c.Request.Context()
	uid := c.Param("id")

	user, err := h.users.Get(ctx, uid)
	if err != nil {
		if dao.IsNotFound(err) {
			c.JSON(http.StatusNotFound, generr.NoTargetUser)
			return
		}
		log.Errorf("err: %+v", errors.Wrap(err, "get user"))
		c.JSON(http.StatusInternalServerError, generr.ReadDB)
		return
	}

	paid, err := h.ledger.SumByReferrer(ctx, uid, model.StatusPaid)
	if err != nil {
		log.Errorf("err: %+v", errors.Wrap(err, "sum paid"))
		c.JSON(http.StatusInternalServerError, generr.ReadDB)
		return
	}
	pending, err := h.ledger.SumByReferrer(ctx, uid, model.StatusPending)
	if err != nil {
		log.Errorf("err: %+v", errors.Wrap(err, "sum pending"))
		c.JSON(http.StatusInternalServerError, generr.ReadDB)
		return
	}

	m := make(map[string]interface{})
	m["user_id"] = user.ID
	m["membership_tier"] = user.MembershipTier
	m["tier_locked_manually"] = user.TierLockedManually
	m["total_personal_deposit"] = user.TotalPersonalDeposit
	m["total_earnings"] = user.TotalEarnings
	m["total_withdrawn"] = user.TotalWithdrawn
	m["ledger_paid"] = paid
	m["ledger_pending"] = pending
	success(c, m)
}
