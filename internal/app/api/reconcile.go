package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"server-commission-app/internal/app/reconcile"
	"server-commission-app/internal/pkg/generr"
)

// Reconcile runs one reconciliation over the given scope.
func (h *Handler) Reconcile(c *gin.Context) {
	var scope reconcile.Scope
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&scope); err != nil {
			log.Errorf("err: %+v", errors.Wrap(err, "should bind"))
			c.JSON(http.StatusBadRequest, generr.ParseParam)
			return
		}
	}

	report, err := h.rec.Reconcile(c.Request.Context(), scope)
	if err != nil {
		fail(c, err, generr.ReconcileError, "reconcile")
		return
	}
	success(c, report)
}

type repairReq struct {
	UserID   string `json:"user_id" binding:"required"`
	Operator string `json:"operator" binding:"required"`
	Reason   string `json:"reason" binding:"required"`
}

func (h *Handler) RepairEarnings(c *gin.Context) {
	var req repairReq
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Errorf("err: %+v", errors.Wrap(err, "should bind"))
		c.JSON(http.StatusBadRequest, generr.ParseParam)
		return
	}

	correction, err := h.rec.RepairEarnings(c.Request.Context(), req.UserID, req.Operator, req.Reason)
	if err != nil {
		fail(c, err, generr.RepairError, "repair earnings")
		return
	}
	success(c, correction)
}

func (h *Handler) RepairPersonalDeposit(c *gin.Context) {
	var req repairReq
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Errorf("err: %+v", errors.Wrap(err, "should bind"))
		c.JSON(http.StatusBadRequest, generr.ParseParam)
		return
	}

	correction, err := h.rec.RepairPersonalDeposit(c.Request.Context(), req.UserID, req.Operator, req.Reason)
	if err != nil {
		fail(c, err, generr.RepairError, "repair personal deposit")
		return
	}
	success(c, correction)
}
