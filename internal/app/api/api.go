package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"server-commission-app/internal/app/commission"
	"server-commission-app/internal/app/reconcile"
	"server-commission-app/internal/dao"
	"server-commission-app/internal/pkg/generr"
)

// Handler gin handlers of the intake and admin surface.
type Handler struct {
	svc      *commission.Service
	rec      *reconcile.Reconciler
	ledger   *dao.Ledger
	users    *dao.User
	deposits *dao.Deposit
	audit    *dao.Audit
}

func New(db *gorm.DB, svc *commission.Service, rec *reconcile.Reconciler) *Handler {
	return &Handler{
		svc:      svc,
		rec:      rec,
		ledger:   dao.NewLedger(db),
		users:    dao.NewUser(db),
		deposits: dao.NewDeposit(db),
		audit:    dao.NewAudit(db),
	}
}

func success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, struct {
		Code int         `json:"code"`
		Msg  string      `json:"msg"`
		Data interface{} `json:"data"`
	}{200, "success", data})
}

// fail maps service errors onto generr codes. fallback is used for storage
// and unexpected errors.
func fail(c *gin.Context, err error, fallback error, msg string) {
	log.Errorf("err: %+v", errors.Wrap(err, msg))
	switch {
	case errors.Is(err, commission.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, generr.InvalidRequest)
	case dao.IsNotFound(err):
		c.JSON(http.StatusNotFound, generr.NotFound)
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusServiceUnavailable, generr.ServerError)
	default:
		c.JSON(http.StatusInternalServerError, fallback)
	}
}
