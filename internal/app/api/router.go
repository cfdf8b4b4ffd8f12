package api

import (
	"github.com/gin-gonic/gin"

	"server-commission-app/internal/pkg/middleware"
)

// Register mounts every route on r. All routes are signed with signKey.
func (h *Handler) Register(r gin.IRouter, signKey string) {
	signed := middleware.ValidateSign(signKey)

	depositGroup := r.Group("/deposit")
	depositGroup.Use(signed)
	depositGroup.POST("/confirmed", h.DepositConfirmed)

	commissionGroup := r.Group("/commission")
	commissionGroup.Use(signed)
	commissionGroup.GET("/records", h.ListRecords)
	commissionGroup.GET("/export", h.ExportRecords)
	commissionGroup.POST("/records/:id/correct", h.CorrectRecord)
	commissionGroup.POST("/settle", h.Settle)

	tierGroup := r.Group("/tier")
	tierGroup.Use(signed)
	tierGroup.GET("/rates", h.GetRates)
	tierGroup.PUT("/rates", h.PutRates)

	reconcileGroup := r.Group("/reconcile")
	reconcileGroup.Use(signed)
	reconcileGroup.POST("", h.Reconcile)
	reconcileGroup.POST("/repair/earnings", h.RepairEarnings)
	reconcileGroup.POST("/repair/deposit", h.RepairPersonalDeposit)

	userGroup := r.Group("/user")
	userGroup.Use(signed)
	userGroup.GET("/:id/earnings", h.UserEarnings)
}
