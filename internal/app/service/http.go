package service

import (
	"fmt"
	"net/http"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"server-commission-app/config"
	"server-commission-app/internal/app/api"
)

var srv *http.Server

func NewRouter(h *api.Handler) *gin.Engine {
	if config.Server.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	pprof.Register(r)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	h.Register(r, config.Server.SignKey)
	return r
}

func RunHttp(h *api.Handler) {
	srv = &http.Server{
		Addr:    fmt.Sprintf("%s:%s", config.Server.Host, config.Server.Port),
		Handler: NewRouter(h),
	}

	log.Infof("Start to listen %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("listen: %s\n", err)
	}
}

func GetHttp() *http.Server {
	return srv
}
