package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"server-commission-app/config"
	"server-commission-app/internal/app/boot"
	"server-commission-app/internal/app/service"
	"server-commission-app/internal/db"
	"server-commission-app/internal/pkg/logger"
)

func main() {
	flag.Parse()
	config.Init()
	if err := logger.Init(logger.Options(config.Log)); err != nil {
		log.Fatalf("init logger: %v", err)
	}
	db.Init()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	app, err := boot.Build(ctx, db.MysqlCli)
	if err != nil {
		log.Fatalf("build app: %+v", err)
	}
	defer app.Close()

	go service.RunHttp(app.Handler)
	ticker := service.ReconcileTicker(ctx, app.Reconciler)

	// Wait for interrupt signal to gracefully shutdown the server with
	// a timeout of 5 seconds.
	quit := make(chan os.Signal, 1)
	// kill (no param) default send syscall.SIGTERM
	// kill -2 is syscall.SIGINT
	// kill -9 is syscall.SIGKILL but can't be catch, so don't need add it
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutdown Server ...")

	ticker.Stop()
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := service.GetHttp().Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	log.Info("Server exiting")
}
