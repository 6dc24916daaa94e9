package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Filichkin/AV-ASSISTANT/app/config"
	"github.com/Filichkin/AV-ASSISTANT/app/service/monitor"
	"github.com/Filichkin/AV-ASSISTANT/app/service/store"
	"github.com/Filichkin/AV-ASSISTANT/app/util/mylog"
	"github.com/gofiber/fiber/v2/log"
	"github.com/samber/do"
)

const shutdownTimeout = 5 * time.Second

func main() {
	di := do.New()
	defer di.Shutdown()

	mylog.Preinit()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	do.ProvideValue(di, appCtx)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	do.ProvideValue(di, cfg)

	if err = mylog.Init(cfg); err != nil {
		log.Fatalf("logging init failed: %v", err)
	}

	do.Provide(di, store.New)
	do.Provide(di, monitor.New)

	monitorSvc, err := do.Invoke[*monitor.Service](di)
	if err != nil {
		log.Fatalf("monitor init failed: %v", err)
	}

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Info("Shutting down...")

		ctx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()

		if err := monitorSvc.Shutdown(ctx); err != nil {
			log.Errorf("shutdown failed: %v", err)
		}
	}()

	if err = monitorSvc.Listen(); err != nil {
		log.Fatalf("listen failed: %v", err)
	}
}
