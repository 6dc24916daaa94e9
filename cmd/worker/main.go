package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Filichkin/AV-ASSISTANT/app/client/agent"
	"github.com/Filichkin/AV-ASSISTANT/app/client/avito"
	"github.com/Filichkin/AV-ASSISTANT/app/config"
	"github.com/Filichkin/AV-ASSISTANT/app/service/store"
	"github.com/Filichkin/AV-ASSISTANT/app/service/worker"
	"github.com/Filichkin/AV-ASSISTANT/app/util/mylog"
	"github.com/gofiber/fiber/v2/log"
	"github.com/samber/do"
)

func main() {
	di := do.New()
	defer di.Shutdown()
	defer log.Info("Waiting for services to finish...")

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
	do.Provide(di, avito.NewClient)
	do.Provide(di, agent.NewClient)
	do.Provide(di, worker.New)

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Info("Shutting down...")

		cancel()
	}()

	agentClient, err := do.Invoke[*agent.Client](di)
	if err != nil {
		log.Fatalf("agent client init failed: %v", err)
	}

	if err = agentClient.Open(appCtx); err != nil {
		_ = agentClient.Close()
		log.Fatalf("agent open failed: %v", err)
	}
	defer agentClient.Close()

	workerSvc, err := do.Invoke[*worker.Service](di)
	if err != nil {
		log.Fatalf("worker init failed: %v", err)
	}

	slog.Info("Service started")

	if err = workerSvc.Run(appCtx); err != nil {
		slog.Error("Worker stopped with error", "error", err)
	}
}
