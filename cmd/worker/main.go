package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/commercekit/eventrelay/config"
	"github.com/commercekit/eventrelay/webhook"
	webhookredis "github.com/commercekit/eventrelay/webhook/redis"
	"github.com/commercekit/eventrelay/worker"
)

/* O worker consome a fila de jobs: fan-out de eventos, tentativas de
* entrega, rechecagem de saúde e limpeza. Pode rodar em quantas réplicas
* forem necessárias; a fila garante que cada job é reivindicado uma vez.
 */

func main() {
	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Println(err)
		return
	}
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT,
	)
	defer stop()
	repo, err := webhookredis.NewRepository(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		fmt.Println(err)
		return
	}
	defer repo.Close(context.Background())

	deliverer := webhook.NewDeliverer(repo)
	s := webhook.NewService(repo, deliverer,
		webhook.WithMaxDeliveryLifetime(cfg.MaxDeliveryLifetime()),
		webhook.WithRetentionWindow(cfg.RetentionWindow()),
	)

	runner := worker.NewRunner(s, deliverer, repo,
		worker.WithConcurrency(worker.Concurrency{
			Delivery:    cfg.WorkerDeliveryConcurrency,
			Event:       cfg.WorkerEventConcurrency,
			HealthCheck: cfg.WorkerHealthCheckConcurrency,
			Cleanup:     cfg.WorkerCleanupConcurrency,
		}),
		worker.WithHealthCheckInterval(cfg.HealthCheckInterval()),
		worker.WithCleanupInterval(cfg.CleanupInterval()),
	)

	fmt.Println("Worker started")
	runner.Run(ctx)
	fmt.Println("Worker stopped")
}
