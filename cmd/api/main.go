package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/commercekit/eventrelay/breaker"
	breakerredis "github.com/commercekit/eventrelay/breaker/redis"
	"github.com/commercekit/eventrelay/config"
	"github.com/commercekit/eventrelay/internal/http/chi"
	"github.com/commercekit/eventrelay/metrics"
	"github.com/commercekit/eventrelay/provision"
	"github.com/commercekit/eventrelay/registry"
	"github.com/commercekit/eventrelay/webhook"
	webhookredis "github.com/commercekit/eventrelay/webhook/redis"
)

const TIMEOUT = 30 * time.Second

/* “a porta de entrada e saída da minha aplicação”
* Porque a porta de entrada? É no arquivo main.go, que vai ser compilado para gerar o executável da aplicação,
* onde é feita toda a “amarração” dos demais pacotes.
* É nele onde iniciamos as dependências, fazemos as configurações e a invocação dos pacotes que desempenham a lógica de negócio.

* E porque ele é a porta de saída da aplicação?
* https://eltonminetto.dev/post/2022-07-06-error-handling-cli-applications-golang/
 */

/*
 * As importações devem ser feitas apenas em uma direção: para baixo. O aplicativo (api, worker) importa camadas de negócios,
 * que importam a camada de armazenamento
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
	defer repo.Close(ctx)

	// The circuit state lives in Redis so the api and worker processes
	// share one view of each service's circuit.
	circuitBreaker := breaker.New(
		breaker.WithFailureThreshold(cfg.BreakerFailureThreshold),
		breaker.WithCooldown(cfg.BreakerCooldown()),
		breaker.WithStore(breakerredis.NewStore(repo.GetClient())),
	)
	reg := registry.New(
		registry.WithBreaker(circuitBreaker),
		registry.WithProbeInterval(cfg.ProbeInterval()),
	)
	go reg.Start(ctx)

	deliverer := webhook.NewDeliverer(repo)
	s := webhook.NewService(repo, deliverer,
		webhook.WithMaxDeliveryLifetime(cfg.MaxDeliveryLifetime()),
		webhook.WithRetentionWindow(cfg.RetentionWindow()),
	)

	if cfg.ProvisionFile != "" {
		loader := provision.NewLoader()
		if err := loader.Load(cfg.ProvisionFile); err != nil {
			fmt.Println(err)
			return
		}
		if err := loader.Apply(ctx, s, reg); err != nil {
			fmt.Println(err)
			return
		}
	}

	exporter, err := metrics.NewOTelExporter(metrics.NewStoreCollector(repo))
	if err != nil {
		fmt.Println(err)
		return
	}
	defer exporter.Shutdown(ctx)

	r := chi.Handlers(ctx, s, reg, exporter.ServeHTTP())
	http.Handle("/", r)
	srv := &http.Server{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		Addr:         ":" + cfg.Port,
		Handler:      http.DefaultServeMux,
	}

	errShutdown := make(chan error, 1)
	go shutdown(srv, ctx, errShutdown)
	fmt.Printf("Listening on port %s\n", cfg.Port)
	err = srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		fmt.Println(err)
		return
	}
	err = <-errShutdown
	if err != nil {
		fmt.Println(err)
		return
	}
}

func shutdown(server *http.Server, ctxShutdown context.Context, errShutdown chan error) {
	<-ctxShutdown.Done()

	ctxTimeout, stop := context.WithTimeout(context.Background(), TIMEOUT)
	defer stop()

	err := server.Shutdown(ctxTimeout)
	switch err {
	case nil:
		fmt.Printf("\nShutting down server...\n")
		errShutdown <- nil
	case context.DeadlineExceeded:
		errShutdown <- fmt.Errorf("Forcing closing the server")
	default:
		errShutdown <- fmt.Errorf("Forcing closing the server")
	}
}
