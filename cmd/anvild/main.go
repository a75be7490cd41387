package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/anvilworks/anvil/cmd/anvild/handlers"
	"github.com/anvilworks/anvil/pkg/configs/controlplane"
	"github.com/anvilworks/anvil/pkg/domain/cluster"
	"github.com/anvilworks/anvil/pkg/domain/flow"
	"github.com/anvilworks/anvil/pkg/domain/ratelimit"
	"github.com/anvilworks/anvil/pkg/domain/reservation"
	resvstore "github.com/anvilworks/anvil/pkg/domain/reservation/memstore"
	"github.com/anvilworks/anvil/pkg/domain/resource"
	resstore "github.com/anvilworks/anvil/pkg/domain/resource/memstore"
	"github.com/anvilworks/anvil/pkg/domain/task"
	"github.com/anvilworks/anvil/pkg/domain/watch"
	"github.com/anvilworks/anvil/pkg/utils/echoutil"
	"github.com/anvilworks/anvil/pkg/utils/filewatch"
	"github.com/anvilworks/anvil/pkg/utils/kubeutil"
)

func main() {

	configPath := flag.String("config-path", "", "control plane config path")
	loglevel := flag.String("loglevel", "info", "log level. debug|info|warn|error|off")
	pcert := flag.String("cert", "", "certification file for TLS")
	pkey := flag.String("certkey", "", "key of certification file for TLS")
	flag.Parse()

	e := echo.New()
	e.Pre(middleware.AddTrailingSlash())

	// set log
	echoutil.SetLevel(e, *loglevel)
	e.HTTPErrorHandler = func(err error, ctx echo.Context) {
		e.DefaultHTTPErrorHandler(err, ctx)
		e.Logger.Error(err)
	}
	e.Use(echoutil.LogHandlerFunc)

	// read configfile
	conf, err := controlplane.LoadServerConfig(*configPath)
	if err != nil {
		log.Fatalf("can not read configration: %s", err)
	}

	ctx, stop := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	{
		wctx, cancel, err := filewatch.UntilModifyContext(ctx, *configPath)
		if err != nil {
			log.Fatalf("can not watch configration: %s", err)
		}
		defer cancel()
		context.AfterFunc(wctx, func() {
			log.Println("quit to restart server:", context.Cause(wctx))
			graceful, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := e.Shutdown(graceful); err != nil {
				log.Printf("error on shutdown: %s", err)
			}
		})
	}

	clusterConf := conf.Cluster()
	clientset, err := kubeutil.Connect()
	if err != nil {
		log.Fatalf("can not connect to kubernetes: %s", err)
	}
	cl := cluster.Attach(
		cluster.WrapClientset(clientset),
		cluster.Identity{
			Name:      "default",
			Namespace: clusterConf.Namespace(),
			Domain:    clusterConf.Domain(),
		},
	)

	// the in-memory store stands in for the platform's entity service.
	store := resstore.New()

	logger := log.Default()
	params := task.Params{
		PollInterval: clusterConf.Poll().Interval(),
		WaitTimeout:  clusterConf.Poll().WaitTimeout(),
		PollTimeout:  clusterConf.Poll().PollTimeout(),
	}
	flows := flow.New(cl, store, params, logger)

	registry := watch.NewRegistry(
		ctx, watch.NewScheduler(),
		func(ctx context.Context, key watch.Key) (resource.Resource, error) {
			return store.Get(ctx, key.Id)
		},
		logger,
	)
	watchParams := handlers.WatchParams{
		PollInterval: clusterConf.Poll().Interval(),
		PollTimeout:  clusterConf.Poll().PollTimeout(),
	}

	apiKeyLimiter := ratelimit.NewAPIKeyLimiter(clusterConf.RateLimit().APIKeyTokens())
	nodeLimiter := ratelimit.NewNodeLimiter(clusterConf.RateLimit().NodeTokens())

	signKey := []byte(clusterConf.Reservation().SignKey())
	if len(signKey) == 0 {
		signKey, err = reservation.ClusterSignKey(ctx, cl, params, "anvil-credential-signer")
		if err != nil {
			log.Fatalf("can not provision the credential signing key: %s", err)
		}
	}
	nodes := reservation.New(
		resvstore.New(),
		reservation.NewHS256Issuer(signKey, clusterConf.Reservation().Issuer()),
		clusterConf.Reservation().Duration(),
		logger,
	)

	apiLimited := handlers.RateLimit(apiKeyLimiter, handlers.APIKeyIdentity)
	nodeLimited := handlers.RateLimit(nodeLimiter, handlers.NodeIdentity("shortSmId"))

	// handlers
	{
		resourceId := "resourceId"
		resources := e.Group("/api/resources", apiLimited)
		resources.GET("/:resourceId/", handlers.GetResourceHandler(store, resourceId))
		resources.GET("/:resourceId/watch/", handlers.WatchResourceHandler(registry, store, watchParams, resourceId))
		resources.PUT("/:resourceId/deploy/", handlers.DeployHandler(flows, store, resourceId))
		resources.PUT("/:resourceId/redeploy/", handlers.RedeployHandler(flows, store, resourceId))
		resources.PUT("/:resourceId/cancel/", handlers.CancelHandler(flows, store, resourceId))
		resources.DELETE("/:resourceId/", handlers.DeleteResourceHandler(flows, store, resourceId))
	}

	{
		shortSmId := "shortSmId"
		e.POST("/api/reservations/", handlers.ReserveNodeHandler(nodes), apiLimited)
		e.POST("/api/nodes/:shortSmId/errors/", handlers.ReportNodeErrorHandler(nodes, shortSmId), nodeLimited)
		e.GET("/api/nodes/:shortSmId/errors/", handlers.GetNodeErrorsHandler(nodes, shortSmId), nodeLimited)
	}

	log.Println("registred routes:")
	for _, r := range e.Routes() {
		log.Println(r.Method, r.Path)
	}

	context.AfterFunc(ctx, func() {
		graceful, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := e.Shutdown(graceful); err != nil {
			log.Printf("error on shutdown: %s", err)
		}
	})

	port := fmt.Sprintf(":%d", conf.Port())
	cert, key := *pcert, *pkey
	if cert != "" && key != "" {
		e.Logger.Fatal(e.StartTLS(port, cert, key))
	} else {
		e.Logger.Fatal(e.Start(port))
	}
}
