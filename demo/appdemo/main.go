package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/curtisnewbie/evbus/core"
	"github.com/curtisnewbie/evbus/demo/appdemo/identity"
	"github.com/curtisnewbie/evbus/demo/appdemo/listening"
	"github.com/curtisnewbie/evbus/middleware/rabbit"
	"github.com/curtisnewbie/evbus/middleware/redis"
	"github.com/curtisnewbie/evbus/middleware/sqlite"
	"github.com/curtisnewbie/evbus/util/errs"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"
)

func init() {
	core.SetDefProp(core.PropAppName, "appdemo")
	core.SetDefProp(core.PropProdMode, false)
	core.SetDefProp(redis.PropRedisEnabled, true)
	core.SetDefProp(sqlite.PropSqliteFile, "appdemo.db")
}

func main() {
	if err := run(os.Args); err != nil {
		core.Errorf("appdemo exited, %v", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	undo, err := maxprocs.Set(maxprocs.Logger(core.Debugf))
	if err != nil {
		core.Warnf("Failed to set GOMAXPROCS, %v", err)
	}
	defer undo()

	core.DefaultReadConfig(args)
	rail := core.EmptyRail()
	if err := core.ConfigureLogging(rail); err != nil {
		return err
	}
	core.LoadPropagationKeys(rail)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checks := []healthCheck{}

	if redis.IsEnabled() {
		if _, err := redis.InitRedisFromProp(rail); err != nil {
			return err
		}
		defer redis.CloseRedis()
		checks = append(checks, healthCheck{Name: "redis", Check: redis.Ping})
	}

	db, err := sqlite.InitSqliteFromProp(rail)
	if err != nil {
		return err
	}

	conn := rabbit.NewConnectionFromProp()
	bus, err := rabbit.NewEventBusFromProp(conn)
	if err != nil {
		return err
	}
	defer func() {
		if err := bus.Dispose(rail); err != nil {
			rail.Errorf("Failed to dispose event bus, %v", err)
		}
	}()
	checks = append(checks, healthCheck{Name: "rabbitmq", Check: func(r core.Rail) error {
		if !conn.IsConnected() {
			return rabbit.ErrNotConnected.New()
		}
		return nil
	}})

	if ok, err := conn.TryConnect(rail); !ok {
		if err == nil {
			err = rabbit.ErrNotConnected.New()
		}
		return errs.WrapErrf(err, "failed to connect to %v", conn)
	}

	if redis.IsEnabled() {
		if err := listening.Register(rail, bus, listening.NewEncodingEpisodeStore(), db); err != nil {
			return err
		}
	}
	if err := identity.Register(rail, bus, identity.NewNotifier(identity.LogSmsSender{})); err != nil {
		return err
	}

	if err := core.ScheduleCron(core.Job{
		Name:       "SubscriptionSnapshotJob",
		Cron:       "*/5 * * * *",
		LogJobExec: false,
		Run: func(r core.Rail) error {
			r.Infof("Subscriptions: %v, consuming: %v", bus.Subscribed(), bus.Consuming())
			return nil
		},
	}); err != nil {
		return err
	}
	core.StartSchedulerAsync()
	defer core.StopScheduler()

	srv := &http.Server{
		Addr:    fmt.Sprintf("%v:%v", core.GetPropStr(core.PropServerHost), core.GetPropInt(core.PropServerPort)),
		Handler: newRouter(rail, bus, checks),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rail.Infof("Http server listening on %v", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errs.WrapErrf(err, "http server failed")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := time.Duration(core.GetPropInt(core.PropServerGracefulShutdownTimeSec)) * time.Second
		rail.Infof("Shutting down http server, timeout: %v", timeout)
		sctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
