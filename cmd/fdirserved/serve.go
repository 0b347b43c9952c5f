package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/yechoo0321/fdircore/internal/binlog"
	"github.com/yechoo0321/fdircore/internal/clusterinfo"
	"github.com/yechoo0321/fdircore/internal/config"
	"github.com/yechoo0321/fdircore/internal/datathread"
	"github.com/yechoo0321/fdircore/internal/fdirctx"
	"github.com/yechoo0321/fdircore/internal/replication"
	"github.com/yechoo0321/fdircore/internal/service"
)

// serveCmd implements subcommands.Command for "serve": it loads a
// TOML config, wires every internal package into one running node,
// and blocks until interrupted.
type serveCmd struct {
	configPath string
	master     bool
}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "run an fdircore server node" }
func (*serveCmd) Usage() string {
	return `serve -config <path> [-master]:
  Run a server node using the settings in the TOML config file at <path>.
`
}

func (c *serveCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "config", "fdir.conf", "path to the TOML config file")
	f.BoolVar(&c.master, "master", false, "start this node as replication master")
}

func (c *serveCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	log, _ := args[0].(*logrus.Entry)
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	cfg, err := config.Load(c.configPath)
	if err != nil {
		log.WithError(err).Error("loading config")
		return subcommands.ExitFailure
	}

	fctx := fdirctx.New(cfg.Server.ClusterID, log)
	fctx.SetMaster(c.master)

	infoPath := filepath.Join(cfg.Binlog.Dir, "cluster.info")
	info, err := clusterinfo.Load(infoPath)
	if err != nil {
		log.WithError(err).Error("loading cluster.info")
		return subcommands.ExitFailure
	}

	pool := datathread.NewPool(fctx, cfg.Server.DataThreadCount)
	pool.Start()
	defer pool.Stop()

	producer, err := binlog.NewProducer(cfg.Binlog.Dir, cfg.Binlog.RotateSizeBytes)
	if err != nil {
		log.WithError(err).Error("opening binlog producer")
		return subcommands.ExitFailure
	}
	defer producer.Close()

	var engine *replication.Engine
	if c.master && len(cfg.Cluster.Seeds) > 0 {
		engine = replication.NewEngine(cfg.Server.ClusterID, cfg.Server.ServerID, cfg.Binlog.Dir, cfg.Binlog.TaskBufferBytes, producer, replication.TCPTransport{MaxBodyBytes: cfg.Server.MaxBodyBytes}, log)
		engine.OnStatusChange = func(serverID uint32, status clusterinfo.Status) {
			info.Set(fmt.Sprint(serverID), clusterinfo.ServerInfo{IsMaster: false, Status: status, LastDataVersion: fctx.CurrentDataVersion()})
			if err := clusterinfo.Save(infoPath, info); err != nil {
				log.WithError(err).Warn("persisting cluster.info")
			}
		}
		for _, seed := range cfg.Cluster.Seeds {
			slave := engine.AddSlave(replication.SlaveConfig{ServerID: seed.ServerID, Addr: seed.Addr})
			go slave.Run(ctx)
		}
	}

	srv := service.NewServer(fctx, pool, producer, engine)

	stop := make(chan struct{})
	go fctx.RunDelayFreeTicker(5*time.Second, stop)
	go srv.RunCursorSweeper(30*time.Second, stop)
	defer close(stop)

	ln, err := net.Listen("tcp", cfg.Server.ServiceAddr)
	if err != nil {
		log.WithError(err).Error("binding service listener")
		return subcommands.ExitFailure
	}
	defer ln.Close()

	log.WithField("addr", cfg.Server.ServiceAddr).Info("fdircore serving")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, unix.SIGINT, unix.SIGTERM)
	go func() {
		<-sig
		log.Info("shutting down")
		ln.Close()
	}()

	lcfg := service.ListenerConfig{
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		RateLimit:    rate.Limit(cfg.Server.ConnRateLimit),
		RateBurst:    cfg.Server.ConnRateBurst,
	}
	if err := service.Serve(ln, srv, lcfg); err != nil {
		log.WithError(err).Info("listener stopped")
	}
	return subcommands.ExitSuccess
}
