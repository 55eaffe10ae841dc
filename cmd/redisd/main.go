// Command redisd runs the server: it parses CLI flags, loads (or connects
// to replicate) a keyspace, and serves RESP clients until a shutdown
// signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"rediscore/internal/config"
	"rediscore/internal/engine"
	"rediscore/internal/keyspace"
	"rediscore/internal/listener"
	"rediscore/internal/logging"
	"rediscore/internal/metrics"
	"rediscore/internal/rdb"
	"rediscore/internal/replication"
)

func main() {
	cfg := parseFlags()
	log := logging.New(os.Getenv("REDISD_LOG_LEVEL"))

	dbs := keyspace.NewDatabases()

	repl, err := bootstrap(cfg, dbs, log)
	if err != nil {
		log.WithError(err).Fatal("startup failed")
	}

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, m, log)
	}

	eng := engine.New(cfg, dbs, repl, m, log)
	lst := listener.New(cfg, eng, m, log)

	role := "master"
	if repl.IsReplica() {
		role = "slave"
	}
	log.WithFields(logrus.Fields{
		"addr": fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		"role": role,
		"keys": dbs.Default().Len(),
	}).Info("starting redisd")

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
		lst.Shutdown(5 * time.Second)
	}()

	if repl.IsReplica() {
		go runReplicaLink(cfg, repl, eng, log)
	}

	if err := lst.Run(ctx); err != nil {
		log.WithError(err).Error("listener stopped")
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func serveMetrics(addr string, m *metrics.Metrics, log *logrus.Logger) {
	log.WithField("addr", addr).Info("serving metrics")
	if err := http.ListenAndServe(addr, m.Handler()); err != nil {
		log.WithError(err).Warn("metrics server stopped")
	}
}

// bootstrap either loads the on-disk RDB snapshot (primary) or constructs
// the replica's replication state; the handshake itself runs later, once
// the listener is accepting, so a replica already serves clients while
// syncing.
func bootstrap(cfg *config.Config, dbs *keyspace.Databases, log *logrus.Logger) (*replication.State, error) {
	if cfg.IsReplica() {
		return replication.NewReplicaOf(log, cfg.ReplicaOfHost, cfg.ReplicaOfPort), nil
	}

	snap, err := rdb.Load(cfg.RDBPath())
	if err != nil {
		return nil, err
	}
	snap.Populate(dbs)
	return replication.NewPrimary(log), nil
}

// runReplicaLink runs the handshake-and-stream loop against the primary,
// retrying with a fixed backoff on failure (spec.md §4.5: "it MAY retry
// with exponential backoff; implementation-defined").
func runReplicaLink(cfg *config.Config, repl *replication.State, eng *engine.Engine, log *logrus.Logger) {
	link := replication.NewLink(log, repl, eng.Apply)
	for {
		if err := link.Run(cfg.Port); err != nil {
			log.WithError(err).Warn("replica link failed, retrying")
			time.Sleep(time.Second)
		}
	}
}

func parseFlags() *config.Config {
	def := config.DefaultConfig()

	dir := flag.String("dir", def.Dir, "RDB directory")
	dbfilename := flag.String("dbfilename", def.DBFilename, "RDB filename")
	host := flag.String("host", def.Host, "bind host")
	port := flag.Int("port", def.Port, "bind port")
	replicaof := flag.String("replicaof", "", `run as replica of "<host> <port>"`)
	metricsAddr := flag.String("metrics-addr", "", "address to serve Prometheus metrics on (empty disables)")
	flag.Parse()

	cfg := config.DefaultConfig()
	cfg.Dir = *dir
	cfg.DBFilename = *dbfilename
	cfg.Host = *host
	cfg.Port = *port
	cfg.MetricsAddr = *metricsAddr

	if *replicaof != "" {
		parts := strings.Fields(*replicaof)
		if len(parts) != 2 {
			fmt.Fprintln(os.Stderr, `--replicaof requires "<host> <port>"`)
			os.Exit(1)
		}
		p, err := strconv.Atoi(parts[1])
		if err != nil {
			fmt.Fprintln(os.Stderr, "--replicaof: invalid port")
			os.Exit(1)
		}
		cfg.ReplicaOfHost = parts[0]
		cfg.ReplicaOfPort = p
	}

	return cfg
}
