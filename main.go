package main

import (
	"context"
	"crypto/tls"
	"flag"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-pluto/orset/comm"
	"github.com/go-pluto/orset/config"
	"github.com/go-pluto/orset/crypto"
	"github.com/go-pluto/orset/node"
	"github.com/go-pluto/orset/server"
	"github.com/go-pluto/orset/storage"
	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
	"google.golang.org/grpc"
)

// Structs

// replica bundles everything one running
// replica of the set consists of.
type replica struct {
	name    string
	store   *storage.Store
	sender  *comm.Sender
	service node.Service
	syncSrv *grpc.Server
	apiSrv  *grpc.Server
	cancel  context.CancelFunc
	done    chan struct{}
}

// Functions

// initLogger initializes a JSON gokit-logger set
// to the according log level supplied via cli flag.
func initLogger(loglevel string) log.Logger {

	logger := log.NewJSONLogger(log.NewSyncWriter(os.Stdout))
	logger = log.With(logger,
		"ts", log.DefaultTimestampUTC,
		"caller", log.DefaultCaller,
	)

	switch strings.ToLower(loglevel) {
	case "info":
		logger = level.NewFilter(logger, level.AllowInfo())
	case "warn":
		logger = level.NewFilter(logger, level.AllowWarn())
	case "error":
		logger = level.NewFilter(logger, level.AllowError())
	default:
		logger = level.NewFilter(logger, level.AllowDebug())
	}

	return logger
}

// replicaName returns the configured name, the one
// persisted in store from an earlier run, or a freshly
// generated one, in this order.
func replicaName(conf *config.Config, store *storage.Store) (string, error) {

	if conf.Replica.Name != "" {
		return conf.Replica.Name, nil
	}

	state, err := store.Load()
	if err != nil {
		return "", err
	}

	if state.Replica != "" {
		return state.Replica, nil
	}

	name := uuid.NewV4().String()
	if _, found := conf.Peers[name]; found {
		return "", errors.Errorf("generated replica name %s collides with a peer", name)
	}

	return name, nil
}

// startReplica opens the state of the configured replica,
// connects it to its peers and starts serving peers on
// syncSocket and clients on apiSocket.
func startReplica(logger log.Logger, conf *config.Config, syncSocket net.Listener, apiSocket net.Listener) (*replica, error) {

	var tlsConfig *tls.Config

	if err := os.MkdirAll(filepath.Dir(conf.Replica.StateDB), 0700); err != nil {
		return nil, errors.Wrap(err, "failed to create directory for state database")
	}

	store, err := storage.Open(conf.Replica.StateDB)
	if err != nil {
		return nil, err
	}

	name, err := replicaName(conf, store)
	if err != nil {
		store.Close()
		return nil, err
	}

	logger = log.With(logger, "replica", name)

	if conf.TLS.Enabled() {

		tlsConfig, err = crypto.NewInternalTLSConfig(conf.TLS.CertLoc, conf.TLS.KeyLoc, conf.TLS.RootCertLoc)
		if err != nil {
			store.Close()
			return nil, err
		}
	}

	retry := time.Duration(conf.Replica.RetryInterval) * time.Millisecond
	if retry <= 0 {
		retry = 500 * time.Millisecond
	}

	sender, err := comm.InitSender(logger, name, conf.Peers, retry, comm.SenderOptions(tlsConfig))
	if err != nil {
		store.Close()
		return nil, err
	}

	svc, err := node.InitService(logger, name, sender.Nodes(), store, sender)
	if err != nil {
		sender.Shutdown()
		store.Close()
		return nil, err
	}

	svc = node.NewMetricsService(svc, NewReplicaMetrics(conf.Replica.PrometheusAddr))
	svc = node.NewLoggingService(svc, logger)

	syncSrv := grpc.NewServer(comm.ReceiverOptions(tlsConfig)...)
	comm.RegisterReceiverServer(syncSrv, comm.InitReceiver(logger, name, svc))

	apiSrv := grpc.NewServer(comm.ReceiverOptions(tlsConfig)...)
	server.Register(apiSrv, svc)

	ctx, cancel := context.WithCancel(context.Background())

	r := &replica{
		name:    name,
		store:   store,
		sender:  sender,
		service: svc,
		syncSrv: syncSrv,
		apiSrv:  apiSrv,
		cancel:  cancel,
		done:    make(chan struct{}, 3),
	}

	go func() {
		if err := syncSrv.Serve(syncSocket); err != nil {
			level.Error(logger).Log("msg", "failed to serve peers", "err", err)
		}
		r.done <- struct{}{}
	}()

	go func() {
		if err := apiSrv.Serve(apiSocket); err != nil {
			level.Error(logger).Log("msg", "failed to serve clients", "err", err)
		}
		r.done <- struct{}{}
	}()

	go func() {
		interval := time.Duration(conf.Replica.SyncInterval) * time.Millisecond
		node.RunAntiEntropy(ctx, logger, svc, sender, sender.Nodes(), interval)
		r.done <- struct{}{}
	}()

	level.Info(logger).Log(
		"msg", "replica running",
		"sync_addr", syncSocket.Addr().String(),
		"api_addr", apiSocket.Addr().String(),
		"peers", len(conf.Peers),
	)

	return r, nil
}

// stop shuts the replica down. Clients and peers get
// to finish their calls before the state is closed.
func (r *replica) stop() error {

	r.cancel()
	r.apiSrv.GracefulStop()
	r.syncSrv.GracefulStop()

	for i := 0; i < cap(r.done); i++ {
		<-r.done
	}

	r.sender.Shutdown()

	return r.store.Close()
}

func main() {

	// Set CPUs usable by the replica to all available.
	runtime.GOMAXPROCS(runtime.NumCPU())

	// Parse command-line flags.
	configFlag := flag.String("config", "config.toml", "Provide path to configuration file in TOML syntax.")
	envFlag := flag.String("env", "", "Provide path to a .env file overriding replica name (ORSET_NAME) and state database (ORSET_STATEDB).")
	loglevelFlag := flag.String("loglevel", "debug", "This flag sets the default logging level.")
	flag.Parse()

	// Initialize a logger.
	logger := initLogger(*loglevelFlag)

	// Read configuration from file.
	conf, err := config.LoadConfig(*configFlag)
	if err != nil {
		level.Error(logger).Log(
			"msg", "failed to load the config", "err", err,
		)
		os.Exit(1)
	}

	env, err := config.LoadEnv(*envFlag)
	if err == nil {
		err = env.Apply(conf)
	}
	if err != nil {
		level.Error(logger).Log(
			"msg", "failed to apply the environment", "err", err,
		)
		os.Exit(2)
	}

	syncSocket, err := net.Listen("tcp", conf.Replica.ListenSyncAddr)
	if err != nil {
		level.Error(logger).Log(
			"msg", "failed to listen for peers",
			"addr", conf.Replica.ListenSyncAddr,
			"err", err,
		)
		os.Exit(3)
	}

	apiSocket, err := net.Listen("tcp", conf.Replica.ListenAPIAddr)
	if err != nil {
		level.Error(logger).Log(
			"msg", "failed to listen for clients",
			"addr", conf.Replica.ListenAPIAddr,
			"err", err,
		)
		os.Exit(4)
	}

	r, err := startReplica(logger, conf, syncSocket, apiSocket)
	if err != nil {
		level.Error(logger).Log(
			"msg", "failed to start replica",
			"err", err,
		)
		os.Exit(5)
	}

	go runPromHTTP(logger, conf.Replica.PrometheusAddr)

	// Run until told to stop.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	level.Info(logger).Log("msg", "shutting down", "replica", r.name)

	if err := r.stop(); err != nil {
		level.Error(logger).Log(
			"msg", "failed to close state database",
			"err", err,
		)
		os.Exit(6)
	}
}
