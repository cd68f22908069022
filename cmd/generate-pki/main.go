// Command generate-pki builds the internal PKI for a
// set of replicas: one root certificate and one signed
// key pair per replica named in the supplied config.
package main

import (
	"flag"
	"net"
	"os"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-pluto/orset/config"
	"github.com/go-pluto/orset/crypto"
)

// Functions

// host strips the port off addr.
func host(addr string) string {

	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}

	return h
}

func main() {

	var err error
	var notBefore time.Time

	configFlag := flag.String("config", "config.toml", "Provide path to configuration file in TOML syntax.")
	outFlag := flag.String("out", "private", "Directory to store certificates and keys in.")
	validFrom := flag.String("start-date", "", "Creation date formatted as Jan 1 15:04:05 2011")
	validFor := flag.Duration("duration", (90 * 24 * time.Hour), "Duration that certificates will be valid for")
	rsaBits := flag.Int("rsa-bits", 2048, "Size of RSA keys to generate")
	flag.Parse()

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)

	if len(*validFrom) == 0 {

		// If no start date supplied, assume now.
		notBefore = time.Now()
	} else {

		// If start date supplied, try to parse.
		notBefore, err = time.Parse("Jan 2 15:04:05 2006", *validFrom)
		if err != nil {
			level.Error(logger).Log("msg", "failed to parse creation date of certificates", "err", err)
			os.Exit(1)
		}
	}

	// Add life-time of certificates to creation date.
	notAfter := notBefore.Add(*validFor)

	conf, err := config.LoadConfig(*configFlag)
	if err != nil {
		level.Error(logger).Log("msg", "failed to load config", "err", err)
		os.Exit(1)
	}

	if conf.Replica.Name == "" {
		level.Error(logger).Log("msg", "certificates need a replica name, set Name in config")
		os.Exit(1)
	}

	if err := os.MkdirAll(*outFlag, 0700); err != nil {
		level.Error(logger).Log("msg", "failed to create output directory", "err", err)
		os.Exit(1)
	}

	rootCert, rootKey, err := crypto.CreateRootCert(*outFlag, *rsaBits, notBefore, notAfter)
	if err != nil {
		level.Error(logger).Log("msg", "failed to generate root certificate", "err", err)
		os.Exit(1)
	}

	level.Info(logger).Log("msg", "generated root certificate", "dir", *outFlag)

	replicas := map[string][]string{
		conf.Replica.Name: {host(conf.Replica.ListenSyncAddr), host(conf.Replica.ListenAPIAddr)},
	}

	for name, addr := range conf.Peers {
		replicas[name] = []string{host(addr)}
	}

	for name, hosts := range replicas {

		err := crypto.CreateReplicaCert(*outFlag, name, *rsaBits, notBefore, notAfter, hosts, rootCert, rootKey)
		if err != nil {
			level.Error(logger).Log("msg", "failed to generate replica certificate", "replica", name, "err", err)
			os.Exit(1)
		}

		level.Info(logger).Log("msg", "generated replica certificate", "replica", name)
	}
}
