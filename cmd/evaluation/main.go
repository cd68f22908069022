// Command evaluation measures the latency of client
// operations against a running replica. It adds a number
// of values, checks their presence and removes them again,
// writing one line per operation to the output file.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-pluto/orset/comm"
	"github.com/go-pluto/orset/crypto"
	"github.com/go-pluto/orset/server"
	"google.golang.org/grpc"
)

func main() {

	addr := flag.String("addr", "", "API address of the replica (required)")
	output := flag.String("output", "", "output file (required)")
	values := flag.Int("values", 100, "number of values to add and remove")
	certLoc := flag.String("cert", "", "client certificate, enables TLS together with -key and -root")
	keyLoc := flag.String("key", "", "client key")
	rootLoc := flag.String("root", "", "root certificate of the replicas")
	flag.Parse()

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)

	if (*addr == "") || (*output == "") {
		level.Error(logger).Log("msg", "not enough arguments, try -h")
		os.Exit(1)
	}

	var tlsConfig *tls.Config
	var err error

	if *certLoc != "" {

		tlsConfig, err = crypto.NewInternalTLSConfig(*certLoc, *keyLoc, *rootLoc)
		if err != nil {
			level.Error(logger).Log("msg", "failed to load TLS config", "err", err)
			os.Exit(1)
		}
	}

	conn, err := grpc.Dial(*addr, comm.SenderOptions(tlsConfig)...)
	if err != nil {
		level.Error(logger).Log("msg", "failed to connect", "err", err)
		os.Exit(1)
	}
	defer conn.Close()

	client := server.NewClient(conn)

	f, err := os.OpenFile(*output, (os.O_APPEND | os.O_CREATE | os.O_WRONLY), 0600)
	if err != nil {
		level.Error(logger).Log("msg", "failed to open output file", "err", err)
		os.Exit(1)
	}
	defer f.Close()

	measure := func(i int, op string, call func(ctx context.Context) error) {

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		t1 := time.Now()
		if err := call(ctx); err != nil {
			level.Error(logger).Log("msg", "operation failed", "op", op, "i", i, "err", err)
			os.Exit(2)
		}
		diff := time.Since(t1)

		if _, err := fmt.Fprintf(f, "%d, %s, %s\r\n", i, op, diff); err != nil {
			level.Error(logger).Log("msg", "failed to write result", "err", err)
			os.Exit(3)
		}
	}

	for i := 0; i < *values; i++ {

		value := fmt.Sprintf("evaluation-%d", i)

		measure(i, "add", func(ctx context.Context) error {
			return client.Add(ctx, value)
		})

		measure(i, "contains", func(ctx context.Context) error {

			present, err := client.Contains(ctx, value)
			if (err == nil) && !present {
				return fmt.Errorf("value %s missing right after add", value)
			}

			return err
		})
	}

	for i := 0; i < *values; i++ {

		value := fmt.Sprintf("evaluation-%d", i)

		measure(i, "remove", func(ctx context.Context) error {
			return client.Remove(ctx, value)
		})
	}

	level.Info(logger).Log("msg", "done", "values", *values, "output", *output)
}
