package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudflare/fgrib/metrics"
	"github.com/cloudflare/fgrib/mrt"
	"github.com/cloudflare/fgrib/rib"
	server "github.com/cloudflare/fgrib/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

const AppVersion = "fgrib 2024.1.0"

var (
	flagLogLevel = cli.StringFlag{
		Name:   "loglevel",
		Value:  "info",
		Usage:  "Log level",
		EnvVar: "FGRIB_LOGLEVEL",
	}
	flagWorkers = cli.IntFlag{
		Name:   "workers",
		Value:  4,
		Usage:  "Number of workers applying updates",
		EnvVar: "FGRIB_WORKERS",
	}
	flagMrtOut = cli.StringFlag{
		Name:   "mrt.out",
		Usage:  "Write an MRT TABLE_DUMP_V2 of the RIB to this file on exit",
		EnvVar: "FGRIB_MRT_OUT",
	}
	flagMrtCollector = cli.StringFlag{
		Name:   "mrt.collector",
		Value:  "0.0.0.0",
		Usage:  "Collector BGP identifier written in the MRT peer index table",
		EnvVar: "FGRIB_MRT_COLLECTOR",
	}
	flagMetricsAddr = cli.StringFlag{
		Name:   "metrics.addr",
		Usage:  "Serve Prometheus metrics on this address (disabled when empty)",
		EnvVar: "FGRIB_METRICS_ADDR",
	}
)

func main() {
	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Println(AppVersion)
	}

	app := cli.NewApp()
	app.Name = "fgrib"
	app.Usage = "Apply route updates to a RIB and resolve next hops"
	app.UsageText = "fgrib [options] [feed files...]"
	app.Version = AppVersion
	app.Flags = []cli.Flag{
		flagLogLevel,
		flagWorkers,
		flagMrtOut,
		flagMrtCollector,
		flagMetricsAddr,
	}
	app.Before = initEnv
	app.Action = Run

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func initEnv(ctx *cli.Context) error {
	lvl, err := log.ParseLevel(ctx.String("loglevel"))
	if err != nil {
		return err
	}
	log.SetLevel(lvl)
	log.SetOutput(os.Stderr)
	return nil
}

func serveMetrics(addr string, r rib.Rib, uh *server.UpdateHandler) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(r, uh))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		log.Infof("Serving metrics on %v", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Errorf("Metrics server: %v", err)
		}
	}()
}

func runFeeds(ctx context.Context, files []string, uh *server.UpdateHandler) error {
	if len(files) == 0 {
		return server.RunFeed(ctx, os.Stdin, uh, os.Stdout)
	}
	for _, name := range files {
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		log.Infof("Reading feed %v", name)
		err = server.RunFeed(ctx, f, uh, os.Stdout)
		f.Close()
		if err != nil {
			return fmt.Errorf("%v: %w", name, err)
		}
	}
	return nil
}

func writeMrt(name string, collector string, r rib.Rib) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)

	if err := mrt.DumpRib(w, r, net.ParseIP(collector), "fgrib", time.Now().UTC()); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func Run(ctx *cli.Context) error {
	if net.ParseIP(ctx.String("mrt.collector")).To4() == nil {
		return fmt.Errorf("invalid collector id %q", ctx.String("mrt.collector"))
	}

	sigctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := rib.NewRib()
	uh := server.CreateUpdateHandler(r, ctx.Int("workers"))
	defer uh.Close()

	if addr := ctx.String("metrics.addr"); addr != "" {
		serveMetrics(addr, r, uh)
	}

	err := runFeeds(sigctx, ctx.Args(), uh)
	uh.Flush()

	prefixes, routes := r.GetCounts()
	processed, failed := uh.Counts()
	log.Infof("RIB holds %v prefixes, %v routes (%v events applied, %v rejected)", prefixes, routes, processed, failed)

	if name := ctx.String("mrt.out"); name != "" {
		if errMrt := writeMrt(name, ctx.String("mrt.collector"), r); errMrt != nil {
			log.Errorf("Writing MRT dump: %v", errMrt)
			if err == nil {
				err = errMrt
			}
		} else {
			log.Infof("Wrote MRT dump to %v", name)
		}
	}
	return err
}
