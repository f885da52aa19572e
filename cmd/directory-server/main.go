package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ruteri/zk-keyservice/api/directoryhandler"
	"github.com/ruteri/zk-keyservice/api/server"
	"github.com/ruteri/zk-keyservice/cmd/flags"
	"github.com/ruteri/zk-keyservice/common"
	"github.com/ruteri/zk-keyservice/directory"
	"github.com/ruteri/zk-keyservice/metrics"
	"github.com/urfave/cli/v2"
)

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}

func main() {
	storageFlag := *flags.StorageFlag
	storageFlag.Value = cli.NewStringSlice("file://./directory-data")

	app := &cli.App{
		Name:  "directory-server",
		Usage: "Serve the public key directory",
		Flags: append([]cli.Flag{ListenAddrFlag, &storageFlag, flags.ConfigFlag, flags.LogServiceFlagFn("directory")}, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			cfg, err := flags.LoadConfig(cCtx)
			if err != nil {
				logger.Error("Failed to load config", "err", err)
				return err
			}

			blobs, err := flags.SetupStorage(cCtx, logger)
			if err != nil {
				logger.Error("Failed to set up storage", "err", err)
				return err
			}
			logger.Info("Directory storage ready", "location", blobs.LocationURI())

			metricsSrv, err := metrics.New(common.MetricsNamespace, cCtx.String(flags.MetricsAddrFlag.Name))
			if err != nil {
				logger.Error("Failed to create metrics server", "err", err)
				return err
			}

			dir := directory.NewPersistent(blobs, time.Now, logger)
			handler := directoryhandler.NewHandler(dir, cfg.PublishLimiter(), metricsSrv.Metrics(), logger)

			srv, err := server.New(flags.ConfigureServer(cCtx, logger, cCtx.String(ListenAddrFlag.Name)), handler, metricsSrv)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}
			srv.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			srv.Shutdown()
			logger.Info("Server shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
