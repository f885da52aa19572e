package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/zk-keyservice/api"
	"github.com/ruteri/zk-keyservice/common"
	"github.com/ruteri/zk-keyservice/config"
	"github.com/ruteri/zk-keyservice/interfaces"
	"github.com/ruteri/zk-keyservice/storage"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *api.HTTPServerConfig {
	cfg := api.DefaultHTTPServerConfig(listenAddr, logger)
	cfg.MetricsAddr = cCtx.String(MetricsAddrFlag.Name)
	cfg.EnablePprof = cCtx.Bool(PprofFlag.Name)
	cfg.DrainDuration = time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second
	return cfg
}

// LoadConfig reads the policy file named by --config, or the defaults.
func LoadConfig(cCtx *cli.Context) (*config.Config, error) {
	return config.Load(cCtx.String(ConfigFlag.Name))
}

// SetupStorage builds a blob store from every --storage URI. More than one
// URI gives a redundant multi-backend.
func SetupStorage(cCtx *cli.Context, logger *slog.Logger) (interfaces.BlobStore, error) {
	return storage.NewStorageBackendFactory(logger).FromURIs(cCtx.StringSlice(StorageFlag.Name))
}

var ConfigFlag = &cli.StringFlag{
	Name:    "config",
	Usage:   "YAML policy file (KDF cost, cipher, retention, password policy)",
	EnvVars: []string{"ZK_KEYSERVICE_CONFIG"},
}

var StorageFlag = &cli.StringSliceFlag{
	Name:  "storage",
	Usage: "storage backend URI (file://, s3://, vault://, memory://); repeat for redundancy",
}

var DirectoryURLFlag = &cli.StringFlag{
	Name:    "directory-url",
	Value:   "http://127.0.0.1:8080",
	Usage:   "public key directory server",
	EnvVars: []string{"ZK_KEYSERVICE_DIRECTORY_URL"},
}

var UserFlag = &cli.StringFlag{
	Name:     "user",
	Required: true,
	Usage:    "user id",
	EnvVars:  []string{"ZK_KEYSERVICE_USER"},
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var LogFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
}

var CommonFlags = append([]cli.Flag{
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}, LogFlags...)
