package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/orbgate/orbgate/internal/agents"
	"github.com/orbgate/orbgate/internal/config"
	"github.com/orbgate/orbgate/internal/descriptor"
	"github.com/orbgate/orbgate/internal/gateway"
	"github.com/orbgate/orbgate/internal/logx"
	"github.com/orbgate/orbgate/internal/mapping"
	"github.com/orbgate/orbgate/internal/metrics"
	"github.com/orbgate/orbgate/internal/outbound"
	"github.com/orbgate/orbgate/internal/server"
	"github.com/orbgate/orbgate/internal/serverstate"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	var cfg config.ServerConfig
	// Resolve config with precedence: defaults < file < env < args.
	cfg.SetDefaults()
	cfg.ApplyEnv()
	for i := 1; i < len(os.Args); i++ {
		a := os.Args[i]
		if a == "--config" && i+1 < len(os.Args) {
			cfg.ConfigFile = os.Args[i+1]
			break
		}
		if strings.HasPrefix(a, "--config=") {
			cfg.ConfigFile = strings.TrimPrefix(a, "--config=")
			break
		}
	}
	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			logx.Log.Fatal().Err(err).Str("path", cfg.ConfigFile).Msg("load config")
		}
	}
	cfg.ApplyEnv()
	cfg.BindFlagsFromCurrent()
	flag.Parse()
	if *showVersion {
		fmt.Printf("orbgate version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}

	logx.Configure(cfg.LogLevel)
	metrics.Register(prometheus.DefaultRegisterer)
	metrics.SetBuildInfo(version, buildSHA, buildDate)

	if cfg.SourceSchema == "" || cfg.TargetSchema == "" {
		logx.Log.Fatal().Msg("both --source-schema and --target-schema are required")
	}
	source, err := descriptor.Load(cfg.SourceSchema)
	if err != nil {
		logx.Log.Fatal().Err(err).Msg("load source schema")
	}
	target, err := descriptor.Load(cfg.TargetSchema)
	if err != nil {
		logx.Log.Fatal().Err(err).Msg("load target schema")
	}
	overrides, err := mapping.LoadOverrides(cfg.OverridesFile)
	if err != nil {
		logx.Log.Fatal().Err(err).Msg("load mapping overrides")
	}
	// A mismatched schema pair must surface here, before traffic arrives.
	table, err := mapping.Build(source, target, overrides)
	if err != nil {
		logx.Log.Fatal().Err(err).Msg("build mapping table")
	}
	logx.Log.Info().Str("source", source.Name).Str("target", target.Name).
		Int("operations", table.Len()).Msg("mapping table built")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var out gateway.Outbound
	var reg *agents.Registry
	if cfg.TargetURL != "" {
		httpOut := outbound.NewHTTP(cfg.TargetURL, cfg.TargetAPIKey)
		if err := httpOut.Probe(ctx, 5*time.Second); err != nil {
			logx.Log.Warn().Err(err).Msg("target endpoint probe failed; continuing")
		}
		out = httpOut
		logx.Log.Info().Str("target_url", cfg.TargetURL).Msg("using HTTP outbound transport")
	} else {
		reg = agents.NewRegistry()
		out = &agents.Dispatcher{Reg: reg, Interface: target.Name}
		logx.Log.Info().Str("interface", target.Name).Msg("using websocket agent outbound transport")
	}

	if cfg.RedisAddr != "" {
		rs, err := serverstate.NewRedisStore(cfg.RedisAddr)
		if err != nil {
			logx.Log.Fatal().Err(err).Msg("connect redis")
		}
		serverstate.UseStore(rs)
		logx.Log.Info().Str("addr", cfg.RedisAddr).Msg("using redis state store")
	}

	gw := gateway.New(table, out, cfg.DefaultTimeout)
	handler := server.New(ctx, gw, reg, source.Name, cfg)
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: handler}

	if addr := cfg.ResolvedMetricsAddr(); addr != fmt.Sprintf(":%d", cfg.Port) {
		go func() {
			msrv := &http.Server{Addr: addr, Handler: promhttp.Handler()}
			if err := msrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logx.Log.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	go func() {
		<-ctx.Done()
		serverstate.StartDrain()
		logx.Log.Info().Dur("drain_timeout", cfg.DrainTimeout).Msg("draining")
		shutCtx, cancel := context.WithTimeout(context.Background(), cfg.DrainTimeout)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	if cfg.APIKey != "" {
		logx.Log.Info().Msg("caller API key auth enabled")
	}
	if cfg.AgentKey != "" {
		logx.Log.Info().Msg("agent key required")
	}
	serverstate.SetState("ready")
	logx.Log.Info().Int("port", cfg.Port).Msg("gateway starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logx.Log.Fatal().Err(err).Msg("gateway error")
	}
}
