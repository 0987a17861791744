// Command gateway runs the privacy-preserving JSON-RPC gateway: an HTTP
// forwarder plus either a WS relay or WS demo handler, wired the way the
// original's App::run/OneRpc::serve chose between the two at startup.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/privacyrpc/gateway/internal/config"
	"github.com/privacyrpc/gateway/internal/forwarder"
	"github.com/privacyrpc/gateway/internal/metrics"
	"github.com/privacyrpc/gateway/internal/pool"
	"github.com/privacyrpc/gateway/internal/router"
	"github.com/privacyrpc/gateway/internal/wsdemo"
	"github.com/privacyrpc/gateway/internal/wsrelay"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("gateway: fatal")
	}
}

func run(args []string) error {
	a, err := config.ParseArgs(args)
	if err != nil {
		return err
	}

	tuning, err := config.LoadTuning(a.TuningPath)
	if err != nil {
		return err
	}
	configureLogging(tuning.LogLevel)

	routes, err := router.Load(a.Routes)
	if err != nil {
		return err
	}

	reg := metrics.New()
	p := pool.New(tuning.PoolSize, tuning.RequestTimeout)

	root := mux.NewRouter()
	root.HandleFunc("/health", healthHandler).Methods(http.MethodGet)

	if a.IsDemo {
		demo := wsdemo.New()
		demo.Metrics = reg
		fwd := forwarder.New(routes, p, demo, reg, tuning.HTTPMaxBodyLength, tuning.RequestTimeout)
		root.PathPrefix("/ws/").Handler(demo)
		root.PathPrefix("/").Handler(fwd)
		log.Info().Msg("gateway: starting in demo mode")
	} else {
		relay := wsrelay.New(routes, wsrelay.Config{
			FrameSize:     tuning.WSFrameSize,
			KeepAlive:     tuning.WSKeepAlive,
			MaxBodyLength: tuning.WSMaxBodyLength,
		})
		relay.Metrics = reg
		fwd := forwarder.New(routes, p, nil, reg, tuning.HTTPMaxBodyLength, tuning.RequestTimeout)
		root.PathPrefix("/").Handler(httpOrWS(fwd, relay))
		log.Info().Msg("gateway: starting in relay mode")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsSrv := &http.Server{
		Addr:    tuning.MetricsAddr,
		Handler: promhttp.HandlerFor(reg.Registerer(), promhttp.HandlerOpts{}),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("gateway: metrics server")
		}
	}()

	srv := &http.Server{Addr: a.Addr, Handler: root}
	certPath, keyPath, useTLS := config.TLSMaterial(a.TLS)

	serveErr := make(chan error, 1)
	go func() {
		if useTLS {
			serveErr <- srv.ListenAndServeTLS(certPath, keyPath)
		} else {
			serveErr <- srv.ListenAndServe()
		}
	}()

	log.Info().Str("addr", a.Addr).Str("metrics_addr", tuning.MetricsAddr).Msg("gateway: listening")

	select {
	case <-ctx.Done():
		log.Info().Msg("gateway: shutdown signal received")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("gateway: http shutdown")
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("gateway: metrics shutdown")
	}
	return nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// httpOrWS dispatches a relay-mode request to the WS handler when the
// request carries a WebSocket upgrade, else to the HTTP forwarder, the Go
// analogue of the original's single listener serving both protocols.
func httpOrWS(fwd, relay http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if isWebsocketUpgrade(r) {
			relay.ServeHTTP(w, r)
			return
		}
		fwd.ServeHTTP(w, r)
	}
}

func isWebsocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

func configureLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
