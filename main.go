package main

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"chatd/config"
	"chatd/server"
	"chatd/store"
)

const controlSocketPath = "/tmp/chatd.sock"

func main() {
	cfg := config.Load()

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	var st store.Store
	var err error
	if cfg.DatabaseURL != "" {
		st, err = store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		st, err = store.NewSQLite(ctx, cfg.DBPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		logger.Info().Str("path", cfg.DBPath).Msg("opened SQLite database")
	}
	defer st.Close()

	srv := server.New(st, &server.Config{
		Port:         cfg.Port,
		AuthTimeout:  time.Duration(cfg.AuthTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	}, logger)

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics endpoint listening")
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logger.Error().Err(err).Msg("metrics endpoint failed")
			}
		}()
	}

	go startControlSocket(srv, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		srv.Shutdown()
		os.Remove(controlSocketPath)
	}()

	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}

	logger.Info().Msg("server stopped")
}

// startControlSocket exposes stats and shutdown on a local unix
// socket, for operators.
func startControlSocket(srv *server.Server, logger zerolog.Logger) {
	os.Remove(controlSocketPath)

	listener, err := net.Listen("unix", controlSocketPath)
	if err != nil {
		logger.Error().Err(err).Msg("control socket failed")
		return
	}
	defer listener.Close()
	defer os.Remove(controlSocketPath)

	logger.Info().Str("path", controlSocketPath).Msg("control socket listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			return
		}

		go handleControlCommand(srv, conn, logger)
	}
}

func handleControlCommand(srv *server.Server, conn net.Conn, logger zerolog.Logger) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		return
	}

	switch strings.TrimSpace(line) {
	case "stats":
		conn.Write([]byte("OK|" + srv.Stats() + "\n"))

	case "shutdown":
		conn.Write([]byte("OK|Shutting down\n"))
		logger.Info().Msg("shutdown requested via control socket")
		srv.Shutdown()

	default:
		conn.Write([]byte("ERROR|Unknown command\n"))
	}
}
