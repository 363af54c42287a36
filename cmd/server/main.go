package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kpmdev/kpm-registry/auth"
	"github.com/kpmdev/kpm-registry/internal/config"
	"github.com/kpmdev/kpm-registry/principal"
	"github.com/kpmdev/kpm-registry/provider/github"
	"github.com/kpmdev/kpm-registry/server"
	"github.com/kpmdev/kpm-registry/storage/sqlite"
	"github.com/kpmdev/kpm-registry/token"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "[run] load config")
	}
	setupLogging(cfg)
	displayAppname(cfg.AppName)

	store, err := sqlite.Open(cfg.DBPath, cfg.SessionTTL)
	if err != nil {
		return errors.Wrap(err, "[run] open database")
	}
	defer store.Close()

	directory, err := principal.NewDirectory(store)
	if err != nil {
		return errors.Wrap(err, "[run] principal directory")
	}
	tokens, err := token.NewStore(store)
	if err != nil {
		return errors.Wrap(err, "[run] token store")
	}
	guard, err := auth.NewRedirectGuard(cfg.UIURL)
	if err != nil {
		return errors.Wrap(err, "[run] redirect guard")
	}

	provider := github.New(
		cfg.GithubClientID,
		cfg.GithubClientSecret,
		cfg.GithubCallbackURL,
		github.WithTimeout(cfg.ProviderTimeout),
	)

	authService, err := auth.NewService(
		guard, provider, directory, tokens,
		cfg.UIURL, cfg.TokenTTL, auth.TokenMode(cfg.TokenMode),
	)
	if err != nil {
		return errors.Wrap(err, "[run] auth service")
	}

	handler, err := server.New(cfg, authService, tokens, store, store)
	if err != nil {
		return errors.Wrap(err, "[run] server")
	}

	httpServer := &http.Server{Addr: cfg.Addr(), Handler: handler}
	go listenAndServe(httpServer)
	waitForStopSignal()
	return shutdown(httpServer)
}

func setupLogging(cfg config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Env == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func listenAndServe(httpServer *http.Server) {
	log.Info().Str("addr", httpServer.Addr).Msg("server listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server.ListenAndServe")
	}
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(httpServer *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "[shutdown] server.Shutdown")
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
