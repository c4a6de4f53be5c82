package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/R3E-Network/raffle_layer/internal/httpapi"
)

func handleRun() error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := newStack(ctx, cfg, log, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.coord.Start(ctx); err != nil {
		return err
	}
	defer s.coord.Stop()

	if err := s.keeper.Start(ctx); err != nil {
		return err
	}
	defer s.keeper.Stop()

	server := httpapi.New(httpapi.Config{
		RateLimit: cfg.HTTP.RateLimit,
		RateBurst: cfg.HTTP.RateBurst,
	}, s.raffle, s.archive, s.events, log.Named("http"))

	err = server.ListenAndServe(ctx, cfg.HTTP.Addr)
	log.Info("shutting down")
	return err
}
