package main

import (
	"context"
	"fmt"
	"time"

	"github.com/R3E-Network/raffle_layer/internal/config"
	"github.com/R3E-Network/raffle_layer/internal/engine/events"
	"github.com/R3E-Network/raffle_layer/internal/notify"
	"github.com/R3E-Network/raffle_layer/internal/storage"
	"github.com/R3E-Network/raffle_layer/internal/storage/postgres"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
	"github.com/R3E-Network/raffle_layer/services/keeper"
	"github.com/R3E-Network/raffle_layer/services/raffle"
	"github.com/R3E-Network/raffle_layer/services/treasury"
	"github.com/R3E-Network/raffle_layer/services/vrf"
)

// stack is every component of one raffle deployment, wired together.
type stack struct {
	cfg      *config.Config
	log      *logger.Logger
	events   *events.Journal
	treasury *treasury.Service
	coord    *vrf.Coordinator
	subID    uint64
	raffle   *raffle.Service
	keeper   *keeper.Keeper
	archive  storage.Archive

	closers []func()
}

// newStack builds the deployment. now overrides the raffle clock when set.
func newStack(ctx context.Context, cfg *config.Config, log *logger.Logger, now func() time.Time) (_ *stack, err error) {
	s := &stack{
		cfg:      cfg,
		log:      log,
		events:   events.NewJournal(1000),
		treasury: treasury.New(log.Named("treasury")),
	}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	var key *vrf.ProvingKey
	if cfg.VRF.PrivateKey != "" {
		k, err := vrf.ProvingKeyFromHex(cfg.VRF.PrivateKey)
		if err != nil {
			return nil, err
		}
		key = k
	}
	coord, err := vrf.NewCoordinator(vrf.Config{
		Address:   cfg.VRF.Address,
		Key:       key,
		BaseFee:   cfg.VRF.BaseFee,
		GasPrice:  cfg.VRF.GasPrice,
		BlockTime: cfg.VRF.BlockTime,
	}, vrf.WithLogger(log.Named("vrf")), vrf.WithEventLog(s.events))
	if err != nil {
		return nil, fmt.Errorf("create coordinator: %w", err)
	}
	s.coord = coord

	if s.subID, err = coord.CreateSubscription(cfg.Raffle.Address); err != nil {
		return nil, err
	}
	if err := coord.FundSubscription(s.subID, cfg.VRF.SubscriptionFund); err != nil {
		return nil, fmt.Errorf("fund subscription: %w", err)
	}
	if err := coord.AddConsumer(s.subID, cfg.Raffle.Address); err != nil {
		return nil, fmt.Errorf("add consumer: %w", err)
	}
	if nk := cfg.Network.KeyHashValue(); nk != coord.KeyHash() {
		log.WithField("network_key_hash", nk.Hex()).
			WithField("coordinator_key_hash", coord.KeyHash().Hex()).
			Info("using the in-process coordinator key hash")
	}

	opts := []raffle.Option{
		raffle.WithLogger(log.Named("raffle")),
		raffle.WithEventLog(s.events),
	}
	if now != nil {
		opts = append(opts, raffle.WithClock(now))
	}
	svc, err := raffle.New(raffle.Config{
		EntryFee:             cfg.Raffle.EntryFee,
		Interval:             cfg.Raffle.Interval,
		KeyHash:              coord.KeyHash(),
		SubscriptionID:       s.subID,
		CallbackGasLimit:     cfg.Network.CallbackGasLimit,
		RequestConfirmations: cfg.Network.RequestConfirmations,
		Coordinator:          coord.Address(),
		Address:              cfg.Raffle.Address,
	}, coord, s.treasury.Payer(cfg.Raffle.Address), opts...)
	if err != nil {
		return nil, err
	}
	s.raffle = svc
	coord.Attach(cfg.Raffle.Address, svc)

	if err := s.openArchive(ctx); err != nil {
		return nil, err
	}
	s.closers = append(s.closers, raffle.NewArchiver(s.archive, log.Named("archive")).Attach(s.events))

	if s.keeper, err = keeper.New(keeper.Config{
		Schedule:        cfg.Keeper.Schedule,
		RetryBackoff:    cfg.Keeper.RetryBackoff,
		RetryMaxBackoff: cfg.Keeper.RetryMaxBackoff,
	}, svc, log.Named("keeper"), s.events); err != nil {
		return nil, err
	}

	if cfg.Redis.Addr != "" {
		client, err := notify.Dial(ctx, cfg.Redis.Addr)
		if err != nil {
			return nil, err
		}
		pub := notify.NewRedisPublisher(client, cfg.Redis.Channel, log.Named("notify"))
		s.closers = append(s.closers, pub.Attach(s.events), func() { _ = client.Close() })
		log.WithField("addr", cfg.Redis.Addr).WithField("channel", cfg.Redis.Channel).Info("publishing events to redis")
	}

	log.WithField("network", cfg.Network.Name).
		WithField("chain_id", cfg.Network.ChainID).
		WithField("entry_fee", cfg.Raffle.EntryFee.Dec()).
		WithField("interval", cfg.Raffle.Interval).
		WithField("subscription_id", s.subID).
		Info("raffle stack ready")
	return s, nil
}

func (s *stack) openArchive(ctx context.Context) error {
	if s.cfg.DatabaseURL == "" {
		s.archive = storage.NewMemoryArchive()
		return nil
	}
	store, err := postgres.Open(ctx, s.cfg.DatabaseURL)
	if err != nil {
		return err
	}
	s.archive = store
	s.closers = append(s.closers, func() { _ = store.Close() })
	s.log.Info("archiving rounds to postgres")
	return nil
}

// Close releases subscriptions and connections in reverse order.
func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

func loadConfig() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log := logger.New(logger.LoggingConfig{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Component: "raffle",
	})
	return cfg, log, nil
}
