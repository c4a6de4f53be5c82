package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/R3E-Network/raffle_layer/pkg/units"
	"github.com/R3E-Network/raffle_layer/services/keeper"
	"github.com/R3E-Network/raffle_layer/services/raffle"
)

type simulateOptions struct {
	players int
	entries int
	rounds  int
}

// simPlayer derives a stable address for player i.
func simPlayer(i int) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte(fmt.Sprintf("raffle-player-%d", i))))
}

func handleSimulate(opts simulateOptions) error {
	if opts.players <= 0 || opts.entries <= 0 || opts.rounds <= 0 {
		return fmt.Errorf("players, entries and rounds must be positive")
	}
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	// simulations never touch external stores
	cfg.DatabaseURL = ""
	cfg.Redis.Addr = ""

	ctx := context.Background()
	clock := raffle.NewManualClock(time.Now().UTC())
	s, err := newStack(ctx, cfg, log, clock.Now)
	if err != nil {
		return err
	}
	defer s.Close()

	fee := cfg.Raffle.EntryFee
	budget := new(uint256.Int).Mul(fee, uint256.NewInt(uint64(opts.entries*opts.rounds)))
	players := make([]common.Address, opts.players)
	for i := range players {
		players[i] = simPlayer(i)
		if err := s.treasury.Deposit(ctx, players[i], budget); err != nil {
			return err
		}
	}

	out := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(out, "ROUND\tENTRANTS\tPOT\tREQUEST\tWINNER\tINDEX")
	for round := 0; round < opts.rounds; round++ {
		for e := 0; e < opts.entries; e++ {
			for _, p := range players {
				err := s.treasury.PayInto(ctx, p, cfg.Raffle.Address, fee, func(ctx context.Context) error {
					return s.raffle.Enter(ctx, p, fee)
				})
				if err != nil {
					return fmt.Errorf("enter %s: %w", p.Hex(), err)
				}
			}
		}

		clock.Advance(cfg.Raffle.Interval)
		report := s.keeper.RunOnce(ctx)
		if report.Outcome != keeper.OutcomeDrawRequested {
			return fmt.Errorf("round %d: upkeep %s: %v", round+1, report.Outcome, report.Err)
		}

		s.coord.AdvanceBlocks(uint64(cfg.Network.RequestConfirmations))
		done := s.coord.FulfillReady(ctx)
		if len(done) != 1 || !done[0].Success {
			return fmt.Errorf("round %d: randomness not delivered", round+1)
		}
		if err := s.coord.Verify(done[0].Proof); err != nil {
			return fmt.Errorf("round %d: %w", round+1, err)
		}

		recs, err := s.archive.ListRounds(ctx, 1)
		if err != nil || len(recs) == 0 {
			return fmt.Errorf("round %d: not archived: %v", round+1, err)
		}
		rec := recs[0]
		fmt.Fprintf(out, "%d\t%d\t%s\t%d\t%s\t%d\n",
			rec.Number, rec.Entrants, units.FormatAmount(rec.Pot), rec.RequestID, rec.Winner.Hex(), rec.WinnerIndex)
	}
	if err := out.Flush(); err != nil {
		return err
	}

	fmt.Println()
	bal := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(bal, "PLAYER\tBALANCE")
	for _, p := range players {
		fmt.Fprintf(bal, "%s\t%s\n", p.Hex(), units.FormatAmount(s.treasury.Balance(p)))
	}
	if err := bal.Flush(); err != nil {
		return err
	}

	sub, err := s.coord.GetSubscription(s.subID)
	if err != nil {
		return err
	}
	fmt.Printf("\nsubscription %d balance: %s (%d requests)\n", sub.ID, units.FormatAmount(sub.Balance), sub.RequestCount)
	return nil
}
