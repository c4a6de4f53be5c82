// Command raffle runs the raffle coordinator daemon and its operator tools.
package main

import (
	"flag"
	"fmt"
	"os"
)

func main() {
	runCmd := flag.NewFlagSet("run", flag.ExitOnError)

	simulateCmd := flag.NewFlagSet("simulate", flag.ExitOnError)
	simPlayers := simulateCmd.Int("players", 3, "Number of players")
	simEntries := simulateCmd.Int("entries", 1, "Entries per player per round")
	simRounds := simulateCmd.Int("rounds", 1, "Rounds to draw")

	statusCmd := flag.NewFlagSet("status", flag.ExitOnError)
	statusAddr := statusCmd.String("addr", "http://localhost:8080", "Operator endpoint base URL")
	statusRounds := statusCmd.Int("rounds", 5, "Archived rounds to show")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "run":
		_ = runCmd.Parse(os.Args[2:])
		err = handleRun()
	case "simulate":
		_ = simulateCmd.Parse(os.Args[2:])
		err = handleSimulate(simulateOptions{players: *simPlayers, entries: *simEntries, rounds: *simRounds})
	case "status":
		_ = statusCmd.Parse(os.Args[2:])
		err = handleStatus(*statusAddr, *statusRounds)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Raffle coordinator

Usage:
  raffle <command> [options]

Commands:
  run       Run the daemon: raffle engine, randomness coordinator, keeper
            and the operator endpoint. Configured from the environment.

  simulate  Play rounds against an in-process coordinator and print results
    -players <n>   Number of players (default 3)
    -entries <n>   Entries per player per round (default 1)
    -rounds <n>    Rounds to draw (default 1)

  status    Show the status of a running daemon
    -addr <url>    Operator endpoint base URL (default http://localhost:8080)
    -rounds <n>    Archived rounds to show (default 5)

  help      Show this help message

Environment:
  RAFFLE_CHAIN_ID, RAFFLE_ENTRY_FEE, RAFFLE_INTERVAL, KEEPER_SCHEDULE,
  KEEPER_RETRY_BACKOFF, KEEPER_RETRY_MAX_BACKOFF,
  VRF_PRIVATE_KEY, VRF_BLOCK_TIME, HTTP_ADDR, DATABASE_URL, REDIS_ADDR
  (a .env file in the working directory is loaded first)`)
}
