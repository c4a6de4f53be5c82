package main

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/R3E-Network/raffle_layer/internal/httpapi"
	"github.com/R3E-Network/raffle_layer/internal/httputil"
	"github.com/R3E-Network/raffle_layer/services/raffle"
)

func handleStatus(addr string, rounds int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client := httputil.NewClient(httputil.ClientConfig{BaseURL: addr})

	var report struct {
		Status raffle.Status           `json:"status"`
		Rounds []httpapi.RoundResponse `json:"rounds"`
	}
	if err := client.GetJSON(ctx, "/v1/raffle/status", &report.Status); err != nil {
		return err
	}
	if rounds > 0 {
		if err := client.GetJSON(ctx, "/v1/raffle/rounds?limit="+strconv.Itoa(rounds), &report.Rounds); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
