package commands

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/drey-labs/drey/internal/health"
	"github.com/drey-labs/drey/internal/printer"
)

var healthOutputFormat string

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show pool health and circuit-breaker state",
	Long: `Recomputes the pool's circuit breakers from the trailing settlement and
Lightning payment windows and prints the result.

Examples:
  # Human-readable breaker summary
  drey health

  # Full status including the policy snapshot, for scripting
  drey health --output=json | jq .halt_new_envelopes`,
	RunE: runHealth,
}

func init() {
	healthCmd.Flags().StringVarP(&healthOutputFormat, "output", "o", "default", "Output format: default or json")
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	st, err := newStoreClient()
	if err != nil {
		return printer.Error("cannot reach store", err.Error(), []string{"Check DREY_REDIS_URL"})
	}
	defer st.Close()

	if err := st.Ping(ctx); err != nil {
		return printer.Error("redis is not accessible", err.Error(), []string{"Check DREY_REDIS_URL", "Check that Redis is running"})
	}

	policy, err := loadPolicy()
	if err != nil {
		return printer.Error("invalid configuration", err.Error(), nil)
	}

	status, err := health.NewMonitor(st, policy).Check(ctx, time.Now())
	if err != nil {
		return printer.Error("health check failed", err.Error(), nil)
	}

	if healthOutputFormat == "json" {
		payload, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return err
		}
		printer.Println(string(payload))
		return nil
	}

	printer.Header("Pool health (instance %q)", instanceName())
	printer.Field("halt_new_envelopes", status.HaltNewEnvelopes)
	printer.Field("halt_large_settlements", status.HaltLargeSettlements)
	printer.Field("loss_rate", status.LossRate)
	printer.Field("ln_failure_rate", status.LnFailureRate)
	printer.Field("settlement_sample", status.SettlementSample)
	printer.Field("ln_pay_sample", status.LnPaySample)

	if status.HaltNewEnvelopes {
		printer.Warning("new envelope issuance is halted\n")
	}
	if status.HaltLargeSettlements {
		printer.Warning("settlements above %d sats are halted\n", policy.LnFailureLargeSettlementCapSats)
	}
	if !status.HaltNewEnvelopes && !status.HaltLargeSettlements {
		printer.Success("all breakers closed\n")
	}
	return nil
}
