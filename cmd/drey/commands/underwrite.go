package commands

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/drey-labs/drey/internal/printer"
	"github.com/drey-labs/drey/internal/underwrite"
)

var underwriteOutputFormat string

var underwriteCmd = &cobra.Command{
	Use:   "underwrite AGENT_ID",
	Short: "Dry-run the underwriting decision for an agent",
	Long: `Builds the underwriting snapshot for an agent from its trailing
settlement window and open exposure, runs the decision engine, and prints
the terms the pool would grant right now. Nothing is persisted.

Examples:
  drey underwrite agent-7f3a
  drey underwrite agent-7f3a --output=json | jq .decision.limit_sats`,
	Args: cobra.ExactArgs(1),
	RunE: runUnderwrite,
}

func init() {
	underwriteCmd.Flags().StringVarP(&underwriteOutputFormat, "output", "o", "default", "Output format: default or json")
	rootCmd.AddCommand(underwriteCmd)
}

func runUnderwrite(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	agentID := args[0]

	st, err := newStoreClient()
	if err != nil {
		return printer.Error("cannot reach store", err.Error(), []string{"Check DREY_REDIS_URL"})
	}
	defer st.Close()

	policy, err := loadPolicy()
	if err != nil {
		return printer.Error("invalid configuration", err.Error(), nil)
	}

	now := time.Now().Unix()
	since := now - int64(policy.UnderwritingHistoryDays)*86_400

	settlements, err := st.ListRecentSettlementsForAgent(ctx, agentID, since, 0)
	if err != nil {
		return printer.Error("failed to read settlement history", err.Error(), nil)
	}
	stats, err := st.GetAgentOpenEnvelopeStats(ctx, agentID, now)
	if err != nil {
		return printer.Error("failed to read open envelopes", err.Error(), nil)
	}

	inputs := underwrite.BuildInputs(agentID, settlements, stats.Count, stats.ExposureSats, policy.UnderwritingHistoryDays, now)
	decision := underwrite.Decide(inputs, policy)

	if underwriteOutputFormat == "json" {
		payload, err := json.MarshalIndent(map[string]any{
			"inputs":   inputs,
			"decision": decision,
		}, "", "  ")
		if err != nil {
			return err
		}
		printer.Println(string(payload))
		return nil
	}

	printer.Header("Underwriting dry run for %q", agentID)
	printer.Field("window_days", inputs.WindowDays)
	printer.Field("success_volume_sats", inputs.SuccessVolumeSats)
	printer.Field("success_count", inputs.SuccessCount)
	printer.Field("loss_count", inputs.LossCount)
	printer.Field("weighted_loss_score", inputs.WeightedLossScore)
	printer.Field("open_envelopes", inputs.OpenEnvelopeCount)
	printer.Field("open_exposure_sats", inputs.OpenExposureSats)
	printer.Println()
	printer.Field("limit_sats", decision.LimitSats)
	printer.Field("fee_bps", decision.FeeBps)
	printer.Field("risk_score", decision.RiskScore)
	printer.Field("requires_verifier", decision.RequiresVerifier)
	return nil
}
