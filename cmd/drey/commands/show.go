package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/drey-labs/drey/internal/printer"
	"github.com/drey-labs/drey/internal/store"
	"github.com/drey-labs/drey/pkg/cep"
)

var showCmd = &cobra.Command{
	Use:   "show ENTITY_ID",
	Short: "Inspect a stored protocol entity",
	Long: `Fetches an intent, offer, envelope or settlement by ID and prints it as
pretty-printed JSON. The entity kind is inferred from the ID prefix
(int_, off_, env_, stl_).

For offers the underwriting audit record is included when present; for
envelopes and settlements the stored receipt is included when present.

Examples:
  drey show off_1f2e3d4c5b6a798081926354
  drey show env_a1b2c3d4e5f60718293a4b5c | jq .envelope.status`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	entityID := args[0]

	st, err := newStoreClient()
	if err != nil {
		return printer.Error("cannot reach store", err.Error(), []string{"Check DREY_REDIS_URL"})
	}
	defer st.Close()

	view, err := buildView(ctx, st, entityID)
	if err != nil {
		if store.IsNotFound(err) {
			return printer.Error("entity not found",
				fmt.Sprintf("No entity with ID %q exists in instance %q.", entityID, instanceName()),
				[]string{"Check the ID", "Check DREY_INSTANCE_NAME"})
		}
		return printer.Error("failed to fetch entity", err.Error(), nil)
	}

	payload, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return err
	}
	printer.Println(string(payload))
	return nil
}

func buildView(ctx context.Context, st *store.Client, entityID string) (any, error) {
	switch {
	case strings.HasPrefix(entityID, cep.PrefixIntent+"_"):
		return st.GetIntent(ctx, entityID)

	case strings.HasPrefix(entityID, cep.PrefixOffer+"_"):
		offer, err := st.GetOffer(ctx, entityID)
		if err != nil {
			return nil, err
		}
		view := map[string]any{"offer": offer}
		if audit, err := st.GetUnderwritingAudit(ctx, entityID); err == nil {
			view["underwriting_audit"] = audit
		}
		return view, nil

	case strings.HasPrefix(entityID, cep.PrefixEnvelope+"_"):
		env, err := st.GetEnvelope(ctx, entityID)
		if err != nil {
			return nil, err
		}
		view := map[string]any{"envelope": env}
		if receipt, err := st.GetReceipt(ctx, cep.EntityKindEnvelope, entityID, cep.SchemaEnvelopeIssueV1); err == nil {
			view["receipt"] = receipt
		}
		if stl, err := st.GetSettlementByEnvelope(ctx, entityID); err == nil {
			view["settlement"] = stl
		}
		return view, nil

	case strings.HasPrefix(entityID, cep.PrefixSettlement+"_"):
		stl, err := st.GetSettlement(ctx, entityID)
		if err != nil {
			return nil, err
		}
		view := map[string]any{"settlement": stl}
		if receipt, err := st.GetReceipt(ctx, cep.EntityKindSettlement, entityID, settlementSchema(stl.Outcome)); err == nil {
			view["receipt"] = receipt
		}
		return view, nil

	default:
		return nil, fmt.Errorf("unrecognized entity ID prefix: %s", entityID)
	}
}

func settlementSchema(outcome cep.SettlementOutcome) string {
	if outcome == cep.OutcomeSuccess {
		return cep.SchemaSettlementV1
	}
	return cep.SchemaDefaultNoticeV1
}
