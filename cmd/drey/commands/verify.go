package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/drey-labs/drey/internal/printer"
	"github.com/drey-labs/drey/internal/store"
	"github.com/drey-labs/drey/pkg/cep"
)

var verifyReceiptCmd = &cobra.Command{
	Use:   "verify-receipt ENTITY_ID",
	Short: "Verify a stored receipt against its entity",
	Long: `Fetches the entity and its stored receipt, recomputes the canonical
JSON hash of the entity, and checks it against the receipt. When the
receipt is signed, the ed25519 signature is verified against the public
key embedded in the receipt.

Supports envelope (env_) and settlement (stl_) IDs.

Examples:
  drey verify-receipt env_a1b2c3d4e5f60718293a4b5c
  drey verify-receipt stl_9e8d7c6b5a40312203f4e5d6`,
	Args: cobra.ExactArgs(1),
	RunE: runVerifyReceipt,
}

func init() {
	rootCmd.AddCommand(verifyReceiptCmd)
}

func runVerifyReceipt(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	entityID := args[0]

	st, err := newStoreClient()
	if err != nil {
		return printer.Error("cannot reach store", err.Error(), []string{"Check DREY_REDIS_URL"})
	}
	defer st.Close()

	receipt, payload, err := fetchReceiptAndPayload(ctx, st, entityID)
	if err != nil {
		if store.IsNotFound(err) {
			return printer.Error("entity or receipt not found",
				fmt.Sprintf("No receipt is stored for %q in instance %q.", entityID, instanceName()),
				[]string{"Check the ID", "Check DREY_INSTANCE_NAME"})
		}
		return printer.Error("failed to fetch receipt", err.Error(), nil)
	}

	if err := cep.VerifyReceipt(receipt, payload); err != nil {
		return printer.Error("receipt verification FAILED", err.Error(), nil)
	}

	printer.Success("receipt %s verifies\n", receipt.ReceiptID)
	printer.Field("entity_id", receipt.EntityID)
	printer.Field("schema", receipt.Schema)
	printer.Field("canonical_json_sha256", receipt.CanonicalJSONSHA256)
	if receipt.Signature == "" {
		printer.Warning("receipt is unsigned (hash-addressed only)\n")
	} else {
		printer.Field("signer_public_key", receipt.SignerPublicKey)
	}
	return nil
}

func fetchReceiptAndPayload(ctx context.Context, st *store.Client, entityID string) (*cep.Receipt, any, error) {
	switch {
	case strings.HasPrefix(entityID, cep.PrefixEnvelope+"_"):
		env, err := st.GetEnvelope(ctx, entityID)
		if err != nil {
			return nil, nil, err
		}
		receipt, err := st.GetReceipt(ctx, cep.EntityKindEnvelope, entityID, cep.SchemaEnvelopeIssueV1)
		if err != nil {
			return nil, nil, err
		}
		return receipt, env, nil

	case strings.HasPrefix(entityID, cep.PrefixSettlement+"_"):
		stl, err := st.GetSettlement(ctx, entityID)
		if err != nil {
			return nil, nil, err
		}
		receipt, err := st.GetReceipt(ctx, cep.EntityKindSettlement, entityID, settlementSchema(stl.Outcome))
		if err != nil {
			return nil, nil, err
		}
		return receipt, stl, nil

	default:
		return nil, nil, fmt.Errorf("receipts exist only for envelopes (env_) and settlements (stl_), got %q", entityID)
	}
}
