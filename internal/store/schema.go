package store

import "fmt"

// Redis key pattern helpers
//
// All keys are namespaced by instance name so multiple drey deployments can
// safely coexist on a single Redis server.
//
// Key pattern: drey:{instance_name}:{entity}:{id}

// IntentKey returns the Redis key for an intent hash.
func IntentKey(instanceName, intentID string) string {
	return fmt.Sprintf("drey:%s:intent:%s", instanceName, intentID)
}

// OfferKey returns the Redis key for an offer hash.
func OfferKey(instanceName, offerID string) string {
	return fmt.Sprintf("drey:%s:offer:%s", instanceName, offerID)
}

// EnvelopeKey returns the Redis key for an envelope hash.
func EnvelopeKey(instanceName, envelopeID string) string {
	return fmt.Sprintf("drey:%s:envelope:%s", instanceName, envelopeID)
}

// SettlementKey returns the Redis key for a settlement hash.
func SettlementKey(instanceName, settlementID string) string {
	return fmt.Sprintf("drey:%s:settlement:%s", instanceName, settlementID)
}

// SettlementByEnvelopeKey returns the envelope → settlement index key.
// This index is what enforces at-most-one settlement per envelope.
func SettlementByEnvelopeKey(instanceName, envelopeID string) string {
	return fmt.Sprintf("drey:%s:settlement_by_env:%s", instanceName, envelopeID)
}

// SettlementsZSetKey returns the global recent-settlements ZSET key
// (scored by created_at unix seconds).
func SettlementsZSetKey(instanceName string) string {
	return fmt.Sprintf("drey:%s:settlements", instanceName)
}

// AgentSettlementsZSetKey returns the per-agent recent-settlements ZSET key.
func AgentSettlementsZSetKey(instanceName, agentID string) string {
	return fmt.Sprintf("drey:%s:agent:%s:settlements", instanceName, agentID)
}

// AgentOpenEnvelopesKey returns the per-agent open-envelope set key.
func AgentOpenEnvelopesKey(instanceName, agentID string) string {
	return fmt.Sprintf("drey:%s:agent:%s:open", instanceName, agentID)
}

// OpenEnvelopesKey returns the global open-envelope set key.
func OpenEnvelopesKey(instanceName string) string {
	return fmt.Sprintf("drey:%s:open", instanceName)
}

// PayEventsZSetKey returns the Lightning pay-event ZSET key
// (scored by created_at unix seconds, members are JSON-encoded events).
func PayEventsZSetKey(instanceName string) string {
	return fmt.Sprintf("drey:%s:pay_events", instanceName)
}

// UnderwritingAuditKey returns the per-offer underwriting audit key.
func UnderwritingAuditKey(instanceName, offerID string) string {
	return fmt.Sprintf("drey:%s:audit:offer:%s", instanceName, offerID)
}

// ReceiptKey returns the receipt key for an (entity_kind, entity_id, schema)
// triple.
func ReceiptKey(instanceName, entityKind, entityID, schema string) string {
	return fmt.Sprintf("drey:%s:receipt:%s:%s:%s", instanceName, entityKind, entityID, schema)
}
