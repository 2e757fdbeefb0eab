package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/drey-labs/drey/pkg/cep"
)

// Sentinel errors returned by the envelope-acceptance primitive. The engine
// maps these onto protocol error kinds.
var (
	// ErrOfferNotFound means the referenced offer does not exist.
	ErrOfferNotFound = errors.New("offer not found")

	// ErrOfferUnavailable means the offer has already been accepted by a
	// different envelope.
	ErrOfferUnavailable = errors.New("offer already accepted")
)

// Client provides Redis-backed persistence for the credit envelope protocol.
// All operations are namespaced by instance name.
type Client struct {
	rdb          *redis.Client
	instanceName string
}

// NewClient creates a store client with the given Redis options and instance
// name. The instance name namespaces all keys, allowing multiple deployments
// to share a Redis server.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// NewClientFromRedis wraps an existing Redis client. Used by tests and by
// callers that manage the connection themselves.
func NewClientFromRedis(rdb *redis.Client, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	return &Client{rdb: rdb, instanceName: instanceName}, nil
}

// Close closes the underlying Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the Redis connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// IsNotFound returns true if the error is a Redis "key not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}

// CreateOrGetIntent writes the intent row unless a row with the same ID
// already exists. Returns the stored row and whether this call created it.
func (c *Client) CreateOrGetIntent(ctx context.Context, intent *cep.Intent) (*cep.Intent, bool, error) {
	key := IntentKey(c.instanceName, intent.IntentID)
	created, err := createOrGetScript.Run(ctx, c.rdb, []string{key}, flattenHash(IntentToHash(intent))...).Int()
	if err != nil {
		return nil, false, fmt.Errorf("failed to create intent: %w", err)
	}

	stored, err := c.GetIntent(ctx, intent.IntentID)
	if err != nil {
		return nil, false, err
	}
	return stored, created == 1, nil
}

// GetIntent retrieves an intent by ID.
// Returns (nil, redis.Nil) if the intent doesn't exist.
func (c *Client) GetIntent(ctx context.Context, intentID string) (*cep.Intent, error) {
	hash, err := c.rdb.HGetAll(ctx, IntentKey(c.instanceName, intentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get intent: %w", err)
	}
	if len(hash) == 0 {
		return nil, redis.Nil
	}
	return HashToIntent(hash)
}

// CreateOrGetOffer writes the offer row unless a row with the same ID already
// exists. Returns the stored row and whether this call created it.
func (c *Client) CreateOrGetOffer(ctx context.Context, offer *cep.Offer) (*cep.Offer, bool, error) {
	key := OfferKey(c.instanceName, offer.OfferID)
	created, err := createOrGetScript.Run(ctx, c.rdb, []string{key}, flattenHash(OfferToHash(offer))...).Int()
	if err != nil {
		return nil, false, fmt.Errorf("failed to create offer: %w", err)
	}

	stored, err := c.GetOffer(ctx, offer.OfferID)
	if err != nil {
		return nil, false, err
	}
	return stored, created == 1, nil
}

// GetOffer retrieves an offer by ID.
// Returns (nil, redis.Nil) if the offer doesn't exist.
func (c *Client) GetOffer(ctx context.Context, offerID string) (*cep.Offer, error) {
	hash, err := c.rdb.HGetAll(ctx, OfferKey(c.instanceName, offerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get offer: %w", err)
	}
	if len(hash) == 0 {
		return nil, redis.Nil
	}
	return HashToOffer(hash)
}

// CreateOrGetEnvelope mints the envelope and flips its offer to accepted in
// one atomic step. A replay (same envelope ID) returns the stored envelope
// without touching the offer. A second, distinct envelope targeting the same
// offer gets ErrOfferUnavailable.
func (c *Client) CreateOrGetEnvelope(ctx context.Context, env *cep.Envelope) (*cep.Envelope, bool, error) {
	keys := []string{
		EnvelopeKey(c.instanceName, env.EnvelopeID),
		OfferKey(c.instanceName, env.OfferID),
		AgentOpenEnvelopesKey(c.instanceName, env.AgentID),
		OpenEnvelopesKey(c.instanceName),
	}
	args := append([]interface{}{env.EnvelopeID}, flattenHash(EnvelopeToHash(env))...)

	outcome, err := envelopeAcceptScript.Run(ctx, c.rdb, keys, args...).Text()
	if err != nil {
		return nil, false, fmt.Errorf("failed to create envelope: %w", err)
	}

	switch outcome {
	case "offer_missing":
		return nil, false, ErrOfferNotFound
	case "offer_taken":
		return nil, false, ErrOfferUnavailable
	}

	stored, err := c.GetEnvelope(ctx, env.EnvelopeID)
	if err != nil {
		return nil, false, err
	}
	return stored, outcome == "created", nil
}

// GetEnvelope retrieves an envelope by ID.
// Returns (nil, redis.Nil) if the envelope doesn't exist.
func (c *Client) GetEnvelope(ctx context.Context, envelopeID string) (*cep.Envelope, error) {
	hash, err := c.rdb.HGetAll(ctx, EnvelopeKey(c.instanceName, envelopeID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get envelope: %w", err)
	}
	if len(hash) == 0 {
		return nil, redis.Nil
	}
	return HashToEnvelope(hash)
}

// CreateOrGetSettlement records the settlement, flips the envelope to its
// terminal status, removes it from the open sets and indexes it into the
// trailing windows, all atomically. The guard key makes this settle-once: if
// the envelope already settled, the original settlement row is returned
// unchanged and nothing is written.
func (c *Client) CreateOrGetSettlement(ctx context.Context, stl *cep.Settlement, agentID string, envStatus cep.EnvelopeStatus) (*cep.Settlement, bool, error) {
	keys := []string{
		SettlementKey(c.instanceName, stl.SettlementID),
		SettlementByEnvelopeKey(c.instanceName, stl.EnvelopeID),
		SettlementsZSetKey(c.instanceName),
		AgentSettlementsZSetKey(c.instanceName, agentID),
		EnvelopeKey(c.instanceName, stl.EnvelopeID),
		AgentOpenEnvelopesKey(c.instanceName, agentID),
		OpenEnvelopesKey(c.instanceName),
	}
	args := append([]interface{}{
		stl.EnvelopeID,
		stl.SettlementID,
		stl.CreatedAtUnix,
		string(envStatus),
	}, flattenHash(SettlementToHash(stl))...)

	reply, err := settlementCreateScript.Run(ctx, c.rdb, keys, args...).Slice()
	if err != nil {
		return nil, false, fmt.Errorf("failed to create settlement: %w", err)
	}
	if len(reply) != 2 {
		return nil, false, fmt.Errorf("unexpected settlement script reply: %v", reply)
	}

	createdFlag, ok := reply[0].(int64)
	if !ok {
		return nil, false, fmt.Errorf("unexpected settlement script flag: %v", reply[0])
	}
	storedID, ok := reply[1].(string)
	if !ok {
		return nil, false, fmt.Errorf("unexpected settlement script id: %v", reply[1])
	}

	stored, err := c.GetSettlement(ctx, storedID)
	if err != nil {
		return nil, false, err
	}
	return stored, createdFlag == 1, nil
}

// GetSettlement retrieves a settlement by ID.
// Returns (nil, redis.Nil) if the settlement doesn't exist.
func (c *Client) GetSettlement(ctx context.Context, settlementID string) (*cep.Settlement, error) {
	hash, err := c.rdb.HGetAll(ctx, SettlementKey(c.instanceName, settlementID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get settlement: %w", err)
	}
	if len(hash) == 0 {
		return nil, redis.Nil
	}
	return HashToSettlement(hash)
}

// GetSettlementByEnvelope retrieves the settlement recorded for an envelope.
// Returns (nil, redis.Nil) if the envelope has not settled.
func (c *Client) GetSettlementByEnvelope(ctx context.Context, envelopeID string) (*cep.Settlement, error) {
	settlementID, err := c.rdb.Get(ctx, SettlementByEnvelopeKey(c.instanceName, envelopeID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, redis.Nil
		}
		return nil, fmt.Errorf("failed to look up settlement for envelope: %w", err)
	}
	return c.GetSettlement(ctx, settlementID)
}

// UpdateOfferStatus overwrites the status field of an existing offer.
// Returns redis.Nil if the offer doesn't exist.
func (c *Client) UpdateOfferStatus(ctx context.Context, offerID string, status cep.OfferStatus) error {
	key := OfferKey(c.instanceName, offerID)
	exists, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to check offer existence: %w", err)
	}
	if exists == 0 {
		return redis.Nil
	}
	if err := c.rdb.HSet(ctx, key, "status", string(status)).Err(); err != nil {
		return fmt.Errorf("failed to update offer status: %w", err)
	}
	return nil
}

// UpdateEnvelopeStatus overwrites the status field of an existing envelope.
// Returns redis.Nil if the envelope doesn't exist.
func (c *Client) UpdateEnvelopeStatus(ctx context.Context, envelopeID string, status cep.EnvelopeStatus) error {
	key := EnvelopeKey(c.instanceName, envelopeID)
	exists, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to check envelope existence: %w", err)
	}
	if exists == 0 {
		return redis.Nil
	}
	if err := c.rdb.HSet(ctx, key, "status", string(status)).Err(); err != nil {
		return fmt.Errorf("failed to update envelope status: %w", err)
	}
	return nil
}

// OpenEnvelopeStats summarises an agent's (or the pool's) live credit lines.
type OpenEnvelopeStats struct {
	Count        int
	ExposureSats int64
}

// GetAgentOpenEnvelopeStats returns the count and summed max_sats of the
// agent's open, unexpired envelopes.
func (c *Client) GetAgentOpenEnvelopeStats(ctx context.Context, agentID string, nowUnix int64) (OpenEnvelopeStats, error) {
	return c.openEnvelopeStats(ctx, AgentOpenEnvelopesKey(c.instanceName, agentID), nowUnix)
}

// GetGlobalOpenEnvelopeStats returns the count and summed max_sats of all
// open, unexpired envelopes across the pool.
func (c *Client) GetGlobalOpenEnvelopeStats(ctx context.Context, nowUnix int64) (OpenEnvelopeStats, error) {
	return c.openEnvelopeStats(ctx, OpenEnvelopesKey(c.instanceName), nowUnix)
}

func (c *Client) openEnvelopeStats(ctx context.Context, setKey string, nowUnix int64) (OpenEnvelopeStats, error) {
	ids, err := c.rdb.SMembers(ctx, setKey).Result()
	if err != nil {
		return OpenEnvelopeStats{}, fmt.Errorf("failed to list open envelopes: %w", err)
	}

	var stats OpenEnvelopeStats
	for _, id := range ids {
		fields, err := c.rdb.HMGet(ctx, EnvelopeKey(c.instanceName, id), "status", "exp_unix", "max_sats").Result()
		if err != nil {
			return OpenEnvelopeStats{}, fmt.Errorf("failed to read open envelope %s: %w", id, err)
		}

		status, _ := fields[0].(string)
		if cep.EnvelopeStatus(status).Terminal() || status == "" {
			// settled elsewhere or gone; drop the stale member
			c.rdb.SRem(ctx, setKey, id)
			continue
		}

		expStr, _ := fields[1].(string)
		exp, err := strconv.ParseInt(expStr, 10, 64)
		if err != nil {
			return OpenEnvelopeStats{}, fmt.Errorf("invalid exp_unix on envelope %s: %w", id, err)
		}
		if exp <= nowUnix {
			// expired envelopes no longer count as exposure
			continue
		}

		maxStr, _ := fields[2].(string)
		maxSats, err := strconv.ParseInt(maxStr, 10, 64)
		if err != nil {
			return OpenEnvelopeStats{}, fmt.Errorf("invalid max_sats on envelope %s: %w", id, err)
		}

		stats.Count++
		stats.ExposureSats += maxSats
	}
	return stats, nil
}

// ListRecentSettlements returns up to limit settlements created at or after
// sinceUnix, newest first.
func (c *Client) ListRecentSettlements(ctx context.Context, sinceUnix int64, limit int) ([]*cep.Settlement, error) {
	return c.listSettlements(ctx, SettlementsZSetKey(c.instanceName), sinceUnix, limit)
}

// ListRecentSettlementsForAgent returns up to limit of the agent's
// settlements created at or after sinceUnix, newest first.
func (c *Client) ListRecentSettlementsForAgent(ctx context.Context, agentID string, sinceUnix int64, limit int) ([]*cep.Settlement, error) {
	return c.listSettlements(ctx, AgentSettlementsZSetKey(c.instanceName, agentID), sinceUnix, limit)
}

func (c *Client) listSettlements(ctx context.Context, zsetKey string, sinceUnix int64, limit int) ([]*cep.Settlement, error) {
	ids, err := c.rdb.ZRevRangeByScore(ctx, zsetKey, &redis.ZRangeBy{
		Min:   strconv.FormatInt(sinceUnix, 10),
		Max:   "+inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list settlements: %w", err)
	}

	settlements := make([]*cep.Settlement, 0, len(ids))
	for _, id := range ids {
		stl, err := c.GetSettlement(ctx, id)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		settlements = append(settlements, stl)
	}
	return settlements, nil
}

// RecordPayEvent appends a Lightning payment attempt outcome to the pay-event
// window. An event ID is assigned if the caller did not set one.
func (c *Client) RecordPayEvent(ctx context.Context, ev *cep.PayEvent) error {
	if ev.EventID == "" {
		ev.EventID = uuid.New().String()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal pay event: %w", err)
	}

	err = c.rdb.ZAdd(ctx, PayEventsZSetKey(c.instanceName), redis.Z{
		Score:  float64(ev.CreatedAtUnix),
		Member: string(payload),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to record pay event: %w", err)
	}
	return nil
}

// ListRecentPayEvents returns up to limit pay events recorded at or after
// sinceUnix, newest first.
func (c *Client) ListRecentPayEvents(ctx context.Context, sinceUnix int64, limit int) ([]*cep.PayEvent, error) {
	members, err := c.rdb.ZRevRangeByScore(ctx, PayEventsZSetKey(c.instanceName), &redis.ZRangeBy{
		Min:   strconv.FormatInt(sinceUnix, 10),
		Max:   "+inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list pay events: %w", err)
	}

	events := make([]*cep.PayEvent, 0, len(members))
	for _, m := range members {
		var ev cep.PayEvent
		if err := json.Unmarshal([]byte(m), &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pay event: %w", err)
		}
		events = append(events, &ev)
	}
	return events, nil
}

// PutUnderwritingAudit stores the immutable audit record for an offer. A
// record already present for the offer is left untouched.
func (c *Client) PutUnderwritingAudit(ctx context.Context, audit *cep.UnderwritingAudit) error {
	payload, err := json.Marshal(audit)
	if err != nil {
		return fmt.Errorf("failed to marshal underwriting audit: %w", err)
	}

	key := UnderwritingAuditKey(c.instanceName, audit.OfferID)
	if err := c.rdb.SetNX(ctx, key, payload, 0).Err(); err != nil {
		return fmt.Errorf("failed to store underwriting audit: %w", err)
	}
	return nil
}

// GetUnderwritingAudit retrieves the audit record for an offer.
// Returns (nil, redis.Nil) if no record exists.
func (c *Client) GetUnderwritingAudit(ctx context.Context, offerID string) (*cep.UnderwritingAudit, error) {
	payload, err := c.rdb.Get(ctx, UnderwritingAuditKey(c.instanceName, offerID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, redis.Nil
		}
		return nil, fmt.Errorf("failed to get underwriting audit: %w", err)
	}

	var audit cep.UnderwritingAudit
	if err := json.Unmarshal([]byte(payload), &audit); err != nil {
		return nil, fmt.Errorf("failed to unmarshal underwriting audit: %w", err)
	}
	return &audit, nil
}

// PutReceipt stores a signed receipt. Receipts are deterministic for a given
// payload, so overwrites are harmless.
func (c *Client) PutReceipt(ctx context.Context, r *cep.Receipt) error {
	key := ReceiptKey(c.instanceName, string(r.EntityKind), r.EntityID, r.Schema)
	if err := c.rdb.HSet(ctx, key, ReceiptToHash(r)).Err(); err != nil {
		return fmt.Errorf("failed to store receipt: %w", err)
	}
	return nil
}

// GetReceipt retrieves the receipt for an (entity kind, entity ID, schema)
// triple. Returns (nil, redis.Nil) if no receipt exists.
func (c *Client) GetReceipt(ctx context.Context, kind cep.EntityKind, entityID, schema string) (*cep.Receipt, error) {
	hash, err := c.rdb.HGetAll(ctx, ReceiptKey(c.instanceName, string(kind), entityID, schema)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}
	if len(hash) == 0 {
		return nil, redis.Nil
	}
	return HashToReceipt(hash)
}
