package store

import "github.com/redis/go-redis/v9"

// Lua scripts backing the idempotent create-or-get primitives
//
// Entity IDs are fingerprints of canonical request bodies, so a replayed
// request targets the same key as the original. Each script checks for an
// existing row and either leaves it untouched (replay) or writes the new row
// and its side effects in one atomic step.

// createOrGetScript writes an entity hash unless it already exists.
//
// KEYS[1] = entity hash key
// ARGV    = alternating field/value pairs
//
// Returns 1 if the row was created, 0 if it already existed.
var createOrGetScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1
`)

// envelopeAcceptScript mints an envelope against an offer. The envelope write
// and the offer's offered→accepted transition happen atomically, so two
// distinct providers racing for one offer can never both succeed.
//
// KEYS[1] = envelope hash key
// KEYS[2] = offer hash key
// KEYS[3] = agent open-envelope set key
// KEYS[4] = global open-envelope set key
// ARGV[1] = envelope ID
// ARGV[2..] = alternating envelope field/value pairs
//
// Returns one of: "created", "existing", "offer_missing", "offer_taken".
var envelopeAcceptScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 'existing'
end
local status = redis.call('HGET', KEYS[2], 'status')
if not status then
  return 'offer_missing'
end
if status ~= 'offered' then
  return 'offer_taken'
end
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
redis.call('HSET', KEYS[2], 'status', 'accepted')
redis.call('SADD', KEYS[3], ARGV[1])
redis.call('SADD', KEYS[4], ARGV[1])
return 'created'
`)

// settlementCreateScript records the one and only settlement for an envelope.
// The envelope-keyed guard (KEYS[2]) is what enforces settlement-once: any
// later attempt, regardless of its request fingerprint, finds the guard and
// gets the original settlement ID back.
//
// KEYS[1] = settlement hash key
// KEYS[2] = settlement-by-envelope guard key
// KEYS[3] = global settlements ZSET key
// KEYS[4] = agent settlements ZSET key
// KEYS[5] = envelope hash key
// KEYS[6] = agent open-envelope set key
// KEYS[7] = global open-envelope set key
// ARGV[1] = envelope ID
// ARGV[2] = settlement ID
// ARGV[3] = created_at unix seconds (ZSET score)
// ARGV[4] = terminal envelope status
// ARGV[5..] = alternating settlement field/value pairs
//
// Returns {1, settlement_id} if created, {0, existing_settlement_id} on replay.
var settlementCreateScript = redis.NewScript(`
local existing = redis.call('GET', KEYS[2])
if existing then
  return {0, existing}
end
redis.call('HSET', KEYS[1], unpack(ARGV, 5))
redis.call('SET', KEYS[2], ARGV[2])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[2])
redis.call('ZADD', KEYS[4], ARGV[3], ARGV[2])
redis.call('HSET', KEYS[5], 'status', ARGV[4])
redis.call('SREM', KEYS[6], ARGV[1])
redis.call('SREM', KEYS[7], ARGV[1])
return {1, ARGV[2]}
`)
