package services

import "github.com/redis/go-redis/v9"

// Keys of settleScript, in order. Transaction hashes follow from
// settleKeyFirstTx on.
const (
	settleKeyWallet = iota
	settleKeyConsume
	settleKeyRound
	settleKeyActive
	settleKeyActiveIndex
	settleKeySession
	settleKeyNewCommitment
	settleKeyUserCommitments
	settleKeyUserRounds
	settleKeyGameRounds
	settleKeyUserTransactions
	settleKeyLeaderboard
	settleKeyHouse
	settleKeyFirstTx
)

// settleScript applies a storage.Settlement atomically. ARGV[1] is the JSON
// payload built by RedisService.Settle. Every check runs before the first
// write so a rejected settlement leaves no trace.
var settleScript = redis.NewScript(`
	local p = cjson.decode(ARGV[1])
	local function int(x) return string.format("%d", x) end

	local txs = p.txs
	if type(txs) ~= "table" then
		txs = {}
	end

	if redis.call("EXISTS", KEYS[1]) == 0 then
		return redis.error_reply("wallet_not_found")
	end
	local balance = tonumber(redis.call("HGET", KEYS[1], "balance_cents"))

	if p.consume then
		local owner = redis.call("HGET", KEYS[2], "owner")
		if (not owner) or tonumber(owner) ~= p.owner or redis.call("HGET", KEYS[2], "consumed") ~= "0" then
			return redis.error_reply("commitment_unavailable")
		end
	end

	if p.round_mode == 1 then
		if redis.call("EXISTS", KEYS[3]) == 1 then
			return redis.error_reply("duplicate_round")
		end
	elseif p.round_mode == 2 then
		local settled = redis.call("HGET", KEYS[3], "settled")
		if not settled then
			return redis.error_reply("round_not_found")
		end
		if settled == "1" then
			return redis.error_reply("round_settled")
		end
	end

	if p.active == 1 then
		if redis.call("EXISTS", KEYS[4]) == 1 then
			return redis.error_reply("active_round_exists")
		end
	elseif p.active == 2 then
		local current = redis.call("GET", KEYS[4])
		if (not current) or tonumber(current) ~= p.active_round then
			return redis.error_reply("active_round_mismatch")
		end
	end

	if p.session == 1 then
		if redis.call("EXISTS", KEYS[6]) == 1 then
			return redis.error_reply("session_exists")
		end
	elseif p.session == 2 or p.session == 3 then
		local version = redis.call("HGET", KEYS[6], "flip_count")
		if not version then
			return redis.error_reply("session_missing")
		end
		if tonumber(version) ~= p.expect_version then
			return redis.error_reply("session_changed")
		end
	end

	local new_balance = balance + p.delta
	if new_balance < 0 then
		return redis.error_reply("insufficient_funds")
	end
	local sum = 0
	for _, t in ipairs(txs) do
		sum = sum + t.amount
	end
	if sum ~= p.delta then
		return redis.error_reply("ledger_mismatch")
	end

	redis.call("HSET", KEYS[1], "balance_cents", int(new_balance), "updated_at", int(p.now))
	redis.call("HINCRBY", KEYS[1], "total_wagered_cents", int(p.wagered))
	redis.call("HINCRBY", KEYS[1], "total_won_cents", int(p.won))
	redis.call("HINCRBY", KEYS[13], "wagered_cents", int(p.wagered))
	redis.call("HINCRBY", KEYS[13], "paid_cents", int(p.won))

	if p.round_mode > 0 then
		local settled = "0"
		if p.round_settled then
			settled = "1"
			redis.call("HINCRBY", KEYS[13], "rounds", 1)
		end
		redis.call("HSET", KEYS[3], "record", p.round_record, "settled", settled)
		if p.round_mode == 1 then
			redis.call("ZADD", KEYS[9], int(p.round_id), int(p.round_id))
			redis.call("ZADD", KEYS[10], int(p.round_id), int(p.round_id))
			redis.call("ZREMRANGEBYRANK", KEYS[9], 0, -1 - tonumber(ARGV[2]))
			redis.call("ZREMRANGEBYRANK", KEYS[10], 0, -1 - tonumber(ARGV[2]))
		end
	end

	if p.consume then
		redis.call("HSET", KEYS[2], "consumed", "1", "consumed_at", int(p.now), "round_id", int(p.round_id))
	end

	if p.active == 1 then
		redis.call("SET", KEYS[4], int(p.active_round))
		redis.call("SADD", KEYS[5], int(p.active_round))
	elseif p.active == 2 then
		redis.call("DEL", KEYS[4])
		redis.call("SREM", KEYS[5], int(p.active_round))
	end

	if p.session == 1 or p.session == 2 then
		redis.call("HSET", KEYS[6], "flip_count", int(p.session_version), "record", p.session_record)
	elseif p.session == 3 then
		redis.call("DEL", KEYS[6])
	end

	local c = p.new_commitment
	if type(c) == "table" then
		redis.call("HSET", KEYS[7], "id", c.id, "owner", int(c.owner), "secret", c.secret,
			"hash", c.hash, "consumed", "0", "created_at", int(c.created_at))
		redis.call("ZADD", KEYS[8], int(c.created_at), c.id)
	end

	local running = balance
	for i, t in ipairs(txs) do
		local before = running
		running = running + t.amount
		redis.call("HSET", KEYS[13 + i],
			"id", t.id, "user_id", int(p.owner), "type", t.type,
			"amount_cents", int(t.amount),
			"balance_before_cents", int(before), "balance_after_cents", int(running),
			"round_id", int(t.round_id), "game", t.game,
			"description", t.description, "created_at", int(t.created_at))
		redis.call("ZADD", KEYS[11], int(t.created_at), t.id)
		if t.type == "win" then
			redis.call("ZADD", KEYS[12], int(t.amount), t.id)
		end
	end
	if #txs > 0 then
		redis.call("ZREMRANGEBYRANK", KEYS[11], 0, -1 - tonumber(ARGV[3]))
		redis.call("ZREMRANGEBYRANK", KEYS[12], 0, -1 - tonumber(ARGV[4]))
	end

	return int(new_balance)
`)

// consumeScript flips a commitment to consumed if ARGV[1] owns it.
var consumeScript = redis.NewScript(`
	local owner = redis.call("HGET", KEYS[1], "owner")
	if (not owner) or tonumber(owner) ~= tonumber(ARGV[1]) then
		return redis.error_reply("commitment_unavailable")
	end
	if redis.call("HGET", KEYS[1], "consumed") ~= "0" then
		return redis.error_reply("commitment_unavailable")
	end
	redis.call("HSET", KEYS[1], "consumed", "1", "consumed_at", ARGV[2])
	return "OK"
`)

// openAccountScript creates a wallet and its opening deposit line. It
// returns 0 when the wallet already exists.
var openAccountScript = redis.NewScript(`
	if redis.call("EXISTS", KEYS[1]) == 1 then
		return 0
	end
	redis.call("HSET", KEYS[1],
		"balance_cents", ARGV[1], "total_wagered_cents", "0", "total_won_cents", "0",
		"created_at", ARGV[2], "updated_at", ARGV[2])
	if tonumber(ARGV[1]) > 0 then
		redis.call("HSET", KEYS[2],
			"id", ARGV[3], "user_id", ARGV[4], "type", "deposit",
			"amount_cents", ARGV[1], "balance_before_cents", "0", "balance_after_cents", ARGV[1],
			"round_id", "0", "game", "", "description", "Opening credits", "created_at", ARGV[2])
		redis.call("ZADD", KEYS[3], ARGV[2], ARGV[3])
	end
	return 1
`)
