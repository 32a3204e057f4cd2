package services

const (
	KeyWallet           = "wallet:%d"
	KeyRoundSequence    = "seq:round"
	KeyCommitment       = "commitment:%s"
	KeyUserCommitments  = "user:%d:commitments"
	KeyRound            = "round:%d"
	KeyUserRounds       = "user:%d:rounds:%s"
	KeyGameRounds       = "rounds:%s"
	KeyActiveCrash      = "crash:active:%d"
	KeyActiveCrashIndex = "crash:active"
	KeyRideSession      = "ride:session:%d"
	KeyTransaction      = "transaction:%s"
	KeyUserTransactions = "user:%d:transactions"
	KeyLeaderboardWins  = "leaderboard:wins"
	KeyHouseTotals      = "house:totals"
	KeyEdgeConfig       = "edge:config:%d"
	KeyEdgeVersions     = "edge:versions"
	KeyRateLimit        = "ratelimit:%d:%s"

	// Index sizes. Records themselves are never expired.
	MaxIndexedRounds       = 1000
	MaxIndexedTransactions = 1000
	MaxLeaderboardEntries  = 100
)
