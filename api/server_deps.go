package api

import (
	"database/sql"

	"merchant-guard/core/decision"
	"merchant-guard/core/guard"
	"merchant-guard/core/rbac"
	"merchant-guard/core/store"
	"merchant-guard/core/tokens"
)

type ServerDeps struct {
	DB       *sql.DB
	Accounts store.AccountsStore
	Attempts store.AccessAttemptsStore
	Policy   *rbac.Policy
	Resolver *guard.Resolver
	Engine   *decision.Engine
	Tokens   *tokens.Manager
	Metrics  *AccessMetrics
	Recorder RecorderStats
}
