package auth

// Scopes granted to signed-in users.
const (
	ScopeStepsRead       = "steps:read"
	ScopeStepsWrite      = "steps:write"
	ScopeLeaderboardRead = "leaderboard:read"
)

// UserScopes is the scope set issued at sign-in and sign-up.
var UserScopes = []string{ScopeStepsRead, ScopeStepsWrite, ScopeLeaderboardRead}
