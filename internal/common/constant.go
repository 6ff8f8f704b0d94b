package common

// AuthorizationHeaderName carries "Bearer <access token>" on inbound requests.
const AuthorizationHeaderName = "Authorization"

// UserIDContextKey is the gin context key holding the authenticated user id.
const UserIDContextKey = "userID"

// Model kinds stored in weights.kind.
const (
	WeightKindDemo   = "demo"
	WeightKindCustom = "custom"
)
