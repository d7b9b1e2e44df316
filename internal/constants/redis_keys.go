package constants

// Redis key prefixes and formats.
// Naming convention: app:{module}:{entity}:{unique_id}
const (
	// AppPrefix is the shared application prefix for all Redis keys.
	AppPrefix = "app"

	// GuardModulePrefix covers the recursion guard.
	GuardModulePrefix = "guard"
	// SearchModulePrefix covers the search broker.
	SearchModulePrefix = "search"

	// KeyRecursionDepth holds the cascade depth counter for one event id.
	// Format: app:guard:depth:{eventID}
	KeyRecursionDepth = AppPrefix + ":" + GuardModulePrefix + ":depth:%s"

	// KeySearchUserWindow holds the fixed-window request counter per user.
	// Format: app:search:rate:user:{userID}:{windowStart}
	KeySearchUserWindow = AppPrefix + ":" + SearchModulePrefix + ":rate:user:%s:%d"

	// KeySearchNetworkWindow holds the fixed-window request counter per
	// network address. Format: app:search:rate:net:{addr}:{windowStart}
	KeySearchNetworkWindow = AppPrefix + ":" + SearchModulePrefix + ":rate:net:%s:%d"
)
