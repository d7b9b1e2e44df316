package guard

import (
	"context"
	"errors"
	"fmt"

	"concierge-go/internal/logger"
)

// ErrNotAuthorized is returned by AssertAuthorized on denial.
var ErrNotAuthorized = errors.New("deletion not authorized")

// protectedCollections hold user, financial or primary business records;
// deletes against them additionally require an explicit confirmation flag.
var protectedCollections = map[string]bool{
	"jobs":     true,
	"users":    true,
	"payments": true,
	"vendors":  true,
	"orders":   true,
}

// DeletionContext is the request-scoped authorization input for one bulk
// or irreversible delete. It is never persisted; only the decision is
// logged.
type DeletionContext struct {
	Collection string
	DocumentID string // optional, empty means the whole collection
	Caller     string
	Reason     string
}

// Decision is a structured authorization outcome. The guard never throws;
// callers decide whether a denial is fatal.
type Decision struct {
	Authorized bool
	Reason     string
}

// DeletionGuard gates every destructive operation behind an explicit
// environment switch, a named caller and a reason. It fails closed: absent
// the switch, every request is denied regardless of caller or reason.
type DeletionGuard struct {
	allowDestructiveOps bool
}

// NewDeletionGuard creates a guard with the environment switch resolved by
// the caller (config reads it from the environment only).
func NewDeletionGuard(allowDestructiveOps bool) *DeletionGuard {
	return &DeletionGuard{allowDestructiveOps: allowDestructiveOps}
}

// Authorize decides a base deletion request. Every attempt, granted or
// denied, is logged with the full context before the decision is returned.
func (g *DeletionGuard) Authorize(ctx context.Context, dctx DeletionContext) Decision {
	decision := g.decide(dctx)
	g.logDecision(dctx, decision, false, false)
	return decision
}

// AuthorizeProtected decides a deletion against a protected collection:
// the base check must pass and the caller must have set confirmed=true.
// For unprotected collections it behaves like Authorize.
func (g *DeletionGuard) AuthorizeProtected(ctx context.Context, dctx DeletionContext, confirmed bool) Decision {
	decision := g.decide(dctx)
	if decision.Authorized && protectedCollections[dctx.Collection] && !confirmed {
		decision = Decision{
			Authorized: false,
			Reason:     fmt.Sprintf("collection %q is protected and requires explicit confirmation", dctx.Collection),
		}
	}
	g.logDecision(dctx, decision, true, confirmed)
	return decision
}

// AssertAuthorized is the fail-fast variant. Protected collections are
// checked against confirmed; unprotected ones ignore it.
func (g *DeletionGuard) AssertAuthorized(ctx context.Context, dctx DeletionContext, confirmed bool) error {
	decision := g.AuthorizeProtected(ctx, dctx, confirmed)
	if !decision.Authorized {
		return fmt.Errorf("%w: %s", ErrNotAuthorized, decision.Reason)
	}
	return nil
}

// IsProtected reports whether a collection requires explicit confirmation.
func (g *DeletionGuard) IsProtected(collection string) bool {
	return protectedCollections[collection]
}

func (g *DeletionGuard) decide(dctx DeletionContext) Decision {
	if !g.allowDestructiveOps {
		return Decision{
			Authorized: false,
			Reason:     "destructive operations are disabled in this environment",
		}
	}
	if dctx.Caller == "" {
		return Decision{Authorized: false, Reason: "caller identity is required"}
	}
	if dctx.Reason == "" {
		return Decision{Authorized: false, Reason: "a human-readable reason is required"}
	}
	if dctx.Collection == "" {
		return Decision{Authorized: false, Reason: "target collection is required"}
	}
	return Decision{Authorized: true, Reason: "authorized"}
}

func (g *DeletionGuard) logDecision(dctx DeletionContext, decision Decision, protectedCheck, confirmed bool) {
	event := logger.Info()
	if !decision.Authorized {
		event = logger.Warn()
	}
	event.
		Str("collection", dctx.Collection).
		Str("document_id", dctx.DocumentID).
		Str("caller", dctx.Caller).
		Str("reason", dctx.Reason).
		Bool("protected_check", protectedCheck).
		Bool("confirmed", confirmed).
		Bool("authorized", decision.Authorized).
		Str("decision_reason", decision.Reason).
		Msg("deletion authorization decision")
}
