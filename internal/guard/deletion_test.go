package guard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeletionGuardFailsClosedWithoutSwitch(t *testing.T) {
	g := NewDeletionGuard(false)
	ctx := context.Background()

	tests := []struct {
		name string
		dctx DeletionContext
	}{
		{"empty context", DeletionContext{}},
		{"caller and reason present", DeletionContext{
			Collection: "sessions",
			Caller:     "admin@ops",
			Reason:     "cleaning stale sessions",
		}},
		{"protected collection", DeletionContext{
			Collection: "jobs",
			Caller:     "admin@ops",
			Reason:     "purging test data",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := g.Authorize(ctx, tt.dctx)
			assert.False(t, decision.Authorized)
			assert.Contains(t, decision.Reason, "disabled")
		})
	}
}

func TestDeletionGuardRequiresCallerAndReason(t *testing.T) {
	g := NewDeletionGuard(true)
	ctx := context.Background()

	noCaller := g.Authorize(ctx, DeletionContext{Collection: "sessions", Reason: "cleanup"})
	assert.False(t, noCaller.Authorized)

	noReason := g.Authorize(ctx, DeletionContext{Collection: "sessions", Caller: "admin@ops"})
	assert.False(t, noReason.Authorized)

	ok := g.Authorize(ctx, DeletionContext{Collection: "sessions", Caller: "admin@ops", Reason: "cleanup"})
	assert.True(t, ok.Authorized)
}

func TestDeletionGuardProtectedCollectionNeedsConfirmation(t *testing.T) {
	g := NewDeletionGuard(true)
	ctx := context.Background()
	dctx := DeletionContext{Collection: "jobs", Caller: "admin@ops", Reason: "gdpr erasure request"}

	// Base authorization alone is insufficient for protected collections.
	require.True(t, g.Authorize(ctx, dctx).Authorized)

	denied := g.AuthorizeProtected(ctx, dctx, false)
	assert.False(t, denied.Authorized)
	assert.Contains(t, denied.Reason, "protected")

	granted := g.AuthorizeProtected(ctx, dctx, true)
	assert.True(t, granted.Authorized)
}

func TestDeletionGuardUnprotectedIgnoresConfirmation(t *testing.T) {
	g := NewDeletionGuard(true)
	dctx := DeletionContext{Collection: "sessions", Caller: "admin@ops", Reason: "cleanup"}

	decision := g.AuthorizeProtected(context.Background(), dctx, false)
	assert.True(t, decision.Authorized)
}

func TestDeletionGuardAssertAuthorized(t *testing.T) {
	ctx := context.Background()

	denied := NewDeletionGuard(false)
	err := denied.AssertAuthorized(ctx, DeletionContext{Collection: "sessions", Caller: "a", Reason: "b"}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	granted := NewDeletionGuard(true)
	err = granted.AssertAuthorized(ctx, DeletionContext{Collection: "jobs", Caller: "a", Reason: "b"}, true)
	require.NoError(t, err)
}
