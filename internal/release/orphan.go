package release

import (
	"context"
	"fmt"

	"concierge-go/internal/guard"
	"concierge-go/internal/logger"
)

// Relationship declares one parent/child collection pair scanned by the
// orphan cleanup.
type Relationship struct {
	Parent   string
	Child    string
	ChildKey string // foreign-key column on the child collection
}

// DefaultRelationships is the fixed scan table.
var DefaultRelationships = []Relationship{
	{Parent: "jobs", Child: "job_events", ChildKey: "job_id"},
}

// OrphanStore is the document-store surface the cleanup needs.
type OrphanStore interface {
	// SampleParentIDs returns the distinct parent ids referenced by a
	// bounded sample of child records.
	SampleParentIDs(ctx context.Context, rel Relationship, sampleLimit int) ([]string, error)

	// ParentExists reports whether the parent document still exists.
	ParentExists(ctx context.Context, rel Relationship, parentID string) (bool, error)

	// CountChildren counts child records referencing parentID.
	CountChildren(ctx context.Context, rel Relationship, parentID string) (int64, error)

	// DeleteChildren removes all child records referencing parentID in a
	// single batch and returns the deleted count.
	DeleteChildren(ctx context.Context, rel Relationship, parentID string) (int64, error)

	// AppendAuditLog records one deletion in orphan_cleanup_log.
	AppendAuditLog(ctx context.Context, rel Relationship, parentID string, deletedCount int64, dryRun bool, traceID string) error
}

// OrphanResult reports one relationship's outcome.
type OrphanResult struct {
	Parent        string   `json:"parent"`
	Child         string   `json:"child"`
	OrphanParents []string `json:"orphan_parents,omitempty"`
	OrphanCount   int64    `json:"orphan_count"`
	DeletedCount  int64    `json:"deleted_count"`
	DryRun        bool     `json:"dry_run"`
	Errors        []string `json:"errors,omitempty"`
}

// OrphanCleanupOptions controls one run.
type OrphanCleanupOptions struct {
	DryRun  bool
	TraceID string
	Caller  string
}

// OrphanCleanup removes child records whose parent no longer exists.
// Deletions pass the deletion guard like every other destructive
// operation; in an environment without the destructive-ops switch the
// cleanup degrades to reporting.
type OrphanCleanup struct {
	store         OrphanStore
	deletionGuard *guard.DeletionGuard
	relationships []Relationship
	sampleLimit   int
}

// NewOrphanCleanup creates a cleanup over the default relationship table.
func NewOrphanCleanup(store OrphanStore, deletionGuard *guard.DeletionGuard) *OrphanCleanup {
	return &OrphanCleanup{
		store:         store,
		deletionGuard: deletionGuard,
		relationships: DefaultRelationships,
		sampleLimit:   500,
	}
}

// WithRelationships overrides the scan table, for tests.
func (c *OrphanCleanup) WithRelationships(rels []Relationship) *OrphanCleanup {
	c.relationships = rels
	return c
}

// Run executes one pass over every declared relationship.
func (c *OrphanCleanup) Run(ctx context.Context, opts OrphanCleanupOptions) []OrphanResult {
	results := make([]OrphanResult, 0, len(c.relationships))

	for _, rel := range c.relationships {
		result := c.runRelationship(ctx, rel, opts)
		results = append(results, result)

		logger.Info().
			Str("parent", rel.Parent).
			Str("child", rel.Child).
			Int64("orphan_count", result.OrphanCount).
			Int64("deleted_count", result.DeletedCount).
			Bool("dry_run", opts.DryRun).
			Str("trace_id", opts.TraceID).
			Msg("orphan cleanup relationship done")
	}

	return results
}

func (c *OrphanCleanup) runRelationship(ctx context.Context, rel Relationship, opts OrphanCleanupOptions) OrphanResult {
	result := OrphanResult{Parent: rel.Parent, Child: rel.Child, DryRun: opts.DryRun}

	parentIDs, err := c.store.SampleParentIDs(ctx, rel, c.sampleLimit)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("sample children: %v", err))
		return result
	}

	for _, parentID := range parentIDs {
		exists, err := c.store.ParentExists(ctx, rel, parentID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("check parent %s: %v", parentID, err))
			continue
		}
		if exists {
			continue
		}

		result.OrphanParents = append(result.OrphanParents, parentID)

		if opts.DryRun {
			count, err := c.store.CountChildren(ctx, rel, parentID)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("count children of %s: %v", parentID, err))
				continue
			}
			result.OrphanCount += count
			continue
		}

		dctx := guard.DeletionContext{
			Collection: rel.Child,
			Caller:     opts.Caller,
			Reason:     fmt.Sprintf("orphan cleanup: parent %s/%s no longer exists", rel.Parent, parentID),
		}
		if err := c.deletionGuard.AssertAuthorized(ctx, dctx, false); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("delete children of %s: %v", parentID, err))
			continue
		}

		deleted, err := c.store.DeleteChildren(ctx, rel, parentID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("delete children of %s: %v", parentID, err))
			continue
		}
		result.OrphanCount += deleted
		result.DeletedCount += deleted

		if err := c.store.AppendAuditLog(ctx, rel, parentID, deleted, false, opts.TraceID); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("audit log for %s: %v", parentID, err))
		}
	}

	return result
}
