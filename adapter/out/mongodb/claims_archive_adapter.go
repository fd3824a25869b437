package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"claims_server/core/domain"
	"claims_server/core/port/out"
)

// =============================================================================
// Result Archive Adapter
// =============================================================================

const collectionArchive = "claim_results"

// ArchiveAdapter implements out.ArchiveStore using MongoDB. One write-once
// document per job with the fused result and the final state.
type ArchiveAdapter struct {
	collection *mongo.Collection
}

// NewArchiveAdapter creates a new MongoDB archive adapter.
func NewArchiveAdapter(db *mongo.Database) *ArchiveAdapter {
	return &ArchiveAdapter{collection: db.Collection(collectionArchive)}
}

// EnsureIndexes creates necessary indexes for the collection.
func (a *ArchiveAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "job_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "final_state", Value: 1}},
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// archiveDocument represents the MongoDB document structure.
type archiveDocument struct {
	JobID      string    `bson:"job_id"`
	FinalState string    `bson:"final_state"`
	Fused      bson.Raw  `bson:"fused_result,omitempty"`
	ArchivedAt time.Time `bson:"archived_at"`
}

// ArchiveResult stores the final record for a job. Write-once: a second
// archive for the same job is a no-op, so a replayed terminal transition
// cannot rewrite history.
func (a *ArchiveAdapter) ArchiveResult(ctx context.Context, jobID uuid.UUID, fused *domain.FusedResult, finalState domain.JobState) error {
	doc := bson.M{
		"job_id":      jobID.String(),
		"final_state": string(finalState),
		"archived_at": time.Now().UTC(),
	}
	if fused != nil {
		raw, err := bson.Marshal(archiveFused(fused))
		if err != nil {
			return fmt.Errorf("failed to encode fused result: %w", err)
		}
		doc["fused_result"] = bson.Raw(raw)
	}

	_, err := a.collection.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to archive result for job %s: %w", jobID, err)
	}
	return nil
}

// archiveFused flattens the fused result into plain bson-friendly maps,
// rendering values through their canonical string forms.
func archiveFused(f *domain.FusedResult) bson.M {
	fields := bson.M{}
	confidences := bson.M{}
	sources := bson.M{}
	for _, name := range domain.AllFields {
		v, ok := f.Fields[name]
		if !ok {
			continue
		}
		fields[string(name)] = v.String()
		confidences[string(name)] = f.FieldConfidences[name]
		sources[string(name)] = string(f.FieldSources[name])
	}

	conflicts := make([]bson.M, 0, len(f.Conflicts))
	for _, c := range f.Conflicts {
		conflicts = append(conflicts, bson.M{
			"field_name":       string(c.Field),
			"email_value":      c.EmailValue,
			"email_confidence": c.EmailConfidence,
			"ocr_value":        c.OCRValue,
			"ocr_confidence":   c.OCRConfidence,
			"resolution":       string(c.Resolution),
			"reason":           c.Reason,
		})
	}

	return bson.M{
		"fields":             fields,
		"field_confidences":  confidences,
		"field_sources":      sources,
		"overall_confidence": f.OverallConfidence,
		"conflicts":          conflicts,
		"warnings":           f.Warnings,
	}
}

// Ensure ArchiveAdapter implements out.ArchiveStore
var _ out.ArchiveStore = (*ArchiveAdapter)(nil)
