package mongodb

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"claims_server/core/domain"
	"claims_server/core/port/out"
)

// =============================================================================
// Intake Document Adapter
// =============================================================================

const (
	collectionIntake = "intake_documents"

	// Compression threshold - only compress attachments larger than this
	compressionThreshold = 1024 // 1KB
)

// IntakeAdapter implements out.IntakeStore using MongoDB. Documents are
// keyed by content hash and written once; the extraction worker reads them
// back by the same key.
type IntakeAdapter struct {
	collection *mongo.Collection
}

// NewIntakeAdapter creates a new MongoDB intake adapter.
func NewIntakeAdapter(db *mongo.Database) *IntakeAdapter {
	return &IntakeAdapter{collection: db.Collection(collectionIntake)}
}

// EnsureIndexes creates necessary indexes for the collection.
func (a *IntakeAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "content_hash", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "received_at", Value: 1}},
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// =============================================================================
// Document Model
// =============================================================================

// intakeDocument represents the MongoDB document structure.
type intakeDocument struct {
	ContentHash string `bson:"content_hash"`
	MessageID   string `bson:"message_id"`
	Subject     string `bson:"subject"`
	Body        string `bson:"body"`

	// Attachment (potentially compressed)
	Attachment   []byte `bson:"attachment"`
	IsCompressed bool   `bson:"is_compressed"`
	OriginalSize int64  `bson:"original_size"`

	ReceivedAt time.Time `bson:"received_at"`
}

// =============================================================================
// Operations
// =============================================================================

// Save stores the arrival. Write-once: a duplicate content hash is a no-op
// so replayed intakes cannot overwrite the original evidence.
func (a *IntakeAdapter) Save(ctx context.Context, doc *domain.IntakeDocument) error {
	attachment := doc.Attachment
	compressed := false
	if len(attachment) > compressionThreshold {
		c, err := compress(attachment)
		if err != nil {
			return fmt.Errorf("failed to compress attachment: %w", err)
		}
		attachment = c
		compressed = true
	}

	_, err := a.collection.InsertOne(ctx, &intakeDocument{
		ContentHash:  doc.ContentHash,
		MessageID:    doc.MessageID,
		Subject:      doc.Subject,
		Body:         doc.Body,
		Attachment:   attachment,
		IsCompressed: compressed,
		OriginalSize: int64(len(doc.Attachment)),
		ReceivedAt:   doc.ReceivedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to save intake document: %w", err)
	}
	return nil
}

// GetByContentHash reads the arrival back for extraction.
func (a *IntakeAdapter) GetByContentHash(ctx context.Context, hash string) (*domain.IntakeDocument, error) {
	var doc intakeDocument
	if err := a.collection.FindOne(ctx, bson.M{"content_hash": hash}).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("intake document %s not found", hash)
		}
		return nil, fmt.Errorf("failed to load intake document: %w", err)
	}

	attachment := doc.Attachment
	if doc.IsCompressed {
		d, err := decompress(attachment)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress attachment: %w", err)
		}
		attachment = d
	}

	return &domain.IntakeDocument{
		ContentHash: doc.ContentHash,
		MessageID:   doc.MessageID,
		Subject:     doc.Subject,
		Body:        doc.Body,
		Attachment:  attachment,
		ReceivedAt:  doc.ReceivedAt,
	}, nil
}

// =============================================================================
// Compression Helpers
// =============================================================================

func compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)

	if _, err := writer.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

// Ensure IntakeAdapter implements out.IntakeStore
var _ out.IntakeStore = (*IntakeAdapter)(nil)
