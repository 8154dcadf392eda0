package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gorm.io/gorm"

	"ratepro/internal/models"
)

// ContactStore lists the contacts of a tenant that belong to a segment.
type ContactStore interface {
	ListBySegment(ctx context.Context, tenantID string, seg *CompiledSegment, limit int) ([]models.Contact, int64, error)
}

// GormContactStore runs compiled segments as SQL.
type GormContactStore struct {
	db *gorm.DB
}

func NewGormContactStore(db *gorm.DB) *GormContactStore {
	return &GormContactStore{db: db}
}

func (s *GormContactStore) Create(ctx context.Context, c *models.Contact) error {
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("failed to create contact: %w", err)
	}
	return nil
}

func (s *GormContactStore) ListBySegment(ctx context.Context, tenantID string, seg *CompiledSegment, limit int) ([]models.Contact, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Contact{}).Scopes(seg.Scope(tenantID))
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count segment contacts: %w", err)
	}
	var contacts []models.Contact
	if err := q.Order("created_at DESC").Limit(limit).Find(&contacts).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list segment contacts: %w", err)
	}
	return contacts, total, nil
}

// mongoContact is the document shape of a contact; tags are an array there.
type mongoContact struct {
	models.Contact `bson:",inline"`
	TagList        []string `bson:"tags,omitempty"`
}

// MongoContactStore runs compiled segments as MongoDB filters.
type MongoContactStore struct {
	collection *mongo.Collection
}

func NewMongoContactStore(db *mongo.Database, collection string) *MongoContactStore {
	if collection == "" {
		collection = "contacts"
	}
	return &MongoContactStore{collection: db.Collection(collection)}
}

func (s *MongoContactStore) ListBySegment(ctx context.Context, tenantID string, seg *CompiledSegment, limit int) ([]models.Contact, int64, error) {
	filter := seg.Filter(tenantID)
	total, err := s.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count segment contacts: %w", err)
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list segment contacts: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []mongoContact
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("failed to decode segment contacts: %w", err)
	}
	contacts := make([]models.Contact, 0, len(docs))
	for _, d := range docs {
		c := d.Contact
		c.Tags = strings.Join(d.TagList, ",")
		contacts = append(contacts, c)
	}
	return contacts, total, nil
}

// SegmentPreview is a page of matching contacts plus the total count.
type SegmentPreview struct {
	Total      int64            `json:"total"`
	Contacts   []models.Contact `json:"contacts"`
	CompiledAt time.Time        `json:"compiledAt"`
}

// SegmentService compiles segment rules and lists their members.
type SegmentService struct {
	compiler *SegmentQueryCompiler
	contacts ContactStore
}

func NewSegmentService(contacts ContactStore) *SegmentService {
	return &SegmentService{compiler: NewSegmentQueryCompiler(), contacts: contacts}
}

func (s *SegmentService) Preview(ctx context.Context, tenantID string, rule SegmentRule, limit int) (*SegmentPreview, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant is required", ErrInputInvalid)
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	seg, err := s.compiler.Compile(rule)
	if err != nil {
		return nil, err
	}
	contacts, total, err := s.contacts.ListBySegment(ctx, tenantID, seg, limit)
	if err != nil {
		return nil, err
	}
	return &SegmentPreview{
		Total:      total,
		Contacts:   contacts,
		CompiledAt: seg.CompiledAt(),
	}, nil
}
