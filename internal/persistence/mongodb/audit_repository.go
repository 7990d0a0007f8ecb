package mongodb

import (
	"context"
	"time"

	"github.com/hilthontt/parley/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// auditRetention is how long audit entries live before the TTL index
// removes them.
const auditRetention = 90 * 24 * time.Hour

type auditRepository struct {
	collection *mongo.Collection
}

func NewAuditRepository(db *mongo.Database) domain.AuditRepository {
	return &auditRepository{collection: db.Collection(AuditLogsCollection)}
}

func (r *auditRepository) Log(ctx context.Context, log *domain.AuditLog) error {
	_, err := r.collection.InsertOne(ctx, log)
	return err
}

func (r *auditRepository) GetByRoomID(ctx context.Context, roomID string, limit int) ([]domain.AuditLog, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(limit))

	return r.find(ctx, bson.M{"room_id": roomID}, opts)
}

func (r *auditRepository) GetByEventType(ctx context.Context, eventType domain.AuditEventType, from, to time.Time) ([]domain.AuditLog, error) {
	filter := bson.M{
		"event_type": eventType,
		"timestamp": bson.M{
			"$gte": from,
			"$lte": to,
		},
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})

	return r.find(ctx, filter, opts)
}

func (r *auditRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]domain.AuditLog, error) {
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	logs := []domain.AuditLog{}
	if err := cursor.All(ctx, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

func (r *auditRepository) DeleteOlderThan(ctx context.Context, before time.Time) error {
	_, err := r.collection.DeleteMany(ctx, bson.M{"timestamp": bson.M{"$lt": before}})
	return err
}

func (r *auditRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "room_id", Value: 1},
				{Key: "timestamp", Value: -1},
			},
		},
		{
			Keys: bson.D{
				{Key: "event_type", Value: 1},
				{Key: "timestamp", Value: -1},
			},
		},
		{
			Keys:    bson.D{{Key: "timestamp", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(auditRetention.Seconds())),
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	return err
}
