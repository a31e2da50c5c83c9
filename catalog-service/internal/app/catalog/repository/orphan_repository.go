package repository

import (
	"context"
	"time"

	"storefront/catalog-service/internal/app/catalog/asset"
	"storefront/pkg/apperror"
	"storefront/pkg/logger"
	"storefront/pkg/metrics"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const orphansCollection = "asset_orphans"

type orphanDocument struct {
	AssetID       string    `bson:"_id"`
	Reason        string    `bson:"reason"`
	Attempts      int       `bson:"attempts"`
	LastError     string    `bson:"last_error,omitempty"`
	CreatedAt     time.Time `bson:"created_at"`
	NextAttemptAt time.Time `bson:"next_attempt_at"`
}

// orphanRepository хранит очередь изображений на повторное удаление.
// Идентификатор изображения служит _id, поэтому повторная запись не создает дублей
type orphanRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

func NewOrphanRepository(db *mongo.Database) asset.OrphanRecorder {
	coll := db.Collection(orphansCollection)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "next_attempt_at", Value: 1}},
		Options: options.Index().SetName("next_attempt_at_idx"),
	})
	if err != nil {
		logger.Warn().Err(err).Str("collection", orphansCollection).Msg("Failed to create orphan index")
	}

	return &orphanRepository{collection: coll, now: time.Now}
}

func (r *orphanRepository) Record(ctx context.Context, assetIDs []string, reason string) error {
	if len(assetIDs) == 0 {
		return nil
	}

	timer := metrics.NewDbTimer(serviceName, metrics.DbOpInsert, orphansCollection)
	defer timer.ObserveDuration()

	now := r.now().UTC()
	models := make([]mongo.WriteModel, 0, len(assetIDs))
	for _, id := range assetIDs {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": id}).
			SetUpdate(bson.M{"$setOnInsert": bson.M{
				"reason":          reason,
				"attempts":        0,
				"created_at":      now,
				"next_attempt_at": now,
			}}).
			SetUpsert(true))
	}

	if _, err := r.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
		metrics.RecordDbError(serviceName, metrics.DbOpInsert)
		return apperror.Upstream("failed to record orphan assets", err)
	}
	return nil
}

func (r *orphanRepository) Pending(ctx context.Context, limit int) ([]asset.Orphan, error) {
	timer := metrics.NewDbTimer(serviceName, metrics.DbOpFind, orphansCollection)
	defer timer.ObserveDuration()

	opts := options.Find().SetSort(bson.D{{Key: "next_attempt_at", Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, bson.M{"next_attempt_at": bson.M{"$lte": r.now().UTC()}}, opts)
	if err != nil {
		metrics.RecordDbError(serviceName, metrics.DbOpFind)
		return nil, apperror.Upstream("failed to find orphan assets", err)
	}
	defer cursor.Close(ctx)

	var docs []orphanDocument
	if err := cursor.All(ctx, &docs); err != nil {
		metrics.RecordDbError(serviceName, metrics.DbOpFind)
		return nil, apperror.Upstream("failed to decode orphan assets", err)
	}

	orphans := make([]asset.Orphan, 0, len(docs))
	for _, d := range docs {
		orphans = append(orphans, asset.Orphan{
			AssetID:       d.AssetID,
			Reason:        d.Reason,
			Attempts:      d.Attempts,
			LastError:     d.LastError,
			CreatedAt:     d.CreatedAt,
			NextAttemptAt: d.NextAttemptAt,
		})
	}
	return orphans, nil
}

// Resolve убирает запись из очереди после успешного удаления
func (r *orphanRepository) Resolve(ctx context.Context, assetID string) error {
	timer := metrics.NewDbTimer(serviceName, metrics.DbOpDelete, orphansCollection)
	defer timer.ObserveDuration()

	if _, err := r.collection.DeleteOne(ctx, bson.M{"_id": assetID}); err != nil {
		metrics.RecordDbError(serviceName, metrics.DbOpDelete)
		return apperror.Upstream("failed to resolve orphan asset", err)
	}
	return nil
}

func (r *orphanRepository) Retry(ctx context.Context, assetID string, lastErr string) error {
	timer := metrics.NewDbTimer(serviceName, metrics.DbOpUpdate, orphansCollection)
	defer timer.ObserveDuration()

	var doc orphanDocument
	err := r.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": assetID},
		bson.M{"$inc": bson.M{"attempts": 1}, "$set": bson.M{"last_error": lastErr}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil
		}
		metrics.RecordDbError(serviceName, metrics.DbOpUpdate)
		return apperror.Upstream("failed to reschedule orphan asset", err)
	}

	next := asset.NextAttempt(doc.Attempts, r.now().UTC())
	if _, err := r.collection.UpdateOne(ctx, bson.M{"_id": assetID}, bson.M{"$set": bson.M{"next_attempt_at": next}}); err != nil {
		metrics.RecordDbError(serviceName, metrics.DbOpUpdate)
		return apperror.Upstream("failed to reschedule orphan asset", err)
	}
	return nil
}
