package mongo

import (
	"alcyxob/video-app/internal/domain"
	"alcyxob/video-app/internal/repository"
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const videoCollectionName = "videos"

// mongoVideoRepository implements repository.VideoRepository
type mongoVideoRepository struct {
	collection *mongo.Collection
}

// NewMongoVideoRepository creates a new Video repository backed by MongoDB.
func NewMongoVideoRepository(db *mongo.Database) repository.VideoRepository {
	return &mongoVideoRepository{
		collection: db.Collection(videoCollectionName),
	}
}

// Create inserts a new video. Status and sensitivity are forced to their initial values.
func (r *mongoVideoRepository) Create(ctx context.Context, video *domain.Video) (primitive.ObjectID, error) {
	if video.OwnerID == primitive.NilObjectID || video.StoredFileName == "" || video.Title == "" {
		return primitive.NilObjectID, errors.New("video requires ownerId, title and filename")
	}

	video.ID = primitive.NewObjectID()
	video.Status = domain.StatusProcessing
	video.Sensitivity = domain.SensitivityPending
	now := time.Now().UTC()
	video.UploadedAt = now
	video.UpdatedAt = now

	result, err := r.collection.InsertOne(ctx, video)
	if err != nil {
		return primitive.NilObjectID, err
	}

	insertedID, ok := result.InsertedID.(primitive.ObjectID)
	if !ok {
		return primitive.NilObjectID, errors.New("failed to convert inserted ID")
	}
	return insertedID, nil
}

// GetByID retrieves a video by its ID.
func (r *mongoVideoRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*domain.Video, error) {
	var video domain.Video
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&video)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &video, nil
}

// UpdateStatus writes status (and sensitivity, when given) in one update that only
// matches while the document is still processing.
func (r *mongoVideoRepository) UpdateStatus(ctx context.Context, id primitive.ObjectID, status domain.VideoStatus, sensitivity *domain.Sensitivity) error {
	set := bson.M{
		"status":    status,
		"updatedAt": time.Now().UTC(),
	}
	if sensitivity != nil {
		set["sensitivity"] = *sensitivity
	}
	filter := bson.M{"_id": id, "status": domain.StatusProcessing}

	result, err := r.collection.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if result.MatchedCount > 0 {
		return nil
	}

	// Nothing matched: either the id is unknown or the video is already terminal.
	count, err := r.collection.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return err
	}
	if count == 0 {
		return repository.ErrNotFound
	}
	return repository.ErrInvalidTransition
}

// ListByOwner returns the owner's videos, newest first.
func (r *mongoVideoRepository) ListByOwner(ctx context.Context, ownerID primitive.ObjectID, filter domain.VideoFilter) ([]domain.Video, error) {
	query := bson.M{"ownerId": ownerID}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.Sensitivity != "" {
		query["sensitivity"] = filter.Sensitivity
	}

	findOptions := options.Find().SetSort(bson.D{{Key: "uploadedAt", Value: -1}})
	cursor, err := r.collection.Find(ctx, query, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	videos := []domain.Video{}
	if err = cursor.All(ctx, &videos); err != nil {
		return nil, err
	}
	return videos, nil
}

// ListStale returns videos stuck in processing since before olderThan.
func (r *mongoVideoRepository) ListStale(ctx context.Context, olderThan time.Time) ([]domain.Video, error) {
	query := bson.M{
		"status":     domain.StatusProcessing,
		"uploadedAt": bson.M{"$lt": olderThan.UTC()},
	}
	cursor, err := r.collection.Find(ctx, query)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var videos []domain.Video
	if err = cursor.All(ctx, &videos); err != nil {
		return nil, err
	}
	return videos, nil
}

// SetArchiveKey records where a completed video was mirrored in object storage.
func (r *mongoVideoRepository) SetArchiveKey(ctx context.Context, id primitive.ObjectID, key string) error {
	update := bson.M{"$set": bson.M{"archiveKey": key, "updatedAt": time.Now().UTC()}}
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// EnsureVideoIndexes creates necessary indexes for the videos collection.
func EnsureVideoIndexes(ctx context.Context, collection *mongo.Collection) error {
	indexes := []mongo.IndexModel{
		{
			// Owner listing, newest first
			Keys: bson.D{{Key: "ownerId", Value: 1}, {Key: "uploadedAt", Value: -1}},
		},
		{
			// Stale sweep at startup
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "uploadedAt", Value: 1}},
		},
	}
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}
