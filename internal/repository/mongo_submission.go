package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/models"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	submissionsCollection   = "submissions"
	contentClaimsCollection = "assignment_content_hashes"
)

var oldestFirst = bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}

type contentClaim struct {
	ID           string    `bson:"_id"`
	AssignmentID string    `bson:"assignmentId"`
	ContentHash  string    `bson:"contentHash"`
	SubmissionID string    `bson:"submissionId"`
	CreatedAt    time.Time `bson:"createdAt"`
}

type mongoSubmissionRepository struct {
	mongoRepo *MongoRepository
	logger    zerolog.Logger
}

func NewMongoSubmissionRepository(mongoRepo *MongoRepository, logger zerolog.Logger) SubmissionRepository {
	return &mongoSubmissionRepository{
		mongoRepo: mongoRepo,
		logger:    logger,
	}
}

// EnsureIndexes creates the fingerprint lookup indexes. Claims use their _id
// for uniqueness and need no extra index.
func (r *mongoSubmissionRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.mongoRepo.GetCollection(submissionsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "assignmentId", Value: 1}, {Key: "attachments.contentHash", Value: 1}},
			Options: options.Index().SetName("assignment_content_hash"),
		},
		{
			Keys:    bson.D{{Key: "assignmentId", Value: 1}, {Key: "attachments.pageHashes.hash", Value: 1}},
			Options: options.Index().SetName("assignment_page_hash"),
		},
		{
			Keys:    bson.D{{Key: "assignmentId", Value: 1}, {Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}},
			Options: options.Index().SetName("assignment_created"),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create submission indexes: %w", err)
	}

	return nil
}

func (r *mongoSubmissionRepository) FindByAssignmentAndContentHash(ctx context.Context, assignmentID, contentHash string) ([]models.Submission, error) {
	filter := bson.M{"assignmentId": assignmentID, "attachments.contentHash": contentHash}

	submissions, err := r.findMany(ctx, filter, options.Find().SetSort(oldestFirst))
	if err != nil {
		return nil, fmt.Errorf("failed to find submissions by content hash: %w", err)
	}

	return submissions, nil
}

func (r *mongoSubmissionRepository) FindByAssignmentAndAnyPageHash(ctx context.Context, assignmentID string, hashes []string) ([]models.Submission, error) {
	if len(hashes) == 0 {
		return nil, nil
	}

	filter := bson.M{
		"assignmentId":                assignmentID,
		"attachments.pageHashes.hash": bson.M{"$in": hashes},
	}

	submissions, err := r.findMany(ctx, filter, options.Find().SetSort(oldestFirst))
	if err != nil {
		return nil, fmt.Errorf("failed to find submissions by page hashes: %w", err)
	}

	return submissions, nil
}

func (r *mongoSubmissionRepository) Insert(ctx context.Context, submission *models.Submission) (*models.Submission, error) {
	now := time.Now().UTC()
	if submission.CreatedAt.IsZero() {
		submission.CreatedAt = now
	}
	submission.UpdatedAt = now
	if submission.SimilarSubmissions == nil {
		submission.SimilarSubmissions = []models.SimilarSubmissionRecord{}
	}

	claimed, err := r.claimContentHashes(ctx, submission)
	if err != nil {
		return nil, err
	}

	if err := r.mongoRepo.InsertOne(ctx, submissionsCollection, submission); err != nil {
		r.releaseClaims(ctx, claimed)
		return nil, fmt.Errorf("failed to insert submission: %w", err)
	}

	r.logger.Debug().
		Str("submission_id", submission.ID).
		Str("assignment_id", submission.AssignmentID).
		Int("attachments", len(submission.Attachments)).
		Msg("Submission inserted")

	return submission, nil
}

func (r *mongoSubmissionRepository) GetByID(ctx context.Context, id string) (*models.Submission, error) {
	var submission models.Submission
	err := r.mongoRepo.FindOne(ctx, submissionsCollection, bson.M{"_id": id}).Decode(&submission)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find submission: %w", err)
	}

	return &submission, nil
}

func (r *mongoSubmissionRepository) ListByAssignment(ctx context.Context, assignmentID string, limit, offset int) ([]models.Submission, int, error) {
	filter := bson.M{"assignmentId": assignmentID}

	total, err := r.mongoRepo.CountDocuments(ctx, submissionsCollection, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count submissions: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(offset))
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	submissions, err := r.findMany(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list submissions: %w", err)
	}

	return submissions, int(total), nil
}

func (r *mongoSubmissionRepository) UpdateGrade(ctx context.Context, id string, grade float64, comment *string) (*models.Submission, error) {
	set := bson.M{"grade": grade, "updatedAt": time.Now().UTC()}
	if comment != nil {
		set["comment"] = *comment
	}

	var updated models.Submission
	err := r.mongoRepo.GetCollection(submissionsCollection).FindOneAndUpdate(
		ctx,
		bson.M{"_id": id},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update grade: %w", err)
	}

	return &updated, nil
}

func (r *mongoSubmissionRepository) SaveSimilarity(ctx context.Context, id string, records []models.SimilarSubmissionRecord, isPlagiarized bool) error {
	if records == nil {
		records = []models.SimilarSubmissionRecord{}
	}

	now := time.Now().UTC()
	result, err := r.mongoRepo.GetCollection(submissionsCollection).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{
			"similarSubmissions": records,
			"isPlagiarized":      isPlagiarized,
			"scoredAt":           now,
			"updatedAt":          now,
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to save similarity report: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *mongoSubmissionRepository) Ping(ctx context.Context) error {
	return r.mongoRepo.Ping(ctx)
}

func (r *mongoSubmissionRepository) findMany(ctx context.Context, filter interface{}, opts *options.FindOptions) ([]models.Submission, error) {
	cursor, err := r.mongoRepo.FindMany(ctx, submissionsCollection, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var submissions []models.Submission
	if err := cursor.All(ctx, &submissions); err != nil {
		return nil, err
	}

	return submissions, nil
}

// claimContentHashes records ownership of the submission's content hashes.
// A duplicate key on any claim releases the ones already taken.
func (r *mongoSubmissionRepository) claimContentHashes(ctx context.Context, submission *models.Submission) ([]string, error) {
	var claimed []string
	for _, hash := range uniqueContentHashes(submission) {
		claim := contentClaim{
			ID:           contentKey(submission.AssignmentID, hash),
			AssignmentID: submission.AssignmentID,
			ContentHash:  hash,
			SubmissionID: submission.ID,
			CreatedAt:    submission.CreatedAt,
		}

		if err := r.mongoRepo.InsertOne(ctx, contentClaimsCollection, claim); err != nil {
			r.releaseClaims(ctx, claimed)
			if mongo.IsDuplicateKeyError(err) {
				return nil, ErrDuplicateContent
			}
			return nil, fmt.Errorf("failed to claim content hash: %w", err)
		}
		claimed = append(claimed, claim.ID)
	}

	return claimed, nil
}

func (r *mongoSubmissionRepository) releaseClaims(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}

	_, err := r.mongoRepo.GetCollection(contentClaimsCollection).DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		r.logger.Error().Err(err).Strs("claims", ids).Msg("Failed to release content hash claims")
	}
}
