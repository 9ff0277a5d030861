package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"overlaydispatch/internal/domain"
)

type jobDoc struct {
	ID           string `bson:"_id"`
	GuildID      string `bson:"guildId"`
	MediaAssetID string `bson:"mediaAssetId,omitempty"`
	Text         string `bson:"text"`
	ShowText     bool   `bson:"showText"`
	AuthorName   string `bson:"authorName,omitempty"`
	AuthorImage  string `bson:"authorImage,omitempty"`

	DurationSec int64 `bson:"durationSec"`
	Priority    int   `bson:"priority"`

	Status     string     `bson:"status"`
	FinishedAt *time.Time `bson:"finishedAt,omitempty"`

	SubmissionDate time.Time `bson:"submissionDate"`
	ExecutionDate  time.Time `bson:"executionDate"`
	ScheduledAt    time.Time `bson:"scheduledAt"`

	StartedAt           *time.Time `bson:"startedAt,omitempty"`
	RemainingMsSnapshot *int64     `bson:"remainingMsSnapshot,omitempty"`
	LastPlaybackStateAt *time.Time `bson:"lastPlaybackStateAt,omitempty"`

	ResumesAfterJobID string `bson:"resumesAfterJobId,omitempty"`
	ResumeOffsetSec   int64  `bson:"resumeOffsetSec"`
}

func toJobDoc(j domain.PlaybackJob) jobDoc {
	doc := jobDoc{
		ID:                  j.ID,
		GuildID:             j.GuildID,
		Text:                j.Text,
		ShowText:            j.ShowText,
		DurationSec:         j.DurationSec,
		Priority:            j.Priority,
		Status:              string(j.Status),
		FinishedAt:          j.FinishedAt,
		SubmissionDate:      j.SubmissionDate,
		ExecutionDate:       j.ExecutionDate,
		ScheduledAt:         j.ScheduledAt,
		StartedAt:           j.StartedAt,
		RemainingMsSnapshot: j.RemainingMsSnapshot,
		LastPlaybackStateAt: j.LastPlaybackStateAt,
		ResumeOffsetSec:     j.ResumeOffsetSec,
	}
	if j.MediaAssetID != nil {
		doc.MediaAssetID = *j.MediaAssetID
	}
	if j.AuthorName != nil {
		doc.AuthorName = *j.AuthorName
	}
	if j.AuthorImage != nil {
		doc.AuthorImage = *j.AuthorImage
	}
	if j.ResumesAfterJobID != nil {
		doc.ResumesAfterJobID = *j.ResumesAfterJobID
	}
	return doc
}

func fromJobDoc(doc jobDoc) domain.PlaybackJob {
	j := domain.PlaybackJob{
		ID:                  doc.ID,
		GuildID:             doc.GuildID,
		Text:                doc.Text,
		ShowText:            doc.ShowText,
		DurationSec:         doc.DurationSec,
		Priority:            doc.Priority,
		Status:              domain.JobStatus(doc.Status),
		FinishedAt:          doc.FinishedAt,
		SubmissionDate:      doc.SubmissionDate,
		ExecutionDate:       doc.ExecutionDate,
		ScheduledAt:         doc.ScheduledAt,
		StartedAt:           doc.StartedAt,
		RemainingMsSnapshot: doc.RemainingMsSnapshot,
		LastPlaybackStateAt: doc.LastPlaybackStateAt,
		ResumeOffsetSec:     doc.ResumeOffsetSec,
	}
	if doc.MediaAssetID != "" {
		v := doc.MediaAssetID
		j.MediaAssetID = &v
	}
	if doc.AuthorName != "" {
		v := doc.AuthorName
		j.AuthorName = &v
	}
	if doc.AuthorImage != "" {
		v := doc.AuthorImage
		j.AuthorImage = &v
	}
	if doc.ResumesAfterJobID != "" {
		v := doc.ResumesAfterJobID
		j.ResumesAfterJobID = &v
	}
	return j
}

func priorityTupleSort() bson.D {
	return bson.D{{Key: "priority", Value: -1}, {Key: "submissionDate", Value: 1}, {Key: "_id", Value: 1}}
}

func (r *Repository) CreateJob(ctx context.Context, args domain.CreateJobArgs, now time.Time) (domain.PlaybackJob, error) {
	j := domain.PlaybackJob{
		ID:                uuid.NewString(),
		GuildID:           args.GuildID,
		MediaAssetID:      args.MediaAssetID,
		Text:              args.Text,
		ShowText:          args.ShowText,
		AuthorName:        args.AuthorName,
		AuthorImage:       args.AuthorImage,
		DurationSec:       args.DurationSec,
		Priority:          args.Priority,
		Status:            domain.JobPending,
		SubmissionDate:    now,
		ExecutionDate:     now,
		ScheduledAt:       now,
		ResumesAfterJobID: args.ResumesAfterJobID,
		ResumeOffsetSec:   args.ResumeOffsetSec,
	}
	if _, err := r.jobs.InsertOne(ctx, toJobDoc(j)); err != nil {
		return domain.PlaybackJob{}, err
	}
	return j, nil
}

func (r *Repository) GetJob(ctx context.Context, guildID, id string) (domain.PlaybackJob, error) {
	var doc jobDoc
	err := r.jobs.FindOne(ctx, bson.M{"_id": id, "guildId": guildID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.PlaybackJob{}, domain.ErrNotFound
		}
		return domain.PlaybackJob{}, err
	}
	return fromJobDoc(doc), nil
}

func (r *Repository) FindActivePlayingJob(ctx context.Context, guildID string) (*domain.PlaybackJob, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "startedAt", Value: 1}})
	var doc jobDoc
	err := r.jobs.FindOne(ctx, bson.M{"guildId": guildID, "status": string(domain.JobPlaying)}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	j := fromJobDoc(doc)
	return &j, nil
}

func (r *Repository) FindNextPendingRoot(ctx context.Context, guildID string, now time.Time) (*domain.PlaybackJob, error) {
	filter := bson.M{
		"guildId":           guildID,
		"status":            string(domain.JobPending),
		"resumesAfterJobId": bson.M{"$in": bson.A{"", nil}},
		"executionDate":     bson.M{"$lte": now},
	}
	opts := options.FindOne().SetSort(priorityTupleSort())
	var doc jobDoc
	err := r.jobs.FindOne(ctx, filter, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	j := fromJobDoc(doc)
	return &j, nil
}

func (r *Repository) FindResumedChildOf(ctx context.Context, guildID, parentID string) (*domain.PlaybackJob, error) {
	filter := bson.M{
		"guildId":           guildID,
		"status":            string(domain.JobPending),
		"resumesAfterJobId": parentID,
	}
	opts := options.FindOne().SetSort(priorityTupleSort())
	var doc jobDoc
	err := r.jobs.FindOne(ctx, filter, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	j := fromJobDoc(doc)
	return &j, nil
}

// FindOrphanedResumedChildren returns PENDING resume children whose
// parent is terminal or missing, used as the recovery path in runGuild.
func (r *Repository) FindOrphanedResumedChildren(ctx context.Context, guildID string) ([]domain.PlaybackJob, error) {
	filter := bson.M{
		"guildId":           guildID,
		"status":            string(domain.JobPending),
		"resumesAfterJobId": bson.M{"$nin": bson.A{"", nil}},
	}
	cursor, err := r.jobs.Find(ctx, filter, options.Find().SetSort(priorityTupleSort()))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []jobDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	out := make([]domain.PlaybackJob, 0, len(docs))
	for _, doc := range docs {
		child := fromJobDoc(doc)
		if child.ResumesAfterJobID == nil {
			continue
		}
		parent, err := r.GetJob(ctx, guildID, *child.ResumesAfterJobID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		if errors.Is(err, domain.ErrNotFound) || parent.Status.Terminal() {
			out = append(out, child)
		}
	}
	return out, nil
}

func (r *Repository) ListPendingRoots(ctx context.Context, guildID string) ([]domain.PlaybackJob, error) {
	filter := bson.M{
		"guildId":           guildID,
		"status":            string(domain.JobPending),
		"resumesAfterJobId": bson.M{"$in": bson.A{"", nil}},
	}
	cursor, err := r.jobs.Find(ctx, filter, options.Find().SetSort(priorityTupleSort()))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []jobDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domain.PlaybackJob, 0, len(docs))
	for _, doc := range docs {
		out = append(out, fromJobDoc(doc))
	}
	return out, nil
}

func (r *Repository) PromoteToPlaying(ctx context.Context, id, guildID string, data domain.PromoteArgs) (int64, error) {
	filter := bson.M{"_id": id, "guildId": guildID, "status": string(domain.JobPending), "finishedAt": nil}
	update := bson.M{"$set": bson.M{
		"status":              string(domain.JobPlaying),
		"startedAt":           data.StartedAt,
		"durationSec":         data.EffectiveDurationSec,
		"resumeOffsetSec":     data.ResumeOffsetSec,
		"executionDate":       data.StartedAt,
		"remainingMsSnapshot": nil,
	}}
	res, err := r.jobs.UpdateOne(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *Repository) SuspendForPreemption(ctx context.Context, id, guildID string, data domain.SuspendArgs) (int64, error) {
	filter := bson.M{"_id": id, "guildId": guildID, "status": string(domain.JobPlaying)}
	update := bson.M{"$set": bson.M{
		"status":            string(domain.JobPending),
		"startedAt":         nil,
		"durationSec":       data.RemainingSec,
		"resumesAfterJobId": data.ResumesAfterJobID,
		"resumeOffsetSec":   data.ResumeOffsetSec,
		"executionDate":     data.ExecutionDate,
	}}
	res, err := r.jobs.UpdateOne(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *Repository) ReleaseJob(ctx context.Context, guildID string, jobID *string, terminal domain.JobStatus, finishedAt time.Time) (int64, error) {
	filter := bson.M{"guildId": guildID, "status": string(domain.JobPlaying)}
	if jobID != nil {
		filter["_id"] = *jobID
	}
	update := bson.M{"$set": bson.M{"status": string(terminal), "finishedAt": finishedAt}}
	res, err := r.jobs.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *Repository) ReleaseJobPending(ctx context.Context, id, guildID string, terminal domain.JobStatus, finishedAt time.Time) (int64, error) {
	filter := bson.M{"_id": id, "guildId": guildID, "status": string(domain.JobPending)}
	update := bson.M{"$set": bson.M{"status": string(terminal), "finishedAt": finishedAt}}
	res, err := r.jobs.UpdateOne(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *Repository) UpdatePlaybackSnapshot(ctx context.Context, guildID, jobID string, remainingMs int64, at time.Time) (int64, error) {
	filter := bson.M{"_id": jobID, "guildId": guildID, "status": string(domain.JobPlaying)}
	update := bson.M{"$set": bson.M{"remainingMsSnapshot": remainingMs, "lastPlaybackStateAt": at}}
	res, err := r.jobs.UpdateOne(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *Repository) RecomputeRootExecutionDates(ctx context.Context, guildID string, anchor time.Time, lockPadding time.Duration) error {
	roots, err := r.ListPendingRoots(ctx, guildID)
	if err != nil {
		return err
	}
	cursor := anchor
	now := time.Now().UTC()
	if cursor.Before(now) {
		cursor = now
	}
	for _, root := range roots {
		if _, err := r.jobs.UpdateOne(ctx,
			bson.M{"_id": root.ID, "guildId": guildID, "status": string(domain.JobPending)},
			bson.M{"$set": bson.M{"executionDate": cursor}},
		); err != nil {
			return err
		}
		cursor = cursor.Add(time.Duration(root.DurationSec)*time.Second + lockPadding)
	}
	return nil
}

func (r *Repository) DeleteTerminalJobsBefore(ctx context.Context, before time.Time) (int64, error) {
	filter := bson.M{
		"status":     bson.M{"$in": bson.A{string(domain.JobDone), string(domain.JobFailed)}},
		"finishedAt": bson.M{"$lt": before},
	}
	res, err := r.jobs.DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
