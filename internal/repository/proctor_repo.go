package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-exam-api/internal/models"
)

// ProctorRepository appends proctor events and heartbeats and serves the derived views.
type ProctorRepository interface {
	CreateEvent(ctx context.Context, event *models.ProctorEvent) error
	CreateHeartbeat(ctx context.Context, heartbeat *models.AttemptHeartbeat) error
	ListRecentEvents(ctx context.Context, examID uint, limit int) ([]models.ProctorEvent, error)
	ListLatestHeartbeats(ctx context.Context, examID uint) ([]models.AttemptHeartbeat, error)
	ListAttemptEventsAfter(ctx context.Context, attemptID uint, types []string, afterID uint) ([]models.ProctorEvent, error)
	LatestAttemptEventID(ctx context.Context, attemptID uint, types []string) (uint, error)
	CountEventsByUsername(ctx context.Context, examID uint, eventType string) (map[string]int64, error)
}

type proctorRepository struct {
	db *gorm.DB
}

// NewProctorRepository constructs the proctor repository.
func NewProctorRepository(db *gorm.DB) ProctorRepository {
	return &proctorRepository{db: db}
}

func (r *proctorRepository) CreateEvent(ctx context.Context, event *models.ProctorEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *proctorRepository) CreateHeartbeat(ctx context.Context, heartbeat *models.AttemptHeartbeat) error {
	return r.db.WithContext(ctx).Create(heartbeat).Error
}

func (r *proctorRepository) ListRecentEvents(ctx context.Context, examID uint, limit int) ([]models.ProctorEvent, error) {
	var events []models.ProctorEvent
	err := r.db.WithContext(ctx).
		Where("exam_id = ?", examID).
		Order("id DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

// ListLatestHeartbeats returns one heartbeat per attempt of the exam, the latest by client timestamp.
func (r *proctorRepository) ListLatestHeartbeats(ctx context.Context, examID uint) ([]models.AttemptHeartbeat, error) {
	db := r.db.WithContext(ctx)
	latest := db.Model(&models.AttemptHeartbeat{}).
		Select("attempt_heartbeats.attempt_id, MAX(attempt_heartbeats.client_ts) AS client_ts").
		Joins("JOIN attempts ON attempts.id = attempt_heartbeats.attempt_id").
		Where("attempts.exam_id = ?", examID).
		Group("attempt_heartbeats.attempt_id")

	var rows []models.AttemptHeartbeat
	err := db.
		Table("attempt_heartbeats AS h").
		Select("h.*").
		Joins("JOIN (?) AS latest ON latest.attempt_id = h.attempt_id AND latest.client_ts = h.client_ts", latest).
		Order("h.attempt_id ASC").
		Order("h.id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	heartbeats := make([]models.AttemptHeartbeat, 0, len(rows))
	seen := make(map[uint]struct{}, len(rows))
	for _, row := range rows {
		if _, ok := seen[row.AttemptID]; ok {
			continue
		}
		seen[row.AttemptID] = struct{}{}
		heartbeats = append(heartbeats, row)
	}
	return heartbeats, nil
}

func (r *proctorRepository) ListAttemptEventsAfter(ctx context.Context, attemptID uint, types []string, afterID uint) ([]models.ProctorEvent, error) {
	var events []models.ProctorEvent
	err := r.db.WithContext(ctx).
		Where("attempt_id = ? AND type IN ? AND id > ?", attemptID, types, afterID).
		Order("id ASC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

// LatestAttemptEventID returns zero when the attempt has no matching events.
func (r *proctorRepository) LatestAttemptEventID(ctx context.Context, attemptID uint, types []string) (uint, error) {
	var latest *uint
	err := r.db.WithContext(ctx).
		Model(&models.ProctorEvent{}).
		Select("MAX(id)").
		Where("attempt_id = ? AND type IN ?", attemptID, types).
		Scan(&latest).Error
	if err != nil {
		return 0, err
	}
	if latest == nil {
		return 0, nil
	}
	return *latest, nil
}

func (r *proctorRepository) CountEventsByUsername(ctx context.Context, examID uint, eventType string) (map[string]int64, error) {
	type row struct {
		Username string
		Total    int64
	}

	var rows []row
	err := r.db.WithContext(ctx).
		Model(&models.ProctorEvent{}).
		Select("username, COUNT(*) AS total").
		Where("exam_id = ? AND type = ?", examID, eventType).
		Group("username").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, entry := range rows {
		counts[entry.Username] = entry.Total
	}
	return counts, nil
}
