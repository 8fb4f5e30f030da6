package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-exam-api/internal/dto"
	"github.com/noah-isme/gema-exam-api/internal/models"
	"github.com/noah-isme/gema-exam-api/internal/repository"
)

const monitorRecentEventLimit = 50

// MonitorService builds the live monitor view teachers use while an exam runs.
type MonitorService interface {
	Summary(ctx context.Context, examID uint) (dto.MonitorResponse, error)
}

type monitorService struct {
	catalog  repository.CatalogRepository
	attempts repository.AttemptRepository
	results  repository.ResultRepository
	proctor  ProctorService
	events   repository.ProctorRepository
	logger   zerolog.Logger
	now      func() time.Time
}

// NewMonitorService constructs the monitor service.
func NewMonitorService(catalog repository.CatalogRepository, attempts repository.AttemptRepository, results repository.ResultRepository, proctor ProctorService, events repository.ProctorRepository, logger zerolog.Logger) MonitorService {
	return &monitorService{
		catalog:  catalog,
		attempts: attempts,
		results:  results,
		proctor:  proctor,
		events:   events,
		logger:   logger.With().Str("component", "monitor_service").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *monitorService) Summary(ctx context.Context, examID uint) (dto.MonitorResponse, error) {
	exam, err := s.catalog.GetExam(ctx, examID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.MonitorResponse{}, ErrExamNotFound
		}
		return dto.MonitorResponse{}, err
	}

	attempts, err := s.attempts.ListByExam(ctx, examID)
	if err != nil {
		return dto.MonitorResponse{}, err
	}

	counts := dto.MonitorCounts{Started: len(attempts)}
	inProgress := make(map[string]struct{})
	submitted := make(map[string]struct{})
	for _, attempt := range attempts {
		switch {
		case attempt.Status == models.AttemptInProgress:
			counts.InProgress++
			inProgress[attempt.Student] = struct{}{}
		case attempt.Status.Finished():
			counts.Submitted++
			submitted[attempt.Student] = struct{}{}
		}
	}

	counts.Results, err = s.results.CountByExam(ctx, examID)
	if err != nil {
		return dto.MonitorResponse{}, err
	}

	recent, err := s.proctor.ListRecentEvents(ctx, examID, monitorRecentEventLimit)
	if err != nil {
		return dto.MonitorResponse{}, err
	}
	heartbeats, err := s.proctor.ListLatestHeartbeats(ctx, examID)
	if err != nil {
		return dto.MonitorResponse{}, err
	}
	tabSwitches, err := s.events.CountEventsByUsername(ctx, examID, models.ProctorEventTabSwitch)
	if err != nil {
		return dto.MonitorResponse{}, err
	}

	now := s.now()
	return dto.MonitorResponse{
		ExamID:           exam.ID,
		ExamName:         exam.Name,
		Status:           exam.StatusAt(now),
		Counts:           counts,
		InProgress:       sortedUsernames(inProgress),
		Submitted:        sortedUsernames(submitted),
		RecentEvents:     recent,
		LatestHeartbeats: heartbeats,
		TabSwitchCounts:  tabSwitches,
		GeneratedAt:      now,
	}, nil
}

func sortedUsernames(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for username := range set {
		out = append(out, username)
	}
	sort.Strings(out)
	return out
}
