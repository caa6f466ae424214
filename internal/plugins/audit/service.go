package audit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/keyxmakerx/pipeline/internal/apperror"
	"github.com/keyxmakerx/pipeline/internal/plugins/auth"
)

// perPage is the number of entries shown per page on the admin log.
const perPage = 50

// maxUserHistoryEntries caps a single account's history.
const maxUserHistoryEntries = 100

// statsWindow is the period summarized in the page header.
const statsWindow = 24 * time.Hour

// writeTimeout bounds an observer write once the request is gone.
const writeTimeout = 5 * time.Second

// AuditService handles business logic for the security log.
type AuditService interface {
	// Log records an entry. Callers may ignore the error: audit failures
	// never block the operation being recorded.
	Log(ctx context.Context, entry *Entry) error

	// Activity returns one page of entries and the total match count.
	Activity(ctx context.Context, f Filter, page int) ([]Entry, int, error)

	// UserHistory returns the recent events of one account.
	UserHistory(ctx context.Context, userID string) ([]Entry, error)

	// Stats summarizes the last 24 hours.
	Stats(ctx context.Context) (*Stats, error)
}

type auditService struct {
	repo AuditRepository
	now  func() time.Time
}

// NewAuditService creates a new audit service with the given repository.
func NewAuditService(repo AuditRepository) AuditService {
	return &auditService{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// Log validates and persists an entry.
func (s *auditService) Log(ctx context.Context, entry *Entry) error {
	if entry.Action == "" {
		return apperror.NewBadRequest("action is required for audit entry")
	}
	if len(entry.IP) > 45 {
		entry.IP = entry.IP[:45]
	}

	if err := s.repo.Log(ctx, entry); err != nil {
		slog.Error("failed to write audit log entry",
			slog.String("action", entry.Action),
			slog.String("user_id", entry.UserID),
			slog.Any("error", err),
		)
		return apperror.NewInternal(fmt.Errorf("writing audit entry: %w", err))
	}
	return nil
}

// Activity returns a page of entries. Pages are 1-indexed; lower values
// are clamped to 1.
func (s *auditService) Activity(ctx context.Context, f Filter, page int) ([]Entry, int, error) {
	if page < 1 {
		page = 1
	}
	f.Email = strings.ToLower(strings.TrimSpace(f.Email))
	f.Action = strings.TrimSpace(f.Action)

	entries, total, err := s.repo.List(ctx, f, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, apperror.NewInternal(fmt.Errorf("listing audit entries: %w", err))
	}
	return entries, total, nil
}

// UserHistory returns the recent events of one account.
func (s *auditService) UserHistory(ctx context.Context, userID string) ([]Entry, error) {
	if userID == "" {
		return nil, apperror.NewBadRequest("user ID is required")
	}
	entries, err := s.repo.ListByUser(ctx, userID, maxUserHistoryEntries)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("listing user history: %w", err))
	}
	return entries, nil
}

// Stats summarizes the last statsWindow of activity.
func (s *auditService) Stats(ctx context.Context) (*Stats, error) {
	stats, err := s.repo.Stats(ctx, s.now().Add(-statsWindow))
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("getting audit stats: %w", err))
	}
	return stats, nil
}

// NewAuthObserver adapts the audit service to the auth plugin's event
// publisher. Writes survive request cancellation so an aborted request
// still leaves a trace; failures are logged by Log.
func NewAuthObserver(service AuditService) auth.EventPublisher {
	return auth.EventPublisherFunc(func(ctx context.Context, ev auth.Event) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
		defer cancel()

		details := make(map[string]any, len(ev.Details)+1)
		for k, v := range ev.Details {
			details[k] = v
		}
		if ev.UserAgent != "" {
			details["user_agent"] = ev.UserAgent
		}

		_ = service.Log(ctx, &Entry{
			UserID:    ev.UserID,
			Email:     ev.Email,
			Action:    ev.Action,
			IP:        ev.IP,
			Details:   details,
			CreatedAt: ev.At,
		})
	})
}
