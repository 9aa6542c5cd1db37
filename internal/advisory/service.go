package advisory

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/purecut/purecut/internal/database"
)

// fetcher is the client surface the service depends on.
type fetcher interface {
	Fetch(ctx context.Context, title string) (*Report, error)
}

// Service serves advisory reports through a database cache. Entries older
// than the TTL are refetched; a fetch failure on a stale entry falls back to
// the stale copy rather than dropping the signal.
type Service struct {
	client fetcher
	db     *gorm.DB
	ttl    time.Duration
	logger hclog.Logger
}

// NewService creates a cached advisory service.
func NewService(client fetcher, db *gorm.DB, ttl time.Duration, logger hclog.Logger) *Service {
	return &Service{client: client, db: db, ttl: ttl, logger: logger}
}

// Get returns the advisory report for a title, from cache when fresh. A nil
// report with nil error means no advisory data exists for the title.
func (s *Service) Get(ctx context.Context, title string) (*Report, error) {
	key := NormalizeTitle(title)
	if key == "" {
		return nil, nil
	}

	cached, stale := s.lookup(key)
	if cached != nil && !stale {
		s.logger.Debug("advisory cache hit", "title_key", key)
		return cached, nil
	}

	report, err := s.client.Fetch(ctx, title)
	if err != nil {
		if cached != nil {
			s.logger.Warn("advisory refresh failed, serving stale entry", "title_key", key, "error", err)
			return cached, nil
		}
		return nil, err
	}
	if report == nil {
		return nil, nil
	}

	s.store(key, report)
	return report, nil
}

func (s *Service) lookup(key string) (report *Report, stale bool) {
	var entry database.AdvisoryCacheEntry
	err := s.db.Where("title_key = ?", key).First(&entry).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn("advisory cache lookup failed", "title_key", key, "error", err)
		}
		return nil, false
	}

	var r Report
	if err := json.Unmarshal([]byte(entry.PayloadJSON), &r); err != nil {
		s.logger.Warn("advisory cache entry corrupt, discarding", "title_key", key, "error", err)
		return nil, false
	}
	return &r, time.Since(entry.FetchedAt) > s.ttl
}

func (s *Service) store(key string, report *Report) {
	payload, err := json.Marshal(report)
	if err != nil {
		s.logger.Error("failed to serialize advisory report", "title_key", key, "error", err)
		return
	}
	entry := database.AdvisoryCacheEntry{
		TitleKey:    key,
		PayloadJSON: string(payload),
		FetchedAt:   report.FetchedAt,
	}
	err = s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "title_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload_json", "fetched_at"}),
	}).Create(&entry).Error
	if err != nil {
		s.logger.Warn("failed to cache advisory report", "title_key", key, "error", err)
	}
}

// NormalizeTitle canonicalizes a title for cache keying: lowercased,
// punctuation stripped, whitespace collapsed to single underscores.
func NormalizeTitle(title string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		case r == ' ' || r == '_' || r == '-':
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimRight(b.String(), "_")
}
