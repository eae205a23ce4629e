package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"Mailroom/internal/links"
	"Mailroom/internal/models"
)

// openedSeriesPoints caps the opened graph at two weeks of hourly points.
const openedSeriesPoints = 14 * 24

func (s *Service) Stats(ctx context.Context, jobID int64) (models.JobStats, error) {
	counts, err := s.store.CountMails(ctx, jobID)
	if err != nil {
		return models.JobStats{}, fmt.Errorf("count mails: %w", err)
	}
	return counts.Stats(), nil
}

// OpenedSeries returns, for every hour since delivery started, how many mails
// had been opened. The series ends with the first point after now.
func (s *Service) OpenedSeries(ctx context.Context, jobID int64) ([]models.OpenedPoint, error) {
	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.DeliverStart == nil {
		return []models.OpenedPoint{}, nil
	}

	viewed, err := s.store.ViewedTimes(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load view times: %w", err)
	}

	now := s.now()
	start := j.DeliverStart.Truncate(time.Hour)
	points := make([]models.OpenedPoint, 0, openedSeriesPoints)
	seen := 0

	for i := 0; i < openedSeriesPoints; i++ {
		t := start.Add(time.Duration(i) * time.Hour)
		for seen < len(viewed) && viewed[seen].Before(t) {
			seen++
		}
		points = append(points, models.OpenedPoint{Time: t, Count: seen})
		if t.After(now) {
			break
		}
	}
	return points, nil
}

// EmailList returns every mail of the job, most clicked first.
func (s *Service) EmailList(ctx context.Context, jobID int64) ([]*models.Mail, error) {
	return s.store.ListMails(ctx, jobID, 0)
}

func (s *Service) UserAgents(ctx context.Context, jobID int64) ([]models.UserAgentCount, error) {
	return s.store.UserAgentCounts(ctx, jobID)
}

// Links returns the job's plain links with click counts. View links are left out.
func (s *Service) Links(ctx context.Context, jobID int64) ([]*models.Link, error) {
	return s.store.ListLinks(ctx, jobID)
}

// UpdateLinkTarget changes where a plain link points.
func (s *Service) UpdateLinkTarget(ctx context.Context, linkID int64, target string) (*models.Link, error) {
	l, err := s.store.GetLink(ctx, linkID)
	if err != nil {
		return nil, err
	}
	if l.Identifier != "" {
		return nil, ErrNotEditable
	}
	if utf8.RuneCountInString(target) > models.MaxLinkTarget {
		return nil, links.ErrTargetTooLong
	}

	l.LinkTarget = target
	if err := s.store.UpdateLink(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// JobDetail is everything shown when a job is opened.
type JobDetail struct {
	Job        *models.Job        `json:"job"`
	Newsletter *models.Newsletter `json:"newsletter,omitempty"`
	Stats      models.JobStats    `json:"stats"`
	CanSend    bool               `json:"can_send"`
	PublicURL  string             `json:"public_url,omitempty"`
	Links      []*models.Link     `json:"links"`
	// Mails is only filled when the job has few enough mails.
	Mails []*models.Mail `json:"mails,omitempty"`
}

func (s *Service) Detail(ctx context.Context, jobID int64) (*JobDetail, error) {
	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	d := &JobDetail{Job: j, PublicURL: s.PublicURL(j)}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.newsletter(gctx, j)
		if errors.Is(err, ErrNoNewsletter) {
			return nil
		}
		d.Newsletter = n
		return err
	})
	g.Go(func() (err error) {
		d.Stats, err = s.Stats(gctx, j.ID)
		return err
	})
	g.Go(func() (err error) {
		d.CanSend, err = s.CanSend(gctx, j)
		return err
	})
	g.Go(func() (err error) {
		d.Links, err = s.store.ListLinks(gctx, j.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if d.Stats.Total <= s.mailInline {
		if d.Mails, err = s.store.ListMails(ctx, j.ID, s.mailInline); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Summary is one row of the statistics overview.
type Summary struct {
	Job   *models.Job     `json:"job"`
	Stats models.JobStats `json:"stats"`
}

// Statistics lists every job that left the draft state with its statistics.
func (s *Service) Statistics(ctx context.Context, f models.JobFilter) ([]Summary, error) {
	f.ExcludeDraft = true
	jobs, err := s.store.ListJobs(ctx, f)
	if err != nil {
		return nil, err
	}

	out := make([]Summary, 0, len(jobs))
	for _, j := range jobs {
		st, err := s.Stats(ctx, j.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, Summary{Job: j, Stats: st})
	}
	return out, nil
}
