package db

import (
	"context"
	"fmt"
	"strings"

	"Mailroom/internal/models"
)

const jobColumns = `id, newsletter_id, status, created_at, date_deliver_start, date_deliver_finished,
	group_type, group_id, collection, utm_campaign, public_slug`

func scanJob(row scanner) (*models.Job, error) {
	var j models.Job
	err := row.Scan(
		&j.ID, &j.NewsletterID, &j.Status, &j.CreatedAt, &j.DeliverStart, &j.DeliverFinished,
		&j.GroupType, &j.GroupID, &j.Collection, &j.UTMCampaign, &j.PublicSlug,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &j, nil
}

func (s *Store) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	return scanJob(s.Pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=$1`, id))
}

func (s *Store) GetJobBySlug(ctx context.Context, slug string) (*models.Job, error) {
	return scanJob(s.Pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE public_slug=$1`, slug))
}

// ListJobs returns jobs newest first.
func (s *Store) ListJobs(ctx context.Context, f models.JobFilter) ([]*models.Job, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != 0 {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	if f.NewsletterID != 0 {
		args = append(args, f.NewsletterID)
		where = append(where, fmt.Sprintf("newsletter_id=$%d", len(args)))
	}
	if f.ExcludeDraft {
		args = append(args, models.JobDraft)
		where = append(where, fmt.Sprintf("status<>$%d", len(args)))
	}

	q := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *Store) CreateJob(ctx context.Context, j *models.Job) error {
	if j.Status == 0 {
		j.Status = models.JobDraft
	}
	return duplicate(s.Pool.QueryRow(ctx,
		`INSERT INTO jobs
		 (newsletter_id, status, created_at, group_type, group_id, collection, utm_campaign, public_slug)
		 VALUES ($1,$2,NOW(),$3,$4,$5,$6,$7)
		 RETURNING id, created_at`,
		j.NewsletterID, j.Status, j.GroupType, j.GroupID, j.Collection, j.UTMCampaign, j.PublicSlug,
	).Scan(&j.ID, &j.CreatedAt))
}

func (s *Store) UpdateJob(ctx context.Context, j *models.Job) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE jobs
		 SET newsletter_id=$1, status=$2, date_deliver_start=$3, date_deliver_finished=$4,
		     group_type=$5, group_id=$6, collection=$7, utm_campaign=$8, public_slug=$9
		 WHERE id=$10`,
		j.NewsletterID, j.Status, j.DeliverStart, j.DeliverFinished,
		j.GroupType, j.GroupID, j.Collection, j.UTMCampaign, j.PublicSlug, j.ID,
	)
	if err != nil {
		return duplicate(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// DeleteJob removes the job with its mails and links. Its newsletter is
// removed too when inactive.
func (s *Store) DeleteJob(ctx context.Context, j *models.Job) (err error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `DELETE FROM jobs WHERE id=$1`, j.ID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	if j.NewsletterID != nil {
		if _, err := tx.Exec(ctx,
			`DELETE FROM newsletters WHERE id=$1 AND active=FALSE`, *j.NewsletterID,
		); err != nil {
			return fmt.Errorf("delete newsletter: %w", err)
		}
	}

	return tx.Commit(ctx)
}
