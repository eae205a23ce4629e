package db

import (
	"context"
	"time"

	"Mailroom/internal/models"
)

const linkColumns = `l.id, l.job_id, l.identifier, l.link_hash, l.link_target, l.token`

func scanLink(row scanner, extra ...any) (*models.Link, error) {
	var l models.Link
	dest := append([]any{&l.ID, &l.JobID, &l.Identifier, &l.LinkHash, &l.LinkTarget, &l.Token}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

func (s *Store) GetLink(ctx context.Context, id int64) (*models.Link, error) {
	return scanLink(s.Pool.QueryRow(ctx, `SELECT `+linkColumns+` FROM links l WHERE l.id=$1`, id))
}

func (s *Store) GetLinkByHash(ctx context.Context, hash string) (*models.Link, error) {
	return scanLink(s.Pool.QueryRow(ctx, `SELECT `+linkColumns+` FROM links l WHERE l.link_hash=$1`, hash))
}

func (s *Store) GetLinkByIdentifier(ctx context.Context, jobID int64, identifier string) (*models.Link, error) {
	return scanLink(s.Pool.QueryRow(ctx,
		`SELECT `+linkColumns+` FROM links l WHERE l.job_id=$1 AND l.identifier=$2 ORDER BY l.id LIMIT 1`,
		jobID, identifier))
}

func (s *Store) GetLinkByToken(ctx context.Context, jobID int64, token string) (*models.Link, error) {
	return scanLink(s.Pool.QueryRow(ctx,
		`SELECT `+linkColumns+` FROM links l WHERE l.job_id=$1 AND l.token=$2`, jobID, token))
}

func (s *Store) CreateLink(ctx context.Context, l *models.Link) error {
	return duplicate(s.Pool.QueryRow(ctx,
		`INSERT INTO links (job_id, identifier, link_hash, link_target, token)
		 VALUES ($1,$2,$3,$4,$5)
		 RETURNING id`,
		l.JobID, l.Identifier, l.LinkHash, l.LinkTarget, l.Token,
	).Scan(&l.ID))
}

func (s *Store) UpdateLink(ctx context.Context, l *models.Link) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE links SET link_target=$1 WHERE id=$2`, l.LinkTarget, l.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ListLinks returns the job's plain links (no identifier) with click counts.
func (s *Store) ListLinks(ctx context.Context, jobID int64) ([]*models.Link, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+linkColumns+`, COUNT(c.id)
		 FROM links l
		 LEFT JOIN link_clicks c ON c.link_id = l.id
		 WHERE l.job_id=$1 AND l.identifier=''
		 GROUP BY l.id
		 ORDER BY l.id`,
		jobID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []*models.Link
	for rows.Next() {
		var clicks int
		l, err := scanLink(rows, &clicks)
		if err != nil {
			return nil, err
		}
		l.ClickCount = clicks
		links = append(links, l)
	}
	return links, rows.Err()
}

func (s *Store) CreateLinkClick(ctx context.Context, c *models.LinkClick) error {
	if c.Date.IsZero() {
		c.Date = time.Now()
	}
	return s.Pool.QueryRow(ctx,
		`INSERT INTO link_clicks (link_id, mail_id, date) VALUES ($1,$2,$3) RETURNING id`,
		c.LinkID, c.MailID, c.Date,
	).Scan(&c.ID)
}
