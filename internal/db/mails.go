package db

import (
	"context"
	"time"

	"Mailroom/internal/models"
)

const mailColumns = `m.id, m.job_id, m.person_type, m.person_id, m.email, m.mail_hash, m.sent, m.viewed, m.bounced`

func scanMail(row scanner, extra ...any) (*models.Mail, error) {
	var m models.Mail
	dest := append([]any{
		&m.ID, &m.JobID, &m.PersonType, &m.PersonID, &m.Email, &m.MailHash, &m.Sent, &m.Viewed, &m.Bounced,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (s *Store) CreateMail(ctx context.Context, m *models.Mail) error {
	return duplicate(s.Pool.QueryRow(ctx,
		`INSERT INTO mails (job_id, person_type, person_id, email, mail_hash, sent, viewed, bounced)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		 RETURNING id`,
		m.JobID, m.PersonType, m.PersonID, m.Email, m.MailHash, m.Sent, m.Viewed, m.Bounced,
	).Scan(&m.ID))
}

func (s *Store) GetMailByHash(ctx context.Context, hash string) (*models.Mail, error) {
	return scanMail(s.Pool.QueryRow(ctx,
		`SELECT `+mailColumns+` FROM mails m WHERE m.mail_hash=$1`, hash))
}

func (s *Store) UpdateMail(ctx context.Context, m *models.Mail) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE mails SET email=$1, sent=$2, viewed=$3, bounced=$4 WHERE id=$5`,
		m.Email, m.Sent, m.Viewed, m.Bounced, m.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *Store) queryMails(ctx context.Context, q string, args ...any) ([]*models.Mail, error) {
	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mails []*models.Mail
	for rows.Next() {
		m, err := scanMail(rows)
		if err != nil {
			return nil, err
		}
		mails = append(mails, m)
	}
	return mails, rows.Err()
}

// UnsentMails returns the job's mails not yet sent, in creation order.
func (s *Store) UnsentMails(ctx context.Context, jobID int64) ([]*models.Mail, error) {
	return s.queryMails(ctx,
		`SELECT `+mailColumns+` FROM mails m WHERE m.job_id=$1 AND m.sent=FALSE ORDER BY m.id`, jobID)
}

// ListMails returns the job's mails with click counts, most clicked first.
// A limit of zero returns all mails.
func (s *Store) ListMails(ctx context.Context, jobID int64, limit int) ([]*models.Mail, error) {
	q := `SELECT ` + mailColumns + `, COUNT(c.id)
		FROM mails m
		LEFT JOIN link_clicks c ON c.mail_id = m.id
		WHERE m.job_id=$1
		GROUP BY m.id
		ORDER BY COUNT(c.id) DESC, m.id`
	args := []any{jobID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mails []*models.Mail
	for rows.Next() {
		var clicks int
		m, err := scanMail(rows, &clicks)
		if err != nil {
			return nil, err
		}
		m.ClickCount = clicks
		mails = append(mails, m)
	}
	return mails, rows.Err()
}

func (s *Store) CountMails(ctx context.Context, jobID int64) (models.MailCounts, error) {
	var c models.MailCounts
	err := s.Pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE sent),
		        COUNT(*) FILTER (WHERE viewed IS NOT NULL),
		        COUNT(*) FILTER (WHERE bounced),
		        COUNT(*) FILTER (WHERE EXISTS (SELECT 1 FROM link_clicks c WHERE c.mail_id = m.id))
		 FROM mails m WHERE m.job_id=$1`,
		jobID,
	).Scan(&c.Total, &c.Sent, &c.Viewed, &c.Bounced, &c.Clicked)
	return c, err
}

// ViewedTimes returns the first-view time of every viewed mail of the job, ascending.
func (s *Store) ViewedTimes(ctx context.Context, jobID int64) ([]time.Time, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT viewed FROM mails WHERE job_id=$1 AND viewed IS NOT NULL ORDER BY viewed`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		times = append(times, t)
	}
	return times, rows.Err()
}

func (s *Store) RecentClientExists(ctx context.Context, c *models.EmailClient, since time.Time) (bool, error) {
	var exists bool
	err := s.Pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM email_clients
		   WHERE mail_id=$1 AND user_agent=$2 AND ip_address=$3 AND referer=$4
		     AND contact_type=$5 AND visited > $6)`,
		c.MailID, c.UserAgent, c.IPAddress, c.Referer, c.ContactType, since,
	).Scan(&exists)
	return exists, err
}

func (s *Store) CreateEmailClient(ctx context.Context, c *models.EmailClient) error {
	if c.Visited.IsZero() {
		c.Visited = time.Now()
	}
	return s.Pool.QueryRow(ctx,
		`INSERT INTO email_clients (mail_id, user_agent, ip_address, referer, contact_type, visited)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 RETURNING id`,
		c.MailID, c.UserAgent, c.IPAddress, c.Referer, c.ContactType, c.Visited,
	).Scan(&c.ID)
}

// UserAgentCounts groups the job's recorded clients by user agent, most frequent first.
func (s *Store) UserAgentCounts(ctx context.Context, jobID int64) ([]models.UserAgentCount, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT c.user_agent, COUNT(*)
		 FROM email_clients c
		 JOIN mails m ON m.id = c.mail_id
		 WHERE m.job_id=$1
		 GROUP BY c.user_agent
		 ORDER BY COUNT(*) DESC, c.user_agent`,
		jobID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []models.UserAgentCount
	for rows.Next() {
		var uc models.UserAgentCount
		if err := rows.Scan(&uc.UserAgent, &uc.Count); err != nil {
			return nil, err
		}
		counts = append(counts, uc)
	}
	return counts, rows.Err()
}
