package db

import (
	"context"

	"Mailroom/internal/models"
)

const newsletterColumns = `id, name, newsletter_type, active, subject, sender_name, sender_email,
	reply_email, language, body, header_image, header_url, header_url_replaced, created_at`

func scanNewsletter(row scanner) (*models.Newsletter, error) {
	var n models.Newsletter
	err := row.Scan(
		&n.ID, &n.Name, &n.Type, &n.Active, &n.Subject, &n.SenderName, &n.SenderEmail,
		&n.ReplyEmail, &n.Language, &n.Body, &n.HeaderImage, &n.HeaderURL, &n.HeaderURLReplaced,
		&n.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &n, nil
}

func (s *Store) GetNewsletter(ctx context.Context, id int64) (*models.Newsletter, error) {
	return scanNewsletter(s.Pool.QueryRow(ctx,
		`SELECT `+newsletterColumns+` FROM newsletters WHERE id=$1`, id))
}

func (s *Store) CreateNewsletter(ctx context.Context, n *models.Newsletter) error {
	return s.Pool.QueryRow(ctx,
		`INSERT INTO newsletters
		 (name, newsletter_type, active, subject, sender_name, sender_email, reply_email,
		  language, body, header_image, header_url, header_url_replaced, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NOW())
		 RETURNING id, created_at`,
		n.Name, n.Type, n.Active, n.Subject, n.SenderName, n.SenderEmail, n.ReplyEmail,
		n.Language, n.Body, n.HeaderImage, n.HeaderURL, n.HeaderURLReplaced,
	).Scan(&n.ID, &n.CreatedAt)
}

func (s *Store) UpdateNewsletter(ctx context.Context, n *models.Newsletter) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE newsletters
		 SET name=$1, newsletter_type=$2, active=$3, subject=$4, sender_name=$5,
		     sender_email=$6, reply_email=$7, language=$8, body=$9, header_image=$10,
		     header_url=$11, header_url_replaced=$12
		 WHERE id=$13`,
		n.Name, n.Type, n.Active, n.Subject, n.SenderName, n.SenderEmail, n.ReplyEmail,
		n.Language, n.Body, n.HeaderImage, n.HeaderURL, n.HeaderURLReplaced, n.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
