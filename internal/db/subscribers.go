package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"Mailroom/internal/models"
)

const subscriberColumns = `s.id, s.email, s.first_name, s.last_name, s.status, s.created_at`

func scanSubscriber(row scanner) (*models.Subscriber, error) {
	var sub models.Subscriber
	if err := row.Scan(&sub.ID, &sub.Email, &sub.FirstName, &sub.LastName, &sub.Status, &sub.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &sub, nil
}

func (s *Store) GetSubscriber(ctx context.Context, id int64) (*models.Subscriber, error) {
	return scanSubscriber(s.Pool.QueryRow(ctx,
		`SELECT `+subscriberColumns+` FROM subscribers s WHERE s.id=$1`, id))
}

// GetOrCreateSubscriber looks the subscriber up by e-mail and inserts it when
// missing. created reports whether a row was inserted.
func (s *Store) GetOrCreateSubscriber(ctx context.Context, sub *models.Subscriber) (*models.Subscriber, bool, error) {
	if sub.Status == "" {
		sub.Status = models.SubscriberActive
	}

	var id int64
	err := s.Pool.QueryRow(ctx,
		`INSERT INTO subscribers (email, first_name, last_name, status, created_at)
		 VALUES ($1,$2,$3,$4,NOW())
		 ON CONFLICT (email) DO NOTHING
		 RETURNING id`,
		sub.Email, sub.FirstName, sub.LastName, sub.Status,
	).Scan(&id)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, err
		}
		existing, err := scanSubscriber(s.Pool.QueryRow(ctx,
			`SELECT `+subscriberColumns+` FROM subscribers s WHERE s.email=$1`, sub.Email))
		return existing, false, err
	}

	created, err := s.GetSubscriber(ctx, id)
	return created, true, err
}

func (s *Store) UpdateSubscriber(ctx context.Context, sub *models.Subscriber) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE subscribers SET first_name=$1, last_name=$2, status=$3 WHERE id=$4`,
		sub.FirstName, sub.LastName, sub.Status, sub.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *Store) GetOrCreateGroup(ctx context.Context, name string) (*models.SubscriberGroup, error) {
	g := &models.SubscriberGroup{Name: name}
	err := s.Pool.QueryRow(ctx,
		`INSERT INTO subscriber_groups (name) VALUES ($1)
		 ON CONFLICT (name) DO UPDATE SET name=EXCLUDED.name
		 RETURNING id`,
		name,
	).Scan(&g.ID)
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (s *Store) GetGroup(ctx context.Context, id int64) (*models.SubscriberGroup, error) {
	var g models.SubscriberGroup
	err := s.Pool.QueryRow(ctx, `SELECT id, name FROM subscriber_groups WHERE id=$1`, id).Scan(&g.ID, &g.Name)
	if err != nil {
		return nil, notFound(err)
	}
	return &g, nil
}

func (s *Store) AddToGroup(ctx context.Context, groupID, subscriberID int64) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO subscriber_group_members (group_id, subscriber_id) VALUES ($1,$2)
		 ON CONFLICT DO NOTHING`,
		groupID, subscriberID,
	)
	return err
}

// GroupMembers returns the group's subscribers in id order.
func (s *Store) GroupMembers(ctx context.Context, groupID int64) ([]*models.Subscriber, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+subscriberColumns+`
		 FROM subscribers s
		 JOIN subscriber_group_members gm ON gm.subscriber_id = s.id
		 WHERE gm.group_id=$1
		 ORDER BY s.id`,
		groupID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*models.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
