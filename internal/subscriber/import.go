package subscriber

import (
	"context"
	"errors"
	"slices"

	"go.uber.org/zap"

	"Mailroom/internal/csvparser"
	"Mailroom/internal/delivery"
)

// ImportResult lists the subscribers an import produced and the rows it skipped.
type ImportResult struct {
	Refs    []delivery.Ref `json:"-"`
	Added   int            `json:"added"`
	Skipped []string       `json:"skipped"`
}

// Import adds every row as a subscriber. Rows with an invalid address are
// skipped; any other error stops the import.
func (s *Service) Import(ctx context.Context, rows []csvparser.SubscriberRow, groups []string) (*ImportResult, error) {
	res := &ImportResult{Skipped: []string{}}

	for _, row := range rows {
		sub, err := s.Add(ctx, row.Email, slices.Concat(row.Groups, groups), Fields{
			FirstName: row.FirstName,
			LastName:  row.LastName,
		})
		if errors.Is(err, ErrInvalidEmail) {
			res.Skipped = append(res.Skipped, row.Email)
			continue
		}
		if err != nil {
			return res, err
		}
		res.Refs = append(res.Refs, delivery.Ref{Type: PersonType, ID: sub.ID})
		res.Added++
	}

	s.logger.Info("subscribers imported",
		zap.Int("added", res.Added),
		zap.Int("skipped", len(res.Skipped)),
	)
	return res, nil
}
