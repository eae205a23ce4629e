package delivery

import (
	"context"

	"Mailroom/internal/models"
)

// Recipient is the person a mail is addressed to.
type Recipient interface {
	Email() string
	// Context is exposed to templates as "person".
	Context() map[string]any
}

// UnsubscribeLinker is implemented by recipients that can be unsubscribed
// through a URL. The URL is sent in the List-Unsubscribe header.
type UnsubscribeLinker interface {
	UnsubscribeURL(job *models.Job, mail *models.Mail) string
}

type Unsubscriber interface {
	Unsubscribe(ctx context.Context) error
}

type BounceHandler interface {
	OnBounce(ctx context.Context, mail *models.Mail) error
}

// LandingHandler is implemented by recipients or groups that react to a
// recipient arriving through a tracked link.
type LandingHandler interface {
	OnLanding(ctx context.Context, v Visit) error
}

// Group is the object a job is sent to.
type Group interface {
	// Context is exposed to templates as "group_object".
	Context() map[string]any
}

// MemberLister is implemented by groups whose members can be turned into mails.
type MemberLister interface {
	Members(ctx context.Context) ([]Ref, error)
}

// Ref points at a recipient of a given type.
type Ref struct {
	Type string
	ID   int64
}

type RecipientSource interface {
	Recipient(ctx context.Context, id int64) (Recipient, error)
}

type GroupSource interface {
	Group(ctx context.Context, id int64) (Group, error)
}

func (s *Service) recipient(ctx context.Context, m *models.Mail) (Recipient, error) {
	src, ok := s.recipients[m.PersonType]
	if !ok {
		return nil, &UnknownTypeError{Kind: "recipient", Type: m.PersonType}
	}
	return src.Recipient(ctx, m.PersonID)
}

// group returns nil when the job has no group.
func (s *Service) group(ctx context.Context, j *models.Job) (Group, error) {
	if j.GroupType == "" || j.GroupID == nil {
		return nil, nil
	}
	src, ok := s.groups[j.GroupType]
	if !ok {
		return nil, &UnknownTypeError{Kind: "group", Type: j.GroupType}
	}
	return src.Group(ctx, *j.GroupID)
}

type UnknownTypeError struct {
	Kind string
	Type string
}

func (e *UnknownTypeError) Error() string {
	return "no " + e.Kind + " source registered for type " + e.Type
}
