package delivery

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"Mailroom/internal/links"
	"Mailroom/internal/models"
)

var (
	ErrInvalidSlug       = errors.New("slug may only contain letters, digits, hyphens and underscores")
	ErrInvalidNewsletter = errors.New("newsletter is not valid")
)

var slugRe = regexp.MustCompile(`^[-\w]+$`)

// ----------------------------
// Newsletters
// ----------------------------

// ValidateNewsletter checks the required fields and that the body parses.
func (s *Service) ValidateNewsletter(n *models.Newsletter) error {
	if n == nil || !n.IsValid() {
		return fmt.Errorf("%w: subject, sender e-mail and body are required", ErrInvalidNewsletter)
	}
	if _, err := s.engine.Parse(n.Body); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidNewsletter, err)
	}
	return nil
}

func (s *Service) isValid(n *models.Newsletter) bool {
	return s.ValidateNewsletter(n) == nil
}

func (s *Service) CreateNewsletter(ctx context.Context, n *models.Newsletter) error {
	if _, err := s.engine.Parse(n.Body); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidNewsletter, err)
	}
	return s.store.CreateNewsletter(ctx, n)
}

func (s *Service) GetNewsletter(ctx context.Context, id int64) (*models.Newsletter, error) {
	return s.store.GetNewsletter(ctx, id)
}

func (s *Service) UpdateNewsletter(ctx context.Context, n *models.Newsletter) error {
	if _, err := s.engine.Parse(n.Body); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidNewsletter, err)
	}
	return s.store.UpdateNewsletter(ctx, n)
}

// newsletter returns ErrNoNewsletter when the job has none or it was deleted.
func (s *Service) newsletter(ctx context.Context, j *models.Job) (*models.Newsletter, error) {
	if j.NewsletterID == nil {
		return nil, ErrNoNewsletter
	}
	n, err := s.store.GetNewsletter(ctx, *j.NewsletterID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrNoNewsletter
	}
	return n, err
}

// ----------------------------
// Jobs
// ----------------------------

func (s *Service) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	return s.store.GetJob(ctx, id)
}

func (s *Service) ListJobs(ctx context.Context, f models.JobFilter) ([]*models.Job, error) {
	return s.store.ListJobs(ctx, f)
}

// CreateJob stores a new draft job.
func (s *Service) CreateJob(ctx context.Context, j *models.Job) error {
	j.Status = models.JobDraft
	j.DeliverStart = nil
	j.DeliverFinished = nil

	if j.NewsletterID != nil {
		if _, err := s.newsletter(ctx, j); err != nil {
			return err
		}
	}
	if err := validSlugs(j.PublicSlug, j.UTMCampaign); err != nil {
		return err
	}
	return s.store.CreateJob(ctx, j)
}

// JobUpdate holds the editable fields of a job. Nil fields are left as they are.
type JobUpdate struct {
	NewsletterID *int64  `json:"newsletter_id"`
	PublicSlug   *string `json:"public_slug"`
	UTMCampaign  *string `json:"utm_campaign"`
	Collection   *string `json:"collection"`
}

// UpdateJob applies u. The newsletter can only be swapped while the job is
// editable; an empty public slug clears it.
func (s *Service) UpdateJob(ctx context.Context, id int64, u JobUpdate) (*models.Job, error) {
	j, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	if u.NewsletterID != nil {
		if !j.Status.CanEdit() {
			return nil, ErrNotEditable
		}
		j.NewsletterID = u.NewsletterID
		if _, err := s.newsletter(ctx, j); err != nil {
			return nil, err
		}
	}
	if u.PublicSlug != nil {
		if *u.PublicSlug == "" {
			j.PublicSlug = nil
		} else {
			slug := *u.PublicSlug
			j.PublicSlug = &slug
		}
	}
	if u.UTMCampaign != nil {
		j.UTMCampaign = *u.UTMCampaign
	}
	if u.Collection != nil {
		j.Collection = *u.Collection
	}

	if err := validSlugs(j.PublicSlug, j.UTMCampaign); err != nil {
		return nil, err
	}
	if err := s.store.UpdateJob(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

func validSlugs(publicSlug *string, utmCampaign string) error {
	if publicSlug != nil && !slugRe.MatchString(*publicSlug) {
		return ErrInvalidSlug
	}
	if utmCampaign != "" && !slugRe.MatchString(utmCampaign) {
		return ErrInvalidSlug
	}
	return nil
}

// Delete removes the job. Its newsletter goes with it when inactive.
func (s *Service) Delete(ctx context.Context, id int64) error {
	j, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	return s.store.DeleteJob(ctx, j)
}

// CanSend reports whether a send may be started: the status allows it and the
// newsletter is valid.
func (s *Service) CanSend(ctx context.Context, j *models.Job) (bool, error) {
	if !j.Status.CanSend() {
		return false, nil
	}
	return s.hasValidNewsletter(ctx, j)
}

func (s *Service) CanViewPublic(ctx context.Context, j *models.Job) (bool, error) {
	if !j.Status.CanViewPublic() {
		return false, nil
	}
	return s.hasValidNewsletter(ctx, j)
}

func (s *Service) hasValidNewsletter(ctx context.Context, j *models.Job) (bool, error) {
	n, err := s.newsletter(ctx, j)
	if errors.Is(err, ErrNoNewsletter) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s.isValid(n), nil
}

// PublicURL is empty when the job has no public slug.
func (s *Service) PublicURL(j *models.Job) string {
	if j.PublicSlug == nil || *j.PublicSlug == "" {
		return ""
	}
	return s.baseURL + "/view/" + *j.PublicSlug + "/"
}

// ----------------------------
// Mails
// ----------------------------

// CreateMails adds one mail per recipient reference and returns how many were created.
func (s *Service) CreateMails(ctx context.Context, jobID int64, refs []Ref) (int, error) {
	n := 0
	for _, ref := range refs {
		m := &models.Mail{
			JobID:      jobID,
			PersonType: ref.Type,
			PersonID:   ref.ID,
			MailHash:   links.NewHash(),
		}
		if err := s.store.CreateMail(ctx, m); err != nil {
			return n, fmt.Errorf("create mail for %s %d: %w", ref.Type, ref.ID, err)
		}
		n++
	}
	return n, nil
}

// CreateGroupMails adds a mail for every member of the job's group.
func (s *Service) CreateGroupMails(ctx context.Context, jobID int64) (int, error) {
	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return 0, err
	}
	g, err := s.group(ctx, j)
	if err != nil {
		return 0, err
	}
	lister, ok := g.(MemberLister)
	if !ok {
		return 0, ErrNoMembers
	}

	refs, err := lister.Members(ctx)
	if err != nil {
		return 0, fmt.Errorf("list group members: %w", err)
	}
	return s.CreateMails(ctx, jobID, refs)
}

// ----------------------------
// Sending
// ----------------------------

// StartSending marks the job as sending and hands it to the queue.
func (s *Service) StartSending(ctx context.Context, jobID int64) error {
	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	ok, err := s.CanSend(ctx, j)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCannotSend
	}

	j.Status = models.JobSending
	if err := s.store.UpdateJob(ctx, j); err != nil {
		return fmt.Errorf("update job status: %w", err)
	}

	if s.queue == nil {
		return nil
	}
	if err := s.queue.Enqueue(ctx, j.ID); err != nil {
		s.logger.Error("failed to enqueue job", zap.Int64("job_id", j.ID), zap.Error(err))
		// Nothing will pick the job up, so hand it back to the user.
		j.Status = models.JobDraft
		if uerr := s.store.UpdateJob(ctx, j); uerr != nil {
			s.logger.Error("failed to revert job to draft", zap.Int64("job_id", j.ID), zap.Error(uerr))
		}
		return fmt.Errorf("enqueue job %d: %w", j.ID, err)
	}

	s.logger.Info("job queued", zap.Int64("job_id", j.ID))
	return nil
}

// Requeue hands every job left in the sending state back to the queue. It
// runs at start-up so jobs queued before a restart are not lost.
func (s *Service) Requeue(ctx context.Context) (int, error) {
	if s.queue == nil {
		return 0, nil
	}
	jobs, err := s.store.ListJobs(ctx, models.JobFilter{Status: models.JobSending})
	if err != nil {
		return 0, fmt.Errorf("list sending jobs: %w", err)
	}

	n := 0
	for _, j := range jobs {
		if err := s.queue.Enqueue(ctx, j.ID); err != nil {
			return n, fmt.Errorf("enqueue job %d: %w", j.ID, err)
		}
		n++
	}
	if n > 0 {
		s.logger.Info("requeued sending jobs", zap.Int("count", n))
	}
	return n, nil
}

// SendQueued sends a job that StartSending put in the queue.
func (s *Service) SendQueued(ctx context.Context, jobID int64) error {
	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status != models.JobSending {
		return ErrNotQueued
	}
	return s.Send(ctx, jobID)
}
