package app

import (
	"context"
	"fmt"
	"time"

	"github.com/wargadesa/desaflow/internal/domain"
)

// RequestService orchestrates the request lifecycle: creation, status
// transitions, derived-state reads and notification dispatch.
type RequestService struct {
	requests  domain.RequestRepository
	subjects  domain.SubjectRepository
	validator domain.TransitionValidator
	policy    *NotificationPolicy
}

// NewRequestService creates a service with the given adapters.
func NewRequestService(requests domain.RequestRepository, subjects domain.SubjectRepository, validator domain.TransitionValidator, policy *NotificationPolicy) *RequestService {
	return &RequestService{
		requests:  requests,
		subjects:  subjects,
		validator: validator,
		policy:    policy,
	}
}

// CreateSubject registers a loanable asset or an aid program.
func (s *RequestService) CreateSubject(ctx context.Context, kind domain.SubjectKind, name string, quota *int) (domain.Subject, error) {
	if kind != domain.SubjectAsset && kind != domain.SubjectAidProgram {
		return domain.Subject{}, &domain.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown subject kind %q", kind)}
	}
	if quota != nil && *quota < 0 {
		return domain.Subject{}, &domain.ValidationError{Field: "quota", Reason: "must not be negative"}
	}

	subject := domain.NewSubject(newID(), kind, name, quota)
	if err := s.subjects.Create(ctx, subject); err != nil {
		return domain.Subject{}, fmt.Errorf("creating subject: %w", err)
	}
	return subject, nil
}

// GetSubject returns a subject by its unique identifier.
func (s *RequestService) GetSubject(ctx context.Context, id string) (domain.Subject, error) {
	return s.subjects.GetByID(ctx, id)
}

// ListSubjects returns subjects matching the given filter.
func (s *RequestService) ListSubjects(ctx context.Context, filter domain.SubjectFilter) ([]domain.Subject, error) {
	return s.subjects.List(ctx, filter)
}

// SubjectAvailability is the derived availability of a subject: whether an
// asset is currently held, and how many spots an aid program has left.
type SubjectAvailability struct {
	Held  bool
	Spots domain.Spots
}

// Availability computes the subject's current availability from the
// requests referencing it. Nothing is cached: the answer is derived on
// every read.
func (s *RequestService) Availability(ctx context.Context, subjectID string) (domain.Subject, SubjectAvailability, error) {
	subject, err := s.subjects.GetByID(ctx, subjectID)
	if err != nil {
		return domain.Subject{}, SubjectAvailability{}, err
	}

	switch subject.Kind {
	case domain.SubjectAsset:
		held, err := s.requests.SubjectHeld(ctx, subject.ID, "", domain.StatusOnLoan)
		if err != nil {
			return domain.Subject{}, SubjectAvailability{}, fmt.Errorf("checking holder: %w", err)
		}
		return subject, SubjectAvailability{Held: held, Spots: domain.SpotsUnlimited}, nil
	default:
		consumed, err := s.requests.CountBySubject(ctx, domain.KindAidRecipient, subject.ID)
		if err != nil {
			return domain.Subject{}, SubjectAvailability{}, fmt.Errorf("counting recipients: %w", err)
		}
		return subject, SubjectAvailability{Spots: domain.AvailableSpots(subject.Quota, consumed)}, nil
	}
}

// CreateRequestInput carries the fields needed to open a request.
type CreateRequestInput struct {
	Kind        domain.Kind
	SubjectID   string
	RequesterID string
	Note        string
	DueAt       *time.Time
}

// CreateRequest opens a request in its kind's initial status. Aid
// recipient creation consumes a program spot, so the quota check and the
// insert share one atomic scope.
func (s *RequestService) CreateRequest(ctx context.Context, in CreateRequestInput) (domain.Request, error) {
	if _, ok := domain.SpecFor(in.Kind); !ok {
		return domain.Request{}, &domain.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown request kind %q", in.Kind)}
	}
	if in.RequesterID == "" {
		return domain.Request{}, &domain.ValidationError{Field: "requester_id", Reason: "must not be empty"}
	}

	subject, err := s.subjects.GetByID(ctx, in.SubjectID)
	if err != nil {
		return domain.Request{}, err
	}
	if wanted := subjectKindFor(in.Kind); subject.Kind != wanted {
		return domain.Request{}, &domain.ValidationError{
			Field:  "subject_id",
			Reason: fmt.Sprintf("subject %s is a %s, want %s", subject.ID, subject.Kind, wanted),
		}
	}

	req := domain.NewRequest(newID(), in.Kind, in.SubjectID, in.RequesterID, in.Note, in.DueAt)
	if req.DueAt != nil && req.DueAt.Before(req.RequestedAt) {
		return domain.Request{}, &domain.ValidationError{Field: "due_at", Reason: "must not be in the past"}
	}

	err = s.requests.Transact(ctx, func(tx domain.RequestTx) error {
		if subject.Kind == domain.SubjectAidProgram {
			consumed, err := tx.CountBySubject(ctx, in.Kind, subject.ID)
			if err != nil {
				return fmt.Errorf("counting recipients: %w", err)
			}
			if domain.AvailableSpots(subject.Quota, consumed) == 0 {
				return &domain.ResourceUnavailableError{SubjectID: subject.ID, Reason: "program quota exhausted"}
			}
		}
		return tx.Create(ctx, req)
	})
	if err != nil {
		return domain.Request{}, err
	}

	// Creation is announced like any other lifecycle point: the rule for
	// the initial status decides who hears about it.
	s.policy.Dispatch(ctx, TransitionEvent{
		Request:    req,
		FromStatus: "",
		ToStatus:   req.Status,
	})

	return req, nil
}

// GetRequest returns a request by its unique identifier.
func (s *RequestService) GetRequest(ctx context.Context, id string) (domain.Request, error) {
	return s.requests.GetByID(ctx, id)
}

// ListRequests returns requests matching the given filter. When overdue is
// non-nil the result is additionally filtered on the derived overdue flag,
// computed against the current clock.
func (s *RequestService) ListRequests(ctx context.Context, filter domain.RequestFilter, overdue *bool) ([]domain.Request, error) {
	reqs, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if overdue == nil {
		return reqs, nil
	}

	now := time.Now().UTC()
	out := reqs[:0]
	for _, r := range reqs {
		if domain.IsOverdue(r, now) == *overdue {
			out = append(out, r)
		}
	}
	return out, nil
}

// History returns the transition audit trail of a request.
func (s *RequestService) History(ctx context.Context, id string) ([]domain.AuditEntry, error) {
	if _, err := s.requests.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.requests.History(ctx, id)
}

// Transition moves a request to the target status on behalf of the actor.
// All rejection conditions are checked before any persisted mutation, and
// the availability gate shares the status write's atomic scope so two
// concurrent approvals cannot double-book one asset. Notification dispatch
// happens after commit and never fails the call.
func (s *RequestService) Transition(ctx context.Context, id string, target domain.Status, actor domain.Actor, note string) (domain.Request, error) {
	var (
		out   domain.Request
		event *TransitionEvent
	)

	err := s.requests.Transact(ctx, func(tx domain.RequestTx) error {
		req, err := tx.GetByID(ctx, id)
		if err != nil {
			return err
		}
		spec, ok := domain.SpecFor(req.Kind)
		if !ok {
			return &domain.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown request kind %q", req.Kind)}
		}

		// Re-submitting the current status is an idempotent no-op, even
		// for a terminal status (a second collect call must not fail).
		if req.Status == target {
			out = req
			return nil
		}
		if spec.IsTerminal(req.Status) {
			return &domain.AlreadyFinalizedError{RequestID: req.ID, Status: req.Status}
		}

		edge, ok := spec.Edge(req.Status, target)
		if !ok {
			return &domain.InvalidTransitionError{Kind: req.Kind, Current: req.Status, Target: target}
		}
		dst, err := s.validator.Apply(ctx, req.Kind, req.Status, edge.Event)
		if err != nil {
			return err
		}
		if !edge.Permits(actor.Role) {
			return &domain.UnauthorizedTransitionError{Role: actor.Role, Current: req.Status, Target: target}
		}
		if spec.GateOnActivate && dst == spec.Active {
			held, err := tx.SubjectHeld(ctx, req.SubjectID, req.ID, spec.Active)
			if err != nil {
				return fmt.Errorf("checking subject availability: %w", err)
			}
			if held {
				return &domain.ResourceUnavailableError{SubjectID: req.SubjectID, Reason: "held by another request"}
			}
		}

		now := time.Now().UTC()
		from := req.Status
		req.Status = dst
		if from == spec.Initial {
			// Decision pair is stamped together, exactly once.
			req.DecidedAt = &now
			req.DecidedBy = actor.ID
		}
		if spec.Stamp != nil {
			spec.Stamp(&req, dst, now)
		}
		if req.DueAt != nil && req.EffectiveAt != nil && req.DueAt.Before(*req.EffectiveAt) {
			return &domain.ValidationError{Field: "due_at", Reason: "must not be before the effective date"}
		}
		if note != "" {
			req.Note = note
		}
		req.UpdatedAt = now

		if err := tx.Update(ctx, req); err != nil {
			return fmt.Errorf("updating request: %w", err)
		}
		if err := tx.AppendAudit(ctx, domain.AuditEntry{
			RequestID:  req.ID,
			Kind:       req.Kind,
			FromStatus: from,
			ToStatus:   dst,
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			Note:       note,
			OccurredAt: now,
		}); err != nil {
			return fmt.Errorf("appending audit entry: %w", err)
		}

		out = req
		event = &TransitionEvent{
			Request:    req,
			FromStatus: from,
			ToStatus:   dst,
			Actor:      actor,
		}
		return nil
	})
	if err != nil {
		return domain.Request{}, err
	}

	if event != nil {
		s.policy.Dispatch(ctx, *event)
	}
	return out, nil
}

// MarkCollected records that the requester has collected their aid.
func (s *RequestService) MarkCollected(ctx context.Context, id string, actor domain.Actor, note string) (domain.Request, error) {
	return s.Transition(ctx, id, domain.StatusCollected, actor, note)
}

func subjectKindFor(kind domain.Kind) domain.SubjectKind {
	if kind == domain.KindAidRecipient {
		return domain.SubjectAidProgram
	}
	return domain.SubjectAsset
}
