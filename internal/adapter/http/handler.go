package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/wargadesa/desaflow/internal/app"
	"github.com/wargadesa/desaflow/internal/domain"
)

const timeFormat = "2006-01-02T15:04:05Z"

// SubjectResponse is the API representation of a subject.
type SubjectResponse struct {
	ID        string `json:"id" doc:"Unique identifier"`
	Kind      string `json:"kind" doc:"Subject kind (asset or aid_program)"`
	Name      string `json:"name" doc:"Display name"`
	Quota     *int   `json:"quota,omitempty" doc:"Recipient cap for aid programs; absent means unlimited"`
	CreatedAt string `json:"created_at" doc:"Creation timestamp (ISO 8601)"`
	UpdatedAt string `json:"updated_at" doc:"Last update timestamp (ISO 8601)"`
}

// AvailabilityResponse is the derived availability of a subject, computed
// on every read.
type AvailabilityResponse struct {
	Held           bool `json:"held" doc:"True when an asset is currently on loan"`
	Unlimited      bool `json:"unlimited" doc:"True when no quota is configured"`
	AvailableSpots int  `json:"available_spots" doc:"Remaining program spots; 0 when unlimited"`
}

// RequestResponse is the API representation of a workflow request.
type RequestResponse struct {
	ID          string  `json:"id" doc:"Unique identifier"`
	Kind        string  `json:"kind" doc:"Request kind"`
	SubjectID   string  `json:"subject_id" doc:"Referenced asset or program"`
	RequesterID string  `json:"requester_id" doc:"Citizen or family behind the request"`
	Status      string  `json:"status" doc:"Lifecycle state"`
	Note        string  `json:"note,omitempty" doc:"Free-text rationale"`
	DecidedBy   string  `json:"decided_by,omitempty" doc:"Administrator who decided the request"`
	RequestedAt string  `json:"requested_at" doc:"Creation timestamp (ISO 8601)"`
	DecidedAt   *string `json:"decided_at,omitempty" doc:"Decision timestamp"`
	EffectiveAt *string `json:"effective_at,omitempty" doc:"Borrowed/collected timestamp"`
	DueAt       *string `json:"due_at,omitempty" doc:"Expected return date"`
	ClosedAt    *string `json:"closed_at,omitempty" doc:"Closure timestamp"`
	Overdue     bool    `json:"overdue" doc:"Derived: past due and still active"`
}

// AuditEntryResponse is one transition audit record.
type AuditEntryResponse struct {
	FromStatus string `json:"from_status" doc:"Status before the transition"`
	ToStatus   string `json:"to_status" doc:"Status after the transition"`
	ActorID    string `json:"actor_id" doc:"Acting identity"`
	ActorRole  string `json:"actor_role" doc:"Acting role"`
	Note       string `json:"note,omitempty" doc:"Transition note"`
	OccurredAt string `json:"occurred_at" doc:"Transition timestamp (ISO 8601)"`
}

func toSubjectResponse(s domain.Subject) SubjectResponse {
	return SubjectResponse{
		ID:        s.ID,
		Kind:      string(s.Kind),
		Name:      s.Name,
		Quota:     s.Quota,
		CreatedAt: s.CreatedAt.Format(timeFormat),
		UpdatedAt: s.UpdatedAt.Format(timeFormat),
	}
}

func toRequestResponse(r domain.Request, now time.Time) RequestResponse {
	return RequestResponse{
		ID:          r.ID,
		Kind:        string(r.Kind),
		SubjectID:   r.SubjectID,
		RequesterID: r.RequesterID,
		Status:      string(r.Status),
		Note:        r.Note,
		DecidedBy:   r.DecidedBy,
		RequestedAt: r.RequestedAt.Format(timeFormat),
		DecidedAt:   optStamp(r.DecidedAt),
		EffectiveAt: optStamp(r.EffectiveAt),
		DueAt:       optStamp(r.DueAt),
		ClosedAt:    optStamp(r.ClosedAt),
		Overdue:     domain.IsOverdue(r, now),
	}
}

func optStamp(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(timeFormat)
	return &s
}

// ActorHeaders carries the caller identity supplied by the identity
// collaborator. The values are trusted as-is; authenticating them is the
// hosting deployment's concern.
type ActorHeaders struct {
	ActorID   string `header:"X-Actor-Id" doc:"Acting identity"`
	ActorRole string `header:"X-Actor-Role" doc:"Acting role (admin, staff, citizen)"`
}

func (h ActorHeaders) actor() domain.Actor {
	return domain.Actor{ID: h.ActorID, Role: domain.Role(h.ActorRole)}
}

// --- Create Subject ---

type CreateSubjectInput struct {
	Body struct {
		Kind  string `json:"kind" enum:"asset,aid_program" doc:"Subject kind"`
		Name  string `json:"name" minLength:"1" maxLength:"255" doc:"Display name"`
		Quota *int   `json:"quota,omitempty" minimum:"0" doc:"Recipient cap; omit for unlimited"`
	}
}

type CreateSubjectOutput struct {
	Body SubjectResponse
}

// --- Get Subject ---

type GetSubjectInput struct {
	ID string `path:"id" doc:"Subject ID"`
}

type GetSubjectOutput struct {
	Body struct {
		SubjectResponse
		Availability AvailabilityResponse `json:"availability"`
	}
}

// --- List Subjects ---

type ListSubjectsInput struct {
	Kind   string `query:"kind" required:"false" enum:"asset,aid_program," doc:"Filter by kind"`
	Limit  int    `query:"limit" required:"false" default:"50" doc:"Max results"`
	Offset int    `query:"offset" required:"false" default:"0" doc:"Pagination offset"`
}

type ListSubjectsOutput struct {
	Body []SubjectResponse
}

// --- Create Request ---

type CreateRequestInput struct {
	Body struct {
		Kind        string `json:"kind" enum:"asset_loan,aid_recipient" doc:"Request kind"`
		SubjectID   string `json:"subject_id" minLength:"1" doc:"Asset or program to request"`
		RequesterID string `json:"requester_id" minLength:"1" doc:"Citizen or family id"`
		Note        string `json:"note,omitempty" maxLength:"1000" doc:"Free-text rationale"`
		DueAt       string `json:"due_at,omitempty" doc:"Expected return date (ISO 8601)"`
	}
}

type CreateRequestOutput struct {
	Body RequestResponse
}

// --- Get Request ---

type GetRequestInput struct {
	ID string `path:"id" doc:"Request ID"`
}

type GetRequestOutput struct {
	Body RequestResponse
}

// --- List Requests ---

type ListRequestsInput struct {
	Kind        string `query:"kind" required:"false" enum:"asset_loan,aid_recipient," doc:"Filter by kind"`
	Status      string `query:"status" required:"false" doc:"Filter by status"`
	RequesterID string `query:"requester_id" required:"false" doc:"Filter by requester"`
	Overdue     string `query:"overdue" required:"false" enum:"true,false," doc:"Filter on the derived overdue flag"`
	Limit       int    `query:"limit" required:"false" default:"50" doc:"Max results"`
	Offset      int    `query:"offset" required:"false" default:"0" doc:"Pagination offset"`
}

type ListRequestsOutput struct {
	Body []RequestResponse
}

// --- Request History ---

type RequestHistoryInput struct {
	ID string `path:"id" doc:"Request ID"`
}

type RequestHistoryOutput struct {
	Body []AuditEntryResponse
}

// --- Transition ---

type TransitionInput struct {
	ActorHeaders
	ID   string `path:"id" doc:"Request ID"`
	Body struct {
		Target string `json:"target" enum:"on_loan,rejected,returned,collected" doc:"Target status"`
		Note   string `json:"note,omitempty" maxLength:"1000" doc:"Decision note"`
	}
}

type TransitionOutput struct {
	Body RequestResponse
}

// --- Collect ---

type CollectInput struct {
	ActorHeaders
	ID   string `path:"id" doc:"Request ID"`
	Body struct {
		Note string `json:"note,omitempty" maxLength:"1000" doc:"Collection note"`
	}
}

type CollectOutput struct {
	Body RequestResponse
}

// Register adds all API routes to the Huma API.
func Register(api huma.API, svc *app.RequestService) {
	huma.Register(api, huma.Operation{
		OperationID: "create-subject",
		Method:      http.MethodPost,
		Path:        "/api/v1/subjects",
		Summary:     "Register an asset or aid program",
		Tags:        []string{"Subjects"},
	}, func(ctx context.Context, input *CreateSubjectInput) (*CreateSubjectOutput, error) {
		subject, err := svc.CreateSubject(ctx, domain.SubjectKind(input.Body.Kind), input.Body.Name, input.Body.Quota)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &CreateSubjectOutput{Body: toSubjectResponse(subject)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-subject",
		Method:      http.MethodGet,
		Path:        "/api/v1/subjects/{id}",
		Summary:     "Get a subject with its derived availability",
		Tags:        []string{"Subjects"},
	}, func(ctx context.Context, input *GetSubjectInput) (*GetSubjectOutput, error) {
		subject, avail, err := svc.Availability(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}

		out := &GetSubjectOutput{}
		out.Body.SubjectResponse = toSubjectResponse(subject)
		out.Body.Availability = AvailabilityResponse{
			Held:      avail.Held,
			Unlimited: avail.Spots.Unlimited(),
		}
		if !avail.Spots.Unlimited() {
			out.Body.Availability.AvailableSpots = int(avail.Spots)
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-subjects",
		Method:      http.MethodGet,
		Path:        "/api/v1/subjects",
		Summary:     "List subjects",
		Tags:        []string{"Subjects"},
	}, func(ctx context.Context, input *ListSubjectsInput) (*ListSubjectsOutput, error) {
		filter := domain.SubjectFilter{
			Limit:  input.Limit,
			Offset: input.Offset,
		}
		if input.Kind != "" {
			k := domain.SubjectKind(input.Kind)
			filter.Kind = &k
		}

		subjects, err := svc.ListSubjects(ctx, filter)
		if err != nil {
			return nil, toHumaError(err)
		}

		resp := make([]SubjectResponse, len(subjects))
		for i, s := range subjects {
			resp[i] = toSubjectResponse(s)
		}
		return &ListSubjectsOutput{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-request",
		Method:      http.MethodPost,
		Path:        "/api/v1/requests",
		Summary:     "Open an asset-loan or aid-recipient request",
		Tags:        []string{"Requests"},
	}, func(ctx context.Context, input *CreateRequestInput) (*CreateRequestOutput, error) {
		in := app.CreateRequestInput{
			Kind:        domain.Kind(input.Body.Kind),
			SubjectID:   input.Body.SubjectID,
			RequesterID: input.Body.RequesterID,
			Note:        input.Body.Note,
		}
		if input.Body.DueAt != "" {
			due, err := time.Parse(timeFormat, input.Body.DueAt)
			if err != nil {
				return nil, huma.Error422UnprocessableEntity("due_at must be an ISO 8601 timestamp")
			}
			in.DueAt = &due
		}

		req, err := svc.CreateRequest(ctx, in)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &CreateRequestOutput{Body: toRequestResponse(req, time.Now().UTC())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-request",
		Method:      http.MethodGet,
		Path:        "/api/v1/requests/{id}",
		Summary:     "Get a request by ID",
		Tags:        []string{"Requests"},
	}, func(ctx context.Context, input *GetRequestInput) (*GetRequestOutput, error) {
		req, err := svc.GetRequest(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &GetRequestOutput{Body: toRequestResponse(req, time.Now().UTC())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-requests",
		Method:      http.MethodGet,
		Path:        "/api/v1/requests",
		Summary:     "List requests",
		Tags:        []string{"Requests"},
	}, func(ctx context.Context, input *ListRequestsInput) (*ListRequestsOutput, error) {
		filter := domain.RequestFilter{
			RequesterID: input.RequesterID,
			Limit:       input.Limit,
			Offset:      input.Offset,
		}
		if input.Kind != "" {
			k := domain.Kind(input.Kind)
			filter.Kind = &k
		}
		if input.Status != "" {
			s := domain.Status(input.Status)
			filter.Status = &s
		}
		var overdue *bool
		if input.Overdue != "" {
			v := input.Overdue == "true"
			overdue = &v
		}

		reqs, err := svc.ListRequests(ctx, filter, overdue)
		if err != nil {
			return nil, toHumaError(err)
		}

		now := time.Now().UTC()
		resp := make([]RequestResponse, len(reqs))
		for i, r := range reqs {
			resp[i] = toRequestResponse(r, now)
		}
		return &ListRequestsOutput{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "request-history",
		Method:      http.MethodGet,
		Path:        "/api/v1/requests/{id}/history",
		Summary:     "Get the transition audit trail of a request",
		Tags:        []string{"Requests"},
	}, func(ctx context.Context, input *RequestHistoryInput) (*RequestHistoryOutput, error) {
		entries, err := svc.History(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}

		resp := make([]AuditEntryResponse, len(entries))
		for i, e := range entries {
			resp[i] = AuditEntryResponse{
				FromStatus: string(e.FromStatus),
				ToStatus:   string(e.ToStatus),
				ActorID:    e.ActorID,
				ActorRole:  string(e.ActorRole),
				Note:       e.Note,
				OccurredAt: e.OccurredAt.Format(timeFormat),
			}
		}
		return &RequestHistoryOutput{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-request",
		Method:      http.MethodPost,
		Path:        "/api/v1/requests/{id}/transitions",
		Summary:     "Move a request to a target status",
		Tags:        []string{"Requests"},
	}, func(ctx context.Context, input *TransitionInput) (*TransitionOutput, error) {
		req, err := svc.Transition(ctx, input.ID, domain.Status(input.Body.Target), input.actor(), input.Body.Note)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TransitionOutput{Body: toRequestResponse(req, time.Now().UTC())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "collect-request",
		Method:      http.MethodPost,
		Path:        "/api/v1/requests/{id}/collect",
		Summary:     "Record that the requester collected their aid",
		Tags:        []string{"Requests"},
	}, func(ctx context.Context, input *CollectInput) (*CollectOutput, error) {
		req, err := svc.MarkCollected(ctx, input.ID, input.actor(), input.Body.Note)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &CollectOutput{Body: toRequestResponse(req, time.Now().UTC())}, nil
	})
}

// toHumaError translates domain errors to Huma HTTP errors.
func toHumaError(err error) error {
	if errors.Is(err, domain.ErrRequestNotFound) || errors.Is(err, domain.ErrSubjectNotFound) {
		return huma.Error404NotFound(err.Error())
	}

	var invalidErr *domain.InvalidTransitionError
	if errors.As(err, &invalidErr) {
		return huma.Error422UnprocessableEntity(invalidErr.Error())
	}

	var finalErr *domain.AlreadyFinalizedError
	if errors.As(err, &finalErr) {
		return huma.Error409Conflict(finalErr.Error())
	}

	var unavailErr *domain.ResourceUnavailableError
	if errors.As(err, &unavailErr) {
		return huma.Error409Conflict(unavailErr.Error())
	}

	var unauthErr *domain.UnauthorizedTransitionError
	if errors.As(err, &unauthErr) {
		return huma.Error403Forbidden(unauthErr.Error())
	}

	var valErr *domain.ValidationError
	if errors.As(err, &valErr) {
		return huma.Error422UnprocessableEntity(valErr.Error())
	}

	return huma.Error500InternalServerError("internal server error")
}
