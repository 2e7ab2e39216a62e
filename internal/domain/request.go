package domain

import "time"

// Kind discriminates the workflow families handled by the engine.
type Kind string

const (
	KindAssetLoan    Kind = "asset_loan"
	KindAidRecipient Kind = "aid_recipient"
)

// Status represents the lifecycle state of a request. Each Kind uses its
// own subset; a status outside the kind's declared set never enters the
// engine.
type Status string

const (
	// asset_loan statuses.
	StatusWaitingApproval Status = "waiting_approval"
	StatusOnLoan          Status = "on_loan"
	StatusReturned        Status = "returned"
	StatusRejected        Status = "rejected"

	// aid_recipient statuses.
	StatusNotCollected Status = "not_collected"
	StatusCollected    Status = "collected"
)

// Event represents an action that drives a state transition.
type Event string

const (
	EventApprove Event = "approve"
	EventReject  Event = "reject"
	EventReturn  Event = "return"
	EventCollect Event = "collect"
)

// Role classifies the caller performing an operation. Roles are supplied
// by the identity collaborator on every call; the engine keeps no ambient
// auth state.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleStaff   Role = "staff"
	RoleCitizen Role = "citizen"
)

// Actor identifies who performs a transition.
type Actor struct {
	ID   string
	Role Role
}

// Transition defines a valid state change: an event moves a request from
// Src to Dst, and only the listed roles may drive the edge.
type Transition struct {
	Event Event
	Src   Status
	Dst   Status
	Roles []Role
}

// Permits reports whether the given role may drive this edge.
func (t Transition) Permits(role Role) bool {
	for _, r := range t.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// StampFunc applies kind-specific timestamp stamping after a transition
// reaches the given target status.
type StampFunc func(r *Request, target Status, now time.Time)

// KindSpec declares the full lifecycle of one request kind. This is domain
// knowledge consumed by the FSM adapter and the application service.
type KindSpec struct {
	Initial Status
	// Active is the status meaning the subject is currently out/held.
	// Empty for kinds with no holding phase.
	Active   Status
	Terminal []Status
	// GateOnActivate requires the subject-availability check before a
	// transition into Active may be applied.
	GateOnActivate bool
	Transitions    []Transition
	Stamp          StampFunc
}

// Specs declares the lifecycle of every request kind.
var Specs = map[Kind]KindSpec{
	KindAssetLoan: {
		Initial:        StatusWaitingApproval,
		Active:         StatusOnLoan,
		Terminal:       []Status{StatusReturned, StatusRejected},
		GateOnActivate: true,
		Transitions: []Transition{
			{Event: EventApprove, Src: StatusWaitingApproval, Dst: StatusOnLoan, Roles: []Role{RoleAdmin}},
			{Event: EventReject, Src: StatusWaitingApproval, Dst: StatusRejected, Roles: []Role{RoleAdmin}},
			{Event: EventReturn, Src: StatusOnLoan, Dst: StatusReturned, Roles: []Role{RoleAdmin, RoleStaff}},
		},
		Stamp: func(r *Request, target Status, now time.Time) {
			switch target {
			case StatusOnLoan:
				r.EffectiveAt = &now
			case StatusReturned:
				r.ClosedAt = &now
			}
		},
	},
	KindAidRecipient: {
		Initial:  StatusNotCollected,
		Terminal: []Status{StatusCollected},
		Transitions: []Transition{
			{Event: EventCollect, Src: StatusNotCollected, Dst: StatusCollected, Roles: []Role{RoleAdmin, RoleStaff}},
		},
		Stamp: func(r *Request, target Status, now time.Time) {
			if target == StatusCollected {
				r.EffectiveAt = &now
				r.ClosedAt = &now
			}
		},
	},
}

// SpecFor returns the lifecycle declaration for a kind.
func SpecFor(kind Kind) (KindSpec, bool) {
	s, ok := Specs[kind]
	return s, ok
}

// IsTerminal reports whether the status permits no further transitions.
func (s KindSpec) IsTerminal(status Status) bool {
	for _, t := range s.Terminal {
		if t == status {
			return true
		}
	}
	return false
}

// Valid reports whether the status belongs to this kind's declared set.
func (s KindSpec) Valid(status Status) bool {
	if status == s.Initial {
		return true
	}
	for _, t := range s.Transitions {
		if t.Src == status || t.Dst == status {
			return true
		}
	}
	return false
}

// Edge returns the transition from one status to another, if declared.
func (s KindSpec) Edge(from, to Status) (Transition, bool) {
	for _, t := range s.Transitions {
		if t.Src == from && t.Dst == to {
			return t, true
		}
	}
	return Transition{}, false
}

// Request is the core workflow entity: an asset loan or a social-aid
// distribution entry advancing through its kind's lifecycle.
type Request struct {
	ID          string
	Kind        Kind
	SubjectID   string
	RequesterID string
	Status      Status
	Note        string
	DecidedBy   string
	RequestedAt time.Time
	DecidedAt   *time.Time
	EffectiveAt *time.Time
	DueAt       *time.Time
	ClosedAt    *time.Time
	UpdatedAt   time.Time
}

// NewRequest creates a request in its kind's initial status.
func NewRequest(id string, kind Kind, subjectID, requesterID, note string, dueAt *time.Time) Request {
	now := time.Now().UTC()
	spec := Specs[kind]
	return Request{
		ID:          id,
		Kind:        kind,
		SubjectID:   subjectID,
		RequesterID: requesterID,
		Status:      spec.Initial,
		Note:        note,
		RequestedAt: now,
		DueAt:       dueAt,
		UpdatedAt:   now,
	}
}

// Terminal reports whether the request has reached a terminal status.
func (r Request) Terminal() bool {
	spec, ok := SpecFor(r.Kind)
	return ok && spec.IsTerminal(r.Status)
}

// CanTransition is the pure admission predicate: true iff an edge from the
// request's current status to target exists and the actor's role is
// permitted on it. It does not consult the subject-availability gate.
func CanTransition(r Request, target Status, actor Actor) bool {
	spec, ok := SpecFor(r.Kind)
	if !ok {
		return false
	}
	edge, ok := spec.Edge(r.Status, target)
	if !ok {
		return false
	}
	return edge.Permits(actor.Role)
}

// AuditEntry records one applied transition. Entries are appended in the
// same atomic scope as the status write.
type AuditEntry struct {
	ID         int64
	RequestID  string
	Kind       Kind
	FromStatus Status
	ToStatus   Status
	ActorID    string
	ActorRole  Role
	Note       string
	OccurredAt time.Time
}
