package domain

import "context"

// RequestReader are the read operations available both inside and outside
// a transactional scope.
type RequestReader interface {
	GetByID(ctx context.Context, id string) (Request, error)
	// SubjectHeld reports whether another request than excludeID currently
	// holds the subject, i.e. sits in the given holding status.
	SubjectHeld(ctx context.Context, subjectID, excludeID string, held Status) (bool, error)
	// CountBySubject counts requests of a kind referencing the subject.
	CountBySubject(ctx context.Context, kind Kind, subjectID string) (int, error)
}

// RequestTx is the unit-of-work surface. All mutations of a request and
// its audit trail happen through one RequestTx so the availability check
// and the status write share a single serialized read-modify-write scope.
type RequestTx interface {
	RequestReader
	Create(ctx context.Context, r Request) error
	Update(ctx context.Context, r Request) error
	AppendAudit(ctx context.Context, entry AuditEntry) error
}

// RequestRepository defines the persistence contract for requests.
type RequestRepository interface {
	RequestReader
	List(ctx context.Context, filter RequestFilter) ([]Request, error)
	History(ctx context.Context, requestID string) ([]AuditEntry, error)
	// Transact runs fn inside one atomic scope; if fn returns an error the
	// scope's mutations are discarded.
	Transact(ctx context.Context, fn func(tx RequestTx) error) error
}

// RequestFilter holds optional criteria for listing requests.
type RequestFilter struct {
	Kind        *Kind
	Status      *Status
	RequesterID string
	Limit       int
	Offset      int
}

// SubjectRepository defines the persistence contract for subjects.
type SubjectRepository interface {
	Create(ctx context.Context, s Subject) error
	GetByID(ctx context.Context, id string) (Subject, error)
	List(ctx context.Context, filter SubjectFilter) ([]Subject, error)
}

// SubjectFilter holds optional criteria for listing subjects.
type SubjectFilter struct {
	Kind   *SubjectKind
	Limit  int
	Offset int
}

// TransitionValidator checks that an event is a declared edge for the
// kind's current status and resolves the destination status.
type TransitionValidator interface {
	Apply(ctx context.Context, kind Kind, current Status, event Event) (Status, error)
}

// Notification is one pending delivery: a template applied for one
// recipient, queued after a transition has committed.
type Notification struct {
	RequestID  string
	Kind       Kind
	ToStatus   Status
	Recipient  string
	TemplateID string
	Context    map[string]string
}

// NotificationQueue hands notifications to the asynchronous delivery
// pipeline. Enqueue failures are diagnostics for the caller, never a
// reason to unwind an applied transition.
type NotificationQueue interface {
	Enqueue(ctx context.Context, n Notification) error
}
