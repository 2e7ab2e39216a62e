package app_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wargadesa/desaflow/internal/adapter/fsm"
	"github.com/wargadesa/desaflow/internal/app"
	"github.com/wargadesa/desaflow/internal/domain"
)

// --- Mocks ---

// mockRequestRepo is a map-backed domain.RequestRepository. Transact takes
// the repo lock for its whole duration and rolls the maps back when fn
// errors, mimicking a serialized database transaction.
type mockRequestRepo struct {
	mu       sync.Mutex
	requests map[string]domain.Request
	audit    map[string][]domain.AuditEntry
}

func newMockRequestRepo() *mockRequestRepo {
	return &mockRequestRepo{
		requests: make(map[string]domain.Request),
		audit:    make(map[string][]domain.AuditEntry),
	}
}

func (m *mockRequestRepo) GetByID(_ context.Context, id string) (domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(id)
}

func (m *mockRequestRepo) getLocked(id string) (domain.Request, error) {
	r, ok := m.requests[id]
	if !ok {
		return domain.Request{}, domain.ErrRequestNotFound
	}
	return r, nil
}

func (m *mockRequestRepo) SubjectHeld(_ context.Context, subjectID, excludeID string, held domain.Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subjectHeldLocked(subjectID, excludeID, held), nil
}

func (m *mockRequestRepo) subjectHeldLocked(subjectID, excludeID string, held domain.Status) bool {
	for _, r := range m.requests {
		if r.SubjectID == subjectID && r.ID != excludeID && r.Status == held {
			return true
		}
	}
	return false
}

func (m *mockRequestRepo) CountBySubject(_ context.Context, kind domain.Kind, subjectID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countLocked(kind, subjectID), nil
}

func (m *mockRequestRepo) countLocked(kind domain.Kind, subjectID string) int {
	n := 0
	for _, r := range m.requests {
		if r.Kind == kind && r.SubjectID == subjectID {
			n++
		}
	}
	return n
}

func (m *mockRequestRepo) List(_ context.Context, filter domain.RequestFilter) ([]domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Request
	for _, r := range m.requests {
		if filter.Kind != nil && r.Kind != *filter.Kind {
			continue
		}
		if filter.Status != nil && r.Status != *filter.Status {
			continue
		}
		if filter.RequesterID != "" && r.RequesterID != filter.RequesterID {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *mockRequestRepo) History(_ context.Context, requestID string) ([]domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AuditEntry(nil), m.audit[requestID]...), nil
}

func (m *mockRequestRepo) Transact(_ context.Context, fn func(tx domain.RequestTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	backup := make(map[string]domain.Request, len(m.requests))
	for k, v := range m.requests {
		backup[k] = v
	}
	auditBackup := make(map[string][]domain.AuditEntry, len(m.audit))
	for k, v := range m.audit {
		auditBackup[k] = v
	}

	if err := fn(&mockTx{repo: m}); err != nil {
		m.requests = backup
		m.audit = auditBackup
		return err
	}
	return nil
}

type mockTx struct {
	repo *mockRequestRepo
}

func (t *mockTx) GetByID(_ context.Context, id string) (domain.Request, error) {
	return t.repo.getLocked(id)
}

func (t *mockTx) SubjectHeld(_ context.Context, subjectID, excludeID string, held domain.Status) (bool, error) {
	return t.repo.subjectHeldLocked(subjectID, excludeID, held), nil
}

func (t *mockTx) CountBySubject(_ context.Context, kind domain.Kind, subjectID string) (int, error) {
	return t.repo.countLocked(kind, subjectID), nil
}

func (t *mockTx) Create(_ context.Context, r domain.Request) error {
	t.repo.requests[r.ID] = r
	return nil
}

func (t *mockTx) Update(_ context.Context, r domain.Request) error {
	if _, ok := t.repo.requests[r.ID]; !ok {
		return domain.ErrRequestNotFound
	}
	t.repo.requests[r.ID] = r
	return nil
}

func (t *mockTx) AppendAudit(_ context.Context, e domain.AuditEntry) error {
	t.repo.audit[e.RequestID] = append(t.repo.audit[e.RequestID], e)
	return nil
}

type mockSubjectRepo struct {
	mu       sync.Mutex
	subjects map[string]domain.Subject
}

func newMockSubjectRepo() *mockSubjectRepo {
	return &mockSubjectRepo{subjects: make(map[string]domain.Subject)}
}

func (m *mockSubjectRepo) Create(_ context.Context, s domain.Subject) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects[s.ID] = s
	return nil
}

func (m *mockSubjectRepo) GetByID(_ context.Context, id string) (domain.Subject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subjects[id]
	if !ok {
		return domain.Subject{}, domain.ErrSubjectNotFound
	}
	return s, nil
}

func (m *mockSubjectRepo) List(_ context.Context, _ domain.SubjectFilter) ([]domain.Subject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Subject, 0, len(m.subjects))
	for _, s := range m.subjects {
		out = append(out, s)
	}
	return out, nil
}

type mockQueue struct {
	mu            sync.Mutex
	notifications []domain.Notification
	failFor       map[string]error
}

func (m *mockQueue) Enqueue(_ context.Context, n domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failFor[n.Recipient]; ok {
		return err
	}
	m.notifications = append(m.notifications, n)
	return nil
}

func (m *mockQueue) sent() []domain.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Notification(nil), m.notifications...)
}

// --- Fixture ---

type fixture struct {
	svc      *app.RequestService
	requests *mockRequestRepo
	subjects *mockSubjectRepo
	queue    *mockQueue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	requests := newMockRequestRepo()
	subjects := newMockSubjectRepo()
	queue := &mockQueue{}
	policy := app.NewNotificationPolicy(queue, slog.Default(), []string{"admin-1"})

	return &fixture{
		svc:      app.NewRequestService(requests, subjects, fsm.New(), policy),
		requests: requests,
		subjects: subjects,
		queue:    queue,
	}
}

func (f *fixture) asset(t *testing.T, name string) domain.Subject {
	t.Helper()
	s, err := f.svc.CreateSubject(context.Background(), domain.SubjectAsset, name, nil)
	require.NoError(t, err)
	return s
}

func (f *fixture) program(t *testing.T, name string, quota int) domain.Subject {
	t.Helper()
	s, err := f.svc.CreateSubject(context.Background(), domain.SubjectAidProgram, name, &quota)
	require.NoError(t, err)
	return s
}

func (f *fixture) loan(t *testing.T, assetID, requesterID string) domain.Request {
	t.Helper()
	req, err := f.svc.CreateRequest(context.Background(), app.CreateRequestInput{
		Kind:        domain.KindAssetLoan,
		SubjectID:   assetID,
		RequesterID: requesterID,
	})
	require.NoError(t, err)
	return req
}

var admin = domain.Actor{ID: "admin-1", Role: domain.RoleAdmin}

// --- Tests ---

func TestCreateRequest_AssetLoan(t *testing.T) {
	f := newFixture(t)
	asset := f.asset(t, "village tent")

	req := f.loan(t, asset.ID, "citizen-1")

	assert.Equal(t, domain.StatusWaitingApproval, req.Status)
	assert.NotEmpty(t, req.ID)
	assert.Nil(t, req.DecidedAt)

	// The admin group hears about the new request.
	sent := f.queue.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "loan.requested", sent[0].TemplateID)
	assert.Equal(t, "admin-1", sent[0].Recipient)
}

func TestCreateRequest_SubjectKindMismatch(t *testing.T) {
	f := newFixture(t)
	program := f.program(t, "rice aid", 10)

	_, err := f.svc.CreateRequest(context.Background(), app.CreateRequestInput{
		Kind:        domain.KindAssetLoan,
		SubjectID:   program.ID,
		RequesterID: "citizen-1",
	})

	var valErr *domain.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "subject_id", valErr.Field)
}

func TestCreateRequest_PastDueDate(t *testing.T) {
	f := newFixture(t)
	asset := f.asset(t, "chairs")
	past := time.Now().UTC().Add(-24 * time.Hour)

	_, err := f.svc.CreateRequest(context.Background(), app.CreateRequestInput{
		Kind:        domain.KindAssetLoan,
		SubjectID:   asset.ID,
		RequesterID: "citizen-1",
		DueAt:       &past,
	})

	var valErr *domain.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "due_at", valErr.Field)
}

func TestCreateRequest_QuotaExhausted(t *testing.T) {
	f := newFixture(t)
	program := f.program(t, "cash aid", 1)

	_, err := f.svc.CreateRequest(context.Background(), app.CreateRequestInput{
		Kind:        domain.KindAidRecipient,
		SubjectID:   program.ID,
		RequesterID: "family-1",
	})
	require.NoError(t, err)

	_, err = f.svc.CreateRequest(context.Background(), app.CreateRequestInput{
		Kind:        domain.KindAidRecipient,
		SubjectID:   program.ID,
		RequesterID: "family-2",
	})

	var unavailErr *domain.ResourceUnavailableError
	require.ErrorAs(t, err, &unavailErr)
	assert.Equal(t, program.ID, unavailErr.SubjectID)
}

func TestTransition_ApproveStampsAndNotifies(t *testing.T) {
	f := newFixture(t)
	asset := f.asset(t, "sound system")
	req := f.loan(t, asset.ID, "citizen-1")

	got, err := f.svc.Transition(context.Background(), req.ID, domain.StatusOnLoan, admin, "for the ceremony")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusOnLoan, got.Status)
	require.NotNil(t, got.DecidedAt)
	assert.Equal(t, "admin-1", got.DecidedBy)
	require.NotNil(t, got.EffectiveAt)
	assert.Nil(t, got.ClosedAt)

	// Creation notice to the admin, approval notice to the requester.
	sent := f.queue.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "loan.approved", sent[1].TemplateID)
	assert.Equal(t, "citizen-1", sent[1].Recipient)

	// Audit trail records the applied edge.
	history, err := f.svc.History(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.StatusWaitingApproval, history[0].FromStatus)
	assert.Equal(t, domain.StatusOnLoan, history[0].ToStatus)
	assert.Equal(t, "admin-1", history[0].ActorID)
}

func TestTransition_ReturnClosesLoan(t *testing.T) {
	f := newFixture(t)
	asset := f.asset(t, "generator")
	req := f.loan(t, asset.ID, "citizen-1")

	_, err := f.svc.Transition(context.Background(), req.ID, domain.StatusOnLoan, admin, "")
	require.NoError(t, err)

	got, err := f.svc.Transition(context.Background(), req.ID, domain.StatusReturned, domain.Actor{ID: "staff-1", Role: domain.RoleStaff}, "")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusReturned, got.Status)
	require.NotNil(t, got.ClosedAt)
	// Decision pair was stamped at approval and stays untouched.
	assert.Equal(t, "admin-1", got.DecidedBy)
}

func TestTransition_InvalidTarget(t *testing.T) {
	f := newFixture(t)
	asset := f.asset(t, "tent")
	req := f.loan(t, asset.ID, "citizen-1")

	_, err := f.svc.Transition(context.Background(), req.ID, domain.StatusReturned, admin, "")

	var trErr *domain.InvalidTransitionError
	require.ErrorAs(t, err, &trErr)

	// Persisted status is untouched.
	stored, err := f.svc.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaitingApproval, stored.Status)
}

func TestTransition_UnauthorizedRole(t *testing.T) {
	f := newFixture(t)
	asset := f.asset(t, "tent")
	req := f.loan(t, asset.ID, "citizen-1")

	_, err := f.svc.Transition(context.Background(), req.ID, domain.StatusOnLoan, domain.Actor{ID: "citizen-1", Role: domain.RoleCitizen}, "")

	var authErr *domain.UnauthorizedTransitionError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, domain.RoleCitizen, authErr.Role)

	stored, _ := f.svc.GetRequest(context.Background(), req.ID)
	assert.Equal(t, domain.StatusWaitingApproval, stored.Status)
}

func TestTransition_SubjectAlreadyHeld(t *testing.T) {
	f := newFixture(t)
	asset := f.asset(t, "projector")
	first := f.loan(t, asset.ID, "citizen-1")
	second := f.loan(t, asset.ID, "citizen-2")

	_, err := f.svc.Transition(context.Background(), first.ID, domain.StatusOnLoan, admin, "")
	require.NoError(t, err)

	_, err = f.svc.Transition(context.Background(), second.ID, domain.StatusOnLoan, admin, "")

	var unavailErr *domain.ResourceUnavailableError
	require.ErrorAs(t, err, &unavailErr)
	assert.Equal(t, asset.ID, unavailErr.SubjectID)

	stored, _ := f.svc.GetRequest(context.Background(), second.ID)
	assert.Equal(t, domain.StatusWaitingApproval, stored.Status)
}

func TestTransition_ReleasedAssetCanBeLoanedAgain(t *testing.T) {
	f := newFixture(t)
	asset := f.asset(t, "projector")
	first := f.loan(t, asset.ID, "citizen-1")
	second := f.loan(t, asset.ID, "citizen-2")

	_, err := f.svc.Transition(context.Background(), first.ID, domain.StatusOnLoan, admin, "")
	require.NoError(t, err)
	_, err = f.svc.Transition(context.Background(), first.ID, domain.StatusReturned, admin, "")
	require.NoError(t, err)

	got, err := f.svc.Transition(context.Background(), second.ID, domain.StatusOnLoan, admin, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOnLoan, got.Status)
}

func TestTransition_SameStatusIsNoOp(t *testing.T) {
	f := newFixture(t)
	asset := f.asset(t, "tent")
	req := f.loan(t, asset.ID, "citizen-1")

	got, err := f.svc.Transition(context.Background(), req.ID, domain.StatusWaitingApproval, admin, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaitingApproval, got.Status)
	assert.Nil(t, got.DecidedAt)

	// No audit entry and no extra notification for a no-op.
	history, _ := f.svc.History(context.Background(), req.ID)
	assert.Empty(t, history)
	assert.Len(t, f.queue.sent(), 1)
}

func TestTransition_TerminalRejectsOtherTargets(t *testing.T) {
	f := newFixture(t)
	asset := f.asset(t, "tent")
	req := f.loan(t, asset.ID, "citizen-1")

	_, err := f.svc.Transition(context.Background(), req.ID, domain.StatusRejected, admin, "asset under repair")
	require.NoError(t, err)

	_, err = f.svc.Transition(context.Background(), req.ID, domain.StatusOnLoan, admin, "")

	var finalErr *domain.AlreadyFinalizedError
	require.ErrorAs(t, err, &finalErr)
	assert.Equal(t, domain.StatusRejected, finalErr.Status)
}

func TestMarkCollected_Scenario(t *testing.T) {
	f := newFixture(t)
	program := f.program(t, "rice aid", 5)

	req, err := f.svc.CreateRequest(context.Background(), app.CreateRequestInput{
		Kind:        domain.KindAidRecipient,
		SubjectID:   program.ID,
		RequesterID: "family-1",
	})
	require.NoError(t, err)

	staff := domain.Actor{ID: "staff-1", Role: domain.RoleStaff}
	got, err := f.svc.MarkCollected(context.Background(), req.ID, staff, "picked up at office")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCollected, got.Status)
	require.NotNil(t, got.EffectiveAt)
	assert.Equal(t, "staff-1", got.DecidedBy)

	// Exactly one collection notification on top of the registration one.
	sent := f.queue.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "aid.collected", sent[1].TemplateID)

	// Calling it again is an idempotent no-op, not AlreadyFinalized.
	again, err := f.svc.MarkCollected(context.Background(), req.ID, staff, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCollected, again.Status)
	assert.Len(t, f.queue.sent(), 2)
}

func TestTransition_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Transition(context.Background(), "nonexistent", domain.StatusOnLoan, admin, "")
	assert.True(t, errors.Is(err, domain.ErrRequestNotFound))
}

func TestTransition_ConcurrentApprovalsDoNotDoubleBook(t *testing.T) {
	f := newFixture(t)
	asset := f.asset(t, "village truck")
	first := f.loan(t, asset.ID, "citizen-1")
	second := f.loan(t, asset.ID, "citizen-2")

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for _, id := range []string{first.ID, second.ID} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.svc.Transition(context.Background(), id, domain.StatusOnLoan, admin, "")
			results <- err
		}(id)
	}
	wg.Wait()
	close(results)

	var ok, unavailable int
	for err := range results {
		switch {
		case err == nil:
			ok++
		default:
			var unavailErr *domain.ResourceUnavailableError
			require.ErrorAs(t, err, &unavailErr)
			unavailable++
		}
	}

	assert.Equal(t, 1, ok, "exactly one approval must win")
	assert.Equal(t, 1, unavailable, "the loser must see ResourceUnavailableError")
}

func TestListRequests_OverdueFilter(t *testing.T) {
	f := newFixture(t)
	asset := f.asset(t, "tent")
	other := f.asset(t, "chairs")

	due := time.Now().UTC().Add(time.Second)
	overdueReq, err := f.svc.CreateRequest(context.Background(), app.CreateRequestInput{
		Kind:        domain.KindAssetLoan,
		SubjectID:   asset.ID,
		RequesterID: "citizen-1",
		DueAt:       &due,
	})
	require.NoError(t, err)
	_, err = f.svc.Transition(context.Background(), overdueReq.ID, domain.StatusOnLoan, admin, "")
	require.NoError(t, err)

	fresh := f.loan(t, other.ID, "citizen-2")

	// Let the first loan's due date pass.
	time.Sleep(1100 * time.Millisecond)

	overdue := true
	got, err := f.svc.ListRequests(context.Background(), domain.RequestFilter{}, &overdue)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, overdueReq.ID, got[0].ID)

	notOverdue := false
	got, err = f.svc.ListRequests(context.Background(), domain.RequestFilter{}, &notOverdue)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, fresh.ID, got[0].ID)
}

func TestAvailability(t *testing.T) {
	f := newFixture(t)
	asset := f.asset(t, "tent")
	program := f.program(t, "rice aid", 2)

	_, avail, err := f.svc.Availability(context.Background(), asset.ID)
	require.NoError(t, err)
	assert.False(t, avail.Held)

	req := f.loan(t, asset.ID, "citizen-1")
	_, err = f.svc.Transition(context.Background(), req.ID, domain.StatusOnLoan, admin, "")
	require.NoError(t, err)

	_, avail, err = f.svc.Availability(context.Background(), asset.ID)
	require.NoError(t, err)
	assert.True(t, avail.Held)

	_, err = f.svc.CreateRequest(context.Background(), app.CreateRequestInput{
		Kind:        domain.KindAidRecipient,
		SubjectID:   program.ID,
		RequesterID: "family-1",
	})
	require.NoError(t, err)

	_, avail, err = f.svc.Availability(context.Background(), program.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Spots(1), avail.Spots)
}
