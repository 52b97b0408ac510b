package appointment

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medibook/clinic-scheduling/internal/availability"
	"github.com/medibook/clinic-scheduling/internal/identity"
	"github.com/medibook/clinic-scheduling/internal/payment"
	redisclient "github.com/medibook/clinic-scheduling/internal/redis"
)

// memRepo is an in-memory Repository that mirrors the Postgres semantics:
// CreatePending enforces the active-slot uniqueness atomically, the update
// methods are compare-and-swap on the stated precondition.
type memRepo struct {
	mu       sync.Mutex
	patients map[uuid.UUID]*Patient
	appts    map[uuid.UUID]*Appointment
	events   []string

	// beforeCAS, when set, runs just before each compare-and-swap so tests
	// can interleave a concurrent mutation.
	beforeCAS func(r *memRepo)
}

func newMemRepo() *memRepo {
	return &memRepo{
		patients: make(map[uuid.UUID]*Patient),
		appts:    make(map[uuid.UUID]*Appointment),
	}
}

func (r *memRepo) addPatient(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patients[id] = &Patient{ID: id, Name: "test patient", CreatedAt: time.Now(), UpdatedAt: time.Now()}
}

func (r *memRepo) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memRepo) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memRepo) HasActiveSlot(ctx context.Context, doctorID uuid.UUID, date string, w availability.TimeWindow) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeSlotLocked(doctorID, date, w), nil
}

func (r *memRepo) activeSlotLocked(doctorID uuid.UUID, date string, w availability.TimeWindow) bool {
	for _, a := range r.appts {
		if a.DoctorID == doctorID && a.Date == date && a.Window == w && a.Status.IsActive() {
			return true
		}
	}
	return false
}

func (r *memRepo) CreatePending(ctx context.Context, patientID, doctorID uuid.UUID, date string, w availability.TimeWindow, ct ConsultationType) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.activeSlotLocked(doctorID, date, w) {
		return nil, ErrSlotTaken
	}
	a := &Appointment{
		ID:               uuid.New(),
		PatientID:        patientID,
		DoctorID:         doctorID,
		Date:             date,
		Window:           w,
		Status:           StatusPending,
		PaymentStatus:    PaymentPending,
		ConsultationType: ct,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
	r.appts[a.ID] = a
	cp := *a
	return &cp, nil
}

func (r *memRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	if r.beforeCAS != nil {
		r.beforeCAS(r)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (r *memRepo) CancelAppointment(ctx context.Context, id uuid.UUID, from Status, upd CancelUpdate) (*Appointment, error) {
	if r.beforeCAS != nil {
		r.beforeCAS(r)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = StatusCancelled
	cancelledBy := upd.CancelledBy
	a.CancelledBy = &cancelledBy
	a.CancellationReason = upd.Reason
	if a.PaymentStatus == PaymentPaid {
		a.PaymentStatus = PaymentRefundPending
	}
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (r *memRepo) CompleteAppointment(ctx context.Context, id uuid.UUID, from Status, prescriptionRef *string) (*Appointment, error) {
	if r.beforeCAS != nil {
		r.beforeCAS(r)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = StatusCompleted
	if prescriptionRef != nil {
		a.PrescriptionRef = prescriptionRef
	}
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (r *memRepo) UpdatePaymentStatus(ctx context.Context, id uuid.UUID, from, to PaymentStatus) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok || a.PaymentStatus != from {
		return nil, ErrAppointmentNotFound
	}
	a.PaymentStatus = to
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (r *memRepo) List(ctx context.Context, scope ListScope) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appts {
		if scope.PatientID != nil && a.PatientID != *scope.PatientID {
			continue
		}
		if scope.DoctorID != nil && a.DoctorID != *scope.DoctorID {
			continue
		}
		if scope.Filters.Date != nil && a.Date != *scope.Filters.Date {
			continue
		}
		if scope.Filters.Status != nil && a.Status != *scope.Filters.Status {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date > out[j].Date
		}
		return out[i].Window.Start > out[j].Window.Start
	})
	return out, nil
}

func (r *memRepo) FindUnsettledRefunds(ctx context.Context, limit int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appts {
		if a.Status == StatusCancelled &&
			(a.PaymentStatus == PaymentRefundPending || a.PaymentStatus == PaymentRefundFailed) {
			out = append(out, *a)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memRepo) InsertEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
	return nil
}

// stubAvailRepo serves one doctor's availability.
type stubAvailRepo struct {
	doctorID uuid.UUID
	av       *availability.DoctorAvailability
}

func (s *stubAvailRepo) GetByDoctorID(ctx context.Context, doctorID uuid.UUID) (*availability.DoctorAvailability, error) {
	if doctorID != s.doctorID {
		return nil, availability.ErrDoctorNotFound
	}
	cp := *s.av
	return &cp, nil
}

func (s *stubAvailRepo) ReplaceSchedule(ctx context.Context, doctorID uuid.UUID, days []availability.Weekday, windows []availability.TimeWindow) error {
	return nil
}
func (s *stubAvailRepo) SetOpen(ctx context.Context, doctorID uuid.UUID, open bool) error { return nil }
func (s *stubAvailRepo) AddLeave(ctx context.Context, doctorID uuid.UUID, date string) error {
	return nil
}
func (s *stubAvailRepo) RemoveLeave(ctx context.Context, doctorID uuid.UUID, date string) error {
	return nil
}
func (s *stubAvailRepo) CountActiveOnDate(ctx context.Context, doctorID uuid.UUID, date string) (int, error) {
	return 0, nil
}

// passLocker serializes per key with real mutexes, like the redis lock does
// across processes.
type passLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newPassLocker() *passLocker {
	return &passLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *passLocker) WithSlotLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}

// busyLocker always reports contention.
type busyLocker struct{}

func (busyLocker) WithSlotLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

type stubProvider struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

func (p *stubProvider) Refund(ctx context.Context, req payment.RefundRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.fail {
		return payment.ErrProviderUnavailable
	}
	return nil
}

type fixture struct {
	svc      *Service
	repo     *memRepo
	provider *stubProvider
	doctorID uuid.UUID
	patient  identity.Actor
	doctor   identity.Actor
	staff    identity.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	doctorID := uuid.New()
	patientID := uuid.New()

	repo := newMemRepo()
	repo.addPatient(patientID)

	avRepo := &stubAvailRepo{
		doctorID: doctorID,
		av: &availability.DoctorAvailability{
			DoctorID:    doctorID,
			IsAvailable: true,
			WorkingDays: []availability.Weekday{availability.Monday, availability.Wednesday},
			TimeWindows: []availability.TimeWindow{{Start: "09:00", End: "12:00"}},
		},
	}

	provider := &stubProvider{}
	svc := NewService(repo, avRepo, newPassLocker(), provider, nil)

	return &fixture{
		svc:      svc,
		repo:     repo,
		provider: provider,
		doctorID: doctorID,
		patient:  identity.Actor{ID: patientID, Role: identity.RolePatient, PatientProfileID: &patientID},
		doctor:   identity.Actor{ID: uuid.New(), Role: identity.RoleDoctor, DoctorProfileID: &doctorID},
		staff:    identity.Actor{ID: uuid.New(), Role: identity.RoleReceptionist},
	}
}

var mondayWindow = availability.TimeWindow{Start: "09:00", End: "09:30"}

func (f *fixture) book(t *testing.T) *Appointment {
	t.Helper()
	appt, err := f.svc.Book(context.Background(), f.patient, BookRequest{
		DoctorID: f.doctorID,
		Date:     "2024-06-03",
		Window:   mondayWindow,
	})
	require.NoError(t, err)
	return appt
}

func TestBookHappyPath(t *testing.T) {
	f := newFixture(t)

	appt := f.book(t)
	assert.Equal(t, StatusPending, appt.Status)
	assert.Equal(t, PaymentPending, appt.PaymentStatus)
	assert.Equal(t, ConsultationInPerson, appt.ConsultationType)
	assert.Equal(t, "2024-06-03", appt.Date)
	assert.Contains(t, f.repo.events, EventAppointmentBooked)
}

func TestBookNonWorkingDay(t *testing.T) {
	f := newFixture(t)

	// 2024-06-04 is a Tuesday.
	_, err := f.svc.Book(context.Background(), f.patient, BookRequest{
		DoctorID: f.doctorID,
		Date:     "2024-06-04",
		Window:   mondayWindow,
	})
	assert.ErrorIs(t, err, ErrNonWorkingDay)
}

func TestBookRequiresPatientRole(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Book(context.Background(), f.staff, BookRequest{
		DoctorID: f.doctorID,
		Date:     "2024-06-03",
		Window:   mondayWindow,
	})
	assert.ErrorIs(t, err, identity.ErrUnauthorized)
}

func TestBookUnknownDoctor(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Book(context.Background(), f.patient, BookRequest{
		DoctorID: uuid.New(),
		Date:     "2024-06-03",
		Window:   mondayWindow,
	})
	assert.ErrorIs(t, err, availability.ErrDoctorNotFound)
}

func TestBookSlotConflict(t *testing.T) {
	f := newFixture(t)
	f.book(t)

	otherPatient := uuid.New()
	f.repo.addPatient(otherPatient)
	actor := identity.Actor{ID: otherPatient, Role: identity.RolePatient, PatientProfileID: &otherPatient}

	_, err := f.svc.Book(context.Background(), actor, BookRequest{
		DoctorID: f.doctorID,
		Date:     "2024-06-03",
		Window:   mondayWindow,
	})
	assert.ErrorIs(t, err, ErrSlotTaken)
}

// TestBookRace drives many concurrent bookings at one tuple and expects
// exactly one winner.
func TestBookRace(t *testing.T) {
	f := newFixture(t)

	const n = 16
	var wg sync.WaitGroup
	results := make([]error, n)

	for i := 0; i < n; i++ {
		pid := uuid.New()
		f.repo.addPatient(pid)
		actor := identity.Actor{ID: pid, Role: identity.RolePatient, PatientProfileID: &pid}

		wg.Add(1)
		go func(i int, actor identity.Actor) {
			defer wg.Done()
			_, err := f.svc.Book(context.Background(), actor, BookRequest{
				DoctorID: f.doctorID,
				Date:     "2024-06-03",
				Window:   mondayWindow,
			})
			results[i] = err
		}(i, actor)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrSlotTaken):
			conflicts++
		default:
			t.Fatalf("unexpected booking error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, conflicts)
}

func TestBookLockContention(t *testing.T) {
	f := newFixture(t)
	f.svc.locker = busyLocker{}

	_, err := f.svc.Book(context.Background(), f.patient, BookRequest{
		DoctorID: f.doctorID,
		Date:     "2024-06-03",
		Window:   mondayWindow,
	})
	assert.ErrorIs(t, err, ErrSlotBusy)
}

// TestRebookAfterCancel: cancelling frees the exact tuple for a new booking.
func TestRebookAfterCancel(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t)

	_, err := f.svc.Cancel(context.Background(), f.patient, appt.ID, nil)
	require.NoError(t, err)

	again := f.book(t)
	assert.NotEqual(t, appt.ID, again.ID)
	assert.Equal(t, StatusPending, again.Status)
}

func TestConfirmByDoctor(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t)

	updated, err := f.svc.Confirm(context.Background(), f.doctor, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, updated.Status)
	// Confirming never touches the payment axis.
	assert.Equal(t, PaymentPending, updated.PaymentStatus)
}

func TestConfirmByPatientIsIllegal(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t)

	_, err := f.svc.Confirm(context.Background(), f.patient, appt.ID)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	stored, getErr := f.repo.GetAppointmentByID(context.Background(), appt.ID)
	require.NoError(t, getErr)
	assert.Equal(t, StatusPending, stored.Status, "rejected transition must not mutate state")
}

func TestCancelPaidAppointmentRefunds(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t)

	_, err := f.svc.Confirm(context.Background(), f.doctor, appt.ID)
	require.NoError(t, err)
	_, err = f.svc.MarkPaid(context.Background(), appt.ID)
	require.NoError(t, err)

	reason := "schedule conflict"
	updated, err := f.svc.Cancel(context.Background(), f.patient, appt.ID, &reason)
	require.NoError(t, err)

	assert.Equal(t, StatusCancelled, updated.Status)
	require.NotNil(t, updated.CancelledBy)
	assert.Equal(t, f.patient.ID, *updated.CancelledBy)
	require.NotNil(t, updated.CancellationReason)
	assert.Equal(t, "schedule conflict", *updated.CancellationReason)
	assert.Equal(t, PaymentRefunded, updated.PaymentStatus)
	assert.Equal(t, 1, f.provider.calls)
}

// TestCancelPaidWithFailingProvider: the cancellation still commits and the
// payment status leaves paid, landing in refund_failed for the worker.
func TestCancelPaidWithFailingProvider(t *testing.T) {
	f := newFixture(t)
	f.provider.fail = true
	appt := f.book(t)

	_, err := f.svc.Confirm(context.Background(), f.doctor, appt.ID)
	require.NoError(t, err)
	_, err = f.svc.MarkPaid(context.Background(), appt.ID)
	require.NoError(t, err)

	updated, err := f.svc.Cancel(context.Background(), f.patient, appt.ID, nil)
	require.NoError(t, err, "provider failure must not fail the cancellation")

	assert.Equal(t, StatusCancelled, updated.Status)
	assert.Equal(t, PaymentRefundFailed, updated.PaymentStatus)
	assert.NotEqual(t, PaymentPaid, updated.PaymentStatus)
}

func TestCancelUnpaidDoesNotRefund(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t)

	updated, err := f.svc.Cancel(context.Background(), f.patient, appt.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, PaymentPending, updated.PaymentStatus)
	assert.Equal(t, 0, f.provider.calls)
}

func TestCompleteByAssignedDoctor(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t)

	_, err := f.svc.Confirm(context.Background(), f.doctor, appt.ID)
	require.NoError(t, err)

	ref := "rx-2024-0611"
	updated, err := f.svc.Complete(context.Background(), f.doctor, appt.ID, &ref)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, updated.Status)
	require.NotNil(t, updated.PrescriptionRef)
	assert.Equal(t, ref, *updated.PrescriptionRef)
}

func TestCompleteByOtherDoctorUnauthorized(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t)

	_, err := f.svc.Confirm(context.Background(), f.doctor, appt.ID)
	require.NoError(t, err)

	otherID := uuid.New()
	other := identity.Actor{ID: uuid.New(), Role: identity.RoleDoctor, DoctorProfileID: &otherID}
	_, err = f.svc.Complete(context.Background(), other, appt.ID, nil)
	assert.ErrorIs(t, err, identity.ErrUnauthorized)

	stored, getErr := f.repo.GetAppointmentByID(context.Background(), appt.ID)
	require.NoError(t, getErr)
	assert.Equal(t, StatusConfirmed, stored.Status)
}

// TestTransitionRaceSeesStaleState: a confirm losing the race to a cancel
// gets a stale-state error, not a silent overwrite.
func TestTransitionRaceSeesStaleState(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t)

	cancelled := false
	f.repo.beforeCAS = func(r *memRepo) {
		if cancelled {
			return
		}
		cancelled = true
		r.mu.Lock()
		a := r.appts[appt.ID]
		a.Status = StatusCancelled
		r.mu.Unlock()
	}

	_, err := f.svc.Confirm(context.Background(), f.doctor, appt.ID)
	assert.ErrorIs(t, err, ErrStaleState)

	stored, getErr := f.repo.GetAppointmentByID(context.Background(), appt.ID)
	require.NoError(t, getErr)
	assert.Equal(t, StatusCancelled, stored.Status)
}

func TestMarkPaidTwice(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t)

	_, err := f.svc.MarkPaid(context.Background(), appt.ID)
	require.NoError(t, err)

	_, err = f.svc.MarkPaid(context.Background(), appt.ID)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestProcessUnsettledRefunds(t *testing.T) {
	f := newFixture(t)
	f.provider.fail = true
	appt := f.book(t)

	_, err := f.svc.Confirm(context.Background(), f.doctor, appt.ID)
	require.NoError(t, err)
	_, err = f.svc.MarkPaid(context.Background(), appt.ID)
	require.NoError(t, err)
	_, err = f.svc.Cancel(context.Background(), f.patient, appt.ID, nil)
	require.NoError(t, err)

	// The provider comes back; the worker settles the refund.
	f.provider.fail = false
	require.NoError(t, f.svc.ProcessUnsettledRefunds(context.Background(), 10))

	stored, err := f.repo.GetAppointmentByID(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentRefunded, stored.PaymentStatus)
}

func TestListScoping(t *testing.T) {
	f := newFixture(t)
	mine := f.book(t)

	// A second patient books the next slot with the same doctor.
	otherID := uuid.New()
	f.repo.addPatient(otherID)
	other := identity.Actor{ID: otherID, Role: identity.RolePatient, PatientProfileID: &otherID}
	theirs, err := f.svc.Book(context.Background(), other, BookRequest{
		DoctorID: f.doctorID,
		Date:     "2024-06-03",
		Window:   availability.TimeWindow{Start: "09:30", End: "10:00"},
	})
	require.NoError(t, err)

	t.Run("patient sees only their own", func(t *testing.T) {
		appts, err := f.svc.List(context.Background(), f.patient, Filters{})
		require.NoError(t, err)
		require.Len(t, appts, 1)
		assert.Equal(t, mine.ID, appts[0].ID)
	})

	t.Run("doctor sees all of their own", func(t *testing.T) {
		appts, err := f.svc.List(context.Background(), f.doctor, Filters{})
		require.NoError(t, err)
		assert.Len(t, appts, 2)
	})

	t.Run("receptionist sees everything", func(t *testing.T) {
		appts, err := f.svc.List(context.Background(), f.staff, Filters{})
		require.NoError(t, err)
		assert.Len(t, appts, 2)
	})

	t.Run("ordering is date desc then start desc", func(t *testing.T) {
		appts, err := f.svc.List(context.Background(), f.staff, Filters{})
		require.NoError(t, err)
		require.Len(t, appts, 2)
		assert.Equal(t, theirs.ID, appts[0].ID, "later window sorts first")
	})

	t.Run("caller filters are ANDed onto the role scope", func(t *testing.T) {
		status := StatusCancelled
		appts, err := f.svc.List(context.Background(), f.patient, Filters{Status: &status})
		require.NoError(t, err)
		assert.Empty(t, appts)
	})

	t.Run("patient without linked profile", func(t *testing.T) {
		actor := identity.Actor{ID: uuid.New(), Role: identity.RolePatient}
		_, err := f.svc.List(context.Background(), actor, Filters{})
		assert.ErrorIs(t, err, identity.ErrProfileNotFound)
	})
}

func TestGetVisibility(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t)

	t.Run("owner reads it", func(t *testing.T) {
		got, err := f.svc.Get(context.Background(), f.patient, appt.ID)
		require.NoError(t, err)
		assert.Equal(t, appt.ID, got.ID)
	})

	t.Run("stranger patient does not", func(t *testing.T) {
		pid := uuid.New()
		actor := identity.Actor{ID: pid, Role: identity.RolePatient, PatientProfileID: &pid}
		_, err := f.svc.Get(context.Background(), actor, appt.ID)
		assert.ErrorIs(t, err, identity.ErrUnauthorized)
	})

	t.Run("staff reads anything", func(t *testing.T) {
		_, err := f.svc.Get(context.Background(), f.staff, appt.ID)
		assert.NoError(t, err)
	})
}
