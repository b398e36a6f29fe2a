package planning

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"autoplan/internal/catalog"
	"autoplan/internal/distance"
	"autoplan/internal/model"
	"autoplan/internal/store"
)

const date = "2025-03-03" // a Monday

type fakeSolver struct {
	mu        sync.Mutex
	submitted []model.OptimizeRequest
	results   map[string]model.OptimizeResult
	err       error
}

func (f *fakeSolver) Submit(_ context.Context, req model.OptimizeRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.submitted = append(f.submitted, req)
	return nil
}

func (f *fakeSolver) Result(_ context.Context, id string) (model.OptimizeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.results[id]
	if !ok {
		return model.OptimizeResult{}, errors.New("not found")
	}
	return r, nil
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type brokenCommitter struct{}

// contendedCommitter lets other requests run while routes are being committed, then fails.
type contendedCommitter struct {
	during func()
}

func (c contendedCommitter) CommitRoutes(context.Context, model.PlanningJob) ([]model.CommittedRoute, error) {
	c.during()
	return nil, errors.New("database unavailable")
}

func (brokenCommitter) CommitRoutes(context.Context, model.PlanningJob) ([]model.CommittedRoute, error) {
	return nil, errors.New("database unavailable")
}

func seed() catalog.Seed {
	order := func(id string, w float64) model.Order {
		return model.Order{ID: id, Status: model.OrderConfirmed, CargoWeight: w, PickupDate: date, DeliveryDeadline: "2025-03-04",
			PickupAddress: "pickup " + id, DeliveryAddress: "drop " + id}
	}
	return catalog.Seed{
		Orders: []model.Order{order("o1", 500), order("o2", 1200), order("o3", 3000)},
		Drivers: []model.Driver{{ID: "d1", Licences: model.VehicleClasses, WorkDays: []string{"MONDAY"},
			WorkStart: "08:00", WorkEnd: "18:00", Active: true}},
		Vehicles: []model.Vehicle{{ID: "v1", Class: model.MediumTruck, Available: true}},
	}
}

type fixture struct {
	svc     *Service
	solver  *fakeSolver
	events  *recorder
	catalog *catalog.Memory
}

func newFixture(t *testing.T, s catalog.Seed) fixture {
	t.Helper()
	cat, err := catalog.New(s)
	require.NoError(t, err)
	solver := &fakeSolver{results: map[string]model.OptimizeResult{}}
	svc := NewService(store.NewMemory(), cat, distance.Fallback{}, solver, cat, "depot")
	n := 0
	svc.NewID = func() string { n++; return fmt.Sprintf("job-%d", n) }
	rec := &recorder{}
	svc.Events = rec
	return fixture{svc: svc, solver: solver, events: rec, catalog: cat}
}

// complete simulates the solver finishing job id with the request it was given.
func (f fixture) complete(t *testing.T, id string) {
	t.Helper()
	var req model.OptimizeRequest
	for _, r := range f.solver.submitted {
		if r.PlanningID == id {
			req = r
		}
	}
	ids := make([]string, 0, len(req.Orders))
	for _, o := range req.Orders {
		ids = append(ids, o.ID)
	}
	changed, err := f.svc.ApplyResult(context.Background(), id, model.OptimizeResult{
		Status: model.StatusCompleted,
		Routes: []model.OptimizedRoute{{DriverID: "d1", VehicleID: "v1", OrderIDs: ids, TotalDistance: 40, EstimatedTimeMinutes: 210}},
	})
	require.NoError(t, err)
	require.True(t, changed)
}

func TestAutoPlanBuildsSolverRequest(t *testing.T) {
	f := newFixture(t, seed())
	ctx := context.Background()

	job, err := f.svc.AutoPlan(ctx, "alice", date, []string{"o3", "o1", "o2"})
	require.NoError(t, err)
	require.Equal(t, model.StatusInProgress, job.Status)
	require.Equal(t, "job-1", job.ID)

	require.Len(t, f.solver.submitted, 1)
	req := f.solver.submitted[0]
	require.Equal(t, job.ID, req.PlanningID)
	require.Equal(t, []model.PlanningOrder{{ID: "o3", CargoWeight: 3000}, {ID: "o1", CargoWeight: 500}, {ID: "o2", CargoWeight: 1200}}, req.Orders)
	require.Len(t, req.DistanceMatrix, 4)
	require.Len(t, req.DistanceMatrix[0], 4)
	require.Equal(t, 0.0, req.DistanceMatrix[0][0])
	// row 1 is o3's drop-off, column 1 its pickup
	require.Equal(t, distance.Estimate("drop o3", "pickup o3"), req.DistanceMatrix[1][1])
	require.Equal(t, "d1", req.Drivers[0].ID)
	require.Equal(t, model.MediumTruck, req.Vehicles[0].Class)

	pending, err := f.svc.GetPendingJobs(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, []string{EventStarted}, f.events.types())
}

func TestAutoPlanValidation(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*catalog.Seed)
		date    string
		ids     []string
		orderID string
	}{
		{name: "unknown order", ids: []string{"o1", "nope"}, orderID: "nope"},
		{name: "empty selection", ids: nil},
		{name: "duplicate id", ids: []string{"o1", "o1"}, orderID: "o1"},
		{name: "bad date", date: "03/03/2025", ids: []string{"o1"}},
		{name: "not confirmed", mutate: func(s *catalog.Seed) { s.Orders[0].Status = model.OrderPending }, ids: []string{"o1"}, orderID: "o1"},
		{name: "already routed", mutate: func(s *catalog.Seed) { s.Orders[0].RouteID = "r9" }, ids: []string{"o1"}, orderID: "o1"},
		{name: "other pickup date", mutate: func(s *catalog.Seed) { s.Orders[1].PickupDate = "2025-03-04" }, ids: []string{"o2"}, orderID: "o2"},
		{name: "deadline passed", mutate: func(s *catalog.Seed) { s.Orders[2].DeliveryDeadline = "2025-03-02" }, ids: []string{"o3"}, orderID: "o3"},
		{name: "no drivers", mutate: func(s *catalog.Seed) { s.Drivers[0].Active = false }, ids: []string{"o1"}},
		{name: "no vehicles", mutate: func(s *catalog.Seed) { s.Vehicles[0].Available = false }, ids: []string{"o1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := seed()
			if tc.mutate != nil {
				tc.mutate(&s)
			}
			f := newFixture(t, s)
			d := tc.date
			if d == "" {
				d = date
			}
			_, err := f.svc.AutoPlan(context.Background(), "alice", d, tc.ids)
			require.ErrorIs(t, err, ErrValidation)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			require.Equal(t, tc.orderID, ve.OrderID)
			require.Empty(t, f.solver.submitted)
			jobs, _ := f.svc.Jobs.ListByRequester(context.Background(), "alice")
			require.Empty(t, jobs, "no job is created for invalid input")
		})
	}
}

func TestAutoPlanSingleFlight(t *testing.T) {
	f := newFixture(t, seed())
	ctx := context.Background()

	first, err := f.svc.AutoPlan(ctx, "alice", date, []string{"o1"})
	require.NoError(t, err)
	_, err = f.svc.AutoPlan(ctx, "alice", date, []string{"o2"})
	require.ErrorIs(t, err, ErrConflict)

	// still blocked once completed but not yet reviewed
	f.complete(t, first.ID)
	_, err = f.svc.AutoPlan(ctx, "alice", date, []string{"o2"})
	require.ErrorIs(t, err, ErrConflict)

	// another requester is unaffected
	_, err = f.svc.AutoPlan(ctx, "bob", date, []string{"o2"})
	require.NoError(t, err)

	_, err = f.svc.RejectJob(ctx, "alice", first.ID)
	require.NoError(t, err)
	_, err = f.svc.AutoPlan(ctx, "alice", date, []string{"o2"})
	require.NoError(t, err)
}

func TestAutoPlanDispatchFailure(t *testing.T) {
	f := newFixture(t, seed())
	refused := errors.New("connection refused")
	f.solver.err = refused
	ctx := context.Background()

	_, err := f.svc.AutoPlan(ctx, "alice", date, []string{"o1"})
	require.ErrorIs(t, err, ErrDispatch)
	require.ErrorIs(t, err, refused, "the solver error stays inspectable")

	job, err := f.svc.GetForDate(ctx, "alice", date)
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, job.Status)
	require.Equal(t, []string{EventFailed}, f.events.types())

	events, err := f.svc.ListEvents(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, model.StatusFailed, events[0].Status)

	// a failed job does not block a retry
	f.solver.err = nil
	_, err = f.svc.AutoPlan(ctx, "alice", date, []string{"o1"})
	require.NoError(t, err)
}

func TestAcceptJob(t *testing.T) {
	f := newFixture(t, seed())
	ctx := context.Background()
	job, err := f.svc.AutoPlan(ctx, "alice", date, []string{"o1", "o2", "o3"})
	require.NoError(t, err)

	_, err = f.svc.AcceptJob(ctx, "alice", job.ID)
	require.ErrorIs(t, err, ErrInvalidState, "cannot accept while in progress")

	f.complete(t, job.ID)
	awaiting, ok, err := f.svc.GetAwaitingJob(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, job.ID, awaiting.ID)

	_, err = f.svc.AcceptJob(ctx, "mallory", job.ID)
	require.ErrorIs(t, err, ErrUnauthorized)

	routes, err := f.svc.AcceptJob(ctx, "alice", job.ID)
	require.NoError(t, err)
	require.NotEmpty(t, routes)
	require.Equal(t, []string{"o1", "o2", "o3"}, routes[0].OrderIDs)

	got, err := f.svc.Get(ctx, "alice", job.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusAccepted, got.Status)
	require.True(t, got.Consumed)
	o2, _ := f.catalog.Order("o2")
	require.Equal(t, model.OrderAssigned, o2.Status)

	_, err = f.svc.AcceptJob(ctx, "alice", job.ID)
	require.ErrorIs(t, err, ErrInvalidState)

	_, ok, _ = f.svc.GetAwaitingJob(ctx, "alice")
	require.False(t, ok)
	require.Equal(t, []string{EventStarted, EventCompleted, EventAccepted}, f.events.types())
}

func TestAcceptJobRestoresOnCommitFailure(t *testing.T) {
	f := newFixture(t, seed())
	f.svc.Routes = brokenCommitter{}
	ctx := context.Background()
	job, err := f.svc.AutoPlan(ctx, "alice", date, []string{"o1"})
	require.NoError(t, err)
	f.complete(t, job.ID)

	_, err = f.svc.AcceptJob(ctx, "alice", job.ID)
	require.Error(t, err)
	got, _ := f.svc.Get(ctx, "alice", job.ID)
	require.Equal(t, model.StatusCompleted, got.Status)
	require.False(t, got.Consumed)
}

func TestAcceptJobKeepsDateSlotWhileCommitting(t *testing.T) {
	f := newFixture(t, seed())
	ctx := context.Background()
	job, err := f.svc.AutoPlan(ctx, "alice", date, []string{"o1"})
	require.NoError(t, err)
	f.complete(t, job.ID)

	var autoPlanErr, rejectErr, acceptErr error
	f.svc.Routes = contendedCommitter{during: func() {
		_, autoPlanErr = f.svc.AutoPlan(ctx, "alice", date, []string{"o2"})
		_, rejectErr = f.svc.RejectJob(ctx, "alice", job.ID)
		_, acceptErr = f.svc.AcceptJob(ctx, "alice", job.ID)
	}}
	_, err = f.svc.AcceptJob(ctx, "alice", job.ID)
	require.Error(t, err)
	require.ErrorIs(t, autoPlanErr, ErrConflict)
	require.ErrorIs(t, rejectErr, ErrInvalidState)
	require.ErrorIs(t, acceptErr, ErrInvalidState)

	got, err := f.svc.Get(ctx, "alice", job.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, got.Status)
	require.False(t, got.Consumed)
	require.False(t, got.Accepting)
	o1, _ := f.catalog.Order("o1")
	require.Equal(t, model.OrderConfirmed, o1.Status)

	// the claim is released, so a later accept goes through
	f.svc.Routes = f.catalog
	routes, err := f.svc.AcceptJob(ctx, "alice", job.ID)
	require.NoError(t, err)
	require.Len(t, routes, 1)
	require.Equal(t, []string{EventStarted, EventCompleted, EventAccepted}, f.events.types())
}

func TestRejectAndConsume(t *testing.T) {
	f := newFixture(t, seed())
	ctx := context.Background()
	job, err := f.svc.AutoPlan(ctx, "alice", date, []string{"o1"})
	require.NoError(t, err)

	_, err = f.svc.ConsumeJob(ctx, "alice", job.ID)
	require.ErrorIs(t, err, ErrInvalidState, "in-progress jobs cannot be consumed")
	_, err = f.svc.RejectJob(ctx, "alice", job.ID)
	require.ErrorIs(t, err, ErrInvalidState)

	f.complete(t, job.ID)
	_, err = f.svc.RejectJob(ctx, "bob", job.ID)
	require.ErrorIs(t, err, ErrUnauthorized)
	rejected, err := f.svc.RejectJob(ctx, "alice", job.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusRejected, rejected.Status)
	require.True(t, rejected.Consumed)

	again, err := f.svc.ConsumeJob(ctx, "alice", job.ID)
	require.NoError(t, err)
	require.Equal(t, rejected.UpdatedAt, again.UpdatedAt, "consuming a consumed job changes nothing")
	require.Empty(t, f.catalog.Routes(""))
}

func TestConsumeIsIdempotent(t *testing.T) {
	f := newFixture(t, seed())
	ctx := context.Background()
	f.solver.err = errors.New("down")
	_, _ = f.svc.AutoPlan(ctx, "alice", date, []string{"o1"})
	failed, err := f.svc.GetForDate(ctx, "alice", date)
	require.NoError(t, err)

	first, err := f.svc.ConsumeJob(ctx, "alice", failed.ID)
	require.NoError(t, err)
	require.True(t, first.Consumed)
	require.Equal(t, model.StatusFailed, first.Status)

	time.Sleep(time.Millisecond)
	second, err := f.svc.ConsumeJob(ctx, "alice", failed.ID)
	require.NoError(t, err)
	require.Equal(t, first, second)

	events, _ := f.svc.ListEvents(ctx, "alice")
	require.Empty(t, events)

	_, err = f.svc.ConsumeJob(ctx, "alice", "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestApplyResult(t *testing.T) {
	f := newFixture(t, seed())
	ctx := context.Background()
	job, err := f.svc.AutoPlan(ctx, "alice", date, []string{"o1"})
	require.NoError(t, err)

	changed, err := f.svc.ApplyResult(ctx, job.ID, model.OptimizeResult{Status: model.StatusInProgress})
	require.NoError(t, err)
	require.False(t, changed)

	changed, err = f.svc.ApplyResult(ctx, job.ID, model.OptimizeResult{Status: model.StatusFailed})
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = f.svc.ApplyResult(ctx, job.ID, model.OptimizeResult{Status: model.StatusCompleted})
	require.NoError(t, err)
	require.False(t, changed, "finished jobs are not overwritten")

	got, _ := f.svc.Get(ctx, "alice", job.ID)
	require.Equal(t, model.StatusFailed, got.Status)

	_, err = f.svc.ApplyResult(ctx, "missing", model.OptimizeResult{Status: model.StatusFailed})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAwaitingJobIsEarliestPlanDate(t *testing.T) {
	s := seed()
	s.Drivers[0].WorkDays = []string{"MONDAY", "TUESDAY"}
	s.Orders[1].PickupDate = "2025-03-04"
	s.Orders[1].DeliveryDeadline = "2025-03-05"
	f := newFixture(t, s)
	ctx := context.Background()

	later, err := f.svc.AutoPlan(ctx, "alice", "2025-03-04", []string{"o2"})
	require.NoError(t, err)
	earlier, err := f.svc.AutoPlan(ctx, "alice", date, []string{"o1"})
	require.NoError(t, err)
	f.complete(t, later.ID)
	f.complete(t, earlier.ID)

	got, ok, err := f.svc.GetAwaitingJob(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, earlier.ID, got.ID)
}

func TestCanTransition(t *testing.T) {
	require.True(t, CanTransition(model.StatusInProgress, model.StatusCompleted))
	require.True(t, CanTransition(model.StatusInProgress, model.StatusFailed))
	require.True(t, CanTransition(model.StatusCompleted, model.StatusAccepted))
	require.True(t, CanTransition(model.StatusCompleted, model.StatusRejected))
	require.False(t, CanTransition(model.StatusFailed, model.StatusAccepted))
	require.False(t, CanTransition(model.StatusAccepted, model.StatusRejected))
	require.False(t, CanTransition(model.StatusInProgress, model.StatusAccepted))
}

func TestSinksFanOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Sinks{a, b}.Notify(Event{Type: EventStarted})
	require.Equal(t, []string{EventStarted}, a.types())
	require.Equal(t, []string{EventStarted}, b.types())
}
