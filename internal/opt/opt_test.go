package opt

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"autoplan/internal/model"
)

// uniformMatrices returns matrices where every off-diagonal hop costs distKm / durMin and
// diagonal (pickup to delivery of the same order) entries are zero.
func uniformMatrices(n int, distKm, durMin float64) ([][]float64, [][]float64) {
	dist := make([][]float64, n+1)
	dur := make([][]float64, n+1)
	for i := range dist {
		dist[i] = make([]float64, n+1)
		dur[i] = make([]float64, n+1)
		for j := range dist[i] {
			if i != j {
				dist[i][j] = distKm
				dur[i][j] = durMin
			}
		}
	}
	return dist, dur
}

func allLicences() []model.VehicleClass {
	return append([]model.VehicleClass(nil), model.VehicleClasses...)
}

func mustProblem(t *testing.T, req model.OptimizeRequest) *Problem {
	t.Helper()
	p, err := NewProblem(req)
	if err != nil {
		t.Fatalf("NewProblem: %v", err)
	}
	return p
}

func threeOrderRequest(class model.VehicleClass) model.OptimizeRequest {
	dist, dur := uniformMatrices(3, 10, 30)
	return model.OptimizeRequest{
		PlanningID: "job-1",
		Orders: []model.PlanningOrder{
			{ID: "o1", CargoWeight: 500},
			{ID: "o2", CargoWeight: 1200},
			{ID: "o3", CargoWeight: 3000},
		},
		Drivers:        []model.PlanningDriver{{ID: "d1", Licences: allLicences(), WorkStart: "08:00", WorkEnd: "18:00"}},
		Vehicles:       []model.PlanningVehicle{{ID: "v1", Class: class}},
		DistanceMatrix: dist,
		DurationMatrix: dur,
	}
}

func TestSearchSingleVehicleCompletes(t *testing.T) {
	p := mustProblem(t, threeOrderRequest(model.MediumTruck))
	res := Search(context.Background(), p, Config{Seed: 7})
	if res.Status() != model.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", res.Status())
	}
	if len(res.Routes) != 1 {
		t.Fatalf("routes = %d, want 1", len(res.Routes))
	}
	r := res.Routes[0]
	if r.DriverID != "d1" || r.VehicleID != "v1" {
		t.Fatalf("assignment = %s/%s", r.DriverID, r.VehicleID)
	}
	ids := append([]string(nil), r.OrderIDs...)
	sort.Strings(ids)
	if fmt.Sprint(ids) != "[o1 o2 o3]" {
		t.Fatalf("orders = %v", r.OrderIDs)
	}
	// four hops of 10 km; four hops of 30 min plus 2x15 min per order
	if r.TotalDistance != 40 || r.EstimatedTimeMinutes != 210 {
		t.Fatalf("distance=%v minutes=%d", r.TotalDistance, r.EstimatedTimeMinutes)
	}
}

func TestSearchFailsWhenNoClassFits(t *testing.T) {
	p := mustProblem(t, threeOrderRequest(model.SmallVan))
	res := Search(context.Background(), p, Config{Seed: 7})
	if res.Status() != model.StatusFailed {
		t.Fatalf("status = %s, want FAILED", res.Status())
	}
	if res.Routes != nil || res.BestFitness != Infeasible {
		t.Fatalf("infeasible result leaked routes: %+v", res.Routes)
	}
}

func TestOrderHeavierThanEveryClassIsInfeasible(t *testing.T) {
	req := threeOrderRequest(model.SemiTruck)
	req.Orders[2].CargoWeight = 30000
	p := mustProblem(t, req)
	if f := Fitness(p, Solution{0, 1, 2}); f != Infeasible {
		t.Fatalf("fitness = %v, want sentinel", f)
	}
}

func splitRequest() model.OptimizeRequest {
	dist, dur := uniformMatrices(2, 20, 40)
	return model.OptimizeRequest{
		PlanningID: "job-split",
		Orders:     []model.PlanningOrder{{ID: "a", CargoWeight: 100}, {ID: "b", CargoWeight: 100}},
		Drivers: []model.PlanningDriver{
			{ID: "morning", Licences: allLicences(), WorkStart: "08:00", WorkEnd: "10:00"},
			{ID: "afternoon", Licences: allLicences(), WorkStart: "12:00", WorkEnd: "14:00"},
		},
		Vehicles:       []model.PlanningVehicle{{ID: "v1", Class: model.SmallVan}, {ID: "v2", Class: model.SmallVan}},
		DistanceMatrix: dist,
		DurationMatrix: dur,
	}
}

func TestEvaluateSplitsAcrossShortWindows(t *testing.T) {
	p := mustProblem(t, splitRequest())

	// together: 3 hops of 40 min + 60 min service = 180 min > 120
	if ev := Evaluate(p, Solution{0, 1, -1}); ev.Feasible {
		t.Fatalf("single route should not fit a 2h window: %+v", ev)
	}
	ev := Evaluate(p, Solution{0, -1, 1})
	if !ev.Feasible {
		t.Fatalf("split should be feasible")
	}
	if len(ev.Routes) != 2 || ev.Routes[0].Duration != 110 || ev.Routes[1].Duration != 110 {
		t.Fatalf("routes = %+v", ev.Routes)
	}
	if ev.Assignments[0].DriverID == ev.Assignments[1].DriverID {
		t.Fatalf("driver used twice: %+v", ev.Assignments)
	}
	if ev.Fitness != 80 {
		t.Fatalf("fitness = %v, want 80", ev.Fitness)
	}
}

func TestSearchSplitOrFail(t *testing.T) {
	p := mustProblem(t, splitRequest())
	res := Search(context.Background(), p, Config{Seed: 42})
	switch res.Status() {
	case model.StatusFailed:
		if res.Routes != nil {
			t.Fatalf("failed result has routes")
		}
	case model.StatusCompleted:
		if len(res.Routes) != 2 {
			t.Fatalf("routes = %d, want 2", len(res.Routes))
		}
		for _, r := range res.Routes {
			if r.EstimatedTimeMinutes > 120 {
				t.Fatalf("route exceeds window: %+v", r)
			}
		}
	default:
		t.Fatalf("unexpected status %s", res.Status())
	}
}

func TestNewRandomSolutionEncoding(t *testing.T) {
	for seed := int64(1); seed <= 50; seed++ {
		rng := rand.New(rand.NewSource(seed))
		n, g := int(seed%7), int(seed%4)+1
		s := NewRandomSolution(n, g, rng)
		if len(s) != n+g-1 {
			t.Fatalf("seed %d: len = %d, want %d", seed, len(s), n+g-1)
		}
		groups := s.Groups()
		if len(groups) != g {
			t.Fatalf("seed %d: groups = %d, want %d", seed, len(groups), g)
		}
		seen := map[int]int{}
		for _, grp := range groups {
			for _, o := range grp {
				seen[o]++
			}
		}
		for o := 0; o < n; o++ {
			if seen[o] != 1 {
				t.Fatalf("seed %d: order %d seen %d times", seed, o, seen[o])
			}
		}
		if len(seen) != n {
			t.Fatalf("seed %d: unexpected genes %v", seed, seen)
		}
	}
}

func TestCopyIsIndependent(t *testing.T) {
	s := Solution{0, 1, -1, 2}
	c := s.Copy()
	c.Swap(0, 3)
	if s[0] != 0 || s[3] != 2 {
		t.Fatalf("original mutated: %v", s)
	}
}

func TestSwapWithinGroupKeepsMembership(t *testing.T) {
	s := Solution{0, 1, 2, -1, 3, 4}
	before := s.Groups()
	c := s.Copy()
	c.Swap(0, 2)
	after := c.Groups()
	for i := range before {
		a := append([]int(nil), before[i]...)
		b := append([]int(nil), after[i]...)
		sort.Ints(a)
		sort.Ints(b)
		if fmt.Sprint(a) != fmt.Sprint(b) {
			t.Fatalf("group %d changed: %v -> %v", i, before[i], after[i])
		}
	}
}

func TestAssignmentPrefersTightestDriverAndScansClassesUpward(t *testing.T) {
	dist, dur := uniformMatrices(1, 5, 15)
	p := mustProblem(t, model.OptimizeRequest{
		Orders: []model.PlanningOrder{{ID: "o", CargoWeight: 200}},
		Drivers: []model.PlanningDriver{
			{ID: "long", Licences: allLicences(), WorkStart: "06:00", WorkEnd: "20:00"},
			{ID: "short", Licences: allLicences(), WorkStart: "09:00", WorkEnd: "12:00"},
		},
		Vehicles:       []model.PlanningVehicle{{ID: "truck", Class: model.MediumTruck}},
		DistanceMatrix: dist,
		DurationMatrix: dur,
	})
	ev := Evaluate(p, Solution{0})
	if !ev.Feasible {
		t.Fatalf("expected feasible")
	}
	if got := ev.Assignments[0]; got.DriverID != "short" || got.VehicleID != "truck" {
		t.Fatalf("assignment = %+v", got)
	}
}

func TestLicenceAndWindowGates(t *testing.T) {
	dist, dur := uniformMatrices(1, 5, 15)
	base := model.OptimizeRequest{
		Orders:         []model.PlanningOrder{{ID: "o", CargoWeight: 200}},
		Vehicles:       []model.PlanningVehicle{{ID: "van", Class: model.SmallVan}},
		DistanceMatrix: dist,
		DurationMatrix: dur,
	}
	cases := []struct {
		name   string
		driver model.PlanningDriver
		ok     bool
	}{
		{"licensed and long enough", model.PlanningDriver{ID: "d", Licences: []model.VehicleClass{model.SmallVan}, WorkStart: "08:00", WorkEnd: "09:00"}, true},
		{"missing licence", model.PlanningDriver{ID: "d", Licences: []model.VehicleClass{model.SemiTruck}, WorkStart: "08:00", WorkEnd: "18:00"}, false},
		// route takes 15+30+15 = 60 min
		{"window too short", model.PlanningDriver{ID: "d", Licences: []model.VehicleClass{model.SmallVan}, WorkStart: "08:00", WorkEnd: "08:59"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := base
			req.Drivers = []model.PlanningDriver{tc.driver}
			p := mustProblem(t, req)
			if got := Evaluate(p, Solution{0}).Feasible; got != tc.ok {
				t.Fatalf("feasible = %v, want %v", got, tc.ok)
			}
		})
	}
}

func fleetRequest(orders, crews int) model.OptimizeRequest {
	dist, dur := uniformMatrices(orders, 7, 10)
	req := model.OptimizeRequest{DistanceMatrix: dist, DurationMatrix: dur}
	for i := 0; i < orders; i++ {
		req.Orders = append(req.Orders, model.PlanningOrder{ID: fmt.Sprintf("o%d", i), CargoWeight: float64(300 * (i%5 + 1))})
	}
	for i := 0; i < crews; i++ {
		req.Drivers = append(req.Drivers, model.PlanningDriver{ID: fmt.Sprintf("d%d", i), Licences: allLicences(), WorkStart: "08:00", WorkEnd: fmt.Sprintf("%02d:00", 10+i)})
		req.Vehicles = append(req.Vehicles, model.PlanningVehicle{ID: fmt.Sprintf("v%d", i), Class: model.VehicleClasses[i%len(model.VehicleClasses)]})
	}
	return req
}

func TestFeasibleEvaluationsNeverReuseDriverOrVehicle(t *testing.T) {
	p := mustProblem(t, fleetRequest(8, 4))
	rng := rand.New(rand.NewSource(3))
	for k := 0; k < 200; k++ {
		ev := Evaluate(p, NewRandomSolution(p.OrderCount(), p.GroupCount(), rng))
		if !ev.Feasible {
			continue
		}
		drivers, vehicles := map[string]bool{}, map[string]bool{}
		for _, a := range ev.Assignments {
			if a.DriverID == "" {
				continue
			}
			if drivers[a.DriverID] || vehicles[a.VehicleID] {
				t.Fatalf("duplicate assignment in %+v", ev.Assignments)
			}
			drivers[a.DriverID], vehicles[a.VehicleID] = true, true
		}
	}
}

func TestTabuMovesOnlyChosenOnAspiration(t *testing.T) {
	p := mustProblem(t, fleetRequest(6, 3))
	const tenure = 5
	var recent []Move
	tabu := map[Move]bool{}
	cfg := Config{Seed: 11, TabuTenure: tenure, MaxIterations: 300, NoImprovementLimit: 300}
	cfg.Observer = func(s Step) {
		if tabu[s.Move] && !(s.Fitness < s.BestBefore) {
			t.Errorf("iteration %d: tabu move %s chosen without aspiration", s.Iteration, s.Move)
		}
		if tabu[s.Move] != s.WasTabu {
			t.Errorf("iteration %d: move %s reported tabu=%v, want %v", s.Iteration, s.Move, s.WasTabu, tabu[s.Move])
		}
		recent = append(recent, s.Move)
		tabu[s.Move] = true
		if len(recent) > tenure {
			delete(tabu, recent[0])
			recent = recent[1:]
		}
	}
	Search(context.Background(), p, cfg)
}

func TestTabuListEvictionFreesAspiratedDuplicate(t *testing.T) {
	a, b, c := newMove(0, 1), newMove(1, 2), newMove(2, 3)
	tl := newTabuList(2)
	check := func(step string, want map[Move]bool) {
		t.Helper()
		for m, tabu := range want {
			if tl.contains(m) != tabu {
				t.Fatalf("%s: contains(%s) = %v, want %v", step, m, !tabu, tabu)
			}
		}
	}
	tl.push(a)
	tl.push(b)
	tl.push(a) // chosen again through aspiration, evicts the first a
	check("after duplicate", map[Move]bool{a: false, b: true})
	if len(tl.queue) != 2 {
		t.Fatalf("queue length %d, want 2", len(tl.queue))
	}

	tl.push(c) // evicts b
	check("after c", map[Move]bool{a: false, b: false, c: true})

	tl.push(b) // evicts the queued duplicate of a
	check("after b", map[Move]bool{a: false, b: true, c: true})
}

func TestSearchIsDeterministicAcrossWorkerCounts(t *testing.T) {
	p := mustProblem(t, fleetRequest(9, 3))
	a := Search(context.Background(), p, Config{Seed: 99, Workers: 1})
	b := Search(context.Background(), p, Config{Seed: 99, Workers: 4})
	if fmt.Sprint(a.Best) != fmt.Sprint(b.Best) || a.BestFitness != b.BestFitness {
		t.Fatalf("results differ: %v (%v) vs %v (%v)", a.Best, a.BestFitness, b.Best, b.BestFitness)
	}
	if a.Metrics.Iterations != b.Metrics.Iterations {
		t.Fatalf("iterations differ: %d vs %d", a.Metrics.Iterations, b.Metrics.Iterations)
	}
}

func TestSearchNeverReportsWorseThanInitial(t *testing.T) {
	p := mustProblem(t, fleetRequest(9, 3))
	res := Search(context.Background(), p, Config{Seed: 5})
	if res.BestFitness > res.Metrics.InitialFitness {
		t.Fatalf("best %v worse than initial %v", res.BestFitness, res.Metrics.InitialFitness)
	}
	if res.Feasible && res.BestFitness != Fitness(p, res.Best) {
		t.Fatalf("reported fitness does not match best solution")
	}
}

func TestSearchStopsOnShortSequence(t *testing.T) {
	dist, dur := uniformMatrices(1, 3, 5)
	p := mustProblem(t, model.OptimizeRequest{
		Orders:         []model.PlanningOrder{{ID: "only", CargoWeight: 1}},
		Drivers:        []model.PlanningDriver{{ID: "d", Licences: allLicences(), WorkStart: "08:00", WorkEnd: "16:00"}},
		Vehicles:       []model.PlanningVehicle{{ID: "v", Class: model.SmallVan}},
		DistanceMatrix: dist,
		DurationMatrix: dur,
	})
	res := Search(context.Background(), p, Config{Seed: 1})
	if res.Metrics.StopReason != StopTooShort || res.Metrics.Iterations != 0 {
		t.Fatalf("metrics = %+v", res.Metrics)
	}
	if len(res.Routes) != 1 || res.Routes[0].OrderIDs[0] != "only" {
		t.Fatalf("routes = %+v", res.Routes)
	}
}

func TestSearchHonoursCancellation(t *testing.T) {
	p := mustProblem(t, fleetRequest(6, 2))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := Search(ctx, p, Config{Seed: 1})
	if res.Metrics.StopReason != StopCanceled {
		t.Fatalf("stop reason = %s", res.Metrics.StopReason)
	}
}

func TestNewProblemRejectsBadMatrix(t *testing.T) {
	req := threeOrderRequest(model.MediumTruck)
	req.DistanceMatrix = req.DistanceMatrix[:3]
	if _, err := NewProblem(req); err == nil {
		t.Fatal("expected error for short matrix")
	}
	req = threeOrderRequest(model.MediumTruck)
	req.Vehicles[0].Class = "BICYCLE"
	if _, err := NewProblem(req); err == nil {
		t.Fatal("expected error for unknown class")
	}
}

func TestMoveKeyIsCanonical(t *testing.T) {
	if newMove(5, 2) != newMove(2, 5) || newMove(5, 2).String() != "2:5" {
		t.Fatalf("move key not canonical")
	}
}
