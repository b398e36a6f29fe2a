package opt

import (
	"math"

	"autoplan/internal/model"
)

// Infeasible is the fitness of a Solution without a complete driver/vehicle assignment.
const Infeasible = math.MaxFloat64

// SubRoute is one decoded group of a Solution.
type SubRoute struct {
	Orders   []int
	Distance float64 // km, depot to depot
	Duration float64 // minutes, including service time
	MinClass int     // index into model.VehicleClasses, -1 when an order fits no class
}

// Empty sub-routes need no driver or vehicle.
func (r SubRoute) Empty() bool { return r.Duration <= 0 }

// Assignment pairs a sub-route with a driver and vehicle. Both ids are empty for empty sub-routes.
type Assignment struct {
	DriverID  string
	VehicleID string
}

// Evaluation is the full decode of a Solution.
type Evaluation struct {
	Routes      []SubRoute
	Assignments []Assignment // parallel to Routes when Feasible
	Feasible    bool
	Fitness     float64
}

// Fitness is the total distance of s, or Infeasible.
func Fitness(p *Problem, s Solution) float64 {
	return Evaluate(p, s).Fitness
}

// Evaluate decodes s against p. It does not mutate either argument.
func Evaluate(p *Problem, s Solution) Evaluation {
	routes := decode(p, s)
	ev := Evaluation{Routes: routes, Fitness: Infeasible}
	assignments, ok := assign(p, routes)
	if !ok {
		return ev
	}
	ev.Assignments = assignments
	ev.Feasible = true
	ev.Fitness = 0
	for _, r := range routes {
		ev.Fitness += r.Distance
	}
	return ev
}

func decode(p *Problem, s Solution) []SubRoute {
	var routes []SubRoute
	cur := SubRoute{}
	at := 0
	for _, g := range s {
		if g < 0 {
			cur.Distance += p.dist[at][0]
			cur.Duration += p.dur[at][0]
			routes = append(routes, cur)
			cur = SubRoute{}
			at = 0
			continue
		}
		k := g + 1
		cur.Orders = append(cur.Orders, g)
		cur.Distance += p.dist[at][k] + p.dist[k][k]
		cur.Duration += p.dur[at][k] + p.dur[k][k] + 2*ServiceTimeMinutes
		if cur.MinClass >= 0 {
			if c := p.orderClass[g]; c < 0 {
				cur.MinClass = -1
			} else if c > cur.MinClass {
				cur.MinClass = c
			}
		}
		at = k
	}
	cur.Distance += p.dist[at][0]
	cur.Duration += p.dur[at][0]
	return append(routes, cur)
}

// assign is greedy first-fit: sub-routes in sequence order, classes from the sub-route's
// minimum upward, drivers by ascending work window.
func assign(p *Problem, routes []SubRoute) ([]Assignment, bool) {
	usedDriver := make([]bool, len(p.drivers))
	nextVehicle := make([]int, len(p.vehicles))
	out := make([]Assignment, 0, len(routes))
	for _, r := range routes {
		if r.Empty() {
			out = append(out, Assignment{})
			continue
		}
		if r.MinClass < 0 {
			return nil, false
		}
		a, found := Assignment{}, false
		for c := r.MinClass; c < len(p.vehicles) && !found; c++ {
			if nextVehicle[c] >= len(p.vehicles[c]) {
				continue
			}
			for d := range p.drivers {
				slot := p.drivers[d]
				if usedDriver[d] || !slot.licensed[c] || float64(slot.window) < r.Duration*60 {
					continue
				}
				a = Assignment{DriverID: slot.id, VehicleID: p.vehicles[c][nextVehicle[c]]}
				usedDriver[d] = true
				nextVehicle[c]++
				found = true
				break
			}
		}
		if !found {
			return nil, false
		}
		out = append(out, a)
	}
	return out, true
}

// Materialize converts s into routes. It returns false when s is infeasible.
// Sub-routes that travel no distance are left out.
func Materialize(p *Problem, s Solution) ([]model.OptimizedRoute, bool) {
	ev := Evaluate(p, s)
	if !ev.Feasible {
		return nil, false
	}
	routes := []model.OptimizedRoute{}
	for i, r := range ev.Routes {
		if r.Distance <= 0 {
			continue
		}
		ids := make([]string, 0, len(r.Orders))
		for _, g := range r.Orders {
			ids = append(ids, p.orders[g].ID)
		}
		routes = append(routes, model.OptimizedRoute{
			DriverID:             ev.Assignments[i].DriverID,
			VehicleID:            ev.Assignments[i].VehicleID,
			OrderIDs:             ids,
			TotalDistance:        r.Distance,
			EstimatedTimeMinutes: int(r.Duration),
		})
	}
	return routes, true
}
