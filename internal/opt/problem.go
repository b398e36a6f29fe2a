package opt

import (
	"errors"
	"fmt"
	"sort"

	"autoplan/internal/model"
)

// ServiceTimeMinutes is spent at each pickup and each delivery.
const ServiceTimeMinutes = 15

type driverSlot struct {
	id       string
	window   int // seconds between work start and work end
	licensed []bool
}

// Problem is an immutable planning instance. It is safe for concurrent use.
type Problem struct {
	orders     []model.PlanningOrder
	orderClass []int // smallest class index able to carry the order, -1 if none
	drivers    []driverSlot
	vehicles   [][]string // vehicle ids per class index, in input order
	vehicleCnt int
	dist, dur  [][]float64
}

// NewProblem validates req and builds the instance the search runs on.
func NewProblem(req model.OptimizeRequest) (*Problem, error) {
	n := len(req.Orders)
	if err := checkMatrix("distance", req.DistanceMatrix, n+1); err != nil {
		return nil, err
	}
	if err := checkMatrix("duration", req.DurationMatrix, n+1); err != nil {
		return nil, err
	}
	p := &Problem{
		orders:     append([]model.PlanningOrder(nil), req.Orders...),
		orderClass: make([]int, n),
		vehicles:   make([][]string, len(model.VehicleClasses)),
		dist:       copyMatrix(req.DistanceMatrix),
		dur:        copyMatrix(req.DurationMatrix),
	}
	for i, o := range req.Orders {
		if o.CargoWeight < 0 {
			return nil, fmt.Errorf("order %s: negative cargo weight", o.ID)
		}
		p.orderClass[i] = minClassFor(o.CargoWeight)
	}
	for _, d := range req.Drivers {
		w, err := d.WindowSeconds()
		if err != nil {
			return nil, err
		}
		slot := driverSlot{id: d.ID, window: w, licensed: make([]bool, len(model.VehicleClasses))}
		for _, l := range d.Licences {
			idx := l.Index()
			if idx < 0 {
				return nil, fmt.Errorf("driver %s: unknown licence %q", d.ID, l)
			}
			slot.licensed[idx] = true
		}
		p.drivers = append(p.drivers, slot)
	}
	// tightest work window first; ties keep input order
	sort.SliceStable(p.drivers, func(i, j int) bool { return p.drivers[i].window < p.drivers[j].window })
	for _, v := range req.Vehicles {
		idx := v.Class.Index()
		if idx < 0 {
			return nil, fmt.Errorf("vehicle %s: unknown class %q", v.ID, v.Class)
		}
		p.vehicles[idx] = append(p.vehicles[idx], v.ID)
		p.vehicleCnt++
	}
	return p, nil
}

// OrderCount is the number of orders N.
func (p *Problem) OrderCount() int { return len(p.orders) }

// GroupCount bounds the number of sub-routes: min(|vehicles|, |drivers|).
func (p *Problem) GroupCount() int {
	if p.vehicleCnt < len(p.drivers) {
		return p.vehicleCnt
	}
	return len(p.drivers)
}

func minClassFor(weight float64) int {
	for i, c := range model.VehicleClasses {
		if weight <= c.MaxWeight() {
			return i
		}
	}
	return -1
}

var errEmptyMatrix = errors.New("matrix is empty")

func checkMatrix(name string, m [][]float64, size int) error {
	if len(m) == 0 {
		return fmt.Errorf("%s: %w", name, errEmptyMatrix)
	}
	if len(m) != size {
		return fmt.Errorf("%s matrix has %d rows, want %d", name, len(m), size)
	}
	for i, row := range m {
		if len(row) != size {
			return fmt.Errorf("%s matrix row %d has %d columns, want %d", name, i, len(row), size)
		}
	}
	return nil
}

func copyMatrix(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = append([]float64(nil), row...)
	}
	return out
}
