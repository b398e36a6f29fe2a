// Package catalog is an in-memory order, driver and vehicle catalog with route commit,
// seeded from a YAML file.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"autoplan/internal/model"
)

// Seed is the YAML document layout.
type Seed struct {
	Orders   []model.Order   `yaml:"orders"`
	Drivers  []model.Driver  `yaml:"drivers"`
	Vehicles []model.Vehicle `yaml:"vehicles"`
}

var ErrOrderUnavailable = errors.New("order cannot be routed")

type Memory struct {
	mu       sync.Mutex
	orders   map[string]model.Order
	drivers  []model.Driver
	vehicles []model.Vehicle
	routes   []model.CommittedRoute
	newID    func() string
}

// Load reads a seed file.
func Load(path string) (*Memory, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(b)
}

func Parse(data []byte) (*Memory, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return New(seed)
}

// New validates seed and builds a catalog from it.
func New(seed Seed) (*Memory, error) {
	m := &Memory{orders: map[string]model.Order{}, newID: func() string { return uuid.New().String() }}
	for _, o := range seed.Orders {
		if o.ID == "" {
			return nil, errors.New("catalog: order without id")
		}
		if _, dup := m.orders[o.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate order %s", o.ID)
		}
		if o.Status == "" {
			o.Status = model.OrderConfirmed
		}
		m.orders[o.ID] = o
	}
	seen := map[string]bool{}
	for _, d := range seed.Drivers {
		if d.ID == "" || seen["d:"+d.ID] {
			return nil, fmt.Errorf("catalog: missing or duplicate driver id %q", d.ID)
		}
		seen["d:"+d.ID] = true
		for _, c := range d.Licences {
			if !c.Valid() {
				return nil, fmt.Errorf("catalog: driver %s: unknown licence %q", d.ID, c)
			}
		}
		if _, err := (model.PlanningDriver{WorkStart: d.WorkStart, WorkEnd: d.WorkEnd}).WindowSeconds(); err != nil {
			return nil, fmt.Errorf("catalog: driver %s: %w", d.ID, err)
		}
		m.drivers = append(m.drivers, d)
	}
	for _, v := range seed.Vehicles {
		if v.ID == "" || seen["v:"+v.ID] {
			return nil, fmt.Errorf("catalog: missing or duplicate vehicle id %q", v.ID)
		}
		seen["v:"+v.ID] = true
		if !v.Class.Valid() {
			return nil, fmt.Errorf("catalog: vehicle %s: unknown class %q", v.ID, v.Class)
		}
		m.vehicles = append(m.vehicles, v)
	}
	return m, nil
}

func (m *Memory) OrdersByIDs(ctx context.Context, ids []string) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Order, 0, len(ids))
	for _, id := range ids {
		if o, ok := m.orders[id]; ok {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *Memory) Order(id string) (model.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	return o, ok
}

// busy returns the driver and vehicle ids that already have a route on date.
func (m *Memory) busy(date string) (drivers, vehicles map[string]bool) {
	drivers, vehicles = map[string]bool{}, map[string]bool{}
	for _, r := range m.routes {
		if r.PlanDate == date && r.Status != model.OrderCancelled {
			drivers[r.DriverID] = true
			vehicles[r.VehicleID] = true
		}
	}
	return drivers, vehicles
}

// AvailableDrivers returns active, unsuspended drivers who work on date's weekday and
// have no route that day, in catalog order.
func (m *Memory) AvailableDrivers(ctx context.Context, date time.Time) ([]model.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	weekday := strings.ToUpper(date.Weekday().String())
	busy, _ := m.busy(date.Format(model.DateLayout))
	out := []model.Driver{}
	for _, d := range m.drivers {
		if !d.Active || d.Suspended || busy[d.ID] {
			continue
		}
		if slices.ContainsFunc(d.WorkDays, func(s string) bool { return strings.EqualFold(s, weekday) }) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *Memory) AvailableVehicles(ctx context.Context, date time.Time) ([]model.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, busy := m.busy(date.Format(model.DateLayout))
	out := []model.Vehicle{}
	for _, v := range m.vehicles {
		if v.Available && !busy[v.ID] {
			out = append(out, v)
		}
	}
	return out, nil
}

// CommitRoutes stores the job's routes and assigns their orders. Committing the same job
// twice returns the routes from the first commit.
func (m *Memory) CommitRoutes(ctx context.Context, job model.PlanningJob) ([]model.CommittedRoute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var existing []model.CommittedRoute
	for _, r := range m.routes {
		if r.PlanningID == job.ID {
			existing = append(existing, r)
		}
	}
	if len(existing) > 0 {
		return existing, nil
	}

	for _, r := range job.Routes {
		for _, id := range r.OrderIDs {
			o, ok := m.orders[id]
			if !ok || o.RouteID != "" || o.Status != model.OrderConfirmed {
				return nil, fmt.Errorf("%w: %s", ErrOrderUnavailable, id)
			}
		}
	}
	out := make([]model.CommittedRoute, 0, len(job.Routes))
	for _, r := range job.Routes {
		cr := model.CommittedRoute{
			ID:                   m.newID(),
			PlanningID:           job.ID,
			DriverID:             r.DriverID,
			VehicleID:            r.VehicleID,
			PlanDate:             job.PlanDate,
			OrderIDs:             append([]string(nil), r.OrderIDs...),
			TotalDistance:        r.TotalDistance,
			EstimatedTimeMinutes: r.EstimatedTimeMinutes,
			Status:               model.RoutePlanned,
		}
		for seq, id := range r.OrderIDs {
			o := m.orders[id]
			o.RouteID = cr.ID
			o.Sequence = seq + 1
			o.Status = model.OrderAssigned
			m.orders[id] = o
		}
		m.routes = append(m.routes, cr)
		out = append(out, cr)
	}
	return out, nil
}

// Routes lists committed routes for date, or all routes when date is empty.
func (m *Memory) Routes(date string) []model.CommittedRoute {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.CommittedRoute{}
	for _, r := range m.routes {
		if date == "" || r.PlanDate == date {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].PlanDate < out[b].PlanDate })
	return out
}
