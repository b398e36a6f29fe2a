package model

import (
	"fmt"
	"strings"
	"time"
)

// VehicleClass is a capacity tier. Classes are ordered by ascending capacity.
type VehicleClass string

const (
	SmallVan    VehicleClass = "SMALL_VAN"
	MediumTruck VehicleClass = "MEDIUM_TRUCK"
	LargeTruck  VehicleClass = "LARGE_TRUCK"
	SemiTruck   VehicleClass = "SEMI_TRUCK"
)

// VehicleClasses lists every class in ascending capacity order.
var VehicleClasses = []VehicleClass{SmallVan, MediumTruck, LargeTruck, SemiTruck}

var classMaxWeight = map[VehicleClass]float64{
	SmallVan:    1500,
	MediumTruck: 5000,
	LargeTruck:  12000,
	SemiTruck:   25000,
}

// MaxWeight is the cargo limit in kilograms, 0 for unknown classes.
func (c VehicleClass) MaxWeight() float64 { return classMaxWeight[c] }

// Index is the position of c in VehicleClasses, or -1.
func (c VehicleClass) Index() int {
	for i, v := range VehicleClasses {
		if v == c {
			return i
		}
	}
	return -1
}

func (c VehicleClass) Valid() bool { return c.Index() >= 0 }

// Status is the state of a planning job or optimizer run.
type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusAccepted   Status = "ACCEPTED"
	StatusRejected   Status = "REJECTED"
)

// Terminal reports whether no solver-driven change can follow.
func (s Status) Terminal() bool { return s != StatusInProgress && s != "" }

// Live statuses block a second planning attempt for the same requester and date.
func (s Status) Live() bool { return s == StatusInProgress || s == StatusCompleted }

// PlanningOrder is an order as seen by the solver.
type PlanningOrder struct {
	ID          string  `json:"id"`
	CargoWeight float64 `json:"cargoWeight"`
}

// PlanningDriver is a driver available on the planned date.
type PlanningDriver struct {
	ID        string         `json:"id"`
	Licences  []VehicleClass `json:"licences"`
	WorkStart string         `json:"workStart"` // HH:MM
	WorkEnd   string         `json:"workEnd"`   // HH:MM
}

// WindowSeconds returns workEnd-workStart in seconds.
func (d PlanningDriver) WindowSeconds() (int, error) {
	start, err := ParseClock(d.WorkStart)
	if err != nil {
		return 0, fmt.Errorf("driver %s workStart: %w", d.ID, err)
	}
	end, err := ParseClock(d.WorkEnd)
	if err != nil {
		return 0, fmt.Errorf("driver %s workEnd: %w", d.ID, err)
	}
	return end - start, nil
}

// HasLicence reports whether the driver may drive class c.
func (d PlanningDriver) HasLicence(c VehicleClass) bool {
	for _, l := range d.Licences {
		if l == c {
			return true
		}
	}
	return false
}

type PlanningVehicle struct {
	ID    string       `json:"id"`
	Class VehicleClass `json:"vehicleClass"`
}

// OptimizeRequest is handed to the solver. Matrices are (N+1)x(N+1) with index 0 the depot
// and index k the k-th entry of Orders.
type OptimizeRequest struct {
	PlanningID     string            `json:"planningId"`
	Drivers        []PlanningDriver  `json:"drivers"`
	Vehicles       []PlanningVehicle `json:"vehicles"`
	Orders         []PlanningOrder   `json:"orders"`
	DistanceMatrix [][]float64       `json:"distanceMatrix"`
	DurationMatrix [][]float64       `json:"durationMatrix"`
}

// OptimizedRoute is one driver+vehicle assignment produced by the solver.
type OptimizedRoute struct {
	DriverID             string   `json:"driverId"`
	VehicleID            string   `json:"vehicleId"`
	OrderIDs             []string `json:"orderIdsOrdered"`
	TotalDistance        float64  `json:"totalDistance"`
	EstimatedTimeMinutes int      `json:"estimatedTimeMinutes"`
}

type OptimizeResult struct {
	Status Status           `json:"status"`
	Routes []OptimizedRoute `json:"routes,omitempty"`
}

// PlanningJob tracks one optimization attempt for a (requester, date) pair.
type PlanningJob struct {
	ID        string           `json:"planningId"`
	Requester string           `json:"requester"`
	PlanDate  string           `json:"planningDate"`
	Status    Status           `json:"status"`
	Consumed  bool             `json:"consumed"`
	// Accepting is set while an accept commits routes; the job keeps its date slot meanwhile.
	Accepting bool             `json:"-"`
	StartedAt time.Time        `json:"startedAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
	Routes    []OptimizedRoute `json:"routes,omitempty"`
}

// PlanningEvent notifies a requester about a finished job they have not acknowledged.
type PlanningEvent struct {
	PlanningID string `json:"planningId"`
	PlanDate   string `json:"planningDate"`
	Status     Status `json:"status"`
}

const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD plan date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, strings.TrimSpace(s))
}

// ParseClock converts HH:MM or HH:MM:SS into seconds since midnight.
func ParseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Hour()*3600 + t.Minute()*60 + t.Second(), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", s)
}
