package model

// Order statuses relevant to planning.
const (
	OrderPending   = "PENDING"
	OrderConfirmed = "CONFIRMED"
	OrderAssigned  = "ASSIGNED"
	OrderCancelled = "CANCELLED"
)

// Order is a pickup/delivery job known to the dispatch catalog.
type Order struct {
	ID               string  `json:"id" yaml:"id"`
	Status           string  `json:"status" yaml:"status"`
	RouteID          string  `json:"routeId,omitempty" yaml:"routeId"`
	Sequence         int     `json:"sequence,omitempty" yaml:"-"`
	CargoWeight      float64 `json:"cargoWeight" yaml:"cargoWeight"`
	PickupDate       string  `json:"pickupDate" yaml:"pickupDate"`
	DeliveryDeadline string  `json:"deliveryDeadline" yaml:"deliveryDeadline"`
	PickupAddress    string  `json:"pickupAddress" yaml:"pickupAddress"`
	DeliveryAddress  string  `json:"deliveryAddress" yaml:"deliveryAddress"`
}

// Driver is a catalog driver with a weekly schedule.
type Driver struct {
	ID        string         `json:"id" yaml:"id"`
	Email     string         `json:"email" yaml:"email"`
	Licences  []VehicleClass `json:"licences" yaml:"licences"`
	WorkDays  []string       `json:"workDays" yaml:"workDays"` // e.g. MONDAY
	WorkStart string         `json:"workStart" yaml:"workStart"`
	WorkEnd   string         `json:"workEnd" yaml:"workEnd"`
	Active    bool           `json:"active" yaml:"active"`
	Suspended bool           `json:"suspended" yaml:"suspended"`
}

type Vehicle struct {
	ID           string       `json:"id" yaml:"id"`
	Registration string       `json:"registration" yaml:"registration"`
	Class        VehicleClass `json:"vehicleClass" yaml:"vehicleClass"`
	Available    bool         `json:"available" yaml:"available"`
}

const RoutePlanned = "PLANNED"

// CommittedRoute is a route materialized from an accepted planning job.
type CommittedRoute struct {
	ID                   string   `json:"id"`
	PlanningID           string   `json:"planningId"`
	DriverID             string   `json:"driverId"`
	VehicleID            string   `json:"vehicleId"`
	PlanDate             string   `json:"routeDate"`
	OrderIDs             []string `json:"orderIds"`
	TotalDistance        float64  `json:"totalDistance"`
	EstimatedTimeMinutes int      `json:"estimatedTimeMinutes"`
	Status               string   `json:"status"`
}
