package planning

import (
	"time"

	"autoplan/internal/distance"
	"autoplan/internal/model"
)

// checkOrderIDs rejects empty and duplicated id lists.
func checkOrderIDs(ids []string) error {
	if len(ids) == 0 {
		return invalid("", "no orders selected")
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" {
			return invalid("", "empty order id")
		}
		if seen[id] {
			return invalid(id, "selected more than once")
		}
		seen[id] = true
	}
	return nil
}

// orderedForPlanning returns the catalog orders in the requested id order and checks each
// one can be planned for date.
func orderedForPlanning(ids []string, found []model.Order, date time.Time) ([]model.Order, error) {
	byID := make(map[string]model.Order, len(found))
	for _, o := range found {
		byID[o.ID] = o
	}
	out := make([]model.Order, 0, len(ids))
	for _, id := range ids {
		o, ok := byID[id]
		if !ok {
			return nil, invalid(id, "not found")
		}
		if o.Status != model.OrderConfirmed {
			return nil, invalid(id, "status is %s, only %s orders can be planned", o.Status, model.OrderConfirmed)
		}
		if o.RouteID != "" {
			return nil, invalid(id, "already assigned to route %s", o.RouteID)
		}
		pickup, err := model.ParseDate(o.PickupDate)
		if err != nil {
			return nil, invalid(id, "invalid pickup date %q", o.PickupDate)
		}
		if !pickup.Equal(date) {
			return nil, invalid(id, "pickup date %s differs from planning date %s", o.PickupDate, date.Format(model.DateLayout))
		}
		deadline, err := model.ParseDate(o.DeliveryDeadline)
		if err != nil {
			return nil, invalid(id, "invalid delivery deadline %q", o.DeliveryDeadline)
		}
		if date.After(deadline) {
			return nil, invalid(id, "delivery deadline %s is before planning date %s", o.DeliveryDeadline, date.Format(model.DateLayout))
		}
		out = append(out, o)
	}
	return out, nil
}

// matrixEndpoints lists the matrix rows (depot, then each delivery) and columns (depot,
// then each pickup) in order index order.
func matrixEndpoints(depot string, orders []model.Order) (origins, destinations []string) {
	origins = make([]string, 0, len(orders)+1)
	destinations = make([]string, 0, len(orders)+1)
	origins = append(origins, depot)
	destinations = append(destinations, depot)
	for _, o := range orders {
		origins = append(origins, o.DeliveryAddress)
		destinations = append(destinations, o.PickupAddress)
	}
	return origins, destinations
}

func buildRequest(jobID string, orders []model.Order, drivers []model.Driver, vehicles []model.Vehicle, m distance.Matrix) model.OptimizeRequest {
	req := model.OptimizeRequest{
		PlanningID:     jobID,
		Orders:         make([]model.PlanningOrder, 0, len(orders)),
		Drivers:        make([]model.PlanningDriver, 0, len(drivers)),
		Vehicles:       make([]model.PlanningVehicle, 0, len(vehicles)),
		DistanceMatrix: m.Distance,
		DurationMatrix: m.Duration,
	}
	for _, o := range orders {
		req.Orders = append(req.Orders, model.PlanningOrder{ID: o.ID, CargoWeight: o.CargoWeight})
	}
	for _, d := range drivers {
		req.Drivers = append(req.Drivers, model.PlanningDriver{ID: d.ID, Licences: d.Licences, WorkStart: d.WorkStart, WorkEnd: d.WorkEnd})
	}
	for _, v := range vehicles {
		req.Vehicles = append(req.Vehicles, model.PlanningVehicle{ID: v.ID, Class: v.Class})
	}
	return req
}
