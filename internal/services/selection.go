package services

import (
	"fmt"

	"event-ticketing-checkout/internal/models"
)

// Selection holds an event's ticket offerings and the buyer's requested
// quantity per offering. Quantities are always within
// [0, min(remaining, perOrderCap)]. Selection is not safe for concurrent use;
// CheckoutSession serializes access to it.
type Selection struct {
	offerings   []models.TicketOffering
	index       map[string]int
	quantities  map[string]int
	perOrderCap int
}

// NewSelection creates an empty selection over offerings
func NewSelection(offerings []models.TicketOffering, perOrderCap int) *Selection {
	if perOrderCap <= 0 {
		perOrderCap = models.DefaultPerOrderCap
	}
	s := &Selection{
		quantities:  make(map[string]int),
		perOrderCap: perOrderCap,
	}
	s.setOfferings(offerings)
	return s
}

func (s *Selection) setOfferings(offerings []models.TicketOffering) {
	s.offerings = append([]models.TicketOffering(nil), offerings...)
	s.index = make(map[string]int, len(offerings))
	for i, o := range s.offerings {
		s.index[o.ID] = i
	}
}

// SetQuantity stores quantity for an offering, silently clamped to the
// allowed range, and returns the stored value.
func (s *Selection) SetQuantity(offeringID string, quantity int) (int, error) {
	i, ok := s.index[offeringID]
	if !ok {
		return 0, models.NewCheckoutError(models.KindValidation, "",
			fmt.Errorf("%w: %s", models.ErrOfferingNotFound, offeringID))
	}

	max := s.offerings[i].MaxPurchasable(s.perOrderCap)
	if quantity > max {
		quantity = max
	}
	if quantity < 0 {
		quantity = 0
	}

	if quantity == 0 {
		delete(s.quantities, offeringID)
	} else {
		s.quantities[offeringID] = quantity
	}
	return quantity, nil
}

// Increment adds one ticket of an offering, up to its cap
func (s *Selection) Increment(offeringID string) (int, error) {
	return s.SetQuantity(offeringID, s.Quantity(offeringID)+1)
}

// Decrement removes one ticket of an offering, down to zero
func (s *Selection) Decrement(offeringID string) (int, error) {
	return s.SetQuantity(offeringID, s.Quantity(offeringID)-1)
}

// Quantity returns the requested quantity for an offering
func (s *Selection) Quantity(offeringID string) int {
	return s.quantities[offeringID]
}

// MaxQuantity returns the cap that applies to an offering
func (s *Selection) MaxQuantity(offeringID string) int {
	i, ok := s.index[offeringID]
	if !ok {
		return 0
	}
	return s.offerings[i].MaxPurchasable(s.perOrderCap)
}

// TotalSelected returns the number of tickets across all offerings
func (s *Selection) TotalSelected() int {
	total := 0
	for _, q := range s.quantities {
		total += q
	}
	return total
}

// Lines returns the non-empty lines in catalog order
func (s *Selection) Lines() []models.SelectionLine {
	lines := make([]models.SelectionLine, 0, len(s.quantities))
	for _, o := range s.offerings {
		if q := s.quantities[o.ID]; q > 0 {
			lines = append(lines, models.SelectionLine{OfferingID: o.ID, RequestedQuantity: q})
		}
	}
	return lines
}

// Offerings returns a copy of the catalog
func (s *Selection) Offerings() []models.TicketOffering {
	return append([]models.TicketOffering(nil), s.offerings...)
}

// Refresh replaces the catalog with authoritative availability and forces
// every line down to its new cap. Lines for offerings that disappeared are
// dropped. It reports whether any quantity changed.
func (s *Selection) Refresh(offerings []models.TicketOffering) bool {
	previous := s.quantities
	s.setOfferings(offerings)
	s.quantities = make(map[string]int, len(previous))

	changed := false
	for id, q := range previous {
		stored, err := s.SetQuantity(id, q)
		if err != nil || stored != q {
			changed = true
		}
	}
	return changed
}

// Clear drops every line
func (s *Selection) Clear() {
	s.quantities = make(map[string]int)
}
