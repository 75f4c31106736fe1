package model

import "time"

type Event struct {
	ID             int64      `json:"id"`
	Owner          int64      `json:"owner"`
	Title          string     `json:"title"`
	OrganizerEmail string     `json:"organizerEmail"`
	Description    string     `json:"description"`
	OrganizedBy    string     `json:"organizedBy"`
	EventDate      *time.Time `json:"eventDate"`
	EventTime      string     `json:"eventTime"`
	Location       string     `json:"location"`
	Participants   int        `json:"participants"`
	Count          int        `json:"count"`
	Income         float64    `json:"income"`
	TicketPrice    float64    `json:"ticketPrice"`
	Quantity       int        `json:"quantity"`
	Image          string     `json:"image"`
	Likes          int        `json:"likes"`
	TicketCount    int        `json:"ticketCount"`
	OutDated       bool       `json:"outDated"`
	Comments       []string   `json:"comments"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// SoldOut reports whether a capped event has no tickets left.
func (e *Event) SoldOut() bool {
	return e.Quantity > 0 && e.TicketCount >= e.Quantity
}
