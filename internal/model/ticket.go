package model

import "time"

type TicketDetails struct {
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	EventName   string     `json:"eventname"`
	EventDate   *time.Time `json:"eventdate"`
	EventTime   string     `json:"eventtime"`
	TicketPrice float64    `json:"ticketprice"`
	TicketID    string     `json:"ticketId"`
	BookedDate  time.Time  `json:"bookeddate"`
	QR          string     `json:"qr"`
}

type Ticket struct {
	ID         string        `json:"id"`
	UserID     int64         `json:"userid"`
	EventID    int64         `json:"eventid"`
	Details    TicketDetails `json:"ticketDetails"`
	Payload    string        `json:"payload"`
	Count      int           `json:"count"`
	IsValid    bool          `json:"isValid"`
	RedeemedAt *time.Time    `json:"redeemedAt,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}
