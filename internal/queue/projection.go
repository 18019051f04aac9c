package queue

import "github.com/mystziel/OneQueue-PH/internal/models"

const guestOwner = "Guest"

// Projection is the dashboard view of the waiting list: total count plus
// one entry per ticket in arrival order. Empty is explicit so the UI can
// render a dedicated "queue is empty" state.
type Projection struct {
	Count   int     `json:"count"`
	Empty   bool    `json:"empty"`
	Entries []Entry `json:"entries"`
}

type Entry struct {
	TicketNumber string `json:"ticket_number"`
	OwnerName    string `json:"owner_name"`
}

func Project(tickets []models.Ticket) Projection {
	projection := Projection{
		Count: len(tickets),
		Empty: len(tickets) == 0,
	}
	for _, ticket := range tickets {
		owner := ticket.OwnerName
		if owner == "" {
			owner = guestOwner
		}
		projection.Entries = append(projection.Entries, Entry{
			TicketNumber: ticket.TicketNumber,
			OwnerName:    owner,
		})
	}
	return projection
}
