package dashboard

import (
	"time"

	"github.com/google/uuid"
)

// Card carries the gating outcome shared by every dashboard module.
// Data fields of a card stay zero unless Permitted is true and Error is empty.
type Card struct {
	Permitted bool   `json:"permitted"`
	Error     string `json:"error,omitempty"`
}

// Snapshot is the aggregated dashboard for one user at GeneratedAt.
type Snapshot struct {
	GeneratedAt     time.Time           `json:"generatedAt"`
	Events          EventsCard          `json:"events"`
	Customers       CustomersCard       `json:"customers"`
	Messages        MessagesCard        `json:"messages"`
	TableBookings   TableBookingsCard   `json:"tableBookings"`
	PrivateBookings PrivateBookingsCard `json:"privateBookings"`
	Parking         ParkingCard         `json:"parking"`
	Invoices        InvoicesCard        `json:"invoices"`
	Receipts        ReceiptsCard        `json:"receipts"`
	Quotes          QuotesCard          `json:"quotes"`
	Roles           RolesCard           `json:"roles"`
	ShortLinks      ShortLinksCard      `json:"shortLinks"`
	Users           UsersCard           `json:"users"`
	Loyalty         LoyaltyCard         `json:"loyalty"`
}

// EventSummary is one row of the events card.
type EventSummary struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	StartsAt    time.Time `json:"startsAt"`
	Capacity    int       `json:"capacity"`
	TicketsSold int       `json:"ticketsSold"`
}

// EventsCard lists today's events and the next upcoming ones.
type EventsCard struct {
	Card
	Today         []EventSummary `json:"today"`
	Upcoming      []EventSummary `json:"upcoming"`
	TotalUpcoming int            `json:"totalUpcoming"`
}

// CustomersCard holds customer counts.
type CustomersCard struct {
	Card
	Total        int `json:"total"`
	NewThisMonth int `json:"newThisMonth"`
}

// MessageSummary is an inbound message preview.
type MessageSummary struct {
	ID           uuid.UUID `json:"id"`
	CustomerName string    `json:"customerName"`
	Preview      string    `json:"preview"`
	ReceivedAt   time.Time `json:"receivedAt"`
}

// MessagesCard holds unread count and recent inbound messages.
type MessagesCard struct {
	Card
	Unread int              `json:"unread"`
	Recent []MessageSummary `json:"recent"`
}

// TableBookingsCard summarises restaurant bookings.
type TableBookingsCard struct {
	Card
	Today       int `json:"today"`
	CoversToday int `json:"coversToday"`
	Upcoming    int `json:"upcoming"`
}

// PrivateBookingSummary is an upcoming private hire.
type PrivateBookingSummary struct {
	ID           uuid.UUID `json:"id"`
	CustomerName string    `json:"customerName"`
	EventDate    time.Time `json:"eventDate"`
	Status       string    `json:"status"`
	GuestCount   int       `json:"guestCount"`
}

// PrivateBookingsCard lists the next private hires.
type PrivateBookingsCard struct {
	Card
	Upcoming        []PrivateBookingSummary `json:"upcoming"`
	AwaitingDeposit int                     `json:"awaitingDeposit"`
}

// ParkingCard summarises parking bookings.
type ParkingCard struct {
	Card
	ActiveToday    int `json:"activeToday"`
	PendingPayment int `json:"pendingPayment"`
}

// InvoicesCard summarises invoice statuses and balances.
type InvoicesCard struct {
	Card
	StatusCounts map[string]int `json:"statusCounts"`
	OverdueCount int            `json:"overdueCount"`
	OverdueTotal float64        `json:"overdueTotal"`
	UnpaidTotal  float64        `json:"unpaidTotal"`
}

// ReceiptsCard summarises outstanding bank transactions.
type ReceiptsCard struct {
	Card
	Pending      int        `json:"pending"`
	CantFind     int        `json:"cantFind"`
	LastImportAt *time.Time `json:"lastImportAt,omitempty"`
}

// QuotesCard summarises open quotes.
type QuotesCard struct {
	Card
	Pending      int     `json:"pending"`
	PendingTotal float64 `json:"pendingTotal"`
	ExpiringSoon int     `json:"expiringSoon"`
}

// RolesCard counts roles.
type RolesCard struct {
	Card
	Total int `json:"total"`
}

// ShortLinksCard counts links and recent clicks.
type ShortLinksCard struct {
	Card
	Total           int `json:"total"`
	ClicksLast7Days int `json:"clicksLast7Days"`
}

// UsersCard counts staff accounts.
type UsersCard struct {
	Card
	Total int `json:"total"`
}

// LoyaltyCard summarises the loyalty programme.
type LoyaltyCard struct {
	Card
	Members               int `json:"members"`
	PointsIssuedThisMonth int `json:"pointsIssuedThisMonth"`
}
