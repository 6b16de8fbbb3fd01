package dashboard

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/venuedesk/venuedesk/internal/platform/db"
)

// Repository loads the data behind each dashboard card. Implementations
// return the card's data fields only; gating is applied by Service.
type Repository interface {
	Events(ctx context.Context, now time.Time) (EventsCard, error)
	Customers(ctx context.Context, now time.Time) (CustomersCard, error)
	Messages(ctx context.Context, now time.Time) (MessagesCard, error)
	TableBookings(ctx context.Context, now time.Time) (TableBookingsCard, error)
	PrivateBookings(ctx context.Context, now time.Time) (PrivateBookingsCard, error)
	Parking(ctx context.Context, now time.Time) (ParkingCard, error)
	Invoices(ctx context.Context, now time.Time) (InvoicesCard, error)
	Receipts(ctx context.Context, now time.Time) (ReceiptsCard, error)
	Quotes(ctx context.Context, now time.Time) (QuotesCard, error)
	Roles(ctx context.Context, now time.Time) (RolesCard, error)
	ShortLinks(ctx context.Context, now time.Time) (ShortLinksCard, error)
	Users(ctx context.Context, now time.Time) (UsersCard, error)
	Loyalty(ctx context.Context, now time.Time) (LoyaltyCard, error)
}

const (
	upcomingEventsLimit   = 10
	recentMessagesLimit   = 5
	privateBookingsLimit  = 5
	tableBookingsHorizon  = 7
	quoteExpiryHorizon    = 7
	shortLinkClicksWindow = 7
)

// PGRepository implements Repository with direct pgx queries.
type PGRepository struct {
	db db.DBTX
}

// NewRepository constructs a PostgreSQL-backed repository.
func NewRepository(conn db.DBTX) *PGRepository {
	return &PGRepository{db: conn}
}

var _ Repository = (*PGRepository)(nil)

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func startOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

func (r *PGRepository) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

const eventSummaryQuery = `SELECT e.id, e.name, e.starts_at, COALESCE(e.capacity, 0),
       COALESCE((SELECT SUM(b.seats) FROM event_bookings b WHERE b.event_id = e.id AND b.status = 'confirmed'), 0)
FROM events e
WHERE e.status <> 'cancelled' AND e.starts_at >= $1 AND e.starts_at < $2
ORDER BY e.starts_at, e.id
LIMIT $3`

func (r *PGRepository) eventSummaries(ctx context.Context, from, to time.Time, limit int) ([]EventSummary, error) {
	rows, err := r.db.Query(ctx, eventSummaryQuery, from, to, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (EventSummary, error) {
		var ev EventSummary
		err := row.Scan(&ev.ID, &ev.Name, &ev.StartsAt, &ev.Capacity, &ev.TicketsSold)
		return ev, err
	})
}

// Events returns today's events, the next ten after today and the upcoming total.
func (r *PGRepository) Events(ctx context.Context, now time.Time) (EventsCard, error) {
	today := startOfDay(now)
	tomorrow := today.AddDate(0, 0, 1)
	var card EventsCard
	var err error
	if card.Today, err = r.eventSummaries(ctx, today, tomorrow, 50); err != nil {
		return EventsCard{}, err
	}
	far := tomorrow.AddDate(10, 0, 0)
	if card.Upcoming, err = r.eventSummaries(ctx, tomorrow, far, upcomingEventsLimit); err != nil {
		return EventsCard{}, err
	}
	card.TotalUpcoming, err = r.count(ctx, `SELECT COUNT(*) FROM events WHERE status <> 'cancelled' AND starts_at >= $1`, tomorrow)
	if err != nil {
		return EventsCard{}, err
	}
	return card, nil
}

// Customers counts all customers and those created this month.
func (r *PGRepository) Customers(ctx context.Context, now time.Time) (CustomersCard, error) {
	var card CustomersCard
	err := r.db.QueryRow(ctx, `SELECT COUNT(*), COUNT(*) FILTER (WHERE created_at >= $1) FROM customers`, startOfMonth(now)).
		Scan(&card.Total, &card.NewThisMonth)
	if err != nil {
		return CustomersCard{}, err
	}
	return card, nil
}

// Messages returns the unread inbound count and the latest inbound messages.
func (r *PGRepository) Messages(ctx context.Context, _ time.Time) (MessagesCard, error) {
	var card MessagesCard
	var err error
	card.Unread, err = r.count(ctx, `SELECT COUNT(*) FROM messages WHERE direction = 'inbound' AND read_at IS NULL`)
	if err != nil {
		return MessagesCard{}, err
	}
	rows, err := r.db.Query(ctx, `SELECT m.id, COALESCE(TRIM(c.first_name || ' ' || COALESCE(c.last_name, '')), m.from_number, ''),
       LEFT(m.body, 140), m.created_at
FROM messages m
LEFT JOIN customers c ON c.id = m.customer_id
WHERE m.direction = 'inbound'
ORDER BY m.created_at DESC
LIMIT $1`, recentMessagesLimit)
	if err != nil {
		return MessagesCard{}, err
	}
	card.Recent, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (MessageSummary, error) {
		var msg MessageSummary
		err := row.Scan(&msg.ID, &msg.CustomerName, &msg.Preview, &msg.ReceivedAt)
		return msg, err
	})
	if err != nil {
		return MessagesCard{}, err
	}
	return card, nil
}

// TableBookings counts today's bookings and covers and the next seven days.
func (r *PGRepository) TableBookings(ctx context.Context, now time.Time) (TableBookingsCard, error) {
	today := startOfDay(now)
	var card TableBookingsCard
	err := r.db.QueryRow(ctx, `SELECT
       COUNT(*) FILTER (WHERE booking_date = $1::date),
       COALESCE(SUM(party_size) FILTER (WHERE booking_date = $1::date), 0),
       COUNT(*) FILTER (WHERE booking_date > $1::date AND booking_date <= $2::date)
FROM table_bookings
WHERE status IN ('pending_payment', 'confirmed', 'seated')`, today, today.AddDate(0, 0, tableBookingsHorizon)).
		Scan(&card.Today, &card.CoversToday, &card.Upcoming)
	if err != nil {
		return TableBookingsCard{}, err
	}
	return card, nil
}

// PrivateBookings lists upcoming private hires and those awaiting a deposit.
func (r *PGRepository) PrivateBookings(ctx context.Context, now time.Time) (PrivateBookingsCard, error) {
	today := startOfDay(now)
	rows, err := r.db.Query(ctx, `SELECT id, TRIM(customer_first_name || ' ' || COALESCE(customer_last_name, '')),
       event_date, status, COALESCE(guest_count, 0)
FROM private_bookings
WHERE event_date >= $1::date AND status <> 'cancelled'
ORDER BY event_date, id
LIMIT $2`, today, privateBookingsLimit)
	if err != nil {
		return PrivateBookingsCard{}, err
	}
	var card PrivateBookingsCard
	card.Upcoming, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (PrivateBookingSummary, error) {
		var pb PrivateBookingSummary
		err := row.Scan(&pb.ID, &pb.CustomerName, &pb.EventDate, &pb.Status, &pb.GuestCount)
		return pb, err
	})
	if err != nil {
		return PrivateBookingsCard{}, err
	}
	card.AwaitingDeposit, err = r.count(ctx, `SELECT COUNT(*) FROM private_bookings
WHERE event_date >= $1::date AND status IN ('draft', 'confirmed') AND deposit_paid_at IS NULL AND deposit_amount > 0`, today)
	if err != nil {
		return PrivateBookingsCard{}, err
	}
	return card, nil
}

// Parking counts bookings active today and those awaiting payment.
func (r *PGRepository) Parking(ctx context.Context, now time.Time) (ParkingCard, error) {
	today := startOfDay(now)
	var card ParkingCard
	err := r.db.QueryRow(ctx, `SELECT
       COUNT(*) FILTER (WHERE start_at < $2 AND end_at >= $1 AND status = 'confirmed'),
       COUNT(*) FILTER (WHERE payment_status = 'pending' AND status <> 'cancelled')
FROM parking_bookings`, today, today.AddDate(0, 0, 1)).
		Scan(&card.ActiveToday, &card.PendingPayment)
	if err != nil {
		return ParkingCard{}, err
	}
	return card, nil
}

// Invoices loads status counts via RPC plus overdue and unpaid totals.
func (r *PGRepository) Invoices(ctx context.Context, now time.Time) (InvoicesCard, error) {
	rows, err := r.db.Query(ctx, `SELECT status, count FROM get_invoice_status_counts()`)
	if err != nil {
		return InvoicesCard{}, err
	}
	card := InvoicesCard{StatusCounts: make(map[string]int)}
	var status string
	var n int
	_, err = pgx.ForEachRow(rows, []any{&status, &n}, func() error {
		card.StatusCounts[status] = n
		return nil
	})
	if err != nil {
		return InvoicesCard{}, err
	}
	err = r.db.QueryRow(ctx, `SELECT
       COUNT(*) FILTER (WHERE due_date < $1::date),
       COALESCE(SUM(total_amount - paid_amount) FILTER (WHERE due_date < $1::date), 0)::float8,
       COALESCE(SUM(total_amount - paid_amount), 0)::float8
FROM invoices
WHERE status IN ('sent', 'partially_paid', 'overdue') AND deleted_at IS NULL`, startOfDay(now)).
		Scan(&card.OverdueCount, &card.OverdueTotal, &card.UnpaidTotal)
	if err != nil {
		return InvoicesCard{}, err
	}
	return card, nil
}

// Receipts counts pending and not-found bank transactions.
func (r *PGRepository) Receipts(ctx context.Context, _ time.Time) (ReceiptsCard, error) {
	var card ReceiptsCard
	err := r.db.QueryRow(ctx, `SELECT
       COUNT(*) FILTER (WHERE status = 'pending'),
       COUNT(*) FILTER (WHERE status = 'cant_find'),
       (SELECT MAX(uploaded_at) FROM receipt_batches)
FROM receipt_transactions`).Scan(&card.Pending, &card.CantFind, &card.LastImportAt)
	if err != nil {
		return ReceiptsCard{}, err
	}
	return card, nil
}

// Quotes counts open quotes, their value and those expiring within a week.
func (r *PGRepository) Quotes(ctx context.Context, now time.Time) (QuotesCard, error) {
	today := startOfDay(now)
	var card QuotesCard
	err := r.db.QueryRow(ctx, `SELECT
       COUNT(*),
       COALESCE(SUM(total_amount), 0)::float8,
       COUNT(*) FILTER (WHERE valid_until >= $1::date AND valid_until <= $2::date)
FROM quotes
WHERE status IN ('draft', 'sent')`, today, today.AddDate(0, 0, quoteExpiryHorizon)).
		Scan(&card.Pending, &card.PendingTotal, &card.ExpiringSoon)
	if err != nil {
		return QuotesCard{}, err
	}
	return card, nil
}

// Roles counts roles.
func (r *PGRepository) Roles(ctx context.Context, _ time.Time) (RolesCard, error) {
	n, err := r.count(ctx, `SELECT COUNT(*) FROM roles`)
	if err != nil {
		return RolesCard{}, err
	}
	return RolesCard{Total: n}, nil
}

// ShortLinks counts links and sums clicks over the last seven days via RPC.
func (r *PGRepository) ShortLinks(ctx context.Context, now time.Time) (ShortLinksCard, error) {
	var card ShortLinksCard
	var err error
	card.Total, err = r.count(ctx, `SELECT COUNT(*) FROM short_links`)
	if err != nil {
		return ShortLinksCard{}, err
	}
	card.ClicksLast7Days, err = r.count(ctx, `SELECT COALESCE(SUM(total_clicks), 0)::int FROM get_short_link_usage_totals($1)`,
		now.AddDate(0, 0, -shortLinkClicksWindow))
	if err != nil {
		return ShortLinksCard{}, err
	}
	return card, nil
}

// Users counts staff accounts.
func (r *PGRepository) Users(ctx context.Context, _ time.Time) (UsersCard, error) {
	n, err := r.count(ctx, `SELECT COUNT(*) FROM users`)
	if err != nil {
		return UsersCard{}, err
	}
	return UsersCard{Total: n}, nil
}

// Loyalty counts active members and points issued this month.
func (r *PGRepository) Loyalty(ctx context.Context, now time.Time) (LoyaltyCard, error) {
	var card LoyaltyCard
	err := r.db.QueryRow(ctx, `SELECT
       (SELECT COUNT(*) FROM loyalty_members WHERE status = 'active'),
       (SELECT COALESCE(SUM(points), 0)::int FROM loyalty_point_transactions WHERE points > 0 AND created_at >= $1)`,
		startOfMonth(now)).Scan(&card.Members, &card.PointsIssuedThisMonth)
	if err != nil {
		return LoyaltyCard{}, err
	}
	return card, nil
}
