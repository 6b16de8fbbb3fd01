package dashboard

import (
	"context"
	"time"

	"github.com/venuedesk/venuedesk/internal/shared"
)

// fetcher loads one card. run writes only the card selected for its module,
// so fetchers may execute concurrently against the same Snapshot.
type fetcher struct {
	module string
	run    func(ctx context.Context, now time.Time, snap *Snapshot) error
}

// bind adapts a repository call into a fetcher. On success the card holds the
// data and is marked permitted; on failure it is reset to zero with failure
// as its error message.
func bind[T any](module, failure string, slot func(*Snapshot) (*T, *Card), load func(context.Context, time.Time) (T, error)) fetcher {
	return fetcher{
		module: module,
		run: func(ctx context.Context, now time.Time, snap *Snapshot) error {
			dst, card := slot(snap)
			data, err := load(ctx, now)
			if err != nil {
				var zero T
				*dst = zero
				*card = Card{Permitted: true, Error: failure}
				return err
			}
			*dst = data
			*card = Card{Permitted: true}
			return nil
		},
	}
}

func fetchersFor(repo Repository) []fetcher {
	return []fetcher{
		bind(shared.ModuleEvents, "Failed to load events",
			func(s *Snapshot) (*EventsCard, *Card) { return &s.Events, &s.Events.Card }, repo.Events),
		bind(shared.ModuleCustomers, "Failed to load customer metrics",
			func(s *Snapshot) (*CustomersCard, *Card) { return &s.Customers, &s.Customers.Card }, repo.Customers),
		bind(shared.ModuleMessages, "Failed to load messages",
			func(s *Snapshot) (*MessagesCard, *Card) { return &s.Messages, &s.Messages.Card }, repo.Messages),
		bind(shared.ModuleTableBookings, "Failed to load table bookings",
			func(s *Snapshot) (*TableBookingsCard, *Card) { return &s.TableBookings, &s.TableBookings.Card }, repo.TableBookings),
		bind(shared.ModulePrivateBookings, "Failed to load private bookings",
			func(s *Snapshot) (*PrivateBookingsCard, *Card) { return &s.PrivateBookings, &s.PrivateBookings.Card }, repo.PrivateBookings),
		bind(shared.ModuleParking, "Failed to load parking bookings",
			func(s *Snapshot) (*ParkingCard, *Card) { return &s.Parking, &s.Parking.Card }, repo.Parking),
		bind(shared.ModuleInvoices, "Failed to load invoices",
			func(s *Snapshot) (*InvoicesCard, *Card) { return &s.Invoices, &s.Invoices.Card }, repo.Invoices),
		bind(shared.ModuleReceipts, "Failed to load receipts",
			func(s *Snapshot) (*ReceiptsCard, *Card) { return &s.Receipts, &s.Receipts.Card }, repo.Receipts),
		bind(shared.ModuleQuotes, "Failed to load quotes",
			func(s *Snapshot) (*QuotesCard, *Card) { return &s.Quotes, &s.Quotes.Card }, repo.Quotes),
		bind(shared.ModuleRoles, "Failed to load roles",
			func(s *Snapshot) (*RolesCard, *Card) { return &s.Roles, &s.Roles.Card }, repo.Roles),
		bind(shared.ModuleShortLinks, "Failed to load short links",
			func(s *Snapshot) (*ShortLinksCard, *Card) { return &s.ShortLinks, &s.ShortLinks.Card }, repo.ShortLinks),
		bind(shared.ModuleUsers, "Failed to load users",
			func(s *Snapshot) (*UsersCard, *Card) { return &s.Users, &s.Users.Card }, repo.Users),
		bind(shared.ModuleLoyalty, "Failed to load loyalty",
			func(s *Snapshot) (*LoyaltyCard, *Card) { return &s.Loyalty, &s.Loyalty.Card }, repo.Loyalty),
	}
}
