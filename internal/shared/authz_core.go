package shared

// Business modules known to the permission system. Names match the
// module_name column returned by get_user_permissions.
const (
	ModuleEvents          = "events"
	ModuleCustomers       = "customers"
	ModuleMessages        = "messages"
	ModuleTableBookings   = "table_bookings"
	ModulePrivateBookings = "private_bookings"
	ModuleParking         = "parking"
	ModuleInvoices        = "invoices"
	ModuleReceipts        = "receipts"
	ModuleQuotes          = "quotes"
	ModuleRoles           = "roles"
	ModuleShortLinks      = "short_links"
	ModuleUsers           = "users"
	ModuleLoyalty         = "loyalty"
)

// Actions that may be granted on a module.
const (
	ActionView    = "view"
	ActionCreate  = "create"
	ActionEdit    = "edit"
	ActionDelete  = "delete"
	ActionExport  = "export"
	ActionManage  = "manage"
	ActionSend    = "send"
	ActionApprove = "approve"
)

// Permission strings checked by route middleware.
const (
	PermRolesView   = "roles.view"
	PermRolesEdit   = "roles.edit"
	PermRolesManage = "roles.manage"

	PermReceiptsView   = "receipts.view"
	PermReceiptsEdit   = "receipts.edit"
	PermReceiptsManage = "receipts.manage"

	PermShortLinksView   = "short_links.view"
	PermShortLinksCreate = "short_links.create"
	PermShortLinksManage = "short_links.manage"

	PermUsersView   = "users.view"
	PermUsersManage = "users.manage"
)

// Perm joins a module and action into the dotted form used by middleware.
func Perm(module, action string) string {
	return module + "." + action
}

// Modules lists every module in dashboard display order.
func Modules() []string {
	return []string{
		ModuleEvents,
		ModuleCustomers,
		ModuleMessages,
		ModuleTableBookings,
		ModulePrivateBookings,
		ModuleParking,
		ModuleInvoices,
		ModuleReceipts,
		ModuleQuotes,
		ModuleRoles,
		ModuleShortLinks,
		ModuleUsers,
		ModuleLoyalty,
	}
}

// RecognizedActions lists the actions that count towards module visibility.
func RecognizedActions() []string {
	return []string{
		ActionView,
		ActionCreate,
		ActionEdit,
		ActionDelete,
		ActionExport,
		ActionManage,
		ActionSend,
		ActionApprove,
	}
}
