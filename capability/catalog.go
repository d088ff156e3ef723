package capability

const (
	KeyTicketsManage    = "tickets.manage"
	KeyEventsManage     = "events.manage"
	KeyMembersManage    = "members.manage"
	KeySettingsManage   = "settings.manage"
	KeyStorefrontManage = "storefront.manage"
)

// Builtin lists the capabilities seeded into every tenant catalog.
var Builtin = []Capability{
	{Key: KeyTicketsManage, Name: "Manage tickets", Description: "Create, edit and void tickets"},
	{Key: KeyEventsManage, Name: "Manage events", Description: "Create and edit events"},
	{Key: KeyMembersManage, Name: "Manage members", Description: "Invite and remove members"},
	{Key: KeySettingsManage, Name: "Manage settings", Description: "Edit organization settings"},
	{Key: KeyStorefrontManage, Name: "Manage storefront", Description: "Edit storefront content"},
}
