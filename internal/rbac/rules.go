package rbac

const (
	RoleGuest = "guest"
	RoleUser  = "user"
	RoleAdmin = "admin"
)

const (
	PermQuizGenerate   = "quiz:generate"
	PermSessionPlay    = "session:play"
	PermAttemptSave    = "attempt:save"
	PermAttemptViewOwn = "attempt:view-own"
	PermUsageView      = "usage:view"
	PermBillingBuy     = "billing:checkout"
	PermUsageGrant     = "usage:grant"
	PermEventsView     = "events:view"
	PermPasswordChange = "account:password"
)

// RolePermissions is the default policy. Guests cannot buy unlimited use.
var RolePermissions = map[string][]string{
	RoleGuest: {
		PermQuizGenerate,
		PermSessionPlay,
		"attempt:*",
		PermUsageView,
	},
	RoleUser: {
		PermQuizGenerate,
		PermSessionPlay,
		"attempt:*",
		PermUsageView,
		PermBillingBuy,
		PermPasswordChange,
	},
	RoleAdmin: {
		"*",
	},
}
