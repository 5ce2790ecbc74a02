package rbac

type Role string
type Action string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

const (
	ActionMessage       Action = "message"
	ActionRequestCustom Action = "request_custom"
	ActionQuoteCustom   Action = "quote_custom"
	ActionVerifySelf    Action = "verify_self"
	ActionModerate      Action = "moderate"
	ActionManageWallets Action = "manage_wallets"
	ActionReviewSellers Action = "review_sellers"
	ActionViewAnalytics Action = "view_analytics"
)

// Can reports whether role may perform action.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleSeller:
		return action == ActionMessage || action == ActionRequestCustom || action == ActionQuoteCustom || action == ActionVerifySelf
	case RoleBuyer:
		return action == ActionMessage || action == ActionRequestCustom
	default:
		return false
	}
}

// Valid reports whether role is one of the known roles.
func Valid(role Role) bool {
	switch role {
	case RoleBuyer, RoleSeller, RoleAdmin:
		return true
	default:
		return false
	}
}

// Normalize maps unknown roles to buyer, the least privileged role.
func Normalize(role string) Role {
	if r := Role(role); Valid(r) {
		return r
	}
	return RoleBuyer
}
