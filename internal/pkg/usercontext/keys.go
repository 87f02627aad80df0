package usercontext

// fiber Locals keys.
const (
	KeyUserContext = "portal.user"
	KeyAPIIdentity = "portal.api_identity"
)

// Values stored in the server-side session at login.
const (
	SessionUserID   = "user_id"
	SessionUsername = "username"
)
