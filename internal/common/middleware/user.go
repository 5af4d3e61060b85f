package middleware

import "github.com/gin-gonic/gin"

// Context keys set by the auth middlewares.
const (
	UserIDKey           = "user_id"
	WalletKey           = "wallet_address"
	AuthMethodKey       = "auth_method"
	AdminKey            = "is_admin"
	TelegramIDKey       = "telegram_id"
	TelegramUsernameKey = "telegram_username"
)

// Values stored under AuthMethodKey.
const (
	AuthBearer   = "bearer"
	AuthInitData = "init_data"
	AuthLegacy   = "legacy_telegram_id"
)

func setIdentity(c *gin.Context, userID int64, wallet, method string) {
	c.Set(UserIDKey, userID)
	c.Set(WalletKey, wallet)
	c.Set(AuthMethodKey, method)
}

// GetUserID returns the authenticated user id or 0.
func GetUserID(c *gin.Context) int64 {
	if v, ok := c.Get(UserIDKey); ok {
		if id, ok := v.(int64); ok {
			return id
		}
	}
	return 0
}

// GetWallet returns the wallet proven by the session, if any.
func GetWallet(c *gin.Context) string {
	return c.GetString(WalletKey)
}

// GetTelegramID returns the Telegram account proven by WalletLink or 0.
func GetTelegramID(c *gin.Context) int64 {
	return c.GetInt64(TelegramIDKey)
}

// GetTelegramUsername returns the username carried by validated init data.
func GetTelegramUsername(c *gin.Context) string {
	return c.GetString(TelegramUsernameKey)
}

// GetAuthMethod reports how the caller authenticated.
func GetAuthMethod(c *gin.Context) string {
	return c.GetString(AuthMethodKey)
}

// IsAdmin reports whether RequireAdmin accepted the request.
func IsAdmin(c *gin.Context) bool {
	return c.GetBool(AdminKey)
}
