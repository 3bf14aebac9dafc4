package app

import "time"

// UserSession is returned after a successful login or company switch. Token
// is delivered as a cookie by the web adapter.
type UserSession struct {
	Token       string    `json:"-"`
	ExpiresAt   time.Time `json:"expires_at"`
	UserID      int       `json:"user_id"`
	Username    string    `json:"username"`
	Role        string    `json:"role"`
	CompanyCode string    `json:"company_code"`
}
