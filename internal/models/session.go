package models

// Session is the record persisted in the key-value store for one login. Timestamps are
// epoch milliseconds so the encoded form stays stable across stores.
type Session struct {
	UserID            string `json:"userId"`
	UserAgent         string `json:"userAgent,omitempty"`
	IPAddress         string `json:"ipAddress,omitempty"`
	CreatedAt         int64  `json:"createdAt"`
	LastSeenAt        int64  `json:"lastSeenAt"`
	AbsoluteExpiresAt int64  `json:"absoluteExpiresAt"`
	IdleExpiresAt     int64  `json:"idleExpiresAt"`
	RefreshHash       string `json:"refreshHash"`
	RevokedAt         *int64 `json:"revokedAt"`
}

// Revoked reports whether the session carries a revocation stamp.
func (s *Session) Revoked() bool {
	return s != nil && s.RevokedAt != nil
}
