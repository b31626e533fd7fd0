package models

import "time"

// CacheEntry is one key of the SQL-backed key-value store used when Redis is disabled.
type CacheEntry struct {
	Key       string    `gorm:"primaryKey;size:256"`
	Value     []byte
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CacheSetMember is one member of a sorted set held by the SQL-backed store, such as a
// user's session index.
type CacheSetMember struct {
	Key       string  `gorm:"primaryKey;size:256"`
	Member    string  `gorm:"primaryKey;size:128"`
	Score     float64 `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SystemSetting persists installation-wide values, such as a generated signing secret, that
// must survive restarts.
type SystemSetting struct {
	Key       string `gorm:"primaryKey;size:128"`
	Value     string `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
