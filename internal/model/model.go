package model

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// DefaultDeviceID is stored when a scan arrives without a device id.
const DefaultDeviceID = "unknown"

// AttendanceRecord is one accepted scan. Records are never updated or deleted.
type AttendanceRecord struct {
	ID        int64     `json:"id" db:"id"`
	Barcode   string    `json:"barcode" db:"barcode"`
	DeviceID  string    `json:"device_id" db:"device_id"`
	Timestamp time.Time `json:"timestamp" db:"scanned_at"`
}

// Stats summarises attendance activity.
type Stats struct {
	Total            int64  `json:"total"`
	TotalToday       int64  `json:"total_today"`
	TotalWeek        int64  `json:"total_week"`
	UniqueToday      int64  `json:"unique_today"`
	MostActiveDevice string `json:"most_active_device"`
}

// DeviceActivity is a device's scan count for the current day.
type DeviceActivity struct {
	DeviceID   string `json:"device_id" db:"device_id"`
	ScansToday int64  `json:"scans_today" db:"scans_today"`
}

// Role is an account's authorization tier.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole accepts only the two defined roles.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser:
		return RoleUser, nil
	case RoleAdmin:
		return RoleAdmin, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Valid reports whether r is a defined role.
func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

// Scan rejects role values that are not defined.
func (r *Role) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("role: unsupported type %T", src)
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Value implements driver.Valuer.
func (r Role) Value() (driver.Value, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("unknown role %q", string(r))
	}
	return string(r), nil
}

// User is the public account shape. It never carries the password hash.
type User struct {
	ID        int64     `json:"id" db:"id"`
	Username  string    `json:"username" db:"username"`
	Role      Role      `json:"role" db:"role"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Credentials is the internal shape used to check a password.
type Credentials struct {
	User
	PasswordHash string `json:"-" db:"password_hash"`
}
