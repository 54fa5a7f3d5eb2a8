package models

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Setting stores a runtime setting as a JSON value keyed by name.
type Setting struct {
	Key   string       `gorm:"type:text;primaryKey"` // Setting key.
	Value SettingValue `gorm:"not null"`             // JSON encoded value.

	UpdatedAt time.Time `gorm:"not null;autoUpdateTime;index"` // Last update timestamp.
}

// SettingValue is a JSON document stored as jsonb on PostgreSQL and as text on
// SQLite, where a json or jsonb column has numeric affinity and would turn
// scalar documents like 3600 into integers.
type SettingValue datatypes.JSON

// GormDataType returns the generic gorm data type.
func (SettingValue) GormDataType() string {
	return "json"
}

// GormDBDataType returns the column type for the connected dialect.
func (SettingValue) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	switch db.Dialector.Name() {
	case "postgres":
		return "jsonb"
	default:
		return "text"
	}
}

// Value encodes the document for the driver.
func (v SettingValue) Value() (driver.Value, error) {
	return datatypes.JSON(v).Value()
}

// Scan decodes a column value. Numeric and boolean column values written by an
// older numeric-affinity schema are accepted as their JSON spelling.
func (v *SettingValue) Scan(value any) error {
	switch raw := value.(type) {
	case int64:
		value = strconv.FormatInt(raw, 10)
	case float64:
		value = strconv.FormatFloat(raw, 'f', -1, 64)
	case bool:
		value = strconv.FormatBool(raw)
	}
	var doc datatypes.JSON
	if errScan := doc.Scan(value); errScan != nil {
		return fmt.Errorf("scan setting value: %w", errScan)
	}
	*v = SettingValue(doc)
	return nil
}

// MarshalJSON returns the raw document.
func (v SettingValue) MarshalJSON() ([]byte, error) {
	return datatypes.JSON(v).MarshalJSON()
}

// UnmarshalJSON stores a copy of the raw document.
func (v *SettingValue) UnmarshalJSON(b []byte) error {
	var doc datatypes.JSON
	if errUnmarshal := doc.UnmarshalJSON(b); errUnmarshal != nil {
		return errUnmarshal
	}
	*v = SettingValue(doc)
	return nil
}

// String returns the document text.
func (v SettingValue) String() string {
	return string(v)
}
