package ratelimit

import (
	"encoding/json"
	"fmt"
	"sort"

	internalsettings "github.com/router-for-me/throttlegate/internal/settings"
)

// ParseSettings converts throttle_<category>_<field> values into overrides.
// Keys outside the throttle namespace and unknown categories are ignored.
func ParseSettings(values map[string]json.RawMessage) (Overrides, error) {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	overrides := make(Overrides)
	for _, key := range keys {
		name, field, ok := internalsettings.SplitThrottleKey(key)
		if !ok {
			continue
		}
		category, okCategory := ParseCategory(name)
		if !okCategory {
			continue
		}
		raw := values[key]
		patch := overrides[category]
		switch field {
		case internalsettings.FieldEnabled:
			enabled, okParse := internalsettings.ParseBool(raw)
			if !okParse {
				return nil, fmt.Errorf("%w: %s=%s", ErrInvalidSetting, key, raw)
			}
			patch.Enabled = &enabled
		case internalsettings.FieldRequestsPerPeriod:
			limit, okParse := internalsettings.ParseNonNegativeInt(raw)
			if !okParse {
				return nil, fmt.Errorf("%w: %s=%s: %w", ErrInvalidSetting, key, raw, ErrInvalidLimit)
			}
			patch.Limit = &limit
		case internalsettings.FieldPeriodInSeconds:
			period, okParse := internalsettings.ParsePeriodSeconds(raw)
			if !okParse {
				return nil, fmt.Errorf("%w: %s=%s: %w", ErrInvalidSetting, key, raw, ErrInvalidPeriod)
			}
			patch.Period = &period
		}
		overrides[category] = patch
	}
	return overrides, nil
}

// ValidateSetting checks a single setting value. Keys outside the throttle namespace pass.
func ValidateSetting(key string, raw json.RawMessage) error {
	_, errParse := ParseSettings(map[string]json.RawMessage{key: raw})
	return errParse
}

// ReloadSettings parses values and reloads the store with them.
func (s *ConfigStore) ReloadSettings(values map[string]json.RawMessage) (Snapshot, error) {
	overrides, errParse := ParseSettings(values)
	if errParse != nil {
		return s.Current(), errParse
	}
	return s.Reload(overrides)
}

// SnapshotSettings renders a snapshot back into setting values.
func SnapshotSettings(s Snapshot) map[string]any {
	out := make(map[string]any, len(Categories)*len(internalsettings.Fields))
	for _, c := range Categories {
		rule := s.Rule(c)
		out[internalsettings.ThrottleKey(c.String(), internalsettings.FieldEnabled)] = rule.Enabled
		out[internalsettings.ThrottleKey(c.String(), internalsettings.FieldRequestsPerPeriod)] = rule.Limit
		out[internalsettings.ThrottleKey(c.String(), internalsettings.FieldPeriodInSeconds)] = rule.Period.Seconds()
	}
	return out
}
