package app

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-timesheets/internal/timesheet"
)

type rulesFile struct {
	Hours struct {
		MaxDaily  *float64 `toml:"max_daily"`
		MaxWeekly *float64 `toml:"max_weekly"`
		Tolerance *float64 `toml:"tolerance"`
	} `toml:"hours"`
	Weeks struct {
		AllowFuture *bool `toml:"allow_future"`
	} `toml:"weeks"`
	Text struct {
		DescriptionMaxLen *int `toml:"description_max_len"`
		CommentsMaxLen    *int `toml:"comments_max_len"`
	} `toml:"text"`
}

// LoadRules returns the default validation rules overridden by the TOML file at path.
// An empty path yields the defaults.
func LoadRules(path string) (timesheet.Rules, error) {
	rules := timesheet.DefaultRules()
	if path == "" {
		return rules, nil
	}
	var file rulesFile
	meta, err := toml.DecodeFile(path, &file)
	if err != nil {
		return rules, fmt.Errorf("app: decode rules %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return rules, fmt.Errorf("app: unknown rules keys in %s: %v", path, undecoded)
	}
	if v := file.Hours.MaxDaily; v != nil {
		rules.MaxDailyHours = decimal.NewFromFloat(*v)
	}
	if v := file.Hours.MaxWeekly; v != nil {
		rules.MaxWeeklyHours = decimal.NewFromFloat(*v)
	}
	if v := file.Hours.Tolerance; v != nil {
		rules.Tolerance = decimal.NewFromFloat(*v)
	}
	if v := file.Weeks.AllowFuture; v != nil {
		rules.AllowFutureWeeks = *v
	}
	if v := file.Text.DescriptionMaxLen; v != nil {
		rules.DescriptionMaxLen = *v
	}
	if v := file.Text.CommentsMaxLen; v != nil {
		rules.CommentsMaxLen = *v
	}
	if err := checkRules(rules); err != nil {
		return rules, fmt.Errorf("app: rules %s: %w", path, err)
	}
	return rules, nil
}

func checkRules(r timesheet.Rules) error {
	switch {
	case !r.MaxDailyHours.IsPositive() || r.MaxDailyHours.GreaterThan(decimal.NewFromInt(24)):
		return fmt.Errorf("max_daily must be within (0, 24]")
	case r.MaxWeeklyHours.LessThan(r.MaxDailyHours):
		return fmt.Errorf("max_weekly must be at least max_daily")
	case r.Tolerance.IsNegative():
		return fmt.Errorf("tolerance must not be negative")
	case r.DescriptionMaxLen <= 0 || r.CommentsMaxLen <= 0:
		return fmt.Errorf("text limits must be positive")
	}
	return nil
}
