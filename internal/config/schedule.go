package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/goccy/go-json"
)

// ScheduleConfig drives the scheduler and supplies the retention policy
// used by the forgetting curve.
type ScheduleConfig struct {
	Timezone        string `json:"timezone"`
	ArchiveDays     int    `json:"archive_days"`
	MonthlySummary  bool   `json:"monthly_summary"`
	DigestTime      string `json:"digest_time,omitempty"`
	ConsolidateTime string `json:"consolidate_time,omitempty"`
	ForgetTime      string `json:"forget_time,omitempty"`
	ForgetDay       int    `json:"forget_day,omitempty"`

	loc *time.Location
}

func DefaultScheduleConfig() *ScheduleConfig {
	return &ScheduleConfig{
		Timezone:        DefaultTimezone,
		ArchiveDays:     DefaultArchiveDays,
		MonthlySummary:  true,
		DigestTime:      DefaultDigestTime,
		ConsolidateTime: DefaultConsolidateTime,
		ForgetTime:      DefaultForgetTime,
		ForgetDay:       DefaultForgetDay,
	}
}

// LoadSchedule reads schedule.json from ConfigDir. found reports whether the
// document existed; defaults are returned when it did not.
func LoadSchedule() (cfg *ScheduleConfig, found bool, err error) {
	return LoadScheduleFrom(SchedulePath())
}

func LoadScheduleFrom(path string) (*ScheduleConfig, bool, error) {
	cfg := DefaultScheduleConfig()
	found := true

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, false, fmt.Errorf("%w: read schedule config: %v", ErrConfig, err)
		}
		found = false
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, false, fmt.Errorf("%w: parse schedule config %s: %v", ErrConfig, path, err)
	}

	if tz := os.Getenv("CLAWBRAIN_TIMEZONE"); tz != "" {
		cfg.Timezone = tz
	}
	if days, ok := envInt("CLAWBRAIN_ARCHIVE_DAYS"); ok {
		cfg.ArchiveDays = days
	}

	cfg.Timezone = strings.TrimSpace(cfg.Timezone)
	if cfg.Timezone == "" {
		cfg.Timezone = DefaultTimezone
	}
	if cfg.DigestTime == "" {
		cfg.DigestTime = DefaultDigestTime
	}
	if cfg.ConsolidateTime == "" {
		cfg.ConsolidateTime = DefaultConsolidateTime
	}
	if cfg.ForgetTime == "" {
		cfg.ForgetTime = DefaultForgetTime
	}
	if cfg.ForgetDay == 0 {
		cfg.ForgetDay = DefaultForgetDay
	}

	if err := cfg.Validate(); err != nil {
		return nil, found, err
	}
	return cfg, found, nil
}

func (s *ScheduleConfig) Validate() error {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return fmt.Errorf("%w: unknown timezone %q: %v", ErrConfig, s.Timezone, err)
	}
	if s.ArchiveDays <= 0 {
		return fmt.Errorf("%w: archive_days must be positive, got %d", ErrConfig, s.ArchiveDays)
	}
	if s.ForgetDay < 1 || s.ForgetDay > 28 {
		return fmt.Errorf("%w: forget_day must be between 1 and 28, got %d", ErrConfig, s.ForgetDay)
	}
	s.loc = loc
	return nil
}

// Location returns the schedule's timezone, UTC when it was never validated.
func (s *ScheduleConfig) Location() *time.Location {
	if s.loc == nil {
		if loc, err := time.LoadLocation(s.Timezone); err == nil {
			s.loc = loc
		} else {
			return time.UTC
		}
	}
	return s.loc
}

func SaveSchedule(cfg *ScheduleConfig) error {
	return saveJSON(SchedulePath(), cfg)
}
