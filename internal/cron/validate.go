package cron

import (
	"fmt"
	"strings"

	robfig "github.com/robfig/cron/v3"
)

// Standard 5-field crontab: minute hour dom month dow.
// No seconds, no @descriptors.
var parser = robfig.NewParser(robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow)

// ValidateSchedule reports whether expr is an accepted 5-field expression.
// Schedules always run in UTC, so TZ= and CRON_TZ= prefixes are rejected.
func ValidateSchedule(expr string) error {
	_, err := parseSchedule(expr)
	return err
}

func parseSchedule(expr string) (robfig.Schedule, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return nil, invalidSchedule(fmt.Errorf("empty expression"))
	}
	if strings.HasPrefix(s, "TZ=") || strings.HasPrefix(s, "CRON_TZ=") {
		return nil, invalidSchedule(fmt.Errorf("timezone prefix not supported"))
	}
	if n := len(strings.Fields(s)); n != 5 {
		return nil, invalidSchedule(fmt.Errorf("expected 5 fields, got %d", n))
	}
	sched, err := parser.Parse(s)
	if err != nil {
		return nil, invalidSchedule(err)
	}
	return sched, nil
}
