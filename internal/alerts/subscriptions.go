package alerts

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mr-karan/safetyvision/pkg/models"
)

// DefaultSystemSubscriptions returns the built-in recipients every deployment has.
func DefaultSystemSubscriptions() []models.Subscription {
	return []models.Subscription{
		{
			RecipientID: "emergency_operator",
			Channels:    []models.ChannelType{models.ChannelEmail, models.ChannelSMS, models.ChannelAudio, models.ChannelDashboard},
			Severities:  []models.Severity{models.SeverityCritical, models.SeverityEmergency},
			System:      true,
		},
		{
			RecipientID: "safety_manager",
			Channels:    []models.ChannelType{models.ChannelEmail, models.ChannelDashboard},
			Severities:  []models.Severity{models.SeverityWarning, models.SeverityError, models.SeverityCritical, models.SeverityEmergency},
			System:      true,
		},
		{
			RecipientID: "system_admin",
			Channels:    []models.ChannelType{models.ChannelEmail, models.ChannelDashboard, models.ChannelLog},
			Severities:  append([]models.Severity(nil), models.AllSeverities...),
			System:      true,
		},
	}
}

// SubscriptionRegistry holds the immutable system subscriptions followed by
// user subscriptions added at runtime.
type SubscriptionRegistry struct {
	mu     sync.RWMutex
	system []models.Subscription
	user   []models.Subscription
}

// NewSubscriptionRegistry seeds the registry with the system defaults.
func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{system: DefaultSystemSubscriptions()}
}

// ValidateSubscription checks a subscription before registration.
func ValidateSubscription(sub models.Subscription) error {
	if strings.TrimSpace(sub.RecipientID) == "" {
		return fmt.Errorf("%w: recipient_id is required", models.ErrInvalidSubscription)
	}
	if len(sub.Channels) == 0 {
		return fmt.Errorf("%w: at least one channel is required", models.ErrInvalidSubscription)
	}
	for _, ch := range sub.Channels {
		if !ch.Valid() {
			return fmt.Errorf("%w: unknown channel %q", models.ErrInvalidSubscription, ch)
		}
	}
	if len(sub.Severities) == 0 {
		return fmt.Errorf("%w: at least one severity is required", models.ErrInvalidSubscription)
	}
	for _, sev := range sub.Severities {
		if !sev.Valid() {
			return fmt.Errorf("%w: invalid severity %d", models.ErrInvalidSubscription, int(sev))
		}
	}
	if qh := sub.QuietHours; qh != nil {
		if _, err := parseClock(qh.Start); err != nil {
			return fmt.Errorf("%w: quiet_hours.start: %v", models.ErrInvalidSubscription, err)
		}
		if _, err := parseClock(qh.End); err != nil {
			return fmt.Errorf("%w: quiet_hours.end: %v", models.ErrInvalidSubscription, err)
		}
		if qh.Timezone != "" {
			if _, err := time.LoadLocation(qh.Timezone); err != nil {
				return fmt.Errorf("%w: quiet_hours.timezone: %v", models.ErrInvalidSubscription, err)
			}
		}
	}
	return nil
}

// Add validates and appends a user subscription. A recipient may hold several.
func (r *SubscriptionRegistry) Add(sub models.Subscription) error {
	if err := ValidateSubscription(sub); err != nil {
		return err
	}
	sub.System = false
	sub.Channels = slices.Clone(sub.Channels)
	sub.Severities = slices.Clone(sub.Severities)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.user = append(r.user, sub)
	return nil
}

// List returns system subscriptions followed by user subscriptions.
func (r *SubscriptionRegistry) List() []models.Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Subscription, 0, len(r.system)+len(r.user))
	out = append(out, r.system...)
	out = append(out, r.user...)
	return out
}

// Len returns the number of registered subscriptions.
func (r *SubscriptionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.system) + len(r.user)
}

// Matching returns the subscriptions that should receive alert at now.
func (r *SubscriptionRegistry) Matching(alert *models.Alert, now time.Time) []models.Subscription {
	var out []models.Subscription
	for _, sub := range r.List() {
		if Matches(sub, alert, now) {
			out = append(out, sub)
		}
	}
	return out
}

// Matches reports whether sub wants alert at now. Quiet hours only suppress
// alerts below CRITICAL.
func Matches(sub models.Subscription, alert *models.Alert, now time.Time) bool {
	if !slices.Contains(sub.Severities, alert.Severity) {
		return false
	}
	if len(sub.Locations) > 0 && !slices.Contains(sub.Locations, alert.Location) {
		return false
	}
	if len(sub.Sources) > 0 && !slices.Contains(sub.Sources, alert.Source) {
		return false
	}
	if alert.Severity < models.SeverityCritical && InQuietHours(sub.QuietHours, now) {
		return false
	}
	return true
}

// InQuietHours reports whether now falls inside qh. Windows whose end is
// before their start wrap past midnight; an equal start and end is empty.
func InQuietHours(qh *models.QuietHours, now time.Time) bool {
	if qh == nil {
		return false
	}
	start, err := parseClock(qh.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(qh.End)
	if err != nil {
		return false
	}
	if qh.Timezone != "" {
		if loc, err := time.LoadLocation(qh.Timezone); err == nil {
			now = now.In(loc)
		}
	}
	minute := now.Hour()*60 + now.Minute()

	switch {
	case start == end:
		return false
	case start < end:
		return minute >= start && minute < end
	default:
		return minute >= start || minute < end
	}
}

// parseClock converts "HH:MM" to minutes after midnight.
func parseClock(v string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q, want HH:MM", v)
	}
	return t.Hour()*60 + t.Minute(), nil
}
