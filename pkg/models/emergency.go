package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// EmergencyLevel is the coarse stop-controller scale, separate from Severity.
// Ordering contract: LOW < MEDIUM < HIGH < CRITICAL.
type EmergencyLevel int

const (
	EmergencyLow      EmergencyLevel = 1
	EmergencyMedium   EmergencyLevel = 2
	EmergencyHigh     EmergencyLevel = 3
	EmergencyCritical EmergencyLevel = 4
)

var emergencyLevelNames = map[EmergencyLevel]string{
	EmergencyLow:      "LOW",
	EmergencyMedium:   "MEDIUM",
	EmergencyHigh:     "HIGH",
	EmergencyCritical: "CRITICAL",
}

func (l EmergencyLevel) String() string {
	if name, ok := emergencyLevelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("EmergencyLevel(%d)", int(l))
}

// Valid reports whether l is a defined level.
func (l EmergencyLevel) Valid() bool {
	_, ok := emergencyLevelNames[l]
	return ok
}

// ParseEmergencyLevel converts a case-insensitive level name.
func ParseEmergencyLevel(v string) (EmergencyLevel, error) {
	name := strings.ToUpper(strings.TrimSpace(v))
	for lvl, n := range emergencyLevelNames {
		if n == name {
			return lvl, nil
		}
	}
	return 0, fmt.Errorf("unknown emergency level %q", v)
}

func (l EmergencyLevel) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid emergency level %d", int(l))
	}
	return []byte(l.String()), nil
}

func (l *EmergencyLevel) UnmarshalText(b []byte) error {
	parsed, err := ParseEmergencyLevel(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Well-known sensor keys.
const (
	SensorRadiation = "radiation_level"
	SensorTemp      = "temperature"
	SensorProximity = "proximity_distance"
	// SensorGasPrefix prefixes per-gas readings in ppm, e.g. "gas.hydrogen".
	SensorGasPrefix = "gas."
)

// SensorSnapshot is a flat set of readings keyed by sensor name.
type SensorSnapshot map[string]float64

// Gases returns the gas readings in the snapshot keyed by gas name, in sorted order.
func (s SensorSnapshot) Gases() []GasReading {
	var out []GasReading
	for k, v := range s {
		if name, ok := strings.CutPrefix(k, SensorGasPrefix); ok && name != "" {
			out = append(out, GasReading{Gas: name, PPM: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Gas < out[j].Gas })
	return out
}

// Payload converts the snapshot into a generic alert payload.
func (s SensorSnapshot) Payload() map[string]any {
	if len(s) == 0 {
		return nil
	}
	out := make(map[string]any, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// GasReading is one tracked gas concentration.
type GasReading struct {
	Gas string
	PPM float64
}

// EmergencyEvent is a transient threshold breach driving the stop controller.
type EmergencyEvent struct {
	Level              EmergencyLevel `json:"level"`
	Trigger            string         `json:"trigger"`
	Description        string         `json:"description"`
	Timestamp          time.Time      `json:"timestamp"`
	Sensors            SensorSnapshot `json:"sensors,omitempty"`
	Location           string         `json:"location,omitempty"`
	RequiresEvacuation bool           `json:"requires_evacuation"`
}

// EmergencyThresholds are the static classification limits.
type EmergencyThresholds struct {
	RadiationCritical   float64            `json:"radiation_critical" koanf:"radiation_critical"`
	RadiationHigh       float64            `json:"radiation_high" koanf:"radiation_high"`
	TemperatureCritical float64            `json:"temperature_critical" koanf:"temperature_critical"`
	GasCritical         map[string]float64 `json:"gas_critical" koanf:"gas_critical"`
	ProximityEmergency  float64            `json:"proximity_emergency" koanf:"proximity_emergency"`
}

// DefaultEmergencyThresholds returns the factory limits (mSv/h, °C, ppm, m).
func DefaultEmergencyThresholds() EmergencyThresholds {
	return EmergencyThresholds{
		RadiationCritical:   2.0,
		RadiationHigh:       1.0,
		TemperatureCritical: 80,
		GasCritical: map[string]float64{
			"hydrogen":        4000,
			"carbon_monoxide": 200,
		},
		ProximityEmergency: 0.5,
	}
}

// EmergencyStatus is the read-only view of the stop controller.
type EmergencyStatus struct {
	Active     bool                `json:"is_active"`
	Current    *EmergencyEvent     `json:"current_emergency,omitempty"`
	Count      int                 `json:"emergency_count"`
	Last       *EmergencyEvent     `json:"last_emergency,omitempty"`
	Thresholds EmergencyThresholds `json:"thresholds"`
}

// Emergency transition kinds.
const (
	EmergencyTriggered = "triggered"
	EmergencyReset     = "reset"
)

// EmergencyRecord is one controller transition, as persisted and broadcast.
type EmergencyRecord struct {
	Kind       string          `json:"kind"`
	Event      *EmergencyEvent `json:"event,omitempty"`
	OperatorID string          `json:"operator_id,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	At         time.Time       `json:"at"`
}

// Clone returns a deep copy of the thresholds.
func (t EmergencyThresholds) Clone() EmergencyThresholds {
	out := t
	if t.GasCritical != nil {
		out.GasCritical = make(map[string]float64, len(t.GasCritical))
		for k, v := range t.GasCritical {
			out.GasCritical[k] = v
		}
	}
	return out
}
