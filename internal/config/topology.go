package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/LeonardoBeccarini/waternet/internal/codec"
	"github.com/LeonardoBeccarini/waternet/internal/model/entities"
)

// Topology is the set of sources and sensors the engine subscribes to.
type Topology struct {
	Sources     []string     `yaml:"sources"`
	SourceCount int          `yaml:"source_count"`
	Sensors     SensorCounts `yaml:"sensors"`
	ExtraTopics []string     `yaml:"extra_topics"`
	// Register creates every enumerated source with zero-valued sensors at startup.
	Register bool `yaml:"register"`
}

type SensorCounts struct {
	Flow     int `yaml:"flow"`
	Pressure int `yaml:"pressure"`
	Valve    int `yaml:"valve"`
}

// LoadTopology reads path; an empty path yields the defaults.
func LoadTopology(path string) (*Topology, error) {
	var t Topology
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("topology %s: %w", path, err)
		}
	}
	t.applyDefaults()
	if err := t.validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Topology) applyDefaults() {
	if len(t.Sources) == 0 {
		if t.SourceCount == 0 {
			t.SourceCount = 10
		}
		for i := 1; i <= t.SourceCount; i++ {
			t.Sources = append(t.Sources, fmt.Sprintf("source%d", i))
		}
	}
	if t.Sensors == (SensorCounts{}) {
		t.Sensors = SensorCounts{Flow: 30, Pressure: 30, Valve: 30}
	}
}

func (t *Topology) validate() error {
	seen := make(map[string]struct{}, len(t.Sources))
	for _, s := range t.Sources {
		if s == "" || strings.ContainsAny(s, "/+#") {
			return fmt.Errorf("topology: invalid source name %q", s)
		}
		if _, dup := seen[s]; dup {
			return fmt.Errorf("topology: duplicate source %q", s)
		}
		seen[s] = struct{}{}
	}
	if t.Sensors.Flow < 0 || t.Sensors.Pressure < 0 || t.Sensors.Valve < 0 {
		return fmt.Errorf("topology: sensor counts must be >= 0")
	}
	return nil
}

func (t *Topology) Counts() map[entities.Kind]int {
	return map[entities.Kind]int{
		entities.KindFlow:     t.Sensors.Flow,
		entities.KindPressure: t.Sensors.Pressure,
		entities.KindValve:    t.Sensors.Valve,
	}
}

// SensorNames lists the enumerated names of one kind.
func (t *Topology) SensorNames(kind entities.Kind) []string {
	n := t.Counts()[kind]
	out := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, codec.SensorName(kind, i))
	}
	return out
}

// Topics is every subscription filter: the enumerated sensor topics
// followed by the extra ones.
func (t *Topology) Topics() []string {
	return append(codec.Enumerate(t.Sources, t.Counts()), t.ExtraTopics...)
}
