package entities

// Source is a physical supply point with its flow sensors, pressure sensors
// and valves. Each collection keeps registration order and unique names.
type Source struct {
	Name            string           `json:"name"`
	FlowSensors     []FlowSensor     `json:"flowSensors"`
	PressureSensors []PressureSensor `json:"pressureSensors"`
	Valves          []Valve          `json:"valves"`
}

func (s *Source) FlowSensor(name string) *FlowSensor {
	for i := range s.FlowSensors {
		if s.FlowSensors[i].Name == name {
			return &s.FlowSensors[i]
		}
	}
	return nil
}

func (s *Source) PressureSensor(name string) *PressureSensor {
	for i := range s.PressureSensors {
		if s.PressureSensors[i].Name == name {
			return &s.PressureSensors[i]
		}
	}
	return nil
}

func (s *Source) Valve(name string) *Valve {
	for i := range s.Valves {
		if s.Valves[i].Name == name {
			return &s.Valves[i]
		}
	}
	return nil
}

// Sensor returns a copy of the named sensor of the given kind.
func (s *Source) Sensor(kind Kind, name string) (Sensor, bool) {
	switch kind {
	case KindFlow:
		if f := s.FlowSensor(name); f != nil {
			return *f, true
		}
	case KindPressure:
		if p := s.PressureSensor(name); p != nil {
			return *p, true
		}
	case KindValve:
		if v := s.Valve(name); v != nil {
			return *v, true
		}
	}
	return nil, false
}

// Clone returns a deep copy so callers never share slices with the registry.
func (s Source) Clone() Source {
	out := Source{Name: s.Name}
	if s.FlowSensors != nil {
		out.FlowSensors = append(make([]FlowSensor, 0, len(s.FlowSensors)), s.FlowSensors...)
	}
	if s.PressureSensors != nil {
		out.PressureSensors = append(make([]PressureSensor, 0, len(s.PressureSensors)), s.PressureSensors...)
	}
	if s.Valves != nil {
		out.Valves = append(make([]Valve, 0, len(s.Valves)), s.Valves...)
	}
	return out
}

// Duplicate reports the first sub-entity name that appears twice in one collection.
func (s *Source) Duplicate() (Kind, string, bool) {
	seen := make(map[string]struct{})
	check := func(name string) bool {
		if _, ok := seen[name]; ok {
			return true
		}
		seen[name] = struct{}{}
		return false
	}
	for _, f := range s.FlowSensors {
		if check(f.Name) {
			return KindFlow, f.Name, true
		}
	}
	clear(seen)
	for _, p := range s.PressureSensors {
		if check(p.Name) {
			return KindPressure, p.Name, true
		}
	}
	clear(seen)
	for _, v := range s.Valves {
		if check(v.Name) {
			return KindValve, v.Name, true
		}
	}
	return "", "", false
}
