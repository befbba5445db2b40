// Package intent maps the numeric output of a command detector onto the
// names of an intent model and writes them into a detection payload.
//
// A model lists its intents, its variables and its unit phrases. Variables
// are either phrase variables (one of a fixed list of phrases, e.g. a room)
// or numeric ones. Their phrases form one flat table in declaration order,
// numeric variables taking a single empty slot, and a phrase variable's
// recognised value is its index in that table.
package intent

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

var (
	// ErrUnknownIntent is returned for an intent index outside the model.
	ErrUnknownIntent = errors.New("intent: unknown intent")

	// ErrUnknownVariable is returned for a phrase index outside the model or
	// outside the range of the slot's variable.
	ErrUnknownVariable = errors.New("intent: unknown variable")
)

// Model is an intent model. The zero value is an empty model.
type Model struct {
	Name      string        `yaml:"name"`
	Intents   []IntentDef   `yaml:"intents"`
	Variables []VariableDef `yaml:"variables"`
	Units     []string      `yaml:"units"`
}

// IntentDef is one intent. Slots name the variables the intent takes, in the
// order the detector reports them.
type IntentDef struct {
	Name  string   `yaml:"name"`
	Slots []string `yaml:"slots"`
}

// VariableDef is one model variable.
type VariableDef struct {
	Name    string   `yaml:"name"`
	Numeric bool     `yaml:"numeric"`
	Phrases []string `yaml:"phrases"`
}

// slotCount is the number of phrase table entries v occupies.
func (v VariableDef) slotCount() int {
	if v.Numeric {
		return 1
	}
	return len(v.Phrases)
}

// StandardUnits is the unit phrase table shared by the bundled models.
var StandardUnits = []string{
	"degree", "degrees",
	"percent",
	"level", "levels",
	"hour", "hours",
	"minute", "minutes",
	"second", "seconds",
	"day", "days",
	"",
	"AM",
	"PM",
}

// Smart Lights intent indexes.
const (
	TurnOnLights = iota
	TurnOffLights
	TurnOnAllLights
	ChangeLights
)

// SmartLights returns the Smart Lights model.
func SmartLights() *Model {
	return &Model{
		Name: "Smart_Lights_Demo",
		Intents: []IntentDef{
			TurnOnLights:    {Name: "TurnOnLights", Slots: []string{"LocationLightsOn"}},
			TurnOffLights:   {Name: "TurnOffLights", Slots: []string{"LocationLightsOff"}},
			TurnOnAllLights: {Name: "TurnOnAllLights"},
			ChangeLights:    {Name: "ChangeLights", Slots: []string{"Intensity"}},
		},
		Variables: []VariableDef{
			{Name: "LocationLightsOn", Phrases: []string{"kitchen", "bedroom", "living room"}},
			{Name: "LocationLightsOff", Phrases: []string{"kitchen", "bedroom", "living room"}},
			{Name: "Intensity", Numeric: true},
		},
		Units: append([]string(nil), StandardUnits...),
	}
}

// LED intent indexes.
const (
	LEDTurnOnLight = iota
	LEDIncreaseBrightness
	LEDDecreaseBrightness
	LEDSetBrightness
	LEDToggleLight
	LEDTurnOffLight
)

// LED returns the single-LED model.
func LED() *Model {
	return &Model{
		Name: "LED_Demo",
		Intents: []IntentDef{
			LEDTurnOnLight:        {Name: "TurnOnLight"},
			LEDIncreaseBrightness: {Name: "IncreaseBrightness"},
			LEDDecreaseBrightness: {Name: "DecreaseBrightness"},
			LEDSetBrightness:      {Name: "SetBrightness", Slots: []string{"Brightness"}},
			LEDToggleLight:        {Name: "ToggleLight"},
			LEDTurnOffLight:       {Name: "TurnOffLight"},
		},
		Variables: []VariableDef{
			{Name: "Brightness", Numeric: true},
		},
		Units: append([]string(nil), StandardUnits...),
	}
}

// Cooktop intent indexes.
const (
	CooktopSetPower = iota
	CooktopSetHob
	CooktopOffMic
	CooktopSetTimer
)

// Cooktop returns the cooktop model.
func Cooktop() *Model {
	return &Model{
		Name: "Cooktop_Demo",
		Intents: []IntentDef{
			CooktopSetPower: {Name: "SetPower", Slots: []string{"OnOff"}},
			CooktopSetHob:   {Name: "SetHob", Slots: []string{"Hob"}},
			CooktopOffMic:   {Name: "OffMic"},
			CooktopSetTimer: {Name: "SetTimer", Slots: []string{"Minutes"}},
		},
		Variables: []VariableDef{
			{Name: "OnOff", Phrases: []string{"on", "off"}},
			{Name: "Hob", Numeric: true},
			{Name: "Minutes", Numeric: true},
		},
		Units: append([]string(nil), StandardUnits...),
	}
}

// Builtin returns the bundled model called name. The empty name selects
// Smart Lights.
func Builtin(name string) (*Model, bool) {
	switch name {
	case "", "smart_lights", "Smart_Lights_Demo":
		return SmartLights(), true
	case "led", "LED_Demo":
		return LED(), true
	case "cooktop", "Cooktop_Demo":
		return Cooktop(), true
	}
	return nil, false
}

// LoadModel reads and validates the YAML model at path.
func LoadModel(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("intent: open %q: %w", path, err)
	}
	defer f.Close()

	m, err := ParseModel(f)
	if err != nil {
		return nil, fmt.Errorf("intent: parse %q: %w", path, err)
	}
	return m, nil
}

// ParseModel decodes a YAML model from r and validates it.
func ParseModel(r io.Reader) (*Model, error) {
	m := &Model{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("intent: decode yaml: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks names and slot references. It returns a joined error
// listing every problem.
func (m *Model) Validate() error {
	var errs []error
	if len(m.Intents) == 0 {
		errs = append(errs, errors.New("model has no intents"))
	}
	vars := make(map[string]bool, len(m.Variables))
	for i, v := range m.Variables {
		switch {
		case v.Name == "":
			errs = append(errs, fmt.Errorf("variables[%d]: name is required", i))
		case vars[v.Name]:
			errs = append(errs, fmt.Errorf("variables[%d]: duplicate name %q", i, v.Name))
		}
		vars[v.Name] = true
		if v.Numeric && len(v.Phrases) > 0 {
			errs = append(errs, fmt.Errorf("variables[%d]: numeric variable %q has phrases", i, v.Name))
		}
		if !v.Numeric && len(v.Phrases) == 0 {
			errs = append(errs, fmt.Errorf("variables[%d]: phrase variable %q has no phrases", i, v.Name))
		}
	}
	intents := make(map[string]bool, len(m.Intents))
	for i, in := range m.Intents {
		switch {
		case in.Name == "":
			errs = append(errs, fmt.Errorf("intents[%d]: name is required", i))
		case intents[in.Name]:
			errs = append(errs, fmt.Errorf("intents[%d]: duplicate name %q", i, in.Name))
		}
		intents[in.Name] = true
		for _, s := range in.Slots {
			if !vars[s] {
				errs = append(errs, fmt.Errorf("intents[%d]: slot %q is not a variable", i, s))
			}
		}
	}
	return errors.Join(errs...)
}

// IntentIndex returns the index of the intent called name.
func (m *Model) IntentIndex(name string) (int, bool) {
	for i, in := range m.Intents {
		if in.Name == name {
			return i, true
		}
	}
	return 0, false
}

// PhraseIndex returns the flat phrase table index of phrase within variable.
func (m *Model) PhraseIndex(variable, phrase string) (int, bool) {
	base := 0
	for _, v := range m.Variables {
		if v.Name == variable && !v.Numeric {
			for j, p := range v.Phrases {
				if p == phrase {
					return base + j, true
				}
			}
			return 0, false
		}
		base += v.slotCount()
	}
	return 0, false
}

// Unit returns the unit phrase at idx, or "" when out of range.
func (m *Model) Unit(idx int) string {
	if idx < 0 || idx >= len(m.Units) {
		return ""
	}
	return m.Units[idx]
}

// variable returns the definition called name and the phrase table index of
// its first entry.
func (m *Model) variable(name string) (VariableDef, int, bool) {
	base := 0
	for _, v := range m.Variables {
		if v.Name == name {
			return v, base, true
		}
		base += v.slotCount()
	}
	return VariableDef{}, 0, false
}
