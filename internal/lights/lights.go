// Package lights is the consumer-side application. It applies recognised
// Smart Lights intents to three room light levels and renders telemetry
// snapshots of the result.
package lights

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/vabridge/internal/phonetic"
	"github.com/MrWong99/vabridge/pkg/payload"
)

// Version is reported in every telemetry snapshot.
const Version = "1.0.0"

// Light levels.
const (
	LevelOff = 0
	LevelMax = 10
)

// Room indexes a light.
type Room int

const (
	Kitchen Room = iota
	Bedroom
	LivingRoom
	roomCount
)

var roomNames = [roomCount]string{"kitchen", "bedroom", "living room"}

// String returns the room phrase used by the intent model.
func (r Room) String() string {
	if r < 0 || r >= roomCount {
		return fmt.Sprintf("room(%d)", int(r))
	}
	return roomNames[r]
}

var (
	// ErrUnknownIntent is returned for an intent the controller does not handle.
	ErrUnknownIntent = errors.New("lights: unknown intent")

	// ErrUnknownRoom is returned for a room parameter that matches no room.
	ErrUnknownRoom = errors.New("lights: unknown room")

	// ErrInvalidLevel is returned for a level outside 0..10.
	ErrInvalidLevel = errors.New("lights: invalid light level")
)

// Telemetry is one published snapshot.
type Telemetry struct {
	Version          string `json:"version"`
	Kitchen          int    `json:"ll_kitchen"`
	Bedroom          int    `json:"ll_bedroom"`
	LivingRoom       int    `json:"ll_living_room"`
	Event            string `json:"event"`
	HasEvent         bool   `json:"has_event"`
	MicrophoneActive bool   `json:"microphone_active"`
}

// LogValue renders t as a group of log attributes.
func (t Telemetry) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("version", t.Version),
		slog.Int("ll_kitchen", t.Kitchen),
		slog.Int("ll_bedroom", t.Bedroom),
		slog.Int("ll_living_room", t.LivingRoom),
		slog.String("event", t.Event),
		slog.Bool("has_event", t.HasEvent),
		slog.Bool("microphone_active", t.MicrophoneActive),
	)
}

// Controller holds the light levels. It is safe for concurrent use.
type Controller struct {
	rooms *phonetic.Matcher

	mu     sync.Mutex
	levels [roomCount]int
}

// New returns a controller with only the living room lit.
func New() *Controller {
	c := &Controller{rooms: phonetic.New(roomNames[:])}
	c.levels[LivingRoom] = LevelMax
	return c
}

// Level returns the current level of r.
func (c *Controller) Level(r Room) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.levels[r]
}

// Apply updates the levels from the intent carried by p. Payloads without
// an intent leave the levels untouched. A rejected intent returns an error
// wrapping one of the package sentinels and changes nothing.
func (c *Controller) Apply(p *payload.DetectionPayload) error {
	if p.IntentName == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	switch p.IntentName {
	case "TurnOnAllLights":
		for r := range c.levels {
			c.levels[r] = LevelMax
		}
	case "TurnOnLights", "TurnOffLights":
		r, err := c.room(p.IntentParamText)
		if err != nil {
			return err
		}
		if p.IntentName == "TurnOnLights" {
			c.levels[r] = LevelMax
		} else {
			c.levels[r] = LevelOff
		}
	case "ChangeLights":
		level := int(p.IntentParamNumber)
		if level < LevelOff || level > LevelMax {
			return fmt.Errorf("%w: %d", ErrInvalidLevel, level)
		}
		// Only lit rooms follow a level change.
		for r := range c.levels {
			if c.levels[r] > LevelOff {
				c.levels[r] = level
			}
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownIntent, p.IntentName)
	}
	return nil
}

func (c *Controller) room(param string) (Room, error) {
	name, _, ok := c.rooms.Match(param)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownRoom, param)
	}
	for r, n := range roomNames {
		if n == name {
			return Room(r), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRoom, param)
}

// Snapshot renders the current levels together with the event fields of p.
func (c *Controller) Snapshot(p *payload.DetectionPayload) Telemetry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Telemetry{
		Version:          Version,
		Kitchen:          c.levels[Kitchen],
		Bedroom:          c.levels[Bedroom],
		LivingRoom:       c.levels[LivingRoom],
		Event:            p.Event,
		HasEvent:         p.HasEvent,
		MicrophoneActive: p.SourceActive,
	}
}
