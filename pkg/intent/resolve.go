package intent

import (
	"fmt"

	"github.com/MrWong99/vabridge/pkg/detect"
	"github.com/MrWong99/vabridge/pkg/payload"
)

// Resolve writes the command described by res and text into dst as a
// qualifying event. The i-th reported variable fills the i-th slot of the
// intent; the first phrase slot becomes the text parameter and the first
// numeric slot the number parameter. Variables beyond the intent's slots are
// ignored.
//
// dst keeps its SourceActive flag and is only written on success.
func (m *Model) Resolve(res *detect.Result, text string, dst *payload.DetectionPayload) error {
	if res.IntentIndex < 0 || res.IntentIndex >= len(m.Intents) {
		return fmt.Errorf("%w: index %d", ErrUnknownIntent, res.IntentIndex)
	}
	in := m.Intents[res.IntentIndex]

	p := payload.DetectionPayload{SourceActive: dst.SourceActive, HasEvent: true}
	if err := p.SetEvent(text); err != nil {
		return err
	}
	if err := p.SetIntent(in.Name); err != nil {
		return err
	}

	var haveText, haveNumber bool
	for i, v := range res.Variables {
		if i >= len(in.Slots) {
			break
		}
		def, base, ok := m.variable(in.Slots[i])
		if !ok {
			return fmt.Errorf("%w: slot %q of %s", ErrUnknownVariable, in.Slots[i], in.Name)
		}
		if def.Numeric {
			if !haveNumber {
				p.IntentParamNumber = v.Value
				haveNumber = true
			}
			continue
		}
		idx := int(v.Value) - base
		if idx < 0 || idx >= len(def.Phrases) {
			return fmt.Errorf("%w: phrase %d is not a %s value", ErrUnknownVariable, v.Value, def.Name)
		}
		if haveText {
			continue
		}
		if err := p.SetParamText(def.Phrases[idx]); err != nil {
			return err
		}
		haveText = true
	}

	*dst = p
	return nil
}
