// SPDX-License-Identifier: Apache-2.0

package hubagent

import (
	"encoding/json"
	"fmt"
)

// textColor is one {"txt":...,"color":...} slot (T1/T2/T3).
type textColor struct {
	Txt   string `json:"txt"`
	Color string `json:"color"`
}

// channelPayload is one "CH<n>" object: a single device-name key
// holding the T1/T2/T3 slots, plus sibling numDev/usbType fields, per
// spec.md section 4.K's wire example. The device name sits beside
// numDev/usbType in the same JSON object, so this needs a custom
// MarshalJSON rather than a plain struct.
type channelPayload struct {
	deviceKey  string
	t1, t2, t3 textColor
	numDev     string
	usbType    string
}

func (c channelPayload) MarshalJSON() ([]byte, error) {
	m := map[string]interface{}{
		"numDev":  c.numDev,
		"usbType": c.usbType,
	}
	if c.deviceKey != "" {
		m[c.deviceKey] = map[string]textColor{"T1": c.t1, "T2": c.t2, "T3": c.t3}
	}
	return json.Marshal(m)
}

// pushMessage is the full `{"action":"set","params":{...}}` object
// pushed to the hub controller.
type pushMessage struct {
	Action string                    `json:"action"`
	Params map[string]channelPayload `json:"params"`
}

// buildPush renders one push for the given channel states (1-based,
// sparse — missing channels are sent as empty/disconnected slots) out
// of numChannels total, per spec.md section 4.K.
func buildPush(states map[int]ChannelState, numChannels int) ([]byte, error) {
	params := make(map[string]channelPayload, numChannels)
	numDev := fmt.Sprintf("%d", len(states))

	for ch := 1; ch <= numChannels; ch++ {
		key := fmt.Sprintf("CH%d", ch)
		state, ok := states[ch]
		if !ok {
			params[key] = channelPayload{numDev: numDev, usbType: "0"}
			continue
		}
		name := state.DisplayName
		if name == "" {
			name = state.Identifier
		}
		params[key] = channelPayload{
			deviceKey: deviceKeyFor(name),
			t1:        textColor{Txt: truncate(name, DisplayNameWidth), Color: string(colorFor(state.State))},
			t2:        textColor{Txt: truncate(string(state.State), DisplayNameWidth), Color: string(colorFor(state.State))},
			t3:        textColor{Txt: truncate(state.Detail, DisplayNameWidth), Color: string(colorFor(state.State))},
			numDev:    numDev,
			usbType:   "2",
		}
	}

	return json.Marshal(pushMessage{Action: "set", Params: params})
}

// deviceKeyFor builds the per-channel device-name JSON key, matching
// the "Dev1_name" shape in spec.md section 4.K's example.
func deviceKeyFor(name string) string {
	if name == "" {
		return "Dev_name"
	}
	return name + "_name"
}
