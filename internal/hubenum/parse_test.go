// SPDX-License-Identifier: Apache-2.0

package hubenum

import (
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	for _, tc := range []struct {
		name   string
		output string
		want   []Entry
	}{
		{
			name: "single hub with ppps, one device one subhub",
			output: "Current status for hub 20-2 [0bda:5411 Generic Billboard Device, USB 2.00, 4 ports, ppps]\n" +
				"  Port 1: 0503 power highspeed enable connect [1a86:7523 QinHeng Electronics AA:AA:AA:AA:AA:AA]\n" +
				"  Port 2: 0100 power\n" +
				"  Port 3: 0503 power highspeed enable connect [0bda:5411 Generic sub-hub, USB 2.00, 4 ports]\n" +
				"  Port 4: 0100 power\n",
			want: []Entry{
				{HubID: "20-2", Port: "1", Identifier: "AA:AA:AA:AA:AA:AA", Descriptor: "0503 power highspeed enable connect [1a86:7523 QinHeng Electronics AA:AA:AA:AA:AA:AA]"},
				{HubID: "20-2", Port: "2", State: PortEmpty, Descriptor: "0100 power"},
				{HubID: "20-2", Port: "3", State: PortHub, Descriptor: "0503 power highspeed enable connect [0bda:5411 Generic sub-hub, USB 2.00, 4 ports]"},
				{HubID: "20-2", Port: "4", State: PortEmpty, Descriptor: "0100 power"},
			},
		},
		{
			name: "hub without ppps capability, no brackets at all",
			output: "Current status for hub 1-1\n" +
				"  Port 1: off\n" +
				"  Port 2: power\n",
			want: []Entry{
				{HubID: "1-1", Port: "1", State: PortUnknown, Descriptor: "off"},
				{HubID: "1-1", Port: "2", State: PortEmpty, Descriptor: "power"},
			},
		},
		{
			name: "multiple hubs, variant whitespace, unknown descriptor",
			output: "Current status for hub 20-3   [ppps]\n" +
				"   Port  1 :   power   highspeed    connect    [deadbeef mystery device]\n" +
				"\n" +
				"Current status for hub 20-4\n" +
				"  Port 1: 0503 power highspeed enable connect [1a86:7523 BB:BB:BB:BB:BB:BB]\n",
			want: []Entry{
				{HubID: "20-3", Port: "1", State: PortUnknown, Descriptor: "power   highspeed    connect    [deadbeef mystery device]"},
				{HubID: "20-4", Port: "1", Identifier: "BB:BB:BB:BB:BB:BB", Descriptor: "0503 power highspeed enable connect [1a86:7523 BB:BB:BB:BB:BB:BB]"},
			},
		},
		{
			name:   "tool missing or empty output yields empty sequence",
			output: "",
			want:   nil,
		},
		{
			name:   "garbage output with no recognizable hub header",
			output: "command not found\n",
			want:   nil,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := Parse(tc.output)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("Parse() = %+v, want %+v", got, tc.want)
			}
		})
	}
}
