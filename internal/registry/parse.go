// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/efficientgo/core/errors"
)

const hubSectionPrefix = "hub:"

// recognizedKeys are the keys understood in a device section; anything
// else there is a fatal "unknown key" error. "[hub:NAME]" sections are
// opaque and accept any key.
var recognizedKeys = map[string]bool{
	"mac":          true,
	"serial":       true,
	"location":     true,
	"type":         true,
	"chip":         true,
	"hub_name":     true,
	"display-name": true,
}

// parseError carries a file/line location, matching the "file and line
// number" requirement in spec.md section 4.A.
type parseError struct {
	file string
	line int
	msg  string
}

func (e *parseError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.file, e.line, e.msg)
}

// Parse reads a devices.conf document from r (identified as file in
// diagnostics) and returns the fully-parsed registry. All errors
// encountered are aggregated and returned together as a single fatal
// result, per spec.md section 4.A.
func Parse(r io.Reader, file string) (*Registry, error) {
	p := &parser{file: file, hubs: make(map[string]HubConfig), seen: make(map[string]bool)}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		p.line(lineNo, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read registry")
	}
	p.flushSection()

	if len(p.errs) > 0 {
		return nil, errors.Wrap(errors.Join(p.errs...), "failed to parse registry")
	}
	return &Registry{Devices: p.devices, Hubs: p.hubs}, nil
}

type parser struct {
	file string
	errs []error

	devices []Device
	hubs    map[string]HubConfig
	seen    map[string]bool // registered device names; the duplicate check is case-sensitive per I2

	// current section state, flushed on the next header or EOF
	inSection    bool
	sectionName  string
	sectionLine  int
	sectionKV    map[string]string
	sectionOrder []string
}

func (p *parser) addErr(line int, format string, args ...interface{}) {
	p.errs = append(p.errs, &parseError{file: p.file, line: line, msg: fmt.Sprintf(format, args...)})
}

func (p *parser) line(lineNo int, raw string) {
	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
		return
	}

	if strings.HasPrefix(line, "[") {
		if !strings.HasSuffix(line, "]") {
			p.addErr(lineNo, "malformed section header %q", raw)
			return
		}
		p.flushSection()
		name := strings.TrimSpace(line[1 : len(line)-1])
		if name == "" {
			p.addErr(lineNo, "empty section name")
			return
		}
		p.inSection = true
		p.sectionName = name
		p.sectionLine = lineNo
		p.sectionKV = make(map[string]string)
		p.sectionOrder = nil
		return
	}

	key, value, ok := strings.Cut(line, "=")
	if !ok {
		p.addErr(lineNo, "malformed line %q: expected KEY=VALUE", raw)
		return
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)

	if p.inSection {
		if !strings.HasPrefix(p.sectionName, hubSectionPrefix) && !recognizedKeys[key] {
			p.addErr(lineNo, "unknown key %q in section [%s]", key, p.sectionName)
			return
		}
		if _, dup := p.sectionKV[key]; dup {
			p.addErr(lineNo, "duplicate key %q in section [%s]", key, p.sectionName)
			return
		}
		p.sectionKV[key] = value
		p.sectionOrder = append(p.sectionOrder, key)
		return
	}

	// flat form: NAME=VALUE registers a device with identifier VALUE.
	p.registerDevice(Device{
		Name:       key,
		Identity:   IdentityMAC,
		Identifier: value,
		Type:       defaultType,
		line:       lineNo,
	}, lineNo)
}

// flushSection finalizes whatever section is currently open, producing
// either a Device or a HubConfig.
func (p *parser) flushSection() {
	if !p.inSection {
		return
	}
	name := p.sectionName
	line := p.sectionLine
	kv := p.sectionKV
	p.inSection = false

	if strings.HasPrefix(name, hubSectionPrefix) {
		hubName := strings.TrimPrefix(name, hubSectionPrefix)
		if _, dup := p.hubs[hubName]; dup {
			p.addErr(line, "duplicate hub section [%s%s]", hubSectionPrefix, hubName)
			return
		}
		p.hubs[hubName] = HubConfig{Name: hubName, Fields: kv, line: line}
		return
	}

	mac, hasMAC := kv["mac"]
	serial, hasSerial := kv["serial"]
	location, hasLocation := kv["location"]

	if (hasMAC || hasSerial) && hasLocation {
		p.addErr(line, "section [%s] declares both a serial identifier and a location", name)
		return
	}

	dev := Device{
		Name:        name,
		Type:        defaultType,
		Chip:        kv["chip"],
		DisplayName: kv["display-name"],
		HubName:     kv["hub_name"],
		line:        line,
	}
	if t, ok := kv["type"]; ok && t != "" {
		dev.Type = t
	}

	switch {
	case hasMAC:
		dev.Identity = IdentityMAC
		dev.Identifier = mac
	case hasSerial:
		dev.Identity = IdentitySerial
		dev.Identifier = serial
	case hasLocation:
		dev.Identity = IdentityLocation
		dev.Location = location
	default:
		p.addErr(line, "section [%s] declares neither mac/serial nor location", name)
		return
	}

	p.registerDevice(dev, line)
}

func (p *parser) registerDevice(dev Device, line int) {
	if p.seen[dev.Name] {
		p.addErr(line, "duplicate device name %q", dev.Name)
		return
	}
	p.seen[dev.Name] = true
	p.devices = append(p.devices, dev)
}
