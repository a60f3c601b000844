// ABOUTME: Descriptor is the system-facts payload an agent sends first on connect.
// ABOUTME: Decoding keeps the raw object so fields this version does not know survive.

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidDescriptor reports a first frame that cannot identify an agent.
var ErrInvalidDescriptor = errors.New("invalid descriptor")

// CapabilityFlags advertise which optional backends the agent has.
type CapabilityFlags struct {
	Screenshot bool `json:"screenshot"`
	Webcam     bool `json:"webcam"`
	Audio      bool `json:"audio"`
}

// Descriptor describes the agent host.
type Descriptor struct {
	Hostname        string          `json:"hostname"`
	Username        string          `json:"username"`
	Platform        string          `json:"platform,omitempty"`
	PlatformVersion string          `json:"platform_version,omitempty"`
	Architecture    string          `json:"architecture,omitempty"`
	Processor       string          `json:"processor,omitempty"`
	IPAddress       string          `json:"ip_address,omitempty"`
	RuntimeVersion  string          `json:"runtime_version,omitempty"`
	Capabilities    CapabilityFlags `json:"capabilities"`

	// Raw is the object exactly as received. Empty for locally built values.
	Raw json.RawMessage `json:"-"`
}

// ParseDescriptor decodes the first frame of a connection. The hostname and
// username keys must be present; they feed the session identity.
func ParseDescriptor(payload []byte) (Descriptor, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return Descriptor{}, fmt.Errorf("%w: not a JSON object", ErrInvalidDescriptor)
	}
	for _, key := range []string{"hostname", "username"} {
		if _, ok := fields[key]; !ok {
			return Descriptor{}, fmt.Errorf("%w: missing %q", ErrInvalidDescriptor, key)
		}
	}

	var d Descriptor
	if err := json.Unmarshal(payload, &d); err != nil {
		return Descriptor{}, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	d.Raw = append(json.RawMessage(nil), payload...)
	return d, nil
}

// MarshalJSON emits Raw when present so a descriptor relayed by the
// controller is byte-for-byte what the agent sent.
func (d Descriptor) MarshalJSON() ([]byte, error) {
	if len(d.Raw) > 0 {
		return d.Raw, nil
	}
	type plain Descriptor
	return json.Marshal(plain(d))
}
