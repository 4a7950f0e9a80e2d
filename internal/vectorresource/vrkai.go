package vectorresource

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// VRKai is a single encoded VectorResource plus optional source file bytes,
// carried as base64 (spec §3.3/§4.3).
type VRKai struct {
	Resource   *VectorResource `json:"resource"`
	SourceFile []byte          `json:"source_file,omitempty"`
}

// vrkaiWire is the canonical JSON shape encoded/decoded for VRKai, kept
// separate from VRKai itself so callers never need to think about the
// base64 layer.
type vrkaiWire struct {
	Resource   json.RawMessage `json:"resource"`
	SourceFile string          `json:"source_file,omitempty"`
}

// Encode renders base64(json(VRKai)) (spec §4.3/§6).
func (v VRKai) Encode() (string, error) {
	resourceJSON, err := json.Marshal(v.Resource)
	if err != nil {
		return "", fmt.Errorf("vectorresource: marshal vrkai resource: %w", err)
	}

	wire := vrkaiWire{Resource: resourceJSON}
	if len(v.SourceFile) > 0 {
		wire.SourceFile = base64.StdEncoding.EncodeToString(v.SourceFile)
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("vectorresource: marshal vrkai wire: %w", err)
	}

	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeVRKai reverses Encode.
func DecodeVRKai(encoded string) (VRKai, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return VRKai{}, fmt.Errorf("vectorresource: decode vrkai base64: %w", err)
	}

	var wire vrkaiWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return VRKai{}, fmt.Errorf("vectorresource: unmarshal vrkai wire: %w", err)
	}

	var resource VectorResource
	if err := json.Unmarshal(wire.Resource, &resource); err != nil {
		return VRKai{}, fmt.Errorf("vectorresource: unmarshal vrkai resource: %w", err)
	}

	var sourceFile []byte
	if wire.SourceFile != "" {
		sourceFile, err = base64.StdEncoding.DecodeString(wire.SourceFile)
		if err != nil {
			return VRKai{}, fmt.Errorf("vectorresource: decode vrkai source file: %w", err)
		}
	}

	return VRKai{Resource: &resource, SourceFile: sourceFile}, nil
}
