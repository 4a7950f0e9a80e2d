package vectorresource

import "fmt"

// VRPackVersion identifies the on-disk/wire format version of a VRPack.
type VRPackVersion string

const VRPackV1 VRPackVersion = "V1"

// VRPack is a folder-tree Map VectorResource whose leaves are encoded VRKais
// (spec §3.3/§4.3).
type VRPack struct {
	Version  VRPackVersion
	Resource *VectorResource
}

// NewVRPack creates an empty, V1-versioned VRPack.
func NewVRPack(name, embeddingModel string) *VRPack {
	return &VRPack{Version: VRPackV1, Resource: NewMapResource(name, embeddingModel)}
}

// InsertVRKai encodes kai and inserts it as a leaf at path, creating
// intermediate folder nodes as needed.
func (p *VRPack) InsertVRKai(path string, kai VRKai) error {
	encoded, err := kai.Encode()
	if err != nil {
		return err
	}
	return p.Resource.InsertAtPath(path, TextContent(encoded), nil, nil, Embedding{})
}

// GetVRKai decodes the VRKai stored at path.
func (p *VRPack) GetVRKai(path string) (VRKai, error) {
	n, err := p.Resource.GetAtPath(path)
	if err != nil {
		return VRKai{}, err
	}
	if n.Content.IsResource() {
		return VRKai{}, fmt.Errorf("vectorresource: %q is a folder, not a vrkai leaf", path)
	}
	return DecodeVRKai(n.Content.Text)
}

// CollectAllPaths returns every folder and leaf path in the pack.
func (p *VRPack) CollectAllPaths() []string {
	return p.Resource.CollectAllPaths()
}

// ValidateVersion rejects any version other than the ones this build knows
// how to parse (spec §4.3: "parsers must reject unknown versions").
func ValidateVersion(v VRPackVersion) error {
	switch v {
	case VRPackV1:
		return nil
	default:
		return fmt.Errorf("vectorresource: unknown vrpack version %q", v)
	}
}
