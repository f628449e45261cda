package model

type (
	// ServerManifest is the public discovery document a node serves to anyone
	// who asks. It never contains private key material.
	ServerManifest struct {
		ServerID     string   `json:"server_id"`
		PublicKey    []byte   `json:"public_key"`
		Endpoint     string   `json:"endpoint,omitempty"`
		Version      string   `json:"version"`
		Capabilities []string `json:"capabilities"`
		Plugins      []string `json:"plugins,omitempty"`
	}
)
