package bus

import (
	"bytes"
	"encoding/json"
)

// NATSConfig holds the connection settings for the out-of-process Store,
// used when FlowSentry is started with -P (spec §6). Mirrors the shape of
// the teacher's nats.NatsConfig: a server address plus optional
// username/password or credentials-file authentication.
type NATSConfig struct {
	Address       string `json:"address"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	CredsFilePath string `json:"creds-file-path"`
}

// NATSConfigSchema is a JSON schema for a "nats" config section. It is
// not referenced elsewhere: internal/config validates the "nats" section
// of the config file with the schema in its own schema.go.
const NATSConfigSchema = `{
    "type": "object",
    "description": "Configuration for the out-of-process shared state store.",
    "properties": {
        "address": {
            "description": "Address of the NATS server (e.g., 'nats://localhost:4222').",
            "type": "string"
        },
        "username": { "type": "string" },
        "password": { "type": "string" },
        "creds-file-path": { "type": "string" }
    },
    "required": ["address"]
}`

// DecodeNATSConfig parses a raw JSON "nats" config section.
func DecodeNATSConfig(rawConfig json.RawMessage) (NATSConfig, error) {
	var cfg NATSConfig
	if rawConfig == nil {
		return cfg, nil
	}
	dec := json.NewDecoder(bytes.NewReader(rawConfig))
	dec.DisallowUnknownFields()
	err := dec.Decode(&cfg)
	return cfg, err
}
