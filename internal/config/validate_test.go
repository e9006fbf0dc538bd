package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAgainstSchemaAcceptsKnownFields(t *testing.T) {
	err := validateAgainstSchema(configSchema, []byte(`{"tw_width": 1800, "disable": ["arp"]}`))
	assert.NoError(t, err)
}

func TestValidateAgainstSchemaRejectsUnknownType(t *testing.T) {
	err := validateAgainstSchema(configSchema, []byte(`{"tw_width": "not-a-number"}`))
	assert.Error(t, err)
}

func TestValidateAgainstSchemaRejectsMalformedInstance(t *testing.T) {
	err := validateAgainstSchema(configSchema, []byte(`{not json`))
	assert.Error(t, err)
}
