package config

var configSchema = `
{
  "type": "object",
  "properties": {
    "packet_filter": {
      "description": "BPF-style filter expression passed to the capture tool.",
      "type": "string"
    },
    "tcp_inactivity_timeout": {
      "description": "Inactivity timeout passed to the capture tool (e.g. '60s').",
      "type": "string"
    },
    "home_network": {
      "description": "CIDRs considered local for gateway/home-network classification.",
      "type": "array",
      "items": { "type": "string" }
    },
    "tw_width": {
      "description": "Time window width in seconds.",
      "type": "integer",
      "minimum": 1
    },
    "detection_threshold": {
      "description": "Accumulated-threat threshold (attacks/min) that triggers an alert.",
      "type": "number",
      "exclusiveMinimum": 0
    },
    "popup_alerts": { "type": "boolean" },
    "delete_zeek_files": { "type": "boolean" },
    "store_zeek_files_copy": { "type": "boolean" },
    "disable": {
      "description": "Detection module names to exclude from the run.",
      "type": "array",
      "items": { "type": "string" }
    },
    "verbose": { "type": "integer", "minimum": 0, "maximum": 3 },
    "debug": { "type": "integer", "minimum": 0, "maximum": 3 },
    "gateway_ip": { "type": "string" },
    "gateway_mac": { "type": "string" },
    "whitelist_path": { "type": "string" },
    "asn": {
      "type": "object",
      "properties": {
        "geolite_db_path": { "type": "string" },
        "rdap_base_url": { "type": "string" },
        "online_lookup_url": { "type": "string" },
        "cache_ttl": { "type": "string" }
      }
    },
    "nats": {
      "type": "object",
      "properties": {
        "address": { "type": "string" },
        "username": { "type": "string" },
        "password": { "type": "string" },
        "creds-file-path": { "type": "string" }
      }
    },
    "snapshot_path": { "type": "string" }
  },
  "additionalProperties": false
}`
