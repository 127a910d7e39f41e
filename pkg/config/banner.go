package config

import (
	"strings"

	"github.com/apex/log"
)

// Fields summarises the effective configuration for the startup banner.
// Secrets are masked.
func (c *PlatformConfig) Fields() log.Fields {
	return log.Fields{
		"project":      c.Project,
		"subscription": c.MessagingConfig.SubscriptionURL,
		"bucket":       c.StorageConfig.URL,
		"blocks_url":   c.NotifierConfig.URL,
		"blocks_token": MaskSecret(c.NotifierConfig.Token),
		"ml_model":     c.InferenceConfig.Model,
		"iot_backend":  c.DeviceConfig.Backend,
		"iot_registry": c.DeviceConfig.Registry,
		"iot_region":   c.DeviceConfig.Region,
		"ack_policy":   c.AckPolicy,
	}
}

func MaskSecret(s string) string {
	return strings.Repeat("*", len([]rune(s)))
}
