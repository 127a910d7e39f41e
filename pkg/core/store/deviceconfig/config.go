package deviceconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// DashboardURLField is the only configuration key the pipeline interprets.
const DashboardURLField = "dashboard_url"

// DeviceConfig is a device owned JSON object. DashboardURL is typed, every
// other key is kept as raw JSON and written back untouched.
type DeviceConfig struct {
	DashboardURL string
	UpdatedAt    time.Time
	Version      int64

	fields    map[string]json.RawMessage
	storedURL string
}

// ParseDeviceConfig decodes a configuration blob. An empty blob is an
// empty configuration.
func ParseDeviceConfig(data []byte) (*DeviceConfig, error) {
	cfg := &DeviceConfig{}
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *DeviceConfig) UnmarshalJSON(data []byte) error {
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("device config is not a JSON object: %w", err)
	}

	c.fields = fields
	c.DashboardURL = ""
	if raw, ok := fields[DashboardURLField]; ok {
		var url string
		if err := json.Unmarshal(raw, &url); err == nil {
			c.DashboardURL = url
		}
	}
	c.storedURL = c.DashboardURL
	return nil
}

func (c DeviceConfig) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(c.fields)+1)
	for k, v := range c.fields {
		out[k] = v
	}

	_, present := c.fields[DashboardURLField]
	if c.DashboardURL != c.storedURL || (!present && c.DashboardURL != "") {
		raw, err := encode(c.DashboardURL)
		if err != nil {
			return nil, err
		}
		out[DashboardURLField] = raw
	}
	return encode(out)
}

// Fields returns a copy of the decoded configuration, including
// the dashboard URL.
func (c *DeviceConfig) Fields() (map[string]interface{}, error) {
	blob, err := c.MarshalJSON()
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{}, len(c.fields)+1)
	if err := json.Unmarshal(blob, &out); err != nil {
		return nil, fmt.Errorf("decode device config: %w", err)
	}
	return out, nil
}

// Raw returns the stored JSON of one key.
func (c *DeviceConfig) Raw(key string) (json.RawMessage, bool) {
	v, ok := c.fields[key]
	return v, ok
}

// encode marshals without escaping HTML characters so URLs keep their
// ampersands.
func encode(v interface{}) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// stored records that the current state has been written to the store.
func (c *DeviceConfig) stored(blob []byte) {
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(blob, &fields); err == nil {
		c.fields = fields
	}
	c.storedURL = c.DashboardURL
}
