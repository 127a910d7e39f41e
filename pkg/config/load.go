package config

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"strconv"
	"time"

	"github.com/apex/log"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	AckAll       = "all"
	AckProcessed = "processed"

	BackendCloudIoT = "cloudiot"
	BackendDocstore = "docstore"
	BackendLocal    = "local"
)

// Dashboard contents shown for each detected label, in priority order.
var defaultDashboardRules = []DashboardRule{
	{Label: "apple", URL: "https://storage.googleapis.com/gcp-iost-contents/apple-pie.jpg"},
	{Label: "banana", URL: "https://storage.googleapis.com/gcp-iost-contents/banana-cereal.jpg"},
}

const defaultDashboardURL = "https://storage.googleapis.com/gcp-iost-contents/pizza2.jpg"

func LoadConfigFromFile(filename string) (*PlatformConfig, error) {
	content, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	config := PlatformConfig{}
	err = yaml.Unmarshal(content, &config)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filename, err)
	}

	config.applyDefaults()
	return &config, config.Validate()
}

// LoadConfigFromEnv reads the configuration from environment variables,
// loading a .env file first when one is present.
func LoadConfigFromEnv() (*PlatformConfig, error) {
	_ = godotenv.Load()

	config := PlatformConfig{
		Project: getEnv("PROJECT", ""),
		MessagingConfig: MessagingConfig{
			Subscription:    getEnv("INPUT_SUBSCRIPTION", ""),
			SubscriptionURL: getEnv("SUBSCRIPTION_URL", ""),
			TopicURL:        getEnv("TOPIC_URL", ""),
			MaxMessages:     getEnvInt("MAX_MESSAGES", 0),
			PullTimeout:     getEnvDuration("PULL_TIMEOUT", 0),
		},
		StorageConfig: StorageConfig{
			Bucket: getEnv("SAVE_BUCKET", ""),
			URL:    getEnv("BUCKET_URL", ""),
		},
		InferenceConfig: InferenceConfig{
			Model:       getEnv("ML_MODEL", ""),
			Endpoint:    getEnv("ML_ENDPOINT", ""),
			CallTimeout: getEnvDuration("ML_TIMEOUT", 0),
		},
		DeviceConfig: DeviceConfigStoreConf{
			Backend:       getEnv("DEVICE_CONFIG_BACKEND", ""),
			Registry:      getEnv("IOT_REGISTRY", ""),
			Region:        getEnv("IOT_REGION", ""),
			CollectionURL: getEnv("DEVICE_CONFIG_COLLECTION", ""),
			BoltPath:      getEnv("DEVICE_CONFIG_DB", ""),
			Debounce:      getEnvDuration("CONFIG_DEBOUNCE", 0),
		},
		NotifierConfig: NotifierConfig{
			URL:   getEnv("BLOCKS_URL", ""),
			Token: getEnv("BLOCKS_TOKEN", ""),
		},
		AckPolicy:       getEnv("ACK_POLICY", ""),
		APIServerConfig: APIServerConfig{Port: getEnvInt("API_PORT", 0)},
		MetricsConfig:   MetricsConfig{Port: getEnvInt("METRICS_PORT", 0)},
		LogConfig: LogConfig{
			Level:  getEnv("LOG_LEVEL", ""),
			Format: getEnv("LOG_FORMAT", ""),
		},
	}

	config.applyDefaults()
	return &config, config.Validate()
}

func (c *PlatformConfig) applyDefaults() {
	m := &c.MessagingConfig
	if m.SubscriptionURL == "" && c.Project != "" && m.Subscription != "" {
		m.SubscriptionURL = fmt.Sprintf("gcppubsub://projects/%s/subscriptions/%s", c.Project, m.Subscription)
	}
	if m.MaxMessages <= 0 {
		m.MaxMessages = 1
	}
	if m.PullTimeout <= 0 {
		m.PullTimeout = 10 * time.Minute
	}
	if m.BatchWait <= 0 {
		m.BatchWait = 100 * time.Millisecond
	}
	if m.BackoffInitial <= 0 {
		m.BackoffInitial = time.Second
	}
	if m.BackoffMax <= 0 {
		m.BackoffMax = time.Minute
	}

	if c.StorageConfig.URL == "" && c.StorageConfig.Bucket != "" {
		c.StorageConfig.URL = "gs://" + c.StorageConfig.Bucket
	}

	inf := &c.InferenceConfig
	if inf.Endpoint == "" {
		inf.Endpoint = "https://ml.googleapis.com/v1"
	}
	if inf.CallTimeout <= 0 {
		inf.CallTimeout = 30 * time.Second
	}
	if inf.MinScore <= 0 {
		inf.MinScore = 0.2
	}

	dc := &c.DeviceConfig
	if dc.Backend == "" {
		dc.Backend = BackendCloudIoT
	}
	if dc.Region == "" {
		dc.Region = "us-central1"
	}
	if dc.Debounce <= 0 {
		dc.Debounce = 20 * time.Second
	}
	if dc.CallTimeout <= 0 {
		dc.CallTimeout = 30 * time.Second
	}
	if dc.BoltPath == "" {
		dc.BoltPath = "./device-configs.db"
	}

	if len(c.DashboardConfig.Rules) == 0 {
		c.DashboardConfig.Rules = append([]DashboardRule(nil), defaultDashboardRules...)
	}
	if c.DashboardConfig.DefaultURL == "" {
		c.DashboardConfig.DefaultURL = defaultDashboardURL
	}

	if c.NotifierConfig.Timeout <= 0 {
		c.NotifierConfig.Timeout = 10 * time.Second
	}
	if c.AckPolicy == "" {
		c.AckPolicy = AckAll
	}
	if c.APIServerConfig.Port == 0 {
		c.APIServerConfig.Port = 8080
	}
	if c.MetricsConfig.Port == 0 {
		c.MetricsConfig.Port = 8888
	}
	if c.LogConfig.Level == "" {
		c.LogConfig.Level = "info"
	}
	if c.LogConfig.Format == "" {
		c.LogConfig.Format = "cli"
	}
}

// Validate reports the first required setting that is missing or invalid.
func (c *PlatformConfig) Validate() error {
	switch {
	case c.Project == "":
		return errors.New("project is required")
	case c.MessagingConfig.SubscriptionURL == "":
		return errors.New("messaging.subscription is required")
	case c.StorageConfig.Bucket == "":
		return errors.New("storage.bucket is required")
	case c.InferenceConfig.Model == "":
		return errors.New("inference.model is required")
	}

	switch c.DeviceConfig.Backend {
	case BackendCloudIoT:
		if c.DeviceConfig.Registry == "" {
			return errors.New("deviceConfig.registry is required for the cloudiot backend")
		}
	case BackendDocstore:
		if c.DeviceConfig.CollectionURL == "" {
			return errors.New("deviceConfig.collectionURL is required for the docstore backend")
		}
	case BackendLocal:
	default:
		return fmt.Errorf("unknown deviceConfig.backend %q", c.DeviceConfig.Backend)
	}

	if c.AckPolicy != AckAll && c.AckPolicy != AckProcessed {
		return fmt.Errorf("unknown ackPolicy %q", c.AckPolicy)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Warnf("failed to parse %s as int, using default: %v", key, err)
		return defaultValue
	}
	return intValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		log.Warnf("failed to parse %s as duration, using default: %v", key, err)
		return defaultValue
	}
	return d
}
