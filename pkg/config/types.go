package config

import "time"

type PlatformConfig struct {
	Project         string                `yaml:"project"`
	MessagingConfig MessagingConfig       `yaml:"messaging"`
	StorageConfig   StorageConfig         `yaml:"storage"`
	InferenceConfig InferenceConfig       `yaml:"inference"`
	DeviceConfig    DeviceConfigStoreConf `yaml:"deviceConfig"`
	DashboardConfig DashboardConfig       `yaml:"dashboard"`
	NotifierConfig  NotifierConfig        `yaml:"notifier"`
	AckPolicy       string                `yaml:"ackPolicy"`
	APIServerConfig APIServerConfig       `yaml:"api"`
	MetricsConfig   MetricsConfig         `yaml:"metrics"`
	GatewayConfigs  []GatewayConfig       `yaml:"gateways"`
	LogConfig       LogConfig             `yaml:"log"`
}

type MessagingConfig struct {
	Subscription    string        `yaml:"subscription"`
	SubscriptionURL string        `yaml:"subscriptionURL"`
	TopicURL        string        `yaml:"topicURL"`
	MaxMessages     int           `yaml:"maxMessages"`
	PullTimeout     time.Duration `yaml:"pullTimeout"`
	BatchWait       time.Duration `yaml:"batchWait"`
	BackoffInitial  time.Duration `yaml:"backoffInitial"`
	BackoffMax      time.Duration `yaml:"backoffMax"`
}

type StorageConfig struct {
	Bucket string `yaml:"bucket"`
	URL    string `yaml:"url"`
}

type InferenceConfig struct {
	Model       string        `yaml:"model"`
	Endpoint    string        `yaml:"endpoint"`
	CallTimeout time.Duration `yaml:"callTimeout"`
	MinScore    float64       `yaml:"minScore"`
}

// DeviceConfigStoreConf selects where device configurations live.
// Backend is one of "cloudiot", "docstore" or "local".
type DeviceConfigStoreConf struct {
	Backend       string        `yaml:"backend"`
	Registry      string        `yaml:"registry"`
	Region        string        `yaml:"region"`
	CollectionURL string        `yaml:"collectionURL"`
	BoltPath      string        `yaml:"boltPath"`
	Debounce      time.Duration `yaml:"debounce"`
	CallTimeout   time.Duration `yaml:"callTimeout"`
}

type DashboardRule struct {
	Label string `yaml:"label"`
	URL   string `yaml:"url"`
}

type DashboardConfig struct {
	Rules      []DashboardRule `yaml:"rules"`
	DefaultURL string          `yaml:"default"`
}

type NotifierConfig struct {
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

type APIServerConfig struct {
	Port int `yaml:"port"`
}

type MetricsConfig struct {
	Port int `yaml:"port"`
}

type GatewayConfig struct {
	Protocol string `yaml:"protocol"`
	Port     int    `yaml:"port"`
	SslPort  int    `yaml:"sslPort,omitempty"`
	CertFile string `yaml:"certFile,omitempty"`
	KeyFile  string `yaml:"keyFile,omitempty"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}
