package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"com.aviebrantz.vision-router/pkg/api"
	"com.aviebrantz.vision-router/pkg/config"
	"com.aviebrantz.vision-router/pkg/core/messaging"
	"com.aviebrantz.vision-router/pkg/core/store/deviceconfig"
	"com.aviebrantz.vision-router/pkg/core/store/images"
	"com.aviebrantz.vision-router/pkg/gateway/coap"
	"com.aviebrantz.vision-router/pkg/inference"
	"com.aviebrantz.vision-router/pkg/metrics"
	"com.aviebrantz.vision-router/pkg/notify"
	"com.aviebrantz.vision-router/pkg/pipeline"
	"com.aviebrantz.vision-router/pkg/util"
	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/apex/log/handlers/json"
	"github.com/apex/log/handlers/text"
	bolt "go.etcd.io/bbolt"
	"gocloud.dev/blob"
	"gocloud.dev/docstore"
	"gocloud.dev/pubsub"
	cloudiot "google.golang.org/api/cloudiot/v1"
	"google.golang.org/api/option"

	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/docstore/memdocstore"
	_ "gocloud.dev/docstore/mongodocstore"
	_ "gocloud.dev/pubsub/gcppubsub"
	_ "gocloud.dev/pubsub/mempubsub"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Err loading config: %v", err)
	}
	if err := setupLogging(cfg.LogConfig); err != nil {
		log.Fatalf("Err configuring logs: %v", err)
	}
	log.WithFields(cfg.Fields()).Info("Loaded config")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := pubsub.OpenSubscription(ctx, cfg.MessagingConfig.SubscriptionURL)
	if err != nil {
		log.Fatalf("could not open image subscription: %v", err)
	}
	defer sub.Shutdown(context.Background())

	bucket, err := blob.OpenBucket(ctx, cfg.StorageConfig.URL)
	if err != nil {
		log.Fatalf("could not open image bucket: %v", err)
	}
	defer bucket.Close()

	var gcpClient *http.Client
	if needsGCPClient(cfg) {
		gcpClient, err = util.NewGCPHTTPClient(ctx)
		if err != nil {
			log.Fatalf("could not load GCP credentials: %v", err)
		}
	}

	configStore, closeStore, err := openConfigStore(ctx, cfg, gcpClient)
	if err != nil {
		log.Fatalf("could not open device config store: %v", err)
	}
	defer closeStore()

	predictClient := gcpClient
	if !strings.Contains(cfg.InferenceConfig.Endpoint, "googleapis.com") {
		predictClient = &http.Client{}
	}
	predictor := inference.NewClient(predictClient, cfg.InferenceConfig.Endpoint)

	notifier := notify.NewWebhook(&http.Client{}, cfg.NotifierConfig.URL, cfg.NotifierConfig.Timeout)

	rules := pipeline.DashboardRules{Default: cfg.DashboardConfig.DefaultURL}
	for _, r := range cfg.DashboardConfig.Rules {
		rules.Rules = append(rules.Rules, pipeline.Rule{Label: r.Label, URL: r.URL})
	}

	channel := messaging.NewSubscriptionChannel(sub, messaging.Options{
		MaxMessages:    cfg.MessagingConfig.MaxMessages,
		PullTimeout:    cfg.MessagingConfig.PullTimeout,
		BatchWait:      cfg.MessagingConfig.BatchWait,
		BackoffInitial: cfg.MessagingConfig.BackoffInitial,
		BackoffMax:     cfg.MessagingConfig.BackoffMax,
	})

	p := pipeline.NewPipeline(
		channel,
		images.NewBlobImageStore(bucket),
		notifier,
		configStore,
		predictor,
		rules,
		pipeline.Options{
			Project:     cfg.Project,
			Model:       cfg.InferenceConfig.Model,
			Bucket:      cfg.StorageConfig.Bucket,
			NotifyToken: cfg.NotifierConfig.Token,
			MinScore:    cfg.InferenceConfig.MinScore,
			Debounce:    cfg.DeviceConfig.Debounce,
			HoldFailed:  cfg.AckPolicy == config.AckProcessed,

			PredictTimeout: cfg.InferenceConfig.CallTimeout,
			ConfigTimeout:  cfg.DeviceConfig.CallTimeout,
		},
	)

	metrics.StartMetricsExporter(cfg.MetricsConfig.Port)

	apiServer := api.NewServer(configStore, cfg.APIServerConfig)
	go apiServer.Start()

	for i := range cfg.GatewayConfigs {
		gw := cfg.GatewayConfigs[i]
		if gw.Protocol != "coap" {
			log.Warnf("gateway protocol %q not supported", gw.Protocol)
			continue
		}
		if cfg.MessagingConfig.TopicURL == "" {
			log.Fatal("messaging.topicURL is required to run a coap gateway")
		}
		topic, err := pubsub.OpenTopic(ctx, cfg.MessagingConfig.TopicURL)
		if err != nil {
			log.Fatalf("could not open image topic: %v", err)
		}
		defer topic.Shutdown(context.Background())

		coap.NewGateway(topic, &gw).Start()
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-done
		log.Info("Stopping...")
		cancel()
	}()

	log.Info("Server Started")
	p.Run(ctx)

	if err := apiServer.Shutdown(); err != nil {
		log.Errorf("api server shutdown: %v", err)
	}
	log.Info("Server Stopped")
}

func loadConfig() (*config.PlatformConfig, error) {
	if len(os.Args) > 1 {
		return config.LoadConfigFromFile(os.Args[1])
	}
	return config.LoadConfigFromEnv()
}

func setupLogging(cfg config.LogConfig) error {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	log.SetLevel(level)

	switch cfg.Format {
	case "json":
		log.SetHandler(json.New(os.Stderr))
	case "text":
		log.SetHandler(text.New(os.Stderr))
	case "cli":
		log.SetHandler(cli.New(os.Stderr))
	default:
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return nil
}

func needsGCPClient(cfg *config.PlatformConfig) bool {
	return cfg.DeviceConfig.Backend == config.BackendCloudIoT ||
		strings.Contains(cfg.InferenceConfig.Endpoint, "googleapis.com")
}

func openConfigStore(ctx context.Context, cfg *config.PlatformConfig, gcpClient *http.Client) (deviceconfig.Store, func(), error) {
	dc := cfg.DeviceConfig
	switch dc.Backend {
	case config.BackendCloudIoT:
		svc, err := cloudiot.NewService(ctx, option.WithHTTPClient(gcpClient))
		if err != nil {
			return nil, nil, err
		}
		return deviceconfig.NewCloudIoTStore(svc, cfg.Project, dc.Region, dc.Registry), func() {}, nil
	case config.BackendDocstore:
		coll, err := docstore.OpenCollection(ctx, dc.CollectionURL)
		if err != nil {
			return nil, nil, err
		}
		return deviceconfig.NewConfigDocStore(coll), func() { coll.Close() }, nil
	case config.BackendLocal:
		db, err := bolt.Open(dc.BoltPath, 0600, nil)
		if err != nil {
			return nil, nil, err
		}
		return deviceconfig.NewConfigLocalStore(db), func() { db.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown device config backend %q", dc.Backend)
}
