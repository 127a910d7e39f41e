package coap

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io/ioutil"
	"regexp"
	"strconv"
	"time"

	"com.aviebrantz.vision-router/pkg/config"
	"com.aviebrantz.vision-router/pkg/core/messaging"
	"com.aviebrantz.vision-router/pkg/util"
	"github.com/fxamacker/cbor/v2"
	"github.com/jeremywohl/flatten"
	"github.com/pion/dtls/v2"
	coap "github.com/plgd-dev/go-coap/v2"
	"github.com/plgd-dev/go-coap/v2/message"
	"github.com/plgd-dev/go-coap/v2/message/codes"
	"github.com/plgd-dev/go-coap/v2/mux"
	"gocloud.dev/pubsub"

	"github.com/apex/log"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
)

var errEmptyImage = errors.New("empty image")

var imagePath = regexp.MustCompile(`^/?d/(?P<deviceId>[^/]+)/img/?$`)

// CoAPGateway accepts image uploads from devices and publishes them to
// the image topic.
type CoAPGateway struct {
	router     *mux.Router
	imageTopic *pubsub.Topic
	logger     *log.Entry
	port       int
	tlsPort    int
	certFile   string
	keyFile    string
	now        func() time.Time
}

func NewGateway(imageTopic *pubsub.Topic, config *config.GatewayConfig) *CoAPGateway {
	router := mux.NewRouter()
	logger := log.WithField("module", "coap-gateway")
	return &CoAPGateway{
		logger:     logger,
		port:       config.Port,
		tlsPort:    config.SslPort,
		certFile:   config.CertFile,
		keyFile:    config.KeyFile,
		router:     router,
		imageTopic: imageTopic,
		now:        time.Now,
	}
}

// Middleware function, which will be called for each request.
func (cg *CoAPGateway) routerMiddleware(next mux.Handler) mux.Handler {
	return mux.HandlerFunc(func(w mux.ResponseWriter, r *mux.Message) {
		startTime := time.Now()
		status := codes.NotFound
		defer func() {
			ctx, err := tag.New(context.Background(),
				tag.Insert(KeyMethod, r.Code.String()),
				tag.Insert(KeyStatus, status.String()),
			)
			if err != nil {
				cg.logger.Errorf("err creating metric for request %v", err)
			}
			stats.Record(ctx, MLatencyMs.M(sinceInMilliseconds(startTime)))
			stats.Record(ctx, MRequests.M(1))
		}()

		path, err := r.Options.Path()
		if err != nil {
			next.ServeCOAP(w, r)
			return
		}
		deviceID, err := getDeviceIDFromPath(path)
		if err != nil || r.Code != codes.POST {
			next.ServeCOAP(w, r)
			return
		}

		status = cg.handlePostImage(r.Context, deviceID, r)
		if err := w.SetResponse(status, message.TextPlain, bytes.NewReader([]byte(status.String()))); err != nil {
			cg.logger.Errorf("cannot set response: %v", err)
		}
	})
}

func getDeviceIDFromPath(path string) (string, error) {
	m := imagePath.FindStringSubmatch(path)
	if len(m) == 2 {
		return m[1], nil
	}
	return "", errors.New("Device ID not found")
}

func (cg *CoAPGateway) handlePostImage(ctx context.Context, deviceID string, req *mux.Message) codes.Code {
	if req.Body == nil {
		return codes.BadRequest
	}
	data, err := ioutil.ReadAll(req.Body)
	if err != nil {
		cg.logger.Warnf("cannot read request: %v", err)
		return codes.BadRequest
	}

	format, err := req.Options.ContentFormat()
	if err != nil {
		format = message.AppOctets
	}

	err = cg.publishImage(ctx, deviceID, format, data)
	switch {
	case err == nil:
		return codes.Changed
	case errors.Is(err, errEmptyImage):
		return codes.BadRequest
	default:
		cg.logger.Errorf("cannot publish image of %s: %v", deviceID, err)
		return codes.ServiceUnavailable
	}
}

// publishImage sends one upload to the image topic. CBOR payloads carry
// the image under "image"; their other keys become message attributes.
func (cg *CoAPGateway) publishImage(ctx context.Context, deviceID string, format message.MediaType, data []byte) error {
	image := data
	attributes := map[string]string{}

	if format == message.AppCBOR {
		envelope := make(map[string]interface{})
		if err := cbor.Unmarshal(data, &envelope); err != nil {
			return fmt.Errorf("invalid cbor envelope: %w", err)
		}
		raw, _ := envelope["image"].([]byte)
		image = raw
		delete(envelope, "image")

		flat, err := flatten.Flatten(envelope, "", flatten.DotStyle)
		if err != nil {
			return fmt.Errorf("cannot flatten envelope: %w", err)
		}
		for k, v := range flat {
			attributes[k] = fmt.Sprintf("%v", v)
		}
	}

	if len(image) == 0 {
		return errEmptyImage
	}

	attributes[messaging.AttrDeviceID] = deviceID
	attributes[messaging.AttrPublishTime] = cg.now().UTC().Format(time.RFC3339Nano)

	defer func() {
		ctx, err := tag.New(ctx, tag.Insert(KeyFormat, format.String()))
		if err != nil {
			cg.logger.Errorf("err creating metric for request %v \n", err)
		}
		stats.Record(ctx, MImageBytes.M(int64(len(image))))
	}()

	err := cg.imageTopic.Send(ctx, &pubsub.Message{
		Body:     image,
		Metadata: attributes,
	})
	if err != nil {
		return err
	}
	cg.logger.Infof("image of %s (%d bytes) sent to topic", deviceID, len(image))
	return nil
}

func (cg *CoAPGateway) Start() {
	cg.router.Use(cg.routerMiddleware)

	registerMetrics()

	cg.logger.Info("Starting CoAP Gateway...")
	if cg.port > 0 {
		go func() {
			cg.logger.Fatalf("Error starting listener : %v",
				coap.ListenAndServe(
					"udp",
					":"+strconv.Itoa(cg.port),
					cg.router,
				))
		}()
	}

	if cg.tlsPort > 0 {
		certificate, err := util.LoadOrCreateCertificate(cg.certFile, cg.keyFile)
		if err != nil {
			cg.logger.Fatalf("err opening server cert: %v", err)
		}

		certPool, err := util.CertPool(certificate)
		if err != nil {
			cg.logger.Fatalf("err parsing server cert: %v", err)
		}

		go func() {
			cg.logger.Fatalf("Error starting dtls listener : %v",
				coap.ListenAndServeDTLS(
					"udp",
					":"+strconv.Itoa(cg.tlsPort),
					&dtls.Config{
						Certificates:         []tls.Certificate{*certificate},
						ExtendedMasterSecret: dtls.RequireExtendedMasterSecret,
						ClientAuth:           dtls.RequireAndVerifyClientCert,
						ClientCAs:            certPool,
					},
					cg.router,
				))
		}()
	}
}
