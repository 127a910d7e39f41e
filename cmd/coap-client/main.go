package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"flag"
	"io/ioutil"
	"log"
	"time"

	"com.aviebrantz.vision-router/pkg/util"
	piondtls "github.com/pion/dtls/v2"
	"github.com/plgd-dev/go-coap/v2/dtls"
	"github.com/plgd-dev/go-coap/v2/message"
	"github.com/plgd-dev/go-coap/v2/message/codes"
	"github.com/plgd-dev/go-coap/v2/udp"
)

// Uploads a JPEG file to the CoAP gateway the way a camera device does.
func main() {
	addr := flag.String("addr", "127.0.0.1:5688", "gateway address")
	device := flag.String("device", "dev-1", "device id")
	secure := flag.Bool("dtls", false, "use DTLS with client certificates")
	certFile := flag.String("cert", "certs/client.pem", "client certificate")
	keyFile := flag.String("key", "certs/client-key.pem", "client key")
	caFile := flag.String("ca", "certs/server.pem", "server certificate")
	flag.Parse()

	if flag.NArg() != 1 {
		log.Fatalf("usage: coap-client [flags] image.jpg")
	}
	image, err := ioutil.ReadFile(flag.Arg(0))
	if err != nil {
		log.Fatalf("Error reading image: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	path := "d/" + *device + "/img"
	var code codes.Code
	if *secure {
		code, err = postDTLS(ctx, *addr, path, image, *certFile, *keyFile, *caFile)
	} else {
		code, err = postUDP(ctx, *addr, path, image)
	}
	if err != nil {
		log.Fatalf("Error sending request: %v", err)
	}
	log.Printf("Response: %v", code)
}

func postUDP(ctx context.Context, addr, path string, image []byte) (codes.Code, error) {
	co, err := udp.Dial(addr)
	if err != nil {
		return 0, err
	}
	defer co.Close()

	resp, err := co.Post(ctx, path, message.AppOctets, bytes.NewReader(image))
	if err != nil {
		return 0, err
	}
	return resp.Code(), nil
}

func postDTLS(ctx context.Context, addr, path string, image []byte, certFile, keyFile, caFile string) (codes.Code, error) {
	certificate, err := util.LoadKeyAndCertificate(keyFile, certFile)
	if err != nil {
		return 0, err
	}
	rootCertificate, err := util.LoadCertificate(caFile)
	if err != nil {
		return 0, err
	}
	certPool, err := util.CertPool(rootCertificate)
	if err != nil {
		return 0, err
	}

	co, err := dtls.Dial(addr, &piondtls.Config{
		Certificates:         []tls.Certificate{*certificate},
		ExtendedMasterSecret: piondtls.RequireExtendedMasterSecret,
		RootCAs:              certPool,
	})
	if err != nil {
		return 0, err
	}
	defer co.Close()

	resp, err := co.Post(ctx, path, message.AppOctets, bytes.NewReader(image))
	if err != nil {
		return 0, err
	}
	return resp.Code(), nil
}
