package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"listsync/internal/api"
	"listsync/internal/backends"
	"listsync/internal/flow"
	"listsync/internal/hub"
	"listsync/internal/ports"
	"listsync/internal/pub"
)

func main() {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		log.Info("The .env file not found.")
	}

	if lvl, err := log.ParseLevel(getenv("LOG_LEVEL", "info")); err == nil {
		log.SetLevel(lvl)
	}

	port, err := strconv.Atoi(getenv("PORT", "3000"))
	if err != nil {
		log.Fatalf("invalid PORT: %v", err)
	}

	store, err := backends.StoreFromEnv()
	if err != nil {
		log.Fatalf("Failed to initialize list store: %v", err)
	}

	hb := hub.New()
	var publisher ports.Publisher = hb
	if arn := os.Getenv("SNS_MIRROR_ARN"); arn != "" {
		mirror, err := snsMirrorFromEnv(arn)
		if err != nil {
			log.Fatalf("Failed to initialize SNS mirror: %v", err)
		}
		publisher = pub.NewFanout(hb, mirror)
		log.WithField("arn", arn).Info("mirroring events to SNS")
	}

	f := flow.New(store, publisher)

	stop, done := api.RunServerInterruptible(port, f, hb)

	exit := make(chan os.Signal, 1) // buffer size 1 so the notifier is not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	log.WithField("sig", sig).Info("Signal caught")
	close(stop)
	if err := <-done; err != nil {
		log.Fatalf("server exited with error: %v", err)
	}
}

// snsMirrorFromEnv builds the optional SNS event mirror. SNS_ENDPOINT
// overrides the endpoint for local testing.
func snsMirrorFromEnv(arn string) (ports.Publisher, error) {
	ctx := context.Background()
	var snsEndpoint *string
	if se := os.Getenv("SNS_ENDPOINT"); se != "" {
		snsEndpoint = aws.String(se)
	}
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	snsClient := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if snsEndpoint != nil {
			o.BaseEndpoint = snsEndpoint
			if o.Region == "" {
				o.Region = "us-east-1"
			}
			credProvider := credentials.NewStaticCredentialsProvider("test", "test", "")
			o.Credentials = credProvider
		}
	})
	return pub.NewSNSMirror(snsClient, arn), nil
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}
