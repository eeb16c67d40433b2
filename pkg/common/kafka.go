package common

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"

	"github.com/Sourav19o7/ppe-detector-sub002/pkg/common/logger"
)

// ConnectKafkaWithRetry attempts to establish a synchronous Kafka producer with exponential backoff.
// It will retry failed connection attempts for up to 2 minutes, starting with 2 second intervals.
// Gate controllers often boot before the site network is fully up, so the first attempts are expected to fail.
func ConnectKafkaWithRetry(ctx context.Context, log *logger.Logger, brokers []string, clientID string) (sarama.SyncProducer, error) {
	var producer sarama.SyncProducer

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = 2 * time.Minute
	expBackoff.InitialInterval = 2 * time.Second

	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	operation := func() error {
		var err error
		producer, err = sarama.NewSyncProducer(brokers, cfg)
		if err != nil {
			log.Warn(ctx, "Failed to connect to Kafka, will retry", "error", err)
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		return nil, fmt.Errorf("failed to connect to Kafka after retries: %w", err)
	}

	return producer, nil
}
