package main

import (
	"fmt"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/ordertx/internal/messaging/kafka"
)

// offsetReader отдаёт границы партиции; его реализует sarama.Client.
type offsetReader interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
}

// replayDeps - подключения к Kafka. producer пуст в dry-run.
type replayDeps struct {
	offsets  offsetReader
	consumer sarama.Consumer
	producer *kafka.Producer
	closers  []func() error
}

func (d replayDeps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		_ = d.closers[i]()
	}
}

var connect = func(cfg config) (replayDeps, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.ClientID = replayClientID
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return replayDeps{}, fmt.Errorf("create kafka client: %w", err)
	}
	deps := replayDeps{offsets: client, closers: []func() error{client.Close}}

	deps.consumer, err = sarama.NewConsumerFromClient(client)
	if err != nil {
		deps.Close()
		return replayDeps{}, fmt.Errorf("create kafka consumer: %w", err)
	}
	deps.closers = append(deps.closers, deps.consumer.Close)

	if cfg.execute {
		deps.producer, err = kafka.NewProducer(cfg.brokers, replayClientID)
		if err != nil {
			deps.Close()
			return replayDeps{}, err
		}
		deps.closers = append(deps.closers, deps.producer.Close)
	}
	return deps, nil
}
