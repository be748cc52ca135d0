package app

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordertx/internal/domain"
	"github.com/vladislavdragonenkov/ordertx/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ordertx/internal/service/outbox"
)

// publishers - куда outbox-воркер отдаёт события.
type publishers struct {
	main     domain.OutboxPublisher
	dlq      domain.OutboxPublisher
	producer *kafka.Producer
}

// initPublishers создаёт Kafka-паблишеры, если брокеры заданы.
// Ошибка подключения не останавливает сервис: события уходят в лог и остаются в outbox как failed.
func initPublishers(cfg Config, logger *log.Entry) publishers {
	brokers := splitBrokers(cfg.KafkaBrokers)
	if len(brokers) == 0 {
		logger.Info("kafka brokers are not configured, outbox events go to log")
		return publishers{main: outbox.NewLogPublisher(logger.WithField("component", "outbox-log-publisher"))}
	}

	producer, err := kafka.NewProducer(brokers, "ordertx",
		kafka.WithProducerLogger(logger.WithField("component", "kafka-producer")))
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return publishers{main: outbox.NewLogPublisher(logger.WithField("component", "outbox-log-publisher"))}
	}

	logger.WithFields(log.Fields{
		"brokers": brokers,
		"topic":   cfg.KafkaTopic,
	}).Info("kafka producer initialized")
	return publishers{
		main:     kafka.NewOutboxPublisher(producer, cfg.KafkaTopic),
		dlq:      kafka.NewDLQPublisher(producer, cfg.KafkaDLQTopic, cfg.KafkaTopic),
		producer: producer,
	}
}

func splitBrokers(raw string) []string {
	var brokers []string
	for _, broker := range strings.Split(raw, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

// closeKafkaProducer закрывает Kafka producer если он не nil.
func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
