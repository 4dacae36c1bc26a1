package engagement

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/segmentio/kafka-go"

	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/stream"
)

// Report is the summary the CV pipeline publishes after processing a lecture
// recording.
type Report struct {
	LectureID string `json:"lecture_id"`
	Subject   string `json:"subject"`
	Topic     string `json:"topic"`
	Timestamp string `json:"timestamp"`
	Status    string `json:"status"`
	Summary   struct {
		TotalStudents     int     `json:"total_students_detected"`
		AverageEngagement float64 `json:"average_class_engagement"`
		HighlyEngaged     float64 `json:"average_highly_engaged"`
		Disengaged        float64 `json:"average_disengaged"`
	} `json:"summary"`
}

type Message struct {
	Value []byte
}

type Consumer interface {
	ReadMessage(ctx context.Context) (Message, error)
	Close() error
}

type kafkaReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type KafkaConsumer struct {
	reader kafkaReader
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

func NewKafkaConsumer(cfg KafkaConfig) (*KafkaConsumer, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		trimmed := strings.TrimSpace(b)
		if trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("kafka topic required")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, fmt.Errorf("kafka group id required")
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		MaxWait:        500 * time.Millisecond,
	})
	return &KafkaConsumer{reader: r}, nil
}

func (c *KafkaConsumer) ReadMessage(ctx context.Context) (Message, error) {
	if c == nil || c.reader == nil {
		return Message{}, fmt.Errorf("kafka consumer not initialized")
	}
	msg, err := c.reader.ReadMessage(ctx)
	if err != nil {
		return Message{}, err
	}
	return Message{Value: msg.Value}, nil
}

func (c *KafkaConsumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

type reportDB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Loop consumes engagement reports off the bus, persists the summary, and
// notifies live dashboard subscribers.
type Loop struct {
	Bus Consumer
	DB  reportDB
	Hub *stream.Hub
}

func (l *Loop) Run(ctx context.Context) {
	for {
		msg, err := l.Bus.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("engagement bus read error: %v", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}
		var report Report
		if err := json.Unmarshal(msg.Value, &report); err != nil {
			log.Printf("engagement report decode error: %v", err)
			continue
		}
		if strings.TrimSpace(report.LectureID) == "" {
			log.Printf("engagement report missing lecture_id, dropped")
			continue
		}
		if err := l.apply(ctx, report); err != nil {
			log.Printf("engagement report apply error: %v", err)
		}
	}
}

func (l *Loop) apply(ctx context.Context, report Report) error {
	reportedAt := time.Now().UTC()
	if report.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, report.Timestamp); err == nil {
			reportedAt = parsed.UTC()
		}
	}
	status := report.Status
	if status == "" {
		status = "completed"
	}
	if l.DB != nil {
		_, err := l.DB.Exec(ctx, `
			INSERT INTO engagement_reports(lecture_id, subject, topic, total_students, avg_engagement, highly_engaged, disengaged, status, reported_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (lecture_id) DO UPDATE
			SET subject=EXCLUDED.subject, topic=EXCLUDED.topic, total_students=EXCLUDED.total_students,
			    avg_engagement=EXCLUDED.avg_engagement, highly_engaged=EXCLUDED.highly_engaged,
			    disengaged=EXCLUDED.disengaged, status=EXCLUDED.status, reported_at=EXCLUDED.reported_at
		`, report.LectureID, report.Subject, report.Topic, report.Summary.TotalStudents,
			report.Summary.AverageEngagement, report.Summary.HighlyEngaged, report.Summary.Disengaged,
			status, reportedAt)
		if err != nil {
			return err
		}
	}
	if l.Hub != nil {
		l.Hub.Publish(stream.NewEvent(stream.EventEngagementUpdated, map[string]string{"lecture_id": report.LectureID}))
	}
	return nil
}
