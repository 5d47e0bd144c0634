package queue

import "fmt"

// Stats describes the record queue backlog.
type Stats struct {
	Name      string `json:"name"`
	Messages  int    `json:"messages"`
	Consumers int    `json:"consumers"`
}

func (q *QueueService) Stats() (*Stats, error) {
	info, err := q.channel.QueueInspect(q.queueName)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect record queue: %w", err)
	}
	return &Stats{Name: info.Name, Messages: info.Messages, Consumers: info.Consumers}, nil
}

// HealthCheck reports whether records can currently be published.
func (q *QueueService) HealthCheck() string {
	switch {
	case q == nil:
		return "not configured"
	case q.conn == nil || q.conn.IsClosed():
		return "unhealthy: connection closed"
	case q.channel == nil:
		return "unhealthy: channel not available"
	}
	return "healthy"
}
