package redpanda

import (
	"strconv"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Record headers carried on submission messages. receive_count tracks
// at-least-once redelivery; the consumer re-publishes with the count
// incremented and routes to the DLQ once it exceeds the maximum.
const (
	headerJobID        = "job_id"
	headerReceiveCount = "receive_count"
	headerLastError    = "last_error"
)

func headerValue(rec *kgo.Record, key string) string {
	for _, h := range rec.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// receiveCount reads the delivery attempt number from the record,
// defaulting to 1 for records produced before the header existed.
func receiveCount(rec *kgo.Record) int {
	v := headerValue(rec, headerReceiveCount)
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func submissionHeaders(jobID string, count int) []kgo.RecordHeader {
	return []kgo.RecordHeader{
		{Key: headerJobID, Value: []byte(jobID)},
		{Key: headerReceiveCount, Value: []byte(strconv.Itoa(count))},
	}
}
