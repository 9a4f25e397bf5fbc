package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type jobRecord struct {
	bun.BaseModel `bun:"table:webhook_jobs,alias:wj"`

	ID          string         `bun:"id,pk"`
	Type        string         `bun:"type,notnull"`
	Payload     map[string]any `bun:"payload,type:jsonb,notnull"`
	Status      string         `bun:"status,notnull"`
	Attempts    int            `bun:"attempts,notnull"`
	MaxAttempts int            `bun:"max_attempts,notnull"`
	AvailableAt time.Time      `bun:"available_at,nullzero,notnull"`
	LockedBy    string         `bun:"locked_by"`
	LockedAt    *time.Time     `bun:"locked_at,nullzero"`
	Result      map[string]any `bun:"result,type:jsonb"`
	LastError   string         `bun:"last_error"`
	CreatedAt   time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt   time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type webhookEventRecord struct {
	bun.BaseModel `bun:"table:webhook_events,alias:we"`

	ID          string         `bun:"id,pk"`
	ExternalID  string         `bun:"external_id,notnull,unique"`
	EventType   string         `bun:"event_type,notnull"`
	Payload     map[string]any `bun:"payload,type:jsonb,notnull"`
	Processed   bool           `bun:"processed,notnull"`
	ProcessedAt *time.Time     `bun:"processed_at,nullzero"`
	CreatedAt   time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt   time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type subscriberRecord struct {
	bun.BaseModel `bun:"table:webhook_subscribers,alias:ws"`

	ID        string    `bun:"id,pk"`
	ClientID  string    `bun:"client_id,notnull"`
	URL       string    `bun:"url,notnull"`
	Secret    string    `bun:"secret,notnull"`
	Events    []string  `bun:"events,type:jsonb,notnull"`
	Active    bool      `bun:"active,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type deliveryLogRecord struct {
	bun.BaseModel `bun:"table:webhook_delivery_logs,alias:wdl"`

	ID           string    `bun:"id,pk"`
	SubscriberID string    `bun:"subscriber_id,notnull"`
	Event        string    `bun:"event,notnull"`
	RequestBody  string    `bun:"request_body"`
	ResponseCode int       `bun:"response_code"`
	ResponseBody string    `bun:"response_body"`
	Attempts     int       `bun:"attempts,notnull"`
	CreatedAt    time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt    time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
