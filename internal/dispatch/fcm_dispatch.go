package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/ride-matching/internal/collab"
)

// FCMDispatcher posts to the FCM HTTP v1 send endpoint. Apps subscribe to a
// per-user topic, so the recipient id maps to "<TopicPrefix><id>".
type FCMDispatcher struct {
	Endpoint    string
	Key         string
	TopicPrefix string
	Client      *http.Client
}

func NewFCMDispatcher(endpoint, key string) *FCMDispatcher {
	return &FCMDispatcher{Endpoint: endpoint, Key: key, TopicPrefix: "user_", Client: &http.Client{Timeout: 3 * time.Second}}
}

func (f *FCMDispatcher) Notify(ctx context.Context, recipient string, msg collab.Message) error {
	// FCM data payloads are string-to-string
	data := make(map[string]string, len(msg.Extra))
	for k, v := range msg.Extra {
		data[k] = fmt.Sprint(v)
	}
	body := map[string]any{
		"message": map[string]any{
			"topic":        f.TopicPrefix + recipient,
			"notification": map[string]string{"body": msg.Text},
			"data":         data,
		},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	header := http.Header{}
	if f.Key != "" {
		header.Set("Authorization", "Bearer "+f.Key)
	}
	return postJSON(ctx, f.Client, f.Endpoint, b, header)
}
