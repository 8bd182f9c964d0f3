package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kochabx/vidchat/core/session"
	"github.com/kochabx/vidchat/log"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func TestPublisherWrite(t *testing.T) {
	w := &fakeWriter{}
	p := NewPublisher(w, log.Nop())
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, p.Write(context.Background(), session.Event{
		ID:         "e1",
		Type:       session.EventInvalidFingerprint,
		Identifier: "sess-1",
		Details:    map[string]any{"ip": "10.0.0.1"},
		Timestamp:  at,
	}))
	require.NoError(t, p.Write(context.Background(), session.Event{ID: "e2", Type: session.EventForcedLogout, Timestamp: at}))

	require.Len(t, w.msgs, 2)
	msg := w.msgs[0]
	assert.Equal(t, "sess-1", string(msg.Key))
	assert.Equal(t, at, msg.Time)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, string(session.EventInvalidFingerprint), string(msg.Headers[0].Value))

	var got session.Event
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, "e1", got.ID)
	assert.Equal(t, "10.0.0.1", got.Details["ip"])

	// 没有标识符时按事件 id 分区
	assert.Equal(t, "e2", string(w.msgs[1].Key))
}

func TestPublisherError(t *testing.T) {
	p := NewPublisher(&fakeWriter{err: errors.New("broker down")}, log.Nop())
	err := p.Write(context.Background(), session.Event{ID: "e1", Type: session.EventForcedLogout})
	assert.ErrorContains(t, err, "broker down")
}
