package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"example.com/repcount/internal/events"
)

type stubWrite struct {
	topic    string
	messages []kafka.Message
}

type stubProducer struct {
	mu     sync.Mutex
	writes []stubWrite
	err    error
}

func (s *stubProducer) WriteMessages(_ context.Context, topic string, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.writes = append(s.writes, stubWrite{topic: topic, messages: msgs})
	return nil
}

type stubRegistry struct {
	id    int
	calls int
	err   error
}

func (s *stubRegistry) EnsureSchema(context.Context, string, string) (int, error) {
	s.calls++
	return s.id, s.err
}

func newTestDispatcher(producer messageWriter, registry schemaRegistrar) *Dispatcher {
	return NewDispatcher(nil, producer, registry, time.Second, 10,
		WithLogger(log.New(io.Discard, "", 0)))
}

func completedMessage(id int64, sessionID string) Message {
	payload, _ := json.Marshal(events.ExerciseSessionCompleted{SessionID: sessionID, TotalReps: 3})
	return Message{
		EventID:       id,
		TenantID:      "tenant-a",
		AggregateType: "exercise_session",
		AggregateID:   sessionID,
		EventType:     events.EventSessionCompleted,
		Topic:         "exercise_sessions",
		SchemaSubject: "exercise_sessions-value",
		PartitionKey:  "tenant-a:user-1",
		Payload:       payload,
	}
}

func TestDeliverEncodesWireFormatAndCachesSchema(t *testing.T) {
	producer := &stubProducer{}
	registry := &stubRegistry{id: 42}
	d := newTestDispatcher(producer, registry)

	messages := []Message{completedMessage(1, "s1"), completedMessage(2, "s2")}
	require.NoError(t, d.deliver(context.Background(), messages))
	require.NoError(t, d.deliver(context.Background(), messages[:1]))

	require.Equal(t, 1, registry.calls, "schema id is cached per subject")
	require.Len(t, producer.writes, 2)
	first := producer.writes[0]
	require.Equal(t, "exercise_sessions", first.topic)
	require.Len(t, first.messages, 2)

	value := first.messages[0].Value
	require.Equal(t, byte(0), value[0])
	require.Equal(t, uint32(42), binary.BigEndian.Uint32(value[1:5]))

	var decoded events.ExerciseSessionCompleted
	require.NoError(t, json.Unmarshal(value[5:], &decoded))
	require.Equal(t, "s1", decoded.SessionID)
	require.Equal(t, []byte("tenant-a:user-1"), first.messages[0].Key)
}

func TestDeliverRejectsUnknownEventType(t *testing.T) {
	d := newTestDispatcher(&stubProducer{}, &stubRegistry{id: 1})
	msg := completedMessage(1, "s1")
	msg.EventType = "exercise_session.deleted"

	require.Error(t, d.deliver(context.Background(), []Message{msg}))
}

func TestDeliverPropagatesFailures(t *testing.T) {
	registryErr := errors.New("registry down")
	d := newTestDispatcher(&stubProducer{}, &stubRegistry{err: registryErr})
	require.ErrorIs(t, d.deliver(context.Background(), []Message{completedMessage(1, "s1")}), registryErr)

	kafkaErr := errors.New("kafka write failed")
	d = newTestDispatcher(&stubProducer{err: kafkaErr}, &stubRegistry{id: 3})
	require.ErrorIs(t, d.deliver(context.Background(), []Message{completedMessage(1, "s1")}), kafkaErr)
}

func TestEncodeWireFormat(t *testing.T) {
	frame := encodeWireFormat(258, []byte("{}"))
	require.Equal(t, []byte{0, 0, 0, 1, 2, '{', '}'}, frame)
}

func TestSchemaRegistryRegistersMissingSubject(t *testing.T) {
	var registered string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/subjects/exercise_sessions-value/versions/latest":
			http.NotFound(w, r)
		case r.Method == http.MethodPost && r.URL.Path == "/subjects/exercise_sessions-value/versions":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			registered = body["schemaType"]
			_, _ = w.Write([]byte(`{"id": 17}`))
		default:
			w.WriteHeader(http.StatusTeapot)
		}
	}))
	defer server.Close()

	id, err := NewSchemaRegistryClient(server.URL+"/").EnsureSchema(context.Background(), "exercise_sessions-value", sessionCompletedSchema)
	require.NoError(t, err)
	require.Equal(t, 17, id)
	require.Equal(t, "JSON", registered)
}

func TestSchemaRegistryReturnsExistingSubject(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte(`{"id": 5, "version": 2}`))
	}))
	defer server.Close()

	id, err := NewSchemaRegistryClient(server.URL).EnsureSchema(context.Background(), "exercise_sessions-value", sessionCompletedSchema)
	require.NoError(t, err)
	require.Equal(t, 5, id)
}

func TestSchemaRegistryDoesNotRegisterOnServerError(t *testing.T) {
	posts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posts++
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := NewSchemaRegistryClient(server.URL).EnsureSchema(context.Background(), "s", sessionCompletedSchema)
	require.Error(t, err)
	require.Zero(t, posts)
}
