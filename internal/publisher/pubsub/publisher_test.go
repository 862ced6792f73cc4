package pubsub_test

import (
	"context"
	"testing"

	gpubsub "cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AparnaKarve/aiops-data-collector/internal/collector"
	"github.com/AparnaKarve/aiops-data-collector/internal/publisher/pubsub"
)

func newClient(t *testing.T) (*gpubsub.Client, *pstest.Server) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := gpubsub.NewClient(ctx, "aiops", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

// Tests below replace the global propagator and do not run in parallel.
func TestPublishDelivery(t *testing.T) {
	ctx := context.Background()
	client, srv := newClient(t)
	_, err := client.CreateTopic(ctx, "deliveries")
	require.NoError(t, err)

	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	spanCtx, span := tp.Tracer("test").Start(ctx, "deliver")
	defer span.End()

	pub := pubsub.New(client)
	id, err := pub.Publish(spanCtx, "deliveries", collector.Delivery{JobID: "job-1", Destination: "next:8000"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.NoError(t, pub.Close())

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, string(msgs[0].Data), `"job_id":"job-1"`)
	assert.Equal(t, "application/json", msgs[0].Attributes["content-type"])
	assert.NotEmpty(t, msgs[0].Attributes["traceparent"])
}

func TestPublishMissingTopic(t *testing.T) {
	client, _ := newClient(t)
	pub := pubsub.New(client)
	t.Cleanup(func() { _ = pub.Close() })

	_, err := pub.Publish(context.Background(), "absent", map[string]string{"k": "v"})
	require.Error(t, err)

	_, err = pub.Publish(context.Background(), "", map[string]string{"k": "v"})
	require.ErrorContains(t, err, "topic is required")
}

func TestOpenRequiresProject(t *testing.T) {
	_, err := pubsub.Open(context.Background(), "")
	require.Error(t, err)
}
