package publisher

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestStreamName(t *testing.T) {
	p := NewRedisPublisher(RedisConfig{Addr: "localhost:6379", StreamPrefix: "listings", StreamCount: 0})
	defer p.Close()

	assert.Equal(t, "listings:3", p.StreamName(3))
	assert.Equal(t, 1, p.streamCount)
}

func TestRedisPublisher(t *testing.T) {
	ctx := context.Background()
	publisher := NewRedisPublisher(RedisConfig{
		Addr:            "localhost:6379",
		StreamPrefix:    "test_listings",
		StreamCount:     1,
		StreamMaxLength: 100,
	})
	defer publisher.Close()

	// Create a subscriber to verify the message was published
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   0,
	})
	defer client.Close()

	// Test if Redis is available
	if err := publisher.Ping(ctx); err != nil {
		t.Skip("Redis is not available, skipping test")
	}

	stream := publisher.StreamName(0)
	err := client.XGroupCreateMkStream(ctx, stream, "test_group", "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		t.Fatal(err)
	}

	messages := make(chan string, 1)

	go func() {
		message, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Streams:  []string{stream, ">"},
			Group:    "test_group",
			Consumer: "test_consumer",
			Block:    time.Second,
		}).Result()
		if err != nil {
			return
		}
		messages <- message[0].Messages[0].Values["house"].(string)
	}()

	time.Sleep(100 * time.Millisecond)

	err = publisher.Publish(ctx, "house", []byte("test_message"))
	assert.NoError(t, err)

	select {
	case msg := <-messages:
		// The message should be base64 encoded
		assert.Equal(t, "dGVzdF9tZXNzYWdl", msg) // base64 of "test_message"
	case <-time.After(2 * time.Second):
		t.Error("Timed out waiting for message")
	}

	assert.NoError(t, publisher.TrimStreams(ctx))
}
