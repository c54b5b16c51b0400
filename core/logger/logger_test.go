package logger

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestContextRoundTrip(t *testing.T) {
	ctx, _ := ContextWithLoggerIdentity(context.Background(), "alice")
	ctx, rlog := ContextWithLoggerEntity(ctx, "blog.post")
	assert.Equal(t, "blog.post", rlog.Data[entityLoggerKey])

	requestID := RequestIDFromContext(ctx)
	assert.NotEmpty(t, requestID)

	data := SerializeLoggerContext(ctx)
	restored := ContextWithLoggerFromData(context.Background(), data)
	assert.Equal(t, requestID, RequestIDFromContext(restored))
	assert.Equal(t, "alice", FromContext(restored).Data[identityLoggerKey])
}

func TestContextWithLoggerFromData_Invalid(t *testing.T) {
	ctx := ContextWithLoggerFromData(context.Background(), []byte("{}"))
	assert.NotEmpty(t, RequestIDFromContext(ctx))
	assert.Equal(t, "{}", string(SerializeLoggerContext(context.Background())))
}

func TestFromContext_Nil(t *testing.T) {
	//lint:ignore SA1012 nil context is supported
	assert.NotNil(t, FromContext(nil))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, logrus.InfoLevel, ParseLevel(""))
	assert.Equal(t, logrus.InfoLevel, ParseLevel("chatty"))
}
