package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain", fmt.Errorf("boom"), KindUnknown},
		{"classified", New(KindValidation, "too large"), KindValidation},
		{"wrapped classified", Wrap(New(KindTransient, "put failed"), "upload"), KindTransient},
		{"deeply wrapped", Wrap(Wrap(New(KindDecode, "bad image"), "transform"), "pipeline"), KindDecode},
		{"context cancelled", context.Canceled, KindCancelled},
		{"wrapped context cancelled", Wrap(context.Canceled, "upload"), KindCancelled},
		{"deadline", context.DeadlineExceeded, KindCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, KindTransient.Retryable())

	for _, k := range []Kind{KindValidation, KindDecode, KindAuthorization, KindRateLimit, KindCancelled, KindSession, KindUnknown} {
		assert.False(t, k.Retryable(), "kind %s must not be retryable", k)
	}
}

func TestE_NilPassthrough(t *testing.T) {
	assert.NoError(t, E(KindTransient, "put", nil))
	assert.NoError(t, Wrap(nil, "context"))
}

func TestErrorMessage(t *testing.T) {
	err := E(KindAuthorization, "broker rejected session request", fmt.Errorf("status 401"))
	assert.EqualError(t, err, "authorization: broker rejected session request: status 401")
}
