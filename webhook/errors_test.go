package webhook_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/commercekit/eventrelay/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyOutcome(t *testing.T) {
	t.Run("2xx is success", func(t *testing.T) {
		assert.NoError(t, webhook.ClassifyOutcome(http.StatusOK, nil))
		assert.NoError(t, webhook.ClassifyOutcome(http.StatusNoContent, nil))
	})

	t.Run("retryable statuses are transient", func(t *testing.T) {
		for _, status := range []int{
			http.StatusRequestTimeout,
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
		} {
			err := webhook.ClassifyOutcome(status, nil)
			var transient *webhook.TransientError
			require.ErrorAs(t, err, &transient, "status %d", status)
			assert.Equal(t, status, transient.StatusCode)
		}
	})

	t.Run("other 4xx are permanent", func(t *testing.T) {
		for _, status := range []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusGone,
		} {
			err := webhook.ClassifyOutcome(status, nil)
			var permanent *webhook.PermanentError
			require.ErrorAs(t, err, &permanent, "status %d", status)
			assert.Equal(t, status, permanent.StatusCode)
		}
	})

	t.Run("network failure is transient and keeps its cause", func(t *testing.T) {
		cause := fmt.Errorf("dial tcp: connection refused")
		err := webhook.ClassifyOutcome(0, cause)

		var transient *webhook.TransientError
		require.ErrorAs(t, err, &transient)
		assert.Zero(t, transient.StatusCode)
		assert.ErrorIs(t, err, cause)
	})
}
