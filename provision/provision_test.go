package provision_test

import (
	"context"
	"os"
	"testing"

	"github.com/commercekit/eventrelay/provision"
	"github.com/commercekit/eventrelay/registry"
	"github.com/commercekit/eventrelay/webhook"
	"github.com/commercekit/eventrelay/webhook/inmem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_Load(t *testing.T) {
	t.Run("success - valid provision file", func(t *testing.T) {
		content := `
subscriptions:
  - tenant_id: "tenant-1"
    url: "https://example.com/hooks"
    event_types: ["order.*", "invoice.created"]
    max_retries: 5
    retry_delay_ms: 500
    retry_backoff_factor: 2.0
    timeout_seconds: 10
services:
  - name: "orders"
    version: "1.2.0"
    host: "orders.internal"
    port: 8080
  - name: "billing"
    host: "billing.internal"
    port: 9090
    transport: "https"
`
		tmpFile, err := os.CreateTemp("", "provision-*.yaml")
		require.NoError(t, err)
		defer os.Remove(tmpFile.Name())

		_, err = tmpFile.WriteString(content)
		require.NoError(t, err)
		tmpFile.Close()

		loader := provision.NewLoader()
		require.NoError(t, loader.Load(tmpFile.Name()))

		manifest := loader.Manifest()
		require.Len(t, manifest.Subscriptions, 1)
		require.Len(t, manifest.Services, 2)

		sc := manifest.Subscriptions[0]
		assert.Equal(t, "tenant-1", sc.TenantID)
		assert.Equal(t, []string{"order.*", "invoice.created"}, sc.EventTypes)
		require.NotNil(t, sc.MaxRetries)
		assert.Equal(t, 5, *sc.MaxRetries)

		assert.Equal(t, "orders", manifest.Services[0].Name)
		assert.Equal(t, "https", manifest.Services[1].Transport)
	})

	t.Run("error - missing file", func(t *testing.T) {
		loader := provision.NewLoader()
		require.Error(t, loader.Load("/does/not/exist.yaml"))
	})

	t.Run("error - invalid yaml", func(t *testing.T) {
		loader := provision.NewLoader()
		require.Error(t, loader.Parse([]byte("subscriptions: [broken")))
	})

	t.Run("error - subscription without event types", func(t *testing.T) {
		loader := provision.NewLoader()
		err := loader.Parse([]byte(`
subscriptions:
  - tenant_id: "tenant-1"
    url: "https://example.com/hooks"
`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "event_types")
	})

	t.Run("error - service with invalid port", func(t *testing.T) {
		loader := provision.NewLoader()
		err := loader.Parse([]byte(`
services:
  - name: "orders"
    host: "orders.internal"
    port: 0
`))
		require.Error(t, err)
	})
}

func TestLoader_Apply(t *testing.T) {
	ctx := context.Background()

	manifest := []byte(`
subscriptions:
  - tenant_id: "tenant-1"
    url: "https://example.com/hooks"
    event_types: ["order.*"]
services:
  - name: "orders"
    host: "orders.internal"
    port: 8080
`)

	repo := inmem.NewRepository()
	svc := webhook.NewService(repo, webhook.NewDeliverer(repo))
	reg := registry.New()

	loader := provision.NewLoader()
	require.NoError(t, loader.Parse(manifest))

	require.NoError(t, loader.Apply(ctx, svc, reg))

	subs, err := svc.ListSubscriptions(ctx, "tenant-1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "https://example.com/hooks", subs[0].URL)
	assert.NotEmpty(t, subs[0].Secret)

	instances := reg.Instances("orders")
	require.Len(t, instances, 1)
	assert.Equal(t, "orders@orders.internal:8080", instances[0].ID())

	t.Run("apply is idempotent", func(t *testing.T) {
		require.NoError(t, loader.Apply(ctx, svc, reg))

		subs, err := svc.ListSubscriptions(ctx, "tenant-1")
		require.NoError(t, err)
		assert.Len(t, subs, 1)
	})
}
