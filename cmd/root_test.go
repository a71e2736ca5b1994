package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hlscast/internal/config"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	root := RootCmd()
	root.SetOut(&out)
	root.SetArgs(args)
	require.NoError(t, root.Execute())
	return out.String()
}

func TestVersion(t *testing.T) {
	assert.Contains(t, run(t, "version"), "Version: dev")
}

func TestConfigPrintsEffectiveConfig(t *testing.T) {
	t.Setenv("HLSCAST_QUEUE_DRIVER", "amqp")

	out := run(t, "config", "--log-level", "debug")
	assert.Contains(t, out, "### hlscast Config ###")
	assert.Contains(t, out, "driver: amqp")
	assert.Contains(t, out, "level: debug")
}

func TestVisibilityTimeoutOnlyForSQS(t *testing.T) {
	q := config.Default().Queue
	assert.Equal(t, q.VisibilityTimeout, visibilityTimeout(q))

	q.Driver = config.QueueDriverAMQP
	assert.Zero(t, visibilityTimeout(q))
}
