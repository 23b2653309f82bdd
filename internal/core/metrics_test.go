package core

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceCollector_TypesAndValues(t *testing.T) {
	s, _ := newTestService(t)
	c := newServiceCollector(s)

	expected := `
# HELP postura_frames_processed_total Frames evaluated by the capture loop.
# TYPE postura_frames_processed_total counter
postura_frames_processed_total{instance="room-1"} 0
# HELP postura_loop_active 1 while a capture loop is running.
# TYPE postura_loop_active gauge
postura_loop_active{instance="room-1"} 0
# HELP postura_mqtt_connected 1 while the MQTT client is connected.
# TYPE postura_mqtt_connected gauge
postura_mqtt_connected{instance="room-1"} 1
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"postura_frames_processed_total", "postura_loop_active", "postura_mqtt_connected"))

	assert.Equal(t, len(c.metrics), testutil.CollectAndCount(c))

	problems, err := testutil.CollectAndLint(c)
	require.NoError(t, err)
	assert.Empty(t, problems)
}
