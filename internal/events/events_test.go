package events_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdesk/triage-console/internal/events"
	"github.com/opsdesk/triage-console/internal/models"
)

func TestNew(t *testing.T) {
	r := models.Report{ID: "r1", StatusName: "Resolved", DepartmentName: "Security", SyncStatus: models.SyncSent}
	p := models.Principal{ID: "u1", Role: models.RoleSystemAdmin}

	e := events.New(events.ReportSent, r, p)
	assert.Equal(t, "report.sent", e.Type)
	assert.Equal(t, "r1", e.ReportID)
	assert.Equal(t, "Security", e.Classification.DepartmentName)
	assert.False(t, e.OccurredAt.IsZero())

	body, err := json.Marshal(e)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"sync_status":"Sent"`)
}

func TestNop(t *testing.T) {
	var pub events.Publisher = events.Nop{}
	assert.NoError(t, pub.Publish(context.Background(), events.Event{}))
	assert.NoError(t, pub.Close())
}

func TestAMQPPublisher(t *testing.T) {
	uri := os.Getenv("AMQP_TEST_URL")
	if uri == "" {
		t.Skip("AMQP_TEST_URL not set")
	}

	pub, err := events.NewAMQPPublisher(uri, "triage.events.test")
	require.NoError(t, err)
	defer pub.Close()

	e := events.New(events.ReportSaved, models.Report{ID: "r1"}, models.Principal{ID: "u1"})
	assert.NoError(t, pub.Publish(context.Background(), e))
}
