package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubject(t *testing.T) {
	p := &NATSPublisher{prefix: "erp"}
	assert.Equal(t, "erp.alert.created", p.Subject(AlertCreated))

	p = &NATSPublisher{}
	assert.Equal(t, "escalation.recorded", p.Subject(EscalationRecorded))
}

func TestRecorderCount(t *testing.T) {
	r := &Recorder{}
	assert.NoError(t, r.Publish(AlertCreated, map[string]string{"id": "a"}))
	assert.NoError(t, r.Publish(AlertCreated, map[string]string{"id": "b"}))
	assert.NoError(t, r.Publish(AlertResolved, nil))

	assert.Equal(t, 2, r.Count(AlertCreated))
	assert.Equal(t, 0, r.Count(CorrelationCreated))
}

func TestNopNeverFails(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(AlertCreated, struct{}{}))
	p.Close()
}

type fakeConn struct {
	calls []string
	data  map[string][]byte
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	c.calls = append(c.calls, "publish")
	if c.data == nil {
		c.data = map[string][]byte{}
	}
	c.data[subject] = data
	return nil
}

func (c *fakeConn) FlushTimeout(time.Duration) error {
	c.calls = append(c.calls, "flush")
	return nil
}

func (c *fakeConn) Close() {
	c.calls = append(c.calls, "close")
}

func TestNATSPublisherFlushesBeforeClose(t *testing.T) {
	conn := &fakeConn{}
	p := &NATSPublisher{conn: conn, prefix: "erp"}

	require.NoError(t, p.Publish(AlertCreated, map[string]string{"id": "a"}))
	p.Close()

	assert.Equal(t, []string{"publish", "flush", "close"}, conn.calls)
	assert.JSONEq(t, `{"id":"a"}`, string(conn.data["erp.alert.created"]))

	(&NATSPublisher{}).Close()
}
