package vpnkittest

import (
	"context"
	"net/http"
	"testing"

	"github.com/moby/vpnkitrc/go/pkg/vpnkitrc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExposeIdempotent(t *testing.T) {
	s := NewTestServer(t)
	c, err := vpnkitrc.NewClient(s.Path())
	require.Nil(t, err)
	p := vpnkitrc.PortRule(vpnkitrc.TCP, "127.0.0.1", 8080, "127.0.0.1", 8080)
	ctx := context.Background()
	assert.Nil(t, c.ExposePort(ctx, p))
	assert.Nil(t, c.ExposePort(ctx, p))
	assert.Len(t, s.Rules(), 1)
}

func TestUnexposeIdempotent(t *testing.T) {
	s := NewTestServer(t)
	c, err := vpnkitrc.NewClient(s.Path())
	require.Nil(t, err)
	p := vpnkitrc.PipeRule("/run/guest-services/test.sock", "/tmp/test.sock")
	ctx := context.Background()
	assert.Nil(t, c.UnexposePipePath(ctx, p))
	assert.Nil(t, c.ExposePipePath(ctx, p))
	assert.Nil(t, c.UnexposePipePath(ctx, p))
	assert.Nil(t, c.UnexposePipePath(ctx, p))
	assert.Len(t, s.Rules(), 0)
}

func TestRejectsPipeOnPortEndpoint(t *testing.T) {
	s := NewTestServer(t)
	c, err := vpnkitrc.NewClient(s.Path())
	require.Nil(t, err)
	err = c.ExposePort(context.Background(), vpnkitrc.PipeRule("/a", "/b"))
	require.NotNil(t, err)
	assert.Equal(t, "exposed ports can only be TCP or UDP", err.Error())
	assert.Len(t, s.Rules(), 0)
}

func TestRejectsPortOnPipeEndpoint(t *testing.T) {
	s := NewTestServer(t)
	c, err := vpnkitrc.NewClient(s.Path())
	require.Nil(t, err)
	err = c.ExposePipePath(context.Background(), vpnkitrc.PortRule(vpnkitrc.UDP, "", 53, "", 53))
	require.NotNil(t, err)
	assert.Equal(t, "exposed pipes can only have proto=Unix", err.Error())
}

func TestRecordsRequests(t *testing.T) {
	s := NewTestServer(t)
	c, err := vpnkitrc.NewClient(s.Path())
	require.Nil(t, err)
	ctx := context.Background()
	p := vpnkitrc.PortRule(vpnkitrc.TCP, "", 80, "", 8080)
	require.Nil(t, c.ExposePort(ctx, p))
	_, err = c.List(ctx)
	require.Nil(t, err)

	requests := s.Requests()
	require.Len(t, requests, 2)
	assert.Equal(t, http.MethodPut, requests[0].Method)
	assert.Equal(t, vpnkitrc.ExposePortPath, requests[0].Path)
	require.NotNil(t, requests[0].Rule)
	assert.True(t, p.Equal(*requests[0].Rule))
	assert.Equal(t, http.MethodGet, requests[1].Method)
	assert.Equal(t, vpnkitrc.ListPath, requests[1].Path)
}

func TestRecover(t *testing.T) {
	s := NewTestServer(t)
	c, err := vpnkitrc.NewClient(s.Path())
	require.Nil(t, err)
	s.FailWith(http.StatusServiceUnavailable, "restarting")
	_, err = c.List(context.Background())
	assert.NotNil(t, err)
	s.Recover()
	_, err = c.List(context.Background())
	assert.Nil(t, err)
}
