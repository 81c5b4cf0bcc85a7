package httpclient

import (
	"net/http"
	"testing"
	"time"
)

func TestNewOutbound_UsesTimeoutAndPooledTransport(t *testing.T) {
	c := NewOutbound(7 * time.Second)
	if c.Timeout != 7*time.Second {
		t.Fatalf("timeout=%v", c.Timeout)
	}
	tr, ok := c.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("transport type %T", c.Transport)
	}
	if tr.MaxIdleConnsPerHost <= 0 || tr.Proxy == nil {
		t.Fatalf("unexpected transport config: %+v", tr)
	}
}
