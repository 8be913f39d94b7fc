package vpnkitrc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/moby/vpnkitrc/go/pkg/vpnkitrc/log"
	"github.com/moby/vpnkitrc/go/pkg/vpnkitrc/transport"
	"github.com/pkg/errors"
)

const (
	ListPath         = "/forwards/list"
	DumpStatePath    = "/forwards/dump"
	ExposePortPath   = "/forwards/expose/port"
	ExposePipePath   = "/forwards/expose/pipe"
	UnexposePortPath = "/forwards/unexpose/port"
	UnexposePipePath = "/forwards/unexpose/pipe"
)

// BaseURL is the URL every request is sent to. The host is ignored: all
// connections go to the control socket.
const BaseURL = "http://localhost"

// Client manipulates the forwards of a running vpnkit.
type Client interface {
	// List returns the current forwards in the order chosen by the daemon.
	List(context.Context) ([]Rule, error)
	// DumpState returns the daemon's debug dump.
	DumpState(context.Context) (string, error)
	ExposePort(context.Context, Rule) error
	UnexposePort(context.Context, Rule) error
	ExposePipePath(context.Context, Rule) error
	UnexposePipePath(context.Context, Rule) error
}

const httpTimeout = 100 * time.Second

// maxErrorBodyLength is the most read from an error response
const maxErrorBodyLength = 64 * 1024

// NewClient returns a client for the control socket at path, which may carry a
// unix:// prefix. Nothing is dialed until the first request.
func NewClient(path string) (Client, error) {
	path = transport.TrimScheme(path)
	return NewClientWithTransport(transport.Choose(path), path)
}

// NewClientWithTransport is NewClient with an explicit transport.
func NewClientWithTransport(t transport.Transport, path string) (Client, error) {
	path = transport.TrimScheme(path)
	if path == "" {
		return nil, errors.New("path must be provided")
	}
	return &httpClient{
		client: http.Client{
			Timeout: httpTimeout,
			Transport: &http.Transport{
				DialContext: func(c context.Context, _, _ string) (net.Conn, error) {
					return t.Dial(c, path)
				},
			},
		},
	}, nil
}

type httpClient struct {
	client http.Client
}

func (h *httpClient) List(ctx context.Context) ([]Rule, error) {
	res, err := h.do(ctx, http.MethodGet, ListPath, nil)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	var rules []Rule
	if err := json.NewDecoder(res.Body).Decode(&rules); err != nil {
		return nil, &TransportError{Op: op(http.MethodGet, ListPath), Err: errors.Wrap(err, "decoding forwards")}
	}
	if rules == nil {
		rules = []Rule{}
	}
	return rules, nil
}

func (h *httpClient) DumpState(ctx context.Context) (string, error) {
	res, err := h.do(ctx, http.MethodGet, DumpStatePath, nil)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return "", &TransportError{Op: op(http.MethodGet, DumpStatePath), Err: err}
	}
	if !utf8.Valid(b) {
		return "", &TransportError{Op: op(http.MethodGet, DumpStatePath), Err: errors.New("response body is not valid UTF-8")}
	}
	return string(b), nil
}

func (h *httpClient) ExposePort(ctx context.Context, rule Rule) error {
	return h.send(ctx, http.MethodPut, ExposePortPath, rule)
}

func (h *httpClient) UnexposePort(ctx context.Context, rule Rule) error {
	return h.send(ctx, http.MethodDelete, UnexposePortPath, rule)
}

func (h *httpClient) ExposePipePath(ctx context.Context, rule Rule) error {
	return h.send(ctx, http.MethodPut, ExposePipePath, rule)
}

func (h *httpClient) UnexposePipePath(ctx context.Context, rule Rule) error {
	return h.send(ctx, http.MethodDelete, UnexposePipePath, rule)
}

// send issues a request whose response body carries nothing on success.
func (h *httpClient) send(ctx context.Context, method, path string, rule Rule) error {
	res, err := h.do(ctx, method, path, &rule)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, res.Body)
	return nil
}

func (h *httpClient) do(ctx context.Context, method, path string, rule *Rule) (*http.Response, error) {
	var body io.Reader
	if rule != nil {
		b, err := json.Marshal(rule)
		if err != nil {
			return nil, &TransportError{Op: op(method, path), Err: errors.Wrap(err, "encoding rule")}
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, BaseURL+path, body)
	if err != nil {
		return nil, &TransportError{Op: op(method, path), Err: err}
	}
	if rule != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := h.client.Do(req)
	if err != nil {
		log.Debugf("%s failed: %v", op(method, path), err)
		return nil, &TransportError{Op: op(method, path), Err: err}
	}
	log.Debugf("%s returned %d", op(method, path), res.StatusCode)
	if err := successful(op(method, path), res); err != nil {
		res.Body.Close()
		return nil, err
	}
	return res, nil
}

// successful turns a 4xx or 5xx response into an error.
func successful(op string, res *http.Response) error {
	if res.StatusCode < 400 || res.StatusCode > 599 {
		return nil
	}
	b, err := readAtMost(res.Body, maxErrorBodyLength)
	if err != nil {
		return &TransportError{Op: op, Err: errors.Wrapf(err, "reading %d response", res.StatusCode)}
	}
	var apiErr APIError
	if err := json.Unmarshal(b, &apiErr); err != nil {
		return &TransportError{Op: op, Err: errors.Errorf("unexpected HTTP status %d %s, body=%q", res.StatusCode, http.StatusText(res.StatusCode), b)}
	}
	apiErr.StatusCode = res.StatusCode
	if apiErr.Message == "" {
		apiErr.Message = fmt.Sprintf("%s returned %d %s", op, res.StatusCode, http.StatusText(res.StatusCode))
	}
	return &apiErr
}

func readAtMost(r io.Reader, maxBytes int) ([]byte, error) {
	lr := &io.LimitedReader{
		R: r,
		N: int64(maxBytes),
	}
	b, err := io.ReadAll(lr)
	if err != nil {
		return b, err
	}
	if lr.N == 0 {
		return b, fmt.Errorf("expected at most %d bytes, got more", maxBytes)
	}
	return b, nil
}

func op(method, path string) string {
	return method + " " + path
}
