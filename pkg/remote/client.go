package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"trisplits/pkg/model"
	"trisplits/pkg/syncer"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// Client talks to a timing hub: plain HTTP for reads and writes, a
// websocket for the push channel. It satisfies syncer.Store. Reconnecting
// after a dropped subscription is the syncer's job, not the client's.
type Client struct {
	domain string
	http   *http.Client
}

func NewClient(domain string) *Client {
	return &Client{
		domain: strings.TrimSuffix(domain, "/"),
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) FetchAll(ctx context.Context) (model.LedgerSnapshot, error) {
	var snap model.LedgerSnapshot
	err := c.getJSON(ctx, "/api/ledger", &snap)
	return snap, model.NewTransport("fetching ledger", err)
}

func (c *Client) FetchRace(ctx context.Context) (model.Race, error) {
	var r model.Race
	err := c.getJSON(ctx, "/api/race", &r)
	return r, model.NewTransport("fetching race", err)
}

func (c *Client) FetchRoster(ctx context.Context) ([]model.Participant, error) {
	var roster []model.Participant
	err := c.getJSON(ctx, "/api/roster", &roster)
	return roster, model.NewTransport("fetching roster", err)
}

func (c *Client) Write(ctx context.Context, rec model.SegmentTimeRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return model.NewTransport("writing record", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.domain+"/api/ledger", bytes.NewReader(body))
	if err != nil {
		return model.NewTransport("writing record", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return model.NewTransport("writing record", err)
	}
	defer resp.Body.Close()
	return model.NewTransport("writing record", responseError(resp))
}

func (c *Client) Delete(ctx context.Context, key model.RecordKey) error {
	path := "/api/ledger/" + url.PathEscape(key.BibNumber) + "/" + url.PathEscape(string(key.Segment))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.domain+path, nil)
	if err != nil {
		return model.NewTransport("deleting record", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return model.NewTransport("deleting record", err)
	}
	defer resp.Body.Close()
	return model.NewTransport("deleting record", responseError(resp))
}

// Subscribe dials the hub's push socket and feeds snapshots until the
// connection drops.
func (c *Client) Subscribe(ctx context.Context) (syncer.Subscription, error) {
	urlString := strings.TrimPrefix(strings.TrimPrefix(c.domain, "https://"), "http://")
	u := url.URL{Scheme: "ws", Host: urlString, Path: "/websocket/ledger"}

	dealer := &websocket.Dialer{
		HandshakeTimeout:  10 * time.Second,
		EnableCompression: true,
	}
	conn, _, err := dealer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, model.NewTransport("dialing push channel", err)
	}

	sub := &subscription{
		conn:  conn,
		snaps: make(chan model.LedgerSnapshot, 1),
		errs:  make(chan error, 1),
		done:  make(chan struct{}),
	}
	go sub.readLoop()
	return sub, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.domain+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := responseError(resp); err != nil {
		return err
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(v), "decoding response")
}

// responseError turns a non-2xx response into an error carrying the hub's
// error message when one was sent.
func responseError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return errors.Errorf("hub rejected request (%d): %s", resp.StatusCode, body.Error)
	}
	return errors.Errorf("unexpected status %d", resp.StatusCode)
}

type subscription struct {
	conn  *websocket.Conn
	snaps chan model.LedgerSnapshot
	errs  chan error
	done  chan struct{}
	once  sync.Once
}

func (s *subscription) Snapshots() <-chan model.LedgerSnapshot {
	return s.snaps
}

func (s *subscription) Err() <-chan error {
	return s.errs
}

func (s *subscription) Cancel() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

func (s *subscription) readLoop() {
	for {
		var snap model.LedgerSnapshot
		if err := s.conn.ReadJSON(&snap); err != nil {
			select {
			case s.errs <- model.NewTransport("reading push channel", err):
			default:
			}
			return
		}
		select {
		case s.snaps <- snap:
		case <-s.done:
			return
		}
	}
}
