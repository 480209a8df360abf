package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
)

// feedPage is the wire shape of one change-feed poll response.
type feedPage struct {
	Events []Event `json:"events"`
	Cursor string  `json:"cursor"`
}

// feedSubscription polls the change-feed endpoint for one owner and
// delivers events on a channel. Polling stops when Close is called or
// the subscribing context ends.
type feedSubscription struct {
	gateway *HTTPGateway
	ownerID string
	events  chan Event
	stopCh  chan struct{}
	log     *logrus.Entry
}

// Subscribe implements Gateway.Subscribe. The feed is consumed via
// repeated polls against a server-held cursor, so a dropped poll only
// delays delivery rather than losing events.
func (g *HTTPGateway) Subscribe(ctx context.Context, ownerID string) (Subscription, error) {
	sub := &feedSubscription{
		gateway: g,
		ownerID: ownerID,
		events:  make(chan Event, 64),
		stopCh:  make(chan struct{}),
		log:     g.log.WithField("owner_id", ownerID),
	}
	go sub.run(ctx)
	return sub, nil
}

// Events implements Subscription.Events.
func (s *feedSubscription) Events() <-chan Event {
	return s.events
}

// Close implements Subscription.Close. Safe to call once.
func (s *feedSubscription) Close() error {
	close(s.stopCh)
	return nil
}

// run is the polling loop. Each iteration fetches everything past the
// current cursor; errors are logged and retried on the next tick.
func (s *feedSubscription) run(ctx context.Context) {
	defer close(s.events)

	ticker := time.NewTicker(s.gateway.pollEvery)
	defer ticker.Stop()

	var cursor string
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		page, err := s.poll(ctx, cursor)
		if err != nil {
			s.log.WithError(err).Debug("change feed poll failed")
			continue
		}
		cursor = page.Cursor

		for _, ev := range page.Events {
			select {
			case s.events <- ev:
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

// poll fetches one page of changes past cursor.
func (s *feedSubscription) poll(ctx context.Context, cursor string) (*feedPage, error) {
	q := url.Values{}
	q.Set("owner_id", s.ownerID)
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	path := fmt.Sprintf("/v1/changes?%s", q.Encode())

	var page feedPage
	if err := s.gateway.do(ctx, http.MethodGet, path, nil, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}
