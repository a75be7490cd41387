package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	apierr "github.com/anvilworks/anvil/pkg/api/types/errors"
	apires "github.com/anvilworks/anvil/pkg/api/types/resources"
	kerr "github.com/anvilworks/anvil/pkg/domain/errors"
	"github.com/anvilworks/anvil/pkg/domain/resource"
	"github.com/anvilworks/anvil/pkg/domain/watch"
)

// WatchParams bound every watch session started over HTTP.
type WatchParams struct {
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// WatchResourceHandler serves the status of one resource.
//
// Without the `follow` query parameter it replies a single snapshot.
// With it, it attaches the client to the resource's poll session and
// streams status events until the session ends or the client goes away.
func WatchResourceHandler(
	registry *watch.Registry,
	store resource.Store,
	params WatchParams,
	paramKey string,
) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		r, err := store.Get(ctx, c.Param(paramKey))
		if err != nil {
			if kerr.AsMissing(err) {
				return apierr.NotFound()
			}
			return apierr.InternalServerError(err)
		}

		if !c.QueryParams().Has("follow") {
			return c.JSON(http.StatusOK, apires.ComposeDetail(r))
		}

		// follow mode!
		resp := c.Response()
		resp.Header().Set(echo.HeaderContentType, "text/event-stream")
		resp.Header().Set("Cache-Control", "no-cache")
		resp.WriteHeader(http.StatusOK)
		resp.Flush()

		sub := newStreamSubscriber()
		subscription := registry.Watch(
			watch.Key{Kind: r.Kind, Id: r.Id},
			params.PollInterval, params.PollTimeout,
			sub,
		)

		for {
			select {
			case <-ctx.Done():
				subscription.Detach()
				return nil
			case <-sub.gone:
				return sub.drainTo(resp)
			case event := <-sub.events:
				if err := writeEvent(resp, event); err != nil {
					subscription.Detach()
					return nil
				}
			}
		}
	}
}

func writeEvent(resp *echo.Response, event watch.Event) error {
	frame := apires.Event{Event: event.Name}
	if event.Name == watch.EventStatus {
		detail := apires.ComposeDetail(event.Resource)
		frame.Resource = &detail
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(resp, "event: %s\ndata: %s\n\n", event.Name, payload); err != nil {
		return err
	}
	resp.Flush()
	return nil
}

var errSubscriberGone = errors.New("subscriber is gone")

// streamSubscriber bridges a poll session to one SSE response.
// Push is non-blocking: a client too slow to drain the buffer counts as
// unreachable and gets detached by the session.
type streamSubscriber struct {
	events chan watch.Event
	gone   chan struct{}
	once   sync.Once
}

func newStreamSubscriber() *streamSubscriber {
	return &streamSubscriber{
		events: make(chan watch.Event, 16),
		gone:   make(chan struct{}),
	}
}

var _ watch.Subscriber = &streamSubscriber{}

func (s *streamSubscriber) Ping() error {
	select {
	case <-s.gone:
		return errSubscriberGone
	default:
		return nil
	}
}

func (s *streamSubscriber) Push(event watch.Event) error {
	select {
	case <-s.gone:
		return errSubscriberGone
	case s.events <- event:
		return nil
	default:
		return errSubscriberGone
	}
}

func (s *streamSubscriber) Close() {
	s.once.Do(func() { close(s.gone) })
}

// drainTo flushes events buffered before Close to the response.
func (s *streamSubscriber) drainTo(resp *echo.Response) error {
	for {
		select {
		case event := <-s.events:
			if err := writeEvent(resp, event); err != nil {
				return nil
			}
		default:
			return nil
		}
	}
}
