package youtube

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

// CreateScheduledBroadcast creates an ingest stream, a broadcast carrying the
// metadata and schedule, and binds the two, in that order. When a later step
// fails the resources created so far are deleted again; anything that could
// not be deleted is listed in the returned *PartialCreateError.
func (c *Client) CreateScheduledBroadcast(ctx context.Context, title, description string, scheduled time.Time) (Provisioned, error) {
	stream, err := c.insertStream(ctx, title)
	if err != nil {
		return Provisioned{}, err
	}

	broadcast, err := c.insertBroadcast(ctx, title, description, scheduled)
	if err != nil {
		return Provisioned{}, c.compensate(ctx, "insert_broadcast", err,
			Resource{Kind: "liveStream", ID: stream.ID})
	}

	if err := c.bind(ctx, broadcast.ID, stream.ID); err != nil {
		return Provisioned{}, c.compensate(ctx, "bind", err,
			Resource{Kind: "liveBroadcast", ID: broadcast.ID},
			Resource{Kind: "liveStream", ID: stream.ID})
	}

	p := Provisioned{BroadcastID: broadcast.ID, StreamID: stream.ID}
	if info := stream.CDN.IngestionInfo; info != nil {
		p.IngestKey = info.StreamName
		p.IngestAddress = info.IngestionAddress
	}
	return p, nil
}

// compensate deletes created resources after a failed step. It runs on a
// context detached from ctx's cancellation so a cancelled request still
// cleans up.
func (c *Client) compensate(ctx context.Context, step string, cause error, created ...Resource) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	pe := &PartialCreateError{Step: step, Err: cause}
	for _, r := range created {
		if err := c.Delete(cctx, r); err != nil {
			c.log.Warn("compensation failed, resource left behind",
				slog.String("resource", r.String()),
				slog.String("step", step),
				slog.String("error", err.Error()))
			pe.Leftover = append(pe.Leftover, r)
			continue
		}
		c.log.Info("compensation deleted resource",
			slog.String("resource", r.String()),
			slog.String("step", step))
	}
	return pe
}

func (c *Client) insertStream(ctx context.Context, title string) (liveStream, error) {
	in := liveStream{
		Snippet: snippet{Title: title + " - Stream"},
		CDN: cdn{
			IngestionType: "rtmp",
			Resolution:    "variable",
			FrameRate:     "variable",
		},
	}
	var out liveStream
	q := url.Values{"part": {"snippet,cdn"}}
	if err := c.do(ctx, "insert_stream", http.MethodPost, "/liveStreams", q, in, &out); err != nil {
		return liveStream{}, err
	}
	if out.ID == "" {
		return liveStream{}, errors.New("insert_stream: response carried no id")
	}
	return out, nil
}

func (c *Client) insertBroadcast(ctx context.Context, title, description string, scheduled time.Time) (liveBroadcast, error) {
	start := scheduled.UTC()
	in := liveBroadcast{
		Snippet: snippet{
			Title:              title,
			Description:        description,
			ScheduledStartTime: &start,
		},
		Status: &broadcastStatus{PrivacyStatus: c.privacy},
		ContentDetails: &contentDetails{
			EnableAutoStart:   true,
			EnableAutoStop:    true,
			LatencyPreference: "ultraLow",
		},
	}
	var out liveBroadcast
	q := url.Values{"part": {"snippet,status,contentDetails"}}
	if err := c.do(ctx, "insert_broadcast", http.MethodPost, "/liveBroadcasts", q, in, &out); err != nil {
		return liveBroadcast{}, err
	}
	if out.ID == "" {
		return liveBroadcast{}, errors.New("insert_broadcast: response carried no id")
	}
	return out, nil
}

func (c *Client) bind(ctx context.Context, broadcastID, streamID string) error {
	q := url.Values{"part": {"id"}, "id": {broadcastID}, "streamId": {streamID}}
	return c.do(ctx, "bind", http.MethodPost, "/liveBroadcasts/bind", q, nil, nil)
}

// TransitionBroadcast asks the provider to move a broadcast to target.
func (c *Client) TransitionBroadcast(ctx context.Context, broadcastID string, target TransitionTarget) error {
	if !target.Valid() {
		return errors.Errorf("invalid transition target %q", target)
	}
	q := url.Values{"part": {"status"}, "id": {broadcastID}, "broadcastStatus": {string(target)}}
	return c.do(ctx, "transition", http.MethodPost, "/liveBroadcasts/transition", q, nil, nil)
}

// ListActiveBroadcasts returns the broadcasts the provider reports as active.
func (c *Client) ListActiveBroadcasts(ctx context.Context) ([]Broadcast, error) {
	return c.listBroadcasts(ctx, "list_active", "active")
}

// ListUpcomingBroadcasts returns the broadcasts scheduled but not yet started.
func (c *Client) ListUpcomingBroadcasts(ctx context.Context) ([]Broadcast, error) {
	return c.listBroadcasts(ctx, "list_upcoming", "upcoming")
}

func (c *Client) listBroadcasts(ctx context.Context, op, status string) ([]Broadcast, error) {
	var out []Broadcast
	pageToken := ""
	for page := 0; page < maxListPages; page++ {
		q := url.Values{
			"part":            {"snippet,status,statistics"},
			"broadcastStatus": {status},
			"maxResults":      {listPageSize},
		}
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		var resp liveBroadcastList
		if err := c.do(ctx, op, http.MethodGet, "/liveBroadcasts", q, nil, &resp); err != nil {
			return nil, err
		}
		for _, item := range resp.Items {
			if item.ID == "" {
				continue
			}
			out = append(out, item.toBroadcast())
		}
		if resp.NextPageToken == "" {
			return out, nil
		}
		pageToken = resp.NextPageToken
	}
	c.log.Warn("broadcast listing truncated", slog.String("status", status), slog.Int("pages", maxListPages))
	return out, nil
}

// GetBroadcast fetches live-streaming details for one broadcast (video) id.
func (c *Client) GetBroadcast(ctx context.Context, id string) (Broadcast, error) {
	q := url.Values{"part": {"snippet,liveStreamingDetails,statistics"}, "id": {id}}
	var resp videoList
	if err := c.do(ctx, "get_video", http.MethodGet, "/videos", q, nil, &resp); err != nil {
		return Broadcast{}, err
	}
	if len(resp.Items) == 0 {
		return Broadcast{}, errors.Wrap(ErrBroadcastNotFound, id)
	}
	return resp.Items[0].toBroadcast(), nil
}

// Delete removes a liveStream or liveBroadcast resource.
func (c *Client) Delete(ctx context.Context, r Resource) error {
	var path string
	switch r.Kind {
	case "liveStream":
		path = "/liveStreams"
	case "liveBroadcast":
		path = "/liveBroadcasts"
	default:
		return errors.Errorf("unknown resource kind %q", r.Kind)
	}
	return c.do(ctx, "delete_"+r.Kind, http.MethodDelete, path, url.Values{"id": {r.ID}}, nil, nil)
}
