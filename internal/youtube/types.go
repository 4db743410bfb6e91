package youtube

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// TransitionTarget is a broadcastStatus accepted by liveBroadcasts/transition.
type TransitionTarget string

const (
	TransitionTesting  TransitionTarget = "testing"
	TransitionLive     TransitionTarget = "live"
	TransitionComplete TransitionTarget = "complete"
)

// Valid reports whether t is one of the targets the API accepts.
func (t TransitionTarget) Valid() bool {
	switch t {
	case TransitionTesting, TransitionLive, TransitionComplete:
		return true
	}
	return false
}

// Broadcast is the adapter's view of one live broadcast, from either the
// liveBroadcasts listing or the videos detail endpoint.
type Broadcast struct {
	ID              string
	Title           string
	Description     string
	LifeCycleStatus string
	ScheduledStart  *time.Time
	ActualStart     *time.Time
	ActualEnd       *time.Time
	ViewerCount     int64
}

// Ended reports whether the provider has recorded an end time.
func (b Broadcast) Ended() bool {
	return b.ActualEnd != nil
}

// Provisioned is the result of CreateScheduledBroadcast.
type Provisioned struct {
	BroadcastID   string
	StreamID      string
	IngestKey     string
	IngestAddress string
}

// WatchURL is the public watch page for a broadcast or video id.
func WatchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

// EmbedURL is the privacy-enhanced embed URL for a broadcast or video id.
func EmbedURL(id string) string {
	return "https://www.youtube-nocookie.com/embed/" + id + "?autoplay=0&modestbranding=1&rel=0&controls=1"
}

// count decodes the API's uint64-as-string counters, tolerating plain numbers
// and empty strings.
type count int64

func (c *count) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*c = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*c = count(n)
	return nil
}

// Wire types for the subset of the Data API v3 this package uses.

type snippet struct {
	Title              string     `json:"title"`
	Description        string     `json:"description,omitempty"`
	ScheduledStartTime *time.Time `json:"scheduledStartTime,omitempty"`
	ActualStartTime    *time.Time `json:"actualStartTime,omitempty"`
	ActualEndTime      *time.Time `json:"actualEndTime,omitempty"`
}

type broadcastStatus struct {
	LifeCycleStatus         string `json:"lifeCycleStatus,omitempty"`
	PrivacyStatus           string `json:"privacyStatus,omitempty"`
	SelfDeclaredMadeForKids bool   `json:"selfDeclaredMadeForKids"`
}

type contentDetails struct {
	EnableAutoStart   bool   `json:"enableAutoStart"`
	EnableAutoStop    bool   `json:"enableAutoStop"`
	LatencyPreference string `json:"latencyPreference,omitempty"`
}

type statistics struct {
	ConcurrentViewers count `json:"concurrentViewers,omitempty"`
}

type liveBroadcast struct {
	ID             string           `json:"id,omitempty"`
	Snippet        snippet          `json:"snippet"`
	Status         *broadcastStatus `json:"status,omitempty"`
	ContentDetails *contentDetails  `json:"contentDetails,omitempty"`
	Statistics     *statistics      `json:"statistics,omitempty"`
}

type liveBroadcastList struct {
	Items         []liveBroadcast `json:"items"`
	NextPageToken string          `json:"nextPageToken,omitempty"`
}

type cdn struct {
	IngestionType string         `json:"ingestionType"`
	Resolution    string         `json:"resolution,omitempty"`
	FrameRate     string         `json:"frameRate,omitempty"`
	IngestionInfo *ingestionInfo `json:"ingestionInfo,omitempty"`
}

type ingestionInfo struct {
	StreamName       string `json:"streamName"`
	IngestionAddress string `json:"ingestionAddress"`
}

type liveStream struct {
	ID      string  `json:"id,omitempty"`
	Snippet snippet `json:"snippet"`
	CDN     cdn     `json:"cdn"`
}

type liveStreamingDetails struct {
	ActualStartTime    *time.Time `json:"actualStartTime,omitempty"`
	ActualEndTime      *time.Time `json:"actualEndTime,omitempty"`
	ScheduledStartTime *time.Time `json:"scheduledStartTime,omitempty"`
	ConcurrentViewers  count      `json:"concurrentViewers,omitempty"`
}

type video struct {
	ID                   string                `json:"id"`
	Snippet              snippet               `json:"snippet"`
	LiveStreamingDetails *liveStreamingDetails `json:"liveStreamingDetails,omitempty"`
}

type videoList struct {
	Items []video `json:"items"`
}

func (lb liveBroadcast) toBroadcast() Broadcast {
	b := Broadcast{
		ID:             lb.ID,
		Title:          lb.Snippet.Title,
		Description:    lb.Snippet.Description,
		ScheduledStart: lb.Snippet.ScheduledStartTime,
		ActualStart:    lb.Snippet.ActualStartTime,
		ActualEnd:      lb.Snippet.ActualEndTime,
	}
	if lb.Status != nil {
		b.LifeCycleStatus = lb.Status.LifeCycleStatus
	}
	if lb.Statistics != nil {
		b.ViewerCount = int64(lb.Statistics.ConcurrentViewers)
	}
	return b
}

func (v video) toBroadcast() Broadcast {
	b := Broadcast{
		ID:             v.ID,
		Title:          v.Snippet.Title,
		Description:    v.Snippet.Description,
		ScheduledStart: v.Snippet.ScheduledStartTime,
	}
	if d := v.LiveStreamingDetails; d != nil {
		b.ActualStart = d.ActualStartTime
		b.ActualEnd = d.ActualEndTime
		if d.ScheduledStartTime != nil {
			b.ScheduledStart = d.ScheduledStartTime
		}
		b.ViewerCount = int64(d.ConcurrentViewers)
	}
	return b
}

var _ json.Unmarshaler = (*count)(nil)
