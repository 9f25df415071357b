package presentation

import (
	"encoding/base64"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/jonathanvineet/DAIO/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Broadcaster delivers a message to remote viewers without blocking.
type Broadcaster interface {
	Broadcast(message []byte)
	GetClientCount() int
}

// ViewerMessage is what remote viewers receive for each frame.
type ViewerMessage struct {
	Seq        uint64            `json:"seq"`
	CapturedAt time.Time         `json:"capturedAt"`
	Annotated  bool              `json:"annotated"`
	Detections []model.Detection `json:"detections"`
	Image      string            `json:"image"`
}

// HubSink sends base64 JPEG frames with their detections to websocket viewers.
type HubSink struct {
	hub     Broadcaster
	quality int
}

func NewHubSink(hub Broadcaster, quality int) *HubSink {
	return &HubSink{hub: hub, quality: quality}
}

func (h *HubSink) Name() string { return "viewers" }

func (h *HubSink) Render(f *model.Frame) error {
	if h.hub.GetClientCount() == 0 {
		return nil
	}

	data, err := f.JPEG(h.quality)
	if err != nil {
		return err
	}

	msg, err := json.Marshal(ViewerMessage{
		Seq:        f.Seq,
		CapturedAt: f.CapturedAt,
		Annotated:  f.Annotated,
		Detections: f.Detections,
		Image:      base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return err
	}
	h.hub.Broadcast(msg)
	return nil
}
