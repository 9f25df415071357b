package presentation

import (
	"net/http"

	"github.com/hybridgroup/mjpeg"

	"github.com/jonathanvineet/DAIO/internal/model"
)

// MJPEGSink publishes frames as a multipart/x-mixed-replace HTTP stream.
type MJPEGSink struct {
	stream  *mjpeg.Stream
	quality int
}

func NewMJPEGSink(quality int) *MJPEGSink {
	return &MJPEGSink{
		stream:  mjpeg.NewStream(),
		quality: quality,
	}
}

func (m *MJPEGSink) Name() string { return "mjpeg" }

func (m *MJPEGSink) Render(f *model.Frame) error {
	data, err := f.JPEG(m.quality)
	if err != nil {
		return err
	}
	m.stream.UpdateJPEG(data)
	return nil
}

// ServeHTTP streams frames to one client until it disconnects.
func (m *MJPEGSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.stream.ServeHTTP(w, r)
}
