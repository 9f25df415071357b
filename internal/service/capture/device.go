package capture

import (
	"context"
	"fmt"

	"gocv.io/x/gocv"

	"github.com/jonathanvineet/DAIO/internal/model"
)

// DeviceConnector opens a local camera. It tries Index first and then the
// following indices until Probe indices were tried.
type DeviceConnector struct {
	Index int
	Probe int
}

// NewDeviceConnector returns a DeviceConnector for the given start index.
func NewDeviceConnector(index, probe int) *DeviceConnector {
	if probe < 1 {
		probe = 1
	}
	return &DeviceConnector{Index: index, Probe: probe}
}

func (d *DeviceConnector) Describe() string {
	return fmt.Sprintf("device %d (+%d)", d.Index, d.Probe-1)
}

func (d *DeviceConnector) Connect(ctx context.Context) (Conn, error) {
	for i := d.Index; i < d.Index+d.Probe; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		webcam, err := gocv.VideoCaptureDevice(i)
		if err != nil {
			continue
		}
		if !webcam.IsOpened() {
			webcam.Close()
			continue
		}
		webcam.Set(gocv.VideoCaptureBufferSize, 1)
		return &deviceConn{webcam: webcam, index: i}, nil
	}
	return nil, fmt.Errorf("%w: tried indices %d..%d", ErrNoDevice, d.Index, d.Index+d.Probe-1)
}

type deviceConn struct {
	webcam *gocv.VideoCapture
	index  int
}

// Read blocks in the driver until a frame is available; ctx is only checked
// before the call.
func (c *deviceConn) Read(ctx context.Context) (*model.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img := gocv.NewMat()
	if ok := c.webcam.Read(&img); !ok {
		img.Close()
		return nil, fmt.Errorf("device %d: %w", c.index, ErrStreamEnded)
	}
	if img.Empty() {
		img.Close()
		return nil, fmt.Errorf("device %d: %w: empty frame", c.index, ErrBadFrame)
	}
	return model.NewFrame(img), nil
}

func (c *deviceConn) Close() error {
	return c.webcam.Close()
}

// ProbeDevices opens indices 0..max and returns the ones that deliver a frame.
func ProbeDevices(max int) []int {
	var found []int
	img := gocv.NewMat()
	defer img.Close()

	for i := 0; i <= max; i++ {
		webcam, err := gocv.VideoCaptureDevice(i)
		if err != nil {
			continue
		}
		if webcam.IsOpened() && webcam.Read(&img) && !img.Empty() {
			found = append(found, i)
		}
		webcam.Close()
	}
	return found
}
