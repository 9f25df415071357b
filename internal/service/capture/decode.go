package capture

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/jonathanvineet/DAIO/internal/model"
)

// Decode turns one JPEG payload into a Frame. Any failure is reported as
// ErrBadFrame so the caller can discard the payload and keep reading.
func Decode(payload []byte) (*model.Frame, error) {
	mat, err := gocv.IMDecode(payload, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("%w: decoded image is empty", ErrBadFrame)
	}
	return model.NewFrame(mat), nil
}
