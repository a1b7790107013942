package camera

import (
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Webcam captures JPEG frames from a V4L2 device via gocv. It is not
// safe for concurrent use; wrap it in a Source.
type Webcam struct {
	cap *gocv.VideoCapture
	img gocv.Mat
}

// OpenWebcam opens the capture device and fixes the frame size.
func OpenWebcam(device int, width, height int) (*Webcam, error) {
	cap, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, errors.Wrapf(err, "open camera %d", device)
	}
	cap.Set(gocv.VideoCaptureFrameWidth, float64(width))
	cap.Set(gocv.VideoCaptureFrameHeight, float64(height))
	return &Webcam{cap: cap, img: gocv.NewMat()}, nil
}

// Grab reads one frame and encodes it as JPEG.
func (w *Webcam) Grab() ([]byte, error) {
	if !w.cap.Read(&w.img) || w.img.Empty() {
		return nil, errors.New("camera read failed")
	}
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, w.img)
	if err != nil {
		return nil, errors.Wrap(err, "encode frame")
	}
	defer buf.Close()
	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}

// Close releases the device.
func (w *Webcam) Close() error {
	w.img.Close()
	return w.cap.Close()
}
