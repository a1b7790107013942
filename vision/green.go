package vision

import (
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Green detects plants by masking the green HSV band and looking for
// a large enough contour. It is the fallback capability when no model
// is available; anything implementing Detector can replace it.
type Green struct {
	// Zoom applies a center crop before detection (1.0 = none).
	Zoom float64
	// MinArea is the smallest contour area (px) that counts as a plant.
	MinArea float64
}

// NewGreen returns a detector with the tuned defaults.
func NewGreen() *Green {
	return &Green{Zoom: 1.5, MinArea: 2000}
}

// Detect reports whether a green region of at least MinArea is
// present in the JPEG frame.
func (g *Green) Detect(frame []byte) (bool, error) {
	img, err := gocv.IMDecode(frame, gocv.IMReadColor)
	if err != nil {
		return false, errors.Wrap(err, "decode frame")
	}
	defer img.Close()
	if img.Empty() {
		return false, errors.New("empty frame")
	}

	work := img
	if g.Zoom > 1.0 {
		cropped := centerCrop(img, g.Zoom)
		defer cropped.Close()
		work = cropped
	}

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(work, &hsv, gocv.ColorBGRToHSV)

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.InRangeWithScalar(hsv,
		gocv.NewScalar(25, 40, 40, 0),
		gocv.NewScalar(95, 255, 255, 0),
		&mask)

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(7, 7))
	defer kernel.Close()
	gocv.MorphologyEx(mask, &mask, gocv.MorphOpen, kernel)
	gocv.MorphologyEx(mask, &mask, gocv.MorphClose, kernel)

	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()
	for i := 0; i < contours.Size(); i++ {
		if gocv.ContourArea(contours.At(i)) >= g.MinArea {
			return true, nil
		}
	}
	return false, nil
}

func centerCrop(img gocv.Mat, zoom float64) gocv.Mat {
	w, h := img.Cols(), img.Rows()
	cw, ch := int(float64(w)/zoom), int(float64(h)/zoom)
	x, y := (w-cw)/2, (h-ch)/2
	region := img.Region(image.Rect(x, y, x+cw, y+ch))
	defer region.Close()

	out := gocv.NewMat()
	gocv.Resize(region, &out, image.Pt(w, h), 0, 0, gocv.InterpolationLinear)
	return out
}
