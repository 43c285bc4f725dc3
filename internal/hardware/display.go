package hardware

import (
	"fmt"
	"image"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
)

// Display shows a single line of text
type Display interface {
	ShowText(text string) error
}

// TextTop is the y offset of the label line
const TextTop = 20

// LabelText is the line shown for a classified visitor
func LabelText(label string) string {
	return "Detected: " + label
}

// Render draws text in white on a blank frame with its top-left corner at (0, TextTop)
func Render(w, h int, text string) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, w, h))
	face := basicfont.Face7x13
	d := font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{C: image1bit.On},
		Face: face,
		Dot:  fixed.P(0, TextTop+face.Ascent),
	}
	d.DrawString(text)
	return img
}

// OLED is an SSD1306 panel on I2C
type OLED struct {
	dev  *ssd1306.Dev
	w, h int
}

// ShowText clears the panel and draws text
func (o *OLED) ShowText(text string) error {
	img := Render(o.w, o.h, text)
	if err := o.dev.Draw(img.Bounds(), img, image.Point{}); err != nil {
		return fmt.Errorf("failed to draw on OLED: %w", err)
	}
	return nil
}

// Halt blanks the panel
func (o *OLED) Halt() error {
	return o.dev.Halt()
}
