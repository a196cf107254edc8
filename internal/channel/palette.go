package channel

import (
	"sync"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// Palette hands out display colours by stepping around the HSV hue circle.
// Sensors and actuators share one palette so their colours don't collide.
type Palette struct {
	mu    sync.Mutex
	steps int
	index int
}

// NewPalette returns a palette with steps hues per revolution.
func NewPalette(steps int) *Palette {
	if steps <= 0 {
		steps = 12
	}
	return &Palette{steps: steps}
}

// Next returns the next colour as "#RRGGBB".
func (p *Palette) Next() string {
	p.mu.Lock()
	i := p.index
	p.index += 2
	p.mu.Unlock()

	hue := float64(i%p.steps) / float64(p.steps) * 360
	return colorful.Hsv(hue, 0.9, 0.9).Clamped().Hex()
}
