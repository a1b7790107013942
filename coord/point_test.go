package coord

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoint_Add(t *testing.T) {
	a := Point{X: 1, Y: 2}
	b := Point{X: 4, Y: 5}

	assert.Equal(t, Point{X: 5, Y: 7}, a.Add(b))
}

func TestPoint_Clamp(t *testing.T) {
	max := Point{X: 100, Y: 50}

	assert.Equal(t, Point{X: 100, Y: 50}, Point{X: 120, Y: 80}.Clamp(max))
	assert.Equal(t, Point{X: 0, Y: 0}, Point{X: -3, Y: -1}.Clamp(max))
	assert.Equal(t, Point{X: 42, Y: 7}, Point{X: 42, Y: 7}.Clamp(max))
}

func TestPoint_IsZero(t *testing.T) {
	assert.True(t, Point{}.IsZero())
	assert.True(t, Point{X: 1e-9, Y: -1e-9}.IsZero())
	assert.False(t, Point{X: 0.1}.IsZero())
}
