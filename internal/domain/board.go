package domain

import "time"

// Viewport is the persisted camera position of a board.
type Viewport struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// DefaultViewport is the camera position a new board starts with.
func DefaultViewport() Viewport {
	return Viewport{X: 0, Y: 0, Zoom: 1}
}

// Board is an isolated graph namespace and the unit of broadcast
// isolation. Boards are created explicitly or auto-vivified on first
// reference by slug.
type Board struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	ProjectID string    `json:"projectId"`
	Viewport  Viewport  `json:"viewport"`
	CreatedAt time.Time `json:"createdAt"`
}

// Project groups boards. Deleting a project cascades to its boards.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}
