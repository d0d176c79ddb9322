// Package board is the logging collaborator for training runs: it accepts
// named scalar values and named images at a global step, without prescribing
// how they are displayed or stored.
package board

import "image"

// Board receives scalars and visualization images from the step controller.
type Board interface {
	// AddScalar records a named scalar at the given global step.
	AddScalar(tag string, value float64, step int)

	// AddImage records a named visualization image at the given global step.
	AddImage(tag string, img image.Image, step int)

	// AddText records free-form text, such as the hyperparameter dump
	// written at run start.
	AddText(tag, text string, step int)

	// Close flushes and releases the backing store.
	Close() error
}

// Nop discards everything. Useful for inference runs and tests.
type Nop struct{}

func (Nop) AddScalar(string, float64, int)     {}
func (Nop) AddImage(string, image.Image, int)  {}
func (Nop) AddText(string, string, int)        {}
func (Nop) Close() error                       { return nil }
