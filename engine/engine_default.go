//go:build !querybridge_stub

package engine

// New returns the engine compiled into this binary.
func New(options Options) Engine {
	return NewVolcanoEngine(options)
}
