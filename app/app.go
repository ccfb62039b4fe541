// Package app defines the plug-in surface for a custom application
// embedded next to the mass-storage function. The original firmware
// located such an application through a vector table in flash, here it
// reduces to a set of optional hooks passed at construction time.
package app

// Hooks are the optional entry points of a custom application. Nil
// hooks are skipped.
type Hooks struct {
	// Init runs once at startup, after the storage layers are up.
	Init func()

	// Periodic runs on every pass of the main loop. It must not
	// block.
	Periodic func()

	// Reset runs on a USB bus reset.
	Reset func()
}

// RunInit invokes the Init hook if present.
func (h *Hooks) RunInit() {
	if h != nil && h.Init != nil {
		h.Init()
	}
}

// RunPeriodic invokes the Periodic hook if present.
func (h *Hooks) RunPeriodic() {
	if h != nil && h.Periodic != nil {
		h.Periodic()
	}
}

// RunReset invokes the Reset hook if present.
func (h *Hooks) RunReset() {
	if h != nil && h.Reset != nil {
		h.Reset()
	}
}
