package page

// ScrollY is the vertical scroll offset in pixels.
func (d *Document) ScrollY() int {
	d.viewMu.Lock()
	defer d.viewMu.Unlock()
	return d.scrollY
}

// ScrollTo moves the viewport. Negative offsets clamp to 0.
func (d *Document) ScrollTo(y int) {
	if y < 0 {
		y = 0
	}
	d.viewMu.Lock()
	d.scrollY = y
	d.viewMu.Unlock()
}

// Hidden reports whether the tab is in the background.
func (d *Document) Hidden() bool {
	d.viewMu.Lock()
	defer d.viewMu.Unlock()
	return d.hidden
}

// SetHidden changes tab visibility. Listeners registered with
// OnVisibilityChange run synchronously, outside the main-thread lock, and
// only when the state actually changes. Must not be called inside Do.
func (d *Document) SetHidden(hidden bool) {
	d.viewMu.Lock()
	changed := d.hidden != hidden
	d.hidden = hidden
	d.viewMu.Unlock()
	if !changed {
		return
	}

	d.listenMu.Lock()
	fns := append([]func(bool){}, d.visibility...)
	d.listenMu.Unlock()
	for _, fn := range fns {
		fn(hidden)
	}
}

// OnVisibilityChange registers fn for visibility transitions.
func (d *Document) OnVisibilityChange(fn func(hidden bool)) {
	d.listenMu.Lock()
	d.visibility = append(d.visibility, fn)
	d.listenMu.Unlock()
}
