package overlay

import "errors"

// ErrRenderFault is returned once a backend failure has disabled the overlay.
var ErrRenderFault = errors.New("overlay: render fault")
