package engine

import (
	"errors"
	"fmt"

	"floorview/client"
	"floorview/layout"
)

// Status variants, used by front-ends to pick a color.
const (
	VariantInfo    = "info"
	VariantSuccess = "success"
	VariantWarning = "warning"
	VariantError   = "error"
)

// Status is the one-line message shown in a console's status bar.
type Status struct {
	Message string `json:"message"`
	Variant string `json:"variant"`
}

func info(msg string) Status    { return Status{Message: msg, Variant: VariantInfo} }
func success(msg string) Status { return Status{Message: msg, Variant: VariantSuccess} }
func warning(msg string) Status { return Status{Message: msg, Variant: VariantWarning} }

func zoomStatus(percent int) Status {
	return info(fmt.Sprintf("Zoom %d%%", percent))
}

// errorStatus maps an error to the short message shown to the operator.
func errorStatus(prefix string, err error) Status {
	switch {
	case errors.Is(err, layout.ErrEditModeDisabled):
		return warning("Enable edit mode to save changes")
	case errors.Is(err, layout.ErrNotEditable):
		return warning("Layout is read-only")
	case errors.Is(err, ErrForbidden):
		return warning("Not allowed for your role")
	case errors.Is(err, ErrNoDevice):
		return warning("Select a device first")
	case errors.Is(err, client.ErrNoteTooShort):
		return warning(fmt.Sprintf("Note must have at least %d characters", client.MinNoteLength))
	}
	msg := client.Message(err)
	if prefix != "" {
		msg = prefix + ": " + msg
	}
	return Status{Message: msg, Variant: VariantError}
}
