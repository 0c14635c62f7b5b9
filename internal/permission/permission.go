package permission

import (
	"context"
	"log"
)

// Status represents the current state of a calendar permission.
type Status string

// Permission status constants.
const (
	// Granted indicates full access has been granted.
	Granted Status = "granted"

	// Denied indicates the user denied the permission. The app may request again.
	Denied Status = "denied"

	// PermanentlyDenied indicates the user denied with "don't ask again". The app cannot
	// request again; the user has to change it in the platform settings.
	PermanentlyDenied Status = "permanently_denied"

	// Restricted indicates a policy prevents granting. No dialog will be shown.
	Restricted Status = "restricted"

	// NotDetermined indicates the user has not yet been asked.
	NotDetermined Status = "not_determined"

	// Unknown indicates the status could not be determined.
	Unknown Status = "unknown"
)

// Kind names one half of a split read/write permission model.
type Kind string

const (
	Read  Kind = "read"
	Write Kind = "write"
)

// CombinedAuthorizer is a platform with a single calendar permission covering
// both reading and writing.
type CombinedAuthorizer interface {
	AuthorizationStatus(ctx context.Context) (Status, error)
	RequestPermissions(ctx context.Context) (Status, error)
}

// SplitAuthorizer is a platform with separate read and write calendar permissions.
type SplitAuthorizer interface {
	Check(ctx context.Context, kind Kind) (Status, error)
	Request(ctx context.Context, kind Kind) (Status, error)
}

// Gate resolves a platform permission flow into a single yes/no answer before
// any calendar access happens.
type Gate interface {
	// Ensure reports whether calendar access is granted. When interactive is false
	// the gate only inspects the current status and never requests.
	Ensure(ctx context.Context, interactive bool) bool
}

// NewCombinedGate returns a Gate for platforms with one combined permission.
func NewCombinedGate(auth CombinedAuthorizer) Gate {
	return &combinedGate{auth: auth}
}

// NewSplitGate returns a Gate for platforms with separate read/write permissions.
func NewSplitGate(auth SplitAuthorizer) Gate {
	return &splitGate{auth: auth}
}

type combinedGate struct {
	auth CombinedAuthorizer
}

func (g *combinedGate) Ensure(ctx context.Context, interactive bool) bool {
	status, err := g.auth.AuthorizationStatus(ctx)
	if err != nil {
		log.Printf("Warning: failed to read calendar authorization status: %v", err)
		status = Unknown
	}
	if status == Granted {
		return true
	}
	if !interactive {
		log.Printf("Calendar permission is %s and the request cannot be shown now", status)
		return false
	}
	if !canRequest(status) {
		log.Printf("Calendar permission is %s, not requesting again", status)
		return false
	}

	status, err = g.auth.RequestPermissions(ctx)
	if err != nil {
		log.Printf("Warning: calendar permission request failed: %v", err)
		return false
	}
	return status == Granted
}

type splitGate struct {
	auth SplitAuthorizer
}

func (g *splitGate) Ensure(ctx context.Context, interactive bool) bool {
	read := g.check(ctx, Read)
	write := g.check(ctx, Write)
	if read == Granted && write == Granted {
		return true
	}
	if !interactive {
		log.Printf("Calendar permissions are read=%s write=%s and the request cannot be shown now", read, write)
		return false
	}
	if !canRequest(read) || !canRequest(write) {
		log.Printf("Calendar permissions are read=%s write=%s, not requesting again", read, write)
		return false
	}

	// Both are requested even if one of them was already granted.
	read = g.request(ctx, Read)
	write = g.request(ctx, Write)
	return read == Granted && write == Granted
}

func (g *splitGate) check(ctx context.Context, kind Kind) Status {
	status, err := g.auth.Check(ctx, kind)
	if err != nil {
		log.Printf("Warning: failed to check %s calendar permission: %v", kind, err)
		return Unknown
	}
	return status
}

func (g *splitGate) request(ctx context.Context, kind Kind) Status {
	status, err := g.auth.Request(ctx, kind)
	if err != nil {
		log.Printf("Warning: %s calendar permission request failed: %v", kind, err)
		return Unknown
	}
	return status
}

// canRequest reports whether asking again can change the status.
func canRequest(status Status) bool {
	switch status {
	case PermanentlyDenied, Restricted:
		return false
	default:
		return true
	}
}
