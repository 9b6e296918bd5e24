package identity

import "errors"

// Indicates that resolution of a handle or DID failed. Every error returned
// from this package wraps this sentinel, so callers can classify any failure
// here with a single errors.Is check.
var ErrResolutionFailed = errors.New("identity resolution failed")

// Indicates that a handle does not exist, or does not have a declared DID.
var ErrHandleNotFound = errors.New("handle not found")

// Indicates that a DID does not exist in the directory.
var ErrDIDNotFound = errors.New("DID not found")

// Indicates a DID method which this resolver does not implement.
var ErrUnsupportedDIDMethod = errors.New("unsupported DID method")
