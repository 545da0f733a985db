package model

import "errors"

var (
	// ErrConfiguration marks fatal misconfiguration: empty electrode
	// pools, non-positive currents, malformed ROI specs. Fail fast.
	ErrConfiguration = errors.New("configuration error")

	// ErrData marks a missing or corrupt leadfield/mesh source.
	ErrData = errors.New("data error")
)
