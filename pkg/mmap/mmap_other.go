//go:build !linux && !darwin && !freebsd

package mmap

import "errors"

// ErrUnsupported is returned by NewReader where files cannot be mapped.
var ErrUnsupported = errors.New("memory mapping is not supported on this platform")

func mapFile(int, int) ([]byte, error) { return nil, ErrUnsupported }

func unmap([]byte) error { return nil }

func adviseSequential([]byte) {}

func adviseWillNeed([]byte) {}
