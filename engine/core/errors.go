package core

import (
	"errors"
)

var (
	ErrTimeout            = errors.New("timed out waiting for device")
	ErrOutOfHostMemory    = errors.New("out of host memory")
	ErrOutOfDeviceMemory  = errors.New("out of device memory")
	ErrDeviceLost         = errors.New("device lost")
	ErrSurfaceLost        = errors.New("presentation surface lost")
	ErrSwapchainOutOfDate = errors.New("swapchain out of date")
	ErrShaderCompile      = errors.New("shader compilation failed")
	ErrNotInitialized     = errors.New("not initialized")
	ErrUnknown            = errors.New("unknown")
)

// IsRecoverableSurfaceError reports whether err asks the caller to recreate
// the swapchain and retry instead of tearing the context down.
func IsRecoverableSurfaceError(err error) bool {
	return errors.Is(err, ErrSwapchainOutOfDate) || errors.Is(err, ErrSurfaceLost)
}

func IsDeviceLost(err error) bool {
	return errors.Is(err, ErrDeviceLost)
}
