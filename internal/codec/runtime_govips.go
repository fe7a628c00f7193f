//go:build govips && cgo

package codec

import (
	"errors"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

// ErrRuntimeStopped is returned once Shutdown has run: libvips cannot be
// started again in the same process.
var ErrRuntimeStopped = errors.New("libvips runtime already shut down")

type vipsState int

const (
	vipsIdle vipsState = iota
	vipsRunning
	vipsStopped
)

var vipsRuntime struct {
	mu    sync.Mutex
	state vipsState
}

// Startup starts libvips with a bounded operation cache. It is safe to call
// repeatedly.
func Startup() error {
	vipsRuntime.mu.Lock()
	defer vipsRuntime.mu.Unlock()

	switch vipsRuntime.state {
	case vipsRunning:
		return nil
	case vipsStopped:
		return ErrRuntimeStopped
	}

	vips.LoggingSettings(nil, vips.LogLevelWarning)
	vips.Startup(&vips.Config{
		MaxCacheFiles: 0,
		MaxCacheMem:   128 << 20,
		MaxCacheSize:  100,
	})
	vipsRuntime.state = vipsRunning
	return nil
}

func Shutdown() {
	vipsRuntime.mu.Lock()
	defer vipsRuntime.mu.Unlock()

	if vipsRuntime.state != vipsRunning {
		return
	}
	vips.Shutdown()
	vipsRuntime.state = vipsStopped
}

func newCodec() (Codec, error) {
	if err := Startup(); err != nil {
		return nil, err
	}
	return govipsCodec{}, nil
}
