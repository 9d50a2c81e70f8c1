//go:build !windows

package engine

import "errors"

// Attach is only available inside a Windows host process.
func Attach(workingDir string) (*Engine, error) {
	return nil, errors.New("engine: attach is only supported on windows")
}
