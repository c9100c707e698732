// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package txexec

import (
	"bytes"
	"context"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// runHook executes an opaque pre/post script blob, grounded on
// golang-dep/cmd.go's monitoredCmd: the process is killed if the caller's
// context ends or if it is still running once timeout has elapsed, whether
// or not it has produced output. A nil or empty script is a no-op.
func runHook(ctx context.Context, script []byte, timeout time.Duration) ([]byte, error) {
	if len(script) == 0 {
		return nil, nil
	}

	dir, err := ioutil.TempDir("", "entropy-hook-")
	if err != nil {
		return nil, errors.Wrap(err, "creating hook scratch directory")
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "hook")
	if err := ioutil.WriteFile(path, script, 0700); err != nil {
		return nil, errors.Wrap(err, "writing hook script")
	}

	cmd := exec.Command(path)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "starting hook")
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return out.Bytes(), err
	case <-ctx.Done():
		cmd.Process.Kill()
		<-done
		return out.Bytes(), ctx.Err()
	case <-timer.C:
		cmd.Process.Kill()
		<-done
		return out.Bytes(), errors.Errorf("hook killed after %s", timeout)
	}
}
