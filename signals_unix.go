// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

//go:build !windows

package bullmq

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// waitForSignals waits for signals and handles them.
// SIGTERM and SIGINT stop the worker; SIGTSTP toggles local pause without
// exiting the process, so a second SIGTSTP resumes fetching again.
func (w *Worker) waitForSignals() {
	w.logger.Info("Listening for signals...")
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGTERM, unix.SIGINT, unix.SIGTSTP)
	for {
		sig := <-sigs
		if sig == unix.SIGTSTP {
			if w.IsPaused() {
				w.Resume()
			} else {
				w.Pause()
			}
			continue
		}
		break
	}
}
