// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package base

import (
	"log"
	"os"
)

// Logger is the minimal logging surface every package accepts, so callers
// can plug in their own structured logger without the core depending on a
// particular logging framework.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// DefaultLogger writes to the standard library logger; used when no logger
// is supplied.
var DefaultLogger Logger = &stdLogger{l: log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)}

type stdLogger struct{ l *log.Logger }

func (s *stdLogger) Infof(format string, args ...interface{}) { s.l.Printf("INFO  "+format, args...) }
func (s *stdLogger) Errorf(format string, args ...interface{}) {
	s.l.Printf("ERROR "+format, args...)
}
func (s *stdLogger) Fatalf(format string, args ...interface{}) {
	s.l.Fatalf("FATAL "+format, args...)
}
