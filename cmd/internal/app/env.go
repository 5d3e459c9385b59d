package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// envOverlay applies ARCLINK_* variables on top of a Config. Unset or blank
// variables keep the current value; malformed ones are collected and
// reported together by err.
type envOverlay struct {
	lookup func(string) (string, bool)
	errs   []error
}

func newEnvOverlay(lookup func(string) (string, bool)) *envOverlay {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &envOverlay{lookup: lookup}
}

func (e *envOverlay) value(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envOverlay) reject(key, v, want string) {
	e.errs = append(e.errs, fmt.Errorf("%s=%q: want %s", key, v, want))
}

func (e *envOverlay) str(key string, dst *string) {
	if v, ok := e.value(key); ok {
		*dst = v
	}
}

// list splits on commas and drops blank items; an all-blank list is ignored.
func (e *envOverlay) list(key string, dst *[]string) {
	v, ok := e.value(key)
	if !ok {
		return
	}
	if items := trimAll(strings.Split(v, ",")); len(items) > 0 {
		*dst = items
	}
}

func (e *envOverlay) duration(key string, dst *time.Duration) {
	v, ok := e.value(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		e.reject(key, v, "a positive duration")
		return
	}
	*dst = d
}

func (e *envOverlay) count(key string, dst *int) {
	v, ok := e.value(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		e.reject(key, v, "a positive integer")
		return
	}
	*dst = n
}

func (e *envOverlay) count32(key string, dst *int32) {
	v, ok := e.value(key)
	if !ok {
		return
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil || n <= 0 {
		e.reject(key, v, "a positive integer")
		return
	}
	*dst = int32(n)
}

func (e *envOverlay) err() error {
	if len(e.errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrConfig, errors.Join(e.errs...))
}
