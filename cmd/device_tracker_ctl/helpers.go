package main

import (
	"errors"
	"fmt"

	"github.com/lnmt-project/lnmt/pkg/client"
	"github.com/lnmt-project/lnmt/pkg/settings"
)

// usageError marks an argument mistake so main can exit 2 instead of 1.
type usageError struct{ err error }

func (u usageError) Error() string { return u.err.Error() }
func (u usageError) Unwrap() error { return u.err }

func usageErrorf(format string, args ...interface{}) error {
	return usageError{fmt.Errorf(format, args...)}
}

func exitCode(err error) int {
	var ue usageError
	if errors.As(err, &ue) {
		return 2
	}
	return 1
}

// newClient builds the daemon client from flags and saved settings.
func newClient() (*client.Client, error) {
	s, err := settings.Load()
	if err != nil {
		return nil, err
	}
	base := serverURL
	if base == "" {
		base = s.GetServer()
	}
	return client.New(base, s.Token), nil
}

// outputFormat resolves the effective format, flag over settings.
func outputFormat() (string, error) {
	f := format
	if f == "" {
		s, err := settings.Load()
		if err != nil {
			return "", err
		}
		f = s.GetFormat()
	}
	if f != "table" && f != "json" {
		return "", usageErrorf("unknown format %q: want table or json", f)
	}
	return f, nil
}
