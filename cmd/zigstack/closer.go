package main

import (
	"io"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// multiCloser closes in reverse order of add.
type multiCloser struct {
	mu sync.Mutex
	cs []io.Closer
}

func (mc *multiCloser) add(c io.Closer) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.cs = append(mc.cs, c)
}

func (mc *multiCloser) addFunc(fn func() error) {
	mc.add(closerFunc(fn))
}

func (mc *multiCloser) Close() error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	var err error
	for i := len(mc.cs) - 1; i >= 0; i-- {
		if cerr := mc.cs[i].Close(); cerr != nil {
			err = multierror.Append(err, cerr)
		}
	}
	mc.cs = nil
	return err
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
