package main

import (
	"net/http"
	"sync/atomic"
)

// routes wraps a router so it can sit behind an atomic.Pointer.
type routes struct{ http.Handler }

// handlerSwapper serves whichever router was swapped in last. A SIGHUP
// reload installs a router built over the reloaded jobs; requests already
// in flight finish on the old one.
type handlerSwapper struct {
	current atomic.Pointer[routes]
}

func newHandlerSwapper(h http.Handler) *handlerSwapper {
	s := &handlerSwapper{}
	s.Swap(h)
	return s
}

func (s *handlerSwapper) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.current.Load().ServeHTTP(w, r)
}

func (s *handlerSwapper) Swap(h http.Handler) {
	s.current.Store(&routes{h})
}
