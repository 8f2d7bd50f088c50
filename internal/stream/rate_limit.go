package stream

import "sync"

// Reasons a stream is refused, used as the rate_limit error label.
const (
	refusedPerIP  = "rate_limit_ip"
	refusedGlobal = "rate_limit_total"
)

// slots tracks open streams per client address and in total.
type slots struct {
	mu     sync.Mutex
	byIP   map[string]int
	open   int
	perIP  int
	global int
}

func newSlots(perIP, global int) *slots {
	if global <= 0 {
		global = 1000
	}
	return &slots{byIP: make(map[string]int), perIP: perIP, global: global}
}

// take reserves a slot for ip. On success the returned release func frees
// it and may be called more than once. On refusal release is nil and
// refused names the limit that was hit.
func (s *slots) take(ip string) (release func(), refused string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open >= s.global {
		return nil, refusedGlobal
	}
	if s.byIP[ip] >= s.perIP {
		return nil, refusedPerIP
	}
	s.byIP[ip]++
	s.open++

	var once sync.Once
	return func() { once.Do(func() { s.free(ip) }) }, ""
}

func (s *slots) free(ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byIP[ip] <= 1 {
		delete(s.byIP, ip)
	} else {
		s.byIP[ip]--
	}
	s.open--
}

// usage returns the streams held by ip and by everyone.
func (s *slots) usage(ip string) (held, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byIP[ip], s.open
}
