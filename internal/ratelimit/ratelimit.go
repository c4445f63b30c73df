// Package ratelimit sequences tile requests per client IP. Map clients fire
// bursts of tile fetches while panning; the limiter serializes each IP's
// requests and enforces a cooldown after wide low-zoom queries, which fan out
// across many datastore pages.
package ratelimit

import (
	"context"
	"time"
)

type RequestKind int

const (
	// RequestTile marks ordinary tile lookups. They share the per-IP queue
	// so one client cannot hold many pipeline slots at once.
	RequestTile RequestKind = iota
	// RequestWide marks low-zoom requests that page through large result
	// sets. Each one is followed by a cooldown for the same IP.
	RequestWide
)

// defaultWorkerIdle bounds how long an IP's worker outlives its last
// request before the loop reaps it.
const defaultWorkerIdle = 2 * time.Minute

// Limiter coordinates per-IP sequencing without shared locks. Every IP gets
// its own worker goroutine fed through the central loop; workers retire
// after workerIdle without traffic so the IP table does not grow forever.
type Limiter struct {
	wideCooldown time.Duration
	workerIdle   time.Duration
	requests     chan keyedRequest
	retired      chan string
	now          func() time.Time
}

type keyedRequest struct {
	ip  string
	req ipRequest
}

type ipRequest struct {
	ctx      context.Context
	kind     RequestKind
	arrived  time.Time
	response chan acquireResponse
}

type acquireResponse struct {
	release      chan struct{}
	waitDuration time.Duration
	err          error
}

// Permit is an acquired slot. Release it when the handler finishes so the
// next queued request for the same IP can proceed.
type Permit struct {
	release      chan struct{}
	WaitDuration time.Duration
}

// Release is idempotent; the channel is nilled after the first call.
func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	close(p.release)
	p.release = nil
}

// New starts the limiter's coordination goroutine. wideCooldown applies
// between consecutive wide requests from one IP.
func New(wideCooldown time.Duration) *Limiter {
	return newLimiter(wideCooldown, defaultWorkerIdle)
}

func newLimiter(wideCooldown, workerIdle time.Duration) *Limiter {
	l := &Limiter{
		wideCooldown: wideCooldown,
		workerIdle:   workerIdle,
		requests:     make(chan keyedRequest),
		retired:      make(chan string),
		now:          time.Now,
	}
	go l.loop()
	return l
}

// Acquire reserves a slot for the IP. It blocks until the IP's worker grants
// the slot or ctx is done. A nil limiter grants everything immediately.
func (l *Limiter) Acquire(ctx context.Context, ip string, kind RequestKind) (*Permit, error) {
	if l == nil {
		return nil, nil
	}

	respCh := make(chan acquireResponse, 1)
	req := ipRequest{ctx: ctx, kind: kind, arrived: l.now(), response: respCh}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case l.requests <- keyedRequest{ip: ip, req: req}:
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp := <-respCh:
		if resp.err != nil {
			return nil, resp.err
		}
		return &Permit{release: resp.release, WaitDuration: resp.waitDuration}, nil
	}
}

func (l *Limiter) loop() {
	workers := make(map[string]chan ipRequest)

	for {
		select {
		case keyed := <-l.requests:
			ch, ok := workers[keyed.ip]
			if !ok {
				ch = make(chan ipRequest)
				workers[keyed.ip] = ch
				go l.runIPWorker(keyed.ip, ch)
			}

			select {
			case ch <- keyed.req:
			case <-keyed.req.ctx.Done():
				keyed.req.response <- acquireResponse{err: keyed.req.ctx.Err()}
			}
		case ip := <-l.retired:
			// only the loop sends on a worker channel, so closing here
			// cannot race a send
			if ch, ok := workers[ip]; ok {
				close(ch)
				delete(workers, ip)
			}
		}
	}
}

func (l *Limiter) runIPWorker(ip string, requests <-chan ipRequest) {
	var lastWideFinish time.Time
	idle := time.NewTimer(l.workerIdle)
	defer idle.Stop()

	for {
		select {
		case req, ok := <-requests:
			if !ok {
				return
			}
			l.serve(req, &lastWideFinish)
			resetIdleTimer(idle, l.workerIdle)
		case <-idle.C:
			// offer retirement while staying receptive: the loop may be
			// mid-send to this worker when the timer fires
			retire := true
			select {
			case l.retired <- ip:
			case req, ok := <-requests:
				if !ok {
					return
				}
				l.serve(req, &lastWideFinish)
				resetIdleTimer(idle, l.workerIdle)
				retire = false
			}
			if retire {
				// the loop has dropped this worker and closed the
				// channel; drain anything already handed over
				for req := range requests {
					l.serve(req, &lastWideFinish)
				}
				return
			}
		}
	}
}

func (l *Limiter) serve(req ipRequest, lastWideFinish *time.Time) {
	select {
	case <-req.ctx.Done():
		req.response <- acquireResponse{err: req.ctx.Err()}
		return
	default:
	}

	now := l.now()
	totalWait := now.Sub(req.arrived)
	if totalWait < 0 {
		totalWait = 0
	}

	if req.kind == RequestWide && !lastWideFinish.IsZero() {
		readyAt := lastWideFinish.Add(l.wideCooldown)
		if now = l.now(); now.Before(readyAt) {
			cooldown := readyAt.Sub(now)
			timer := time.NewTimer(cooldown)
			select {
			case <-req.ctx.Done():
				if !timer.Stop() {
					<-timer.C
				}
				req.response <- acquireResponse{err: req.ctx.Err()}
				return
			case <-timer.C:
				totalWait += cooldown
			}
		}
	}

	release := make(chan struct{})
	resp := acquireResponse{release: release, waitDuration: totalWait}

	select {
	case <-req.ctx.Done():
		req.response <- acquireResponse{err: req.ctx.Err()}
		return
	case req.response <- resp:
	}

	// wait for Release even if the handler's context dies first
	select {
	case <-release:
	case <-req.ctx.Done():
		<-release
	}

	if req.kind == RequestWide {
		*lastWideFinish = l.now()
	}
}

func resetIdleTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
