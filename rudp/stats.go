package rudp

import (
	"math"
	"time"
)

// RTTStatKind selects a peer round-trip statistic for Conn.PeerStat.
type RTTStatKind int

const (
	MinRTT RTTStatKind = iota
	MaxRTT
	AvgRTT
	MinJitter
	MaxJitter
	AvgJitter
)

// RateStatKind selects a channel rate statistic for Conn.PeerRateStat and
// Conn.LocalStat (which sums it over all peers and channels). Values are
// KB/s.
type RateStatKind int

const (
	CurDLRate RateStatKind = iota
	AvgDLRate
	CurIncRate
	AvgIncRate
	CurLossRate
	AvgLossRate
)

// rttStats keeps a smoothed view of round-trip times and their jitter.
type rttStats struct {
	minRTT, maxRTT, avgRTT          float32
	minJitter, maxJitter, avgJitter float32
	lastRTT                         float32
	haveRTT                         bool
}

func newRTTStats() rttStats {
	return rttStats{
		minRTT:    math.MaxFloat32,
		minJitter: math.MaxFloat32,
		avgRTT:    -1,
		avgJitter: -1,
		lastRTT:   -1,
	}
}

// sample folds one RTT observation (in seconds) into the statistics with a
// bounded exponential history of numSamples.
func (s *rttStats) sample(rtt float32, numSamples float32) {
	if rtt < s.minRTT {
		s.minRTT = rtt
	}
	if rtt > s.maxRTT {
		s.maxRTT = rtt
	}
	if s.avgRTT < 0 {
		s.avgRTT = rtt
	} else {
		s.avgRTT = s.avgRTT*(numSamples-1)/numSamples + rtt/numSamples
	}

	if s.haveRTT {
		jitter := rtt - s.lastRTT
		if jitter < 0 {
			jitter = -jitter
		}
		if jitter < s.minJitter {
			s.minJitter = jitter
		}
		if jitter > s.maxJitter {
			s.maxJitter = jitter
		}
		if s.avgJitter < 0 {
			s.avgJitter = jitter
		} else {
			s.avgJitter = s.avgJitter*(numSamples-1)/numSamples + jitter/numSamples
		}
	}

	s.lastRTT = rtt
	s.haveRTT = true
}

func (s *rttStats) get(kind RTTStatKind) float32 {
	switch kind {
	case MinRTT:
		return s.minRTT
	case MaxRTT:
		return s.maxRTT
	case AvgRTT:
		return s.avgRTT
	case MinJitter:
		return s.minJitter
	case MaxJitter:
		return s.maxJitter
	case AvgJitter:
		return s.avgJitter
	}
	return -1
}

// Resend timing: the retransmit timeout follows the smoothed RTT, bounded
// so that LAN peers don't resend hyperactively and dead links don't wait
// forever.
const (
	resendTimeoutInit   = 500 * time.Millisecond
	resendTimeoutMin    = 100 * time.Millisecond
	resendTimeoutMax    = 3 * time.Second
	resendTimeoutFactor = 4
)

func resendTimeoutFor(avgRTT float32) time.Duration {
	// Whole microseconds, so float32 noise in avgRTT doesn't leak into
	// the timeout.
	t := time.Duration(math.Round(float64(avgRTT)*resendTimeoutFactor*1e6)) * time.Microsecond
	if t < resendTimeoutMin {
		return resendTimeoutMin
	}
	if t > resendTimeoutMax {
		return resendTimeoutMax
	}
	return t
}
