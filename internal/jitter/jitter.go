// Package jitter records inter-key timing and keyboard-zone transitions and
// derives cadence statistics used to support or challenge a claim of human
// authorship.
//
// It does not capture which keys were pressed. A KeyEvent carries only a
// keycode (for zone mapping) and a timestamp; the sampler never persists
// the underlying text.
package jitter

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// Interval buckets: 10 buckets of 50ms each (0-500ms range), used both to
// commit timing into the HMAC and to build the pause-distribution histogram.
const (
	IntervalBucketSize = 50 // milliseconds
	NumIntervalBuckets = 10
)

// Detection policy thresholds (see Engine.Classify).
const (
	// MinCoVWindow is the minimum sample count before CoV-based detection applies.
	MinCoVWindow = 30
	// MinCoefficientOfVariation below this floor is treated as suspiciously regular.
	MinCoefficientOfVariation = 0.15
	// SuperhumanIKI is the inter-key interval floor; anything faster is implausible.
	SuperhumanIKI = 25 * time.Millisecond
)

// KeyEvent is the external input: a timestamped key press. The OS-specific
// capture of these events is outside this package's scope.
type KeyEvent struct {
	Timestamp time.Time
	KeyCode   uint16
}

// Sample is a single HMAC-committed jitter observation.
type Sample struct {
	Ordinal        uint64    `json:"ordinal"`
	Timestamp      time.Time `json:"timestamp"`
	DurationNanos  int64     `json:"duration_since_last_ns"`
	Zone           int       `json:"zone"`
	ZoneTransition uint8     `json:"zone_transition"` // (from<<3)|to, 0xFF if none
	IntervalBucket uint8     `json:"interval_bucket"`
	JitterValue    uint32    `json:"jitter_value"`
	Hash           [32]byte  `json:"hash"`
}

// computeHash binds the sample to its HMAC key via a plain hash so the
// chain can be re-verified without the secret (the secret-bound JitterValue
// is what an exporter must have known at capture time; Hash just lets a
// verifier confirm the record wasn't altered after export).
func (s *Sample) computeHash() [32]byte {
	h := sha256.New()
	h.Write([]byte("witnessd-jitter-sample-v1"))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], s.Ordinal)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(s.Timestamp.UnixNano()))
	h.Write(buf[:])
	h.Write([]byte{s.ZoneTransition, s.IntervalBucket})
	binary.BigEndian.PutUint32(buf[:4], s.JitterValue)
	h.Write(buf[:4])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Engine samples keystroke cadence for one document session, maintaining a
// ring buffer of recent samples for O(N) statistics.
type Engine struct {
	key      [32]byte
	ordinal  uint64
	prevTime time.Time
	prevZone int
	prevJit  uint32
	ring     []Sample
	ringCap  int
}

// NewEngine creates a sampler keyed by the session HMAC key (see
// internal/keyhierarchy) and a ring buffer capacity for statistics.
func NewEngine(key [32]byte, ringCapacity int) *Engine {
	if ringCapacity <= 0 {
		ringCapacity = 512
	}
	return &Engine{key: key, prevZone: -1, ringCap: ringCapacity}
}

// Observe processes one key event and returns the resulting sample. It
// returns nil for keys outside the zone map (space, modifiers, digits).
func (e *Engine) Observe(ev KeyEvent) *Sample {
	zone := KeyCodeToZone(ev.KeyCode)
	if zone < 0 {
		return nil
	}

	var zoneTransition uint8 = 0xFF
	var intervalBucket uint8
	var durationNanos int64
	if e.prevZone >= 0 {
		zoneTransition = EncodeZoneTransition(e.prevZone, zone)
		interval := ev.Timestamp.Sub(e.prevTime)
		durationNanos = int64(interval)
		intervalBucket = IntervalToBucket(interval)
	}

	e.ordinal++
	jitter := e.computeJitter(ev.Timestamp, zoneTransition, intervalBucket)

	sample := Sample{
		Ordinal:        e.ordinal,
		Timestamp:      ev.Timestamp,
		DurationNanos:  durationNanos,
		Zone:           zone,
		ZoneTransition: zoneTransition,
		IntervalBucket: intervalBucket,
		JitterValue:    jitter,
	}
	sample.Hash = sample.computeHash()

	e.prevZone = zone
	e.prevTime = ev.Timestamp
	e.prevJit = jitter

	e.ring = append(e.ring, sample)
	if len(e.ring) > e.ringCap {
		e.ring = e.ring[len(e.ring)-e.ringCap:]
	}

	return &sample
}

// computeJitter is the HMAC commitment: HMAC-SHA256(key, ordinal || ts || zoneTransition || intervalBucket || prevJitter).
func (e *Engine) computeJitter(ts time.Time, zoneTransition, intervalBucket uint8) uint32 {
	h := hmac.New(sha256.New, e.key[:])
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], e.ordinal)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(ts.UnixNano()))
	h.Write(buf[:])
	h.Write([]byte{zoneTransition, intervalBucket})
	binary.BigEndian.PutUint32(buf[:4], e.prevJit)
	h.Write(buf[:4])
	return binary.BigEndian.Uint32(h.Sum(nil)[:4])
}

// Recent returns up to n of the most recently observed samples, oldest
// first. Used by the physical-context capture (C2) to fold cadence into
// the combined hash.
func (e *Engine) Recent(n int) []Sample {
	if n <= 0 || n > len(e.ring) {
		n = len(e.ring)
	}
	out := make([]Sample, n)
	copy(out, e.ring[len(e.ring)-n:])
	return out
}

// Statistics summarizes cadence over the current ring buffer. Computable in
// O(N) over the buffer, as required.
type Statistics struct {
	Count                  int                        `json:"count"`
	MeanIKINanos           float64                    `json:"mean_iki_ns"`
	StdDevIKINanos         float64                    `json:"stddev_iki_ns"`
	CoefficientOfVariation float64                    `json:"coefficient_of_variation"`
	ZoneTransitionHistogram map[uint8]uint64           `json:"zone_transition_histogram"`
	PauseBucketHistogram   [NumIntervalBuckets]uint64 `json:"pause_bucket_histogram"`
}

// Stats computes derived statistics over the ring buffer.
func (e *Engine) Stats() Statistics {
	stats := Statistics{
		Count:                   len(e.ring),
		ZoneTransitionHistogram: make(map[uint8]uint64),
	}
	if len(e.ring) == 0 {
		return stats
	}

	var sum float64
	n := 0
	for _, s := range e.ring {
		if s.DurationNanos == 0 {
			continue
		}
		sum += float64(s.DurationNanos)
		n++
		stats.ZoneTransitionHistogram[s.ZoneTransition]++
		stats.PauseBucketHistogram[s.IntervalBucket]++
	}
	if n == 0 {
		return stats
	}
	mean := sum / float64(n)
	stats.MeanIKINanos = mean

	var variance float64
	for _, s := range e.ring {
		if s.DurationNanos == 0 {
			continue
		}
		d := float64(s.DurationNanos) - mean
		variance += d * d
	}
	variance /= float64(n)
	stats.StdDevIKINanos = sqrt(variance)
	if mean > 0 {
		stats.CoefficientOfVariation = stats.StdDevIKINanos / mean
	}
	return stats
}

// Classification is the outcome of synthetic-input detection.
type Classification struct {
	Suspect bool   `json:"suspect"`
	Reason  string `json:"reason,omitempty"`
}

// Classify applies the synthetic-input detection policy from §4.3: reject as
// likely automated if the coefficient of variation across a window of at
// least MinCoVWindow samples falls below the configured floor, or if any
// observed inter-key interval is below SuperhumanIKI. The result is meant to
// be attached to the next checkpoint, never dropped silently.
func (e *Engine) Classify() Classification {
	stats := e.Stats()
	if stats.Count >= MinCoVWindow && stats.CoefficientOfVariation > 0 && stats.CoefficientOfVariation < MinCoefficientOfVariation {
		return Classification{Suspect: true, Reason: fmt.Sprintf("coefficient of variation %.4f below floor %.4f over %d samples", stats.CoefficientOfVariation, MinCoefficientOfVariation, stats.Count)}
	}
	for _, s := range e.ring {
		if s.DurationNanos > 0 && time.Duration(s.DurationNanos) < SuperhumanIKI {
			return Classification{Suspect: true, Reason: fmt.Sprintf("inter-key interval %s below superhuman threshold %s", time.Duration(s.DurationNanos), SuperhumanIKI)}
		}
	}
	return Classification{}
}

// TypingProfile captures aggregate typing characteristics for comparison
// against a previously enrolled profile.
type TypingProfile struct {
	SameFingerHist   [NumIntervalBuckets]uint32 `json:"same_finger_histogram"`
	SameHandHist     [NumIntervalBuckets]uint32 `json:"same_hand_histogram"`
	AlternatingHist  [NumIntervalBuckets]uint32 `json:"alternating_histogram"`
	HandAlternation  float64                    `json:"hand_alternation_ratio"`
	TotalTransitions uint64                     `json:"total_transitions"`
}

// Profile builds a TypingProfile from the current ring buffer.
func (e *Engine) Profile() TypingProfile {
	var p TypingProfile
	var alternating uint64
	prevZone := -1
	for _, s := range e.ring {
		if prevZone < 0 {
			prevZone = s.Zone
			continue
		}
		t := ZoneTransition{From: prevZone, To: s.Zone}
		switch {
		case t.IsSameFinger():
			p.SameFingerHist[s.IntervalBucket]++
		case t.IsSameHand():
			p.SameHandHist[s.IntervalBucket]++
		default:
			p.AlternatingHist[s.IntervalBucket]++
			alternating++
		}
		p.TotalTransitions++
		prevZone = s.Zone
	}
	if p.TotalTransitions > 0 {
		p.HandAlternation = float64(alternating) / float64(p.TotalTransitions)
	}
	return p
}

// IntervalToBucket converts a duration to an interval bucket (0..NumIntervalBuckets-1).
func IntervalToBucket(d time.Duration) uint8 {
	ms := d.Milliseconds()
	bucket := ms / IntervalBucketSize
	if bucket >= NumIntervalBuckets {
		bucket = NumIntervalBuckets - 1
	}
	if bucket < 0 {
		bucket = 0
	}
	return uint8(bucket)
}

// CompareProfiles computes a weighted cosine-similarity score between two
// typing profiles in [0, 1]; 1 is identical.
func CompareProfiles(a, b TypingProfile) float64 {
	if a.TotalTransitions == 0 || b.TotalTransitions == 0 {
		return 0
	}
	sameFinger := histogramCosineSimilarity(a.SameFingerHist[:], b.SameFingerHist[:])
	sameHand := histogramCosineSimilarity(a.SameHandHist[:], b.SameHandHist[:])
	alternating := histogramCosineSimilarity(a.AlternatingHist[:], b.AlternatingHist[:])
	handDiff := a.HandAlternation - b.HandAlternation
	if handDiff < 0 {
		handDiff = -handDiff
	}
	return 0.3*sameFinger + 0.3*sameHand + 0.3*alternating + 0.1*(1.0-handDiff)
}

func histogramCosineSimilarity(a, b []uint32) float64 {
	var dot, normA, normB float64
	for i := range a {
		fa, fb := float64(a[i]), float64(b[i])
		dot += fa * fb
		normA += fa * fa
		normB += fb * fb
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (sqrt(normA) * sqrt(normB))
}

// IsHumanPlausible runs basic consistency checks against a typing profile.
func IsHumanPlausible(p TypingProfile) bool {
	if p.TotalTransitions < 10 {
		return true
	}
	if p.HandAlternation < 0.15 || p.HandAlternation > 0.85 {
		return false
	}

	var sameFinger, total uint64
	var nonZeroBuckets int
	for i := 0; i < NumIntervalBuckets; i++ {
		bucketTotal := uint64(p.SameFingerHist[i]) + uint64(p.SameHandHist[i]) + uint64(p.AlternatingHist[i])
		total += bucketTotal
		sameFinger += uint64(p.SameFingerHist[i])
		if bucketTotal > 0 {
			nonZeroBuckets++
		}
	}
	if total == 0 {
		return true
	}
	if float64(sameFinger)/float64(total) > 0.30 {
		return false
	}
	if nonZeroBuckets < 3 && total > 100 {
		return false
	}
	return true
}

// sqrt is a small Newton-Raphson square root helper, matching this
// package's existing no-stdlib-math style for the statistics it needs.
func sqrt(x float64) float64 {
	if x <= 0 {
		return 0
	}
	z := x / 2
	for i := 0; i < 10; i++ {
		z = z - (z*z-x)/(2*z)
	}
	return z
}
