package report

import (
	"encoding/binary"
	"encoding/hex"
	"hash"
	"math"
	"slices"
	"sync"

	"golang.org/x/crypto/blake2b"

	"gossipsim/internal/logging"
	"gossipsim/internal/model"
	"gossipsim/internal/protocol"
)

var logger = logging.For("report")

// Evaluation is one published batch of per-node metrics.
type Evaluation struct {
	Tick    int
	Local   bool
	Results []model.Metrics
}

// Point is the per-metric mean of one evaluation.
type Point struct {
	Tick int
	Mean model.Metrics
}

// Report is an in-memory observer. It counts messages, keeps every
// evaluation and folds each notification into a running BLAKE2b-256 digest,
// so two runs that notify identically have identical digests.
type Report struct {
	mu        sync.Mutex
	sent      int
	failed    int
	local     []Evaluation
	global    []Evaluation
	timesteps int
	ended     bool
	digest    hash.Hash
}

// New returns an empty report.
func New() *Report {
	h, err := blake2b.New256(nil)
	if err != nil {
		// Only a key longer than 64 bytes makes New256 fail.
		panic(err)
	}
	return &Report{digest: h}
}

const (
	tagMessage uint64 = iota + 1
	tagEvaluation
	tagTimestep
	tagEnd
)

func (r *Report) OnMessage(failed bool, msg *protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if failed {
		r.failed++
	} else {
		r.sent++
	}
	r.write(tagMessage, boolInt(failed))
	if msg != nil {
		r.write(uint64(msg.Tick), uint64(msg.Sender), uint64(msg.Receiver), uint64(msg.Kind), uint64(msg.Size))
	}
}

func (r *Report) OnEvaluation(t int, local bool, results []model.Metrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev := Evaluation{Tick: t, Local: local, Results: results}
	if local {
		r.local = append(r.local, ev)
	} else {
		r.global = append(r.global, ev)
	}
	r.write(tagEvaluation, uint64(t), boolInt(local), uint64(len(results)))
	for _, m := range results {
		r.writeMetrics(m)
	}
}

func (r *Report) OnTimestep(t int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timesteps++
	r.write(tagTimestep, uint64(t))
}

func (r *Report) OnEnd() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = true
	r.write(tagEnd)
}

// write feeds a fixed-width big-endian encoding of vals to the digest.
func (r *Report) write(vals ...uint64) {
	var buf [8]byte
	for _, v := range vals {
		binary.BigEndian.PutUint64(buf[:], v)
		r.digest.Write(buf[:])
	}
}

func (r *Report) writeMetrics(m model.Metrics) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	r.write(uint64(len(keys)))
	for _, k := range keys {
		r.write(uint64(len(k)))
		r.digest.Write([]byte(k))
		r.write(math.Float64bits(m[k]))
	}
}

func boolInt(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// Sent returns the number of successful notifications: send attempts and
// delivered replies.
func (r *Report) Sent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent
}

// Failed returns the number of dropped or undeliverable messages.
func (r *Report) Failed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

func (r *Report) Timesteps() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timesteps
}

func (r *Report) Ended() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ended
}

// Evaluations returns the local or global evaluations in tick order.
func (r *Report) Evaluations(local bool) []Evaluation {
	r.mu.Lock()
	defer r.mu.Unlock()
	if local {
		return slices.Clone(r.local)
	}
	return slices.Clone(r.global)
}

// Curve returns the mean of every metric at each evaluation tick.
func (r *Report) Curve(local bool) []Point {
	evs := r.Evaluations(local)
	out := make([]Point, 0, len(evs))
	for _, ev := range evs {
		out = append(out, Point{Tick: ev.Tick, Mean: Mean(ev.Results)})
	}
	return out
}

// Final returns the last point of Curve, if any.
func (r *Report) Final(local bool) (Point, bool) {
	curve := r.Curve(local)
	if len(curve) == 0 {
		return Point{}, false
	}
	return curve[len(curve)-1], true
}

// Digest returns the hex BLAKE2b-256 digest of every notification so far.
func (r *Report) Digest() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return hex.EncodeToString(r.digest.Sum(nil))
}

// Mean averages each metric over the results that report it.
func Mean(results []model.Metrics) model.Metrics {
	sum := model.Metrics{}
	count := map[string]int{}
	for _, m := range results {
		for k, v := range m {
			sum[k] += v
			count[k]++
		}
	}
	for k := range sum {
		sum[k] /= float64(count[k])
	}
	return sum
}
