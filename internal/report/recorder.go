package report

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"gossipsim/internal/model"
	"gossipsim/internal/protocol"
	"gossipsim/internal/store"
)

var (
	evaluationsBucket = []byte("evaluations")
	summaryBucket     = []byte("summary")
	summaryKey        = []byte("run")
)

var marshal = proto.MarshalOptions{Deterministic: true}

// Summary is what a Recorder stores when the run ends.
type Summary struct {
	Sent      int
	Failed    int
	Timesteps int
	Digest    string
}

// Recorder persists evaluations as they are published and a Summary of r at
// the end of the run. Register it after r so r is complete when OnEnd fires.
// Store failures are logged and never interrupt the simulation.
type Recorder struct {
	store  store.Store
	report *Report
}

// NewRecorder returns a recorder writing to st. If st is nil, every
// notification is a no-op.
func NewRecorder(st store.Store, r *Report) *Recorder {
	return &Recorder{store: st, report: r}
}

func (rc *Recorder) OnMessage(bool, *protocol.Message) {}
func (rc *Recorder) OnTimestep(int)                    {}

func (rc *Recorder) OnEvaluation(t int, local bool, results []model.Metrics) {
	if rc.store == nil {
		return
	}
	data, err := encodeEvaluation(Evaluation{Tick: t, Local: local, Results: results})
	if err != nil {
		logger.Error("encode evaluation", "tick", t, "err", err)
		return
	}
	if _, err := rc.store.Append(evaluationsBucket, data); err != nil {
		logger.Error("persist evaluation", "tick", t, "err", err)
	}
}

func (rc *Recorder) OnEnd() {
	if rc.store == nil || rc.report == nil {
		return
	}
	sum := Summary{
		Sent:      rc.report.Sent(),
		Failed:    rc.report.Failed(),
		Timesteps: rc.report.Timesteps(),
		Digest:    rc.report.Digest(),
	}
	s, err := structpb.NewStruct(map[string]any{
		"sent":      sum.Sent,
		"failed":    sum.Failed,
		"timesteps": sum.Timesteps,
		"digest":    sum.Digest,
	})
	if err != nil {
		logger.Error("encode summary", "err", err)
		return
	}
	data, err := marshal.Marshal(s)
	if err != nil {
		logger.Error("marshal summary", "err", err)
		return
	}
	if err := rc.store.Put(summaryBucket, summaryKey, data); err != nil {
		logger.Error("persist summary", "err", err)
		return
	}
	logger.Info("results recorded", "sent", sum.Sent, "failed", sum.Failed, "digest", sum.Digest)
}

func encodeEvaluation(ev Evaluation) ([]byte, error) {
	results := make([]any, len(ev.Results))
	for i, m := range ev.Results {
		fields := make(map[string]any, len(m))
		for k, v := range m {
			fields[k] = v
		}
		results[i] = fields
	}
	s, err := structpb.NewStruct(map[string]any{
		"tick":    ev.Tick,
		"local":   ev.Local,
		"results": results,
	})
	if err != nil {
		return nil, err
	}
	return marshal.Marshal(s)
}

func decodeEvaluation(data []byte) (Evaluation, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return Evaluation{}, err
	}
	f := s.GetFields()
	ev := Evaluation{
		Tick:  int(f["tick"].GetNumberValue()),
		Local: f["local"].GetBoolValue(),
	}
	for _, v := range f["results"].GetListValue().GetValues() {
		m := model.Metrics{}
		for k, x := range v.GetStructValue().GetFields() {
			m[k] = x.GetNumberValue()
		}
		ev.Results = append(ev.Results, m)
	}
	return ev, nil
}

// Reset removes any previously recorded run from st, so a results file only
// ever describes one run.
func Reset(st store.Store) error {
	for _, b := range [][]byte{evaluationsBucket, summaryBucket} {
		if err := st.DeleteBucket(b); err != nil {
			return fmt.Errorf("clearing %s: %w", b, err)
		}
	}
	return nil
}

// LoadEvaluations reads every recorded evaluation back in recording order.
// Corrupt records are skipped with a warning.
func LoadEvaluations(st store.Store) ([]Evaluation, error) {
	var out []Evaluation
	err := st.ForEach(evaluationsBucket, func(key, value []byte) error {
		ev, err := decodeEvaluation(value)
		if err != nil {
			logger.Warn("skipping corrupt evaluation record", "key", fmt.Sprintf("%x", key), "err", err)
			return nil
		}
		out = append(out, ev)
		return nil
	})
	return out, err
}

var ErrNoSummary = errors.New("no run summary recorded")

// LoadSummary reads the summary written at the end of a recorded run.
func LoadSummary(st store.Store) (Summary, error) {
	data, err := st.Get(summaryBucket, summaryKey)
	if err != nil {
		return Summary{}, err
	}
	if data == nil {
		return Summary{}, ErrNoSummary
	}
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return Summary{}, fmt.Errorf("decoding summary: %w", err)
	}
	f := s.GetFields()
	return Summary{
		Sent:      int(f["sent"].GetNumberValue()),
		Failed:    int(f["failed"].GetNumberValue()),
		Timesteps: int(f["timesteps"].GetNumberValue()),
		Digest:    f["digest"].GetStringValue(),
	}, nil
}
