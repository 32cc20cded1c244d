package servicedw

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aaronlmathis/servicedw/core"
)

type sliceSource struct {
	records []core.Record
	pos     int
	closed  bool
}

func (s *sliceSource) Read(ctx context.Context) (core.Record, error) {
	if s.pos >= len(s.records) {
		return nil, io.EOF
	}
	r := s.records[s.pos]
	s.pos++
	return r, nil
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

type sliceSink struct {
	records  []core.Record
	flushed  bool
	closed   bool
	writeErr error
}

func (s *sliceSink) Write(ctx context.Context, r core.Record) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	s.records = append(s.records, r)
	return nil
}

func (s *sliceSink) Flush() error {
	s.flushed = true
	return nil
}

func (s *sliceSink) Close() error {
	s.closed = true
	return nil
}

func regions(names ...string) []core.Record {
	out := make([]core.Record, 0, len(names))
	for _, n := range names {
		out = append(out, core.Record{"region": n})
	}
	return out
}

func TestPipeline_Streaming(t *testing.T) {
	src := &sliceSource{records: regions(" kara ", "maritime", "")}
	sink := &sliceSink{}

	p, err := NewPipeline().
		From(src).
		Map(func(ctx context.Context, r core.Record) (core.Record, error) {
			r["region"] = strings.TrimSpace(r.String("region"))
			return r, nil
		}).
		Where(func(ctx context.Context, r core.Record) (bool, error) {
			return r.String("region") != "", nil
		}).
		To(sink).
		WithLogger(zap.NewNop()).
		Build()
	require.NoError(t, err)

	stats, err := p.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.RecordsRead)
	assert.Equal(t, int64(1), stats.RecordsFiltered)
	assert.Equal(t, int64(2), stats.RecordsWritten)
	assert.Equal(t, "kara", sink.records[0]["region"])
	assert.True(t, sink.flushed)
	assert.True(t, src.closed)
	assert.True(t, sink.closed)
}

func TestPipeline_BatchStage(t *testing.T) {
	src := &sliceSource{records: regions("Kara", "Kara", "Savanes")}
	sink := &sliceSink{}
	dedupe := core.BatchFunc(func(ctx context.Context, recs []core.Record) ([]core.Record, error) {
		seen := map[string]bool{}
		var out []core.Record
		for _, r := range recs {
			if !seen[r.String("region")] {
				seen[r.String("region")] = true
				out = append(out, r)
			}
		}
		return out, nil
	})

	p, err := NewPipeline().From(src).Batch(dedupe).To(sink).WithLogger(zap.NewNop()).Build()
	require.NoError(t, err)

	stats, err := p.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.RecordsRead)
	assert.Equal(t, int64(2), stats.RecordsWritten)
	assert.Len(t, sink.records, 2)
}

func TestPipeline_ErrorStrategies(t *testing.T) {
	boom := errors.New("bad record")
	failOnSavanes := func(ctx context.Context, r core.Record) (core.Record, error) {
		if r.String("region") == "Savanes" {
			return nil, boom
		}
		return r, nil
	}

	t.Run("fail fast", func(t *testing.T) {
		p, err := NewPipeline().
			From(&sliceSource{records: regions("Kara", "Savanes", "Plateaux")}).
			Map(failOnSavanes).
			To(&sliceSink{}).
			WithLogger(zap.NewNop()).
			Build()
		require.NoError(t, err)
		_, err = p.Execute(context.Background())
		assert.ErrorIs(t, err, boom)
	})

	t.Run("skip", func(t *testing.T) {
		sink := &sliceSink{}
		p, err := NewPipeline().
			From(&sliceSource{records: regions("Kara", "Savanes", "Plateaux")}).
			Map(failOnSavanes).
			To(sink).
			WithErrorStrategy(core.SkipErrors).
			WithLogger(zap.NewNop()).
			Build()
		require.NoError(t, err)
		stats, err := p.Execute(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.RecordsWritten)
		assert.Empty(t, stats.Errors)
	})

	t.Run("collect", func(t *testing.T) {
		var handled int
		p, err := NewPipeline().
			From(&sliceSource{records: regions("Savanes", "Kara", "Savanes")}).
			Map(failOnSavanes).
			To(&sliceSink{}).
			WithErrorStrategy(core.CollectErrors).
			WithErrorHandler(core.ErrorHandlerFunc(func(ctx context.Context, r core.Record, err error) error {
				handled++
				return nil
			})).
			WithLogger(zap.NewNop()).
			Build()
		require.NoError(t, err)
		stats, err := p.Execute(context.Background())
		require.NoError(t, err)
		assert.Len(t, stats.Errors, 2)
		assert.Equal(t, 2, handled)
		assert.Equal(t, int64(1), stats.RecordsWritten)
	})
}

func TestPipeline_BuildRequiresEnds(t *testing.T) {
	_, err := NewPipeline().To(&sliceSink{}).Build()
	assert.Error(t, err)
	_, err = NewPipeline().From(&sliceSource{}).Build()
	assert.Error(t, err)
}

func TestPipeline_SinkFailure(t *testing.T) {
	sink := &sliceSink{writeErr: errors.New("disk full")}
	p, err := NewPipeline().From(&sliceSource{records: regions("Kara")}).To(sink).WithLogger(zap.NewNop()).Build()
	require.NoError(t, err)

	_, err = p.Execute(context.Background())
	assert.EqualError(t, err, "disk full")
	assert.True(t, sink.closed)
}
