package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aaronlmathis/servicedw/core"
	"github.com/aaronlmathis/servicedw/kpi"
)

func TestExecute_Usage(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code int
	}{
		{"no command", nil, 2},
		{"unknown command", []string{"explode"}, 2},
		{"help", []string{"help"}, 0},
		{"bad format", []string{"kpi", "-format", "xml"}, 2},
		{"csv without name", []string{"kpi", "-format", "csv"}, 2},
		{"unknown kpi", []string{"kpi", "-name", "nope"}, 2},
		{"bad flag", []string{"clean", "-nope"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			assert.Equal(t, tt.code, execute(context.Background(), tt.args, &stdout, &stderr))
		})
	}
}

func TestExecute_ListCatalog(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), []string{"kpi", "-list"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	var defs []kpi.Definition
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &defs))
	assert.Len(t, defs, len(kpi.Names()))
}

type bufferCloser struct {
	bytes.Buffer
	closed bool
}

func (b *bufferCloser) Close() error {
	b.closed = true
	return nil
}

func TestExport(t *testing.T) {
	records := []core.Record{
		{"region": "Kara", "taux_absorption_pct": 50.0},
		{"region": "Maritime", "taux_absorption_pct": nil},
	}

	t.Run("csv", func(t *testing.T) {
		w := &bufferCloser{}
		sink, err := streamSink(w, "csv")
		require.NoError(t, err)
		require.NoError(t, export(context.Background(), sink, records))
		assert.True(t, w.closed)
		lines := strings.Split(strings.TrimSpace(w.String()), "\n")
		require.Len(t, lines, 3)
		assert.Equal(t, "region,taux_absorption_pct", lines[0])
		assert.True(t, strings.HasPrefix(lines[1], "Kara,50"))
	})

	t.Run("json lines", func(t *testing.T) {
		w := &bufferCloser{}
		sink, err := streamSink(w, "json")
		require.NoError(t, err)
		require.NoError(t, export(context.Background(), sink, records))
		assert.True(t, w.closed)
		lines := strings.Split(strings.TrimSpace(w.String()), "\n")
		require.Len(t, lines, 2)
		var row map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &row))
		assert.Equal(t, "Kara", row["region"])
	})
}

func TestOpenSink_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "absorption.csv")
	sink, err := openSink(context.Background(), nil, zap.NewNop(), path, "csv", nil)
	require.NoError(t, err)
	require.NoError(t, export(context.Background(), sink, []core.Record{{"region": "Kara"}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "region\nKara\n", string(data))
}

func TestFlatten(t *testing.T) {
	all := map[string][]core.Record{
		kpi.Rejet:      {{"taux_rejet_global_pct": 10.0}},
		kpi.DelaiMoyen: {{"delai_moyen_jours": 4.0}},
	}
	rows := flatten(all)

	require.Len(t, rows, 2)
	assert.Equal(t, kpi.DelaiMoyen, rows[0]["kpi"])
	assert.Equal(t, kpi.Rejet, rows[1]["kpi"])
	_, tagged := all[kpi.Rejet][0]["kpi"]
	assert.False(t, tagged)
}
