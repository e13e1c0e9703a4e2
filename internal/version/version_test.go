package version

import (
	"bytes"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_Defaults(t *testing.T) {
	ResetBuildVars()

	info := Get()

	assert.Equal(t, DefaultVersion, info.Version)
	assert.Equal(t, DefaultCommit, info.Commit)
	assert.Equal(t, DefaultBuildTime, info.BuildTime)
	assert.True(t, info.IsDevelopment())
	assert.True(t, info.BuiltAt().IsZero())
}

func TestInfo_Write(t *testing.T) {
	info := Info{
		Version:   "v1.2.3",
		Commit:    "abc123",
		BuildTime: "2026-03-01T10:00:00Z",
		Module:    "docpipeline",
		GoVersion: "go1.24.6",
	}

	tests := []struct {
		name  string
		info  Info
		short bool
		want  string
	}{
		{
			name:  "short",
			info:  info,
			short: true,
			want:  "v1.2.3\n",
		},
		{
			name: "full",
			info: info,
			want: "DocPipeline\nVersion: v1.2.3\nCommit: abc123\nBuilt: 2026-03-01T10:00:00Z\n" +
				"Module: docpipeline\nGo: go1.24.6\n",
		},
		{
			name: "module omitted when unknown",
			info: Info{Version: "dev", Commit: "unknown", BuildTime: "unknown", GoVersion: "go1.24.6"},
			want: "DocPipeline\nVersion: dev\nCommit: unknown\nBuilt: unknown\nGo: go1.24.6\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, tt.info.Write(&buf, tt.short))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestGet_InjectedValuesWin(t *testing.T) {
	SetBuildVars("v1.2.3", "abc123", "2026-03-01T10:00:00Z")
	defer ResetBuildVars()

	info := Get()

	assert.Equal(t, "v1.2.3", info.Version)
	assert.Equal(t, "abc123", info.Commit)
	assert.Equal(t, "2026-03-01T10:00:00Z", info.BuildTime)
	assert.Equal(t, runtime.Version(), info.GoVersion)
}

func TestInfo_BuiltAt(t *testing.T) {
	tests := []struct {
		buildTime string
		want      time.Time
	}{
		{"2026-03-01T10:00:00Z", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
		{"2026-03-01 10:00:00", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
		{"2026-03-01", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"yesterday", time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.buildTime, func(t *testing.T) {
			info := Info{BuildTime: tt.buildTime}
			assert.True(t, tt.want.Equal(info.BuiltAt()), "got %v", info.BuiltAt())
		})
	}
}
