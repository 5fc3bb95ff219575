package clipboard

import (
	"bytes"
	"context"
	"encoding/hex"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"go.klb.dev/clipcache/internal/format"
	"go.klb.dev/clipcache/internal/locale"
	"go.klb.dev/clipcache/internal/marshal"
	"go.klb.dev/clipcache/internal/store"
)

// scenario is one multi-process script run against a fresh store.
type scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Steps       []step `yaml:"steps"`
}

type step struct {
	Proc   string `yaml:"proc"`
	Op     string `yaml:"op"`
	Format string `yaml:"format,omitempty"`

	// Input for put: text is encoded for the format's category, hex is raw.
	Text string `yaml:"text,omitempty"`
	Hex  string `yaml:"hex,omitempty"`

	WantText    string   `yaml:"want_text,omitempty"`
	WantHex     string   `yaml:"want_hex,omitempty"`
	WantErr     string   `yaml:"want_err,omitempty"`
	WantFormats []string `yaml:"want_formats,omitempty"`
	WantCached  *bool    `yaml:"want_cached,omitempty"`
}

func loadScenarios(t *testing.T, path string) []scenario {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var out []scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	require.NoError(t, dec.Decode(&out))
	require.NotEmpty(t, out)
	return out
}

func TestScenarios(t *testing.T) {
	for _, sc := range loadScenarios(t, "testdata/scenarios.yaml") {
		t.Run(sc.Name, func(t *testing.T) {
			s := store.New(nil)
			procs := map[string]*proc{}
			for i, st := range sc.Steps {
				p, ok := procs[st.Proc]
				if !ok {
					p = newProc(t, s, st.Proc)
					procs[st.Proc] = p
				}
				runStep(t, i, p, st)
			}
		})
	}
}

func lookupFormat(t *testing.T, name string) format.ID {
	t.Helper()
	if id, ok := format.Default.Lookup(name); ok {
		return id
	}
	id, err := format.Default.Register(name)
	require.NoError(t, err)
	return id
}

func encodeText(t *testing.T, f format.ID, s string) []byte {
	t.Helper()
	switch format.CategoryOf(f) {
	case format.CategoryUnicodeText:
		return locale.EncodeUTF16(s)
	case format.CategoryText:
		cp := locale.Default.ANSICodePage()
		if f == format.OEMText {
			cp = locale.Default.OEMCodePage()
		}
		b, err := locale.Encode(cp, s)
		require.NoError(t, err)
		return b
	}
	return []byte(s)
}

func decodeText(t *testing.T, f format.ID, b []byte) string {
	t.Helper()
	switch format.CategoryOf(f) {
	case format.CategoryUnicodeText:
		s, err := locale.DecodeUTF16(marshal.TrimUnicode(b))
		require.NoError(t, err)
		return s
	case format.CategoryText:
		cp := locale.Default.ANSICodePage()
		if f == format.OEMText {
			cp = locale.Default.OEMCodePage()
		}
		s, err := locale.Decode(cp, marshal.TrimText(b))
		require.NoError(t, err)
		return s
	}
	return string(b)
}

var wantErrs = map[string]error{
	"not_found":   ErrNotFound,
	"open_denied": ErrOpenDenied,
	"authority":   ErrAuthority,
}

func checkErr(t *testing.T, i int, want string, err error) bool {
	t.Helper()
	if want == "" {
		require.NoError(t, err, "step %d", i)
		return true
	}
	target, ok := wantErrs[want]
	require.True(t, ok, "step %d: unknown want_err %q", i, want)
	assert.ErrorIs(t, err, target, "step %d", i)
	return false
}

func runStep(t *testing.T, i int, p *proc, st step) {
	t.Helper()
	ctx := context.Background()
	var f format.ID
	if st.Format != "" {
		f = lookupFormat(t, st.Format)
	}

	switch st.Op {
	case "open":
		checkErr(t, i, st.WantErr, p.cb.Open(ctx))
	case "close":
		checkErr(t, i, st.WantErr, p.cb.Close(ctx))
	case "empty":
		checkErr(t, i, st.WantErr, p.cb.Empty(ctx))
	case "put":
		data := encodeText(t, f, st.Text)
		if st.Hex != "" {
			var err error
			data, err = hex.DecodeString(st.Hex)
			require.NoError(t, err)
		}
		_, err := p.cb.Import(ctx, f, data)
		checkErr(t, i, st.WantErr, err)
	case "get":
		got, err := p.cb.Export(ctx, f)
		if !checkErr(t, i, st.WantErr, err) {
			return
		}
		if st.WantHex != "" {
			assert.Equal(t, st.WantHex, hex.EncodeToString(got), "step %d", i)
		}
		if st.WantText != "" {
			assert.Equal(t, st.WantText, decodeText(t, f, got), "step %d", i)
		}
	case "formats":
		formats, err := p.cb.Formats(ctx)
		require.NoError(t, err, "step %d", i)
		names := make([]string, 0, len(formats))
		for _, g := range formats {
			names = append(names, format.Default.Name(g))
		}
		want := st.WantFormats
		if want == nil {
			want = []string{}
		}
		assert.Equal(t, want, names, "step %d", i)
	case "cached":
		require.NotNil(t, st.WantCached, "step %d", i)
		assert.Equal(t, *st.WantCached, p.cb.Cached(f), "step %d", i)
	default:
		t.Fatalf("step %d: unknown op %q", i, st.Op)
	}
}
